// Package app wires configuration, stores, upstream clients and services
// into a runnable portfolio engine shared by the server and CLI binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"

	"github.com/portfolio-valuator/internal/adapter"
	"github.com/portfolio-valuator/internal/api"
	"github.com/portfolio-valuator/internal/circuitbreaker"
	"github.com/portfolio-valuator/internal/config"
	"github.com/portfolio-valuator/internal/logging"
	"github.com/portfolio-valuator/internal/metrics"
	"github.com/portfolio-valuator/internal/ratelimit"
	"github.com/portfolio-valuator/internal/registry"
	"github.com/portfolio-valuator/internal/retry"
	"github.com/portfolio-valuator/internal/service"
	"github.com/portfolio-valuator/internal/storage"
)

// Options select which stores New connects to
type Options struct {
	// Cache connects Redis for the snapshot cache and request budget
	Cache bool
	// History connects ClickHouse to persist rebuilt balance history
	History bool
	// RegistryDB connects Postgres for stored protocols. Unlike the
	// other stores a failure here is fatal.
	RegistryDB bool
}

// App holds the wired engine and everything that must be closed with it
type App struct {
	Config   *config.Config
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Registry *registry.Registry

	Engine     *service.PortfolioService
	Prices     *service.PriceResolver
	Classifier *service.AssetClassifier
	Node       *adapter.NodeClient
	Budget     *ratelimit.BudgetTracker

	Redis      *storage.RedisCache
	Cache      *storage.CacheService
	ClickHouse *storage.ClickHouseDB
	History    *storage.BalanceSnapshotRepository
	Postgres   *storage.PostgresDB
	Protocols  *storage.ProtocolRepository

	closers []func() error
}

// New connects the selected stores and builds the engine. Optional stores
// that cannot be reached are logged and left nil.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := logging.GetGlobalLogger()
	a := &App{Config: cfg, Logger: logger}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(promReg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	a.Metrics = m
	a.Gatherer = promReg

	if err := a.loadRegistry(ctx, opts.RegistryDB); err != nil {
		a.Close()
		return nil, err
	}

	if opts.Cache {
		a.connectRedis(ctx)
	}
	if opts.History {
		a.connectClickHouse(ctx)
	}

	if err := a.buildEngine(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) loadRegistry(ctx context.Context, fromDB bool) error {
	reg, err := registry.Load(a.Config.Registry.Path)
	if err != nil {
		return fmt.Errorf("failed to load protocol registry: %w", err)
	}

	if fromDB {
		pg, err := storage.NewPostgresDB(ctx, a.Config.Database.Postgres)
		if err != nil {
			return fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		a.Postgres = pg
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
		a.Protocols = storage.NewProtocolRepository(pg)

		reg, err = a.Protocols.ExtendRegistry(ctx, reg)
		if err != nil {
			return fmt.Errorf("failed to extend registry from Postgres: %w", err)
		}
	}

	a.Registry = reg
	a.Logger.WithFields(map[string]interface{}{
		"version":   reg.Version(),
		"protocols": len(reg.Protocols()),
	}).Info("protocol registry loaded")
	return nil
}

func (a *App) connectRedis(ctx context.Context) {
	rc, err := storage.NewRedisCache(ctx, a.Config.Database.Redis)
	if err != nil {
		a.Logger.WithError(err).Warn("Redis unavailable, snapshot cache and request budget disabled")
		return
	}
	a.Redis = rc
	a.closers = append(a.closers, rc.Close)

	if a.Config.Cache.Enabled {
		a.Cache = storage.NewCacheService(rc, a.Config.Cache.SnapshotTTL)
	}

	budget, err := ratelimit.NewBudgetTracker(&ratelimit.BudgetTrackerConfig{
		Redis:          rc.Client(),
		TotalBudget:    a.Config.Indexer.BudgetTotal,
		ReservedBudget: a.Config.Indexer.BudgetReserved,
	})
	if err != nil {
		a.Logger.WithError(err).Warn("invalid request budget, continuing without one")
		return
	}
	a.Budget = budget
}

func (a *App) connectClickHouse(ctx context.Context) {
	ch, err := storage.NewClickHouseDB(ctx, a.Config.Database.ClickHouse)
	if err != nil {
		a.Logger.WithError(err).Warn("ClickHouse unavailable, history will not be persisted")
		return
	}
	if err := storage.RunClickHouseMigrations(ctx, ch); err != nil {
		a.Logger.WithError(err).Warn("ClickHouse migrations failed, history will not be persisted")
		_ = ch.Close()
		return
	}
	a.ClickHouse = ch
	a.closers = append(a.closers, ch.Close)
	a.History = storage.NewBalanceSnapshotRepository(ch)
}

func (a *App) buildEngine() error {
	cfg := a.Config
	shared := adapter.Shared{
		HTTP: &fasthttp.Client{
			Name:                "portfolio-valuator",
			MaxConnsPerHost:     64,
			MaxIdleConnDuration: 30 * time.Second,
		},
		Budget:   a.Budget,
		Breakers: circuitbreaker.NewManager(adapter.BreakerDefaults(a.Metrics, a.Logger)),
		Metrics:  a.Metrics,
		Retry:    retry.DefaultRetryConfig(),
		Logger:   a.Logger,
	}

	indexer := adapter.NewIndexerClient(cfg.Indexer, shared)
	node, err := adapter.NewNodeClient(cfg.Indexer, shared)
	if err != nil {
		return err
	}
	a.Node = node
	catalog := adapter.NewCatalogClient(cfg.Pricing, cfg.Cache.CatalogTTL, shared)
	quotes := adapter.NewQuoteClient(cfg.Pricing, shared)

	a.Classifier = service.NewAssetClassifier(a.Registry)
	a.Prices = service.NewPriceResolver(a.Registry, catalog, quotes, a.Metrics)
	checker := service.NewPositionChecker(a.Registry, node, node, a.Metrics)
	scanner := service.NewDeFiDetector(a.Registry, node, a.Metrics)

	// nil pointers must not become non-nil interfaces
	var snapshots service.SnapshotCache
	if a.Cache != nil {
		snapshots = a.Cache
	}
	var history service.HistoryStore
	if a.History != nil {
		history = a.History
	}

	a.Engine = service.NewPortfolioService(
		a.Registry, indexer, indexer, checker, scanner, a.Classifier, a.Prices,
		snapshots, history, a.Metrics,
		service.PortfolioConfig{
			BranchTimeout:    cfg.Engine.BranchTimeout,
			DustThresholdUSD: decimal.NewFromFloat(cfg.Engine.DustThresholdUSD),
			HistoryDays:      cfg.Engine.HistoryDays,
		},
	)
	return nil
}

// HealthChecks returns a check per connected dependency
func (a *App) HealthChecks() map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{
		"node": func(ctx context.Context) error {
			if h := a.Node.Health(); !h.IsHealthy {
				return fmt.Errorf("node endpoint %s unhealthy: %d consecutive failures", h.CurrentURL, h.ConsecutiveFails)
			}
			return nil
		},
	}
	if a.Redis != nil {
		checks["redis"] = a.Redis.Ping
	}
	if a.ClickHouse != nil {
		checks["clickhouse"] = a.ClickHouse.Ping
	}
	if a.Postgres != nil {
		checks["postgres"] = a.Postgres.Ping
	}
	return checks
}

// APIDependencies returns what the HTTP server needs from the app
func (a *App) APIDependencies() api.Dependencies {
	return api.Dependencies{
		Engine:       a.Engine,
		Prices:       a.Prices,
		Classifier:   a.Classifier,
		Registry:     a.Registry,
		Metrics:      a.Metrics,
		Gatherer:     a.Gatherer,
		HealthChecks: a.HealthChecks(),
		Logger:       a.Logger,
	}
}

// Close releases stores in reverse connection order
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.WithError(err).Warn("error closing store")
		}
	}
	a.closers = nil
}
