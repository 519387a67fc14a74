// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/portfolio-valuator/internal/logging"
	"github.com/portfolio-valuator/internal/metrics"
	"github.com/portfolio-valuator/internal/registry"
	"github.com/portfolio-valuator/internal/types"
)

// Service interfaces for dependency injection and testing

// PortfolioEngine builds snapshots, positions and history for a wallet
type PortfolioEngine interface {
	BuildSnapshot(ctx context.Context, wallet string, asOf *time.Time) (*types.PortfolioSnapshot, error)
	Positions(ctx context.Context, wallet string) ([]types.Position, types.DeFiMetrics, error)
	History(ctx context.Context, wallet string, days int) (*types.BalanceHistory, error)
}

// PriceService prices a batch of assets
type PriceService interface {
	ResolvePrices(ctx context.Context, ids []types.AssetIdentifier, meta map[types.AssetIdentifier]types.AssetMetadata) map[types.AssetIdentifier]types.PriceResult
}

// AssetClassifier classifies a single asset
type AssetClassifier interface {
	Classify(id types.AssetIdentifier, meta types.AssetMetadata) types.Classification
}

// HealthCheck reports whether one dependency is usable
type HealthCheck func(ctx context.Context) error

// Dependencies are the services the API serves. Metrics, Gatherer and
// HealthChecks are optional.
type Dependencies struct {
	Engine       PortfolioEngine
	Prices       PriceService
	Classifier   AssetClassifier
	Registry     *registry.Registry
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	HealthChecks map[string]HealthCheck
	Logger       *logging.Logger
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	deps       Dependencies
	logger     *logging.Logger
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// RequestsPerMinute and Burst bound each client; 0 disables limiting
	RequestsPerMinute int
	Burst             int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		logger: logger.Named("api"),
		config: config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware)
	s.router.Use(MetricsMiddleware(s.deps.Metrics))
	if s.config.RequestsPerMinute > 0 {
		s.router.Use(RateLimitMiddleware(NewRateLimiter(s.config.RequestsPerMinute, s.config.Burst)))
	}

	s.setupRoutes()

	// CORS wraps the router so preflights are answered before route matching
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      CORSMiddleware(s.router),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.deps.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	api := s.router.PathPrefix("/api").Subrouter()

	// Wallet endpoints
	api.HandleFunc("/wallets/{address}/portfolio", s.handleGetPortfolio).Methods("GET")
	api.HandleFunc("/wallets/{address}/positions", s.handleGetPositions).Methods("GET")
	api.HandleFunc("/wallets/{address}/history", s.handleGetHistory).Methods("GET")

	// Asset endpoints
	api.HandleFunc("/prices", s.handleResolvePrices).Methods("POST")
	api.HandleFunc("/assets/classify", s.handleClassifyAssets).Methods("POST")

	// Registry
	api.HandleFunc("/protocols", s.handleListProtocols).Methods("GET")
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
