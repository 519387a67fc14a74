package service

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/portfolio-valuator/internal/errors"
	"github.com/portfolio-valuator/internal/logging"
	"github.com/portfolio-valuator/internal/metrics"
	"github.com/portfolio-valuator/internal/ratelimit"
	"github.com/portfolio-valuator/internal/registry"
	"github.com/portfolio-valuator/internal/types"
)

// Fan-out branch names, as reported in PortfolioSnapshot.Degraded
const (
	BranchBalances   = "balances"
	BranchPositions  = "positions"
	BranchActivities = "activities"
	BranchScanner    = "scanner"
)

const maxHistoryDays = 365

// Dependency interfaces

// BalanceSource returns a wallet's current balances across both asset standards
type BalanceSource interface {
	Balances(ctx context.Context, wallet string) ([]types.RawBalance, error)
}

// ActivitySource returns a wallet's successful and failed activities after since
type ActivitySource interface {
	Activities(ctx context.Context, wallet string, since time.Time) ([]types.ActivityEvent, error)
}

// SnapshotCache stores finished snapshots keyed by (wallet, asOf, inputs version)
type SnapshotCache interface {
	GetSnapshot(ctx context.Context, wallet, asOf, version string) (*types.PortfolioSnapshot, bool, error)
	SetSnapshot(ctx context.Context, wallet, asOf, version string, snap *types.PortfolioSnapshot) error
}

// HistoryStore persists reconstructed balance series
type HistoryStore interface {
	SaveSeries(ctx context.Context, wallet string, series []types.BalanceSnapshot) error
}

// PortfolioConfig tunes snapshot construction
type PortfolioConfig struct {
	BranchTimeout    time.Duration
	DustThresholdUSD decimal.Decimal
	HistoryDays      int
}

// DefaultPortfolioConfig returns the production defaults
func DefaultPortfolioConfig() PortfolioConfig {
	return PortfolioConfig{
		BranchTimeout:    10 * time.Second,
		DustThresholdUSD: decimal.RequireFromString("0.1"),
		HistoryDays:      30,
	}
}

// PortfolioService builds priced, deduplicated portfolio snapshots
type PortfolioService struct {
	registry   *registry.Registry
	balances   BalanceSource
	activities ActivitySource
	checker    *PositionChecker
	scanner    *DeFiDetector
	classifier *AssetClassifier
	prices     *PriceResolver
	cache      SnapshotCache
	history    HistoryStore
	metrics    *metrics.Metrics
	config     PortfolioConfig
	now        func() time.Time
}

// NewPortfolioService creates the orchestrator. cache, history and m may be nil.
func NewPortfolioService(
	reg *registry.Registry,
	balances BalanceSource,
	activities ActivitySource,
	checker *PositionChecker,
	scanner *DeFiDetector,
	classifier *AssetClassifier,
	prices *PriceResolver,
	cache SnapshotCache,
	history HistoryStore,
	m *metrics.Metrics,
	config PortfolioConfig,
) *PortfolioService {
	if config.BranchTimeout <= 0 {
		config.BranchTimeout = DefaultPortfolioConfig().BranchTimeout
	}
	if config.HistoryDays <= 0 {
		config.HistoryDays = DefaultPortfolioConfig().HistoryDays
	}
	return &PortfolioService{
		registry:   reg,
		balances:   balances,
		activities: activities,
		checker:    checker,
		scanner:    scanner,
		classifier: classifier,
		prices:     prices,
		cache:      cache,
		history:    history,
		metrics:    m,
		config:     config,
		now:        time.Now,
	}
}

// degradation collects the branches that failed during one build
type degradation struct {
	mu       sync.Mutex
	branches []string
}

func (d *degradation) add(branch string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.branches = append(d.branches, branch)
}

func (d *degradation) list() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := append([]string(nil), d.branches...)
	sort.Strings(out)
	return out
}

// runBranch runs fn under its own timeout. A failure is logged, counted and
// recorded; it never fails the caller.
func (s *PortfolioService) runBranch(ctx context.Context, name string, deg *degradation, fn func(ctx context.Context) error) {
	start := time.Now()
	bctx, cancel := context.WithTimeout(ctx, s.config.BranchTimeout)
	defer cancel()

	err := fn(bctx)
	s.metrics.ObserveBranch(name, time.Since(start).Seconds(), err != nil)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("branch", name).Warn("snapshot branch degraded")
		deg.add(name)
	}
}

// validateWallet fails fast on malformed input and returns the padded form
func validateWallet(wallet string) (string, error) {
	long, err := types.NormalizeAddress(wallet)
	if err != nil {
		return "", errors.NewInvalidAddressError(wallet)
	}
	return long, nil
}

// BuildSnapshot values a wallet now, or at asOf when given. Upstream failures
// degrade the snapshot; only invalid input returns an error.
func (s *PortfolioService) BuildSnapshot(ctx context.Context, wallet string, asOf *time.Time) (*types.PortfolioSnapshot, error) {
	wallet, err := validateWallet(wallet)
	if err != nil {
		return nil, err
	}
	logger := logging.FromContext(ctx).Named("portfolio").WithField("wallet", wallet)
	ctx = logging.WithLogger(ctx, logger)

	asOfKey := "latest"
	if asOf != nil {
		asOfKey = asOf.UTC().Format(time.RFC3339)
	}
	if s.cache != nil {
		cached, ok, err := s.cache.GetSnapshot(ctx, wallet, asOfKey, s.registry.Version())
		switch {
		case err != nil:
			logger.WithError(err).Warn("snapshot cache read failed")
			s.metrics.CountCache("error")
		case ok:
			s.metrics.CountCache("hit")
			return cached, nil
		default:
			s.metrics.CountCache("miss")
		}
	}

	at := s.now().UTC()
	if asOf != nil {
		at = asOf.UTC()
	}

	var (
		deg       degradation
		balances  []types.RawBalance
		protocols []types.Position
		events    []types.ActivityEvent
		assets    []types.PricedAsset
		scanned   []types.Position
	)

	g, gctx := errgroup.WithContext(ctx)
	// inputs feed the wallet-asset scanner, which runs alongside the checker
	var inputs errgroup.Group
	inputs.Go(func() error {
		s.runBranch(gctx, BranchBalances, &deg, func(ctx context.Context) error {
			var err error
			balances, err = s.balances.Balances(ctx, wallet)
			return err
		})
		return nil
	})
	if asOf != nil {
		inputs.Go(func() error {
			s.runBranch(gctx, BranchActivities, &deg, func(ctx context.Context) error {
				var err error
				events, err = s.activities.Activities(ctx, wallet, *asOf)
				return err
			})
			return nil
		})
	}
	g.Go(func() error {
		s.runBranch(gctx, BranchPositions, &deg, func(ctx context.Context) error {
			var err error
			protocols, err = s.checker.Check(ctx, wallet)
			return err
		})
		return nil
	})
	g.Go(func() error {
		_ = inputs.Wait()
		if asOf != nil {
			balances = s.rewind(balances, events, at)
		}
		assets = s.classify(balances)
		s.runBranch(gctx, BranchScanner, &deg, func(ctx context.Context) error {
			var err error
			scanned, err = s.scanner.Scan(ctx, assets, wallet)
			return err
		})
		return nil
	})
	_ = g.Wait()

	merged := MergePositions(protocols, scanned)

	ids := make([]types.AssetIdentifier, 0, len(assets))
	meta := make(map[types.AssetIdentifier]types.AssetMetadata, len(assets))
	for _, a := range assets {
		ids = append(ids, a.Identifier)
		meta[a.Identifier] = a.Metadata
	}
	for _, p := range merged {
		ids = append(ids, p.PricedAssets()...)
	}
	prices := s.prices.ResolvePrices(ctx, ids, meta)

	for i := range assets {
		res := prices[assets[i].Identifier]
		assets[i].Price, assets[i].PriceSource = res.Price, res.Source
	}
	positions := ValuePositions(merged, prices)

	assets = DedupeAliases(assets, s.registry)
	assets, positions = FilterDust(assets, positions, s.config.DustThresholdUSD)
	free, locked := SplitLocked(assets, positions, s.registry)

	snap := &types.PortfolioSnapshot{
		Wallet:        wallet,
		AsOf:          at,
		Assets:        free,
		Positions:     positions,
		Locked:        locked,
		Degraded:      deg.list(),
		InputsVersion: s.registry.Version(),
	}
	snap.TotalValueUSD = snap.AssetsValueUSD().Add(snap.PositionsValueUSD())
	s.metrics.CountSnapshot(len(snap.Degraded) > 0)

	logger.WithFields(map[string]interface{}{
		"assets":    len(snap.Assets),
		"positions": len(snap.Positions),
		"total_usd": snap.TotalValueUSD.StringFixed(2),
		"degraded":  snap.Degraded,
	}).Info("snapshot built")

	// degraded snapshots are never cached so the next request retries upstream
	if s.cache != nil && len(snap.Degraded) == 0 {
		if err := s.cache.SetSnapshot(ctx, wallet, asOfKey, snap.InputsVersion, snap); err != nil {
			logger.WithError(err).Warn("snapshot cache write failed")
		}
	}
	return snap, nil
}

// rewind replays activities backward from current balances to at. Balances
// with no current metadata keep the derived symbol and default decimals.
func (s *PortfolioService) rewind(current []types.RawBalance, events []types.ActivityEvent, at time.Time) []types.RawBalance {
	raw := make(map[types.AssetIdentifier]*big.Int, len(current))
	byID := make(map[types.AssetIdentifier]types.RawBalance, len(current))
	decimals := make(map[types.AssetIdentifier]int)
	for _, b := range current {
		raw[b.Identifier] = b.Amount
		byID[b.Identifier] = b
		decimals[b.Identifier] = 0
	}
	for _, e := range events {
		decimals[e.Identifier] = 0
	}

	// zero decimals keep the replay in raw units
	snap, err := SnapshotAt(ReplayInput{CurrentBalances: raw, Events: events, Decimals: decimals}, at)
	if err != nil {
		return current
	}

	out := make([]types.RawBalance, 0, len(snap.PerAsset))
	for id, amount := range snap.PerAsset {
		b, ok := byID[id]
		if !ok {
			b = types.RawBalance{Identifier: id, Metadata: types.AssetMetadata{Symbol: SymbolFor(id)}}
		}
		b.Amount = amount.BigInt()
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// classify turns raw balances into unpriced assets and drops scams
func (s *PortfolioService) classify(balances []types.RawBalance) []types.PricedAsset {
	assets := make([]types.PricedAsset, 0, len(balances))
	for _, b := range balances {
		if b.Amount == nil || b.Amount.Sign() <= 0 {
			continue
		}
		class := s.classifier.Classify(b.Identifier, b.Metadata)
		if class.IsScam() {
			continue
		}
		standard := b.Standard
		if standard == "" {
			standard = b.Identifier.Standard()
		}
		assets = append(assets, types.PricedAsset{
			Identifier:     b.Identifier,
			Metadata:       b.Metadata,
			Standard:       standard,
			RawBalance:     b.Amount,
			Price:          decimal.Zero,
			PriceSource:    types.SourceUnknown,
			Classification: class,
		})
	}
	return assets
}

// Positions returns the wallet's merged, valued positions and their summary
func (s *PortfolioService) Positions(ctx context.Context, wallet string) ([]types.Position, types.DeFiMetrics, error) {
	snap, err := s.BuildSnapshot(ctx, wallet, nil)
	if err != nil {
		return nil, types.DeFiMetrics{}, err
	}
	return snap.Positions, CalculateMetrics(snap.Positions), nil
}

// History reconstructs a daily balance series ending today, valued at
// current prices. It runs at low indexer priority.
func (s *PortfolioService) History(ctx context.Context, wallet string, days int) (*types.BalanceHistory, error) {
	wallet, err := validateWallet(wallet)
	if err != nil {
		return nil, err
	}
	if days == 0 {
		days = s.config.HistoryDays
	}
	if days < 1 || days > maxHistoryDays {
		return nil, errors.NewInvalidParameterError("days", fmt.Sprintf("must be between 1 and %d", maxHistoryDays))
	}

	logger := logging.FromContext(ctx).Named("history").WithField("wallet", wallet)
	ctx = ratelimit.WithPriority(logging.WithLogger(ctx, logger), ratelimit.PriorityLow)

	end := s.now().UTC()
	since := end.Truncate(24*time.Hour).AddDate(0, 0, -days)

	var (
		deg      degradation
		balances []types.RawBalance
		events   []types.ActivityEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.runBranch(gctx, BranchBalances, &deg, func(ctx context.Context) error {
			var err error
			balances, err = s.balances.Balances(ctx, wallet)
			return err
		})
		return nil
	})
	g.Go(func() error {
		s.runBranch(gctx, BranchActivities, &deg, func(ctx context.Context) error {
			var err error
			events, err = s.activities.Activities(ctx, wallet, since)
			return err
		})
		return nil
	})
	_ = g.Wait()

	in := ReplayInput{
		CurrentBalances: make(map[types.AssetIdentifier]*big.Int),
		Decimals:        make(map[types.AssetIdentifier]int),
	}
	scams := make(map[types.AssetIdentifier]bool)
	meta := make(map[types.AssetIdentifier]types.AssetMetadata)
	var ids []types.AssetIdentifier
	for _, b := range balances {
		if s.classifier.Classify(b.Identifier, b.Metadata).IsScam() {
			scams[b.Identifier] = true
			continue
		}
		in.CurrentBalances[b.Identifier] = b.Amount
		in.Decimals[b.Identifier] = b.Metadata.EffectiveDecimals()
		meta[b.Identifier] = b.Metadata
		ids = append(ids, b.Identifier)
	}
	for _, e := range events {
		if scams[e.Identifier] {
			continue
		}
		in.Events = append(in.Events, e)
		if _, ok := meta[e.Identifier]; !ok {
			meta[e.Identifier] = types.AssetMetadata{}
			ids = append(ids, e.Identifier)
		}
	}

	resolved := s.prices.ResolvePrices(ctx, ids, meta)
	in.Prices = make(map[types.AssetIdentifier]decimal.Decimal, len(resolved))
	for id, r := range resolved {
		in.Prices[id] = r.Price
	}

	series, err := Series(in, end, days)
	if err != nil {
		return nil, errors.NewInternalError("failed to replay balances", err)
	}

	hist := &types.BalanceHistory{
		Wallet:    wallet,
		Snapshots: series,
		Summary:   summarize(series),
		Degraded:  deg.list(),
	}

	if s.history != nil && len(hist.Degraded) == 0 {
		if err := s.history.SaveSeries(ctx, wallet, series); err != nil {
			logger.WithError(err).Warn("failed to persist balance history")
		}
	}
	return hist, nil
}

// summarize computes descriptive statistics over a series' USD totals
func summarize(series []types.BalanceSnapshot) types.HistorySummary {
	if len(series) == 0 {
		return types.HistorySummary{}
	}
	values := make(stats.Float64Data, len(series))
	for i, s := range series {
		values[i] = s.TotalUSDValue.InexactFloat64()
	}

	var sum types.HistorySummary
	sum.Min, _ = values.Min()
	sum.Max, _ = values.Max()
	sum.Mean, _ = values.Mean()
	if len(values) > 1 {
		sum.StdDev, _ = stats.StandardDeviationSample(values)
	}
	if first := values[0]; first != 0 {
		sum.ChangePct = (values[len(values)-1] - first) / first * 100
	}
	return sum
}
