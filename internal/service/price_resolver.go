package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/portfolio-valuator/internal/logging"
	"github.com/portfolio-valuator/internal/metrics"
	"github.com/portfolio-valuator/internal/registry"
	"github.com/portfolio-valuator/internal/types"
)

// CatalogSource returns the primary price catalog in one call
type CatalogSource interface {
	FetchCatalog(ctx context.Context) (types.PriceCatalog, error)
}

// QuoteSource prices a batch of quote ids from the secondary source
type QuoteSource interface {
	Quote(ctx context.Context, quoteIDs []string) (map[string]decimal.Decimal, error)
}

// PriceResolver resolves USD prices: overrides, then the primary catalog,
// then the secondary source for allow-listed symbols. It never fails; an
// asset nobody can price is Unknown at 0.
type PriceResolver struct {
	registry  *registry.Registry
	catalog   CatalogSource
	secondary QuoteSource
	metrics   *metrics.Metrics
}

// NewPriceResolver creates a resolver. secondary and m may be nil.
func NewPriceResolver(reg *registry.Registry, catalog CatalogSource, secondary QuoteSource, m *metrics.Metrics) *PriceResolver {
	return &PriceResolver{
		registry:  reg,
		catalog:   catalog,
		secondary: secondary,
		metrics:   m,
	}
}

// ResolvePrices prices every identifier with at most one catalog call and
// one secondary call
func (r *PriceResolver) ResolvePrices(ctx context.Context, ids []types.AssetIdentifier, meta map[types.AssetIdentifier]types.AssetMetadata) map[types.AssetIdentifier]types.PriceResult {
	logger := logging.FromContext(ctx).Named("prices")
	out := make(map[types.AssetIdentifier]types.PriceResult, len(ids))

	var pending []types.AssetIdentifier
	for _, id := range dedupe(ids) {
		if p, ok := r.registry.Override(id); ok {
			out[id] = types.PriceResult{Price: p, Source: types.SourceOverride}
			continue
		}
		pending = append(pending, id)
	}

	if len(pending) > 0 && r.catalog != nil {
		catalog, err := r.catalog.FetchCatalog(ctx)
		if err != nil {
			logger.WithError(err).WithField("assets", len(pending)).Warn("price catalog unavailable, falling back")
		} else {
			remaining := pending[:0]
			for _, id := range pending {
				if p, ok := r.lookupCatalog(catalog, id); ok {
					out[id] = types.PriceResult{Price: p, Source: types.SourceQuoted}
					continue
				}
				remaining = append(remaining, id)
			}
			pending = remaining
		}
	}

	if len(pending) > 0 && r.secondary != nil {
		pending = r.resolveSecondary(ctx, pending, meta, out)
	}

	for _, id := range pending {
		out[id] = types.UnknownPrice()
	}
	for _, res := range out {
		r.metrics.CountPrice(string(res.Source))
	}
	return out
}

// lookupCatalog tries the identifier as given, its padded and short address
// forms, then each registered alias in the same forms
func (r *PriceResolver) lookupCatalog(catalog types.PriceCatalog, id types.AssetIdentifier) (decimal.Decimal, bool) {
	candidates := identifierForms(id)
	for _, alias := range r.registry.Aliases(id) {
		candidates = append(candidates, identifierForms(alias)...)
	}
	for _, c := range candidates {
		if p, ok := catalog[string(c)]; ok && p.IsPositive() {
			return p, true
		}
		if p, ok := catalog[strings.ToLower(string(c))]; ok && p.IsPositive() {
			return p, true
		}
	}
	return decimal.Zero, false
}

func identifierForms(id types.AssetIdentifier) []types.AssetIdentifier {
	return []types.AssetIdentifier{id, id.Canonical(), id.Short()}
}

func (r *PriceResolver) resolveSecondary(
	ctx context.Context,
	pending []types.AssetIdentifier,
	meta map[types.AssetIdentifier]types.AssetMetadata,
	out map[types.AssetIdentifier]types.PriceResult,
) []types.AssetIdentifier {
	quoteFor := make(map[types.AssetIdentifier]string)
	var quoteIDs []string
	seen := make(map[string]bool)
	for _, id := range pending {
		symbol := meta[id].Symbol
		if symbol == "" {
			symbol = SymbolFor(id)
		}
		q, ok := r.registry.SecondaryQuoteID(symbol)
		if !ok {
			continue
		}
		quoteFor[id] = q
		if !seen[q] {
			seen[q] = true
			quoteIDs = append(quoteIDs, q)
		}
	}
	if len(quoteIDs) == 0 {
		return pending
	}

	quotes, err := r.secondary.Quote(ctx, quoteIDs)
	if err != nil {
		logging.FromContext(ctx).Named("prices").WithError(err).Warn("secondary quotes unavailable")
		return pending
	}

	remaining := pending[:0]
	for _, id := range pending {
		if q, ok := quoteFor[id]; ok {
			if p, ok := quotes[q]; ok && p.IsPositive() {
				out[id] = types.PriceResult{Price: p, Source: types.SourceSecondary}
				continue
			}
		}
		remaining = append(remaining, id)
	}
	return remaining
}

func dedupe(ids []types.AssetIdentifier) []types.AssetIdentifier {
	seen := make(map[types.AssetIdentifier]bool, len(ids))
	out := make([]types.AssetIdentifier, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
