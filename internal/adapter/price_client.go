package adapter

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"

	"github.com/portfolio-valuator/internal/config"
	"github.com/portfolio-valuator/internal/logging"
	"github.com/portfolio-valuator/internal/types"
)

const catalogCacheKey = "catalog"

type catalogEntry struct {
	TokenAddress *string     `json:"tokenAddress"`
	FAAddress    *string     `json:"faAddress"`
	Symbol       string      `json:"symbol"`
	USDPrice     interface{} `json:"usdPrice"`
}

// CatalogClient fetches the primary price catalog and keeps it for a
// short TTL so that concurrent snapshots share one fetch
type CatalogClient struct {
	up     *upstream
	url    string
	apiKey string
	cache  *cache.Cache
}

// NewCatalogClient creates a catalog client. ttl <= 0 disables caching.
func NewCatalogClient(cfg config.PricingConfig, ttl time.Duration, shared Shared) *CatalogClient {
	c := &CatalogClient{
		up:     newUpstream("price-catalog", cfg.Timeout, 0, shared),
		url:    cfg.PrimaryURL,
		apiKey: cfg.PrimaryAPIKey,
	}
	if ttl > 0 {
		c.cache = cache.New(ttl, 2*ttl)
	}
	return c
}

// FetchCatalog returns prices keyed by both the coin type and the fungible
// asset address of every listed asset
func (c *CatalogClient) FetchCatalog(ctx context.Context) (types.PriceCatalog, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(catalogCacheKey); ok {
			return v.(types.PriceCatalog), nil
		}
	}

	headers := map[string]string{}
	if c.apiKey != "" {
		headers["x-api-key"] = c.apiKey
	}
	var entries []catalogEntry
	err := c.up.do(ctx, request{
		op:      "FetchCatalog",
		method:  fasthttp.MethodGet,
		path:    c.url,
		headers: headers,
		kind:    "prices",
	}, &entries)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price catalog: %w", err)
	}

	catalog := make(types.PriceCatalog, 2*len(entries))
	var skipped int
	for _, e := range entries {
		price, ok := parseDecimal(e.USDPrice)
		if !ok || !price.IsPositive() {
			skipped++
			continue
		}
		for _, addr := range []*string{e.TokenAddress, e.FAAddress} {
			if addr == nil || *addr == "" {
				continue
			}
			catalog[*addr] = price
			catalog[strings.ToLower(*addr)] = price
		}
	}
	logging.FromContext(ctx).Named("prices").WithFields(map[string]interface{}{
		"entries": len(entries),
		"skipped": skipped,
	}).Debug("price catalog fetched")

	if c.cache != nil {
		c.cache.SetDefault(catalogCacheKey, catalog)
	}
	return catalog, nil
}

// Invalidate drops the cached catalog
func (c *CatalogClient) Invalidate() {
	if c.cache != nil {
		c.cache.Delete(catalogCacheKey)
	}
}

// QuoteClient prices symbols by their secondary-source ids
type QuoteClient struct {
	up  *upstream
	url string
}

// NewQuoteClient creates a secondary quote client
func NewQuoteClient(cfg config.PricingConfig, shared Shared) *QuoteClient {
	return &QuoteClient{
		up:  newUpstream("price-secondary", cfg.Timeout, 0, shared),
		url: cfg.SecondaryURL,
	}
}

// Quote returns USD prices for the given ids in one request. Ids the
// source does not know are absent from the result.
func (c *QuoteClient) Quote(ctx context.Context, quoteIDs []string) (map[string]decimal.Decimal, error) {
	if len(quoteIDs) == 0 {
		return map[string]decimal.Decimal{}, nil
	}
	ids := append([]string(nil), quoteIDs...)
	sort.Strings(ids)

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")

	var resp map[string]map[string]interface{}
	err := c.up.do(ctx, request{
		op:     "Quote",
		method: fasthttp.MethodGet,
		path:   c.url + "?" + q.Encode(),
		kind:   "prices",
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quotes: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(resp))
	for id, quote := range resp {
		if p, ok := parseDecimal(quote["usd"]); ok && p.IsPositive() {
			out[id] = p
		}
	}
	return out, nil
}

// parseDecimal accepts a JSON number or a numeric string
func parseDecimal(v interface{}) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(n), true
	}
	return decimal.Zero, false
}
