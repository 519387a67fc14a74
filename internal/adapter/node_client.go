package adapter

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/valyala/fasthttp"

	"github.com/portfolio-valuator/internal/config"
	"github.com/portfolio-valuator/internal/service"
	"github.com/portfolio-valuator/internal/types"
)

// reserveStructName is the resource a constant-product pool keeps its reserves in
const reserveStructName = "TokenPairReserve"

// NodeClient reads account resources from a full node's REST API, failing
// over to a second node when the first keeps erroring
type NodeClient struct {
	up        *upstream
	endpoints *EndpointSet
	// decimals per coin type; coin decimals never change
	decimals *cache.Cache
}

// NewNodeClient creates a node client
func NewNodeClient(cfg config.IndexerConfig, shared Shared) (*NodeClient, error) {
	endpoints, err := NewEndpointSet(cfg.RESTURL, cfg.RESTFallbackURL)
	if err != nil {
		return nil, fmt.Errorf("invalid node endpoints: %w", err)
	}
	return &NodeClient{
		up:        newUpstream("node", cfg.Timeout, cfg.RateLimit, shared),
		endpoints: endpoints,
		decimals:  cache.New(cache.NoExpiration, time.Hour),
	}, nil
}

// Health reports the active node endpoint's health
func (c *NodeClient) Health() EndpointHealth {
	return c.endpoints.Health()
}

// AccountResources returns every resource stored under address. An
// account that does not exist yet has none.
func (c *NodeClient) AccountResources(ctx context.Context, address string) ([]types.AccountResource, error) {
	var out []types.AccountResource
	err := c.up.do(ctx, request{
		op:        "AccountResources",
		method:    fasthttp.MethodGet,
		endpoints: c.endpoints,
		path:      "/accounts/" + address + "/resources?limit=9999",
		kind:      "resources",
	}, &out)
	if isNotFound(err) {
		return []types.AccountResource{}, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// resource reads one typed resource under address
func (c *NodeClient) resource(ctx context.Context, address, resourceType string) (map[string]interface{}, error) {
	var out types.AccountResource
	err := c.up.do(ctx, request{
		op:        "AccountResource",
		method:    fasthttp.MethodGet,
		endpoints: c.endpoints,
		path:      "/accounts/" + address + "/resource/" + url.PathEscape(resourceType),
		kind:      "reserves",
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

// PoolReserves reads the reserves and LP supply of a two-sided
// constant-product pool
func (c *NodeClient) PoolReserves(ctx context.Context, lpType types.AssetIdentifier, comp service.Composition) (*types.PoolReserves, error) {
	if len(comp.Extra) > 0 {
		return nil, fmt.Errorf("pools with %d constituents are not supported", len(comp.Tokens()))
	}
	reserveType, ok := reserveTypeFor(string(lpType))
	if !ok {
		return nil, fmt.Errorf("not a generic pool type: %s", lpType)
	}

	data, err := c.resource(ctx, comp.Pool, reserveType)
	if err != nil {
		return nil, fmt.Errorf("failed to read pool reserves: %w", err)
	}
	x, okX := rawAmount(data["reserve_x"])
	y, okY := rawAmount(data["reserve_y"])
	if !okX || !okY {
		return nil, NewAdapterError("node", "PoolReserves", ErrMalformedResponse, map[string]interface{}{"type": reserveType})
	}

	supply, lpDecimals, err := c.coinInfo(ctx, lpType)
	if err != nil {
		return nil, fmt.Errorf("failed to read LP supply: %w", err)
	}

	out := &types.PoolReserves{
		Pool:        comp.Pool,
		TotalSupply: supply,
		LPDecimals:  lpDecimals,
	}
	for i, tok := range []types.AssetIdentifier{comp.TokenA, comp.TokenB} {
		d, err := c.Decimals(ctx, tok)
		if err != nil {
			return nil, fmt.Errorf("failed to read decimals of %s: %w", tok, err)
		}
		amount := x
		if i == 1 {
			amount = y
		}
		out.Tokens = append(out.Tokens, types.PoolToken{Asset: tok, Amount: amount, Decimals: d})
	}
	return out, nil
}

// Decimals returns a coin's declared decimals
func (c *NodeClient) Decimals(ctx context.Context, coin types.AssetIdentifier) (int, error) {
	if d, ok := c.decimals.Get(string(coin)); ok {
		return d.(int), nil
	}
	_, d, err := c.coinInfo(ctx, coin)
	if err != nil {
		return 0, err
	}
	return d, nil
}

// coinInfo reads 0x1::coin::CoinInfo<coin> from the coin's publishing account
func (c *NodeClient) coinInfo(ctx context.Context, coin types.AssetIdentifier) (*big.Int, int, error) {
	data, err := c.resource(ctx, coin.Address(), "0x1::coin::CoinInfo<"+string(coin)+">")
	if err != nil {
		return nil, 0, err
	}
	dec, ok := rawAmount(data["decimals"])
	if !ok {
		return nil, 0, NewAdapterError("node", "CoinInfo", ErrMalformedResponse, map[string]interface{}{"coin": string(coin)})
	}
	d := int(dec.Int64())
	c.decimals.SetDefault(string(coin), d)

	supply, ok := optionalSupply(data["supply"])
	if !ok {
		supply = new(big.Int)
	}
	return supply, d, nil
}

// optionalSupply unwraps supply.vec[0].integer.vec[0].value, falling back
// to the aggregator form for parallelizable coins
func optionalSupply(v interface{}) (*big.Int, bool) {
	opt := firstOf(v)
	if opt == nil {
		return nil, false
	}
	for _, field := range []string{"integer", "aggregator"} {
		inner := firstOf(opt[field])
		if inner == nil {
			continue
		}
		if amt, ok := rawAmount(inner["value"]); ok {
			return amt, true
		}
	}
	return nil, false
}

// firstOf returns the element of a Move Option {"vec": [x]}
func firstOf(v interface{}) map[string]interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	vec, ok := m["vec"].([]interface{})
	if !ok || len(vec) == 0 {
		return nil
	}
	first, _ := vec[0].(map[string]interface{})
	return first
}

// reserveTypeFor swaps the outer struct name of an LP type for the
// reserve resource, keeping the generic arguments
func reserveTypeFor(lpType string) (string, bool) {
	open := strings.IndexByte(lpType, '<')
	if open < 0 {
		return "", false
	}
	outer := lpType[:open]
	i := strings.LastIndex(outer, "::")
	if i < 0 {
		return "", false
	}
	return outer[:i+2] + reserveStructName + lpType[open:], true
}

// rawAmount reads an on-chain integer: a decimal string or a JSON number
func rawAmount(v interface{}) (*big.Int, bool) {
	switch n := v.(type) {
	case string:
		return types.ParseRawAmount(n)
	case float64:
		if n < 0 {
			return nil, false
		}
		amt, _ := new(big.Float).SetFloat64(n).Int(nil)
		return amt, true
	case int64:
		if n < 0 {
			return nil, false
		}
		return big.NewInt(n), true
	}
	return nil, false
}
