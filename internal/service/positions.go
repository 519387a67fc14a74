package service

import (
	"context"
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/portfolio-valuator/internal/logging"
	"github.com/portfolio-valuator/internal/registry"
	"github.com/portfolio-valuator/internal/types"
)

// ReserveSource reads the on-chain reserves behind an LP token
type ReserveSource interface {
	PoolReserves(ctx context.Context, lpType types.AssetIdentifier, comp Composition) (*types.PoolReserves, error)
}

// Name fragments that mark a protocol as pool-like
var pooledProtocolMarkers = []string{"farm", "liquidity", "pool"}

// Symbol fragments that mark a holding as an LP share
var pooledSymbolMarkers = []string{"lp", "pool", "thala-lp", "mklp"}

// leafBuilder turns held amounts into unpriced leaves. Values are filled in
// later by ValuePositions once every price is known.
type leafBuilder struct {
	registry *registry.Registry
	reserves ReserveSource
}

// decimalsFor resolves decimals when no metadata is at hand: allow-listed
// assets first, then 6 for dollar stablecoins, else 8
func (b leafBuilder) decimalsFor(id types.AssetIdentifier) int {
	if d, ok := b.registry.KnownDecimals(id); ok {
		return d
	}
	// constituents of a pooled type say nothing about the share's decimals
	s := string(id)
	if i := strings.IndexByte(s, '<'); i >= 0 {
		s = s[:i]
	}
	if strings.Contains(s, "USDC") || strings.Contains(s, "USDT") {
		return 6
	}
	return types.DefaultDecimals
}

// tokenLeaf maps a single-asset holding onto the leaf kind its protocol implies
func (b leafBuilder) tokenLeaf(p registry.Protocol, asset types.AssetIdentifier, symbol string, amount decimal.Decimal) types.Leaf {
	ta := types.TokenAmount{Asset: asset, Symbol: symbol, Amount: amount, Value: decimal.Zero}
	switch p.Type {
	case types.ProtocolLiquidStaking, types.ProtocolFarming:
		return types.StakedLeaf{TokenAmount: ta}
	case types.ProtocolDerivatives:
		return types.DerivativeLeaf{TokenAmount: ta, Market: p.Name}
	default:
		return types.SuppliedLeaf{TokenAmount: ta}
	}
}

// liquidityLeaf decomposes an LP holding, reading reserves when a source is
// configured. Any failure leaves the constituent amounts unknown.
func (b leafBuilder) liquidityLeaf(ctx context.Context, lpType types.AssetIdentifier, symbol string, amount decimal.Decimal) types.LiquidityLeaf {
	leaf := types.LiquidityLeaf{
		LPToken:     lpType,
		Symbol:      symbol,
		LPAmount:    amount,
		PriceSource: types.SourceUnknown,
		Value:       decimal.Zero,
	}
	comp, ok := Decompose(string(lpType))
	if !ok {
		return leaf
	}
	leaf.Pool = comp.Pool

	var reserves *types.PoolReserves
	if b.reserves != nil {
		r, err := b.reserves.PoolReserves(ctx, lpType, comp)
		if err != nil {
			logging.FromContext(ctx).Named("positions").WithError(err).
				WithField("lp_token", string(lpType)).Debug("pool reserves unavailable")
		} else {
			reserves = r
		}
	}
	leaf.Underlying, leaf.AmountKnown = Underlying(comp, amount, reserves)
	if leaf.AmountKnown {
		leaf.Reserves = reserves
	}
	return leaf
}

// isPooledPosition flags positions kept regardless of the dust threshold
func isPooledPosition(p registry.Protocol, leaves []types.Leaf) bool {
	if p.Type == types.ProtocolDEX {
		return true
	}
	name := strings.ToLower(p.Name)
	for _, m := range pooledProtocolMarkers {
		if strings.Contains(name, m) {
			return true
		}
	}
	for _, l := range leaves {
		if l.Kind() == types.LeafLiquidity {
			return true
		}
		if ta, ok := tokenAmountOf(l); ok && isPooledSymbol(ta.Symbol) {
			return true
		}
	}
	return false
}

func isPooledSymbol(symbol string) bool {
	lower := strings.ToLower(symbol)
	for _, m := range pooledSymbolMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func tokenAmountOf(l types.Leaf) (types.TokenAmount, bool) {
	switch v := l.(type) {
	case types.SuppliedLeaf:
		return v.TokenAmount, true
	case types.BorrowedLeaf:
		return v.TokenAmount, true
	case types.StakedLeaf:
		return v.TokenAmount, true
	case types.DerivativeLeaf:
		return v.TokenAmount, true
	default:
		return types.TokenAmount{}, false
	}
}

// leafIsNonZero reports whether a leaf holds anything
func leafIsNonZero(l types.Leaf) bool {
	if lq, ok := l.(types.LiquidityLeaf); ok {
		return !lq.LPAmount.IsZero()
	}
	ta, _ := tokenAmountOf(l)
	return !ta.Amount.IsZero()
}

// sortPositions orders active positions first, then by protocol name and address
func sortPositions(positions []types.Position) {
	sort.SliceStable(positions, func(i, j int) bool {
		a, b := positions[i], positions[j]
		if a.IsActive != b.IsActive {
			return a.IsActive
		}
		if a.Protocol != b.Protocol {
			return a.Protocol < b.Protocol
		}
		return a.Address < b.Address
	})
}

// rawAmount reads an on-chain integer from resource data: a decimal string,
// a JSON number, or an object carrying "value"
func rawAmount(v interface{}) (*big.Int, bool) {
	switch n := v.(type) {
	case string:
		amt, ok := types.ParseRawAmount(n)
		return amt, ok
	case float64:
		if n < 0 {
			return new(big.Int), false
		}
		amt, _ := new(big.Float).SetFloat64(n).Int(nil)
		return amt, true
	case map[string]interface{}:
		if inner, ok := n["value"]; ok {
			return rawAmount(inner)
		}
	}
	return new(big.Int), false
}
