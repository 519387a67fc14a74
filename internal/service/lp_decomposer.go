package service

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/portfolio-valuator/internal/types"
)

// Markers of LP and vault share wrappers in a type signature
var pooledTypeMarkers = []string{
	"LP<", "LPToken<", "LPCoin<", "StablePoolToken<", "WeightedPoolToken<",
	"::lp_coin::", "::lp_token::", "stable_pool", "weighted_pool",
}

// lpEstimateFactor scales the mean constituent price in the 50/50 estimate
var lpEstimateFactor = decimal.RequireFromString("0.5")

// Composition is the parsed constituent list of a pooled token
type Composition struct {
	TokenA AssetIdentifier
	TokenB AssetIdentifier
	// Extra holds constituents past the second, for pools of three or more
	Extra []AssetIdentifier
	// Pool is the address segment of the outer type
	Pool string
}

// AssetIdentifier is re-exported for brevity inside this package
type AssetIdentifier = types.AssetIdentifier

// Tokens returns every constituent in declaration order
func (c Composition) Tokens() []AssetIdentifier {
	out := []AssetIdentifier{c.TokenA, c.TokenB}
	return append(out, c.Extra...)
}

// Decompose parses the outermost generic argument list of a pooled type.
// Null placeholder arguments are dropped. It reports false when the
// signature is unbalanced or carries fewer than two real constituents.
func Decompose(typeSignature string) (Composition, bool) {
	open := strings.IndexByte(typeSignature, '<')
	if open < 0 {
		return Composition{}, false
	}

	var (
		args  []string
		depth = 1
		start = open + 1
		end   = -1
	)
scan:
	for i := open + 1; i < len(typeSignature); i++ {
		switch typeSignature[i] {
		case '<':
			depth++
		case '>':
			depth--
			if depth == 0 {
				args = append(args, typeSignature[start:i])
				end = i
				break scan
			}
		case ',':
			if depth == 1 {
				args = append(args, typeSignature[start:i])
				start = i + 1
			}
		}
	}
	if end < 0 {
		return Composition{}, false
	}

	var tokens []AssetIdentifier
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" || isNullMarker(arg) {
			continue
		}
		if strings.Count(arg, "<") != strings.Count(arg, ">") {
			return Composition{}, false
		}
		tokens = append(tokens, AssetIdentifier(arg))
	}
	if len(tokens) < 2 {
		return Composition{}, false
	}

	comp := Composition{
		TokenA: tokens[0],
		TokenB: tokens[1],
		Pool:   AssetIdentifier(typeSignature[:open]).Address(),
	}
	if len(tokens) > 2 {
		comp.Extra = tokens[2:]
	}
	return comp, true
}

// isNullMarker reports whether the type's own name, ignoring generics, is Null
func isNullMarker(arg string) bool {
	name := arg
	if i := strings.IndexByte(name, '<'); i >= 0 {
		name = name[:i]
	}
	return strings.HasSuffix(strings.TrimSpace(name), "::Null")
}

// IsPooledType reports whether a type signature names an LP or vault share
func IsPooledType(typeSignature string) bool {
	for _, m := range pooledTypeMarkers {
		if strings.Contains(typeSignature, m) {
			return true
		}
	}
	return false
}

// Reserve is one priced reserve of a pool
type Reserve struct {
	Asset    AssetIdentifier
	Amount   *big.Int
	Decimals int
	Price    decimal.Decimal
}

// PriceLP returns the unit price of an LP token from its pool's reserves:
// sum(reserve_i * price_i) / supply, all normalized. Zero supply yields 0.
// Snapshot valuation prices every reserve-backed liquidity leaf with it.
func PriceLP(reserves []Reserve, totalSupply *big.Int, lpDecimals int) decimal.Decimal {
	supply := types.NormalizeAmount(totalSupply, lpDecimals)
	if supply.IsZero() {
		return decimal.Zero
	}
	tvl := decimal.Zero
	for _, r := range reserves {
		tvl = tvl.Add(types.NormalizeAmount(r.Amount, r.Decimals).Mul(r.Price))
	}
	return tvl.Div(supply)
}

// PricedReserves pairs a pool's reserves with resolved prices. allKnown is
// false when any reserve had no price and was counted at 0.
func PricedReserves(pool *types.PoolReserves, prices map[AssetIdentifier]types.PriceResult) (out []Reserve, allKnown bool) {
	allKnown = true
	out = make([]Reserve, 0, len(pool.Tokens))
	for _, pt := range pool.Tokens {
		p := prices[pt.Asset]
		if !p.IsKnown() {
			allKnown = false
		}
		out = append(out, Reserve{Asset: pt.Asset, Amount: pt.Amount, Decimals: pt.Decimals, Price: p.Price})
	}
	return out, allKnown
}

// EstimateLP is the 50/50 heuristic used when reserves are unavailable:
// mean(priceA, priceB) * 0.5. Callers must report the result as estimated.
func EstimateLP(priceA, priceB decimal.Decimal) decimal.Decimal {
	return priceA.Add(priceB).Div(decimal.NewFromInt(2)).Mul(lpEstimateFactor)
}

// Underlying splits an LP balance into constituent amounts. Without reserves
// or with zero supply every amount is left nil and known is false.
func Underlying(comp Composition, lpBalance decimal.Decimal, reserves *types.PoolReserves) (out []types.UnderlyingAmount, known bool) {
	tokens := comp.Tokens()
	out = make([]types.UnderlyingAmount, len(tokens))
	for i, t := range tokens {
		out[i] = types.UnderlyingAmount{Asset: t, Symbol: SymbolFor(t)}
	}
	if reserves == nil || len(reserves.Tokens) == 0 {
		return out, false
	}
	supply := types.NormalizeAmount(reserves.TotalSupply, reserves.LPDecimals)
	if supply.IsZero() {
		return out, false
	}

	byAsset := make(map[AssetIdentifier]types.PoolToken, len(reserves.Tokens))
	for _, pt := range reserves.Tokens {
		byAsset[pt.Asset.Canonical()] = pt
	}
	share := lpBalance.Div(supply)
	for i, t := range tokens {
		pt, ok := byAsset[t.Canonical()]
		if !ok {
			// a constituent the pool state does not list; keep them all unknown
			for j := range out {
				out[j].Amount = nil
			}
			return out, false
		}
		amt := types.NormalizeAmount(pt.Amount, pt.Decimals).Mul(share)
		out[i].Amount = &amt
	}
	return out, true
}

// Well-known symbols the type name alone would render badly
var knownSymbols = []struct {
	marker string
	symbol string
}{
	{"::aptos_coin::AptosCoin", "APT"},
	{"::asset::USDC", "USDC"},
	{"::asset::USDT", "USDT"},
	{"::staking::ThalaAPT", "thAPT"},
	{"::thl_coin::THL", "THL"},
	{"::mod_coin::MOD", "MOD"},
}

// SymbolFor derives a display symbol from an identifier when metadata is absent
func SymbolFor(id AssetIdentifier) string {
	s := string(id)
	for _, k := range knownSymbols {
		if strings.Contains(s, k.marker) {
			return k.symbol
		}
	}
	name := s
	if i := strings.IndexByte(name, '<'); i >= 0 {
		name = name[:i]
	}
	parts := strings.Split(name, "::")
	if len(parts) >= 3 && parts[len(parts)-1] != "" {
		return strings.ToUpper(parts[len(parts)-1])
	}
	short := id.Short()
	if len(short) > 10 {
		return string(short[:10]) + "..."
	}
	return string(short)
}
