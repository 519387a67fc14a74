package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/portfolio-valuator/internal/registry"
	"github.com/portfolio-valuator/internal/types"
)

// MergePositions folds priority-ordered position lists into one, keyed by
// (protocol, address). The first list to supply a key wins; later lists only
// contribute keys not seen before.
func MergePositions(sources ...[]types.Position) []types.Position {
	seen := make(map[types.PositionKey]bool)
	var merged []types.Position
	for _, src := range sources {
		for _, p := range src {
			k := p.Key()
			if seen[k] {
				continue
			}
			seen[k] = true
			merged = append(merged, p)
		}
	}
	return merged
}

// ValuePositions fills every leaf's Value from resolved prices. Positions are
// returned as new values; the inputs are not modified.
func ValuePositions(positions []types.Position, prices map[types.AssetIdentifier]types.PriceResult) []types.Position {
	out := make([]types.Position, len(positions))
	for i, p := range positions {
		leaves := make([]types.Leaf, len(p.Leaves))
		for j, l := range p.Leaves {
			leaves[j] = valueLeaf(l, prices)
		}
		p.Leaves = leaves
		out[i] = p
	}
	return out
}

func valueLeaf(l types.Leaf, prices map[types.AssetIdentifier]types.PriceResult) types.Leaf {
	switch v := l.(type) {
	case types.SuppliedLeaf:
		v.Value = v.Amount.Mul(prices[v.Asset].Price)
		return v
	case types.BorrowedLeaf:
		v.Value = v.Amount.Mul(prices[v.Asset].Price)
		return v
	case types.StakedLeaf:
		v.Value = v.Amount.Mul(prices[v.Asset].Price)
		return v
	case types.DerivativeLeaf:
		v.Value = v.Amount.Mul(prices[v.Asset].Price)
		return v
	case types.LiquidityLeaf:
		return valueLiquidity(v, prices)
	default:
		return l
	}
}

// valueLiquidity prefers a pinned LP price, then exact pool-share amounts,
// then a quoted LP price, then the 50/50 estimate from two constituents
func valueLiquidity(l types.LiquidityLeaf, prices map[types.AssetIdentifier]types.PriceResult) types.LiquidityLeaf {
	lp := prices[l.LPToken]
	switch {
	case lp.Source == types.SourceOverride:
		l.Value, l.PriceSource = l.LPAmount.Mul(lp.Price), types.SourceOverride

	case l.AmountKnown && l.Reserves != nil:
		reserves, allKnown := PricedReserves(l.Reserves, prices)
		unit := PriceLP(reserves, l.Reserves.TotalSupply, l.Reserves.LPDecimals)
		l.Value, l.PriceSource = l.LPAmount.Mul(unit), types.SourceQuoted
		if !allKnown {
			l.PriceSource = types.SourceEstimated
		}

	case l.AmountKnown:
		// constituent amounts given without the pool state they came from
		total := decimal.Zero
		source := types.SourceQuoted
		for _, u := range l.Underlying {
			p := prices[u.Asset]
			if !p.IsKnown() {
				source = types.SourceEstimated
			}
			if u.Amount != nil {
				total = total.Add(u.Amount.Mul(p.Price))
			}
		}
		l.Value, l.PriceSource = total, source

	case lp.IsKnown():
		l.Value, l.PriceSource = l.LPAmount.Mul(lp.Price), lp.Source

	case len(l.Underlying) >= 2 && prices[l.Underlying[0].Asset].IsKnown() && prices[l.Underlying[1].Asset].IsKnown():
		unit := EstimateLP(prices[l.Underlying[0].Asset].Price, prices[l.Underlying[1].Asset].Price)
		l.Value, l.PriceSource = l.LPAmount.Mul(unit), types.SourceEstimated

	default:
		l.Value, l.PriceSource = decimal.Zero, types.SourceUnknown
	}
	return l
}

// FilterDust drops assets and positions worth less than threshold. Pooled
// positions are always kept; a position's size is judged by its absolute net value.
func FilterDust(assets []types.PricedAsset, positions []types.Position, threshold decimal.Decimal) ([]types.PricedAsset, []types.Position) {
	keptAssets := make([]types.PricedAsset, 0, len(assets))
	for _, a := range assets {
		if a.USDValue().GreaterThanOrEqual(threshold) {
			keptAssets = append(keptAssets, a)
		}
	}
	keptPositions := make([]types.Position, 0, len(positions))
	for _, p := range positions {
		if p.IsPooled || p.TotalValueUSD().Abs().GreaterThanOrEqual(threshold) {
			keptPositions = append(keptPositions, p)
		}
	}
	return keptAssets, keptPositions
}

// SplitLocked separates assets already valued inside a position from free
// balances, so that no holding is counted twice. Only receipts issued by the
// position's own protocol are locked; a deposit of a foreign coin is not a
// wallet holding.
func SplitLocked(assets []types.PricedAsset, positions []types.Position, reg *registry.Registry) (free, locked []types.PricedAsset) {
	held := make(map[types.AssetIdentifier]bool)
	for _, p := range positions {
		for _, l := range p.Leaves {
			var id types.AssetIdentifier
			switch v := l.(type) {
			case types.LiquidityLeaf:
				id = v.LPToken
			case types.BorrowedLeaf:
				continue
			default:
				ta, ok := tokenAmountOf(v)
				if !ok {
					continue
				}
				id = ta.Asset
			}
			if issuer, _, ok := reg.Match(string(id)); ok && issuer.Name == p.Protocol {
				held[id.Canonical()] = true
			}
		}
	}
	for _, a := range assets {
		if held[a.Identifier.Canonical()] {
			locked = append(locked, a)
			continue
		}
		free = append(free, a)
	}
	return free, locked
}

// DedupeAliases drops a legacy coin holding when its fungible-asset twin
// is held too, so a migrated balance is counted once. A coin's twin is any
// fungible-asset holding with the same symbol, or a registry alias whose
// symbol is equal or missing. The fungible-asset entry is the one kept.
func DedupeAliases(assets []types.PricedAsset, reg *registry.Registry) []types.PricedAsset {
	faSymbols := make(map[string]bool)
	faHeld := make(map[types.AssetIdentifier]types.PricedAsset)
	for _, a := range assets {
		if standardOf(a) != types.StandardFungibleAsset {
			continue
		}
		faHeld[a.Identifier.Canonical()] = a
		if sym := strings.TrimSpace(a.Metadata.Symbol); sym != "" {
			faSymbols[sym] = true
		}
	}
	if len(faHeld) == 0 {
		return assets
	}

	out := make([]types.PricedAsset, 0, len(assets))
	for _, a := range assets {
		if standardOf(a) == types.StandardCoin && hasTwin(a, faSymbols, faHeld, reg) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func hasTwin(coin types.PricedAsset, faSymbols map[string]bool, faHeld map[types.AssetIdentifier]types.PricedAsset, reg *registry.Registry) bool {
	sym := strings.TrimSpace(coin.Metadata.Symbol)
	if sym != "" && faSymbols[sym] {
		return true
	}
	for _, alias := range reg.Aliases(coin.Identifier) {
		fa, ok := faHeld[alias.Canonical()]
		if !ok {
			continue
		}
		other := strings.TrimSpace(fa.Metadata.Symbol)
		if sym == "" || other == "" || sym == other {
			return true
		}
	}
	return false
}

func standardOf(a types.PricedAsset) types.AssetStandard {
	if a.Standard != "" {
		return a.Standard
	}
	return a.Identifier.Standard()
}

// VerifyTotals checks the snapshot total against its parts
func VerifyTotals(snap *types.PortfolioSnapshot) error {
	want := snap.AssetsValueUSD().Add(snap.PositionsValueUSD())
	if !snap.TotalValueUSD.Equal(want) {
		return fmt.Errorf("snapshot total %s does not match assets %s + positions %s",
			snap.TotalValueUSD, snap.AssetsValueUSD(), snap.PositionsValueUSD())
	}
	for _, p := range snap.Positions {
		sum := decimal.Zero
		for _, l := range p.Leaves {
			sum = sum.Add(l.Contribution())
		}
		if !p.TotalValueUSD().Equal(sum) {
			return fmt.Errorf("position %s/%s total does not match its leaves", p.Protocol, p.Address)
		}
	}
	return nil
}

// CalculateMetrics summarises supplied, borrowed and locked value across positions
func CalculateMetrics(positions []types.Position) types.DeFiMetrics {
	m := types.DeFiMetrics{
		TotalValueLocked: decimal.Zero,
		TotalSupplied:    decimal.Zero,
		TotalBorrowed:    decimal.Zero,
	}
	names := make(map[string]bool)
	for _, p := range positions {
		names[p.Protocol] = true
		m.TotalValueLocked = m.TotalValueLocked.Add(p.TotalValueUSD())
		for _, l := range p.Leaves {
			switch l.Kind() {
			case types.LeafBorrowed:
				m.TotalBorrowed = m.TotalBorrowed.Add(l.Contribution().Neg())
			case types.LeafSupplied:
				m.TotalSupplied = m.TotalSupplied.Add(l.Contribution())
			}
		}
	}
	m.Protocols = make([]string, 0, len(names))
	for n := range names {
		m.Protocols = append(m.Protocols, n)
	}
	sort.Strings(m.Protocols)
	return m
}
