package service

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/portfolio-valuator/internal/logging"
	"github.com/portfolio-valuator/internal/metrics"
	"github.com/portfolio-valuator/internal/registry"
	"github.com/portfolio-valuator/internal/types"
)

// DeFiDetector finds protocol positions among assets the wallet already
// holds, by matching each identifier against the registry's address space
type DeFiDetector struct {
	registry *registry.Registry
	leaves   leafBuilder
	metrics  *metrics.Metrics
}

// NewDeFiDetector creates a wallet-asset scanner. reserves and m may be nil.
func NewDeFiDetector(reg *registry.Registry, reserves ReserveSource, m *metrics.Metrics) *DeFiDetector {
	return &DeFiDetector{
		registry: reg,
		leaves:   leafBuilder{registry: reg, reserves: reserves},
		metrics:  m,
	}
}

type scanMatch struct {
	asset    types.PricedAsset
	protocol registry.Protocol
	key      types.PositionKey
	symbol   string
	pooled   bool
}

// Scan synthesizes one position per (protocol, registered address) from the
// held assets that fall inside it. Pooled tokens are decomposed best-effort,
// with at most checkerConcurrency reserve lookups in flight. When ctx ends
// first the positions found so far are returned along with ctx's error.
func (d *DeFiDetector) Scan(ctx context.Context, assets []types.PricedAsset, wallet string) ([]types.Position, error) {
	var matches []scanMatch
	for _, a := range assets {
		if a.RawBalance == nil || a.RawBalance.Sign() <= 0 || a.Classification.IsScam() {
			continue
		}
		p, addr, ok := d.registry.Match(string(a.Identifier))
		if !ok || p.Type == types.ProtocolInfrastructure {
			continue
		}
		symbol := a.Metadata.Symbol
		if symbol == "" {
			symbol = SymbolFor(a.Identifier)
		}
		matches = append(matches, scanMatch{
			asset:    a,
			protocol: p,
			key:      types.PositionKey{Protocol: p.Name, Address: addr},
			symbol:   symbol,
			pooled:   IsPooledType(string(a.Identifier)) || isLPSymbol(symbol),
		})
	}

	leaves := make([]types.Leaf, len(matches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(checkerConcurrency)
	for i, m := range matches {
		i, m := i, m
		amount := m.asset.NormalizedBalance()
		if !m.pooled {
			leaves[i] = d.leaves.tokenLeaf(m.protocol, m.asset.Identifier, m.symbol, amount)
			continue
		}
		g.Go(func() error {
			leaves[i] = d.leaves.liquidityLeaf(gctx, m.asset.Identifier, m.symbol, amount)
			return nil
		})
	}
	_ = g.Wait()

	var positions []types.Position
	index := make(map[types.PositionKey]int)
	protocols := make(map[types.PositionKey]registry.Protocol)
	for i, m := range matches {
		at, ok := index[m.key]
		if !ok {
			at = len(positions)
			index[m.key] = at
			protocols[m.key] = m.protocol
			positions = append(positions, types.Position{
				Protocol:     m.protocol.Name,
				ProtocolType: m.protocol.Type,
				PositionType: types.PositionTypeFor(m.protocol.Type),
				Address:      m.key.Address,
				IsActive:     true,
				Source:       types.SourceWalletScanner,
			})
		}
		positions[at].Leaves = append(positions[at].Leaves, leaves[i])
	}

	for i := range positions {
		positions[i].IsPooled = isPooledPosition(protocols[positions[i].Key()], positions[i].Leaves)
	}
	sortPositions(positions)

	logging.FromContext(ctx).Named("scanner").WithFields(map[string]interface{}{
		"wallet":    wallet,
		"positions": len(positions),
	}).Debug("wallet assets scanned")
	d.metrics.CountPositions("scanner", len(positions))
	return positions, ctx.Err()
}

// isLPSymbol recognises LP share symbols such as THALA-LP or MKLP
func isLPSymbol(symbol string) bool {
	upper := strings.ToUpper(symbol)
	return upper == "LP" ||
		strings.HasSuffix(upper, "-LP") ||
		strings.HasPrefix(upper, "LP-") ||
		strings.Contains(upper, "MKLP")
}
