package service

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/portfolio-valuator/internal/metrics"
	"github.com/portfolio-valuator/internal/registry"
	"github.com/portfolio-valuator/internal/types"
)

// checkerConcurrency bounds reserve lookups per wallet
const checkerConcurrency = 4

// Resource data fields that carry debt in lending layouts
var debtFields = []string{"borrowed", "debt", "borrow_amount"}

// Resource data fields that carry deposits in lending layouts
var supplyFields = []string{"deposited", "collateral", "supply_amount"}

const coinStoreMarker = "::coin::CoinStore<"

// ResourceSource lists the typed resources stored under an account
type ResourceSource interface {
	AccountResources(ctx context.Context, address string) ([]types.AccountResource, error)
}

// PositionChecker reads a wallet's account resources once and builds one
// position per registered protocol found among them
type PositionChecker struct {
	registry  *registry.Registry
	resources ResourceSource
	leaves    leafBuilder
	metrics   *metrics.Metrics
}

// NewPositionChecker creates a checker. reserves and m may be nil.
func NewPositionChecker(reg *registry.Registry, resources ResourceSource, reserves ReserveSource, m *metrics.Metrics) *PositionChecker {
	return &PositionChecker{
		registry:  reg,
		resources: resources,
		leaves:    leafBuilder{registry: reg, reserves: reserves},
		metrics:   m,
	}
}

type resourceGroup struct {
	protocol  registry.Protocol
	address   string
	resources []types.AccountResource
}

// Check returns the wallet's active protocol positions, active first then by
// protocol name. Leaves carry amounts only; ValuePositions prices them.
func (c *PositionChecker) Check(ctx context.Context, wallet string) ([]types.Position, error) {
	resources, err := c.resources.AccountResources(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account resources: %w", err)
	}

	groups := c.group(resources)
	positions := make([]types.Position, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(checkerConcurrency)
	for i, grp := range groups {
		i, grp := i, grp
		g.Go(func() error {
			positions[i] = c.buildPosition(gctx, grp)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	active := make([]types.Position, 0, len(positions))
	for _, p := range positions {
		if p.IsActive {
			active = append(active, p)
		}
	}
	sortPositions(active)
	c.metrics.CountPositions("checker", len(active))
	return active, nil
}

// group buckets resources by the protocol and registered address they
// belong to, in order of first appearance. Coin stores are attributed by the
// coin they hold; infrastructure protocols are skipped.
func (c *PositionChecker) group(resources []types.AccountResource) []*resourceGroup {
	var groups []*resourceGroup
	index := make(map[types.PositionKey]*resourceGroup)
	for _, r := range resources {
		subject := r.Type
		if inner, ok := coinStoreInner(r.Type); ok {
			subject = inner
		}
		p, addr, ok := c.registry.Match(subject)
		if !ok || p.Type == types.ProtocolInfrastructure {
			continue
		}
		key := types.PositionKey{Protocol: p.Name, Address: addr}
		grp, ok := index[key]
		if !ok {
			grp = &resourceGroup{protocol: p, address: addr}
			index[key] = grp
			groups = append(groups, grp)
		}
		grp.resources = append(grp.resources, r)
	}
	return groups
}

func (c *PositionChecker) buildPosition(ctx context.Context, grp *resourceGroup) types.Position {
	pos := types.Position{
		Protocol:     grp.protocol.Name,
		ProtocolType: grp.protocol.Type,
		PositionType: types.PositionTypeFor(grp.protocol.Type),
		Address:      grp.address,
		Source:       types.SourceProtocolChecker,
	}

	richResource := false
	for _, r := range grp.resources {
		if inner, ok := coinStoreInner(r.Type); ok {
			if leaf, ok := c.coinStoreLeaf(ctx, grp.protocol, types.AssetIdentifier(inner), r.Data); ok {
				pos.Leaves = append(pos.Leaves, leaf)
			}
			continue
		}
		// a coin store is active only through its balance
		if len(r.Data) > 1 {
			richResource = true
		}
		pos.Leaves = append(pos.Leaves, c.fieldLeaves(grp.protocol, r)...)
	}

	for _, l := range pos.Leaves {
		if leafIsNonZero(l) {
			pos.IsActive = true
			break
		}
	}
	if richResource {
		pos.IsActive = true
	}
	pos.IsPooled = isPooledPosition(grp.protocol, pos.Leaves)
	return pos
}

func (c *PositionChecker) coinStoreLeaf(ctx context.Context, p registry.Protocol, coin types.AssetIdentifier, data map[string]interface{}) (types.Leaf, bool) {
	coinData, _ := data["coin"].(map[string]interface{})
	raw, ok := rawAmount(coinData["value"])
	if !ok {
		return nil, false
	}
	symbol := SymbolFor(coin)
	amount := types.NormalizeAmount(raw, c.leaves.decimalsFor(coin))
	if IsPooledType(string(coin)) {
		return c.leaves.liquidityLeaf(ctx, coin, symbol, amount), true
	}
	return c.leaves.tokenLeaf(p, coin, symbol, amount), true
}

// fieldLeaves reads supply and debt fields of lending layouts. The asset is
// the resource's first generic argument when it has one.
func (c *PositionChecker) fieldLeaves(p registry.Protocol, r types.AccountResource) []types.Leaf {
	if p.Type != types.ProtocolLending {
		return nil
	}
	asset := types.AssetIdentifier(r.Type)
	if args, ok := genericArgs(r.Type); ok && len(args) > 0 {
		asset = types.AssetIdentifier(args[0])
	}
	symbol := SymbolFor(asset)
	decimals := c.leaves.decimalsFor(asset)

	var leaves []types.Leaf
	for _, f := range supplyFields {
		if raw, ok := rawAmount(r.Data[f]); ok && raw.Sign() > 0 {
			leaves = append(leaves, c.leaves.tokenLeaf(p, asset, symbol, types.NormalizeAmount(raw, decimals)))
		}
	}
	for _, f := range debtFields {
		if raw, ok := rawAmount(r.Data[f]); ok && raw.Sign() > 0 {
			leaves = append(leaves, borrowedLeaf(asset, symbol, raw, decimals))
		}
	}
	return leaves
}

func borrowedLeaf(asset types.AssetIdentifier, symbol string, raw *big.Int, decimals int) types.Leaf {
	return types.BorrowedLeaf{TokenAmount: types.TokenAmount{
		Asset:  asset,
		Symbol: symbol,
		Amount: types.NormalizeAmount(raw, decimals),
	}}
}

// coinStoreInner returns T from 0x1::coin::CoinStore<T>
func coinStoreInner(resourceType string) (string, bool) {
	i := strings.Index(resourceType, coinStoreMarker)
	if i < 0 || !strings.HasSuffix(resourceType, ">") {
		return "", false
	}
	inner := resourceType[i+len(coinStoreMarker) : len(resourceType)-1]
	return strings.TrimSpace(inner), inner != ""
}

// genericArgs splits the outermost generic argument list without dropping
// any argument
func genericArgs(typeSignature string) ([]string, bool) {
	open := strings.IndexByte(typeSignature, '<')
	if open < 0 || !strings.HasSuffix(typeSignature, ">") {
		return nil, false
	}
	var (
		args  []string
		depth int
		start = open + 1
	)
	body := typeSignature[:len(typeSignature)-1]
	for i := open + 1; i < len(body); i++ {
		switch body[i] {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(body[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, false
	}
	return append(args, strings.TrimSpace(body[start:])), true
}
