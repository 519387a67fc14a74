package types

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

// LeafKind tags the variant of a position leaf
type LeafKind string

const (
	LeafSupplied   LeafKind = "supplied"
	LeafBorrowed   LeafKind = "borrowed"
	LeafLiquidity  LeafKind = "liquidity"
	LeafStaked     LeafKind = "staked"
	LeafDerivative LeafKind = "derivative"
)

// Leaf is one entry of a position's detail. The set of implementations is
// closed: SuppliedLeaf, BorrowedLeaf, LiquidityLeaf, StakedLeaf, DerivativeLeaf.
type Leaf interface {
	Kind() LeafKind
	// Contribution is the signed amount this leaf adds to the position total
	Contribution() decimal.Decimal
	// PricedAssets lists every identifier whose price this leaf needs
	PricedAssets() []AssetIdentifier
	isLeaf()
}

// TokenAmount is a single-asset holding inside a protocol
type TokenAmount struct {
	Asset  AssetIdentifier `json:"asset"`
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
	Value  decimal.Decimal `json:"value"`
}

// SuppliedLeaf is collateral or a deposit
type SuppliedLeaf struct{ TokenAmount }

// BorrowedLeaf is debt; it reduces the position total
type BorrowedLeaf struct{ TokenAmount }

// StakedLeaf is a staked or farmed balance
type StakedLeaf struct{ TokenAmount }

// DerivativeLeaf is margin or a vault share in a derivatives venue
type DerivativeLeaf struct {
	TokenAmount
	Market string `json:"market,omitempty"`
}

// UnderlyingAmount is one constituent of a pooled position. Amount is nil when
// the pool share could not be computed.
type UnderlyingAmount struct {
	Asset  AssetIdentifier  `json:"asset"`
	Symbol string           `json:"symbol"`
	Amount *decimal.Decimal `json:"amount"`
}

// LiquidityLeaf is an LP or vault share
type LiquidityLeaf struct {
	LPToken     AssetIdentifier    `json:"lpToken"`
	Symbol      string             `json:"symbol"`
	LPAmount    decimal.Decimal    `json:"lpAmount"`
	Pool        string             `json:"pool,omitempty"`
	Underlying  []UnderlyingAmount `json:"underlying,omitempty"`
	AmountKnown bool               `json:"amountKnown"`
	PriceSource PriceSource        `json:"priceSource,omitempty"`
	Value       decimal.Decimal    `json:"value"`
	// Reserves is the pool state Underlying was split from; not serialized
	Reserves *PoolReserves `json:"-"`
}

func (SuppliedLeaf) Kind() LeafKind   { return LeafSupplied }
func (BorrowedLeaf) Kind() LeafKind   { return LeafBorrowed }
func (StakedLeaf) Kind() LeafKind     { return LeafStaked }
func (DerivativeLeaf) Kind() LeafKind { return LeafDerivative }
func (LiquidityLeaf) Kind() LeafKind  { return LeafLiquidity }

func (l SuppliedLeaf) Contribution() decimal.Decimal   { return l.Value }
func (l BorrowedLeaf) Contribution() decimal.Decimal   { return l.Value.Neg() }
func (l StakedLeaf) Contribution() decimal.Decimal     { return l.Value }
func (l DerivativeLeaf) Contribution() decimal.Decimal { return l.Value }
func (l LiquidityLeaf) Contribution() decimal.Decimal  { return l.Value }

func (l SuppliedLeaf) PricedAssets() []AssetIdentifier   { return []AssetIdentifier{l.Asset} }
func (l BorrowedLeaf) PricedAssets() []AssetIdentifier   { return []AssetIdentifier{l.Asset} }
func (l StakedLeaf) PricedAssets() []AssetIdentifier     { return []AssetIdentifier{l.Asset} }
func (l DerivativeLeaf) PricedAssets() []AssetIdentifier { return []AssetIdentifier{l.Asset} }

func (l LiquidityLeaf) PricedAssets() []AssetIdentifier {
	ids := []AssetIdentifier{l.LPToken}
	for _, u := range l.Underlying {
		ids = append(ids, u.Asset)
	}
	return ids
}

func (SuppliedLeaf) isLeaf()   {}
func (BorrowedLeaf) isLeaf()   {}
func (StakedLeaf) isLeaf()     {}
func (DerivativeLeaf) isLeaf() {}
func (LiquidityLeaf) isLeaf()  {}

// DetectionSource identifies which detector produced a position
type DetectionSource string

const (
	SourceProtocolChecker DetectionSource = "protocol_checker"
	SourceWalletScanner   DetectionSource = "wallet_scanner"
)

// PositionKey identifies a position for deduplication
type PositionKey struct {
	Protocol string
	Address  string
}

// Position is a wallet's holding inside one protocol
type Position struct {
	Protocol     string          `json:"protocol"`
	ProtocolType ProtocolType    `json:"protocolType"`
	PositionType PositionType    `json:"positionType"`
	Address      string          `json:"address"`
	Leaves       []Leaf          `json:"-"`
	IsActive     bool            `json:"isActive"`
	IsPooled     bool            `json:"isPooled"`
	Source       DetectionSource `json:"source"`
}

// Key returns the (protocol, address) deduplication key
func (p Position) Key() PositionKey {
	return PositionKey{Protocol: p.Protocol, Address: p.Address}
}

// TotalValueUSD sums the leaves' contributions
func (p Position) TotalValueUSD() decimal.Decimal {
	total := decimal.Zero
	for _, l := range p.Leaves {
		total = total.Add(l.Contribution())
	}
	return total
}

// PricedAssets lists every identifier referenced by the position's leaves
func (p Position) PricedAssets() []AssetIdentifier {
	var ids []AssetIdentifier
	for _, l := range p.Leaves {
		ids = append(ids, l.PricedAssets()...)
	}
	return ids
}

type leafEnvelope struct {
	Kind LeafKind        `json:"kind"`
	Data jsoniter.RawMessage `json:"data"`
}

// MarshalJSON writes leaves as tagged envelopes and adds the derived total
func (p Position) MarshalJSON() ([]byte, error) {
	type plain Position
	leaves := make([]leafEnvelope, 0, len(p.Leaves))
	for _, l := range p.Leaves {
		data, err := json.Marshal(l)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, leafEnvelope{Kind: l.Kind(), Data: data})
	}
	return json.Marshal(struct {
		plain
		Leaves        []leafEnvelope  `json:"leaves"`
		TotalValueUSD decimal.Decimal `json:"totalValueUsd"`
	}{plain: plain(p), Leaves: leaves, TotalValueUSD: p.TotalValueUSD()})
}

// UnmarshalJSON decodes tagged leaf envelopes back into concrete leaves
func (p *Position) UnmarshalJSON(data []byte) error {
	type plain Position
	aux := struct {
		*plain
		Leaves []leafEnvelope `json:"leaves"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.Leaves = make([]Leaf, 0, len(aux.Leaves))
	for _, env := range aux.Leaves {
		leaf, err := decodeLeaf(env)
		if err != nil {
			return err
		}
		p.Leaves = append(p.Leaves, leaf)
	}
	return nil
}

func decodeLeaf(env leafEnvelope) (Leaf, error) {
	switch env.Kind {
	case LeafSupplied:
		var l SuppliedLeaf
		err := json.Unmarshal(env.Data, &l)
		return l, err
	case LeafBorrowed:
		var l BorrowedLeaf
		err := json.Unmarshal(env.Data, &l)
		return l, err
	case LeafStaked:
		var l StakedLeaf
		err := json.Unmarshal(env.Data, &l)
		return l, err
	case LeafDerivative:
		var l DerivativeLeaf
		err := json.Unmarshal(env.Data, &l)
		return l, err
	case LeafLiquidity:
		var l LiquidityLeaf
		err := json.Unmarshal(env.Data, &l)
		return l, err
	default:
		return nil, fmt.Errorf("unknown leaf kind %q", env.Kind)
	}
}
