package types

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ClassificationKind is the outcome of asset classification
type ClassificationKind string

const (
	ClassScam             ClassificationKind = "scam"
	ClassLegitimateStable ClassificationKind = "legitimate_stable"
	ClassPhantom          ClassificationKind = "phantom"
	ClassTradable         ClassificationKind = "tradable"
)

// Classification is a mutually exclusive verdict on an asset. Reason names the
// protocol for phantom assets and the matched rule for scams.
type Classification struct {
	Kind   ClassificationKind `json:"kind"`
	Reason string             `json:"reason,omitempty"`
}

// IsScam reports whether the asset must be dropped
func (c Classification) IsScam() bool { return c.Kind == ClassScam }

// PriceSource records where a price came from
type PriceSource string

const (
	SourceOverride  PriceSource = "override"
	SourceQuoted    PriceSource = "quoted"
	SourceSecondary PriceSource = "secondary"
	SourceEstimated PriceSource = "estimated"
	SourceUnknown   PriceSource = "unknown"
)

// PriceResult is a resolved USD price. Unknown results always carry zero.
type PriceResult struct {
	Price  decimal.Decimal `json:"price"`
	Source PriceSource     `json:"source"`
}

// UnknownPrice is the result for an asset no source could price
func UnknownPrice() PriceResult {
	return PriceResult{Price: decimal.Zero, Source: SourceUnknown}
}

// IsKnown reports whether any source priced the asset
func (p PriceResult) IsKnown() bool { return p.Source != SourceUnknown && p.Source != "" }

// PricedAsset is a classified, priced wallet holding. The normalized balance
// and USD value are derived on every read and never stored.
type PricedAsset struct {
	Identifier     AssetIdentifier `json:"identifier"`
	Metadata       AssetMetadata   `json:"metadata"`
	Standard       AssetStandard   `json:"standard,omitempty"`
	RawBalance     *big.Int        `json:"rawBalance"`
	Price          decimal.Decimal `json:"price"`
	PriceSource    PriceSource     `json:"priceSource"`
	Classification Classification  `json:"classification"`
}

// NormalizedBalance returns RawBalance / 10^decimals
func (a PricedAsset) NormalizedBalance() decimal.Decimal {
	return NormalizeAmount(a.RawBalance, a.Metadata.EffectiveDecimals())
}

// USDValue returns NormalizedBalance * Price
func (a PricedAsset) USDValue() decimal.Decimal {
	return a.NormalizedBalance().Mul(a.Price)
}

// MarshalJSON adds the derived fields to the wire form
func (a PricedAsset) MarshalJSON() ([]byte, error) {
	type plain PricedAsset
	raw := "0"
	if a.RawBalance != nil {
		raw = a.RawBalance.String()
	}
	return json.Marshal(struct {
		plain
		RawBalance        string          `json:"rawBalance"`
		NormalizedBalance decimal.Decimal `json:"normalizedBalance"`
		USDValue          decimal.Decimal `json:"usdValue"`
	}{
		plain:             plain(a),
		RawBalance:        raw,
		NormalizedBalance: a.NormalizedBalance(),
		USDValue:          a.USDValue(),
	})
}

// UnmarshalJSON restores a priced asset; derived fields are ignored
func (a *PricedAsset) UnmarshalJSON(data []byte) error {
	type plain PricedAsset
	aux := struct {
		*plain
		RawBalance string `json:"rawBalance"`
	}{plain: (*plain)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	a.RawBalance, _ = ParseRawAmount(aux.RawBalance)
	return nil
}
