package types

import (
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "short framework address",
			input: "0x1",
			want:  "0x0000000000000000000000000000000000000000000000000000000000000001",
		},
		{
			name:  "full address is lowercased",
			input: "0xB4A8B8462B4423780D6EE256F3A9A3B9ECE5D9440D614F7AB2BFA4556AA4F69D",
			want:  "0xb4a8b8462b4423780d6ee256f3a9a3b9ece5d9440d614f7ab2bfa4556aa4f69d",
		},
		{name: "missing prefix", input: "1234", wantErr: true},
		{name: "not hex", input: "0xzz", wantErr: true},
		{name: "empty", input: "0x", wantErr: true},
		{name: "too long", input: "0x" + "11" + "0000000000000000000000000000000000000000000000000000000000000000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAddress(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAssetIdentifierForms(t *testing.T) {
	id := AssetIdentifier("0x1::aptos_coin::AptosCoin")
	long := id.Canonical()

	assert.Equal(t, AssetIdentifier("0x0000000000000000000000000000000000000000000000000000000000000001::aptos_coin::AptosCoin"), long)
	assert.Equal(t, id, long.Short())
	assert.Equal(t, "0x1", id.Address())
	assert.Equal(t, "::aptos_coin::AptosCoin", id.Path())

	// Non-hex identifiers are left alone
	odd := AssetIdentifier("not-an-address::x::Y")
	assert.Equal(t, odd, odd.Canonical())
}

func TestEffectiveDecimalsDefaultsToEight(t *testing.T) {
	assert.Equal(t, 8, AssetMetadata{}.EffectiveDecimals())
	assert.Equal(t, 6, AssetMetadata{Decimals: IntPtr(6)}.EffectiveDecimals())
	assert.Equal(t, 0, AssetMetadata{Decimals: IntPtr(0)}.EffectiveDecimals())
}

func TestPricedAssetValue(t *testing.T) {
	// 1,000,000,000 raw units, 8 decimals, $10.00
	asset := PricedAsset{
		Identifier: NativeAssetID,
		Metadata:   AssetMetadata{Symbol: "APT", Decimals: IntPtr(8)},
		RawBalance: big.NewInt(1_000_000_000),
		Price:      decimal.NewFromInt(10),
	}

	assert.True(t, asset.NormalizedBalance().Equal(decimal.NewFromInt(10)))
	assert.True(t, asset.USDValue().Equal(decimal.NewFromInt(100)))
}

func TestPricedAssetJSONCarriesDerivedValues(t *testing.T) {
	asset := PricedAsset{
		Identifier:  "0x1::coin::X",
		RawBalance:  big.NewInt(250_000_000),
		Price:       decimal.RequireFromString("2"),
		PriceSource: SourceQuoted,
	}

	data, err := json.Marshal(asset)
	require.NoError(t, err)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "250000000", wire["rawBalance"])
	assert.Equal(t, "5", wire["usdValue"])

	var back PricedAsset
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 0, back.RawBalance.Cmp(asset.RawBalance))
	assert.True(t, back.USDValue().Equal(asset.USDValue()))
}

func TestPositionTotalIsSumOfLeaves(t *testing.T) {
	pos := Position{
		Protocol: "Aries",
		Address:  "0xabc",
		Leaves: []Leaf{
			SuppliedLeaf{TokenAmount{Asset: "0x1::a::A", Value: decimal.NewFromInt(120)}},
			BorrowedLeaf{TokenAmount{Asset: "0x1::b::B", Value: decimal.NewFromInt(20)}},
			LiquidityLeaf{LPToken: "0x1::lp::LP<0x1::a::A, 0x1::b::B>", Value: decimal.NewFromInt(5)},
		},
	}

	assert.True(t, pos.TotalValueUSD().Equal(decimal.NewFromInt(105)))
	assert.Len(t, pos.PricedAssets(), 3)
}

func TestPositionJSONPreservesLeafVariants(t *testing.T) {
	amount := decimal.NewFromInt(3)
	pos := Position{
		Protocol:     "Thala Farm",
		ProtocolType: ProtocolFarming,
		Address:      "0xabc",
		IsPooled:     true,
		Leaves: []Leaf{
			StakedLeaf{TokenAmount{Asset: "0x1::s::S", Symbol: "S", Amount: decimal.NewFromInt(1), Value: decimal.NewFromInt(2)}},
			LiquidityLeaf{
				LPToken:     "0x1::lp::LP<0x1::a::A, 0x1::b::B>",
				AmountKnown: true,
				Underlying:  []UnderlyingAmount{{Asset: "0x1::a::A", Amount: &amount}},
				Value:       decimal.NewFromInt(7),
			},
			DerivativeLeaf{TokenAmount: TokenAmount{Asset: "0x1::m::M", Value: decimal.NewFromInt(1)}, Market: "perp"},
		},
	}

	data, err := json.Marshal(pos)
	require.NoError(t, err)

	var back Position
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back.Leaves, 3)
	assert.IsType(t, StakedLeaf{}, back.Leaves[0])
	assert.IsType(t, LiquidityLeaf{}, back.Leaves[1])
	assert.IsType(t, DerivativeLeaf{}, back.Leaves[2])
	assert.True(t, back.TotalValueUSD().Equal(pos.TotalValueUSD()))
	assert.Equal(t, pos.Key(), back.Key())
}

func TestParseRawAmount(t *testing.T) {
	v, ok := ParseRawAmount("123456789012345678901234567890")
	assert.True(t, ok)
	assert.Equal(t, "123456789012345678901234567890", v.String())

	for _, bad := range []string{"", "abc", "-5", "1.5"} {
		v, ok := ParseRawAmount(bad)
		assert.False(t, ok, bad)
		assert.Equal(t, 0, v.Sign(), bad)
	}
}

func TestNormalizeAmountProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("normalizing then scaling back restores the raw amount", prop.ForAll(
		func(raw int64, decimals int) bool {
			n := NormalizeAmount(big.NewInt(raw), decimals)
			back := n.Shift(int32(decimals)) // #nosec G115
			return back.Equal(decimal.NewFromInt(raw))
		},
		gen.Int64Range(0, 1<<52),
		gen.IntRange(0, 18),
	))

	properties.Property("short and canonical forms round-trip", prop.ForAll(
		func(n uint64) bool {
			addr := "0x" + new(big.Int).SetUint64(n).Text(16)
			id := AssetIdentifier(addr + "::m::T")
			return id.Canonical().Short().Canonical() == id.Canonical()
		},
		gen.UInt64(),
	))

	properties.TestingRun(t)
}
