package service

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-valuator/internal/metrics"
	"github.com/portfolio-valuator/internal/registry"
	"github.com/portfolio-valuator/internal/types"
)

type mockCatalog struct {
	catalog types.PriceCatalog
	err     error
	calls   int
}

func (m *mockCatalog) FetchCatalog(ctx context.Context) (types.PriceCatalog, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.catalog, nil
}

type mockQuotes struct {
	quotes map[string]decimal.Decimal
	err    error
	asked  [][]string
}

func (m *mockQuotes) Quote(ctx context.Context, ids []string) (map[string]decimal.Decimal, error) {
	m.asked = append(m.asked, ids)
	if m.err != nil {
		return nil, m.err
	}
	return m.quotes, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestResolvePrices(t *testing.T) {
	mklp := types.AssetIdentifier("0x5ae6789dd2fec1a9ec9cccfb3acaf12e93d432f0a3a42c92fe1a9d490b7bbc06::house_lp::MKLP<0x1::x::USDC>")
	gold := types.AssetIdentifier("0x00cafe::gold::GOLD")

	catalog := &mockCatalog{catalog: types.PriceCatalog{
		"0xa":               dec("8.5"),
		"0xcafe::gold::GOLD": dec("2"),
		string(mklp):        dec("99"),
	}}
	quotes := &mockQuotes{quotes: map[string]decimal.Decimal{"bitcoin": dec("60000")}}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	r := NewPriceResolver(registry.MustDefault(), catalog, quotes, m)
	meta := map[types.AssetIdentifier]types.AssetMetadata{
		"0xbeef::btc::BTC": {Symbol: "BTC"},
		"0xbeef::x::NOPE":  {Symbol: "NOPE"},
	}

	got := r.ResolvePrices(context.Background(), []types.AssetIdentifier{
		types.NativeAssetID, mklp, gold, "0xbeef::btc::BTC", "0xbeef::x::NOPE", gold,
	}, meta)

	assert.Equal(t, 1, catalog.calls, "one batched catalog call")
	require.Len(t, got, 5)

	t.Run("override beats catalog", func(t *testing.T) {
		assert.Equal(t, types.SourceOverride, got[mklp].Source)
		assert.True(t, dec("1.05").Equal(got[mklp].Price))
	})
	t.Run("alias form", func(t *testing.T) {
		assert.Equal(t, types.SourceQuoted, got[types.NativeAssetID].Source)
		assert.True(t, dec("8.5").Equal(got[types.NativeAssetID].Price))
	})
	t.Run("short address form", func(t *testing.T) {
		assert.Equal(t, types.SourceQuoted, got[gold].Source)
		assert.True(t, dec("2").Equal(got[gold].Price))
	})
	t.Run("secondary for allow-listed symbol", func(t *testing.T) {
		assert.Equal(t, types.SourceSecondary, got["0xbeef::btc::BTC"].Source)
		require.Len(t, quotes.asked, 1)
		assert.Equal(t, []string{"bitcoin"}, quotes.asked[0])
	})
	t.Run("unknown is zero", func(t *testing.T) {
		assert.Equal(t, types.SourceUnknown, got["0xbeef::x::NOPE"].Source)
		assert.True(t, got["0xbeef::x::NOPE"].Price.IsZero())
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PriceResolutions.WithLabelValues("quoted")))
}

func TestResolvePricesCatalogFailureDegrades(t *testing.T) {
	catalog := &mockCatalog{err: errors.New("upstream 503")}
	quotes := &mockQuotes{quotes: map[string]decimal.Decimal{"aptos": dec("7")}}
	r := NewPriceResolver(registry.MustDefault(), catalog, quotes, nil)

	got := r.ResolvePrices(context.Background(),
		[]types.AssetIdentifier{types.NativeAssetID, "0xcafe::gold::GOLD"},
		map[types.AssetIdentifier]types.AssetMetadata{types.NativeAssetID: {Symbol: "APT"}})

	assert.Equal(t, types.SourceSecondary, got[types.NativeAssetID].Source)
	assert.True(t, dec("7").Equal(got[types.NativeAssetID].Price))
	assert.Equal(t, types.UnknownPrice(), got["0xcafe::gold::GOLD"])
}

func TestResolvePricesWithoutSources(t *testing.T) {
	r := NewPriceResolver(registry.MustDefault(), nil, nil, nil)
	got := r.ResolvePrices(context.Background(), []types.AssetIdentifier{"0xcafe::gold::GOLD", ""}, nil)

	require.Len(t, got, 1)
	assert.False(t, got["0xcafe::gold::GOLD"].IsKnown())
}

func TestResolvePricesSecondaryFailure(t *testing.T) {
	catalog := &mockCatalog{catalog: types.PriceCatalog{}}
	quotes := &mockQuotes{err: errors.New("rate limited")}
	r := NewPriceResolver(registry.MustDefault(), catalog, quotes, nil)

	got := r.ResolvePrices(context.Background(), []types.AssetIdentifier{types.NativeAssetID}, nil)
	assert.Equal(t, types.SourceUnknown, got[types.NativeAssetID].Source)
}
