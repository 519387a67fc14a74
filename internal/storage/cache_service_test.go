package storage

import (
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/portfolio-valuator/internal/errors"
	"github.com/portfolio-valuator/internal/types"
)

const (
	testWallet = "0xA11CE"
	testAPT    = types.AssetIdentifier("0x1::aptos_coin::AptosCoin")
	testAmAPT  = types.AssetIdentifier("0x111ae3e5bc816a5e63c2da97d0aa3886519e0cd5e4b046659fa35796bd11542a::amapt_token::AmnisApt")
)

func sampleSnapshot() *types.PortfolioSnapshot {
	decimals := 8
	return &types.PortfolioSnapshot{
		Wallet: testWallet,
		AsOf:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Assets: []types.PricedAsset{{
			Identifier:     testAPT,
			Metadata:       types.AssetMetadata{Name: "Aptos Coin", Symbol: "APT", Decimals: &decimals},
			RawBalance:     big.NewInt(250_000_000),
			Price:          decimal.RequireFromString("8.5"),
			PriceSource:    types.SourceQuoted,
			Classification: types.Classification{Kind: types.ClassTradable},
		}},
		Positions: []types.Position{{
			Protocol:     "amnis",
			ProtocolType: types.ProtocolLiquidStaking,
			PositionType: types.PositionStaking,
			Address:      "0x111ae3e5bc816a5e63c2da97d0aa3886519e0cd5e4b046659fa35796bd11542a",
			Leaves: []types.Leaf{types.StakedLeaf{TokenAmount: types.TokenAmount{
				Asset:  testAmAPT,
				Symbol: "amAPT",
				Amount: decimal.RequireFromString("1.5"),
				Value:  decimal.RequireFromString("12.75"),
			}}},
			IsActive: true,
			Source:   types.SourceWalletScanner,
		}},
		TotalValueUSD: decimal.RequireFromString("33.99"),
		InputsVersion: "v1",
	}
}

func TestSnapshotKey(t *testing.T) {
	assert.Equal(t, "snapshot:0xa11ce:2026-03-01:abc", SnapshotKey(testWallet, "2026-03-01", "ABC"))
	assert.Equal(t, "snapshot", GenerateCacheKey(CacheKeySnapshot))
}

func TestCacheService_Defaults(t *testing.T) {
	cache, _ := newTestRedis(t)
	assert.Equal(t, DefaultSnapshotTTL, NewCacheService(cache, 0).TTL())
	assert.Equal(t, 5*time.Second, NewCacheService(cache, 5*time.Second).TTL())
}

func TestCacheService_SnapshotRoundTrip(t *testing.T) {
	cache, _ := newTestRedis(t)
	svc := NewCacheService(cache, time.Minute)
	ctx := testContext(t)

	got, found, err := svc.GetSnapshot(ctx, testWallet, "latest", "v1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)

	want := sampleSnapshot()
	require.NoError(t, svc.SetSnapshot(ctx, testWallet, "latest", "v1", want))

	got, found, err = svc.GetSnapshot(ctx, testWallet, "latest", "v1")
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, want.Wallet, got.Wallet)
	assert.True(t, want.AsOf.Equal(got.AsOf))
	assert.True(t, want.TotalValueUSD.Equal(got.TotalValueUSD))
	require.Len(t, got.Assets, 1)
	assert.Equal(t, 0, want.Assets[0].RawBalance.Cmp(got.Assets[0].RawBalance))
	assert.True(t, got.Assets[0].USDValue().Equal(decimal.RequireFromString("21.25")))
	require.Len(t, got.Positions, 1)
	require.Len(t, got.Positions[0].Leaves, 1)
	staked, ok := got.Positions[0].Leaves[0].(types.StakedLeaf)
	require.True(t, ok, "leaf kind survives the round trip")
	assert.Equal(t, testAmAPT, staked.Asset)
	assert.True(t, got.Positions[0].TotalValueUSD().Equal(decimal.RequireFromString("12.75")))

	assert.Equal(t, CacheStats{Hits: 1, Misses: 1}, svc.Stats())

	_, found, err = svc.GetSnapshot(ctx, testWallet, "latest", "v2")
	require.NoError(t, err)
	assert.False(t, found, "a new inputs version misses")
}

func TestCacheService_Expiry(t *testing.T) {
	cache, mr := newTestRedis(t)
	svc := NewCacheService(cache, time.Minute)
	ctx := testContext(t)

	require.NoError(t, svc.SetSnapshot(ctx, testWallet, "latest", "v1", sampleSnapshot()))
	mr.FastForward(61 * time.Second)

	_, found, err := svc.GetSnapshot(ctx, testWallet, "latest", "v1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCacheService_CorruptEntry(t *testing.T) {
	cache, mr := newTestRedis(t)
	svc := NewCacheService(cache, time.Minute)

	require.NoError(t, mr.Set(SnapshotKey(testWallet, "latest", "v1"), "{not json"))

	_, found, err := svc.GetSnapshot(testContext(t), testWallet, "latest", "v1")
	require.Error(t, err)
	assert.False(t, found)
	assert.Equal(t, apperrors.CategoryCache, apperrors.Categorize(err).Category)
	assert.Equal(t, int64(1), svc.Stats().Misses)
}

func TestCacheService_InvalidateWallet(t *testing.T) {
	cache, mr := newTestRedis(t)
	svc := NewCacheService(cache, time.Minute)
	ctx := testContext(t)

	require.NoError(t, svc.SetSnapshot(ctx, testWallet, "latest", "v1", sampleSnapshot()))
	require.NoError(t, svc.SetSnapshot(ctx, testWallet, "2026-03-01", "v1", sampleSnapshot()))
	require.NoError(t, svc.SetSnapshot(ctx, "0xb0b", "latest", "v1", sampleSnapshot()))

	n, err := svc.InvalidateWallet(ctx, testWallet)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"snapshot:0xb0b:latest:v1"}, mr.Keys())
}
