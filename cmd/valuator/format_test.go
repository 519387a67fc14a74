package main

import (
	"bytes"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-valuator/internal/types"
)

func TestUSD(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "$0.00"},
		{"21.25", "$21.25"},
		{"1234.567", "$1,234.57"},
		{"0.004", "$0.00"},
		{"-5.5", "-$5.50"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, usd(decimal.RequireFromString(tt.in)))
		})
	}
}

func TestParseAsOf(t *testing.T) {
	got, err := parseAsOf("")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseAsOf("2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 23, 59, 59, 0, time.UTC), *got)

	got, err = parseAsOf("2026-03-01T12:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), *got)

	_, err = parseAsOf("yesterday")
	assert.Error(t, err)
}

func TestWriteSnapshot(t *testing.T) {
	dec := 8
	snap := &types.PortfolioSnapshot{
		Wallet: "0xa11ce",
		AsOf:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Assets: []types.PricedAsset{
			{
				Identifier: "0x1::aptos_coin::AptosCoin",
				Metadata:   types.AssetMetadata{Symbol: "APT", Decimals: &dec},
				RawBalance: big.NewInt(250000000),
				Price:      decimal.RequireFromString("8.5"),
			},
		},
		TotalValueUSD: decimal.RequireFromString("21.25"),
		Degraded:      []string{"positions"},
	}

	var buf bytes.Buffer
	require.NoError(t, writeSnapshot(&buf, snap))
	out := buf.String()
	assert.Contains(t, out, "Total:   $21.25")
	assert.Contains(t, out, "APT")
	assert.Contains(t, out, "2.5000")
	assert.Contains(t, out, "[positions]")
}

func TestShortAddress(t *testing.T) {
	assert.Equal(t, "0x1", shortAddress("0x1"))
	assert.Equal(t, "0x111ae3…542a", shortAddress("0x111ae3e5bc816a5e63c2da97d0aa3886519e0cd5e4b046659fa35796bd11542a"))
}
