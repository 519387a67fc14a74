package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-valuator/internal/errors"
	"github.com/portfolio-valuator/internal/types"
)

// assetRow is one row of balance_history
type assetRow struct {
	Wallet     string
	Date       time.Time
	Asset      string
	Amount     decimal.Decimal
	Strategy   string
	RecordedAt time.Time
}

// totalRow is one row of balance_history_totals
type totalRow struct {
	Wallet     string
	Date       time.Time
	TotalUSD   decimal.Decimal
	Strategy   string
	RecordedAt time.Time
}

// BalanceSnapshotRepository persists reconstructed daily balance series
type BalanceSnapshotRepository struct {
	db  *ClickHouseDB
	now func() time.Time
}

// NewBalanceSnapshotRepository creates a new balance snapshot repository
func NewBalanceSnapshotRepository(db *ClickHouseDB) *BalanceSnapshotRepository {
	return &BalanceSnapshotRepository{db: db, now: time.Now}
}

// SaveSeries writes one wallet's series. Rows for a day already stored are
// replaced on merge.
func (r *BalanceSnapshotRepository) SaveSeries(ctx context.Context, wallet string, series []types.BalanceSnapshot) error {
	if len(series) == 0 {
		return nil
	}
	assets, totals := historyRows(wallet, series, r.now().UTC())

	if len(assets) > 0 {
		batch, err := r.db.Conn().PrepareBatch(ctx, `
			INSERT INTO balance_history (wallet, date, asset, amount, strategy, recorded_at)
		`)
		if err != nil {
			return errors.NewDatabaseError("prepare balance batch", err)
		}
		for _, row := range assets {
			if err := batch.Append(row.Wallet, row.Date, row.Asset, row.Amount, row.Strategy, row.RecordedAt); err != nil {
				return fmt.Errorf("failed to append to batch: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return errors.NewDatabaseError("insert balances", err)
		}
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO balance_history_totals (wallet, date, total_usd, strategy, recorded_at)
	`)
	if err != nil {
		return errors.NewDatabaseError("prepare totals batch", err)
	}
	for _, row := range totals {
		if err := batch.Append(row.Wallet, row.Date, row.TotalUSD, row.Strategy, row.RecordedAt); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return errors.NewDatabaseError("insert totals", err)
	}
	return nil
}

// GetSeries reads a stored series for from <= date <= to, oldest first
func (r *BalanceSnapshotRepository) GetSeries(ctx context.Context, wallet string, from, to time.Time) ([]types.BalanceSnapshot, error) {
	wallet = strings.ToLower(wallet)

	totalRows, err := r.db.Conn().Query(ctx, `
		SELECT wallet, date, total_usd, strategy, recorded_at
		FROM balance_history_totals FINAL
		WHERE wallet = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, wallet, from, to)
	if err != nil {
		return nil, errors.NewDatabaseError("query totals", err)
	}
	defer totalRows.Close()

	var totals []totalRow
	for totalRows.Next() {
		var t totalRow
		if err := totalRows.Scan(&t.Wallet, &t.Date, &t.TotalUSD, &t.Strategy, &t.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan total: %w", err)
		}
		totals = append(totals, t)
	}
	if err := totalRows.Err(); err != nil {
		return nil, errors.NewDatabaseError("read totals", err)
	}

	assetRows, err := r.db.Conn().Query(ctx, `
		SELECT wallet, date, asset, amount, strategy, recorded_at
		FROM balance_history FINAL
		WHERE wallet = ? AND date >= ? AND date <= ?
		ORDER BY date ASC, asset ASC
	`, wallet, from, to)
	if err != nil {
		return nil, errors.NewDatabaseError("query balances", err)
	}
	defer assetRows.Close()

	var assets []assetRow
	for assetRows.Next() {
		var a assetRow
		if err := assetRows.Scan(&a.Wallet, &a.Date, &a.Asset, &a.Amount, &a.Strategy, &a.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		assets = append(assets, a)
	}
	if err := assetRows.Err(); err != nil {
		return nil, errors.NewDatabaseError("read balances", err)
	}

	return assembleSeries(assets, totals), nil
}

// historyRows flattens a series into table rows. Dates are truncated to
// the day; zero balances are not stored.
func historyRows(wallet string, series []types.BalanceSnapshot, recordedAt time.Time) ([]assetRow, []totalRow) {
	wallet = strings.ToLower(wallet)
	var (
		assets []assetRow
		totals = make([]totalRow, 0, len(series))
	)
	for _, snap := range series {
		day := snap.Date.UTC().Truncate(24 * time.Hour)
		totals = append(totals, totalRow{
			Wallet:     wallet,
			Date:       day,
			TotalUSD:   snap.TotalUSDValue,
			Strategy:   string(snap.Strategy),
			RecordedAt: recordedAt,
		})

		ids := make([]string, 0, len(snap.PerAsset))
		for id, amount := range snap.PerAsset {
			if amount.IsZero() {
				continue
			}
			ids = append(ids, string(id))
		}
		sort.Strings(ids)
		for _, id := range ids {
			assets = append(assets, assetRow{
				Wallet:     wallet,
				Date:       day,
				Asset:      id,
				Amount:     snap.PerAsset[types.AssetIdentifier(id)],
				Strategy:   string(snap.Strategy),
				RecordedAt: recordedAt,
			})
		}
	}
	return assets, totals
}

// assembleSeries is the inverse of historyRows. Days come from the totals
// table; balances without a total row are ignored.
func assembleSeries(assets []assetRow, totals []totalRow) []types.BalanceSnapshot {
	byDay := make(map[time.Time]int, len(totals))
	out := make([]types.BalanceSnapshot, 0, len(totals))
	for _, t := range totals {
		day := t.Date.UTC()
		byDay[day] = len(out)
		out = append(out, types.BalanceSnapshot{
			Date:          day,
			PerAsset:      make(map[types.AssetIdentifier]decimal.Decimal),
			TotalUSDValue: t.TotalUSD,
			Strategy:      types.ReplayStrategy(t.Strategy),
		})
	}
	for _, a := range assets {
		i, ok := byDay[a.Date.UTC()]
		if !ok {
			continue
		}
		out[i].PerAsset[types.AssetIdentifier(a.Asset)] = a.Amount
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
