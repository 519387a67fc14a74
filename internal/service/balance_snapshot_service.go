package service

import (
	"errors"
	"math/big"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-valuator/internal/types"
)

// ErrNoReplayBasis is returned when neither a complete history nor current
// balances are available to reconstruct a past balance
var ErrNoReplayBasis = errors.New("no replay basis: need complete history or current balances")

// ReplayInput carries everything a balance reconstruction needs
type ReplayInput struct {
	// CurrentBalances are raw balances now; nil when unknown
	CurrentBalances map[types.AssetIdentifier]*big.Int
	Events          []types.ActivityEvent
	// CompleteHistory is true when Events reaches back to the first activity
	CompleteHistory bool
	// Decimals per asset; missing entries use types.DefaultDecimals
	Decimals map[types.AssetIdentifier]int
	// Prices value the reconstructed balances; missing entries count as 0
	Prices map[types.AssetIdentifier]decimal.Decimal
}

// Strategy picks the replay direction for input
func (in ReplayInput) Strategy() (types.ReplayStrategy, error) {
	switch {
	case in.CompleteHistory:
		return types.StrategyForward, nil
	case in.CurrentBalances != nil:
		return types.StrategyBackward, nil
	default:
		return "", ErrNoReplayBasis
	}
}

// SnapshotAt reconstructs the balances held at target. Exactly one strategy
// is used per call and recorded in the result.
func SnapshotAt(in ReplayInput, target time.Time) (types.BalanceSnapshot, error) {
	strategy, err := in.Strategy()
	if err != nil {
		return types.BalanceSnapshot{}, err
	}

	events := successfulEvents(in.Events)

	var raw map[types.AssetIdentifier]*big.Int
	if strategy == types.StrategyForward {
		raw = replayForward(events, target)
	} else {
		raw = replayBackward(in.CurrentBalances, events, target)
	}

	snap := types.BalanceSnapshot{
		Date:          target,
		PerAsset:      make(map[types.AssetIdentifier]decimal.Decimal, len(raw)),
		TotalUSDValue: decimal.Zero,
		Strategy:      strategy,
	}
	for id, amount := range raw {
		if amount.Sign() <= 0 {
			continue
		}
		decimals, ok := in.Decimals[id]
		if !ok {
			decimals = types.DefaultDecimals
		}
		units := types.NormalizeAmount(amount, decimals)
		snap.PerAsset[id] = units
		snap.TotalUSDValue = snap.TotalUSDValue.Add(units.Mul(in.Prices[id]))
	}
	return snap, nil
}

// Series builds one snapshot per day for the days ending on end's date,
// oldest first. Each day is replayed independently at end of day UTC.
func Series(in ReplayInput, end time.Time, days int) ([]types.BalanceSnapshot, error) {
	if _, err := in.Strategy(); err != nil {
		return nil, err
	}
	if days <= 0 {
		return nil, nil
	}

	last := end.UTC().Truncate(24 * time.Hour)
	out := make([]types.BalanceSnapshot, 0, days)
	for i := days - 1; i >= 0; i-- {
		day := last.AddDate(0, 0, -i)
		snap, err := SnapshotAt(in, day.Add(24*time.Hour-time.Nanosecond))
		if err != nil {
			return nil, err
		}
		snap.Date = day
		out = append(out, snap)
	}
	return out, nil
}

// successfulEvents drops failed activities and sorts by (timestamp, sequence)
func successfulEvents(events []types.ActivityEvent) []types.ActivityEvent {
	out := make([]types.ActivityEvent, 0, len(events))
	for _, e := range events {
		if e.Success {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

func replayForward(events []types.ActivityEvent, target time.Time) map[types.AssetIdentifier]*big.Int {
	balances := make(map[types.AssetIdentifier]*big.Int)
	for _, e := range events {
		if e.Timestamp.After(target) {
			break
		}
		amount, _ := types.ParseRawAmount(e.Amount)
		apply(balances, e.Identifier, amount, e.Direction == types.DirectionCredit)
	}
	return balances
}

func replayBackward(current map[types.AssetIdentifier]*big.Int, events []types.ActivityEvent, target time.Time) map[types.AssetIdentifier]*big.Int {
	balances := make(map[types.AssetIdentifier]*big.Int, len(current))
	for id, v := range current {
		if v != nil {
			balances[id] = new(big.Int).Set(v)
		}
	}
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if !e.Timestamp.After(target) {
			break
		}
		amount, _ := types.ParseRawAmount(e.Amount)
		// undoing a credit removes it, undoing a debit restores it
		apply(balances, e.Identifier, amount, e.Direction == types.DirectionDebit)
	}
	return balances
}

// apply adds or subtracts amount, clamping the balance at zero
func apply(balances map[types.AssetIdentifier]*big.Int, id types.AssetIdentifier, amount *big.Int, add bool) {
	bal, ok := balances[id]
	if !ok {
		bal = new(big.Int)
		balances[id] = bal
	}
	if add {
		bal.Add(bal, amount)
		return
	}
	bal.Sub(bal, amount)
	if bal.Sign() < 0 {
		bal.SetInt64(0)
	}
}
