package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventDirection is the effect of an activity on the owner's balance
type EventDirection string

const (
	DirectionCredit EventDirection = "credit"
	DirectionDebit  EventDirection = "debit"
)

// ActivityEvent is one balance-changing activity from the indexer
type ActivityEvent struct {
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
	Identifier AssetIdentifier `json:"identifier"`
	Direction  EventDirection  `json:"direction"`
	Amount     string          `json:"amount"`
	Success    bool            `json:"success"`
}

// ReplayStrategy records how a balance snapshot was reconstructed
type ReplayStrategy string

const (
	StrategyForward  ReplayStrategy = "forward"
	StrategyBackward ReplayStrategy = "backward"
)

// BalanceSnapshot is the reconstructed holding set at a point in time
type BalanceSnapshot struct {
	Date          time.Time                           `json:"date"`
	PerAsset      map[AssetIdentifier]decimal.Decimal `json:"perAsset"`
	TotalUSDValue decimal.Decimal                     `json:"totalUsdValue"`
	Strategy      ReplayStrategy                      `json:"strategy"`
}

// PortfolioSnapshot is the engine's output for one wallet at one point in time
type PortfolioSnapshot struct {
	Wallet        string          `json:"wallet"`
	AsOf          time.Time       `json:"asOf"`
	Assets        []PricedAsset   `json:"assets"`
	Positions     []Position      `json:"positions"`
	// Locked lists holdings valued inside Positions; they are not part of the total
	Locked        []PricedAsset   `json:"locked,omitempty"`
	TotalValueUSD decimal.Decimal `json:"totalValueUsd"`
	Degraded      []string        `json:"degraded,omitempty"`
	InputsVersion string          `json:"inputsVersion"`
}

// AssetsValueUSD sums the USD value of every retained asset
func (s *PortfolioSnapshot) AssetsValueUSD() decimal.Decimal {
	total := decimal.Zero
	for _, a := range s.Assets {
		total = total.Add(a.USDValue())
	}
	return total
}

// PositionsValueUSD sums every retained position's total
func (s *PortfolioSnapshot) PositionsValueUSD() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.Positions {
		total = total.Add(p.TotalValueUSD())
	}
	return total
}

// DeFiMetrics summarises the positions of a snapshot
type DeFiMetrics struct {
	TotalValueLocked decimal.Decimal `json:"totalValueLocked"`
	TotalSupplied    decimal.Decimal `json:"totalSupplied"`
	TotalBorrowed    decimal.Decimal `json:"totalBorrowed"`
	Protocols        []string        `json:"protocols"`
}

// HistorySummary carries descriptive statistics over a balance series
type HistorySummary struct {
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"stdDev"`
	ChangePct float64 `json:"changePct"`
}

// BalanceHistory is a daily series of reconstructed balances for a wallet
type BalanceHistory struct {
	Wallet    string            `json:"wallet"`
	Snapshots []BalanceSnapshot `json:"snapshots"`
	Summary   HistorySummary    `json:"summary"`
	Degraded  []string          `json:"degraded,omitempty"`
}
