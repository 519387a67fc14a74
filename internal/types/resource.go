package types

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// AccountResource is one typed resource stored under an account
type AccountResource struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// PriceCatalog maps identifiers, as the primary source spells them, to USD prices
type PriceCatalog map[string]decimal.Decimal

// PoolToken is one reserve of a liquidity pool
type PoolToken struct {
	Asset    AssetIdentifier `json:"asset"`
	Amount   *big.Int        `json:"amount"`
	Decimals int             `json:"decimals"`
}

// PoolReserves is the on-chain state needed to split an LP share
type PoolReserves struct {
	Pool        string      `json:"pool"`
	Tokens      []PoolToken `json:"tokens"`
	TotalSupply *big.Int    `json:"totalSupply"`
	LPDecimals  int         `json:"lpDecimals"`
}
