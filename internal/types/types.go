// Package types provides common type definitions for the portfolio valuation engine.
package types

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ProtocolType represents the category of a DeFi protocol in the registry
type ProtocolType string

const (
	// ProtocolLiquidStaking represents liquid staking protocols
	ProtocolLiquidStaking ProtocolType = "liquid_staking"
	// ProtocolLending represents lending and borrowing markets
	ProtocolLending ProtocolType = "lending"
	// ProtocolBridge represents cross-chain bridges
	ProtocolBridge ProtocolType = "bridge"
	// ProtocolFarming represents yield farms
	ProtocolFarming ProtocolType = "farming"
	// ProtocolDEX represents decentralized exchanges and AMMs
	ProtocolDEX ProtocolType = "dex"
	// ProtocolDerivatives represents perps and other derivative venues
	ProtocolDerivatives ProtocolType = "derivatives"
	// ProtocolInfrastructure represents core framework and infrastructure contracts
	ProtocolInfrastructure ProtocolType = "infrastructure"
	// ProtocolNFTMarketplace represents NFT marketplaces
	ProtocolNFTMarketplace ProtocolType = "nft_marketplace"
)

// PositionType is the user-facing label derived from a protocol type
type PositionType string

const (
	PositionLiquidity   PositionType = "liquidity"
	PositionFarming     PositionType = "farming"
	PositionLending     PositionType = "lending"
	PositionStaking     PositionType = "staking"
	PositionNFT         PositionType = "nft"
	PositionDerivatives PositionType = "derivatives"
	PositionOther       PositionType = "other"
)

// PositionTypeFor maps a protocol type to the position type shown to users
func PositionTypeFor(pt ProtocolType) PositionType {
	switch pt {
	case ProtocolDEX:
		return PositionLiquidity
	case ProtocolFarming:
		return PositionFarming
	case ProtocolLending:
		return PositionLending
	case ProtocolLiquidStaking:
		return PositionStaking
	case ProtocolNFTMarketplace:
		return PositionNFT
	case ProtocolDerivatives:
		return PositionDerivatives
	default:
		return PositionOther
	}
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
