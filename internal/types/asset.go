package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// DefaultDecimals is applied whenever asset metadata omits decimals.
// Every downstream USD value depends on it, so it must stay 8.
const DefaultDecimals = 8

// NativeAssetID is the one canonical identifier of the chain's native coin
const NativeAssetID AssetIdentifier = "0x1::aptos_coin::AptosCoin"

// NativeFungibleAssetID is the fungible-asset standard address of the native coin
const NativeFungibleAssetID AssetIdentifier = "0xa"

// AssetIdentifier names a coin type or fungible asset. It is opaque to most of
// the engine; only the address segment before the first "::" is interpreted.
type AssetIdentifier string

func (id AssetIdentifier) String() string { return string(id) }

// Address returns the account address segment of the identifier
func (id AssetIdentifier) Address() string {
	s := string(id)
	if i := strings.Index(s, "::"); i >= 0 {
		return s[:i]
	}
	return s
}

// Path returns everything after the address segment, including the leading "::"
func (id AssetIdentifier) Path() string {
	s := string(id)
	if i := strings.Index(s, "::"); i >= 0 {
		return s[i:]
	}
	return ""
}

// Standard infers the token standard from the identifier's shape: coin
// types carry a module path, fungible assets are a bare address
func (id AssetIdentifier) Standard() AssetStandard {
	if id.Path() != "" {
		return StandardCoin
	}
	return StandardFungibleAsset
}

// Canonical rewrites the address segment into its padded 32-byte form.
// Identifiers whose address segment is not valid hex are returned unchanged.
func (id AssetIdentifier) Canonical() AssetIdentifier {
	long, err := NormalizeAddress(id.Address())
	if err != nil {
		return id
	}
	return AssetIdentifier(long + id.Path())
}

// Short rewrites the address segment into its shortest form (leading zeros dropped)
func (id AssetIdentifier) Short() AssetIdentifier {
	short, err := ShortAddress(id.Address())
	if err != nil {
		return id
	}
	return AssetIdentifier(short + id.Path())
}

// decodeAddress validates an account address and returns its raw bytes
func decodeAddress(addr string) ([]byte, error) {
	s := strings.TrimSpace(strings.ToLower(addr))
	if !strings.HasPrefix(s, "0x") {
		return nil, fmt.Errorf("address must start with 0x: %q", addr)
	}
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return nil, fmt.Errorf("empty address")
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hexutil.Decode("0x" + s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex address %q: %w", addr, err)
	}
	if len(b) > common.HashLength {
		return nil, fmt.Errorf("address longer than %d bytes: %q", common.HashLength, addr)
	}
	return b, nil
}

// ValidateAddress reports whether addr is a well-formed account address
func ValidateAddress(addr string) error {
	_, err := decodeAddress(addr)
	return err
}

// NormalizeAddress returns the padded, lowercase 32-byte form of an account address
func NormalizeAddress(addr string) (string, error) {
	b, err := decodeAddress(addr)
	if err != nil {
		return "", err
	}
	return common.BytesToHash(b).Hex(), nil
}

// ShortAddress returns the address with leading zeros removed ("0x1")
func ShortAddress(addr string) (string, error) {
	b, err := decodeAddress(addr)
	if err != nil {
		return "", err
	}
	trimmed := strings.TrimLeft(hexutil.Encode(b)[2:], "0")
	if trimmed == "" {
		trimmed = "0"
	}
	return "0x" + trimmed, nil
}

// AssetMetadata describes a fungible asset
type AssetMetadata struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals *int   `json:"decimals,omitempty"`
	IconRef  string `json:"iconRef,omitempty"`
}

// EffectiveDecimals returns the declared decimals or DefaultDecimals
func (m AssetMetadata) EffectiveDecimals() int {
	if m.Decimals == nil || *m.Decimals < 0 {
		return DefaultDecimals
	}
	return *m.Decimals
}

// IntPtr is a small helper for metadata literals
func IntPtr(v int) *int { return &v }

// NormalizeAmount converts a raw integer amount into units using the given decimals
func NormalizeAmount(raw *big.Int, decimals int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, int32(-decimals)) // #nosec G115 - decimals are small
}

// ParseRawAmount parses an unsigned integer amount. Malformed or negative
// input yields zero and ok=false.
func ParseRawAmount(s string) (amount *big.Int, ok bool) {
	v, success := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !success || v.Sign() < 0 {
		return new(big.Int), false
	}
	return v, true
}

// RawBalance is a wallet holding as returned by the indexer
type RawBalance struct {
	Identifier AssetIdentifier `json:"identifier"`
	Amount     *big.Int        `json:"amount"`
	Metadata   AssetMetadata   `json:"metadata"`
	Standard   AssetStandard   `json:"standard"`
}

// AssetStandard distinguishes the legacy coin standard from fungible assets
type AssetStandard string

const (
	StandardCoin          AssetStandard = "v1"
	StandardFungibleAsset AssetStandard = "v2"
)
