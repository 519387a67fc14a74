package service

import (
	"strings"
	"unicode"

	"github.com/portfolio-valuator/internal/registry"
	"github.com/portfolio-valuator/internal/types"
)

// AssetClassifier decides whether a wallet holding is a scam, an allow-listed
// stablecoin, a protocol-locked receipt or a freely tradable asset
type AssetClassifier struct {
	registry *registry.Registry
}

// NewAssetClassifier creates a classifier over an immutable registry
func NewAssetClassifier(reg *registry.Registry) *AssetClassifier {
	return &AssetClassifier{registry: reg}
}

// Classify returns exactly one classification. Rules are evaluated in a
// fixed order and the first match wins:
//  1. block-list
//  2. lexical scam markers, even on allow-listed identifiers
//  3. a non-native asset claiming to be the native coin
//  4. stablecoin markers, legitimate only when allow-listed
//  5. protocol-locked receipts
//  6. tradable
func (c *AssetClassifier) Classify(id types.AssetIdentifier, meta types.AssetMetadata) types.Classification {
	if c.registry.IsBlocked(id) {
		return scam("blocklisted")
	}

	if reason, ok := c.lexicalScam(meta); ok {
		return scam(reason)
	}

	if !c.registry.IsNative(id) && c.registry.ClaimsNative(meta.Symbol, meta.Name) {
		return scam("impersonates native asset")
	}

	if c.hasStableMarker(meta) {
		if _, ok := c.registry.Stablecoin(id); ok {
			return types.Classification{Kind: types.ClassLegitimateStable}
		}
		return scam("unlisted stablecoin")
	}

	if reason, ok := c.registry.PhantomReason(id, meta.Symbol); ok {
		return types.Classification{Kind: types.ClassPhantom, Reason: reason}
	}

	return types.Classification{Kind: types.ClassTradable}
}

// ClassifyAll classifies every balance, keyed by identifier
func (c *AssetClassifier) ClassifyAll(balances []types.RawBalance) map[types.AssetIdentifier]types.Classification {
	out := make(map[types.AssetIdentifier]types.Classification, len(balances))
	for _, b := range balances {
		out[b.Identifier] = c.Classify(b.Identifier, b.Metadata)
	}
	return out
}

func scam(reason string) types.Classification {
	return types.Classification{Kind: types.ClassScam, Reason: reason}
}

func (c *AssetClassifier) lexicalScam(meta types.AssetMetadata) (string, bool) {
	for _, text := range []string{meta.Symbol, meta.Name} {
		if text == "" {
			continue
		}
		if hasPromotionalRune(text) {
			return "promotional characters", true
		}
		lower := strings.ToLower(text)
		for _, kw := range c.registry.ScamKeywords() {
			if strings.Contains(lower, kw) {
				return "keyword: " + kw, true
			}
		}
		for _, m := range c.registry.DomainMarkers() {
			if strings.Contains(lower, m) {
				return "domain marker: " + m, true
			}
		}
	}
	return "", false
}

// hasPromotionalRune spots emoji and pictographs
func hasPromotionalRune(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.So, r) || (r >= 0x1F000 && r <= 0x1FAFF) {
			return true
		}
	}
	return false
}

func (c *AssetClassifier) hasStableMarker(meta types.AssetMetadata) bool {
	sym := strings.ToUpper(meta.Symbol)
	name := strings.ToUpper(meta.Name)
	for _, m := range c.registry.StableMarkers() {
		if strings.Contains(sym, m) || strings.Contains(name, m) {
			return true
		}
	}
	return false
}
