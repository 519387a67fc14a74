// Package registry holds the static protocol registry and the classification
// tables (stablecoin allow-list, scam markers, phantom patterns, price
// overrides). A Registry is immutable once built and safe for concurrent use.
package registry

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/portfolio-valuator/internal/types"
)

//go:embed default_registry.yaml
var defaultRegistryYAML []byte

// Protocol is one registry entry
type Protocol struct {
	Key         string             `yaml:"key" json:"key"`
	Name        string             `yaml:"name" json:"name"`
	Label       string             `yaml:"label" json:"label"`
	Type        types.ProtocolType `yaml:"type" json:"type"`
	Description string             `yaml:"description" json:"description,omitempty"`
	Addresses   []string           `yaml:"addresses" json:"addresses"`
	// HideConstituents overrides the per-type display policy when set
	HideConstituents *bool `yaml:"hide_constituents,omitempty" json:"hideConstituents,omitempty"`
}

// PhantomPattern marks identifiers as protocol-locked by regular expression
type PhantomPattern struct {
	Pattern string `yaml:"pattern"`
	Reason  string `yaml:"reason"`
}

// Stablecoin is an allow-listed stablecoin
type Stablecoin struct {
	Identifier string `yaml:"identifier" json:"identifier"`
	Symbol     string `yaml:"symbol" json:"symbol"`
	Decimals   int    `yaml:"decimals" json:"decimals"`
}

// PriceOverride pins the price of an asset. Identifier matches exactly, Match
// matches as a substring of the identifier.
type PriceOverride struct {
	Identifier string `yaml:"identifier,omitempty"`
	Match      string `yaml:"match,omitempty"`
	Price      string `yaml:"price"`
	Symbol     string `yaml:"symbol"`
}

// Alias links a legacy coin type to its fungible-asset address
type Alias struct {
	Coin  string `yaml:"coin"`
	Asset string `yaml:"asset"`
}

// Document is the on-disk shape of a registry file
type Document struct {
	Protocols             []Protocol        `yaml:"protocols"`
	PhantomPatterns       []PhantomPattern  `yaml:"phantom_patterns"`
	StakedSymbols         []string          `yaml:"staked_symbols"`
	BridgeTradableSymbols []string          `yaml:"bridge_tradable_symbols"`
	Stablecoins           []Stablecoin      `yaml:"stablecoins"`
	PriceOverrides        []PriceOverride   `yaml:"price_overrides"`
	SecondarySymbols      map[string]string `yaml:"secondary_symbols"`
	Aliases               []Alias           `yaml:"aliases"`
	Native                struct {
		Identifiers []string `yaml:"identifiers"`
		Symbols     []string `yaml:"symbols"`
		Names       []string `yaml:"names"`
	} `yaml:"native"`
	Scam struct {
		Blocklist     []string `yaml:"blocklist"`
		Keywords      []string `yaml:"keywords"`
		DomainMarkers []string `yaml:"domain_markers"`
		StableMarkers []string `yaml:"stable_markers"`
	} `yaml:"scam"`
}

type compiledPattern struct {
	re     *regexp.Regexp
	reason string
}

type compiledOverride struct {
	exact  types.AssetIdentifier
	match  string
	price  decimal.Decimal
	symbol string
}

// Registry is the immutable, validated form of a Document
type Registry struct {
	protocols      []Protocol
	byAddress      map[string]int
	patterns       []compiledPattern
	stakedSymbols  []string
	bridgeTradable []string
	stablecoins    map[types.AssetIdentifier]Stablecoin
	overrides      []compiledOverride
	secondary      map[string]string
	aliases        map[types.AssetIdentifier][]types.AssetIdentifier
	nativeIDs      map[types.AssetIdentifier]bool
	nativeSymbols  []string
	nativeNames    []string
	blocklist      map[types.AssetIdentifier]bool
	scamKeywords   []string
	domainMarkers  []string
	stableMarkers  []string
	version        string
	source         []byte
}

var addressPattern = regexp.MustCompile(`0x[0-9a-fA-F]+`)

// Default returns the registry embedded in the binary
func Default() (*Registry, error) {
	return Parse(defaultRegistryYAML)
}

// MustDefault is Default for tests and wiring that cannot recover
func MustDefault() *Registry {
	r, err := Default()
	if err != nil {
		panic(err)
	}
	return r
}

// Load reads a registry file, falling back to the embedded default when path is empty
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path) // #nosec G304 - operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML registry document
func Parse(data []byte) (*Registry, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal registry: %w", err)
	}
	return New(doc)
}

// New validates a document and builds the lookup tables
func New(doc Document) (*Registry, error) {
	r := &Registry{
		byAddress:      make(map[string]int),
		stablecoins:    make(map[types.AssetIdentifier]Stablecoin),
		secondary:      make(map[string]string),
		aliases:        make(map[types.AssetIdentifier][]types.AssetIdentifier),
		nativeIDs:      make(map[types.AssetIdentifier]bool),
		blocklist:      make(map[types.AssetIdentifier]bool),
		stakedSymbols:  lowerAll(doc.StakedSymbols),
		bridgeTradable: upperAll(doc.BridgeTradableSymbols),
		nativeSymbols:  upperAll(doc.Native.Symbols),
		nativeNames:    lowerAll(doc.Native.Names),
		scamKeywords:   lowerAll(doc.Scam.Keywords),
		domainMarkers:  lowerAll(doc.Scam.DomainMarkers),
		stableMarkers:  upperAll(doc.Scam.StableMarkers),
	}

	for _, p := range doc.Protocols {
		if err := r.addProtocol(p); err != nil {
			return nil, err
		}
	}

	for _, p := range doc.PhantomPatterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid phantom pattern %q: %w", p.Pattern, err)
		}
		r.patterns = append(r.patterns, compiledPattern{re: re, reason: p.Reason})
	}

	for _, s := range doc.Stablecoins {
		id := types.AssetIdentifier(s.Identifier).Canonical()
		r.stablecoins[id] = s
	}

	for _, o := range doc.PriceOverrides {
		price, err := decimal.NewFromString(o.Price)
		if err != nil {
			return nil, fmt.Errorf("invalid override price %q for %s%s: %w", o.Price, o.Identifier, o.Match, err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("negative override price for %s%s", o.Identifier, o.Match)
		}
		co := compiledOverride{match: o.Match, price: price, symbol: o.Symbol}
		if o.Identifier != "" {
			co.exact = types.AssetIdentifier(o.Identifier).Canonical()
		}
		r.overrides = append(r.overrides, co)
	}

	for sym, quoteID := range doc.SecondarySymbols {
		r.secondary[strings.ToUpper(sym)] = quoteID
	}

	for _, a := range doc.Aliases {
		coin := types.AssetIdentifier(a.Coin).Canonical()
		asset := types.AssetIdentifier(a.Asset).Canonical()
		r.aliases[coin] = append(r.aliases[coin], asset)
		r.aliases[asset] = append(r.aliases[asset], coin)
	}

	for _, id := range doc.Native.Identifiers {
		r.nativeIDs[types.AssetIdentifier(id).Canonical()] = true
	}
	for _, id := range doc.Scam.Blocklist {
		r.blocklist[types.AssetIdentifier(id).Canonical()] = true
	}

	src, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint registry: %w", err)
	}
	sum := sha256.Sum256(src)
	r.version = hex.EncodeToString(sum[:8])
	r.source = src

	return r, nil
}

func (r *Registry) addProtocol(p Protocol) error {
	if p.Name == "" {
		return fmt.Errorf("protocol %q has no name", p.Key)
	}
	if p.Label == "" {
		p.Label = p.Name
	}
	normalized := make([]string, 0, len(p.Addresses))
	for _, addr := range p.Addresses {
		long, err := types.NormalizeAddress(addr)
		if err != nil {
			return fmt.Errorf("protocol %s: %w", p.Name, err)
		}
		if _, dup := r.byAddress[long]; dup {
			return fmt.Errorf("protocol %s: address %s already registered", p.Name, addr)
		}
		normalized = append(normalized, long)
	}
	p.Addresses = normalized

	idx := len(r.protocols)
	r.protocols = append(r.protocols, p)
	for _, addr := range normalized {
		r.byAddress[addr] = idx
	}
	return nil
}

// WithProtocols returns a new registry with extra protocols appended.
// Addresses already registered are rejected.
func (r *Registry) WithProtocols(extra []Protocol) (*Registry, error) {
	var doc Document
	if err := yaml.Unmarshal(r.source, &doc); err != nil {
		return nil, fmt.Errorf("failed to copy registry: %w", err)
	}
	doc.Protocols = append(doc.Protocols, extra...)
	return New(doc)
}

// Version fingerprints the registry contents
func (r *Registry) Version() string { return r.version }

// Protocols returns every registered protocol sorted by name
func (r *Registry) Protocols() []Protocol {
	out := make([]Protocol, len(r.protocols))
	copy(out, r.protocols)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup finds the protocol owning an identifier or resource type
func (r *Registry) Lookup(typeOrID string) (Protocol, bool) {
	p, _, ok := r.Match(typeOrID)
	return p, ok
}

// Match finds the protocol owning an identifier or resource type and the
// registered address that matched. The leading address segment is tried
// first, then any address nested inside generic arguments, in order of
// appearance.
func (r *Registry) Match(typeOrID string) (Protocol, string, bool) {
	for _, raw := range addressPattern.FindAllString(typeOrID, -1) {
		long, err := types.NormalizeAddress(raw)
		if err != nil {
			continue
		}
		if idx, ok := r.byAddress[long]; ok {
			return r.protocols[idx], long, true
		}
	}
	return Protocol{}, "", false
}

// LookupAddress finds the protocol that registered exactly this address
func (r *Registry) LookupAddress(addr string) (Protocol, bool) {
	long, err := types.NormalizeAddress(addr)
	if err != nil {
		return Protocol{}, false
	}
	idx, ok := r.byAddress[long]
	if !ok {
		return Protocol{}, false
	}
	return r.protocols[idx], true
}

// Label returns the short UI label of the protocol owning id, or ""
func (r *Registry) Label(id types.AssetIdentifier) string {
	if p, ok := r.Lookup(string(id)); ok {
		return p.Label
	}
	return ""
}

// HidesConstituents reports whether assets of p held in a wallet are
// protocol-locked rather than free balance
func (r *Registry) HidesConstituents(p Protocol, symbol string) bool {
	if p.Type == types.ProtocolBridge && r.isBridgeTradable(symbol) {
		return false
	}
	if p.HideConstituents != nil {
		return *p.HideConstituents
	}
	switch p.Type {
	case types.ProtocolLiquidStaking, types.ProtocolFarming, types.ProtocolBridge:
		return true
	default:
		return false
	}
}

func (r *Registry) isBridgeTradable(symbol string) bool {
	upper := strings.ToUpper(symbol)
	if upper == "" {
		return false
	}
	for _, s := range r.bridgeTradable {
		if strings.Contains(upper, s) {
			return true
		}
	}
	return false
}

// PhantomReason decides whether id is a protocol-locked receipt and says why
func (r *Registry) PhantomReason(id types.AssetIdentifier, symbol string) (string, bool) {
	canonical := string(id.Canonical())
	p, known := r.Lookup(canonical)

	for _, pat := range r.patterns {
		if pat.re.MatchString(canonical) {
			if known {
				return ProtocolReason(p), true
			}
			return pat.reason, true
		}
	}

	if known && r.HidesConstituents(p, symbol) {
		return ProtocolReason(p), true
	}

	lower := strings.ToLower(symbol)
	for _, s := range r.stakedSymbols {
		if lower != "" && strings.Contains(lower, s) {
			return "Potentially locked in DeFi protocol", true
		}
	}
	return "", false
}

// ProtocolReason renders the human-readable reason an asset is held by p
func ProtocolReason(p Protocol) string {
	switch p.Type {
	case types.ProtocolLiquidStaking:
		return fmt.Sprintf("Staked in %s", p.Name)
	case types.ProtocolBridge:
		return fmt.Sprintf("Locked in %s bridge", p.Name)
	case types.ProtocolFarming:
		return fmt.Sprintf("Deposited in %s farm", p.Name)
	case types.ProtocolLending:
		return fmt.Sprintf("Collateral in %s", p.Name)
	default:
		return fmt.Sprintf("Locked in %s", p.Name)
	}
}

// Stablecoin returns the allow-list entry for id
func (r *Registry) Stablecoin(id types.AssetIdentifier) (Stablecoin, bool) {
	s, ok := r.stablecoins[id.Canonical()]
	return s, ok
}

// Stablecoins lists the allow-list
func (r *Registry) Stablecoins() []Stablecoin {
	out := make([]Stablecoin, 0, len(r.stablecoins))
	for _, s := range r.stablecoins {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// IsBlocked reports block-list membership
func (r *Registry) IsBlocked(id types.AssetIdentifier) bool {
	return r.blocklist[id.Canonical()]
}

// IsNative reports whether id is one of the native asset's canonical identifiers
func (r *Registry) IsNative(id types.AssetIdentifier) bool {
	return r.nativeIDs[id.Canonical()]
}

// ClaimsNative reports whether the symbol or name impersonates the native asset
func (r *Registry) ClaimsNative(symbol, name string) bool {
	upper := strings.ToUpper(strings.TrimSpace(symbol))
	for _, s := range r.nativeSymbols {
		if upper == s {
			return true
		}
	}
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, n := range r.nativeNames {
		if lower == n {
			return true
		}
	}
	return false
}

// ScamKeywords are lower-case promotional markers
func (r *Registry) ScamKeywords() []string { return r.scamKeywords }

// DomainMarkers are lower-case URL-like fragments
func (r *Registry) DomainMarkers() []string { return r.domainMarkers }

// StableMarkers are upper-case dollar/stable markers
func (r *Registry) StableMarkers() []string { return r.stableMarkers }

// Override returns a pinned price for id. Exact identifiers win over substring matches.
func (r *Registry) Override(id types.AssetIdentifier) (decimal.Decimal, bool) {
	canonical := id.Canonical()
	for _, o := range r.overrides {
		if o.exact != "" && o.exact == canonical {
			return o.price, true
		}
	}
	for _, o := range r.overrides {
		if o.match != "" && strings.Contains(string(id), o.match) {
			return o.price, true
		}
	}
	return decimal.Zero, false
}

// SecondaryQuoteID returns the secondary source's id for an allow-listed symbol
func (r *Registry) SecondaryQuoteID(symbol string) (string, bool) {
	id, ok := r.secondary[strings.ToUpper(strings.TrimSpace(symbol))]
	return id, ok
}

// Aliases returns the other identifiers that denote the same economic asset
func (r *Registry) Aliases(id types.AssetIdentifier) []types.AssetIdentifier {
	return r.aliases[id.Canonical()]
}

// KnownDecimals returns decimals declared for allow-listed assets
func (r *Registry) KnownDecimals(id types.AssetIdentifier) (int, bool) {
	if s, ok := r.Stablecoin(id); ok {
		return s.Decimals, true
	}
	return 0, false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}

func upperAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToUpper(s))
	}
	return out
}
