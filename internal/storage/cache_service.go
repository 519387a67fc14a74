package storage

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/portfolio-valuator/internal/errors"
	"github.com/portfolio-valuator/internal/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultSnapshotTTL applies when no TTL is configured
const DefaultSnapshotTTL = 60 * time.Second

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeySnapshot is for finished portfolio snapshots
	CacheKeySnapshot CacheKeyType = "snapshot"
)

// CacheStats counts lookups since start
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// CacheService stores finished snapshots in Redis as JSON
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &CacheService{
		redis: redis,
		ttl:   ttl,
	}
}

// GenerateCacheKey generates a cache key for a given type and parameters
// Format: <type>:<param1>:<param2>:...
func GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, string(keyType))
	for _, p := range params {
		parts = append(parts, strings.ToLower(p))
	}
	return strings.Join(parts, ":")
}

// SnapshotKey generates the key of one snapshot
// Format: snapshot:<wallet>:<asOf>:<inputs version>
func SnapshotKey(wallet, asOf, version string) string {
	return GenerateCacheKey(CacheKeySnapshot, wallet, asOf, version)
}

// GetSnapshot returns a cached snapshot. A miss is not an error.
func (c *CacheService) GetSnapshot(ctx context.Context, wallet, asOf, version string) (*types.PortfolioSnapshot, bool, error) {
	data, found, err := c.redis.Get(ctx, SnapshotKey(wallet, asOf, version))
	if err != nil {
		return nil, false, errors.NewCacheError("get snapshot", err)
	}
	if !found {
		c.misses.Add(1)
		return nil, false, nil
	}

	var snap types.PortfolioSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// an unreadable entry is treated as a miss and overwritten later
		c.misses.Add(1)
		return nil, false, errors.NewCacheError("decode snapshot", err)
	}
	c.hits.Add(1)
	return &snap, true, nil
}

// SetSnapshot stores a snapshot with the configured TTL
func (c *CacheService) SetSnapshot(ctx context.Context, wallet, asOf, version string, snap *types.PortfolioSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := c.redis.Set(ctx, SnapshotKey(wallet, asOf, version), data, c.ttl); err != nil {
		return errors.NewCacheError("set snapshot", err)
	}
	return nil
}

// InvalidateWallet drops every cached snapshot of a wallet
func (c *CacheService) InvalidateWallet(ctx context.Context, wallet string) (int, error) {
	n, err := c.redis.DelMatching(ctx, GenerateCacheKey(CacheKeySnapshot, wallet)+":*")
	if err != nil {
		return n, errors.NewCacheError("invalidate wallet", err)
	}
	return n, nil
}

// Stats returns lookup counters
func (c *CacheService) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// TTL returns the snapshot TTL
func (c *CacheService) TTL() time.Duration {
	return c.ttl
}
