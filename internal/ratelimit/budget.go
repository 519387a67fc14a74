// Package ratelimit coordinates the outbound indexer request budget across
// every process sharing one API key, using fixed windows in Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default budget configuration values.
const (
	DefaultTotalBudget    = 50              // request units per window
	DefaultReservedBudget = 30              // reserved for interactive snapshots
	DefaultWindowSize     = time.Second
	DefaultKeyTTL         = 2 * time.Second // window + buffer
	DefaultBaseDelay      = 50 * time.Millisecond
	DefaultMaxDelay       = 2 * time.Second
)

// Redis key prefixes for budget tracking.
const (
	KeyPrefixTotal    = "budget:total:"
	KeyPrefixReserved = "budget:reserved:"
	KeyPrefixShared   = "budget:shared:"
)

// Priority selects the budget pool a request draws from.
type Priority int

const (
	// PriorityHigh is for snapshot requests a caller is waiting on (reserved pool).
	PriorityHigh Priority = iota
	// PriorityLow is for history series and CLI batch runs (shared pool).
	PriorityLow
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

type priorityKey struct{}

// WithPriority tags ctx so that adapters draw from the matching pool
func WithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFrom returns the priority carried by ctx, PriorityHigh by default
func PriorityFrom(ctx context.Context) Priority {
	if p, ok := ctx.Value(priorityKey{}).(Priority); ok {
		return p
	}
	return PriorityHigh
}

// Query costs in request units, by indexer query kind.
var queryCosts = map[string]int{
	"balances":   1,
	"activities": 2,
	"resources":  1,
	"reserves":   1,
}

// Cost returns the unit cost of an indexer query kind; unknown kinds cost 1
func Cost(kind string) int {
	if c, ok := queryCosts[kind]; ok {
		return c
	}
	return 1
}

// ErrContextCancelled is returned when the context ends while waiting for budget.
var ErrContextCancelled = errors.New("context cancelled while waiting for budget")

// BudgetTrackerConfig holds configuration for the budget tracker.
type BudgetTrackerConfig struct {
	// Redis is required.
	Redis redis.Cmdable
	// TotalBudget is the units per window. Default: 50.
	TotalBudget int
	// ReservedBudget is held back for PriorityHigh. Default: 30.
	ReservedBudget int
	WindowSize     time.Duration
	KeyTTL         time.Duration
	// BaseDelay and MaxDelay bound the backoff in Wait.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Validate checks if the configuration is valid.
func (c *BudgetTrackerConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.TotalBudget < 0 || c.ReservedBudget < 0 {
		return errors.New("budgets cannot be negative")
	}
	total := c.TotalBudget
	if total == 0 {
		total = DefaultTotalBudget
	}
	reserved := c.ReservedBudget
	if reserved == 0 {
		reserved = DefaultReservedBudget
	}
	if reserved > total {
		return fmt.Errorf("reserved budget (%d) cannot exceed total budget (%d)", reserved, total)
	}
	return nil
}

// UsageStats contains consumption for the current window.
type UsageStats struct {
	TotalUsed      int       `json:"totalUsed"`
	ReservedUsed   int       `json:"reservedUsed"`
	SharedUsed     int       `json:"sharedUsed"`
	TotalBudget    int       `json:"totalBudget"`
	ReservedBudget int       `json:"reservedBudget"`
	SharedBudget   int       `json:"sharedBudget"`
	WindowStart    time.Time `json:"windowStart"`
}

// BudgetTracker splits a per-window request budget into a reserved pool for
// interactive work and a shared pool for batch work.
type BudgetTracker struct {
	redis          redis.Cmdable
	totalBudget    int
	reservedBudget int
	sharedBudget   int
	windowSize     time.Duration
	keyTTL         time.Duration
	baseDelay      time.Duration
	maxDelay       time.Duration
	now            func() time.Time

	mu               sync.Mutex
	consecutiveFails int
}

var consumeScript = redis.NewScript(`
	local totalKey = KEYS[1]
	local poolKey = KEYS[2]
	local units = tonumber(ARGV[1])
	local totalBudget = tonumber(ARGV[2])
	local poolBudget = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local totalUsed = tonumber(redis.call('GET', totalKey) or '0')
	local poolUsed = tonumber(redis.call('GET', poolKey) or '0')

	if totalUsed + units > totalBudget then
		return {0, totalUsed, poolUsed}
	end
	if poolUsed + units > poolBudget then
		return {0, totalUsed, poolUsed}
	end

	redis.call('INCRBY', totalKey, units)
	redis.call('EXPIRE', totalKey, ttl)
	redis.call('INCRBY', poolKey, units)
	redis.call('EXPIRE', poolKey, ttl)

	return {1, totalUsed + units, poolUsed + units}
`)

// NewBudgetTracker creates a tracker with the given configuration.
func NewBudgetTracker(cfg *BudgetTrackerConfig) (*BudgetTracker, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	t := &BudgetTracker{
		redis:          cfg.Redis,
		totalBudget:    orDefault(cfg.TotalBudget, DefaultTotalBudget),
		reservedBudget: orDefault(cfg.ReservedBudget, DefaultReservedBudget),
		windowSize:     orDefaultDuration(cfg.WindowSize, DefaultWindowSize),
		keyTTL:         orDefaultDuration(cfg.KeyTTL, DefaultKeyTTL),
		baseDelay:      orDefaultDuration(cfg.BaseDelay, DefaultBaseDelay),
		maxDelay:       orDefaultDuration(cfg.MaxDelay, DefaultMaxDelay),
		now:            time.Now,
	}
	t.sharedBudget = t.totalBudget - t.reservedBudget
	return t, nil
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}

func (t *BudgetTracker) windowTimestamp() int64 {
	return t.now().Truncate(t.windowSize).UnixMilli()
}

func keys(windowTS int64) (totalKey, reservedKey, sharedKey string) {
	ts := strconv.FormatInt(windowTS, 10)
	return KeyPrefixTotal + ts, KeyPrefixReserved + ts, KeyPrefixShared + ts
}

// TryConsume takes units from the pool matching priority. When denied it
// returns the time until the next window.
func (t *BudgetTracker) TryConsume(ctx context.Context, units int, priority Priority) (bool, time.Duration) {
	if units <= 0 {
		return true, 0
	}

	windowTS := t.windowTimestamp()
	totalKey, reservedKey, sharedKey := keys(windowTS)

	poolKey, poolBudget := sharedKey, t.sharedBudget
	if priority == PriorityHigh {
		poolKey, poolBudget = reservedKey, t.reservedBudget
	}

	ttlSeconds := int(t.keyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := consumeScript.Run(ctx, t.redis, []string{totalKey, poolKey},
		units, t.totalBudget, poolBudget, ttlSeconds).Int64Slice()
	if err != nil || len(result) == 0 || result[0] != 1 {
		// Redis errors deny as well; the caller waits for the next window
		return false, t.waitTime(windowTS)
	}
	return true, 0
}

func (t *BudgetTracker) waitTime(windowTS int64) time.Duration {
	end := time.UnixMilli(windowTS).Add(t.windowSize)
	wait := end.Sub(t.now())
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// Wait blocks until units are granted or ctx ends, backing off
// exponentially while the pool stays exhausted.
func (t *BudgetTracker) Wait(ctx context.Context, units int, priority Priority) error {
	if units <= 0 {
		return nil
	}
	for {
		if ctx.Err() != nil {
			return ErrContextCancelled
		}

		allowed, wait := t.TryConsume(ctx, units, priority)
		if allowed {
			t.mu.Lock()
			t.consecutiveFails = 0
			t.mu.Unlock()
			return nil
		}

		delay := t.recordDenied()
		if wait > delay {
			delay = wait
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ErrContextCancelled
		case <-timer.C:
		}
	}
}

// recordDenied returns baseDelay * 2^fails, capped at maxDelay
func (t *BudgetTracker) recordDenied() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutiveFails++
	delay := t.baseDelay
	for i := 1; i < t.consecutiveFails; i++ {
		delay *= 2
		if delay >= t.maxDelay {
			return t.maxDelay
		}
	}
	return delay
}

// GetUsage returns consumption for the current window.
func (t *BudgetTracker) GetUsage(ctx context.Context) (*UsageStats, error) {
	windowTS := t.windowTimestamp()
	totalKey, reservedKey, sharedKey := keys(windowTS)

	pipe := t.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read budget usage: %w", err)
	}

	return &UsageStats{
		TotalUsed:      intOrZero(totalCmd),
		ReservedUsed:   intOrZero(reservedCmd),
		SharedUsed:     intOrZero(sharedCmd),
		TotalBudget:    t.totalBudget,
		ReservedBudget: t.reservedBudget,
		SharedBudget:   t.sharedBudget,
		WindowStart:    time.UnixMilli(windowTS),
	}, nil
}

func intOrZero(cmd *redis.StringCmd) int {
	v, err := cmd.Int()
	if err != nil {
		return 0
	}
	return v
}
