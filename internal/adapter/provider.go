package adapter

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// EndpointHealth represents the health status of an endpoint set
type EndpointHealth struct {
	CurrentURL       string        `json:"currentUrl"`
	TotalRequests    int64         `json:"totalRequests"`
	SuccessfulReqs   int64         `json:"successfulRequests"`
	FailedReqs       int64         `json:"failedRequests"`
	SuccessRate      float64       `json:"successRate"`
	AverageLatency   time.Duration `json:"averageLatency"`
	LastSuccess      time.Time     `json:"lastSuccess"`
	LastFailure      time.Time     `json:"lastFailure"`
	ConsecutiveFails int           `json:"consecutiveFails"`
	Failovers        int64         `json:"failovers"`
	IsHealthy        bool          `json:"isHealthy"`
}

// EndpointSet tracks a primary base URL and an optional fallback, and
// switches between them when the active one turns unhealthy
type EndpointSet struct {
	mu sync.RWMutex

	primaryURL  string
	fallbackURL string
	currentURL  string

	// Health tracking for the active endpoint
	totalRequests    int64
	successfulReqs   int64
	failedReqs       int64
	totalLatency     time.Duration
	lastSuccess      time.Time
	lastFailure      time.Time
	consecutiveFails int
	failovers        int64

	maxConsecutiveFails int
	minSuccessRate      float64
}

// NewEndpointSet creates an endpoint set. fallbackURL may be empty.
func NewEndpointSet(primaryURL, fallbackURL string) (*EndpointSet, error) {
	if primaryURL == "" {
		return nil, fmt.Errorf("primary URL cannot be empty")
	}
	primaryURL = strings.TrimRight(primaryURL, "/")
	return &EndpointSet{
		primaryURL:          primaryURL,
		fallbackURL:         strings.TrimRight(fallbackURL, "/"),
		currentURL:          primaryURL,
		maxConsecutiveFails: 5,
		minSuccessRate:      0.5,
	}, nil
}

// Current returns the active base URL
func (e *EndpointSet) Current() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentURL
}

// RecordSuccess records a successful request
func (e *EndpointSet) RecordSuccess(duration time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.totalRequests++
	e.successfulReqs++
	e.totalLatency += duration
	e.lastSuccess = time.Now()
	e.consecutiveFails = 0
}

// RecordFailure records a failed request and fails over once the active
// endpoint is unhealthy. It reports whether a failover happened.
func (e *EndpointSet) RecordFailure() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.totalRequests++
	e.failedReqs++
	e.lastFailure = time.Now()
	e.consecutiveFails++

	if e.isHealthyLocked() {
		return false
	}
	return e.failoverLocked() == nil
}

// Failover switches to the other endpoint
func (e *EndpointSet) Failover() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failoverLocked()
}

func (e *EndpointSet) failoverLocked() error {
	if e.fallbackURL == "" {
		return fmt.Errorf("no fallback endpoint configured")
	}
	if e.currentURL == e.primaryURL {
		e.currentURL = e.fallbackURL
	} else {
		e.currentURL = e.primaryURL
	}
	e.failovers++
	e.resetStatsLocked()
	return nil
}

// Health returns the current health status
func (e *EndpointSet) Health() EndpointHealth {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var successRate float64
	if e.totalRequests > 0 {
		successRate = float64(e.successfulReqs) / float64(e.totalRequests)
	}
	var avgLatency time.Duration
	if e.successfulReqs > 0 {
		avgLatency = e.totalLatency / time.Duration(e.successfulReqs)
	}

	return EndpointHealth{
		CurrentURL:       e.currentURL,
		TotalRequests:    e.totalRequests,
		SuccessfulReqs:   e.successfulReqs,
		FailedReqs:       e.failedReqs,
		SuccessRate:      successRate,
		AverageLatency:   avgLatency,
		LastSuccess:      e.lastSuccess,
		LastFailure:      e.lastFailure,
		ConsecutiveFails: e.consecutiveFails,
		Failovers:        e.failovers,
		IsHealthy:        e.isHealthyLocked(),
	}
}

// IsHealthy reports whether the active endpoint is healthy
func (e *EndpointSet) IsHealthy() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isHealthyLocked()
}

// isHealthyLocked must be called with the lock held
func (e *EndpointSet) isHealthyLocked() bool {
	if e.consecutiveFails >= e.maxConsecutiveFails {
		return false
	}
	// the success rate only counts once there is enough data
	if e.totalRequests >= 10 {
		if float64(e.successfulReqs)/float64(e.totalRequests) < e.minSuccessRate {
			return false
		}
	}
	return true
}

// Reset returns to the primary endpoint with clean statistics
func (e *EndpointSet) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentURL = e.primaryURL
	e.resetStatsLocked()
}

func (e *EndpointSet) resetStatsLocked() {
	e.totalRequests = 0
	e.successfulReqs = 0
	e.failedReqs = 0
	e.totalLatency = 0
	e.consecutiveFails = 0
	e.lastSuccess = time.Time{}
	e.lastFailure = time.Time{}
}

// SetHealthThresholds configures health check thresholds
func (e *EndpointSet) SetHealthThresholds(maxConsecutiveFails int, minSuccessRate float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if maxConsecutiveFails > 0 {
		e.maxConsecutiveFails = maxConsecutiveFails
	}
	if minSuccessRate > 0 && minSuccessRate <= 1.0 {
		e.minSuccessRate = minSuccessRate
	}
}
