package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// MultiLimiter manages multiple rate limiters for different services
type MultiLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

// NewMultiLimiter creates a new multi-limiter
func NewMultiLimiter() *MultiLimiter {
	return &MultiLimiter{
		limiters: make(map[string]*rate.Limiter),
	}
}

// AddLimiter adds a new rate limiter for a service
// requestsPerSecond: the rate limit (e.g., 10 means 10 requests per second)
// burst: maximum burst size
func (m *MultiLimiter) AddLimiter(name string, requestsPerSecond float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[name] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// Wait blocks until the limiter allows an event
func (m *MultiLimiter) Wait(ctx context.Context, name string) error {
	m.mu.RLock()
	limiter, ok := m.limiters[name]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("limiter %s not found", name)
	}

	return limiter.Wait(ctx)
}

// Allow reports whether an event may happen now
func (m *MultiLimiter) Allow(name string) bool {
	m.mu.RLock()
	limiter, ok := m.limiters[name]
	m.mu.RUnlock()

	if !ok {
		return false
	}

	return limiter.Allow()
}

// Default rate limiter names
const (
	LimiterFetch     = "fetch"
	LimiterRobots    = "robots"
	LimiterAnthropic = "anthropic"
	LimiterMetrics   = "metrics"
)

// Limits holds per-service rates used to build the default limiter
type Limits struct {
	FetchPerSecond     float64
	AnthropicPerMinute int
	MetricsPerSecond   float64
}

// NewDefaultLimiter creates a limiter with default rate limits
func NewDefaultLimiter() *MultiLimiter {
	return NewLimiter(Limits{
		FetchPerSecond:     2,
		AnthropicPerMinute: 10,
		MetricsPerSecond:   5,
	})
}

// NewLimiter creates a limiter from explicit limits, falling back to defaults for zero values
func NewLimiter(l Limits) *MultiLimiter {
	m := NewMultiLimiter()

	if l.FetchPerSecond <= 0 {
		l.FetchPerSecond = 2
	}
	if l.AnthropicPerMinute <= 0 {
		l.AnthropicPerMinute = 10
	}
	if l.MetricsPerSecond <= 0 {
		l.MetricsPerSecond = 5
	}

	// Source fetches: be polite to submitted hosts, burst 10
	m.AddLimiter(LimiterFetch, l.FetchPerSecond, 10)

	// robots.txt lookups share the fetch budget but are rarer
	m.AddLimiter(LimiterRobots, l.FetchPerSecond, 5)

	// Anthropic: requests per minute, burst 2
	m.AddLimiter(LimiterAnthropic, float64(l.AnthropicPerMinute)/60, 2)

	// Ingestion metrics service
	m.AddLimiter(LimiterMetrics, l.MetricsPerSecond, 10)

	return m
}
