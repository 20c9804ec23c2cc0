// Package resilience supplies the reconnect/retry and circuit-breaking
// machinery shared by every OPC UA session and AAS REST call: one
// gobreaker instance per endpoint, backing off with jittered exponential
// delay between reconnect attempts.
package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig mirrors the knobs a per-endpoint gobreaker.Settings needs.
type BreakerConfig struct {
	MaxRequests uint32        `yaml:"max_requests"`
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
	FailureRate float64       `yaml:"failure_rate"`
	MinRequests uint32        `yaml:"min_requests"`
}

// DefaultBreakerConfig matches the teacher gateway's device circuit
// breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		FailureRate: 0.5,
		MinRequests: 5,
	}
}

// BreakerRegistry lazily creates and caches one gobreaker.CircuitBreaker
// per named endpoint, logging state transitions and invoking the optional
// trip/reset callbacks.
type BreakerRegistry struct {
	logger   *zap.Logger
	cfg      BreakerConfig
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker

	onTrip  func(endpoint string)
	onReset func(endpoint string)
}

// NewBreakerRegistry creates a registry. onTrip/onReset may be nil; when
// set they are invoked on every Open/Closed transition for metrics.
func NewBreakerRegistry(logger *zap.Logger, cfg BreakerConfig, onTrip, onReset func(endpoint string)) *BreakerRegistry {
	return &BreakerRegistry{
		logger:   logger,
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		onTrip:   onTrip,
		onReset:  onReset,
	}
}

func (r *BreakerRegistry) get(endpoint string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[endpoint]; ok {
		return b
	}

	settings := gobreaker.Settings{
		Name:        fmt.Sprintf("endpoint-%s", endpoint),
		MaxRequests: r.cfg.MaxRequests,
		Interval:    r.cfg.Interval,
		Timeout:     r.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < r.cfg.MinRequests {
				return false
			}
			failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRate >= r.cfg.FailureRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("circuit breaker state changed",
				zap.String("endpoint", endpoint),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if to == gobreaker.StateOpen && r.onTrip != nil {
				r.onTrip(endpoint)
			} else if to == gobreaker.StateClosed && r.onReset != nil {
				r.onReset(endpoint)
			}
		},
	}

	b := gobreaker.NewCircuitBreaker(settings)
	r.breakers[endpoint] = b
	return b
}

// Execute runs fn through the named endpoint's circuit breaker.
func (r *BreakerRegistry) Execute(endpoint string, fn func() (interface{}, error)) (interface{}, error) {
	return r.get(endpoint).Execute(fn)
}

// State reports the current breaker state for an endpoint, mainly for
// health reporting.
func (r *BreakerRegistry) State(endpoint string) gobreaker.State {
	return r.get(endpoint).State()
}
