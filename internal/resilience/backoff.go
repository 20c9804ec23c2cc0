package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffConfig controls the reconnect delay applied between failed
// OPC UA session dials and AAS REST retries.
type BackoffConfig struct {
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	Jitter        bool          `yaml:"jitter"`
	JitterPercent float64       `yaml:"jitter_percent"`
}

// DefaultBackoffConfig matches the teacher's cloud retry manager defaults,
// scaled down for a local reconnect loop.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		Jitter:        true,
		JitterPercent: 0.25,
	}
}

// Backoff computes a jittered exponential delay sequence: attempt 0 is the
// first retry after an initial failure.
type Backoff struct {
	cfg BackoffConfig
}

// NewBackoff builds a Backoff from cfg, applying DefaultBackoffConfig for
// any zero fields.
func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultBackoffConfig().InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultBackoffConfig().MaxDelay
	}
	return &Backoff{cfg: cfg}
}

// Delay returns the backoff duration for the given attempt count
// (0-indexed), capped at MaxDelay and jittered by +/-JitterPercent.
func (b *Backoff) Delay(attempt int) time.Duration {
	multiplier := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(b.cfg.InitialDelay) * multiplier)

	if delay > b.cfg.MaxDelay || delay <= 0 {
		delay = b.cfg.MaxDelay
	}

	if b.cfg.Jitter && b.cfg.JitterPercent > 0 {
		jitterRange := float64(delay) * b.cfg.JitterPercent
		jitter := rand.Float64()*jitterRange*2 - jitterRange
		delay = time.Duration(float64(delay) + jitter)
		if delay < 0 {
			delay = b.cfg.InitialDelay
		}
	}

	return delay
}

// Sleep blocks for the attempt's backoff delay or until ctx is cancelled,
// returning ctx.Err() in the latter case.
func (b *Backoff) Sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(b.Delay(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
