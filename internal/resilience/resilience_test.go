package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBackoff_ExponentialGrowthCappedAtMax(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		Jitter:       false,
	})

	assert.Equal(t, 10*time.Millisecond, b.Delay(0))
	assert.Equal(t, 20*time.Millisecond, b.Delay(1))
	assert.Equal(t, 40*time.Millisecond, b.Delay(2))
	assert.Equal(t, 40*time.Millisecond, b.Delay(10))
}

func TestBackoff_JitterStaysWithinRange(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      100 * time.Millisecond,
		Jitter:        true,
		JitterPercent: 0.2,
	})

	for i := 0; i < 50; i++ {
		d := b.Delay(0)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}

func TestBackoff_SleepRespectsContextCancellation(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: time.Second, MaxDelay: time.Second, Jitter: false})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Sleep(ctx, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBreakerRegistry_TripsAfterFailureRateExceeded(t *testing.T) {
	var tripped, reset bool
	r := NewBreakerRegistry(zap.NewNop(), BreakerConfig{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Millisecond,
		FailureRate: 0.5,
		MinRequests: 2,
	}, func(string) { tripped = true }, func(string) { reset = true })

	failing := func() (interface{}, error) { return nil, errors.New("boom") }

	for i := 0; i < 3; i++ {
		_, _ = r.Execute("plc1", failing)
	}

	assert.True(t, tripped)
	assert.False(t, reset)
}

func TestBreakerRegistry_PerEndpointIsolation(t *testing.T) {
	r := NewBreakerRegistry(zap.NewNop(), DefaultBreakerConfig(), nil, nil)

	_, err := r.Execute("plc1", func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)

	_, err = r.Execute("plc2", func() (interface{}, error) { return nil, errors.New("fail") })
	require.Error(t, err)
}
