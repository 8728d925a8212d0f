package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newBreaker(threshold int) (*Breaker, *clock) {
	c := &clock{now: time.Unix(0, 0)}
	b := New("host", Settings{Threshold: threshold, Cooldown: time.Second})
	b.now = c.Now
	return b, c
}

var errDown = errors.New("down")

func fail(context.Context) (int, error) { return 0, errDown }
func pass(context.Context) (int, error) { return 1, nil }

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name     string
		calls    []func(context.Context) (int, error)
		expected State
	}{
		{"stays closed on successes", []func(context.Context) (int, error){pass, pass, pass}, StateClosed},
		{"stays closed below threshold", []func(context.Context) (int, error){fail, fail}, StateClosed},
		{"success resets failures", []func(context.Context) (int, error){fail, fail, pass, fail, fail}, StateClosed},
		{"opens at threshold", []func(context.Context) (int, error){fail, fail, fail}, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newBreaker(3)
			for _, call := range tt.calls {
				_, _ = Do(context.Background(), b, call)
			}
			assert.Equal(t, tt.expected, b.State())
		})
	}
}

func TestOpenBreakerFailsFast(t *testing.T) {
	b, c := newBreaker(1)
	_, err := Do(context.Background(), b, fail)
	require.ErrorIs(t, err, errDown)

	called := false
	_, err = Do(context.Background(), b, func(context.Context) (int, error) {
		called = true
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	c.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestHalfOpenAllowsOneProbe(t *testing.T) {
	b, c := newBreaker(1)
	_, _ = Do(context.Background(), b, fail)
	c.Advance(time.Second)

	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrTooManyRequests)

	b.Record(errDown)
	assert.Equal(t, StateOpen, b.State())

	c.Advance(time.Second)
	v, err := Do(context.Background(), b, pass)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, StateClosed, b.State())
}

func TestCancellationIsNotAFailure(t *testing.T) {
	b, _ := newBreaker(1)
	_, err := Do(context.Background(), b, func(context.Context) (int, error) {
		return 0, context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
}

func TestPanicCountsAsFailure(t *testing.T) {
	b, _ := newBreaker(1)
	assert.Panics(t, func() {
		_, _ = Do(context.Background(), b, func(context.Context) (int, error) { panic("boom") })
	})
	assert.Equal(t, StateOpen, b.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
