package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("circuit breaker probe in flight")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the circuit breaker behavior
type Settings struct {
	// Threshold is the number of consecutive failures that opens the breaker
	Threshold int
	// Cooldown is how long the breaker stays open before one probe is let through
	Cooldown time.Duration
	Logger   *zap.Logger
}

// Breaker fails calls fast after repeated failures of the same dependency.
type Breaker struct {
	name     string
	settings Settings
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a circuit breaker. Zero settings get a threshold of 3 and a
// cooldown of 5s.
func New(name string, settings Settings) *Breaker {
	if settings.Threshold <= 0 {
		settings.Threshold = 3
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 5 * time.Second
	}
	logger := settings.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		name:     name,
		settings: settings,
		logger:   logger.Named("breaker").With(zap.String("breaker", name)),
		now:      time.Now,
	}
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

func (b *Breaker) current() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.settings.Cooldown {
		b.setState(StateHalfOpen)
	}
	return b.state
}

// Allow reserves a call. Every successful Allow must be followed by Record.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.current() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.probing {
			return ErrTooManyRequests
		}
		b.probing = true
	}
	return nil
}

// Record reports the outcome of a call reserved with Allow. Cancellation
// by the caller is not held against the dependency.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	probe := b.probing
	b.probing = false
	if errors.Is(err, context.Canceled) {
		return
	}

	if err == nil {
		b.failures = 0
		b.setState(StateClosed)
		return
	}

	b.failures++
	if probe || b.failures >= b.settings.Threshold {
		b.openedAt = b.now()
		b.setState(StateOpen)
	}
}

func (b *Breaker) setState(state State) {
	if b.state == state {
		return
	}
	b.logger.Info("Circuit breaker state changed",
		zap.Stringer("from", b.state),
		zap.Stringer("to", state),
		zap.Int("failures", b.failures))
	b.state = state
}

// Do runs fn through b.
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}

	panicked := true
	defer func() {
		if panicked {
			b.Record(errors.New("panic"))
		}
	}()

	v, err := fn(ctx)
	panicked = false
	b.Record(err)
	return v, err
}
