package handle

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/pwbridge/internal/codec"
	"github.com/GriffinCanCode/pwbridge/internal/shared/boundary"
	"github.com/GriffinCanCode/pwbridge/internal/shared/protocol"
)

// Caller sends calls to the owning side.
type Caller interface {
	Call(ctx context.Context, method string, args ...any) (any, error)
}

// Proxy refers to a value held by the owning side. Encoding a Proxy sends
// its id, which the owning side resolves back to the value.
type Proxy struct {
	id         string
	caller     Caller
	persistent bool

	mu       sync.Mutex
	disposed bool
	cleanup  runtime.Cleanup
}

// release is the state captured by a proxy's cleanup. It must not refer to
// the proxy itself.
type release struct {
	id     string
	caller Caller
	logger *zap.Logger
}

// NewProxy creates a proxy for handleID. Persistent proxies ignore Dispose
// and are never released by the runtime.
func NewProxy(handleID string, caller Caller, persistent bool, logger *zap.Logger) *Proxy {
	p := &Proxy{id: handleID, caller: caller, persistent: persistent}
	if persistent {
		return p
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p.cleanup = runtime.AddCleanup(p, releaseDropped, release{
		id:     handleID,
		caller: caller,
		logger: logger.Named("handle"),
	})
	return p
}

func releaseDropped(r release) {
	go func() {
		if _, err := r.caller.Call(context.Background(), protocol.MethodHandleDispose, r.id); err != nil {
			r.logger.Warn("Failed to dispose remote handle on finalization",
				zap.String("handle_id", r.id),
				zap.Error(err))
		}
	}()
}

// Factory returns a codec handle factory minting non-persistent proxies.
func Factory(caller Caller, logger *zap.Logger) func(string) any {
	return func(handleID string) any {
		return NewProxy(handleID, caller, false, logger)
	}
}

// HandleID implements codec.HandleRef.
func (p *Proxy) HandleID() string { return p.id }

// Persistent reports whether the proxy ignores Dispose.
func (p *Proxy) Persistent() bool { return p.persistent }

// Evaluate runs function source against the remote value with one argument
// and returns the result by value.
func (p *Proxy) Evaluate(ctx context.Context, source string, arg any) (any, error) {
	return boundary.Do(func() (any, error) {
		return p.caller.Call(ctx, protocol.MethodHandleEvaluate, p.id, source, arg)
	})
}

// EvaluateHandle is like Evaluate but returns a proxy for the result.
func (p *Proxy) EvaluateHandle(ctx context.Context, source string, arg any) (*Proxy, error) {
	return boundary.Do(func() (*Proxy, error) {
		v, err := p.caller.Call(ctx, protocol.MethodHandleEvaluateHandle, p.id, source, arg)
		if err != nil {
			return nil, err
		}
		return asProxy(v)
	})
}

// JSONValue returns the remote value by value.
func (p *Proxy) JSONValue(ctx context.Context) (any, error) {
	return boundary.Do(func() (any, error) {
		return p.caller.Call(ctx, protocol.MethodHandleJSONValue, p.id)
	})
}

// GetProperties returns proxies for the own properties of the remote value.
func (p *Proxy) GetProperties(ctx context.Context) (map[string]*Proxy, error) {
	return boundary.Do(func() (map[string]*Proxy, error) {
		v, err := p.caller.Call(ctx, protocol.MethodHandleGetProperties, p.id)
		if err != nil {
			return nil, err
		}
		m, ok := v.(*codec.Map)
		if !ok {
			return nil, fmt.Errorf("%w: properties are %T", protocol.ErrBadArgument, v)
		}
		props := make(map[string]*Proxy, m.Len())
		for _, e := range m.Entries() {
			name, ok := e.Key.(string)
			if !ok {
				return nil, fmt.Errorf("%w: property name is %T", protocol.ErrBadArgument, e.Key)
			}
			if props[name], err = asProxy(e.Value); err != nil {
				return nil, err
			}
		}
		return props, nil
	})
}

// GetProperty returns a proxy for one property of the remote value.
func (p *Proxy) GetProperty(ctx context.Context, name string) (*Proxy, error) {
	return boundary.Do(func() (*Proxy, error) {
		v, err := p.caller.Call(ctx, protocol.MethodHandleGetProperty, p.id, name)
		if err != nil {
			return nil, err
		}
		return asProxy(v)
	})
}

// Dispose releases the remote value. Repeat calls, and any call on a
// persistent proxy, do nothing.
func (p *Proxy) Dispose(ctx context.Context) error {
	if p.persistent {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return nil
	}
	if _, err := p.caller.Call(ctx, protocol.MethodHandleDispose, p.id); err != nil {
		return boundary.Wrap(err)
	}
	p.cleanup.Stop()
	p.disposed = true
	return nil
}

func asProxy(v any) (*Proxy, error) {
	p, ok := v.(*Proxy)
	if !ok {
		return nil, fmt.Errorf("%w: expected a handle, got %T", protocol.ErrBadArgument, v)
	}
	return p, nil
}

func (p *Proxy) String() string {
	return fmt.Sprintf("Handle(%s)", p.id)
}
