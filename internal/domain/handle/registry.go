package handle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/pwbridge/internal/codec"
	"github.com/GriffinCanCode/pwbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pwbridge/internal/rpc"
	"github.com/GriffinCanCode/pwbridge/internal/script"
	"github.com/GriffinCanCode/pwbridge/internal/shared/id"
	"github.com/GriffinCanCode/pwbridge/internal/shared/protocol"
)

var ErrHandleNotFound = errors.New("handle: not found")

// identity returns the target itself; evaluating it yields the target by
// value.
const identity = "v => v"

// Options configures a Registry.
type Options struct {
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// Registry is the owning side's target map.
type Registry struct {
	runtime *script.Runtime
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu      sync.RWMutex
	targets map[string]any
}

// NewRegistry creates an empty registry evaluating with runtime.
func NewRegistry(runtime *script.Runtime, opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		runtime: runtime,
		logger:  logger.Named("handle"),
		metrics: opts.Metrics,
		targets: make(map[string]any),
	}
}

// RegisterCommon stores the two well-known targets of a bridge session.
func (r *Registry) RegisterCommon(bridge id.BridgeID, page, browserContext any) {
	ids := id.CommonHandleIDs(bridge)
	r.Register(ids.Page.String(), page)
	r.Register(ids.Context.String(), browserContext)
}

// Register stores value under a caller-chosen id, replacing any previous
// value.
func (r *Registry) Register(handleID string, value any) {
	r.mu.Lock()
	_, existed := r.targets[handleID]
	r.targets[handleID] = value
	r.mu.Unlock()

	if !existed {
		r.metrics.HandleCreated()
	}
}

// CreateFor stores value under a fresh id and returns the descriptor to send
// to the referencing side.
func (r *Registry) CreateFor(value any) codec.PendingHandle {
	handleID := id.NewHandleID().String()
	r.Register(handleID, value)
	r.logger.Debug("Handle created", zap.String("handle_id", handleID))
	return codec.PendingHandle{ID: handleID}
}

// Resolve returns the value stored under handleID.
func (r *Registry) Resolve(handleID string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.targets[handleID]
	if !ok {
		return nil, fmt.Errorf("%w: handle with id %s does not exist", ErrHandleNotFound, handleID)
	}
	return v, nil
}

// LookupTarget implements codec.TargetLookup.
func (r *Registry) LookupTarget(handleID string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.targets[handleID]
	return v, ok
}

// Dispose removes handleID. Removing an id that is already gone is a no-op.
func (r *Registry) Dispose(handleID string) {
	r.mu.Lock()
	_, ok := r.targets[handleID]
	delete(r.targets, handleID)
	r.mu.Unlock()

	if ok {
		r.metrics.HandleReleased()
		r.logger.Debug("Handle disposed", zap.String("handle_id", handleID))
	}
}

// Len returns the number of stored targets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.targets)
}

// Evaluate runs source against the target of handleID and returns the
// result by value.
func (r *Registry) Evaluate(ctx context.Context, handleID, source string, arg any) (any, error) {
	target, err := r.Resolve(handleID)
	if err != nil {
		return nil, err
	}
	return r.runtime.Evaluate(ctx, source, target, arg)
}

// EvaluateHandle runs source against the target of handleID and registers
// the result.
func (r *Registry) EvaluateHandle(ctx context.Context, handleID, source string, arg any) (codec.PendingHandle, error) {
	result, err := r.Evaluate(ctx, handleID, source, arg)
	if err != nil {
		return codec.PendingHandle{}, err
	}
	return r.CreateFor(result), nil
}

// GetProperties registers every own property of the target and returns the
// new handles by property name.
func (r *Registry) GetProperties(ctx context.Context, handleID string) (*codec.Map, error) {
	target, err := r.Resolve(handleID)
	if err != nil {
		return nil, err
	}
	props, err := r.runtime.Properties(ctx, target)
	if err != nil {
		return nil, err
	}

	out := codec.NewMap()
	for _, p := range props {
		out.Set(p.Name, r.CreateFor(p.Value))
	}
	return out, nil
}

// GetProperty registers one property of the target.
func (r *Registry) GetProperty(ctx context.Context, handleID, name string) (codec.PendingHandle, error) {
	target, err := r.Resolve(handleID)
	if err != nil {
		return codec.PendingHandle{}, err
	}
	v, err := r.runtime.Property(ctx, target, name)
	if err != nil {
		return codec.PendingHandle{}, err
	}
	return r.CreateFor(v), nil
}

// JSONValue returns the target of handleID by value.
func (r *Registry) JSONValue(ctx context.Context, handleID string) (any, error) {
	return r.Evaluate(ctx, handleID, identity, codec.Undefined)
}

// Methods returns the handle.* method table served to the referencing side.
func (r *Registry) Methods() map[string]rpc.Handler {
	return map[string]rpc.Handler{
		protocol.MethodHandleDispose: func(_ context.Context, args []any) (any, error) {
			handleID, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			r.Dispose(handleID)
			return codec.Undefined, nil
		},
		protocol.MethodHandleEvaluate: func(ctx context.Context, args []any) (any, error) {
			handleID, source, arg, err := evaluateArgs(args)
			if err != nil {
				return nil, err
			}
			return r.Evaluate(ctx, handleID, source, arg)
		},
		protocol.MethodHandleEvaluateHandle: func(ctx context.Context, args []any) (any, error) {
			handleID, source, arg, err := evaluateArgs(args)
			if err != nil {
				return nil, err
			}
			return r.EvaluateHandle(ctx, handleID, source, arg)
		},
		protocol.MethodHandleGetProperties: func(ctx context.Context, args []any) (any, error) {
			handleID, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			return r.GetProperties(ctx, handleID)
		},
		protocol.MethodHandleGetProperty: func(ctx context.Context, args []any) (any, error) {
			handleID, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			name, err := stringArg(args, 1)
			if err != nil {
				return nil, err
			}
			return r.GetProperty(ctx, handleID, name)
		},
		protocol.MethodHandleJSONValue: func(ctx context.Context, args []any) (any, error) {
			handleID, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			return r.JSONValue(ctx, handleID)
		},
	}
}

func stringArg(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%w: missing argument %d", protocol.ErrBadArgument, i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%w: argument %d is %T, want string", protocol.ErrBadArgument, i, args[i])
	}
	return s, nil
}

func evaluateArgs(args []any) (handleID, source string, arg any, err error) {
	if handleID, err = stringArg(args, 0); err != nil {
		return
	}
	if source, err = stringArg(args, 1); err != nil {
		return
	}
	arg = codec.Undefined
	if len(args) > 2 {
		arg = args[2]
	}
	return
}
