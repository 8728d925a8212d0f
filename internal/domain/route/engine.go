package route

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/pwbridge/internal/domain/handle"
	"github.com/GriffinCanCode/pwbridge/internal/rpc"
	"github.com/GriffinCanCode/pwbridge/internal/shared/boundary"
	"github.com/GriffinCanCode/pwbridge/internal/shared/protocol"
)

// Handler handles one intercepted request. It should resolve the route
// with Continue, Abort, Fulfill or Fallback; dispatch waits until it does.
type Handler func(ctx context.Context, route *Route, req *Request) error

// Options configures one registration.
type Options struct {
	// Times limits how many requests the handler is offered. Zero means
	// no limit.
	Times int
}

// Behavior selects how UnrouteAll treats handlers still running.
type Behavior string

const (
	// BehaviorDefault removes registrations without waiting.
	BehaviorDefault Behavior = "default"
	// BehaviorWait waits for running handlers that have not failed.
	BehaviorWait Behavior = "wait"
	// BehaviorIgnoreErrors swallows later errors of running handlers.
	BehaviorIgnoreErrors Behavior = "ignoreErrors"
)

// Doer sends HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures an Engine.
type Config struct {
	BridgeID string
	BaseURL  *url.URL // resolves relative glob patterns and request URLs
	Fetch    Doer     // used by BypassFetch, http.DefaultClient when nil
	Logger   *zap.Logger
	OnError  func(error) // receives handler errors, logged when nil
}

// Engine dispatches intercepted requests to registered handlers.
type Engine struct {
	caller handle.Caller
	config Config
	logger *zap.Logger

	mu     sync.Mutex
	routes []*registration // newest first

	toggleMu sync.Mutex
	enabled  bool
}

// NewEngine creates an engine sending route.* calls through caller.
func NewEngine(caller handle.Caller, config Config) *Engine {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Fetch == nil {
		config.Fetch = http.DefaultClient
	}
	return &Engine{
		caller: caller,
		config: config,
		logger: logger.Named("route"),
	}
}

// Route registers handler for requests matching matcher. The newest
// registration is offered a request first.
func (e *Engine) Route(ctx context.Context, matcher Matcher, handler Handler, opts ...Options) error {
	return boundary.Call(func() error {
		match, err := compileMatcher(matcher, e.config.BaseURL)
		if err != nil {
			return err
		}
		if handler == nil {
			return fmt.Errorf("route: nil handler")
		}
		var o Options
		if len(opts) > 0 {
			o = opts[0]
		}

		reg := newRegistration(matcher, match, handler, o.Times)
		e.mu.Lock()
		e.routes = append([]*registration{reg}, e.routes...)
		e.mu.Unlock()

		return e.syncToggle(ctx)
	})
}

// Unroute removes registrations for matcher. With a handler only the
// registrations of that handler are removed.
//
// Handlers and func matchers compare by code pointer: two closures created
// from the same function literal are the same handler here, whatever they
// captured. Regular expressions compare by source.
func (e *Engine) Unroute(ctx context.Context, matcher Matcher, handler ...Handler) error {
	return boundary.Call(func() error {
		e.mu.Lock()
		kept := e.routes[:0:0]
		for _, reg := range e.routes {
			if sameMatcher(reg.matcher, matcher) && (len(handler) == 0 || sameFunc(reg.handler, handler[0])) {
				continue
			}
			kept = append(kept, reg)
		}
		e.routes = kept
		e.mu.Unlock()

		return e.syncToggle(ctx)
	})
}

// UnrouteAll removes every registration. BehaviorWait then waits for the
// handlers those registrations are running; BehaviorIgnoreErrors makes
// their later errors disappear.
func (e *Engine) UnrouteAll(ctx context.Context, behavior Behavior) error {
	return boundary.Call(func() error {
		e.mu.Lock()
		removed := e.routes
		e.routes = nil
		e.mu.Unlock()

		switch behavior {
		case BehaviorWait:
			g, gctx := errgroup.WithContext(ctx)
			for _, reg := range removed {
				reg := reg
				g.Go(func() error { return reg.wait(gctx) })
			}
			if err := g.Wait(); err != nil {
				return err
			}
		case BehaviorIgnoreErrors:
			for _, reg := range removed {
				reg.ignoreErrors()
			}
		}

		return e.syncToggle(ctx)
	})
}

// Len returns the number of live registrations.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.routes)
}

// BypassFetch sends req with the bypass header set, so the host passes it
// to the network whatever routes are registered.
func (e *Engine) BypassFetch(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.Header.Add(protocol.BypassHeader, e.config.BridgeID)
	return e.config.Fetch.Do(out)
}

// syncToggle tells the host to intercept exactly when registrations exist.
// Only transitions are sent.
func (e *Engine) syncToggle(ctx context.Context) error {
	e.toggleMu.Lock()
	defer e.toggleMu.Unlock()

	want := e.Len() > 0
	if want == e.enabled {
		return nil
	}
	if _, err := e.caller.Call(ctx, protocol.MethodRouteToggle, want); err != nil {
		return fmt.Errorf("failed to toggle interception: %w", err)
	}
	e.enabled = want
	e.logger.Debug("Interception toggled", zap.Bool("enabled", want))
	return nil
}

// HandleRequest dispatches one intercepted request.
func (e *Engine) HandleRequest(ctx context.Context, routeID string, details protocol.RequestDetails) error {
	req := newRequest(details)
	route := newRoute(routeID, req, e.caller)

	target, err := resolve(e.config.BaseURL, details.URL)
	if err != nil {
		return fmt.Errorf("route: bad request url %q: %w", details.URL, err)
	}

	e.mu.Lock()
	var candidates []*registration
	for _, reg := range e.routes {
		if reg.match(target) {
			candidates = append(candidates, reg)
		}
	}
	e.mu.Unlock()

	for _, reg := range candidates {
		inv, ok := e.claim(reg, route)
		if !ok {
			continue
		}

		handled, err := reg.invoke(ctx, inv, route, req)
		if err != nil {
			e.abortAfterError(ctx, routeID)
			e.report(err)
		}

		if e.Len() == 0 {
			if err := e.syncToggle(ctx); err != nil {
				e.logger.Warn("Failed to toggle route off after all handlers expired", zap.Error(err))
			}
		}

		if handled {
			return nil
		}
	}

	return route.innerContinue(ctx)
}

// claim starts an invocation of reg unless it was removed since the
// candidates were collected. A registration on its last use is removed
// before its handler runs.
func (e *Engine) claim(reg *registration, route *Route) (*invocation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	index := -1
	for i, r := range e.routes {
		if r == reg {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, false
	}
	if reg.willExpire() {
		e.routes = append(e.routes[:index:index], e.routes[index+1:]...)
	}
	return reg.begin(route), true
}

func (e *Engine) abortAfterError(ctx context.Context, routeID string) {
	if _, err := e.caller.Call(ctx, protocol.MethodRouteAbort, routeID); err != nil {
		e.logger.Warn("Error aborting route after handler error",
			zap.String("route_id", routeID),
			zap.Error(err))
	}
}

func (e *Engine) report(err error) {
	if e.config.OnError != nil {
		e.config.OnError(err)
		return
	}
	e.logger.Error("Route handler failed", zap.Error(err))
}

// Methods returns the method table served to the host.
func (e *Engine) Methods() map[string]rpc.Handler {
	return map[string]rpc.Handler{
		protocol.MethodRouteRequest: func(ctx context.Context, args []any) (any, error) {
			if len(args) < 2 {
				return nil, fmt.Errorf("%w: route.request wants 2 arguments, got %d", protocol.ErrBadArgument, len(args))
			}
			routeID, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("%w: route id is %T", protocol.ErrBadArgument, args[0])
			}
			details, err := protocol.ParseRequestDetails(args[1])
			if err != nil {
				return nil, err
			}
			return nil, e.HandleRequest(ctx, routeID, details)
		},
	}
}
