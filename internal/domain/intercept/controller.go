package intercept

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/pwbridge/internal/codec"
	"github.com/GriffinCanCode/pwbridge/internal/domain/handle"
	"github.com/GriffinCanCode/pwbridge/internal/driver"
	"github.com/GriffinCanCode/pwbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pwbridge/internal/rpc"
	"github.com/GriffinCanCode/pwbridge/internal/shared/id"
	"github.com/GriffinCanCode/pwbridge/internal/shared/protocol"
)

var ErrRouteNotFound = errors.New("intercept: route is already handled")

// Resolutions recorded in metrics.
const (
	resolutionAborted     = "aborted"
	resolutionBypassed    = "bypassed"
	resolutionContinued   = "continued"
	resolutionFulfilled   = "fulfilled"
	resolutionUndelivered = "undelivered"
)

// Config configures a Controller.
type Config struct {
	BridgeID id.BridgeID
	// RouteContext intercepts at the browser context instead of the page.
	RouteContext bool
	Logger       *zap.Logger
	Metrics      *monitoring.Metrics
}

// Controller owns the routes intercepted for one page.
type Controller struct {
	target   driver.Interceptor
	registry *handle.Registry
	caller   handle.Caller
	config   Config
	logger   *zap.Logger

	toggleMu sync.Mutex // serializes Toggle; held across driver calls

	mu      sync.Mutex
	routes  map[string]driver.Route
	enabled bool
}

// NewController creates a controller for page. Frames and workers of
// intercepted requests are registered in registry; route.request is sent
// through caller.
func NewController(page driver.Page, registry *handle.Registry, caller handle.Caller, config Config) *Controller {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var target driver.Interceptor = page
	if config.RouteContext {
		target = page.Context()
	}

	return &Controller{
		target:   target,
		registry: registry,
		caller:   caller,
		config:   config,
		logger:   logger.Named("intercept").With(zap.String("bridge_id", config.BridgeID.String())),
		routes:   make(map[string]driver.Route),
	}
}

// Toggle installs or removes the catch-all route handler.
func (c *Controller) Toggle(ctx context.Context, enabled bool) error {
	c.toggleMu.Lock()
	defer c.toggleMu.Unlock()

	c.mu.Lock()
	current := c.enabled
	c.mu.Unlock()
	if enabled == current {
		return nil
	}

	var err error
	if enabled {
		err = c.target.Route(ctx, c.handleRoute)
	} else {
		err = c.target.Unroute(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to toggle interception: %w", err)
	}
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
	c.logger.Info("Interception toggled", zap.Bool("enabled", enabled))
	return nil
}

// Close removes the route handler. Routes still pending are continued.
func (c *Controller) Close(ctx context.Context) error {
	err := c.Toggle(ctx, false)

	c.mu.Lock()
	pending := c.routes
	c.routes = make(map[string]driver.Route)
	c.mu.Unlock()

	for routeID, r := range pending {
		if cerr := r.Continue(ctx, protocol.ContinueOptions{}); cerr != nil {
			c.logger.Warn("Failed to continue pending route on close",
				zap.String("route_id", routeID),
				zap.Error(cerr))
		}
	}
	return err
}

// Pending returns the number of routes awaiting resolution.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.routes)
}

// bypassIndex returns the position of this session's bypass header, or -1.
func (c *Controller) bypassIndex(headers []protocol.Header) int {
	for i, h := range headers {
		if strings.EqualFold(h.Name, protocol.BypassHeader) && h.Value == c.config.BridgeID.String() {
			return i
		}
	}
	return -1
}

func (c *Controller) handleRoute(ctx context.Context, r driver.Route, req driver.Request) {
	headers := req.HeadersArray()

	if index := c.bypassIndex(headers); index >= 0 {
		headers = append(headers[:index:index], headers[index+1:]...)
		joined := make(map[string]string, len(headers))
		for _, h := range headers {
			if prev, ok := joined[h.Name]; ok {
				joined[h.Name] = prev + "," + h.Value
			} else {
				joined[h.Name] = h.Value
			}
		}
		if err := r.Continue(ctx, protocol.ContinueOptions{Headers: joined}); err != nil {
			c.logger.Warn("Failed to continue bypassed request", zap.String("url", req.URL()), zap.Error(err))
		}
		c.config.Metrics.RecordIntercept(resolutionBypassed)
		return
	}

	var frame any
	if f, err := req.Frame(); err == nil && f != nil {
		frame = c.registry.CreateFor(f)
	}
	var worker any
	if w := req.ServiceWorker(); w != nil {
		worker = c.registry.CreateFor(w)
	}

	routeID := id.NewRouteID().String()
	c.mu.Lock()
	c.routes[routeID] = r
	c.mu.Unlock()

	details := protocol.RequestDetails{
		Body:                req.PostDataBuffer(),
		Frame:               frame,
		HeadersArray:        headers,
		IsNavigationRequest: req.IsNavigationRequest(),
		Method:              req.Method(),
		ResourceType:        req.ResourceType(),
		ServiceWorker:       worker,
		URL:                 req.URL(),
	}
	if _, err := c.caller.Call(ctx, protocol.MethodRouteRequest, routeID, details.ToWire()); err != nil {
		c.logger.Warn("Failed to route request, continuing without routing",
			zap.String("url", req.URL()),
			zap.Error(err))
		if pending, ok := c.take(routeID); ok {
			if err := pending.Continue(ctx, protocol.ContinueOptions{}); err != nil {
				c.logger.Warn("Failed to continue undelivered request", zap.Error(err))
			}
			c.config.Metrics.RecordIntercept(resolutionUndelivered)
		}
	}
}

func (c *Controller) take(routeID string) (driver.Route, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.routes[routeID]
	if ok {
		delete(c.routes, routeID)
	}
	return r, ok
}

func (c *Controller) lookup(routeID string) (driver.Route, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.routes[routeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, routeID)
	}
	return r, nil
}

// resolve runs fn against the route and forgets the route once fn
// succeeds.
func (c *Controller) resolve(routeID, resolution string, fn func(driver.Route) error) error {
	r, err := c.lookup(routeID)
	if err != nil {
		return err
	}
	if err := fn(r); err != nil {
		return err
	}
	c.take(routeID)
	c.config.Metrics.RecordIntercept(resolution)
	return nil
}

// Abort fails the route's request.
func (c *Controller) Abort(ctx context.Context, routeID, errorCode string) error {
	return c.resolve(routeID, resolutionAborted, func(r driver.Route) error {
		return r.Abort(ctx, errorCode)
	})
}

// Continue sends the route's request to the network.
func (c *Controller) Continue(ctx context.Context, routeID string, opts protocol.ContinueOptions) error {
	return c.resolve(routeID, resolutionContinued, func(r driver.Route) error {
		return r.Continue(ctx, opts)
	})
}

// Fulfill answers the route's request.
func (c *Controller) Fulfill(ctx context.Context, routeID string, opts protocol.FulfillOptions) error {
	return c.resolve(routeID, resolutionFulfilled, func(r driver.Route) error {
		return r.Fulfill(ctx, opts)
	})
}

// Methods returns the route.* method table served to the referencing side.
func (c *Controller) Methods() map[string]rpc.Handler {
	return map[string]rpc.Handler{
		protocol.MethodRouteToggle: func(ctx context.Context, args []any) (any, error) {
			if len(args) < 1 {
				return nil, fmt.Errorf("%w: route.toggle wants 1 argument", protocol.ErrBadArgument)
			}
			enabled, ok := args[0].(bool)
			if !ok {
				return nil, fmt.Errorf("%w: enabled is %T", protocol.ErrBadArgument, args[0])
			}
			return codec.Undefined, c.Toggle(ctx, enabled)
		},
		protocol.MethodRouteAbort: func(ctx context.Context, args []any) (any, error) {
			routeID, err := routeArg(args)
			if err != nil {
				return nil, err
			}
			var errorCode string
			if len(args) > 1 {
				errorCode, _ = args[1].(string)
			}
			return codec.Undefined, c.Abort(ctx, routeID, errorCode)
		},
		protocol.MethodRouteContinue: func(ctx context.Context, args []any) (any, error) {
			routeID, err := routeArg(args)
			if err != nil {
				return nil, err
			}
			opts, err := protocol.ParseContinueOptions(optionArg(args))
			if err != nil {
				return nil, err
			}
			return codec.Undefined, c.Continue(ctx, routeID, opts)
		},
		protocol.MethodRouteFulfill: func(ctx context.Context, args []any) (any, error) {
			routeID, err := routeArg(args)
			if err != nil {
				return nil, err
			}
			opts, err := protocol.ParseFulfillOptions(optionArg(args))
			if err != nil {
				return nil, err
			}
			return codec.Undefined, c.Fulfill(ctx, routeID, opts)
		},
	}
}

func routeArg(args []any) (string, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("%w: missing route id", protocol.ErrBadArgument)
	}
	routeID, ok := args[0].(string)
	if !ok {
		return "", fmt.Errorf("%w: route id is %T", protocol.ErrBadArgument, args[0])
	}
	return routeID, nil
}

func optionArg(args []any) any {
	if len(args) < 2 || codec.IsUndefined(args[1]) {
		return nil
	}
	return args[1]
}
