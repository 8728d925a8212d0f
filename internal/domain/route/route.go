package route

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/pwbridge/internal/domain/handle"
	"github.com/GriffinCanCode/pwbridge/internal/shared/boundary"
	"github.com/GriffinCanCode/pwbridge/internal/shared/protocol"
)

var (
	ErrAlreadyHandled = errors.New("route: route is already handled")
	ErrBodyAndJSON    = errors.New("route: can specify either body or json parameters")
)

type state int

const (
	stateIdle      state = iota // not offered to a handler yet
	stateUnhandled              // offered, awaiting a decision
	stateResolving              // a terminal operation is in flight
	stateResolved
	stateFellThrough
)

// Route is one intercepted request awaiting resolution.
type Route struct {
	id      string
	request *Request
	caller  handle.Caller

	mu             sync.Mutex
	state          state
	decided        chan bool
	triedButFailed bool
}

func newRoute(routeID string, req *Request, caller handle.Caller) *Route {
	return &Route{id: routeID, request: req, caller: caller}
}

// ID returns the host's id for the intercepted request.
func (r *Route) ID() string { return r.id }

// Request returns the request snapshot.
func (r *Route) Request() *Request { return r.request }

// startHandling offers the route to the next handler. The channel receives
// true once the route is resolved and false when the handler falls back.
func (r *Route) startHandling() <-chan bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = stateUnhandled
	r.decided = make(chan bool, 1)
	return r.decided
}

func (r *Route) hasTriedButFailed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.triedButFailed
}

func (r *Route) decide(handled bool, next state) {
	r.state = next
	r.decided <- handled
}

func (r *Route) tryHandle(fn func() error) error {
	r.mu.Lock()
	if r.state != stateUnhandled {
		r.mu.Unlock()
		return ErrAlreadyHandled
	}
	r.state = stateResolving
	r.mu.Unlock()

	err := fn()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.triedButFailed = true
		r.state = stateUnhandled
		return err
	}
	r.decide(true, stateResolved)
	return nil
}

// Fallback passes the request to the next matching handler, applying
// overrides for the handlers after this one.
func (r *Route) Fallback(overrides *Overrides) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateUnhandled {
		return boundary.Wrap(ErrAlreadyHandled)
	}
	r.request.applyOverrides(overrides)
	r.decide(false, stateFellThrough)
	return nil
}

// Abort fails the request. errorCode is passed to the browser as is; empty
// means the default.
func (r *Route) Abort(ctx context.Context, errorCode string) error {
	return boundary.Call(func() error {
		return r.tryHandle(func() error {
			args := []any{r.id}
			if errorCode != "" {
				args = append(args, errorCode)
			}
			_, err := r.caller.Call(ctx, protocol.MethodRouteAbort, args...)
			return err
		})
	})
}

// Continue sends the request to the network with overrides applied on top
// of those recorded by earlier fallbacks.
func (r *Route) Continue(ctx context.Context, overrides *Overrides) error {
	return boundary.Call(func() error {
		return r.tryHandle(func() error {
			r.request.applyOverrides(overrides)
			return r.innerContinue(ctx)
		})
	})
}

func (r *Route) innerContinue(ctx context.Context) error {
	_, err := r.caller.Call(ctx, protocol.MethodRouteContinue, r.id, r.request.continueOverrides().ToWire())
	return err
}

// FulfillOptions describe the response to return. JSON, when non-nil, is
// marshalled into the body and excludes Body. Response is a template whose
// body, headers and status fill in what is not given explicitly.
type FulfillOptions struct {
	Body        []byte
	ContentType string
	Headers     map[string]string
	JSON        any
	Path        string
	Response    *http.Response
	Status      int
}

// Fulfill answers the request without reaching the network.
func (r *Route) Fulfill(ctx context.Context, opts FulfillOptions) error {
	return boundary.Call(func() error {
		return r.tryHandle(func() error {
			wire, err := opts.resolve()
			if err != nil {
				return err
			}
			_, err = r.caller.Call(ctx, protocol.MethodRouteFulfill, r.id, wire.ToWire())
			return err
		})
	})
}

func (o FulfillOptions) resolve() (protocol.FulfillOptions, error) {
	body := o.Body
	if o.JSON != nil {
		if o.Body != nil {
			return protocol.FulfillOptions{}, ErrBodyAndJSON
		}
		data, err := sonic.Marshal(o.JSON)
		if err != nil {
			return protocol.FulfillOptions{}, err
		}
		body = data
	}

	if body == nil && o.Response != nil && o.Response.Body != nil {
		data, err := io.ReadAll(o.Response.Body)
		if err != nil {
			return protocol.FulfillOptions{}, err
		}
		o.Response.Body.Close()
		// leave the template readable for the caller
		o.Response.Body = io.NopCloser(bytes.NewReader(data))
		if len(data) > 0 {
			body = data
		}
	}

	contentType := o.ContentType
	if contentType == "" && o.JSON != nil {
		contentType = "application/json"
	}

	headers := o.Headers
	if headers == nil && o.Response != nil {
		headers = make(map[string]string, len(o.Response.Header))
		for name, values := range o.Response.Header {
			headers[strings.ToLower(name)] = strings.Join(values, ",")
		}
	}

	status := o.Status
	if status == 0 && o.Response != nil {
		status = o.Response.StatusCode
	}

	return protocol.FulfillOptions{
		Body:        body,
		ContentType: contentType,
		Headers:     headers,
		Path:        o.Path,
		Status:      status,
	}, nil
}
