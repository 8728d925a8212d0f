// Package driver declares what the host needs from a browser automation
// driver: pages and contexts that can intercept requests, and the
// intercepted requests themselves.
package driver

import (
	"context"
	"errors"

	"github.com/GriffinCanCode/pwbridge/internal/shared/protocol"
)

var (
	ErrNoFrame        = errors.New("driver: request has no associated frame")
	ErrPageNotFound   = errors.New("driver: page not found")
	ErrAlreadyHandled = errors.New("driver: route is already handled")
)

// Request is an intercepted request.
type Request interface {
	Method() string
	URL() string
	// HeadersArray lists headers in wire order with lower-case names.
	HeadersArray() []protocol.Header
	// PostDataBuffer returns the body, or nil.
	PostDataBuffer() []byte
	IsNavigationRequest() bool
	ResourceType() string
	// Frame returns the issuing frame, or ErrNoFrame for service worker
	// requests.
	Frame() (any, error)
	// ServiceWorker returns the issuing worker, or nil.
	ServiceWorker() any
}

// Route resolves an intercepted request. Exactly one of its methods may
// succeed.
type Route interface {
	Abort(ctx context.Context, errorCode string) error
	Continue(ctx context.Context, opts protocol.ContinueOptions) error
	Fulfill(ctx context.Context, opts protocol.FulfillOptions) error
}

// RouteHandler receives every request while interception is on.
type RouteHandler func(ctx context.Context, route Route, req Request)

// Interceptor switches catch-all interception on and off.
type Interceptor interface {
	Route(ctx context.Context, handler RouteHandler) error
	Unroute(ctx context.Context) error
}

// BrowserContext groups pages sharing interception.
type BrowserContext interface {
	Interceptor
}

// Page is one top-level page.
type Page interface {
	Interceptor
	Context() BrowserContext
}

// Browser looks up pages by the key they register with.
type Browser interface {
	Page(key string) (Page, error)
}
