package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pwbridge/internal/codec"
	"github.com/GriffinCanCode/pwbridge/internal/domain/handle"
	"github.com/GriffinCanCode/pwbridge/internal/domain/route"
	"github.com/GriffinCanCode/pwbridge/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/pwbridge/internal/rpc"
	"github.com/GriffinCanCode/pwbridge/internal/shared/id"
	"github.com/GriffinCanCode/pwbridge/internal/shared/protocol"
	"github.com/GriffinCanCode/pwbridge/internal/transport"
)

var ErrRegister = errors.New("client: registration failed")

// Config configures Connect.
type Config struct {
	HostURL string // base URL of the bridge host
	PageKey string // key the host knows the page by

	// BaseURL resolves relative route patterns, usually the page URL.
	BaseURL *url.URL
	// Fetch sends BypassFetch requests. It should be the page's own client
	// so the host sees them.
	Fetch route.Doer
	// OnError receives errors of route handlers.
	OnError func(error)

	// Breaker guards calls to the host. Share one across bridges to the
	// same host.
	Breaker    *resilience.Breaker
	RetryCount int
	Timeout    time.Duration
	Dialer     *websocket.Dialer
	Logger     *zap.Logger
}

// Bridge is a live connection to the host for one page.
type Bridge struct {
	id      id.BridgeID
	conn    *rpc.Conn
	engine  *route.Engine
	page    *handle.Proxy
	context *handle.Proxy
	logger  *zap.Logger

	done     chan struct{}
	serveErr error
}

// Connect registers the page and opens its bridge socket.
func Connect(ctx context.Context, cfg Config) (*Bridge, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("client")
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = resilience.New("bridge-host", resilience.Settings{Logger: logger})
	}

	bridgeID, err := register(ctx, cfg, breaker)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("bridge_id", bridgeID.String()))

	ws, err := dial(ctx, cfg, breaker, bridgeID)
	if err != nil {
		return nil, err
	}

	b := &Bridge{id: bridgeID, logger: logger, done: make(chan struct{})}
	b.conn = rpc.New(transport.NewWebSocket(ws, nil), nil, rpc.Options{
		Decode: codec.DecodeOptions{NewHandle: func(handleID string) any {
			return handle.NewProxy(handleID, b.conn, false, logger)
		}},
		Logger: logger,
	})
	b.engine = route.NewEngine(b.conn, route.Config{
		BridgeID: bridgeID.String(),
		BaseURL:  cfg.BaseURL,
		Fetch:    cfg.Fetch,
		Logger:   logger,
		OnError:  cfg.OnError,
	})
	for name, h := range b.engine.Methods() {
		b.conn.Handle(name, h)
	}

	common := id.CommonHandleIDs(bridgeID)
	b.page = handle.NewProxy(common.Page.String(), b.conn, true, logger)
	b.context = handle.NewProxy(common.Context.String(), b.conn, true, logger)

	go func() {
		defer close(b.done)
		b.serveErr = b.conn.Serve(context.Background())
	}()

	logger.Info("Bridge connected", zap.String("page_key", cfg.PageKey))
	return b, nil
}

func register(ctx context.Context, cfg Config, breaker *resilience.Breaker) (id.BridgeID, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.HostURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)

	var result protocol.RegisterResponse
	resp, err := resilience.Do(ctx, breaker, func(ctx context.Context) (*resty.Response, error) {
		resp, err := r.R().
			SetContext(ctx).
			SetBody(protocol.RegisterRequest{PageKey: cfg.PageKey}).
			SetResult(&result).
			Post(protocol.RegisterPath)
		if err == nil && resp.StatusCode() >= http.StatusInternalServerError {
			err = fmt.Errorf("host returned %s", resp.Status())
		}
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRegister, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: host returned %s: %s", ErrRegister, resp.Status(), strings.TrimSpace(resp.String()))
	}
	if result.BridgeID == "" {
		return "", fmt.Errorf("%w: empty bridge id", ErrRegister)
	}
	return id.BridgeID(result.BridgeID), nil
}

func dial(ctx context.Context, cfg Config, breaker *resilience.Breaker, bridgeID id.BridgeID) (*websocket.Conn, error) {
	socketURL, err := socketURL(cfg.HostURL, bridgeID)
	if err != nil {
		return nil, err
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	return resilience.Do(ctx, breaker, func(ctx context.Context) (*websocket.Conn, error) {
		ws, resp, err := dialer.DialContext(ctx, socketURL, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("client: dial bridge socket: %s: %w", resp.Status, err)
			}
			return nil, fmt.Errorf("client: dial bridge socket: %w", err)
		}
		return ws, nil
	})
}

func socketURL(hostURL string, bridgeID id.BridgeID) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(hostURL, "/") + "/" + protocol.WebSocketPath(bridgeID.String()))
	if err != nil {
		return "", fmt.Errorf("client: invalid host URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

// ID returns the bridge id.
func (b *Bridge) ID() id.BridgeID { return b.id }

// Page returns the handle of the page. It cannot be disposed.
func (b *Bridge) Page() *handle.Proxy { return b.page }

// Context returns the handle of the page's browser context. It cannot be
// disposed.
func (b *Bridge) Context() *handle.Proxy { return b.context }

// Route registers handler for requests matching matcher.
func (b *Bridge) Route(ctx context.Context, matcher route.Matcher, handler route.Handler, opts ...route.Options) error {
	return b.engine.Route(ctx, matcher, handler, opts...)
}

// Unroute removes registrations of matcher, only those of handler when given.
func (b *Bridge) Unroute(ctx context.Context, matcher route.Matcher, handler ...route.Handler) error {
	return b.engine.Unroute(ctx, matcher, handler...)
}

// UnrouteAll removes every registration.
func (b *Bridge) UnrouteAll(ctx context.Context, behavior route.Behavior) error {
	return b.engine.UnrouteAll(ctx, behavior)
}

// BypassFetch sends req past every route.
func (b *Bridge) BypassFetch(req *http.Request) (*http.Response, error) {
	return b.engine.BypassFetch(req)
}

// Done is closed once the bridge socket is closed and served calls finished.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Close closes the bridge socket and waits for served calls to finish.
func (b *Bridge) Close() error {
	err := b.conn.Close()
	<-b.done
	b.logger.Info("Bridge closed")
	if err != nil && !errors.Is(err, rpc.ErrClosed) {
		return err
	}
	return b.serveErr
}
