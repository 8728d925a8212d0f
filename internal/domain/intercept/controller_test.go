package intercept

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/pwbridge/internal/codec"
	"github.com/GriffinCanCode/pwbridge/internal/domain/handle"
	"github.com/GriffinCanCode/pwbridge/internal/domain/route"
	"github.com/GriffinCanCode/pwbridge/internal/driver"
	"github.com/GriffinCanCode/pwbridge/internal/driver/netproxy"
	"github.com/GriffinCanCode/pwbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pwbridge/internal/rpc"
	"github.com/GriffinCanCode/pwbridge/internal/script"
	"github.com/GriffinCanCode/pwbridge/internal/shared/id"
	"github.com/GriffinCanCode/pwbridge/internal/shared/protocol"
	"github.com/GriffinCanCode/pwbridge/internal/transport"
)

type lateCaller struct{ conn *rpc.Conn }

func (c *lateCaller) Call(ctx context.Context, method string, args ...any) (any, error) {
	return c.conn.Call(ctx, method, args...)
}

type fixture struct {
	bridge     id.BridgeID
	page       *netproxy.Page
	context    *netproxy.Context
	controller *Controller
	engine     *route.Engine
	metrics    *monitoring.Metrics
}

func newFixture(t *testing.T, routeContext bool) *fixture {
	t.Helper()
	bridge := id.NewBridgeID()
	browser := netproxy.NewBrowser(netproxy.Options{})
	bctx := browser.NewContext()
	page, err := bctx.NewPage("tab", "https://app.test/")
	require.NoError(t, err)
	metrics := monitoring.NewMetrics()

	rt, err := script.New(script.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	registry := handle.NewRegistry(rt, handle.Options{})
	registry.RegisterCommon(bridge, page, bctx)

	hostCaller, pageCaller := &lateCaller{}, &lateCaller{}
	controller := NewController(page, registry, hostCaller, Config{
		BridgeID:     bridge,
		RouteContext: routeContext,
		Metrics:      metrics,
	})
	engine := route.NewEngine(pageCaller, route.Config{
		BridgeID: bridge.String(),
		Fetch:    page.Client(),
	})

	hostMethods := registry.Methods()
	for name, h := range controller.Methods() {
		hostMethods[name] = h
	}
	a, b := transport.Pipe()
	hostCaller.conn = rpc.New(a, hostMethods, rpc.Options{
		Encode: codec.EncodeOptions{NullFunctions: true},
		Decode: codec.DecodeOptions{Targets: registry},
	})
	pageCaller.conn = rpc.New(b, engine.Methods(), rpc.Options{
		Decode: codec.DecodeOptions{NewHandle: handle.Factory(pageCaller, nil)},
	})

	var wg sync.WaitGroup
	for _, c := range []*rpc.Conn{hostCaller.conn, pageCaller.conn} {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Serve(context.Background())
		}()
	}
	t.Cleanup(func() {
		_ = hostCaller.conn.Close()
		_ = pageCaller.conn.Close()
		wg.Wait()
	})

	return &fixture{
		bridge:     bridge,
		page:       page,
		context:    bctx,
		controller: controller,
		engine:     engine,
		metrics:    metrics,
	}
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestFulfillThroughBridge(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	require.NoError(t, f.engine.Route(ctx, "https://app.test/hello", func(ctx context.Context, r *route.Route, req *route.Request) error {
		return r.Fulfill(ctx, route.FulfillOptions{Body: []byte("Hello from route"), ContentType: "text/plain"})
	}))

	resp, err := f.page.Client().Get("https://app.test/hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello from route", body(t, resp))
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Equal(t, 0, f.controller.Pending())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.InterceptedRequests.WithLabelValues(resolutionFulfilled)))
}

func TestFrameHandleOfInterceptedRequest(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	var frameURL any

	require.NoError(t, f.engine.Route(ctx, "**", func(ctx context.Context, r *route.Route, req *route.Request) error {
		frame, err := req.Frame()
		if err != nil {
			return err
		}
		if frameURL, err = frame.Evaluate(ctx, "f => f.url", nil); err != nil {
			return err
		}
		return r.Abort(ctx, "")
	}))

	_, err := f.page.Client().Get("https://app.test/data")
	var abort *netproxy.AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, "https://app.test/", frameURL)
}

func TestBypassHeaderSkipsRoutes(t *testing.T) {
	var bypassSeen bool
	var gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, bypassSeen = r.Header[http.CanonicalHeaderKey(protocol.BypassHeader)]
		gotAccept = r.Header.Get("Accept")
		io.WriteString(w, "network")
	}))
	defer srv.Close()

	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.engine.Route(ctx, "**", func(ctx context.Context, r *route.Route, req *route.Request) error {
		return r.Fulfill(ctx, route.FulfillOptions{Body: []byte("stubbed")})
	}))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/real", nil)
	require.NoError(t, err)
	req.Header.Add("Accept", "a")
	req.Header.Add("Accept", "b")
	resp, err := f.engine.BypassFetch(req)
	require.NoError(t, err)
	assert.Equal(t, "network", body(t, resp))
	assert.False(t, bypassSeen)
	assert.Equal(t, "a,b", gotAccept)

	resp, err = f.page.Client().Get(srv.URL + "/real")
	require.NoError(t, err)
	assert.Equal(t, "stubbed", body(t, resp))
}

func TestRouteOnContext(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.engine.Route(ctx, "**", func(ctx context.Context, r *route.Route, req *route.Request) error {
		return r.Fulfill(ctx, route.FulfillOptions{Body: []byte("ctx")})
	}))

	w := f.context.NewWorker("https://app.test/sw.js")
	resp, err := w.Client().Get("https://app.test/from-worker")
	require.NoError(t, err)
	assert.Equal(t, "ctx", body(t, resp))
}

func TestUnrouteStopsInterception(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "network")
	}))
	defer srv.Close()

	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.engine.Route(ctx, "**", func(ctx context.Context, r *route.Route, req *route.Request) error {
		return r.Fulfill(ctx, route.FulfillOptions{Body: []byte("stubbed")})
	}, route.Options{Times: 1}))

	resp, err := f.page.Client().Get(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "stubbed", body(t, resp))

	assert.Eventually(t, func() bool {
		resp, err := f.page.Client().Get(srv.URL)
		return err == nil && body(t, resp) == "network"
	}, time.Second, 10*time.Millisecond)
}

// Unit tests against fake driver values.

type fakeRoute struct {
	mu        sync.Mutex
	continued []protocol.ContinueOptions
	aborted   []string
}

func (r *fakeRoute) Abort(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborted = append(r.aborted, code)
	return nil
}

func (r *fakeRoute) Continue(_ context.Context, opts protocol.ContinueOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.continued = append(r.continued, opts)
	return nil
}

func (r *fakeRoute) Fulfill(context.Context, protocol.FulfillOptions) error { return nil }

type fakeRequest struct {
	headers []protocol.Header
}

func (r *fakeRequest) Method() string                  { return "GET" }
func (r *fakeRequest) URL() string                     { return "https://app.test/" }
func (r *fakeRequest) HeadersArray() []protocol.Header { return r.headers }
func (r *fakeRequest) PostDataBuffer() []byte          { return nil }
func (r *fakeRequest) IsNavigationRequest() bool       { return false }
func (r *fakeRequest) ResourceType() string            { return "fetch" }
func (r *fakeRequest) Frame() (any, error)             { return nil, driver.ErrNoFrame }
func (r *fakeRequest) ServiceWorker() any              { return nil }

type failingCaller struct{}

func (failingCaller) Call(context.Context, string, ...any) (any, error) {
	return nil, errors.New("socket closed")
}

func newUnitController(t *testing.T, bridge id.BridgeID) *Controller {
	t.Helper()
	browser := netproxy.NewBrowser(netproxy.Options{})
	page, err := browser.NewContext().NewPage("tab", "https://app.test/")
	require.NoError(t, err)
	return NewController(page, nil, failingCaller{}, Config{BridgeID: bridge})
}

func TestBypassHeaderAtFirstPosition(t *testing.T) {
	bridge := id.NewBridgeID()
	c := newUnitController(t, bridge)
	r := &fakeRoute{}

	c.handleRoute(context.Background(), r, &fakeRequest{headers: []protocol.Header{
		{Name: protocol.BypassHeader, Value: bridge.String()},
		{Name: "accept", Value: "a"},
		{Name: "accept", Value: "b"},
	}})

	require.Len(t, r.continued, 1)
	assert.Equal(t, map[string]string{"accept": "a,b"}, r.continued[0].Headers)
	assert.Equal(t, 0, c.Pending())
}

func TestBypassHeaderForOtherSessionIsRouted(t *testing.T) {
	c := newUnitController(t, id.NewBridgeID())
	r := &fakeRoute{}

	c.handleRoute(context.Background(), r, &fakeRequest{headers: []protocol.Header{
		{Name: protocol.BypassHeader, Value: "someone-else"},
	}})

	// delivery fails, so the request continues untouched
	require.Len(t, r.continued, 1)
	assert.Nil(t, r.continued[0].Headers)
	assert.Equal(t, 0, c.Pending())
}

func TestUnknownRoute(t *testing.T) {
	c := newUnitController(t, id.NewBridgeID())
	ctx := context.Background()

	assert.ErrorIs(t, c.Abort(ctx, "rte_missing", ""), ErrRouteNotFound)
	assert.ErrorIs(t, c.Continue(ctx, "rte_missing", protocol.ContinueOptions{}), ErrRouteNotFound)
	assert.ErrorIs(t, c.Fulfill(ctx, "rte_missing", protocol.FulfillOptions{}), ErrRouteNotFound)

	_, err := c.Methods()[protocol.MethodRouteToggle](ctx, []any{"yes"})
	assert.ErrorIs(t, err, protocol.ErrBadArgument)
}

// drainingPage waits in Unroute for the routes its handler still holds,
// the way a driver drains in-flight requests before detaching.
type drainingPage struct {
	controller *Controller
	handler    driver.RouteHandler
}

func (p *drainingPage) Route(_ context.Context, h driver.RouteHandler) error {
	p.handler = h
	return nil
}

func (p *drainingPage) Unroute(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.controller.Pending()
		_ = p.controller.Continue(ctx, "rte_missing", protocol.ContinueOptions{})
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *drainingPage) Context() driver.BrowserContext { return p }

func TestToggleDoesNotHoldRoutesDuringDriverCalls(t *testing.T) {
	page := &drainingPage{}
	c := NewController(page, nil, failingCaller{}, Config{BridgeID: id.NewBridgeID()})
	page.controller = c

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, c.Toggle(ctx, true))
	require.NotNil(t, page.handler)
	require.NoError(t, c.Toggle(ctx, false))
	require.NoError(t, c.Toggle(ctx, false))
}
