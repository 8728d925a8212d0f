package netproxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/net/http/httpguts"

	"github.com/GriffinCanCode/pwbridge/internal/driver"
	"github.com/GriffinCanCode/pwbridge/internal/shared/protocol"
)

// AbortError is returned by a client whose request was aborted.
type AbortError struct {
	Code string
}

func (e *AbortError) Error() string {
	return "net::ERR_" + strings.ToUpper(e.Code)
}

// interceptor is the RoundTripper behind page and worker clients.
type interceptor struct {
	context *Context
	page    *Page
	worker  *Worker
}

func (t *interceptor) handler() driver.RouteHandler {
	if t.page != nil {
		if h := t.page.current(); h != nil {
			return h
		}
	}
	return t.context.current()
}

func (t *interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	upstream := t.context.browser.upstream
	handler := t.handler()
	if handler == nil {
		return upstream.RoundTrip(req)
	}

	var body []byte
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		body = data
	}

	r := &route{decision: make(chan outcome, 1)}
	go handler(req.Context(), r, &request{req: req, body: body, page: t.page, worker: t.worker})

	select {
	case o := <-r.decision:
		switch {
		case o.abort != "":
			return nil, &AbortError{Code: o.abort}
		case o.fulfill != nil:
			return fulfill(req, *o.fulfill)
		default:
			next, err := continueRequest(req, body, o.cont)
			if err != nil {
				return nil, err
			}
			return upstream.RoundTrip(next)
		}
	case <-req.Context().Done():
		return nil, req.Context().Err()
	}
}

type outcome struct {
	abort   string
	fulfill *protocol.FulfillOptions
	cont    protocol.ContinueOptions
}

// route implements driver.Route for one request.
type route struct {
	mu       sync.Mutex
	handled  bool
	decision chan outcome
}

func (r *route) settle(o outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handled {
		return driver.ErrAlreadyHandled
	}
	r.handled = true
	r.decision <- o
	return nil
}

func (r *route) Abort(_ context.Context, errorCode string) error {
	if errorCode == "" {
		errorCode = "failed"
	}
	return r.settle(outcome{abort: errorCode})
}

func (r *route) Continue(_ context.Context, opts protocol.ContinueOptions) error {
	for name, value := range opts.Headers {
		if !httpguts.ValidHeaderFieldName(name) {
			return fmt.Errorf("invalid header name %q", name)
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return fmt.Errorf("invalid value for header %q", name)
		}
	}
	if opts.URL != "" {
		if _, err := url.Parse(opts.URL); err != nil {
			return fmt.Errorf("invalid url: %w", err)
		}
	}
	return r.settle(outcome{cont: opts})
}

func (r *route) Fulfill(_ context.Context, opts protocol.FulfillOptions) error {
	return r.settle(outcome{fulfill: &opts})
}

func continueRequest(req *http.Request, body []byte, opts protocol.ContinueOptions) (*http.Request, error) {
	next := req.Clone(req.Context())
	if opts.URL != "" {
		u, err := url.Parse(opts.URL)
		if err != nil {
			return nil, err
		}
		next.URL = u
		next.Host = u.Host
	}
	if opts.Method != "" {
		next.Method = opts.Method
	}
	if opts.Headers != nil {
		next.Header = make(http.Header, len(opts.Headers))
		for name, value := range opts.Headers {
			next.Header.Set(name, value)
		}
	}
	if opts.PostData != nil {
		body = opts.PostData
	}
	if body != nil {
		next.Body = io.NopCloser(bytes.NewReader(body))
		next.ContentLength = int64(len(body))
		next.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	} else {
		next.Body = nil
		next.ContentLength = 0
	}
	return next, nil
}

func fulfill(req *http.Request, opts protocol.FulfillOptions) (*http.Response, error) {
	body := opts.Body
	contentType := opts.ContentType
	if body == nil && opts.Path != "" {
		data, err := os.ReadFile(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read fulfill path: %w", err)
		}
		body = data
		if contentType == "" {
			contentType = mimetype.Detect(data).String()
		}
	}

	status := opts.Status
	if status == 0 {
		status = http.StatusOK
	}

	header := make(http.Header, len(opts.Headers)+2)
	for name, value := range opts.Headers {
		header.Set(name, value)
	}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	header.Set("Content-Length", strconv.Itoa(len(body)))

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}, nil
}

// request implements driver.Request.
type request struct {
	req    *http.Request
	body   []byte
	page   *Page
	worker *Worker
}

func (r *request) Method() string { return r.req.Method }

func (r *request) URL() string { return r.req.URL.String() }

func (r *request) HeadersArray() []protocol.Header {
	names := make([]string, 0, len(r.req.Header))
	for name := range r.req.Header {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []protocol.Header
	for _, name := range names {
		for _, value := range r.req.Header[name] {
			out = append(out, protocol.Header{Name: strings.ToLower(name), Value: value})
		}
	}
	return out
}

func (r *request) PostDataBuffer() []byte { return r.body }

func (r *request) IsNavigationRequest() bool {
	return r.req.Header.Get("Sec-Fetch-Mode") == "navigate"
}

func (r *request) ResourceType() string {
	if dest := r.req.Header.Get("Sec-Fetch-Dest"); dest != "" && dest != "empty" {
		return dest
	}
	return "fetch"
}

func (r *request) Frame() (any, error) {
	if r.page == nil {
		return nil, driver.ErrNoFrame
	}
	return r.page.MainFrame(), nil
}

func (r *request) ServiceWorker() any {
	if r.worker == nil {
		return nil
	}
	return r.worker
}
