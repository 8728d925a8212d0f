package route

import (
	"errors"
	"fmt"
	"mime"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/pwbridge/internal/domain/handle"
	"github.com/GriffinCanCode/pwbridge/internal/shared/protocol"
)

var (
	ErrInvalidPostDataJSON = errors.New("route: POST data is not a valid JSON object")
	ErrNoFrame             = errors.New("route: service worker requests do not have an associated frame")
)

// Overrides replace request fields when a request is continued. Zero fields
// keep the original value.
type Overrides = protocol.ContinueOptions

// Request is a snapshot of an intercepted request. Overrides recorded by
// handlers that fell back shadow the original fields in every accessor.
type Request struct {
	details protocol.RequestDetails

	mu         sync.Mutex
	overrides  Overrides
	allHeaders map[string]string
}

func newRequest(details protocol.RequestDetails) *Request {
	return &Request{details: details}
}

func (r *Request) applyOverrides(o *Overrides) {
	if o == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if o.Headers != nil {
		r.overrides.Headers = o.Headers
	}
	if o.Method != "" {
		r.overrides.Method = o.Method
	}
	if o.PostData != nil {
		r.overrides.PostData = o.PostData
	}
	if o.URL != "" {
		r.overrides.URL = o.URL
	}
}

func (r *Request) continueOverrides() Overrides {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overrides
}

// AllHeaders returns the headers keyed by lower-case name, joining repeated
// headers with ", ".
func (r *Request) AllHeaders() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.overrides.Headers != nil {
		return r.overrides.Headers
	}
	if r.allHeaders == nil {
		r.allHeaders = make(map[string]string, len(r.details.HeadersArray))
		for _, h := range r.details.HeadersArray {
			name := strings.ToLower(h.Name)
			if prev, ok := r.allHeaders[name]; ok {
				r.allHeaders[name] = prev + ", " + h.Value
			} else {
				r.allHeaders[name] = h.Value
			}
		}
	}
	return r.allHeaders
}

// HeaderValue returns the value of the named header, or "" when absent.
func (r *Request) HeaderValue(name string) string {
	return r.AllHeaders()[strings.ToLower(name)]
}

// HeadersArray returns the headers in wire order.
func (r *Request) HeadersArray() []protocol.Header {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.overrides.Headers == nil {
		return r.details.HeadersArray
	}
	names := make([]string, 0, len(r.overrides.Headers))
	for name := range r.overrides.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]protocol.Header, len(names))
	for i, name := range names {
		out[i] = protocol.Header{Name: name, Value: r.overrides.Headers[name]}
	}
	return out
}

func (r *Request) Method() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.overrides.Method != "" {
		return r.overrides.Method
	}
	return r.details.Method
}

func (r *Request) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.overrides.URL != "" {
		return r.overrides.URL
	}
	return r.details.URL
}

// PostDataBuffer returns the request body, or nil when there is none.
func (r *Request) PostDataBuffer() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.overrides.PostData) > 0 {
		return r.overrides.PostData
	}
	return r.details.Body
}

// PostData returns the request body as text and whether there is one.
func (r *Request) PostData() (string, bool) {
	b := r.PostDataBuffer()
	if len(b) == 0 {
		return "", false
	}
	return string(b), true
}

// PostDataJSON parses the body. Form-encoded bodies yield a
// map[string]string; anything else is parsed as JSON. A request without a
// body yields nil.
func (r *Request) PostDataJSON() (any, error) {
	data, ok := r.PostData()
	if !ok {
		return nil, nil
	}

	if mediaType, _, _ := mime.ParseMediaType(r.HeaderValue("content-type")); mediaType == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPostDataJSON, data)
		}
		out := make(map[string]string, len(values))
		for key, vs := range values {
			out[key] = vs[len(vs)-1]
		}
		return out, nil
	}

	var v any
	if err := sonic.UnmarshalString(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPostDataJSON, data)
	}
	return v, nil
}

func (r *Request) ResourceType() string { return r.details.ResourceType }

func (r *Request) IsNavigationRequest() bool { return r.details.IsNavigationRequest }

// Frame returns the frame that issued the request.
func (r *Request) Frame() (*handle.Proxy, error) {
	p, ok := r.details.Frame.(*handle.Proxy)
	if !ok {
		return nil, ErrNoFrame
	}
	return p, nil
}

// ServiceWorker returns the worker that issued the request, or nil.
func (r *Request) ServiceWorker() *handle.Proxy {
	p, _ := r.details.ServiceWorker.(*handle.Proxy)
	return p
}
