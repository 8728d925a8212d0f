package protocol

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/pwbridge/internal/codec"
)

// ErrBadArgument reports a structured argument of the wrong shape.
var ErrBadArgument = errors.New("protocol: bad argument")

// Header is one request header in wire order.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RequestDetails describes an intercepted request. Frame and ServiceWorker
// carry handle values: pending handles when sent, proxies once decoded.
type RequestDetails struct {
	Body                []byte
	Frame               any
	HeadersArray        []Header
	IsNavigationRequest bool
	Method              string
	ResourceType        string
	ServiceWorker       any
	URL                 string
}

// ToWire converts the details into the value sent with MethodRouteRequest.
func (d RequestDetails) ToWire() map[string]any {
	headers := make([]any, len(d.HeadersArray))
	for i, h := range d.HeadersArray {
		headers[i] = map[string]any{"name": h.Name, "value": h.Value}
	}
	var body any
	if d.Body != nil {
		body = d.Body
	}
	return map[string]any{
		"body":                body,
		"frame":               d.Frame,
		"headersArray":        headers,
		"isNavigationRequest": d.IsNavigationRequest,
		"method":              d.Method,
		"resourceType":        d.ResourceType,
		"serviceWorker":       d.ServiceWorker,
		"url":                 d.URL,
	}
}

// ParseRequestDetails reads details decoded from the wire.
func ParseRequestDetails(v any) (RequestDetails, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return RequestDetails{}, fmt.Errorf("%w: request details are %T", ErrBadArgument, v)
	}

	var d RequestDetails
	var err error
	if d.Body, err = optionalBytes(m, "body"); err != nil {
		return RequestDetails{}, err
	}
	if d.Method, err = optionalString(m, "method"); err != nil {
		return RequestDetails{}, err
	}
	if d.URL, err = optionalString(m, "url"); err != nil {
		return RequestDetails{}, err
	}
	if d.ResourceType, err = optionalString(m, "resourceType"); err != nil {
		return RequestDetails{}, err
	}
	d.IsNavigationRequest, _ = m["isNavigationRequest"].(bool)
	d.Frame = m["frame"]
	d.ServiceWorker = m["serviceWorker"]

	if raw, ok := m["headersArray"]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return RequestDetails{}, fmt.Errorf("%w: headersArray is %T", ErrBadArgument, raw)
		}
		for _, item := range list {
			h, ok := item.(map[string]any)
			if !ok {
				return RequestDetails{}, fmt.Errorf("%w: header entry is %T", ErrBadArgument, item)
			}
			name, _ := h["name"].(string)
			value, _ := h["value"].(string)
			d.HeadersArray = append(d.HeadersArray, Header{Name: name, Value: value})
		}
	}
	return d, nil
}

// ContinueOptions are the overrides applied when a request is continued.
// Zero fields pass the original value through.
type ContinueOptions struct {
	Headers  map[string]string
	Method   string
	PostData []byte
	URL      string
}

// ToWire omits unset fields.
func (o ContinueOptions) ToWire() map[string]any {
	m := make(map[string]any)
	if o.Headers != nil {
		m["headers"] = headersToWire(o.Headers)
	}
	if o.Method != "" {
		m["method"] = o.Method
	}
	if o.PostData != nil {
		m["postData"] = o.PostData
	}
	if o.URL != "" {
		m["url"] = o.URL
	}
	return m
}

// ParseContinueOptions reads continue overrides decoded from the wire.
func ParseContinueOptions(v any) (ContinueOptions, error) {
	m, err := optionsMap(v)
	if err != nil {
		return ContinueOptions{}, err
	}
	var o ContinueOptions
	if o.Headers, err = optionalHeaders(m, "headers"); err != nil {
		return ContinueOptions{}, err
	}
	if o.Method, err = optionalString(m, "method"); err != nil {
		return ContinueOptions{}, err
	}
	if o.PostData, err = optionalBytes(m, "postData"); err != nil {
		return ContinueOptions{}, err
	}
	if o.URL, err = optionalString(m, "url"); err != nil {
		return ContinueOptions{}, err
	}
	return o, nil
}

// FulfillOptions describe a response produced without touching the network.
type FulfillOptions struct {
	Body        []byte
	ContentType string
	Headers     map[string]string
	Path        string
	Status      int
}

// ToWire omits unset fields.
func (o FulfillOptions) ToWire() map[string]any {
	m := make(map[string]any)
	if o.Body != nil {
		m["body"] = o.Body
	}
	if o.ContentType != "" {
		m["contentType"] = o.ContentType
	}
	if o.Headers != nil {
		m["headers"] = headersToWire(o.Headers)
	}
	if o.Path != "" {
		m["path"] = o.Path
	}
	if o.Status != 0 {
		m["status"] = o.Status
	}
	return m
}

// ParseFulfillOptions reads fulfill options decoded from the wire.
func ParseFulfillOptions(v any) (FulfillOptions, error) {
	m, err := optionsMap(v)
	if err != nil {
		return FulfillOptions{}, err
	}
	var o FulfillOptions
	if o.Body, err = optionalBytes(m, "body"); err != nil {
		return FulfillOptions{}, err
	}
	if o.ContentType, err = optionalString(m, "contentType"); err != nil {
		return FulfillOptions{}, err
	}
	if o.Headers, err = optionalHeaders(m, "headers"); err != nil {
		return FulfillOptions{}, err
	}
	if o.Path, err = optionalString(m, "path"); err != nil {
		return FulfillOptions{}, err
	}
	switch status := m["status"].(type) {
	case nil:
	case int64:
		o.Status = int(status)
	case uint64:
		o.Status = int(status)
	case float64:
		o.Status = int(status)
	default:
		return FulfillOptions{}, fmt.Errorf("%w: status is %T", ErrBadArgument, status)
	}
	return o, nil
}

func optionsMap(v any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: options are %T", ErrBadArgument, v)
	}
	return m, nil
}

func headersToWire(h map[string]string) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func optionalString(m map[string]any, key string) (string, error) {
	switch v := m[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		if codec.IsUndefined(v) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %s is %T", ErrBadArgument, key, v)
	}
}

// optionalBytes accepts byte buffers and strings.
func optionalBytes(m map[string]any, key string) ([]byte, error) {
	switch v := m[key].(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		if codec.IsUndefined(v) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s is %T", ErrBadArgument, key, v)
	}
}

func optionalHeaders(m map[string]any, key string) (map[string]string, error) {
	raw, ok := m[key]
	if !ok || raw == nil || codec.IsUndefined(raw) {
		return nil, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T", ErrBadArgument, key, raw)
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: header %s is %T", ErrBadArgument, k, v)
		}
		out[k] = s
	}
	return out, nil
}
