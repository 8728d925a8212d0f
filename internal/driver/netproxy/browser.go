package netproxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/pwbridge/internal/driver"
)

// Options configures a Browser.
type Options struct {
	// Upstream carries requests that are not intercepted or are continued.
	// http.DefaultTransport when nil.
	Upstream http.RoundTripper
	Logger   *zap.Logger
}

// Browser owns contexts and indexes their pages by key.
type Browser struct {
	upstream http.RoundTripper
	logger   *zap.Logger

	mu    sync.RWMutex
	pages map[string]*Page
}

// NewBrowser creates a browser with no contexts.
func NewBrowser(opts Options) *Browser {
	upstream := opts.Upstream
	if upstream == nil {
		upstream = http.DefaultTransport
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{
		upstream: upstream,
		logger:   logger.Named("netproxy"),
		pages:    make(map[string]*Page),
	}
}

// NewContext creates an empty browser context.
func (b *Browser) NewContext() *Context {
	return &Context{browser: b}
}

// Page implements driver.Browser.
func (b *Browser) Page(key string) (driver.Page, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, ok := b.pages[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", driver.ErrPageNotFound, key)
	}
	return p, nil
}

// switchable holds the route handler of a page or context.
type switchable struct {
	mu      sync.RWMutex
	handler driver.RouteHandler
}

func (s *switchable) Route(_ context.Context, handler driver.RouteHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
	return nil
}

func (s *switchable) Unroute(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = nil
	return nil
}

func (s *switchable) current() driver.RouteHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handler
}

// Context groups pages and workers.
type Context struct {
	switchable
	browser *Browser
}

// NewPage opens a page registered under key.
func (c *Context) NewPage(key, pageURL string) (*Page, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page url: %w", err)
	}

	p := &Page{key: key, url: u, context: c}
	p.mainFrame = &Frame{Name: "", URL: u.String(), page: p}
	p.client = &http.Client{Transport: &interceptor{context: c, page: p}}

	c.browser.mu.Lock()
	defer c.browser.mu.Unlock()
	if _, ok := c.browser.pages[key]; ok {
		return nil, fmt.Errorf("page %s already exists", key)
	}
	c.browser.pages[key] = p
	return p, nil
}

// NewWorker starts a service worker whose requests bypass page routes.
func (c *Context) NewWorker(scriptURL string) *Worker {
	w := &Worker{URL: scriptURL}
	w.client = &http.Client{Transport: &interceptor{context: c, worker: w}}
	return w
}

// Page is a top-level page.
type Page struct {
	switchable
	key       string
	url       *url.URL
	context   *Context
	mainFrame *Frame
	client    *http.Client
}

func (p *Page) Key() string { return p.key }

func (p *Page) URL() string { return p.url.String() }

// Context implements driver.Page.
func (p *Page) Context() driver.BrowserContext { return p.context }

// MainFrame returns the page's top-level frame.
func (p *Page) MainFrame() *Frame { return p.mainFrame }

// Client returns the HTTP client the page issues requests with.
func (p *Page) Client() *http.Client { return p.client }

// Close removes the page from the browser.
func (p *Page) Close() {
	b := p.context.browser
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pages, p.key)
}

// Frame is a document within a page.
type Frame struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	page *Page
}

// Page returns the page containing the frame.
func (f *Frame) Page() *Page { return f.page }

// Worker is a service worker.
type Worker struct {
	URL    string `json:"url"`
	client *http.Client
}

// Client returns the HTTP client the worker issues requests with.
func (w *Worker) Client() *http.Client { return w.client }
