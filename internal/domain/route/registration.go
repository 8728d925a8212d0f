package route

import (
	"context"
	"fmt"
	"net/url"
	"sync"
)

type registration struct {
	matcher Matcher
	match   func(*url.URL) bool
	handler Handler
	times   int

	// guarded by Engine.mu
	handled int

	mu       sync.Mutex
	active   map[*invocation]struct{}
	ignoring bool
}

// invocation is one running call of a registration's handler.
type invocation struct {
	route *Route
	done  chan struct{}
}

func newRegistration(matcher Matcher, match func(*url.URL) bool, handler Handler, times int) *registration {
	return &registration{
		matcher: matcher,
		match:   match,
		handler: handler,
		times:   times,
		active:  make(map[*invocation]struct{}),
	}
}

// willExpire reports whether the next invocation uses up the budget.
func (r *registration) willExpire() bool {
	return r.times > 0 && r.handled+1 >= r.times
}

func (r *registration) begin(route *Route) *invocation {
	r.handled++
	inv := &invocation{route: route, done: make(chan struct{})}
	r.mu.Lock()
	r.active[inv] = struct{}{}
	r.mu.Unlock()
	return inv
}

func (r *registration) end(inv *invocation) {
	r.mu.Lock()
	delete(r.active, inv)
	r.mu.Unlock()
	close(inv.done)
}

func (r *registration) ignoreErrors() {
	r.mu.Lock()
	r.ignoring = true
	r.mu.Unlock()
}

func (r *registration) ignoresErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ignoring
}

// wait blocks until every running invocation whose route has not failed a
// resolution attempt returns.
func (r *registration) wait(ctx context.Context) error {
	r.mu.Lock()
	var pending []*invocation
	for inv := range r.active {
		if !inv.route.hasTriedButFailed() {
			pending = append(pending, inv)
		}
	}
	r.mu.Unlock()

	for _, inv := range pending {
		select {
		case <-inv.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// invoke runs the handler and reports whether it resolved the route.
func (r *registration) invoke(ctx context.Context, inv *invocation, route *Route, req *Request) (handled bool, err error) {
	defer r.end(inv)
	decided := route.startHandling()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("route: handler panicked: %v", p)
		}
		if err != nil && r.ignoresErrors() {
			handled, err = false, nil
		}
	}()

	if err := r.handler(ctx, route, req); err != nil {
		return false, err
	}
	select {
	case handled = <-decided:
		return handled, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
