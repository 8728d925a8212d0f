// Package client is the page side of the bridge.
//
// Connect registers the page with the host, opens the bridge socket and
// returns a Bridge exposing the page and its browser context as handles,
// plus request routing:
//
//	b, err := client.Connect(ctx, client.Config{HostURL: "http://127.0.0.1:8000", PageKey: "tab"})
//	defer b.Close()
//
//	err = b.Route(ctx, "**/api/*", func(ctx context.Context, r *route.Route, req *route.Request) error {
//		return r.Fulfill(ctx, route.FulfillOptions{JSON: map[string]any{"ok": true}})
//	})
package client
