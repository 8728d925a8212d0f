// Package session manages bridge sessions on the host.
//
// A session ties one page to a bridge id. The page obtains the id through
// Register, then opens the bridge socket carrying it; Serve runs the RPC
// connection for that socket. Each connection gets its own script runtime,
// handle registry and intercept controller, with the page and its context
// pre-registered under the well-known handle ids.
//
// At most one connection is live per session. When it closes, interception
// is switched off and the session can be connected again.
//
// Example Usage:
//
//	manager := session.NewManager(browser, session.Config{})
//	s, err := manager.Register("tab-1")
//	err = manager.Serve(ctx, s.ID, transport)
package session
