// Package main runs the bridge host.
//
// The host serves the registration endpoint and the bridge socket, and
// owns the pages whose requests are intercepted. Pages are opened at
// startup from BRIDGE_PAGES (key:url pairs) or the [bridge.pages] table of
// the config file.
//
// Usage:
//
//	BRIDGE_PAGES=tab:https://app.test/ ./server -port 8000
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
