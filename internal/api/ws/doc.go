// Package ws upgrades bridge socket requests and serves the session's RPC
// over them.
//
// The socket URL carries the bridge id obtained at registration:
//
//	GET /__playwright_bridge__?bridgeId=<id>
//
// A session accepts one live socket; a second one is refused with 409
// until the first closes.
package ws
