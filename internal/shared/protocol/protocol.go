// Package protocol holds the names both sides of the bridge agree on: the
// socket path, the bypass header, RPC method names and the shapes of the
// structured arguments passed to route methods.
package protocol

import "net/url"

const (
	// SocketPath is the path segment of the bridge WebSocket endpoint.
	SocketPath = "__playwright_bridge__"

	// BridgeIDParam carries the session id on the socket URL.
	BridgeIDParam = "bridgeId"

	// RegisterPath is the out-of-band registration endpoint.
	RegisterPath = "/" + SocketPath + "/register"

	// BypassHeader marks a request that must skip interception. Its value is
	// the bridge id of the session that issued it.
	BypassHeader = "x-playwright-bridge-route-bypass"
)

// Methods served by the owning side of the handle registry.
const (
	MethodHandleDispose        = "handle.dispose"
	MethodHandleEvaluate       = "handle.evaluate"
	MethodHandleEvaluateHandle = "handle.evaluateHandle"
	MethodHandleGetProperties  = "handle.getProperties"
	MethodHandleGetProperty    = "handle.getProperty"
	MethodHandleJSONValue      = "handle.jsonValue"
)

// Methods served by the intercepting side.
const (
	MethodRouteToggle   = "route.toggle"
	MethodRouteAbort    = "route.abort"
	MethodRouteContinue = "route.continue"
	MethodRouteFulfill  = "route.fulfill"
)

// MethodRouteRequest notifies the referencing side of an intercepted request.
const MethodRouteRequest = "route.request"

// WebSocketPath returns the socket path and query for a bridge session.
func WebSocketPath(bridgeID string) string {
	return SocketPath + "?" + BridgeIDParam + "=" + url.QueryEscape(bridgeID)
}

// RegisterRequest is the body of a registration call.
type RegisterRequest struct {
	PageKey string `json:"page_key"`
}

// RegisterResponse is returned by the registration endpoint.
type RegisterResponse struct {
	BridgeID string `json:"bridge_id"`
}
