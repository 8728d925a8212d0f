// Package transport provides frame transports for the rpc package: a
// gorilla/websocket binding for real sessions and an in-memory pipe for
// tests and in-process wiring.
package transport
