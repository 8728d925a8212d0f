/*
Package rpc is a bidirectional request/response multiplexer over a frame
transport.

Each side exposes a fixed method table to the other. Messages are codec
frames carrying an envelope:

	{"t": "q", "i": <id>, "m": <method>, "a": [args...]}   call
	{"t": "s", "i": <id>, "r": <result>}                  success
	{"t": "s", "i": <id>, "e": <error>}                   failure

Inbound calls run concurrently, each on its own goroutine. Outbound calls
block until the matching response arrives, the caller's context ends, or the
connection closes; there is no built-in timeout. Closing the connection
releases every pending call with ErrClosed.
*/
package rpc
