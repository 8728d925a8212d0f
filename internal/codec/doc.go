/*
Package codec packs values into CBOR frames and back, preserving identity.

# Value space

	nil                         null
	codec.Undefined             undefined
	bool, string                by value
	int*, uint*, float*         numbers (integers stay integers)
	*big.Int                    arbitrary precision integers (tags 2/3)
	[]byte, Uint8Clamped        byte buffers
	[]int8 ... []float64        typed buffers (RFC 8746 little-endian tags)
	[]any                       ordered sequences
	map[string]any              plain objects
	*Set, *Map                  key-unique sets and arbitrary-key mappings
	time.Time, InvalidDate      dates by millisecond timestamp (tag 1)
	RegExp                      (source, flags) pairs
	*url.URL                    URIs (tag 32)
	error                       Error extension: name, message, cause, stack
	HandleRef                   Handle extension: the id of a value held remotely
	PendingHandle               Pending Handle extension: mint a proxy on arrival

Structs, other maps and slices are packed through reflection as objects,
mappings and sequences. Functions fail unless NullFunctions is set, in which
case they pack as null. Symbols, channels and unsafe pointers always fail.

# Shared structure

Containers reachable through more than one path are emitted once inside a
shareable tag (28) and referenced afterwards by index (29). Indexes are
assigned in traversal order, visiting object keys sorted, so the decoder
rebuilds the same graph, cycles included, with one instance per container.
*/
package codec
