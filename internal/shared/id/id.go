// Package id provides identifier generation for bridge sessions.
//
// Handle and route instance ids are prefixed ULIDs (hdl_*, rte_*): opaque,
// never reused within a session and readable in logs. Bridge ids are random
// UUIDs, and the two well-known handle ids are derived from the bridge id so
// both sides can name them without a round trip.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// HandleID identifies a value held in a target map
type HandleID string

// RouteID identifies one intercepted request awaiting resolution
type RouteID string

// BridgeID identifies one page session
type BridgeID string

const (
	HandlePrefix = "hdl"
	RoutePrefix  = "rte"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewHandleID generates a new handle ID
func NewHandleID() HandleID {
	return HandleID(Default().GenerateWithPrefix(HandlePrefix))
}

// NewRouteID generates a new route instance ID
func NewRouteID() RouteID {
	return RouteID(Default().GenerateWithPrefix(RoutePrefix))
}

// NewBridgeID generates a new bridge session ID
func NewBridgeID() BridgeID {
	return BridgeID(uuid.NewString())
}

func (id HandleID) String() string { return string(id) }
func (id RouteID) String() string  { return string(id) }
func (id BridgeID) String() string { return string(id) }

// CommonHandles holds the well-known handle ids pre-registered for a session.
type CommonHandles struct {
	Page    HandleID
	Context HandleID
}

// CommonHandleIDs derives the well-known handle ids of a bridge session.
func CommonHandleIDs(bridge BridgeID) CommonHandles {
	return CommonHandles{
		Page:    HandleID("page-" + string(bridge)),
		Context: HandleID("context-" + string(bridge)),
	}
}

// IsBridgeID checks if an ID string is a valid bridge id
func IsBridgeID(id string) bool {
	return uuid.Validate(id) == nil
}
