package codec

import (
	"math"
	"reflect"
)

type undefined struct{}

// Undefined is the absent value, distinct from nil (null).
var Undefined = undefined{}

// IsUndefined reports whether v is the absent value.
func IsUndefined(v any) bool {
	_, ok := v.(undefined)
	return ok
}

type invalidDate struct{}

// InvalidDate is a date whose timestamp is not a number.
var InvalidDate = invalidDate{}

// Uint8Clamped is a byte buffer with clamped element semantics.
type Uint8Clamped []byte

// RegExp is a regular expression carried as source text and flags. It is
// never compiled by the codec.
type RegExp struct {
	Source string
	Flags  string
}

func (r RegExp) String() string {
	return "/" + r.Source + "/" + r.Flags
}

// Symbol is a unique value with no serializable identity.
type Symbol struct {
	Description string
}

// NewSymbol returns a new unique symbol.
func NewSymbol(description string) *Symbol {
	return &Symbol{Description: description}
}

// HandleRef is implemented by proxies for values owned by the other side.
type HandleRef interface {
	HandleID() string
}

// PendingHandle asks the receiver to mint a proxy for a newly registered value.
type PendingHandle struct {
	ID string
}

// Set is an insertion-ordered collection of unique values. Comparable values
// are unique by equality, containers by identity.
type Set struct {
	items []any
}

// NewSet returns a set holding items, duplicates dropped.
func NewSet(items ...any) *Set {
	s := &Set{}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

// Add inserts v unless an equal value is present.
func (s *Set) Add(v any) {
	if s.Has(v) {
		return
	}
	s.items = append(s.items, v)
}

// Has reports whether v is in the set.
func (s *Set) Has(v any) bool {
	for _, item := range s.items {
		if SameValue(item, v) {
			return true
		}
	}
	return false
}

// Values returns the items in insertion order.
func (s *Set) Values() []any {
	return append([]any(nil), s.items...)
}

// Len returns the number of items.
func (s *Set) Len() int {
	return len(s.items)
}

// Entry is one key/value pair of a Map.
type Entry struct {
	Key   any
	Value any
}

// Map is an insertion-ordered mapping with keys of any type.
type Map struct {
	entries []Entry
}

// NewMap returns an empty mapping.
func NewMap() *Map {
	return &Map{}
}

// Set stores value under key, replacing an equal key in place.
func (m *Map) Set(key, value any) {
	for i := range m.entries {
		if SameValue(m.entries[i].Key, key) {
			m.entries[i].Value = value
			return
		}
	}
	m.entries = append(m.entries, Entry{Key: key, Value: value})
}

// Get returns the value stored under key.
func (m *Map) Get(key any) (any, bool) {
	for _, e := range m.entries {
		if SameValue(e.Key, key) {
			return e.Value, true
		}
	}
	return nil, false
}

// Entries returns the pairs in insertion order.
func (m *Map) Entries() []Entry {
	return append([]Entry(nil), m.entries...)
}

// Len returns the number of entries.
func (m *Map) Len() int {
	return len(m.entries)
}

// SameValue compares values the way Set and Map keys are compared:
// containers by identity, NaN equal to itself, everything else by ==.
func SameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := a.(float64); ok {
		if fb, ok := b.(float64); ok && math.IsNaN(fa) && math.IsNaN(fb) {
			return true
		}
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}
	if !va.Type().Comparable() {
		return false
	}
	return a == b
}
