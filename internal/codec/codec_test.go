package codec

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/url"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type targets map[string]any

func (t targets) LookupTarget(id string) (any, bool) {
	v, ok := t[id]
	return v, ok
}

type remoteRef string

func (r remoteRef) HandleID() string { return string(r) }

func roundTrip(t *testing.T, v any) any {
	t.Helper()
	data, err := Encode(v, EncodeOptions{})
	require.NoError(t, err)
	out, err := Decode(data, DecodeOptions{})
	require.NoError(t, err)
	return out
}

func TestRoundTripScalars(t *testing.T) {
	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	negHuge := new(big.Int).Neg(huge)
	when := time.UnixMilli(1700000000123)
	page, _ := url.Parse("https://example.com/a?b=c")

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"null", nil, nil},
		{"true", true, true},
		{"false", false, false},
		{"int", 42, int64(42)},
		{"negative", -7, int64(-7)},
		{"uint64 max", uint64(math.MaxUint64), uint64(math.MaxUint64)},
		{"float", 1.5, 1.5},
		{"infinity", math.Inf(-1), math.Inf(-1)},
		{"string", "héllo", "héllo"},
		{"empty string", "", ""},
		{"bytes", []byte{1, 2, 3}, []byte{1, 2, 3}},
		{"small bigint", big.NewInt(5), big.NewInt(5)},
		{"big bigint", huge, huge},
		{"negative bigint", negHuge, negHuge},
		{"regexp", RegExp{Source: "a+b", Flags: "gi"}, RegExp{Source: "a+b", Flags: "gi"}},
		{"url", page, page},
		{"clamped", Uint8Clamped{0, 255}, Uint8Clamped{0, 255}},
		{"int8", []int8{-1, 2}, []int8{-1, 2}},
		{"uint16", []uint16{1, 65535}, []uint16{1, 65535}},
		{"int32", []int32{-5, 1 << 30}, []int32{-5, 1 << 30}},
		{"float32", []float32{1.25, -2}, []float32{1.25, -2}},
		{"float64", []float64{math.Pi}, []float64{math.Pi}},
		{"int64", []int64{math.MinInt64}, []int64{math.MinInt64}},
		{"uint64", []uint64{math.MaxUint64}, []uint64{math.MaxUint64}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roundTrip(t, tt.in)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("date", func(t *testing.T) {
		got := roundTrip(t, when)
		require.IsType(t, time.Time{}, got)
		assert.True(t, when.Equal(got.(time.Time)))
	})
}

func TestUndefinedIsNotNull(t *testing.T) {
	got := roundTrip(t, map[string]any{"a": Undefined, "b": nil})
	obj := got.(map[string]any)

	assert.True(t, IsUndefined(obj["a"]))
	v, ok := obj["b"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestNaNAndInvalidDate(t *testing.T) {
	got := roundTrip(t, math.NaN())
	assert.True(t, math.IsNaN(got.(float64)))

	assert.Equal(t, InvalidDate, roundTrip(t, InvalidDate))
}

func TestNestedContainers(t *testing.T) {
	in := map[string]any{
		"list": []any{int64(1), "two", map[string]any{"three": 3.5}},
		"set":  NewSet("x", "y"),
	}
	got := roundTrip(t, in).(map[string]any)

	assert.Equal(t, []any{int64(1), "two", map[string]any{"three": 3.5}}, got["list"])
	set := got["set"].(*Set)
	assert.Equal(t, []any{"x", "y"}, set.Values())
}

func TestStructsUseJSONNames(t *testing.T) {
	type point struct {
		X      int    `json:"x"`
		Y      int    `json:"y"`
		Hidden string `json:"-"`
		Label  string
		secret int
	}
	got := roundTrip(t, point{X: 1, Y: 2, Hidden: "h", Label: "p", secret: 3})

	assert.Equal(t, map[string]any{"x": int64(1), "y": int64(2), "Label": "p"}, got)
}

func TestMapWithNonStringKeys(t *testing.T) {
	m := NewMap()
	m.Set(int64(1), "one")
	m.Set("k", []any{true})

	got := roundTrip(t, m).(*Map)
	require.Equal(t, 2, got.Len())
	v, ok := got.Get(int64(1))
	assert.True(t, ok)
	assert.Equal(t, "one", v)
	v, _ = got.Get("k")
	assert.Equal(t, []any{true}, v)
}

func TestSharedStructure(t *testing.T) {
	t.Run("object cycle", func(t *testing.T) {
		obj := map[string]any{"name": "root"}
		obj["self"] = obj

		got := roundTrip(t, obj).(map[string]any)
		self := got["self"].(map[string]any)
		assert.Equal(t, reflect.ValueOf(got).Pointer(), reflect.ValueOf(self).Pointer())
		assert.Equal(t, "root", self["name"])
	})

	t.Run("array cycle", func(t *testing.T) {
		arr := make([]any, 2)
		arr[0] = "first"
		arr[1] = arr

		got := roundTrip(t, arr).([]any)
		inner := got[1].([]any)
		assert.Equal(t, reflect.ValueOf(got).Pointer(), reflect.ValueOf(inner).Pointer())
		assert.Equal(t, "first", inner[0])
	})

	t.Run("diamond", func(t *testing.T) {
		shared := map[string]any{"x": 1}
		got := roundTrip(t, map[string]any{"a": shared, "b": shared, "c": []any{shared}}).(map[string]any)

		a := reflect.ValueOf(got["a"]).Pointer()
		assert.Equal(t, a, reflect.ValueOf(got["b"]).Pointer())
		assert.Equal(t, a, reflect.ValueOf(got["c"].([]any)[0]).Pointer())
	})

	t.Run("set containing itself", func(t *testing.T) {
		s := NewSet()
		s.Add(s)
		s.Add("tail")

		got := roundTrip(t, s).(*Set)
		values := got.Values()
		require.Len(t, values, 2)
		assert.Same(t, got, values[0])
		assert.Equal(t, "tail", values[1])
	})

	t.Run("map keyed by itself", func(t *testing.T) {
		m := NewMap()
		m.Set(m, m)

		got := roundTrip(t, m).(*Map)
		entries := got.Entries()
		require.Len(t, entries, 1)
		assert.Same(t, got, entries[0].Key)
		assert.Same(t, got, entries[0].Value)
	})
}

func TestErrors(t *testing.T) {
	t.Run("kind and stack", func(t *testing.T) {
		in := NewError(KindTypeError, "x is not a function")
		in.Stack = "TypeError: x is not a function\n    at <anonymous>:1:1"

		got := roundTrip(t, in)
		err, ok := got.(*Error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, KindTypeError))
		assert.Equal(t, "x is not a function", err.Message)
		assert.Equal(t, in.Stack, err.Stack)
		assert.Nil(t, err.Cause)
	})

	t.Run("custom name falls back to Error kind", func(t *testing.T) {
		got := roundTrip(t, &Error{Name: "AbortError", Message: "stopped"}).(*Error)

		assert.Equal(t, "AbortError", got.Name)
		assert.Equal(t, KindError, got.Kind)
		assert.Equal(t, "AbortError: stopped", got.Error())
	})

	t.Run("wrapped go error keeps cause", func(t *testing.T) {
		inner := errors.New("disk full")
		got := roundTrip(t, fmt.Errorf("write failed: %w", inner)).(*Error)

		assert.Equal(t, "write failed: disk full", got.Message)
		cause, ok := got.Cause.(*Error)
		require.True(t, ok)
		assert.Equal(t, "disk full", cause.Message)
	})

	t.Run("circular cause", func(t *testing.T) {
		in := NewError(KindRangeError, "loop")
		in.Cause = in

		got := roundTrip(t, in).(*Error)
		assert.Same(t, got, got.Cause)
	})

	t.Run("non-error cause", func(t *testing.T) {
		in := NewError(KindError, "bad")
		in.Cause = map[string]any{"code": "E1"}

		got := roundTrip(t, in).(*Error)
		assert.Equal(t, map[string]any{"code": "E1"}, got.Cause)
	})
}

func TestUnsupportedValues(t *testing.T) {
	_, err := Encode(NewSymbol("s"), EncodeOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedValue)

	_, err = Encode(map[string]any{"fn": func() {}}, EncodeOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedValue)

	_, err = Encode(make(chan int), EncodeOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestNullFunctions(t *testing.T) {
	data, err := Encode(map[string]any{"fn": func() {}, "n": 1}, EncodeOptions{NullFunctions: true})
	require.NoError(t, err)

	got, err := Decode(data, DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"fn": nil, "n": int64(1)}, got)
}

func TestHandles(t *testing.T) {
	t.Run("handle resolves to target", func(t *testing.T) {
		target := map[string]any{"live": true}
		data, err := Encode([]any{remoteRef("hdl-1")}, EncodeOptions{})
		require.NoError(t, err)

		got, err := Decode(data, DecodeOptions{Targets: targets{"hdl-1": target}})
		require.NoError(t, err)
		assert.Equal(t, reflect.ValueOf(target).Pointer(), reflect.ValueOf(got.([]any)[0]).Pointer())
	})

	t.Run("handle without target map", func(t *testing.T) {
		data, err := Encode(remoteRef("hdl-1"), EncodeOptions{})
		require.NoError(t, err)

		_, err = Decode(data, DecodeOptions{})
		assert.ErrorIs(t, err, ErrNoTargetMap)
	})

	t.Run("unknown handle", func(t *testing.T) {
		data, err := Encode(remoteRef("hdl-gone"), EncodeOptions{})
		require.NoError(t, err)

		_, err = Decode(data, DecodeOptions{Targets: targets{}})
		assert.ErrorIs(t, err, ErrDanglingHandle)
		assert.Contains(t, err.Error(), "hdl-gone")
	})

	t.Run("pending handle uses factory", func(t *testing.T) {
		data, err := Encode(map[string]any{"h": PendingHandle{ID: "hdl-2"}}, EncodeOptions{})
		require.NoError(t, err)

		got, err := Decode(data, DecodeOptions{NewHandle: func(id string) any { return remoteRef(id) }})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"h": remoteRef("hdl-2")}, got)
	})

	t.Run("pending handle without factory", func(t *testing.T) {
		data, err := Encode(PendingHandle{ID: "hdl-2"}, EncodeOptions{})
		require.NoError(t, err)

		_, err = Decode(data, DecodeOptions{})
		assert.ErrorIs(t, err, ErrNoHandleFactory)
	})
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrMalformed},
		{"dangling shared ref", []byte{0xd8, 0x1d, 0x00}, ErrDanglingReference},
		{"truncated array", []byte{0x82, 0x01}, ErrMalformed},
		{"odd typed array", []byte{0xd8, 0x45, 0x43, 0x01, 0x02, 0x03}, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data, DecodeOptions{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
