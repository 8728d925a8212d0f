package script

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/pwbridge/internal/codec"
)

func newRuntime(t *testing.T) *Runtime {
	t.Helper()
	r, err := New(DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

type page struct {
	URL   string `json:"url"`
	Title string
}

func (p *page) Greet(name string) string { return "hello " + name + " from " + p.Title }

func TestEvaluateForms(t *testing.T) {
	r := newRuntime(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		source string
		arg    any
		want   any
	}{
		{"arrow", "(t, a) => a.x + 1", map[string]any{"x": int64(2)}, int64(3)},
		{"function", "function (t, a) { return a * 2 }", int64(21), int64(42)},
		{"expression", "1 + 2", nil, int64(3)},
		{"method shorthand", "answer(t) { return 42 }", nil, int64(42)},
		{"async method shorthand", "async answer(t) { return 7 }", nil, int64(7)},
		{"async arrow", "async () => 'done'", nil, "done"},
		{"undefined result", "() => {}", nil, codec.Undefined},
		{"null result", "() => null", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Evaluate(ctx, tt.source, nil, tt.arg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateRejectsStatements(t *testing.T) {
	r := newRuntime(t)

	_, err := r.Evaluate(context.Background(), "let x = 1; x", nil, nil)
	assert.ErrorIs(t, err, ErrNotSerializableFunction)
}

func TestEvaluateThrownErrors(t *testing.T) {
	r := newRuntime(t)
	ctx := context.Background()

	_, err := r.Evaluate(ctx, `() => { throw new TypeError("boom") }`, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, codec.KindTypeError)

	var e *codec.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "boom", e.Message)
	assert.NotEmpty(t, e.Stack)

	_, err = r.Evaluate(ctx, `async () => { const e = new Error("rejected"); e.cause = "why"; throw e }`, nil, nil)
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "rejected", e.Message)
	assert.Equal(t, "why", e.Cause)

	_, err = r.Evaluate(ctx, `() => { throw "plain" }`, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plain")
}

func TestEvaluateUnsettledPromise(t *testing.T) {
	r := newRuntime(t)

	_, err := r.Evaluate(context.Background(), "() => new Promise(() => {})", nil, nil)
	assert.ErrorIs(t, err, ErrUnsettledPromise)
}

func TestEvaluateCycles(t *testing.T) {
	r := newRuntime(t)
	ctx := context.Background()

	got, err := r.Evaluate(ctx, "() => { const o = { name: 'o' }; o.self = o; return o }", nil, nil)
	require.NoError(t, err)
	m, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "o", m["name"])
	assert.Equal(t, reflect.ValueOf(m).Pointer(), reflect.ValueOf(m["self"]).Pointer())

	cyclic := map[string]any{}
	cyclic["self"] = cyclic
	got, err = r.Evaluate(ctx, "(t, a) => a.self === a", nil, cyclic)
	require.NoError(t, err)
	assert.Equal(t, true, got)
}

func TestEvaluateBuiltins(t *testing.T) {
	r := newRuntime(t)
	ctx := context.Background()

	got, err := r.Evaluate(ctx, "() => new Uint16Array([1, 513])", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 513}, got)

	got, err = r.Evaluate(ctx, "(t, a) => a.length + a[2]", nil, []float64{1, 2, 3})
	require.NoError(t, err)
	assert.EqualValues(t, 6, got)

	got, err = r.Evaluate(ctx, "() => new Date(0)", nil, nil)
	require.NoError(t, err)
	assert.True(t, time.UnixMilli(0).Equal(got.(time.Time)))

	got, err = r.Evaluate(ctx, "() => new Date(NaN)", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, codec.InvalidDate, got)

	got, err = r.Evaluate(ctx, "() => /a+b/gi", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, codec.RegExp{Source: "a+b", Flags: "gi"}, got)

	m := codec.NewMap()
	m.Set(int64(1), "one")
	got, err = r.Evaluate(ctx, "(t, m) => m.get(1)", nil, m)
	require.NoError(t, err)
	assert.Equal(t, "one", got)

	got, err = r.Evaluate(ctx, "() => new Set([1, 2, 2])", nil, nil)
	require.NoError(t, err)
	set, ok := got.(*codec.Set)
	require.True(t, ok)
	assert.Equal(t, 2, set.Len())

	got, err = r.Evaluate(ctx, "() => Symbol('s')", nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &codec.Symbol{}, got)

	got, err = r.Evaluate(ctx, "(t, e) => e instanceof RangeError && e.message", nil, codec.NewError(codec.KindRangeError, "out"))
	require.NoError(t, err)
	assert.Equal(t, "out", got)
}

func TestEvaluateHostTarget(t *testing.T) {
	r := newRuntime(t)
	ctx := context.Background()
	p := &page{URL: "https://example.com/", Title: "Example"}

	got, err := r.Evaluate(ctx, "(p, name) => p.greet(name)", p, "bob")
	require.NoError(t, err)
	assert.Equal(t, "hello bob from Example", got)

	got, err = r.Evaluate(ctx, "p => p.url + ' ' + p.title", p, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/ Example", got)

	got, err = r.Evaluate(ctx, "p => p", p, nil)
	require.NoError(t, err)
	assert.Same(t, p, got)
}

func TestEvaluateInterrupted(t *testing.T) {
	r := newRuntime(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := r.Evaluate(ctx, "() => { for (;;) {} }", nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got, err := r.Evaluate(context.Background(), "() => 'alive'", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "alive", got)
}

func TestProperties(t *testing.T) {
	r := newRuntime(t)
	ctx := context.Background()
	target := map[string]any{"a": int64(1), "b": "x"}

	props, err := r.Properties(ctx, target)
	require.NoError(t, err)
	names := make([]string, len(props))
	for i, p := range props {
		names[i] = p.Name
	}
	assert.ElementsMatch(t, []string{"a", "b"}, names)

	v, err := r.Property(ctx, target, "b")
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	v, err = r.Property(ctx, target, "missing")
	require.NoError(t, err)
	assert.Equal(t, codec.Undefined, v)
}

func TestConsoleLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cfg := DefaultConfig()
	cfg.Logger = zap.New(core)
	r, err := New(cfg)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Evaluate(context.Background(), "() => { console.warn('careful', 1) }", nil, nil)
	require.NoError(t, err)

	entries := logs.FilterMessage("careful 1").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
}

func TestClosedRuntime(t *testing.T) {
	r, err := New(DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = r.Evaluate(context.Background(), "1", nil, nil)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestLowerCamel(t *testing.T) {
	for in, want := range map[string]string{
		"URL":         "url",
		"Frame":       "frame",
		"HTTPClient":  "httpClient",
		"HeaderValue": "headerValue",
		"name":        "name",
		"ID":          "id",
	} {
		assert.Equal(t, want, lowerCamel(in), in)
	}
}
