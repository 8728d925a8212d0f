package script

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

var (
	ErrNotSerializableFunction = errors.New("script: passed function is not well-serializable")
	ErrUnsettledPromise        = errors.New("script: promise did not settle")
	ErrClosed                  = errors.New("script: runtime closed")
)

// Config defines runtime configuration
type Config struct {
	MaxCallStackSize int         // Maximum call stack depth, 0 for the VM default
	Logger           *zap.Logger // Receives console output
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxCallStackSize: 1024,
	}
}

// Runtime wraps a goja VM. All methods are safe for concurrent use; calls
// are serialized.
type Runtime struct {
	vm     *goja.Runtime
	config Config
	logger *zap.Logger
	mu     sync.Mutex

	helpers helpers
}

// helpers are script functions used for conversions the Go API lacks.
type helpers struct {
	classify   goja.Callable
	mapEntries goja.Callable
	setValues  goja.Callable
	bufferOf   goja.Callable
	entries    goja.Callable
	property   goja.Callable
}

const helperSource = `({
	classify(v) {
		if (typeof v === "function") return "function";
		if (v instanceof Date) return "date";
		if (v instanceof RegExp) return "regexp";
		if (v instanceof Error) return "error";
		if (v instanceof Map) return "map";
		if (v instanceof Set) return "set";
		if (v instanceof Promise) return "promise";
		if (v instanceof ArrayBuffer) return "arraybuffer";
		if (ArrayBuffer.isView(v)) return v instanceof DataView ? "DataView" : v.constructor.name;
		if (Array.isArray(v)) return "array";
		return "object";
	},
	mapEntries(m) { return Array.from(m.entries()); },
	setValues(s) { return Array.from(s.values()); },
	bufferOf(v) { return v.buffer.slice(v.byteOffset, v.byteOffset + v.byteLength); },
	entries(t) { return Object.entries(t); },
	property(t, k) { return t[k]; },
})`

// New creates a runtime.
func New(config Config) (*Runtime, error) {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Runtime{
		vm:     goja.New(),
		config: config,
		logger: logger.Named("script"),
	}
	if err := r.setup(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runtime) setup() error {
	r.vm.SetFieldNameMapper(fieldNameMapper{})
	if r.config.MaxCallStackSize > 0 {
		r.vm.SetMaxCallStackSize(r.config.MaxCallStackSize)
	}

	console := r.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(level, r.makeConsoleFunc(level)); err != nil {
			return fmt.Errorf("failed to install console.%s: %w", level, err)
		}
	}
	if err := r.vm.Set("console", console); err != nil {
		return fmt.Errorf("failed to install console: %w", err)
	}

	v, err := r.vm.RunString(helperSource)
	if err != nil {
		return fmt.Errorf("failed to install helpers: %w", err)
	}
	obj := v.ToObject(r.vm)
	for name, dst := range map[string]*goja.Callable{
		"classify":   &r.helpers.classify,
		"mapEntries": &r.helpers.mapEntries,
		"setValues":  &r.helpers.setValues,
		"bufferOf":   &r.helpers.bufferOf,
		"entries":    &r.helpers.entries,
		"property":   &r.helpers.property,
	} {
		fn, ok := goja.AssertFunction(obj.Get(name))
		if !ok {
			return fmt.Errorf("helper %s is not a function", name)
		}
		*dst = fn
	}
	return nil
}

// makeConsoleFunc forwards console output to the logger.
func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		switch level {
		case "error":
			r.logger.Error(msg, zap.String("source", "console"))
		case "warn":
			r.logger.Warn(msg, zap.String("source", "console"))
		case "debug":
			r.logger.Debug(msg, zap.String("source", "console"))
		default:
			r.logger.Info(msg, zap.String("source", "console"))
		}
		return goja.Undefined()
	}
}

var asyncPrefix = regexp.MustCompile(`^(async )?`)

// parse turns function source into a script value: the function itself, or
// the value of a non-function expression.
func (r *Runtime) parse(source string) (goja.Value, error) {
	src := strings.TrimSpace(source)

	prog, err := goja.Compile("evaluate", "("+src+")", false)
	if err != nil {
		prog, err = goja.Compile("evaluate", "("+asyncPrefix.ReplaceAllString(src, "${1}function ")+")", false)
		if err != nil {
			return nil, ErrNotSerializableFunction
		}
	}
	return r.vm.RunProgram(prog)
}

// Evaluate parses source and, when it is a function, calls it with target
// and arg. A non-function expression yields its own value.
func (r *Runtime) Evaluate(ctx context.Context, source string, target, arg any) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vm == nil {
		return nil, ErrClosed
	}
	stop := r.watch(ctx)
	defer stop()

	fnValue, err := r.parse(source)
	if err != nil {
		return nil, r.scriptError(err)
	}

	result := fnValue
	if fn, ok := goja.AssertFunction(fnValue); ok {
		targetValue := r.vm.ToValue(target)
		argValue, err := newToScript(r).value(arg)
		if err != nil {
			return nil, err
		}
		result, err = fn(goja.Undefined(), targetValue, argValue)
		if err != nil {
			return nil, r.scriptError(err)
		}
	}

	result, err = r.settle(result)
	if err != nil {
		return nil, err
	}
	return newFromScript(r).value(result)
}

// Properties lists the own enumerable properties of target.
func (r *Runtime) Properties(ctx context.Context, target any) ([]Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vm == nil {
		return nil, ErrClosed
	}
	stop := r.watch(ctx)
	defer stop()

	v, err := r.helpers.entries(goja.Undefined(), r.vm.ToValue(target))
	if err != nil {
		return nil, r.scriptError(err)
	}

	conv := newFromScript(r)
	obj := v.ToObject(r.vm)
	n := int(obj.Get("length").ToInteger())
	props := make([]Property, 0, n)
	for i := 0; i < n; i++ {
		pair := obj.Get(fmt.Sprint(i)).ToObject(r.vm)
		value, err := conv.value(pair.Get("1"))
		if err != nil {
			return nil, err
		}
		props = append(props, Property{Name: pair.Get("0").String(), Value: value})
	}
	return props, nil
}

// Property reads one property of target. A missing property is
// codec.Undefined.
func (r *Runtime) Property(ctx context.Context, target any, name string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vm == nil {
		return nil, ErrClosed
	}
	stop := r.watch(ctx)
	defer stop()

	v, err := r.helpers.property(goja.Undefined(), r.vm.ToValue(target), r.vm.ToValue(name))
	if err != nil {
		return nil, r.scriptError(err)
	}
	return newFromScript(r).value(v)
}

// Property is one named value of an object.
type Property struct {
	Name  string
	Value any
}

// watch interrupts the VM when ctx ends. The returned func must be called
// before the lock is released.
func (r *Runtime) watch(ctx context.Context) func() {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		select {
		case <-ctx.Done():
			r.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-finished
		r.vm.ClearInterrupt()
	}
}

// settle unwraps a promise that the job queue has already run to completion.
func (r *Runtime) settle(v goja.Value) (goja.Value, error) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return v, nil
	}
	p, ok := obj.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, r.thrown(p.Result())
	default:
		return nil, ErrUnsettledPromise
	}
}

// scriptError converts a VM error into an error carrying the thrown value.
func (r *Runtime) scriptError(err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return r.thrown(ex.Value())
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return cause
		}
	}
	return err
}

func (r *Runtime) thrown(v goja.Value) error {
	converted, err := newFromScript(r).value(v)
	if err != nil {
		return err
	}
	if e, ok := converted.(error); ok {
		return e
	}
	return thrownValue{value: converted, text: v.String()}
}

// thrownValue is a non-error value thrown by a script.
type thrownValue struct {
	value any
	text  string
}

func (t thrownValue) Error() string { return "uncaught " + t.text }

// Close releases the VM.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.vm = nil
	return nil
}
