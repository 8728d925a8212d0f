package script

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/url"
	"reflect"
	"time"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/pwbridge/internal/codec"
)

// toScript rebuilds codec values as native script values. Containers
// reachable through more than one path map to one script object.
type toScript struct {
	r    *Runtime
	seen map[uintptr]*goja.Object
}

func newToScript(r *Runtime) *toScript {
	return &toScript{r: r, seen: make(map[uintptr]*goja.Object)}
}

func (c *toScript) construct(name string, args ...goja.Value) (*goja.Object, error) {
	obj, err := c.r.vm.New(c.r.vm.Get(name), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to construct %s: %w", name, err)
	}
	return obj, nil
}

func (c *toScript) call(obj *goja.Object, method string, args ...goja.Value) error {
	fn, ok := goja.AssertFunction(obj.Get(method))
	if !ok {
		return fmt.Errorf("%s is not a function", method)
	}
	_, err := fn(obj, args...)
	return err
}

func containerKey(v any) (uintptr, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Pointer:
		if !rv.IsNil() {
			return rv.Pointer(), true
		}
	case reflect.Slice:
		if rv.Len() > 0 {
			return rv.Pointer(), true
		}
	}
	return 0, false
}

func (c *toScript) typed(ctor string, buf []byte) (goja.Value, error) {
	ab := c.r.vm.NewArrayBuffer(append([]byte(nil), buf...))
	return c.construct(ctor, c.r.vm.ToValue(ab))
}

func (c *toScript) value(v any) (goja.Value, error) {
	vm := c.r.vm
	switch x := v.(type) {
	case nil:
		return goja.Null(), nil
	case bool, string, int64, uint64, float64, int:
		return vm.ToValue(x), nil
	case *big.Int:
		return vm.ToValue(x), nil
	case []byte:
		return c.typed("Uint8Array", x)
	case codec.Uint8Clamped:
		return c.typed("Uint8ClampedArray", x)
	case []int8:
		return c.typed("Int8Array", packLE(len(x), 1, func(b []byte, i int) { b[0] = byte(x[i]) }))
	case []uint16:
		return c.typed("Uint16Array", packLE(len(x), 2, func(b []byte, i int) { binary.LittleEndian.PutUint16(b, x[i]) }))
	case []int16:
		return c.typed("Int16Array", packLE(len(x), 2, func(b []byte, i int) { binary.LittleEndian.PutUint16(b, uint16(x[i])) }))
	case []uint32:
		return c.typed("Uint32Array", packLE(len(x), 4, func(b []byte, i int) { binary.LittleEndian.PutUint32(b, x[i]) }))
	case []int32:
		return c.typed("Int32Array", packLE(len(x), 4, func(b []byte, i int) { binary.LittleEndian.PutUint32(b, uint32(x[i])) }))
	case []float32:
		return c.typed("Float32Array", packLE(len(x), 4, func(b []byte, i int) { binary.LittleEndian.PutUint32(b, math.Float32bits(x[i])) }))
	case []float64:
		return c.typed("Float64Array", packLE(len(x), 8, func(b []byte, i int) { binary.LittleEndian.PutUint64(b, math.Float64bits(x[i])) }))
	case []uint64:
		return c.typed("BigUint64Array", packLE(len(x), 8, func(b []byte, i int) { binary.LittleEndian.PutUint64(b, x[i]) }))
	case []int64:
		return c.typed("BigInt64Array", packLE(len(x), 8, func(b []byte, i int) { binary.LittleEndian.PutUint64(b, uint64(x[i])) }))
	case time.Time:
		return c.construct("Date", vm.ToValue(x.UnixMilli()))
	case *url.URL:
		return vm.ToValue(x.String()), nil
	case codec.RegExp:
		return c.construct("RegExp", vm.ToValue(x.Source), vm.ToValue(x.Flags))
	}
	if codec.IsUndefined(v) {
		return goja.Undefined(), nil
	}
	if v == codec.InvalidDate {
		return c.construct("Date", vm.ToValue(math.NaN()))
	}

	key, tracked := containerKey(v)
	if tracked {
		if obj, ok := c.seen[key]; ok {
			return obj, nil
		}
	}
	remember := func(obj *goja.Object) {
		if tracked {
			c.seen[key] = obj
		}
	}

	switch x := v.(type) {
	case []any:
		arr := vm.NewArray()
		remember(arr)
		for i, item := range x {
			iv, err := c.value(item)
			if err != nil {
				return nil, err
			}
			if err := arr.Set(fmt.Sprint(i), iv); err != nil {
				return nil, err
			}
		}
		return arr, nil
	case map[string]any:
		obj := vm.NewObject()
		remember(obj)
		for k, item := range x {
			iv, err := c.value(item)
			if err != nil {
				return nil, err
			}
			if err := obj.Set(k, iv); err != nil {
				return nil, err
			}
		}
		return obj, nil
	case *codec.Set:
		set, err := c.construct("Set")
		if err != nil {
			return nil, err
		}
		remember(set)
		for _, item := range x.Values() {
			iv, err := c.value(item)
			if err != nil {
				return nil, err
			}
			if err := c.call(set, "add", iv); err != nil {
				return nil, err
			}
		}
		return set, nil
	case *codec.Map:
		m, err := c.construct("Map")
		if err != nil {
			return nil, err
		}
		remember(m)
		for _, e := range x.Entries() {
			k, err := c.value(e.Key)
			if err != nil {
				return nil, err
			}
			iv, err := c.value(e.Value)
			if err != nil {
				return nil, err
			}
			if err := c.call(m, "set", k, iv); err != nil {
				return nil, err
			}
		}
		return m, nil
	case *codec.Error:
		kind := x.Kind
		if kind == "" {
			kind = codec.KindOf(x.Name)
		}
		obj, err := c.construct(string(kind), vm.ToValue(x.Message))
		if err != nil {
			return nil, err
		}
		remember(obj)
		if x.Name != "" && x.Name != string(kind) {
			_ = obj.Set("name", x.Name)
		}
		if x.Stack != "" {
			_ = obj.Set("stack", x.Stack)
		}
		if x.Cause != nil {
			cause, err := c.value(x.Cause)
			if err != nil {
				return nil, err
			}
			_ = obj.Set("cause", cause)
		}
		return obj, nil
	case error:
		obj, err := c.construct(string(codec.KindError), vm.ToValue(x.Error()))
		if err != nil {
			return nil, err
		}
		remember(obj)
		if cause := errors.Unwrap(x); cause != nil {
			cv, err := c.value(cause)
			if err != nil {
				return nil, err
			}
			_ = obj.Set("cause", cv)
		}
		return obj, nil
	}

	// host values are wrapped so scripts can call their methods
	return vm.ToValue(v), nil
}

func packLE(n, width int, put func([]byte, int)) []byte {
	buf := make([]byte, n*width)
	for i := 0; i < n; i++ {
		put(buf[i*width:], i)
	}
	return buf
}

// fromScript converts script values into codec values.
type fromScript struct {
	r    *Runtime
	seen map[*goja.Object]any
}

func newFromScript(r *Runtime) *fromScript {
	return &fromScript{r: r, seen: make(map[*goja.Object]any)}
}

func (c *fromScript) value(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) {
		return codec.Undefined, nil
	}
	if goja.IsNull(v) {
		return nil, nil
	}
	if sym, ok := v.(*goja.Symbol); ok {
		return codec.NewSymbol(sym.String()), nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.Export(), nil
	}
	if known, ok := c.seen[obj]; ok {
		return known, nil
	}

	kind, err := c.r.helpers.classify(goja.Undefined(), obj)
	if err != nil {
		return nil, err
	}
	switch k := kind.String(); k {
	case "function":
		return obj.Export(), nil
	case "date":
		return c.date(obj)
	case "regexp":
		return codec.RegExp{Source: obj.Get("source").String(), Flags: obj.Get("flags").String()}, nil
	case "error":
		return c.error(obj)
	case "map":
		return c.mapping(obj)
	case "set":
		return c.set(obj)
	case "promise":
		return nil, fmt.Errorf("%w: nested promise", codec.ErrUnsupportedValue)
	case "arraybuffer":
		return bufferBytes(obj)
	case "array":
		if host, ok := hostValue(obj); ok {
			return host, nil
		}
		return c.array(obj)
	case "object":
		if host, ok := hostValue(obj); ok {
			return host, nil
		}
		return c.object(obj)
	default:
		return c.typedArray(k, obj)
	}
}

// hostValue returns the Go value behind a wrapped host object. Script
// objects export to a fresh copy on every call while wrappers export the
// value they wrap, so two exports of a wrapper share storage.
func hostValue(obj *goja.Object) (any, bool) {
	exported := obj.Export()
	switch exported.(type) {
	case map[string]any, []any:
	default:
		return exported, true
	}
	again := obj.Export()
	a, b := reflect.ValueOf(exported), reflect.ValueOf(again)
	if a.Kind() == reflect.Slice && a.Len() == 0 {
		return nil, false
	}
	return exported, a.Pointer() == b.Pointer()
}

func (c *fromScript) date(obj *goja.Object) (any, error) {
	fn, ok := goja.AssertFunction(obj.Get("getTime"))
	if !ok {
		return nil, fmt.Errorf("%w: date without getTime", codec.ErrUnsupportedValue)
	}
	ms, err := fn(obj)
	if err != nil {
		return nil, err
	}
	f := ms.ToFloat()
	if math.IsNaN(f) {
		return codec.InvalidDate, nil
	}
	return time.UnixMilli(int64(f)), nil
}

func (c *fromScript) error(obj *goja.Object) (any, error) {
	e := &codec.Error{}
	c.seen[obj] = e

	e.Name = stringProp(obj, "name")
	if e.Name == "" {
		e.Name = string(codec.KindError)
	}
	e.Kind = codec.KindOf(e.Name)
	e.Message = stringProp(obj, "message")
	e.Stack = stringProp(obj, "stack")

	if cause := obj.Get("cause"); cause != nil && !goja.IsUndefined(cause) {
		v, err := c.value(cause)
		if err != nil {
			return nil, err
		}
		e.Cause = v
	}
	return e, nil
}

func stringProp(obj *goja.Object, name string) string {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func (c *fromScript) list(v goja.Value) []goja.Value {
	obj := v.ToObject(c.r.vm)
	n := int(obj.Get("length").ToInteger())
	items := make([]goja.Value, n)
	for i := range items {
		items[i] = obj.Get(fmt.Sprint(i))
	}
	return items
}

func (c *fromScript) mapping(obj *goja.Object) (any, error) {
	m := codec.NewMap()
	c.seen[obj] = m

	entries, err := c.r.helpers.mapEntries(goja.Undefined(), obj)
	if err != nil {
		return nil, err
	}
	for _, entry := range c.list(entries) {
		pair := c.list(entry)
		k, err := c.value(pair[0])
		if err != nil {
			return nil, err
		}
		v, err := c.value(pair[1])
		if err != nil {
			return nil, err
		}
		m.Set(k, v)
	}
	return m, nil
}

func (c *fromScript) set(obj *goja.Object) (any, error) {
	s := codec.NewSet()
	c.seen[obj] = s

	values, err := c.r.helpers.setValues(goja.Undefined(), obj)
	if err != nil {
		return nil, err
	}
	for _, item := range c.list(values) {
		v, err := c.value(item)
		if err != nil {
			return nil, err
		}
		s.Add(v)
	}
	return s, nil
}

func (c *fromScript) array(obj *goja.Object) (any, error) {
	items := c.list(obj)
	arr := make([]any, len(items))
	c.seen[obj] = arr
	for i, item := range items {
		v, err := c.value(item)
		if err != nil {
			return nil, err
		}
		arr[i] = v
	}
	return arr, nil
}

func (c *fromScript) object(obj *goja.Object) (any, error) {
	m := make(map[string]any)
	c.seen[obj] = m
	for _, k := range obj.Keys() {
		v, err := c.value(obj.Get(k))
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

func bufferBytes(obj *goja.Object) ([]byte, error) {
	ab, ok := obj.Export().(goja.ArrayBuffer)
	if !ok {
		return nil, fmt.Errorf("%w: detached buffer", codec.ErrUnsupportedValue)
	}
	return append([]byte(nil), ab.Bytes()...), nil
}

func (c *fromScript) typedArray(kind string, obj *goja.Object) (any, error) {
	sliced, err := c.r.helpers.bufferOf(goja.Undefined(), obj)
	if err != nil {
		return nil, err
	}
	b, err := bufferBytes(sliced.ToObject(c.r.vm))
	if err != nil {
		return nil, err
	}
	le := binary.LittleEndian

	switch kind {
	case "Uint8Array", "DataView":
		return b, nil
	case "Uint8ClampedArray":
		return codec.Uint8Clamped(b), nil
	case "Int8Array":
		out := make([]int8, len(b))
		for i := range out {
			out[i] = int8(b[i])
		}
		return out, nil
	case "Uint16Array":
		out := make([]uint16, len(b)/2)
		for i := range out {
			out[i] = le.Uint16(b[i*2:])
		}
		return out, nil
	case "Int16Array":
		out := make([]int16, len(b)/2)
		for i := range out {
			out[i] = int16(le.Uint16(b[i*2:]))
		}
		return out, nil
	case "Uint32Array":
		out := make([]uint32, len(b)/4)
		for i := range out {
			out[i] = le.Uint32(b[i*4:])
		}
		return out, nil
	case "Int32Array":
		out := make([]int32, len(b)/4)
		for i := range out {
			out[i] = int32(le.Uint32(b[i*4:]))
		}
		return out, nil
	case "Float32Array":
		out := make([]float32, len(b)/4)
		for i := range out {
			out[i] = math.Float32frombits(le.Uint32(b[i*4:]))
		}
		return out, nil
	case "Float64Array":
		out := make([]float64, len(b)/8)
		for i := range out {
			out[i] = math.Float64frombits(le.Uint64(b[i*8:]))
		}
		return out, nil
	case "BigUint64Array":
		out := make([]uint64, len(b)/8)
		for i := range out {
			out[i] = le.Uint64(b[i*8:])
		}
		return out, nil
	case "BigInt64Array":
		out := make([]int64, len(b)/8)
		for i := range out {
			out[i] = int64(le.Uint64(b[i*8:]))
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s", codec.ErrUnsupportedValue, kind)
}
