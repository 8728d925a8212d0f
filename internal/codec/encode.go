package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// EncodeOptions controls the handling of values that cannot be packed.
type EncodeOptions struct {
	// NullFunctions packs functions as null instead of failing.
	NullFunctions bool
}

// Encode packs v into a CBOR frame.
func Encode(v any, opts EncodeOptions) ([]byte, error) {
	e := &encoder{
		opts: opts,
		refs: make(map[refKey]*ref),
	}
	e.scan(reflect.ValueOf(v))

	tree, err := e.build(v)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(tree)
}

type refKey struct {
	typ reflect.Type
	ptr uintptr
	n   int
}

type ref struct {
	count int
	index int
}

type encoder struct {
	opts EncodeOptions
	refs map[refKey]*ref
	next int
}

var (
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
	handleRefType = reflect.TypeOf((*HandleRef)(nil)).Elem()
	timeType      = reflect.TypeOf(time.Time{})
	bigIntType    = reflect.TypeOf(big.Int{})
	urlType       = reflect.TypeOf(url.URL{})
)

// identity returns the key under which a container is tracked for sharing.
func identity(rv reflect.Value) (refKey, bool) {
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return refKey{}, false
		}
		return refKey{typ: rv.Type(), ptr: rv.Pointer()}, true
	case reflect.Slice:
		if rv.Len() == 0 || isBuffer(rv.Type()) {
			return refKey{}, false
		}
		return refKey{typ: rv.Type(), ptr: rv.Pointer(), n: rv.Len()}, true
	case reflect.Pointer:
		if rv.IsNil() {
			return refKey{}, false
		}
		switch rv.Type() {
		case reflect.TypeOf((*big.Int)(nil)), reflect.TypeOf((*url.URL)(nil)), reflect.TypeOf((*Symbol)(nil)):
			return refKey{}, false
		}
		if rv.Type().Implements(handleRefType) {
			return refKey{}, false
		}
		return refKey{typ: rv.Type(), ptr: rv.Pointer()}, true
	}
	return refKey{}, false
}

func isNilRef(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func isBuffer(t reflect.Type) bool {
	if t == reflect.TypeOf(Uint8Clamped(nil)) {
		return true
	}
	switch t.Elem().Kind() {
	case reflect.Uint8, reflect.Int8, reflect.Uint16, reflect.Int16, reflect.Uint32,
		reflect.Int32, reflect.Uint64, reflect.Int64, reflect.Float32, reflect.Float64:
		return t.Elem().PkgPath() == ""
	}
	return false
}

// scan counts how many paths reach each container.
func (e *encoder) scan(rv reflect.Value) {
	for rv.IsValid() && rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() || isNilRef(rv) {
		return
	}

	if key, ok := identity(rv); ok {
		if r := e.refs[key]; r != nil {
			r.count++
			return
		}
		e.refs[key] = &ref{count: 1, index: -1}
	}

	if rv.CanInterface() {
		switch v := rv.Interface().(type) {
		case HandleRef, PendingHandle, *PendingHandle:
			return
		case *Set:
			for _, item := range v.items {
				e.scan(reflect.ValueOf(item))
			}
			return
		case *Map:
			for _, entry := range v.entries {
				e.scan(reflect.ValueOf(entry.Key))
				e.scan(reflect.ValueOf(entry.Value))
			}
			return
		case *Error:
			e.scan(reflect.ValueOf(v.Cause))
			return
		case error:
			if inner := unwrapCause(v); inner != nil {
				e.scan(reflect.ValueOf(inner))
			}
			return
		}
	}

	switch rv.Kind() {
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			e.scan(iter.Key())
			e.scan(iter.Value())
		}
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && isBuffer(rv.Type()) {
			return
		}
		for i := 0; i < rv.Len(); i++ {
			e.scan(rv.Index(i))
		}
	case reflect.Pointer:
		e.scan(rv.Elem())
	case reflect.Struct:
		if rv.Type() == timeType || rv.Type() == bigIntType || rv.Type() == urlType {
			return
		}
		for _, f := range exportedFields(rv.Type()) {
			e.scan(rv.FieldByIndex(f.index))
		}
	}
}

func unwrapCause(err error) any {
	_, _, cause, _ := errorParts(err)
	return cause
}

// build converts v into a tree of values the CBOR encoder understands.
func (e *encoder) build(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if isNilRef(rv) {
		return nil, nil
	}
	key, ok := identity(rv)
	if !ok {
		return e.buildValue(v, rv)
	}

	r := e.refs[key]
	if r == nil || r.count < 2 {
		return e.buildValue(v, rv)
	}
	if r.index >= 0 {
		return cbor.Tag{Number: tagSharedRef, Content: uint64(r.index)}, nil
	}
	r.index = e.next
	e.next++
	content, err := e.buildValue(v, rv)
	if err != nil {
		return nil, err
	}
	return cbor.Tag{Number: tagShareable, Content: content}, nil
}

func (e *encoder) buildValue(v any, rv reflect.Value) (any, error) {
	switch x := v.(type) {
	case undefined:
		return rawUndefined, nil
	case bool, string:
		return x, nil
	case int:
		return int64(x), nil
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return x, nil
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case *big.Int:
		return bignum(x), nil
	case big.Int:
		return bignum(&x), nil
	case []byte:
		return x, nil
	case Uint8Clamped:
		return cbor.Tag{Number: tagUint8Clamped, Content: []byte(x)}, nil
	case []int8:
		return typedTag(tagInt8, len(x), 1, func(b []byte, i int) { b[0] = byte(x[i]) }), nil
	case []uint16:
		return typedTag(tagUint16LE, len(x), 2, func(b []byte, i int) { binary.LittleEndian.PutUint16(b, x[i]) }), nil
	case []int16:
		return typedTag(tagInt16LE, len(x), 2, func(b []byte, i int) { binary.LittleEndian.PutUint16(b, uint16(x[i])) }), nil
	case []uint32:
		return typedTag(tagUint32LE, len(x), 4, func(b []byte, i int) { binary.LittleEndian.PutUint32(b, x[i]) }), nil
	case []int32:
		return typedTag(tagInt32LE, len(x), 4, func(b []byte, i int) { binary.LittleEndian.PutUint32(b, uint32(x[i])) }), nil
	case []uint64:
		return typedTag(tagUint64LE, len(x), 8, func(b []byte, i int) { binary.LittleEndian.PutUint64(b, x[i]) }), nil
	case []int64:
		return typedTag(tagInt64LE, len(x), 8, func(b []byte, i int) { binary.LittleEndian.PutUint64(b, uint64(x[i])) }), nil
	case []float32:
		return typedTag(tagFloat32LE, len(x), 4, func(b []byte, i int) { binary.LittleEndian.PutUint32(b, math.Float32bits(x[i])) }), nil
	case []float64:
		return typedTag(tagFloat64LE, len(x), 8, func(b []byte, i int) { binary.LittleEndian.PutUint64(b, math.Float64bits(x[i])) }), nil
	case time.Time:
		return cbor.Tag{Number: tagEpoch, Content: float64(x.UnixMilli()) / 1000}, nil
	case invalidDate:
		return cbor.Tag{Number: tagEpoch, Content: math.NaN()}, nil
	case RegExp:
		return cbor.Tag{Number: tagRegExp, Content: []any{x.Source, x.Flags}}, nil
	case *RegExp:
		return cbor.Tag{Number: tagRegExp, Content: []any{x.Source, x.Flags}}, nil
	case *url.URL:
		return cbor.Tag{Number: tagURI, Content: x.String()}, nil
	case url.URL:
		return cbor.Tag{Number: tagURI, Content: x.String()}, nil
	case PendingHandle:
		return cbor.Tag{Number: TagPendingHandle, Content: x.ID}, nil
	case *PendingHandle:
		return cbor.Tag{Number: TagPendingHandle, Content: x.ID}, nil
	case HandleRef:
		return cbor.Tag{Number: TagHandle, Content: x.HandleID()}, nil
	case *Symbol:
		return nil, fmt.Errorf("%w: symbol %q", ErrUnsupportedValue, x.Description)
	case *Set:
		items := make([]any, 0, len(x.items))
		for _, item := range x.items {
			built, err := e.build(item)
			if err != nil {
				return nil, err
			}
			items = append(items, built)
		}
		return cbor.Tag{Number: tagSet, Content: items}, nil
	case *Map:
		pairs := make([]any, 0, len(x.entries))
		for _, entry := range x.entries {
			k, err := e.build(entry.Key)
			if err != nil {
				return nil, err
			}
			val, err := e.build(entry.Value)
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, []any{k, val})
		}
		return cbor.Tag{Number: tagMap, Content: pairs}, nil
	case error:
		return e.buildError(x)
	case map[string]any:
		return e.buildObject(sortedKeys(x), func(k string) any { return x[k] })
	case []any:
		items := make([]any, len(x))
		for i, item := range x {
			built, err := e.build(item)
			if err != nil {
				return nil, err
			}
			items[i] = built
		}
		return items, nil
	}

	return e.buildReflect(rv)
}

func (e *encoder) buildError(err error) (any, error) {
	name, message, cause, stack := errorParts(err)
	if name == "" {
		name = string(KindError)
	}
	builtCause, buildErr := e.build(cause)
	if buildErr != nil {
		return nil, buildErr
	}
	if cause == nil {
		builtCause = rawUndefined
	}
	var builtStack any = rawUndefined
	if stack != "" {
		builtStack = stack
	}
	return cbor.Tag{Number: TagError, Content: []any{name, message, builtCause, builtStack}}, nil
}

func (e *encoder) buildObject(keys []string, get func(string) any) (any, error) {
	obj := make(map[string]any, len(keys))
	for _, k := range keys {
		built, err := e.build(get(k))
		if err != nil {
			return nil, err
		}
		obj[k] = built
	}
	return obj, nil
}

func (e *encoder) buildReflect(rv reflect.Value) (any, error) {
	switch rv.Kind() {
	case reflect.Func:
		if e.opts.NullFunctions {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: cannot serialize functions", ErrUnsupportedValue)
	case reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128, reflect.Uintptr:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedValue, rv.Type())
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		elem := rv.Elem()
		return e.build(elem.Interface())
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Key().Kind() == reflect.String {
			keys := make([]string, 0, rv.Len())
			values := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				k := iter.Key().String()
				keys = append(keys, k)
				values[k] = iter.Value().Interface()
			}
			sort.Strings(keys)
			return e.buildObject(keys, func(k string) any { return values[k] })
		}
		m := NewMap()
		iter := rv.MapRange()
		for iter.Next() {
			m.entries = append(m.entries, Entry{Key: iter.Key().Interface(), Value: iter.Value().Interface()})
		}
		return e.buildValue(m, reflect.ValueOf(m))
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Bytes(), nil
		}
		items := make([]any, rv.Len())
		for i := range items {
			built, err := e.build(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			items[i] = built
		}
		return items, nil
	case reflect.Struct:
		fields := exportedFields(rv.Type())
		keys := make([]string, 0, len(fields))
		values := make(map[string]any, len(fields))
		for _, f := range fields {
			keys = append(keys, f.name)
			values[f.name] = rv.FieldByIndex(f.index).Interface()
		}
		sort.Strings(keys)
		return e.buildObject(keys, func(k string) any { return values[k] })
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedValue, rv.Type())
}

type field struct {
	name  string
	index []int
}

// exportedFields lists the exported fields of a struct, honouring json names.
func exportedFields(t reflect.Type) []field {
	var fields []field
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		fields = append(fields, field{name: name, index: f.Index})
	}
	return fields
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func bignum(n *big.Int) cbor.Tag {
	if n.Sign() >= 0 {
		return cbor.Tag{Number: tagPosBignum, Content: n.Bytes()}
	}
	// negative bignums carry -1 - n
	m := new(big.Int).Neg(n)
	m.Sub(m, big.NewInt(1))
	return cbor.Tag{Number: tagNegBignum, Content: m.Bytes()}
}

func typedTag(tag uint64, n, width int, put func([]byte, int)) cbor.Tag {
	buf := make([]byte, n*width)
	for i := 0; i < n; i++ {
		put(buf[i*width:(i+1)*width], i)
	}
	return cbor.Tag{Number: tag, Content: buf}
}
