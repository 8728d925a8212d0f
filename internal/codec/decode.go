package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"net/url"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// TargetLookup resolves handle ids to the live values they stand for.
type TargetLookup interface {
	LookupTarget(id string) (any, bool)
}

// DecodeOptions supplies the side-specific context for decoding handles.
// The owning side sets Targets, the referencing side sets NewHandle.
type DecodeOptions struct {
	Targets   TargetLookup
	NewHandle func(id string) any
}

// Decode unpacks a CBOR frame produced by Encode.
func Decode(data []byte, opts DecodeOptions) (any, error) {
	d := &decoder{opts: opts}
	return d.decode(cbor.RawMessage(data), nil)
}

type decoder struct {
	opts   DecodeOptions
	shared []any
	filled []bool
}

// decode unpacks one data item. register, when set, receives the value as
// soon as it exists, before any child is decoded.
func (d *decoder) decode(raw cbor.RawMessage, register func(any)) (any, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty item", ErrMalformed)
	}

	v, err := d.decodeItem(raw, register)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (d *decoder) decodeItem(raw cbor.RawMessage, register func(any)) (any, error) {
	var (
		v   any
		err error
	)
	switch raw[0] >> 5 {
	case 0:
		var u uint64
		if err = decMode.Unmarshal(raw, &u); err == nil {
			if u <= math.MaxInt64 {
				v = int64(u)
			} else {
				v = u
			}
		}
	case 1:
		var i int64
		err = decMode.Unmarshal(raw, &i)
		v = i
	case 2:
		var b []byte
		err = decMode.Unmarshal(raw, &b)
		if b == nil {
			b = []byte{}
		}
		v = b
	case 3:
		var s string
		err = decMode.Unmarshal(raw, &s)
		v = s
	case 4:
		return d.decodeArray(raw, register)
	case 5:
		return d.decodeObject(raw, register)
	case 6:
		return d.decodeTag(raw, register)
	case 7:
		v, err = decodeSimple(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if register != nil {
		register(v)
	}
	return v, nil
}

func decodeSimple(raw cbor.RawMessage) (any, error) {
	switch raw[0] {
	case 0xf4:
		return false, nil
	case 0xf5:
		return true, nil
	case 0xf6:
		return nil, nil
	case 0xf7:
		return Undefined, nil
	case 0xf9, 0xfa, 0xfb:
		var f float64
		if err := decMode.Unmarshal(raw, &f); err != nil {
			return nil, err
		}
		return f, nil
	}
	return nil, fmt.Errorf("unsupported simple value 0x%x", raw[0])
}

func (d *decoder) decodeArray(raw cbor.RawMessage, register func(any)) (any, error) {
	var items []cbor.RawMessage
	if err := decMode.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	arr := make([]any, len(items))
	if register != nil {
		register(arr)
	}
	for i, item := range items {
		v, err := d.decode(item, nil)
		if err != nil {
			return nil, err
		}
		arr[i] = v
	}
	return arr, nil
}

func (d *decoder) decodeObject(raw cbor.RawMessage, register func(any)) (any, error) {
	var entries map[string]cbor.RawMessage
	if err := decMode.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	obj := make(map[string]any, len(entries))
	if register != nil {
		register(obj)
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := d.decode(entries[k], nil)
		if err != nil {
			return nil, err
		}
		obj[k] = v
	}
	return obj, nil
}

func (d *decoder) decodeTag(raw cbor.RawMessage, register func(any)) (any, error) {
	var tag cbor.RawTag
	if err := decMode.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch tag.Number {
	case tagShareable:
		index := len(d.shared)
		d.shared = append(d.shared, nil)
		d.filled = append(d.filled, false)
		return d.decode(tag.Content, func(v any) {
			d.shared[index] = v
			d.filled[index] = true
			if register != nil {
				register(v)
			}
		})
	case tagSharedRef:
		var index uint64
		if err := decMode.Unmarshal(tag.Content, &index); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if index >= uint64(len(d.shared)) || !d.filled[index] {
			return nil, fmt.Errorf("%w: index %d", ErrDanglingReference, index)
		}
		v := d.shared[index]
		if register != nil {
			register(v)
		}
		return v, nil
	case tagSet:
		return d.decodeSet(tag.Content, register)
	case tagMap:
		return d.decodeMap(tag.Content, register)
	case TagError:
		return d.decodeError(tag.Content, register)
	}

	v, err := d.decodeLeafTag(tag)
	if err != nil {
		return nil, err
	}
	if register != nil {
		register(v)
	}
	return v, nil
}

func (d *decoder) decodeLeafTag(tag cbor.RawTag) (any, error) {
	switch tag.Number {
	case tagEpoch:
		var secs float64
		if err := decMode.Unmarshal(tag.Content, &secs); err != nil {
			return nil, fmt.Errorf("%w: date: %v", ErrMalformed, err)
		}
		if math.IsNaN(secs) || math.IsInf(secs, 0) {
			return InvalidDate, nil
		}
		return time.UnixMilli(int64(math.Round(secs * 1000))), nil
	case tagPosBignum, tagNegBignum:
		var b []byte
		if err := decMode.Unmarshal(tag.Content, &b); err != nil {
			return nil, fmt.Errorf("%w: bignum: %v", ErrMalformed, err)
		}
		n := new(big.Int).SetBytes(b)
		if tag.Number == tagNegBignum {
			n.Add(n, big.NewInt(1))
			n.Neg(n)
		}
		return n, nil
	case tagURI:
		var s string
		if err := decMode.Unmarshal(tag.Content, &s); err != nil {
			return nil, fmt.Errorf("%w: uri: %v", ErrMalformed, err)
		}
		u, err := url.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: uri: %v", ErrMalformed, err)
		}
		return u, nil
	case tagRegExp:
		var parts []string
		if err := decMode.Unmarshal(tag.Content, &parts); err != nil || len(parts) != 2 {
			return nil, fmt.Errorf("%w: regexp", ErrMalformed)
		}
		return RegExp{Source: parts[0], Flags: parts[1]}, nil
	case TagHandle:
		handleID, err := tagString(tag)
		if err != nil {
			return nil, err
		}
		if d.opts.Targets == nil {
			return nil, ErrNoTargetMap
		}
		target, ok := d.opts.Targets.LookupTarget(handleID)
		if !ok {
			return nil, fmt.Errorf("%w with id %s", ErrDanglingHandle, handleID)
		}
		return target, nil
	case TagPendingHandle:
		handleID, err := tagString(tag)
		if err != nil {
			return nil, err
		}
		if d.opts.NewHandle == nil {
			return nil, ErrNoHandleFactory
		}
		return d.opts.NewHandle(handleID), nil
	}

	b, err := tagBytes(tag)
	if err != nil {
		return nil, err
	}
	return decodeBuffer(tag.Number, b)
}

func decodeBuffer(tag uint64, b []byte) (any, error) {
	width := map[uint64]int{
		tagUint8: 1, tagUint8Clamped: 1, tagInt8: 1,
		tagUint16LE: 2, tagInt16LE: 2,
		tagUint32LE: 4, tagInt32LE: 4, tagFloat32LE: 4,
		tagUint64LE: 8, tagInt64LE: 8, tagFloat64LE: 8,
	}[tag]
	if width == 0 {
		return nil, fmt.Errorf("%w: unknown tag %d", ErrMalformed, tag)
	}
	if len(b)%width != 0 {
		return nil, fmt.Errorf("%w: buffer length %d not a multiple of %d", ErrMalformed, len(b), width)
	}
	n := len(b) / width
	le := binary.LittleEndian

	switch tag {
	case tagUint8:
		return b, nil
	case tagUint8Clamped:
		return Uint8Clamped(b), nil
	case tagInt8:
		out := make([]int8, n)
		for i := range out {
			out[i] = int8(b[i])
		}
		return out, nil
	case tagUint16LE:
		out := make([]uint16, n)
		for i := range out {
			out[i] = le.Uint16(b[i*2:])
		}
		return out, nil
	case tagInt16LE:
		out := make([]int16, n)
		for i := range out {
			out[i] = int16(le.Uint16(b[i*2:]))
		}
		return out, nil
	case tagUint32LE:
		out := make([]uint32, n)
		for i := range out {
			out[i] = le.Uint32(b[i*4:])
		}
		return out, nil
	case tagInt32LE:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(le.Uint32(b[i*4:]))
		}
		return out, nil
	case tagFloat32LE:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(le.Uint32(b[i*4:]))
		}
		return out, nil
	case tagUint64LE:
		out := make([]uint64, n)
		for i := range out {
			out[i] = le.Uint64(b[i*8:])
		}
		return out, nil
	case tagInt64LE:
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(le.Uint64(b[i*8:]))
		}
		return out, nil
	default:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(le.Uint64(b[i*8:]))
		}
		return out, nil
	}
}

func (d *decoder) decodeSet(content cbor.RawMessage, register func(any)) (any, error) {
	var items []cbor.RawMessage
	if err := decMode.Unmarshal(content, &items); err != nil {
		return nil, fmt.Errorf("%w: set: %v", ErrMalformed, err)
	}
	s := &Set{}
	if register != nil {
		register(s)
	}
	for _, item := range items {
		v, err := d.decode(item, nil)
		if err != nil {
			return nil, err
		}
		s.Add(v)
	}
	return s, nil
}

func (d *decoder) decodeMap(content cbor.RawMessage, register func(any)) (any, error) {
	var pairs [][]cbor.RawMessage
	if err := decMode.Unmarshal(content, &pairs); err != nil {
		return nil, fmt.Errorf("%w: map: %v", ErrMalformed, err)
	}
	m := NewMap()
	if register != nil {
		register(m)
	}
	for _, pair := range pairs {
		if len(pair) != 2 {
			return nil, fmt.Errorf("%w: map entry of length %d", ErrMalformed, len(pair))
		}
		k, err := d.decode(pair[0], nil)
		if err != nil {
			return nil, err
		}
		v, err := d.decode(pair[1], nil)
		if err != nil {
			return nil, err
		}
		m.Set(k, v)
	}
	return m, nil
}

func (d *decoder) decodeError(content cbor.RawMessage, register func(any)) (any, error) {
	var parts []cbor.RawMessage
	if err := decMode.Unmarshal(content, &parts); err != nil || len(parts) != 4 {
		return nil, fmt.Errorf("%w: error tuple", ErrMalformed)
	}
	e := &Error{}
	if register != nil {
		register(e)
	}

	var name, message string
	if err := decMode.Unmarshal(parts[0], &name); err != nil {
		return nil, fmt.Errorf("%w: error name: %v", ErrMalformed, err)
	}
	if err := decMode.Unmarshal(parts[1], &message); err != nil {
		return nil, fmt.Errorf("%w: error message: %v", ErrMalformed, err)
	}
	cause, err := d.decode(parts[2], nil)
	if err != nil {
		return nil, err
	}
	stack, err := d.decode(parts[3], nil)
	if err != nil {
		return nil, err
	}

	e.Name = name
	e.Kind = KindOf(name)
	e.Message = message
	if !IsUndefined(cause) {
		e.Cause = cause
	}
	if s, ok := stack.(string); ok {
		e.Stack = s
	}
	return e, nil
}

func tagString(tag cbor.RawTag) (string, error) {
	var s string
	if err := decMode.Unmarshal(tag.Content, &s); err != nil {
		return "", fmt.Errorf("%w: tag %d: %v", ErrMalformed, tag.Number, err)
	}
	return s, nil
}

func tagBytes(tag cbor.RawTag) ([]byte, error) {
	var b []byte
	if err := decMode.Unmarshal(tag.Content, &b); err != nil {
		return nil, fmt.Errorf("%w: tag %d: %v", ErrMalformed, tag.Number, err)
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}
