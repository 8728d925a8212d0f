package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Standard CBOR tags used by the codec.
const (
	tagEpoch        = 1
	tagPosBignum    = 2
	tagNegBignum    = 3
	tagShareable    = 28
	tagSharedRef    = 29
	tagURI          = 32
	tagUint8        = 64
	tagUint8Clamped = 68
	tagUint16LE     = 69
	tagUint32LE     = 70
	tagUint64LE     = 71
	tagInt8         = 72
	tagInt16LE      = 77
	tagInt32LE      = 78
	tagInt64LE      = 79
	tagFloat32LE    = 85
	tagFloat64LE    = 86
	tagSet          = 258
	tagRegExp       = 21066
)

// Extension tags owned by the bridge protocol.
const (
	TagHandle        = 49001
	TagPendingHandle = 49002
	TagError         = 49003
	tagMap           = 49004
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR enc mode: %v", err))
	}
	encMode = em

	dm, err := cbor.DecOptions{
		MaxNestedLevels:  256,
		MaxArrayElements: 1 << 24,
		MaxMapPairs:      1 << 24,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// raw CBOR simple values
var (
	rawUndefined = cbor.RawMessage{0xf7}
)
