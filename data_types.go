package mmdbwriter

import "math/big"

// typeID is the MMDB type tag written into a value's control byte.
type typeID int

// MMDB type IDs, per the MaxMind DB file format spec. 12 (data cache) and
// 13 (end marker) are reserved and must never be emitted by a writer.
const (
	typePointer typeID = 1
	typeString  typeID = 2
	typeDouble  typeID = 3
	typeBytes   typeID = 4
	typeUint16  typeID = 5
	typeUint32  typeID = 6
	typeMap     typeID = 7
	typeInt32   typeID = 8
	typeUint64  typeID = 9
	typeUint128 typeID = 10
	typeArray   typeID = 11
	typeBoolean typeID = 14
	typeFloat   typeID = 15
)

// DataType is implemented by every value that can be written into the data
// section of an MMDB file: Map, Slice, String, Bytes, Bool, Float32,
// Float64, Int32, Uint16, Uint32, Uint64, and Uint128.
type DataType interface {
	typeID() typeID
}

// Map is a MaxMind DB map value. Keys are always encoded as UTF-8 strings.
type Map map[string]DataType

func (Map) typeID() typeID { return typeMap }

// Slice is a MaxMind DB array value.
type Slice []DataType

func (Slice) typeID() typeID { return typeArray }

// String is a MaxMind DB UTF-8 string value.
type String string

func (String) typeID() typeID { return typeString }

// Bytes is a MaxMind DB raw byte-string value.
type Bytes []byte

func (Bytes) typeID() typeID { return typeBytes }

// Bool is a MaxMind DB boolean value. Unlike every other type, its payload
// is carried in the control byte's length field rather than in a trailing
// payload: the header is written with length 1 for true and 0 for false,
// and no additional bytes follow.
type Bool bool

func (Bool) typeID() typeID { return typeBoolean }

// Float32 is a MaxMind DB 4-byte IEEE-754 float value.
type Float32 float32

func (Float32) typeID() typeID { return typeFloat }

// Float64 is a MaxMind DB 8-byte IEEE-754 double value.
type Float64 float64

func (Float64) typeID() typeID { return typeDouble }

// Int32 is a MaxMind DB 4-byte two's complement signed integer value.
type Int32 int32

func (Int32) typeID() typeID { return typeInt32 }

// Uint16 is a MaxMind DB unsigned integer value encoded in at most 2 bytes.
type Uint16 uint16

func (Uint16) typeID() typeID { return typeUint16 }

// Uint32 is a MaxMind DB unsigned integer value encoded in at most 4 bytes.
type Uint32 uint32

func (Uint32) typeID() typeID { return typeUint32 }

// Uint64 is a MaxMind DB unsigned integer value encoded in at most 8 bytes.
type Uint64 uint64

func (Uint64) typeID() typeID { return typeUint64 }

// Uint128 is a MaxMind DB unsigned integer value encoded in at most 16
// bytes. It wraps math/big.Int because Go has no native 128-bit integer
// type.
type Uint128 struct {
	*big.Int
}

func (Uint128) typeID() typeID { return typeUint128 }

// NewUint128 constructs a Uint128 from a big.Int. The value must be
// non-negative and fit in 128 bits; this is enforced at encode time.
func NewUint128(v *big.Int) Uint128 {
	return Uint128{Int: v}
}

// pointer is the encoder-internal representation of a back-reference into
// the data section. It is never constructed by callers.
type pointer uint64

func (pointer) typeID() typeID { return typePointer }

// typeUnresolved is never written to a file; it tags untypedValue, the
// encoder-internal placeholder for a bare Go literal inserted via
// InsertValue whose width/range validation is deferred to encode time.
const typeUnresolved typeID = 0

// untypedValue defers the conversion of a bare Go value passed to
// InsertValue until the tree is actually serialized, so that an
// out-of-range literal (e.g. an int that doesn't fit the tree's configured
// IntType) fails at WriteTo/WriteToFile time rather than at insertion
// time, matching the original writer's insert/to_db_file split: insertion
// always succeeds, and a caller can correct the record and retry
// WriteToFile without having to re-walk every insertion.
type untypedValue struct {
	raw       interface{}
	intType   IntType
	floatType FloatType
}

func (untypedValue) typeID() typeID { return typeUnresolved }

// toDataType converts an untyped Go value into the nearest DataType,
// applying the writer's configured IntType/FloatType policy to bare
// integers and floats. This mirrors the convenience the original Python
// writer offers of inserting bare dict/list/str/bytes/int/float/bool
// literals directly.
func toDataType(v interface{}, intType IntType, floatType FloatType) (DataType, error) {
	switch val := v.(type) {
	case DataType:
		return val, nil
	case nil:
		return nil, newValueError("cannot encode a nil value")
	case map[string]interface{}:
		m := make(Map, len(val))
		for k, mv := range val {
			dt, err := toDataType(mv, intType, floatType)
			if err != nil {
				return nil, err
			}
			m[k] = dt
		}
		return m, nil
	case []interface{}:
		s := make(Slice, len(val))
		for i, sv := range val {
			dt, err := toDataType(sv, intType, floatType)
			if err != nil {
				return nil, err
			}
			s[i] = dt
		}
		return s, nil
	case string:
		return String(val), nil
	case []byte:
		return Bytes(val), nil
	case bool:
		return Bool(val), nil
	case float32:
		return float32ToDataType(float64(val), floatType)
	case float64:
		return float32ToDataType(val, floatType)
	case int:
		return intToDataType(int64(val), intType)
	case int32:
		return intToDataType(int64(val), intType)
	case int64:
		return intToDataType(val, intType)
	case uint:
		return uintToDataType(uint64(val), intType)
	case uint32:
		return uintToDataType(uint64(val), intType)
	case uint64:
		return uintToDataType(val, intType)
	default:
		return nil, newValueError("unsupported record value type %T", v)
	}
}

func float32ToDataType(v float64, floatType FloatType) (DataType, error) {
	switch floatType {
	case FloatTypeF32:
		return Float32(v), nil
	case "", FloatTypeF64:
		return Float64(v), nil
	default:
		return nil, newValueError("unknown float type %q", floatType)
	}
}

func intToDataType(v int64, intType IntType) (DataType, error) {
	switch intType {
	case "", IntTypeAuto:
		switch {
		case v < 0:
			if v < -(1<<31) || v > (1<<31-1) {
				return nil, newValueError("%d does not fit in int32", v)
			}
			return Int32(v), nil
		case v > 0xFFFFFFFF:
			return Uint64(v), nil
		case v > 0xFFFF:
			return Uint32(v), nil
		default:
			return Uint16(v), nil
		}
	case IntTypeUint16:
		if v < 0 || v > 0xFFFF {
			return nil, newValueError("%d does not fit in uint16", v)
		}
		return Uint16(v), nil
	case IntTypeUint32:
		if v < 0 || v > 0xFFFFFFFF {
			return nil, newValueError("%d does not fit in uint32", v)
		}
		return Uint32(v), nil
	case IntTypeUint64:
		if v < 0 {
			return nil, newValueError("%d does not fit in uint64", v)
		}
		return Uint64(v), nil
	case IntTypeUint128:
		if v < 0 {
			return nil, newValueError("%d does not fit in uint128", v)
		}
		return NewUint128(big.NewInt(v)), nil
	case IntTypeInt32:
		if v < -(1<<31) || v > (1<<31-1) {
			return nil, newValueError("%d does not fit in int32", v)
		}
		return Int32(v), nil
	default:
		return nil, newValueError("unknown int type %q", intType)
	}
}

func uintToDataType(v uint64, intType IntType) (DataType, error) {
	switch intType {
	case "", IntTypeAuto:
		switch {
		case v > 0xFFFFFFFF:
			return Uint64(v), nil
		case v > 0xFFFF:
			return Uint32(v), nil
		default:
			return Uint16(v), nil
		}
	default:
		return intToDataType(int64(v), intType)
	}
}
