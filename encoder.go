package mmdbwriter

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/pkg/errors"
)

// maxControlLength is the largest length the header's length-extension
// bytes can address; lengths at or beyond this are a CapacityError.
const maxControlLength = 16843036

// cacheEntry records where a previously-encoded value's pointer lives in
// the data buffer, so a repeat occurrence of the same content can be
// resolved to the same pointer without re-walking the structure.
type cacheEntry struct {
	pointerBytes []byte
	// pointerLocation is the byte offset, within the data buffer, at which
	// pointerBytes begins.
	pointerLocation int
}

// encoder serializes DataType values into the MMDB type-tagged byte stream
// and deduplicates repeats.
//
// The dedup cache is keyed by the raw encoded bytes of a value rather than
// by Go pointer identity. The spec allows this as a valid strengthening of
// the identity-keyed cache the original implementation uses ("a systems
// implementation may additionally key by a structural hash of the encoded
// bytes to collapse semantically-equal values"): two distinct Map or Slice
// objects with identical contents collapse to a single data-section entry,
// in addition to the supernet-shared leaves that already share Go pointers.
type encoder struct {
	cache     map[string]cacheEntry
	data      []byte
	intType   IntType
	floatType FloatType

	// noPointers forces every value, including nested map/slice entries, to
	// be written inline via rawEncode instead of being cached and
	// pointer-wrapped. The metadata section has no pointer addressing space
	// of its own, so encodeMetadata always sets this.
	noPointers bool
}

func newEncoder(intType IntType, floatType FloatType) *encoder {
	return &encoder{
		cache:     map[string]cacheEntry{},
		intType:   intType,
		floatType: floatType,
	}
}

// encodeChild encodes a map entry's key or value, or a slice element: under
// normal operation, through the pointer-caching encode; under noPointers,
// by appending its raw bytes directly, with no cache lookup and no pointer
// wrapping.
func (e *encoder) encodeChild(value DataType) ([]byte, error) {
	if e.noPointers {
		return e.rawEncode(value)
	}
	b, _, err := e.encode(value)
	return b, err
}

// encode appends value's encoding to the data buffer (unless an identical
// value has already been encoded) and returns the bytes that refer to it:
// a pointer encoding, in every case, per the MaxMind cache convention of
// writing [value bytes][pointer-to-value bytes] and always handing callers
// the pointer. It also returns the byte offset, within the data buffer, at
// which the returned pointer bytes begin.
func (e *encoder) encode(value DataType) ([]byte, int, error) {
	raw, err := e.rawEncode(value)
	if err != nil {
		return nil, 0, err
	}

	key := string(raw)
	if entry, ok := e.cache[key]; ok {
		return entry.pointerBytes, entry.pointerLocation, nil
	}

	valueOffset := len(e.data)
	e.data = append(e.data, raw...)

	pointerLocation := len(e.data)
	pointerBytes, err := e.encodePointerValue(valueOffset)
	if err != nil {
		return nil, 0, err
	}
	e.data = append(e.data, pointerBytes...)

	e.cache[key] = cacheEntry{pointerBytes: pointerBytes, pointerLocation: pointerLocation}
	return pointerBytes, pointerLocation, nil
}

// rawEncode produces the type+header+payload bytes for value, with no
// caching of value itself. Map and Slice elements are encoded through
// encodeChild, which normally routes through encode (so nested repeats are
// deduplicated too) rather than calling rawEncode on them directly.
func (e *encoder) rawEncode(value DataType) ([]byte, error) {
	switch v := value.(type) {
	case untypedValue:
		resolved, err := toDataType(v.raw, v.intType, v.floatType)
		if err != nil {
			return nil, err
		}
		return e.rawEncode(resolved)
	case Map:
		return e.encodeMap(v)
	case Slice:
		return e.encodeSlice(v)
	case String:
		return e.encodeHeaderAndPayload(typeString, []byte(v))
	case Bytes:
		return e.encodeHeaderAndPayload(typeBytes, []byte(v))
	case Bool:
		return e.encodeBool(v)
	case Float32:
		return e.encodeFloat32(v)
	case Float64:
		return e.encodeFloat64(v)
	case Int32:
		return e.encodeInt32(v)
	case Uint16:
		return e.encodeUint(typeUint16, uint64(v), 2)
	case Uint32:
		return e.encodeUint(typeUint32, uint64(v), 4)
	case Uint64:
		return e.encodeUint(typeUint64, uint64(v), 8)
	case Uint128:
		return e.encodeUint128(v)
	default:
		return nil, newValueError("unknown DataType %T", value)
	}
}

func (e *encoder) encodeMap(m Map) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Go map iteration order is randomized; sort for deterministic,
	// byte-identical output across serializations (spec's "Idempotent
	// metadata" property extends naturally to the whole file).
	sort.Strings(keys)

	header, err := e.makeHeader(typeMap, len(m))
	if err != nil {
		return nil, err
	}
	res := header
	for _, k := range keys {
		v := m[k]
		if v == nil {
			return nil, newValueError("map key %q has a nil value", k)
		}
		kb, err := e.encodeChild(String(k))
		if err != nil {
			return nil, err
		}
		vb, err := e.encodeChild(v)
		if err != nil {
			return nil, err
		}
		res = append(res, kb...)
		res = append(res, vb...)
	}
	return res, nil
}

func (e *encoder) encodeSlice(s Slice) ([]byte, error) {
	header, err := e.makeHeader(typeArray, len(s))
	if err != nil {
		return nil, err
	}
	res := header
	for i, el := range s {
		if el == nil {
			return nil, newValueError("array index %d has a nil value", i)
		}
		eb, err := e.encodeChild(el)
		if err != nil {
			return nil, err
		}
		res = append(res, eb...)
	}
	return res, nil
}

func (e *encoder) encodeHeaderAndPayload(t typeID, payload []byte) ([]byte, error) {
	header, err := e.makeHeader(t, len(payload))
	if err != nil {
		return nil, err
	}
	return append(header, payload...), nil
}

// encodeBool carries its value in the header's length field: length 1 for
// true, 0 for false. There is no payload. A generic "length implies a
// trailing payload of that size" path must never be applied here.
func (e *encoder) encodeBool(v Bool) ([]byte, error) {
	length := 0
	if v {
		length = 1
	}
	return e.makeHeader(typeBoolean, length)
}

func (e *encoder) encodeFloat32(v Float32) ([]byte, error) {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, math.Float32bits(float32(v)))
	return e.encodeHeaderAndPayload(typeFloat, payload)
}

func (e *encoder) encodeFloat64(v Float64) ([]byte, error) {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, math.Float64bits(float64(v)))
	return e.encodeHeaderAndPayload(typeDouble, payload)
}

func (e *encoder) encodeInt32(v Int32) ([]byte, error) {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(v))
	return e.encodeHeaderAndPayload(typeInt32, payload)
}

// encodeUint strips leading zero bytes from a big-endian encoding of v; the
// header carries the resulting (possibly zero) length. maxBytes bounds the
// declared width (2/4/8 for Uint16/32/64); a Go typed wrapper can never
// itself hold a value wider than that, so there is nothing to validate
// here beyond what the type system already guarantees.
func (e *encoder) encodeUint(t typeID, v uint64, maxBytes int) ([]byte, error) {
	full := make([]byte, 8)
	binary.BigEndian.PutUint64(full, v)
	payload := full[8-maxBytes:]
	// strip leading zero bytes
	i := 0
	for i < len(payload) && payload[i] == 0 {
		i++
	}
	return e.encodeHeaderAndPayload(t, payload[i:])
}

func (e *encoder) encodeUint128(v Uint128) ([]byte, error) {
	if v.Int == nil {
		return nil, newValueError("Uint128 has a nil value")
	}
	if v.Sign() < 0 {
		return nil, newValueError("Uint128 cannot be negative: %s", v.String())
	}
	if v.BitLen() > 128 {
		return nil, newValueError("Uint128 value %s does not fit in 128 bits", v.String())
	}
	return e.encodeHeaderAndPayload(typeUint128, v.Bytes())
}

// makeHeader writes the control byte (and, for type IDs >= 8, the second
// type byte) plus any length-extension bytes for length.
func (e *encoder) makeHeader(t typeID, length int) ([]byte, error) {
	if length >= maxControlLength {
		return nil, newCapacityError("encoded value length %d >= %d", length, maxControlLength)
	}

	var fiveBits int
	var extra []byte

	switch {
	case length < 29:
		fiveBits = length
	case length < 285:
		fiveBits = 29
		extra = []byte{byte(length - 29)}
	case length < 65821:
		fiveBits = 30
		n := length - 285
		extra = []byte{byte(n >> 8), byte(n)}
	default:
		fiveBits = 31
		n := length - 65821
		extra = []byte{byte(n >> 16), byte(n >> 8), byte(n)}
	}

	var header []byte
	if t <= 7 {
		header = []byte{byte((int(t) << 5) | fiveBits)}
	} else {
		header = []byte{byte(fiveBits), byte(int(t) - 7)}
	}
	return append(header, extra...), nil
}

// encodePointerValue encodes the absolute data-section byte offset p as a
// POINTER value, choosing among the format's four size classes.
func (e *encoder) encodePointerValue(p int) ([]byte, error) {
	switch {
	case p < 2048:
		return []byte{
			0x20 | byte((p>>8)&0x07),
			byte(p),
		}, nil
	case p < 526336:
		p -= 2048
		return []byte{
			0x28 | byte((p>>16)&0x07),
			byte(p >> 8),
			byte(p),
		}, nil
	case p < 134744064:
		p -= 526336
		return []byte{
			0x30 | byte((p>>24)&0x07),
			byte(p >> 16),
			byte(p >> 8),
			byte(p),
		}, nil
	default:
		if p > math.MaxUint32 {
			return nil, newCapacityError("pointer target %d exceeds 32 bits", p)
		}
		return []byte{
			0x38,
			byte(p >> 24),
			byte(p >> 16),
			byte(p >> 8),
			byte(p),
		}, nil
	}
}

// metadataTypeOverride names the forced width for metadata keys whose type
// is not left to automatic selection.
var metadataTypeOverride = map[string]typeID{
	"node_count":                  typeUint32,
	"record_size":                 typeUint16,
	"ip_version":                  typeUint16,
	"binary_format_major_version": typeUint16,
	"binary_format_minor_version": typeUint16,
	"build_epoch":                 typeUint64,
}

// encodeMetadata encodes the tail metadata map with a fresh encoder that
// has noPointers set: the metadata section has no data-section offsets of
// its own for pointers to address, so every value, including keys and
// elements nested inside description/languages, is written inline exactly
// once via rawEncode rather than through the dedup/pointer cache.
func encodeMetadata(meta Map) ([]byte, error) {
	enc := newEncoder(IntTypeAuto, FloatTypeF64)
	enc.noPointers = true

	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	header, err := enc.makeHeader(typeMap, len(meta))
	if err != nil {
		return nil, err
	}
	res := header
	for _, k := range keys {
		v := meta[k]
		if override, ok := metadataTypeOverride[k]; ok {
			v, err = coerceTo(v, override)
			if err != nil {
				return nil, errors.Wrapf(err, "metadata key %q", k)
			}
		}
		kb, err := enc.rawEncode(String(k))
		if err != nil {
			return nil, err
		}
		vb, err := enc.rawEncode(v)
		if err != nil {
			return nil, err
		}
		res = append(res, kb...)
		res = append(res, vb...)
	}
	return res, nil
}

// coerceTo converts v, which is expected to already be numeric, to the
// DataType matching the forced typeID used by encodeMetadata.
func coerceTo(v DataType, t typeID) (DataType, error) {
	var n uint64
	switch val := v.(type) {
	case Uint16:
		n = uint64(val)
	case Uint32:
		n = uint64(val)
	case Uint64:
		n = uint64(val)
	case Int32:
		n = uint64(val)
	default:
		return nil, newValueError("cannot coerce %T to metadata type", v)
	}
	switch t {
	case typeUint16:
		return Uint16(n), nil
	case typeUint32:
		return Uint32(n), nil
	case typeUint64:
		return Uint64(n), nil
	default:
		return nil, newValueError("unsupported metadata override type %d", t)
	}
}
