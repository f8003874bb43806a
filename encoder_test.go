package mmdbwriter

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeHeaderLengthClasses(t *testing.T) {
	enc := newEncoder(IntTypeAuto, FloatTypeF64)

	h, err := enc.makeHeader(typeString, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(typeString)<<5 | 5}, h)

	h, err = enc.makeHeader(typeString, 29)
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(typeString)<<5 | 29, 0}, h)

	h, err = enc.makeHeader(typeString, 285)
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(typeString)<<5 | 30, 0, 0}, h)

	h, err = enc.makeHeader(typeString, 65821)
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(typeString)<<5 | 31, 0, 0, 0}, h)

	_, err = enc.makeHeader(typeString, 16843036)
	require.Error(t, err)
	assert.IsType(t, &CapacityError{}, err)
}

func TestMakeHeaderExtendedTypeID(t *testing.T) {
	enc := newEncoder(IntTypeAuto, FloatTypeF64)
	h, err := enc.makeHeader(typeInt32, 4)
	require.NoError(t, err)
	// type_id > 7: control byte top 3 bits are 0, second byte is type-7.
	assert.Equal(t, []byte{4, byte(typeInt32 - 7)}, h)
}

func TestEncodePointerValueSizeClasses(t *testing.T) {
	enc := newEncoder(IntTypeAuto, FloatTypeF64)

	b, err := enc.encodePointerValue(0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x20, 0x00}, b)

	b, err = enc.encodePointerValue(2047)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x27, 0xFF}, b)

	b, err = enc.encodePointerValue(2048)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x28, 0x00, 0x00}, b)

	b, err = enc.encodePointerValue(526335)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x2F, 0xFF, 0xFF}, b)

	b, err = enc.encodePointerValue(526336)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x30, 0x00, 0x00, 0x00}, b)

	b, err = enc.encodePointerValue(134744063)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x37, 0xFF, 0xFF, 0xFF}, b)

	b, err = enc.encodePointerValue(134744064)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x38, 0x08, 0x08, 0x08, 0x00}, b)
}

func TestEncodeBoolHasNoPayload(t *testing.T) {
	enc := newEncoder(IntTypeAuto, FloatTypeF64)

	// type_id 14 > 7: the control byte carries only the length (1 or 0) and
	// the second byte is 14-7=7; no payload follows.
	raw, err := enc.rawEncode(Bool(true))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, byte(typeBoolean - 7)}, raw)

	raw, err = enc.rawEncode(Bool(false))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, byte(typeBoolean - 7)}, raw)
}

func TestEncodeUintStripsLeadingZeros(t *testing.T) {
	enc := newEncoder(IntTypeAuto, FloatTypeF64)

	raw, err := enc.rawEncode(Uint32(0))
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(typeUint32) << 5}, raw) // length 0, no payload

	raw, err = enc.rawEncode(Uint32(1))
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(typeUint32)<<5 | 1, 1}, raw)

	raw, err = enc.rawEncode(Uint32(0x0100))
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(typeUint32)<<5 | 2, 0x01, 0x00}, raw)
}

func TestEncodeUint128(t *testing.T) {
	enc := newEncoder(IntTypeAuto, FloatTypeF64)

	raw, err := enc.rawEncode(NewUint128(big.NewInt(300)))
	require.NoError(t, err)
	// type_id 10 > 7: control byte top 3 bits are 0, second byte is 10-7=3;
	// payload is 300 = 0x012C with the leading zero byte stripped, so
	// length 2.
	assert.Equal(t, []byte{2, 3, 0x01, 0x2C}, raw)

	_, err = enc.rawEncode(Uint128{Int: big.NewInt(-1)})
	require.Error(t, err)
	assert.IsType(t, &ValueError{}, err)

	tooBig := new(big.Int).Lsh(big.NewInt(1), 129)
	_, err = enc.rawEncode(NewUint128(tooBig))
	require.Error(t, err)
}

func TestEncodeDedupByStructuralEquality(t *testing.T) {
	enc := newEncoder(IntTypeAuto, FloatTypeF64)

	first, firstLoc, err := enc.encode(String("hello"))
	require.NoError(t, err)
	dataLenAfterFirst := len(enc.data)

	second, secondLoc, err := enc.encode(String("hello"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstLoc, secondLoc)

	// Neither the second nor a further encode may grow the buffer.
	_, _, err = enc.encode(String("hello"))
	require.NoError(t, err)
	assert.Equal(t, dataLenAfterFirst, len(enc.data))
}

func TestEncodeMetadataForcesTypes(t *testing.T) {
	meta := Map{
		"node_count":                  Uint32(10),
		"record_size":                 Uint16(24),
		"ip_version":                  Uint16(6),
		"binary_format_major_version": Uint16(2),
		"binary_format_minor_version": Uint16(0),
		"build_epoch":                 Uint64(123),
		"database_type":               String("Test"),
		"description":                 Map{"en": String("d")},
		"languages":                   Slice{String("en")},
	}
	b, err := encodeMetadata(meta)
	require.NoError(t, err)
	assert.NotEmpty(t, b)
	// Top byte must be a MAP header with 9 entries.
	assert.Equal(t, byte(typeMap)<<5|9, b[0])
}
