package mmdbwriter

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDataTypeAutoIntLadder(t *testing.T) {
	dt, err := toDataType(5, IntTypeAuto, FloatTypeF64)
	require.NoError(t, err)
	assert.Equal(t, Uint16(5), dt)

	dt, err = toDataType(70000, IntTypeAuto, FloatTypeF64)
	require.NoError(t, err)
	assert.Equal(t, Uint32(70000), dt)

	dt, err = toDataType(int64(1)<<40, IntTypeAuto, FloatTypeF64)
	require.NoError(t, err)
	assert.Equal(t, Uint64(1<<40), dt)

	dt, err = toDataType(-5, IntTypeAuto, FloatTypeF64)
	require.NoError(t, err)
	assert.Equal(t, Int32(-5), dt)
}

func TestToDataTypeFixedIntTypeRejectsOverflow(t *testing.T) {
	_, err := toDataType(70000, IntTypeUint16, FloatTypeF64)
	require.Error(t, err)
	assert.IsType(t, &ValueError{}, err)

	dt, err := toDataType(70000, IntTypeUint32, FloatTypeF64)
	require.NoError(t, err)
	assert.Equal(t, Uint32(70000), dt)
}

func TestToDataTypeUint128Policy(t *testing.T) {
	dt, err := toDataType(5, IntTypeUint128, FloatTypeF64)
	require.NoError(t, err)
	u128, ok := dt.(Uint128)
	require.True(t, ok)
	assert.Equal(t, 0, u128.Cmp(big.NewInt(5)))
}

func TestToDataTypeFloatPolicy(t *testing.T) {
	dt, err := toDataType(1.5, IntTypeAuto, FloatTypeF32)
	require.NoError(t, err)
	assert.Equal(t, Float32(1.5), dt)

	dt, err = toDataType(1.5, IntTypeAuto, FloatTypeF64)
	require.NoError(t, err)
	assert.Equal(t, Float64(1.5), dt)
}

func TestToDataTypeNestedMapAndSlice(t *testing.T) {
	in := map[string]interface{}{
		"a": []interface{}{"x", 1, true},
	}
	dt, err := toDataType(in, IntTypeAuto, FloatTypeF64)
	require.NoError(t, err)

	m, ok := dt.(Map)
	require.True(t, ok)
	s, ok := m["a"].(Slice)
	require.True(t, ok)
	require.Len(t, s, 3)
	assert.Equal(t, String("x"), s[0])
	assert.Equal(t, Uint16(1), s[1])
	assert.Equal(t, Bool(true), s[2])
}

func TestToDataTypeRejectsNilAndUnsupported(t *testing.T) {
	_, err := toDataType(nil, IntTypeAuto, FloatTypeF64)
	require.Error(t, err)
	assert.IsType(t, &ValueError{}, err)

	_, err = toDataType(struct{}{}, IntTypeAuto, FloatTypeF64)
	require.Error(t, err)
	assert.IsType(t, &ValueError{}, err)
}

func TestToDataTypePassesThroughDataType(t *testing.T) {
	dt, err := toDataType(String("already typed"), IntTypeAuto, FloatTypeF64)
	require.NoError(t, err)
	assert.Equal(t, String("already typed"), dt)
}
