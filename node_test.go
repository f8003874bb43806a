package mmdbwriter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bitsFromString(s string) []int {
	bits := make([]int, len(s))
	for i, c := range s {
		if c == '1' {
			bits[i] = 1
		}
	}
	return bits
}

func TestInsertPlainTrie(t *testing.T) {
	root := &node{}
	v1 := DataType(String("a"))
	root.insert(bitsFromString("101"), v1)

	depth, got := root.get(bitsFromString("101111"))
	require.NotNil(t, got)
	assert.Equal(t, 3, depth)
	assert.Equal(t, v1, *got)
}

func TestInsertSupernetThenSubnet(t *testing.T) {
	root := &node{}
	big := DataType(String("big"))
	small := DataType(String("small"))

	root.insert(bitsFromString("10"), big)
	root.insert(bitsFromString("1011"), small)

	// Addresses under the /2 but not under the /4 still see "big", found at
	// the sibling slots the /4 insertion copied it into (depths 3 and 4).
	depth, got := root.get(bitsFromString("100000"))
	require.NotNil(t, got)
	assert.Equal(t, 3, depth)
	assert.Equal(t, big, *got)

	depth, got = root.get(bitsFromString("101000"))
	require.NotNil(t, got)
	assert.Equal(t, 4, depth)
	assert.Equal(t, big, *got)

	// The address under the /4 sees "small".
	depth, got = root.get(bitsFromString("101111"))
	require.NotNil(t, got)
	assert.Equal(t, 4, depth)
	assert.Equal(t, small, *got)
}

func TestInsertSubnetThenSupernet(t *testing.T) {
	root := &node{}
	small := DataType(String("small"))
	big := DataType(String("big"))

	root.insert(bitsFromString("1011"), small)
	root.insert(bitsFromString("10"), big)

	// Last write wins for the exact /2 prefix, but the narrower /4 leaf
	// reachable via the other bit of that slot must be untouched.
	depth, got := root.get(bitsFromString("100000"))
	require.NotNil(t, got)
	assert.Equal(t, 2, depth)
	assert.Equal(t, big, *got)

	depth, got = root.get(bitsFromString("101111"))
	require.NotNil(t, got)
	assert.Equal(t, 4, depth)
	assert.Equal(t, small, *got)
}

func TestInsertOverwriteExactPrefix(t *testing.T) {
	root := &node{}
	first := DataType(String("first"))
	second := DataType(String("second"))

	root.insert(bitsFromString("101"), first)
	root.insert(bitsFromString("101"), second)

	depth, got := root.get(bitsFromString("101000"))
	require.NotNil(t, got)
	assert.Equal(t, 3, depth)
	assert.Equal(t, second, *got)
}

func TestFinalizeAssignsSequentialIndices(t *testing.T) {
	root := &node{}
	root.insert(bitsFromString("00"), DataType(String("a")))
	root.insert(bitsFromString("01"), DataType(String("b")))
	root.insert(bitsFromString("10"), DataType(String("c")))

	count := root.finalize(0)
	assert.Equal(t, 0, root.nodeNum)
	assert.True(t, count >= 1)
}
