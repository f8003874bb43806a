// Package mmdbwriter provides the tools to create and write MaxMind DB
// files: a read-optimized, immutable on-disk structure mapping IP address
// prefixes to arbitrary typed records.
package mmdbwriter

import (
	"bufio"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go4.org/netipx"
)

var (
	metadataStartMarker  = []byte("\xAB\xCD\xEFMaxMind.com")
	dataSectionSeparator = []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
)

// Tree represents a MaxMind DB search tree together with the metadata
// configuration that will be written alongside it.
type Tree struct {
	buildEpoch      int64
	databaseType    string
	description     map[string]string
	ipVersion       int
	ipv4Compatible  bool
	languages       []string
	intType         IntType
	floatType       FloatType
	fixedRecordSize int
	root            *node

	// recordSize and nodeCount are only valid once Finalize has been
	// called; Insert resets nodeCount to 0 to force re-finalization.
	recordSize int
	nodeCount  int
}

// New creates a new Tree from the given Options.
func New(opts Options) (*Tree, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	description, err := normalizeDescription(opts.Description, opts.Languages)
	if err != nil {
		return nil, err
	}

	t := &Tree{
		buildEpoch:      time.Now().Unix(),
		databaseType:    opts.DatabaseType,
		description:     description,
		ipVersion:       6,
		ipv4Compatible:  opts.IPv4Compatible,
		languages:       opts.Languages,
		intType:         opts.IntType,
		floatType:       opts.FloatType,
		fixedRecordSize: opts.RecordSize,
		root:            &node{},
	}

	if opts.BuildEpoch != 0 {
		t.buildEpoch = opts.BuildEpoch
	}
	if opts.IPVersion != 0 {
		t.ipVersion = opts.IPVersion
	}

	return t, nil
}

// InsertNetwork inserts value as the record for every address in prefix.
// Subsequent reads of any address under prefix resolve to value; reads of
// addresses not under prefix are unaffected.
func (t *Tree) InsertNetwork(prefix netip.Prefix, value DataType) error {
	if !prefix.IsValid() {
		return newPrefixError("invalid prefix")
	}
	t.nodeCount = 0

	bits, err := t.prefixBits(prefix)
	if err != nil {
		return err
	}
	if len(bits) == 0 {
		return newPrefixError("cannot insert a value into the root of the tree")
	}

	t.root.insert(bits, value)
	return nil
}

// InsertValue is a convenience wrapper around InsertNetwork that accepts a
// bare Go value (string, []byte, bool, float64, int, map[string]any,
// []any, ...) instead of a DataType, converting it using the Tree's
// configured IntType/FloatType policy. This mirrors the original writer's
// support for inserting bare Python literals directly.
//
// Conversion, including the width/range validation that comes with it, is
// deferred until the tree is serialized: InsertValue itself only fails on
// a bad prefix, never on a value that doesn't fit its configured type. A
// caller that inserted a bad value can fix it with another InsertValue
// call and retry WriteTo/WriteToFile, matching the original writer's
// insert/to_db_file split.
func (t *Tree) InsertValue(prefix netip.Prefix, value interface{}) error {
	return t.InsertNetwork(prefix, untypedValue{
		raw:       value,
		intType:   t.intType,
		floatType: t.floatType,
	})
}

// InsertSet inserts value as the record for every address in set, which is
// first decomposed into disjoint CIDRs in canonical order by netipx. This
// is the Go analogue of the original writer's netaddr.IPSet parameter.
func (t *Tree) InsertSet(set *netipx.IPSet, value DataType) error {
	if set == nil {
		return newPrefixError("nil IPSet")
	}
	for _, prefix := range set.Prefixes() {
		if err := t.InsertNetwork(prefix, value); err != nil {
			return err
		}
	}
	return nil
}

// prefixBits validates prefix against the tree's IP version and returns its
// bits, MSB first, mapping IPv4 prefixes into the ::ffff:0:0/96 space when
// IPv4Compatible is set on a v6 tree.
func (t *Tree) prefixBits(prefix netip.Prefix) ([]int, error) {
	addr := prefix.Addr()
	bitLen := prefix.Bits()
	isV4 := addr.Is4() || addr.Is4In6()

	switch t.ipVersion {
	case 4:
		if !isV4 {
			return nil, newPrefixError("cannot insert IPv6 prefix %s into an IPv4-only tree", prefix)
		}
		a4 := addr.Unmap().As4()
		return bitsOf(a4[:], bitLen), nil
	case 6:
		if isV4 {
			if !t.ipv4Compatible {
				return nil, newPrefixError(
					"cannot insert IPv4 prefix %s into an IPv6 tree without IPv4Compatible",
					prefix,
				)
			}
			bitLen += 96
		}
		a16 := addr.As16()
		return bitsOf(a16[:], bitLen), nil
	default:
		return nil, newConfigError("unsupported IPVersion: %d", t.ipVersion)
	}
}

// bitsOf returns the top n bits of addr (a big-endian byte slice), MSB
// first, as 0/1 ints.
func bitsOf(addr []byte, n int) []int {
	bits := make([]int, n)
	for i := 0; i < n; i++ {
		byteIdx := i / 8
		bitIdx := 7 - uint(i%8)
		bits[i] = int((addr[byteIdx] >> bitIdx) & 1)
	}
	return bits
}

// Get performs a longest-prefix-match lookup against the trie. It is test
// instrumentation, not part of the serialized file's contract.
func (t *Tree) Get(addr netip.Addr) (netip.Prefix, DataType) {
	bitLen := 128
	lookup := addr
	if t.ipVersion == 6 {
		if addr.Is4() {
			lookup = netip.AddrFrom16(addr.As16())
		}
	} else {
		bitLen = 32
	}

	var addrBytes []byte
	if bitLen == 32 {
		a4 := lookup.As4()
		addrBytes = a4[:]
	} else {
		a16 := lookup.As16()
		addrBytes = a16[:]
	}

	depth, value := t.root.get(bitsOf(addrBytes, bitLen))
	if value == nil {
		return netip.Prefix{}, nil
	}

	prefix := netip.PrefixFrom(addr, depth)
	if t.ipVersion == 6 && addr.Is4() && depth >= 96 {
		prefix = netip.PrefixFrom(addr, depth-96)
	}
	return prefix, *value
}

// Finalize prepares the tree for writing by assigning node indices. It is
// not safe to call concurrently with Insert*.
func (t *Tree) Finalize() {
	t.nodeCount = t.root.finalize(0)
}

// WriteTo writes the finalized tree to w, returning the number of bytes
// written.
func (t *Tree) WriteTo(w io.Writer) (int64, error) {
	if t.nodeCount == 0 {
		return 0, errors.New("the Tree is not finalized; run Finalize() before writing")
	}

	buf := bufio.NewWriter(w)
	enc := newEncoder(t.intType, t.floatType)
	leafOffset := map[*node]int{}

	// Phase 1+2: walk once to populate leaf offsets and pick the record
	// size, without writing anything yet, since the record size depends on
	// the total data length and node records must be packed at that width.
	if err := t.encodeLeaves(t.root, enc, leafOffset); err != nil {
		return 0, err
	}
	if err := t.pickRecordSize(len(enc.data)); err != nil {
		return 0, err
	}

	recordBuf := make([]byte, 2*t.recordSize/8)

	numBytes := int64(0)
	nodesWritten, nb, err := t.writeNode(buf, t.root, leafOffset, recordBuf)
	numBytes += nb
	if err != nil {
		_ = buf.Flush()
		return numBytes, err
	}
	if nodesWritten != t.nodeCount {
		_ = buf.Flush()
		return numBytes, errors.Errorf(
			"number of nodes written (%d) doesn't match number expected (%d)",
			nodesWritten, t.nodeCount,
		)
	}

	n, err := buf.Write(dataSectionSeparator)
	numBytes += int64(n)
	if err != nil {
		_ = buf.Flush()
		return numBytes, newIOError(err, "error writing data section separator")
	}

	n, err = buf.Write(enc.data)
	numBytes += int64(n)
	if err != nil {
		_ = buf.Flush()
		return numBytes, newIOError(err, "error writing data section")
	}

	n, err = buf.Write(metadataStartMarker)
	numBytes += int64(n)
	if err != nil {
		_ = buf.Flush()
		return numBytes, newIOError(err, "error writing metadata start marker")
	}

	metaBytes, err := encodeMetadata(t.buildMeta())
	if err != nil {
		_ = buf.Flush()
		return numBytes, errors.Wrap(err, "error encoding metadata")
	}
	n, err = buf.Write(metaBytes)
	numBytes += int64(n)
	if err != nil {
		_ = buf.Flush()
		return numBytes, newIOError(err, "error writing metadata")
	}

	if err := buf.Flush(); err != nil {
		return numBytes, newIOError(err, "error flushing buffer to writer")
	}
	return numBytes, nil
}

// WriteToFile materializes the tree at path. It writes to a temporary file
// in the same directory first and renames it into place, so that a failure
// partway through never leaves a truncated file at path. On failure the
// temporary file is removed; path itself is only ever touched on success.
func (t *Tree) WriteToFile(path string) error {
	if t.nodeCount == 0 {
		t.Finalize()
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return newIOError(err, "error creating temporary file")
	}
	tmpPath := tmp.Name()

	_, writeErr := t.WriteTo(tmp)
	closeErr := tmp.Close()
	if writeErr != nil {
		_ = os.Remove(tmpPath)
		return writeErr
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return newIOError(closeErr, "error closing temporary file")
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return newIOError(err, "error renaming temporary file into place")
	}
	return nil
}

// ToDBFile is an alias for WriteToFile, named after the operation in the
// caller-facing surface this package's spec describes.
func (t *Tree) ToDBFile(path string) error {
	return t.WriteToFile(path)
}

// encodeLeaves performs the single DFS that encodes every distinct leaf
// value (left child before right, matching the node numbering walk so that
// data offsets are determined purely by insertion history, not map/hash
// iteration).
func (t *Tree) encodeLeaves(n *node, enc *encoder, leafOffset map[*node]int) error {
	if n.isLeaf() {
		if _, ok := leafOffset[n]; ok {
			return nil
		}
		_, pointerLocation, err := enc.encode(*n.value)
		if err != nil {
			return err
		}
		leafOffset[n] = pointerLocation + len(dataSectionSeparator)
		return nil
	}

	if n.children[0] != nil {
		if err := t.encodeLeaves(n.children[0], enc, leafOffset); err != nil {
			return err
		}
	}
	if n.children[1] != nil {
		if err := t.encodeLeaves(n.children[1], enc, leafOffset); err != nil {
			return err
		}
	}
	return nil
}

// pickRecordSize chooses the narrowest of {24,28,32} bits that can
// represent every child index in [0, node_count + data_section_length + 16).
func (t *Tree) pickRecordSize(dataLen int) error {
	if t.fixedRecordSize != 0 {
		t.recordSize = t.fixedRecordSize
	}

	maxID := t.nodeCount + dataLen + len(dataSectionSeparator) + 1

	size := 0
	for _, candidate := range []int{24, 28, 32} {
		if maxID <= (1 << candidate) {
			size = candidate
			break
		}
	}
	if size == 0 {
		return newCapacityError("record size would need to exceed 32 bits to address %d entries", maxID)
	}

	if t.fixedRecordSize != 0 {
		if t.fixedRecordSize < size {
			return newCapacityError(
				"fixed record size %d bits cannot address %d entries (needs %d bits)",
				t.fixedRecordSize, maxID, size,
			)
		}
		return nil
	}

	t.recordSize = size
	return nil
}

func (t *Tree) writeNode(
	w io.Writer,
	n *node,
	leafOffset map[*node]int,
	recordBuf []byte,
) (int, int64, error) {
	if n == nil || n.isLeaf() {
		return 0, 0, nil
	}

	if err := t.copyRecord(recordBuf, n.children, leafOffset); err != nil {
		return 0, 0, err
	}

	numBytes := int64(0)
	nb, err := w.Write(recordBuf)
	numBytes += int64(nb)
	nodesWritten := 1
	if err != nil {
		return nodesWritten, numBytes, newIOError(err, "error writing node")
	}

	leftNodes, leftBytes, err := t.writeNode(w, n.children[0], leafOffset, recordBuf)
	nodesWritten += leftNodes
	numBytes += leftBytes
	if err != nil {
		return nodesWritten, numBytes, err
	}

	rightNodes, rightBytes, err := t.writeNode(w, n.children[1], leafOffset, recordBuf)
	nodesWritten += rightNodes
	numBytes += rightBytes
	return nodesWritten, numBytes, err
}

func (t *Tree) recordValueForChild(child *node, leafOffset map[*node]int) int {
	if child == nil {
		return t.nodeCount
	}
	if child.isLeaf() {
		return t.nodeCount + leafOffset[child]
	}
	return child.nodeNum
}

func (t *Tree) copyRecord(buf []byte, children [2]*node, leafOffset map[*node]int) error {
	left := t.recordValueForChild(children[0], leafOffset)
	right := t.recordValueForChild(children[1], leafOffset)

	switch t.recordSize {
	case 24:
		buf[0] = byte(left >> 16)
		buf[1] = byte(left >> 8)
		buf[2] = byte(left)
		buf[3] = byte(right >> 16)
		buf[4] = byte(right >> 8)
		buf[5] = byte(right)
	case 28:
		buf[0] = byte(left >> 16)
		buf[1] = byte(left >> 8)
		buf[2] = byte(left)
		buf[3] = byte((((left >> 24) & 0xF) << 4) | ((right >> 24) & 0xF))
		buf[4] = byte(right >> 16)
		buf[5] = byte(right >> 8)
		buf[6] = byte(right)
	case 32:
		buf[0] = byte(left >> 24)
		buf[1] = byte(left >> 16)
		buf[2] = byte(left >> 8)
		buf[3] = byte(left)
		buf[4] = byte(right >> 24)
		buf[5] = byte(right >> 16)
		buf[6] = byte(right >> 8)
		buf[7] = byte(right)
	default:
		return errors.Errorf("unsupported record size of %d", t.recordSize)
	}
	return nil
}

func (t *Tree) buildMeta() Map {
	description := Map{}
	for k, v := range t.description {
		description[k] = String(v)
	}

	languages := make(Slice, len(t.languages))
	for i, v := range t.languages {
		languages[i] = String(v)
	}

	return Map{
		"binary_format_major_version": Uint16(binaryFormatMajorVersion),
		"binary_format_minor_version": Uint16(binaryFormatMinorVersion),
		"build_epoch":                 Uint64(t.buildEpoch),
		"database_type":               String(t.databaseType),
		"description":                 description,
		"ip_version":                  Uint16(t.ipVersion),
		"languages":                   languages,
		"node_count":                  Uint32(t.nodeCount),
		"record_size":                 Uint16(t.recordSize),
	}
}
