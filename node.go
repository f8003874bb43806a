package mmdbwriter

import "log"

// node is a single binary-trie node. A child slot is nil (empty), a *node
// with value == nil (an internal node), or a *node with value != nil (a
// leaf). Using one struct for both roles, distinguished by whether value is
// set, gives the tagged-union-by-discriminant child slot the design calls
// for without a separate leaf type: the slot just holds a *node, and a leaf
// can be shared by pointer across multiple slots when a broader prefix's
// coverage is propagated around a newly inserted, more specific prefix.
type node struct {
	children [2]*node
	value    *DataType
	// nodeNum is assigned during finalize and is only meaningful for
	// internal nodes.
	nodeNum int
}

func (n *node) isLeaf() bool {
	return n.value != nil
}

// insert walks bits (the top prefixLen bits of an address, MSB first,
// already extracted by the caller) and installs value at the leaf reached
// by following them from the root.
//
// The supernet-preservation rule: when descending through a node slot that
// currently holds a leaf (i.e. we are inserting a more specific prefix
// underneath a broader one already recorded), that leaf is remembered as
// supernetLeaf and, starting on the very next step and for every step after
// that until the new leaf is placed, is copied onto the sibling slot (the
// bit not taken by the new, deeper prefix) unconditionally. This matches
// the original implementation's behavior exactly, including overwriting
// whatever (possibly non-empty) subtree already occupied that sibling slot;
// see DESIGN.md's Open Questions section.
func (n *node) insert(bits []int, value DataType) {
	current := n
	var supernetLeaf *node

	for i := 0; i < len(bits)-1; i++ {
		bit := bits[i]
		child := current.children[bit]

		switch {
		case child == nil:
			child = &node{}
			current.children[bit] = child
		case child.isLeaf():
			log.Printf(
				"mmdbwriter: inserting %v into subnet of existing leaf %v at depth %d",
				value, *child.value, i+1,
			)
			supernetLeaf = child
			child = &node{}
			current.children[bit] = child
		}

		current = child

		if supernetLeaf != nil {
			nextBit := bits[i+1]
			current.children[1-nextBit] = supernetLeaf
		}
	}

	v := value
	current.children[bits[len(bits)-1]] = &node{value: &v}
}

// get performs a longest-prefix-match lookup, returning the matched prefix
// length and the record, or (0, nil) if no prefix along the path carries a
// record. It exists for test instrumentation of the trie independent of
// file serialization; it is not part of the MMDB file contract.
func (n *node) get(addr []int) (int, *DataType) {
	current := n
	var lastValue *DataType
	lastDepth := 0

	for depth, bit := range addr {
		if current == nil {
			break
		}
		if current.isLeaf() {
			lastValue = current.value
			lastDepth = depth
		}
		current = current.children[bit]
	}
	if current != nil && current.isLeaf() {
		lastValue = current.value
		lastDepth = len(addr)
	}

	return lastDepth, lastValue
}

// finalize assigns a sequential, DFS (left-before-right), 0-based index to
// every distinct internal node reachable from n, and returns the total
// count. It must be called immediately before writing node records, since
// writeNode emits them in the very same pre-order, left-before-right walk,
// so that the record written at position i belongs to the node numbered i.
func (n *node) finalize(next int) int {
	if n.isLeaf() {
		return next
	}
	n.nodeNum = next
	next++

	for _, bit := range [2]int{0, 1} {
		child := n.children[bit]
		if child == nil || child.isLeaf() {
			continue
		}
		next = child.finalize(next)
	}
	return next
}
