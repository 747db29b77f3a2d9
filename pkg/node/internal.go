package node

import "pagetree/pkg/page"

// Internal node entries hold only a separator key — no value header — since
// the associated child pointer lives in the fixed child-pointer zone rather
// than inline with the key (spec §4.5, and this package's child-pointer-zone
// simplification documented in node.go). A node with NumKeys() separator
// keys always has NumKeys()+1 children.

func internalEntrySize(keyLen int) int {
	return encodedKeyHeaderLen(keyLen) + keyLen
}

// InternalFits reports whether a new separator key can be inserted without
// a split: there must be room in whichever entry segment it would land in,
// and a free slot left in the reserved search-vector zone.
func (n *Node) InternalFits(keyLen int) bool {
	return internalEntrySize(keyLen) <= n.FreeBytes() && n.NumKeys() < n.maxEntries
}

// InsertInternalEntry inserts a new separator key at 0-based slot pos and
// places child as the child pointer immediately to its right (slot pos+1
// in the child zone); the child at pos stays where it is, and the existing
// child at pos+1 (and everything after it) shifts right by one (spec §4.5 "promote the separator").
func (n *Node) InsertInternalEntry(pos int, key []byte, child page.ID) error {
	if err := checkKeyLen(len(key), n.maxKeySize); err != nil {
		return err
	}
	size := internalEntrySize(len(key))
	off := n.allocEntry(size, preferLeftFor(pos, n.NumKeys()))
	encodeKey(n.buf[off:off], key)

	n.insertVectorSlot(pos, off)
	n.shiftChildrenRight(pos + 1)
	n.SetChildAt(pos+1, child)
	return nil
}

// ReplaceKeyAt overwrites the separator key at 0-based slot pos with key,
// leaving both adjacent child pointers untouched. Used when redistributing
// entries across a leaf boundary shifts which key now separates the two
// leaves' parent pointers (spec §4.6).
func (n *Node) ReplaceKeyAt(pos int, key []byte) error {
	if err := checkKeyLen(len(key), n.maxKeySize); err != nil {
		return err
	}
	off := n.entryOffset(pos)
	oldLen, oldHdr := decodeKeyLen(n.buf, off)

	size := internalEntrySize(len(key))
	newOff := n.allocEntry(size, preferLeftFor(pos, n.NumKeys()))
	encodeKey(n.buf[newOff:newOff], key)
	n.setEntryOffset(pos, newOff)
	n.setGarbage(n.garbage() + oldHdr + oldLen)
	return nil
}

// DeleteInternalEntry removes the separator key at 0-based slot pos along
// with the child pointer to its right (slot pos+1), used when a child
// subtree has been merged away during rebalancing (spec §4.6/§4.8).
func (n *Node) DeleteInternalEntry(pos int) {
	off := n.entryOffset(pos)
	klen, khdr := decodeKeyLen(n.buf, off)
	n.shiftChildrenLeft(pos + 1)
	n.removeVectorSlot(pos)
	n.setGarbage(n.garbage() + khdr + klen)
}

// ChildSlot returns the 0-based child-array index the given search result
// position (as returned by binarySearch) should descend into: for an
// internal node, a search that lands exactly on separator key i means the
// caller descends into the child to its right (child i+1), matching the
// convention that separator keys are inclusive lower bounds of their right
// subtree.
func ChildSlot(pos int) int {
	if pos >= 0 {
		return pos/2 + 1
	}
	return ^pos / 2
}

// CompactInternal reclaims garbage in an internal node's key segment,
// analogous to Compact but without value bytes.
func (n *Node) CompactInternal() {
	count := n.NumKeys()
	keys := make([][]byte, count)
	for i := 0; i < count; i++ {
		keys[i] = append([]byte(nil), n.KeyAt(i)...)
	}
	rt := n.pageSize
	for i := count - 1; i >= 0; i-- {
		size := encodedKeyHeaderLen(len(keys[i])) + len(keys[i])
		rt -= size
		encodeKey(n.buf[rt:rt], keys[i])
		n.setEntryOffset(i, rt)
	}
	n.setRightTail(rt)
	n.setLeftTail(n.entryZoneStart())
	n.setGarbage(0)
}
