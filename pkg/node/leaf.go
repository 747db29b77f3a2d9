package node

import "pagetree/pkg/pgerr"

// leafEntrySize returns the number of bytes a leaf entry (key header + key +
// value header + value) of the given key/value lengths occupies, ignoring
// fragmentation (fragment reassembly is out of this package's scope; a
// "fragmented" value here just means a shorter stand-in header+payload is
// stored on-page while the remainder lives on pages this package doesn't
// manage).
func leafEntrySize(keyLen, valLen int) int {
	return encodedKeyHeaderLen(keyLen) + keyLen + encodedValueHeaderLen(valLen) + valLen
}

// Capacity reports how many additional bytes of raw entry data (as
// returned by leafEntrySize) this node could accept without a split.
func (n *Node) Capacity() int {
	return n.FreeBytes()
}

// Fits reports whether an entry of the given key/value lengths can be
// inserted without a split or compaction: there must be room in whichever
// entry segment it would land in, and a free slot left in the reserved
// search-vector zone.
func (n *Node) Fits(keyLen, valLen int) bool {
	return leafEntrySize(keyLen, valLen) <= n.FreeBytes() && n.NumKeys() < n.maxEntries
}

// InsertLeafEntry writes a new key/value entry into this leaf at the
// 0-based slot pos, shifting the search vector to make room. The caller
// must have already verified Fits and validated the key length via
// checkKeyLen. Returns pgerr.ErrKeyTooLarge if the key exceeds maxKeySize.
func (n *Node) InsertLeafEntry(pos int, key, value []byte, fragmented bool) error {
	if err := checkKeyLen(len(key), n.maxKeySize); err != nil {
		return err
	}
	size := leafEntrySize(len(key), len(value))

	// Pick insertion side (spec §3/§4.4): entries destined for the first
	// half of the node are written into the left segment, growing up from
	// entryZoneStart; the rest go to the right segment, growing down from
	// the page end. The search vector, which lives in its own reserved
	// zone, is shifted to open a gap at pos regardless of which side the
	// entry landed on.
	off := n.allocEntry(size, preferLeftFor(pos, n.NumKeys()))
	buf := n.buf[off : off+size]
	buf = encodeKey(buf[:0], key)
	encodeValue(buf, value, fragmented)

	n.insertVectorSlot(pos, off)
	return nil
}

// insertVectorSlot shifts search-vector entries at and after pos one slot
// to the right within the reserved vector zone and writes off into the
// freed slot. The caller must have already verified NumKeys() < maxEntries.
func (n *Node) insertVectorSlot(pos int, off int) {
	vs, ve := n.vecStart(), n.vecEnd()
	count := (ve - vs) / entryPtrSize
	newEnd := ve + entryPtrSize
	for i := count; i > pos; i-- {
		n.setEntryOffsetAt(vs, i, n.entryOffsetAt(vs, i-1))
	}
	n.setVecEnd(newEnd)
	n.setEntryOffsetAt(vs, pos, off)
}

func (n *Node) entryOffsetAt(vecStart, i int) int {
	return n.entryOffsetRaw(vecStart + i*entryPtrSize)
}
func (n *Node) setEntryOffsetAt(vecStart, i int, v int) {
	n.setEntryOffsetRaw(vecStart+i*entryPtrSize, v)
}

// DeleteLeafEntry removes the entry at 0-based slot pos, marking its bytes
// as garbage (reclaimed on the next Compact) and closing the gap in the
// search vector.
func (n *Node) DeleteLeafEntry(pos int) {
	off := n.entryOffset(pos)
	klen, khdr := decodeKeyLen(n.buf, off)
	vlen, vhdr, _, _ := decodeValueLen(n.buf, off+khdr+klen)
	size := khdr + klen + vhdr + vlen

	n.removeVectorSlot(pos)
	n.setGarbage(n.garbage() + size)
}

func (n *Node) removeVectorSlot(pos int) {
	vs, ve := n.vecStart(), n.vecEnd()
	count := (ve - vs) / entryPtrSize
	for i := pos; i < count-1; i++ {
		n.setEntryOffsetAt(vs, i, n.entryOffsetAt(vs, i+1))
	}
	n.setVecEnd(ve - entryPtrSize)
}

// UpdateLeafValue replaces the value at 0-based slot pos in place when the
// new value's encoded size exactly matches the old one (the common case
// for fixed-width values), or falls back to delete+reinsert otherwise.
// Returns pgerr.ErrNotFound is never produced here; callers are expected to
// have located pos via binarySearch already.
func (n *Node) UpdateLeafValue(pos int, value []byte, fragmented bool) error {
	off := n.entryOffset(pos)
	klen, khdr := decodeKeyLen(n.buf, off)
	oldVlen, oldVhdr, _, _ := decodeValueLen(n.buf, off+khdr+klen)
	newSize := encodedValueHeaderLen(len(value)) + len(value)
	if newSize == oldVhdr+oldVlen {
		encodeValue(n.buf[off+khdr+klen:off+khdr+klen], value, fragmented)
		return nil
	}

	key := append([]byte(nil), n.KeyAt(pos)...)
	n.DeleteLeafEntry(pos)
	if !n.Fits(len(key), len(value)) {
		return pgerr.ErrAssertionFailure // caller must have split before calling UpdateLeafValue
	}
	return n.InsertLeafEntry(pos, key, value, fragmented)
}

// entryOffsetRaw/setEntryOffsetRaw read/write a raw u16 at a byte offset,
// used internally where the caller has already computed vecStart+i*2.
func (n *Node) entryOffsetRaw(byteOff int) int {
	return int(n.buf[byteOff]) | int(n.buf[byteOff+1])<<8
}
func (n *Node) setEntryOffsetRaw(byteOff int, v int) {
	n.buf[byteOff] = byte(v)
	n.buf[byteOff+1] = byte(v >> 8)
}

// Compact reclaims garbage by rewriting every live entry into a fresh
// right segment and resetting the left segment to empty, in vector order,
// zeroing the garbage counter (spec §4.4 "in-place compaction"). It does
// not change the search vector's length, only the byte offsets it points
// at.
func (n *Node) Compact() {
	count := n.NumKeys()
	type live struct {
		key, raw []byte
	}
	entries := make([]live, count)
	for i := 0; i < count; i++ {
		off := n.entryOffset(i)
		klen, khdr := decodeKeyLen(n.buf, off)
		_, vhdr, _, ghost := decodeValueLen(n.buf, off+khdr+klen)
		vlen := 0
		if !ghost {
			vlen, _, _, _ = decodeValueLen(n.buf, off+khdr+klen)
		}
		total := khdr + klen + vhdr + vlen
		raw := append([]byte(nil), n.buf[off:off+total]...)
		entries[i] = live{key: raw[khdr : khdr+klen], raw: raw}
	}

	rt := n.pageSize
	for i := count - 1; i >= 0; i-- {
		rt -= len(entries[i].raw)
		copy(n.buf[rt:], entries[i].raw)
		n.setEntryOffset(i, rt)
	}
	n.setRightTail(rt)
	n.setLeftTail(n.entryZoneStart())
	n.setGarbage(0)
}
