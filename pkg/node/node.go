package node

import (
	"bytes"
	"encoding/binary"

	"pagetree/pkg/page"
)

// Node is one in-memory, in-page-buffer-backed B+tree node. A Node's buf is
// exactly pageSize bytes: a 12-byte header (offType..offVecEnd), followed —
// for internal node types — by a fixed-size child-pointer zone, followed by
// a fixed-size search-vector zone, followed by the left and right entry
// segments, which grow toward each other out of the remaining page space
// (spec §3, §4.4).
//
// Two simplifications from the literal spec prose, both trading reserved
// but normally-unused bytes for a simpler mutation path:
//
//   - The child-pointer array lives in a fixed-size zone sized for the
//     page's worst case (maxChildren entries) immediately after the
//     header, rather than directly after the search vector and shifting
//     whenever the vector's entry count changes.
//   - The search vector itself lives in a fixed-size zone sized for the
//     page's worst case (maxEntries entries), rather than growing out of
//     the same pool the entry segments allocate from. This keeps vector
//     growth from ever colliding with the left segment's growth, at the
//     cost of reserving vector slots a sparsely-filled page never uses.
//     leftTail and rightTail bound the two entry segments on either side
//     of that reserved zone and are independent allocators (allocEntry),
//     unlike a single right-only tail.
//
// The testable invariants spec §8 cares about — keyCount+1 == childCount
// for internal nodes, split/rebalance preserving those counts — are
// properties of the logical layout, not of the exact byte offset of the
// child array or search vector.
type Node struct {
	id         page.ID
	pageSize   int
	maxKeySize int
	buf        []byte

	typ                         Type
	lowExtremity, highExtremity bool
	cacheState                  CacheState

	dataStart   int // byte offset where the search vector region begins
	maxChildren int // capacity of the child-pointer zone (0 for leaves)
	maxEntries  int // capacity of the reserved search-vector zone

	latch Latch

	frames *Frame // head of the intrusive list of cursor frames bound here

	split *Split // set while this node has an uninserted sibling pending

	unevictable bool // pinned by the cache (mid-SMO, or a split sibling)
	root        bool
}

// New allocates a fresh in-memory Node of the given type for page id, with
// a zeroed, empty buffer of pageSize bytes.
func New(id page.ID, pageSize int, maxKeySize int, typ Type) *Node {
	n := &Node{
		id:         id,
		pageSize:   pageSize,
		maxKeySize: maxKeySize,
		buf:        make([]byte, pageSize),
		typ:        typ,
	}
	n.maxChildren = maxChildrenFor(pageSize, typ)
	n.dataStart = HeaderSize + n.maxChildren*childPtrSize
	n.maxEntries = maxEntriesFor(pageSize-n.dataStart, typ)
	entryZoneStart := n.dataStart + n.maxEntries*entryPtrSize
	n.writeHeader(typ, 0, entryZoneStart, n.pageSize, n.dataStart, n.dataStart)
	return n
}

// Load wraps an existing on-disk page buffer (exactly pageSize bytes,
// already read by the cache) as a Node, parsing its header in place.
func Load(id page.ID, pageSize int, maxKeySize int, buf []byte) *Node {
	n := &Node{id: id, pageSize: pageSize, maxKeySize: maxKeySize, buf: buf}
	n.readHeader()
	n.maxChildren = maxChildrenFor(pageSize, n.typ)
	n.dataStart = HeaderSize + n.maxChildren*childPtrSize
	n.maxEntries = maxEntriesFor(pageSize-n.dataStart, n.typ)
	return n
}

// maxChildrenFor returns the number of child-pointer slots an internal-type
// page of pageSize should reserve: enough that the page could in principle
// be filled with nothing but 1-byte keys and still have a child pointer for
// every gap between them, plus one for the node's leading child.
func maxChildrenFor(pageSize int, typ Type) int {
	if !typ.IsInternal() {
		return 0
	}
	n := (pageSize-HeaderSize)/(childPtrSize+entryPtrSize+1) + 2
	if n < 2 {
		n = 2
	}
	return n
}

// maxEntriesFor returns the number of search-vector slots a page with avail
// bytes left after the header (and, for internal nodes, the child-pointer
// zone) should reserve: enough that the remaining space could in principle
// be filled with nothing but minimal-size entries (a 1-byte key, plus for
// leaves a 0-byte value) and still have a vector slot for every one. Mirrors
// maxChildrenFor's worst-case reservation for the child-pointer zone.
func maxEntriesFor(avail int, typ Type) int {
	minEntry := encodedKeyHeaderLen(1) + 1
	if !typ.IsInternal() {
		minEntry += encodedValueHeaderLen(0)
	}
	n := avail / (minEntry + entryPtrSize)
	if n < 1 {
		n = 1
	}
	return n
}

func (n *Node) ID() page.ID  { return n.id }
func (n *Node) Type() Type   { return n.typ }
func (n *Node) IsLeaf() bool { return n.typ == TypeLeaf }
func (n *Node) IsRoot() bool { return n.root }
func (n *Node) SetRoot(v bool) { n.root = v }

func (n *Node) LowExtremity() bool  { return n.lowExtremity }
func (n *Node) HighExtremity() bool { return n.highExtremity }

func (n *Node) SetExtremity(low, high bool) {
	n.lowExtremity, n.highExtremity = low, high
	n.writeFlags()
}

func (n *Node) CacheState() CacheState     { return n.cacheState }
func (n *Node) SetCacheState(s CacheState) { n.cacheState = s }

func (n *Node) Unevictable() bool      { return n.unevictable }
func (n *Node) SetUnevictable(v bool)  { n.unevictable = v }

func (n *Node) Split() *Split      { return n.split }
func (n *Node) SetSplit(s *Split)  { n.split = s }

func (n *Node) Latch() *Latch { return &n.latch }

func (n *Node) Buf() []byte { return n.buf }

// --- header access ---------------------------------------------------

func (n *Node) writeHeader(typ Type, garbage, leftTail, rightTail, vecStart, vecEnd int) {
	n.typ = typ
	n.buf[offType] = byte(typ) << 4
	n.writeFlags()
	binary.LittleEndian.PutUint16(n.buf[offGarbage:], uint16(garbage))
	binary.LittleEndian.PutUint16(n.buf[offLeftTail:], uint16(leftTail))
	binary.LittleEndian.PutUint16(n.buf[offRightTail:], uint16(rightTail))
	binary.LittleEndian.PutUint16(n.buf[offVecStart:], uint16(vecStart))
	binary.LittleEndian.PutUint16(n.buf[offVecEnd:], uint16(vecEnd))
}

func (n *Node) writeFlags() {
	b := n.buf[offType] & 0xF0
	if n.lowExtremity {
		b |= flagLowExtremity
	}
	if n.highExtremity {
		b |= flagHighExtremity
	}
	n.buf[offType] = b
}

func (n *Node) readHeader() {
	b := n.buf[offType]
	n.typ = Type(b >> 4)
	n.lowExtremity = b&flagLowExtremity != 0
	n.highExtremity = b&flagHighExtremity != 0
}

func (n *Node) garbage() int   { return int(binary.LittleEndian.Uint16(n.buf[offGarbage:])) }
func (n *Node) leftTail() int  { return int(binary.LittleEndian.Uint16(n.buf[offLeftTail:])) }
func (n *Node) rightTail() int { return int(binary.LittleEndian.Uint16(n.buf[offRightTail:])) }
func (n *Node) vecStart() int  { return int(binary.LittleEndian.Uint16(n.buf[offVecStart:])) }
func (n *Node) vecEnd() int    { return int(binary.LittleEndian.Uint16(n.buf[offVecEnd:])) }

func (n *Node) setGarbage(v int)   { binary.LittleEndian.PutUint16(n.buf[offGarbage:], uint16(v)) }
func (n *Node) setLeftTail(v int)  { binary.LittleEndian.PutUint16(n.buf[offLeftTail:], uint16(v)) }
func (n *Node) setRightTail(v int) { binary.LittleEndian.PutUint16(n.buf[offRightTail:], uint16(v)) }
func (n *Node) setVecStart(v int)  { binary.LittleEndian.PutUint16(n.buf[offVecStart:], uint16(v)) }
func (n *Node) setVecEnd(v int)    { binary.LittleEndian.PutUint16(n.buf[offVecEnd:], uint16(v)) }

// NumKeys returns the number of entries currently in the search vector.
func (n *Node) NumKeys() int {
	return (n.vecEnd() - n.vecStart()) / entryPtrSize
}

// entryZoneStart returns the fixed offset where the reserved search-vector
// zone ends and the left entry segment begins.
func (n *Node) entryZoneStart() int {
	return n.dataStart + n.maxEntries*entryPtrSize
}

// FreeBytes returns the contiguous free space between the left and right
// entry segments (leftTail..rightTail), not counting reclaimable garbage.
// It does not include unused slots in the reserved search-vector zone;
// vector room is tracked separately via NumKeys versus maxEntries.
func (n *Node) FreeBytes() int {
	return n.rightTail() - n.leftTail()
}

// vecZoneSlack returns the number of bytes in the reserved search-vector
// zone not currently occupied by a live vector entry, used by Underfull and
// CanAbsorb to keep their "used bytes" accounting from counting a page's
// empty vector headroom as occupied space.
func (n *Node) vecZoneSlack() int {
	return n.maxEntries*entryPtrSize - (n.vecEnd() - n.vecStart())
}

// allocEntry reserves size bytes for a new entry from whichever entry
// segment preferLeft selects, advancing that segment's tail, and returns
// the byte offset the entry should be written at (spec §3/§4.4's "pick
// insertion side, allocate from whichever segment").
func (n *Node) allocEntry(size int, preferLeft bool) int {
	if preferLeft {
		off := n.leftTail()
		n.setLeftTail(off + size)
		return off
	}
	off := n.rightTail() - size
	n.setRightTail(off)
	return off
}

// preferLeftFor returns the side-selection heuristic for an insertion at
// 0-based slot pos among count existing entries: entries destined for the
// first half of the node go to the left segment, the rest to the right, so
// that neither segment starves while the other still has room.
func preferLeftFor(pos, count int) bool {
	return pos <= count/2
}

// --- search vector access ---------------------------------------------

// entryOffset returns the page offset stored at search-vector slot i
// (0-based, i in [0, NumKeys())).
func (n *Node) entryOffset(i int) int {
	p := n.vecStart() + i*entryPtrSize
	return int(binary.LittleEndian.Uint16(n.buf[p:]))
}

func (n *Node) setEntryOffset(i int, off int) {
	p := n.vecStart() + i*entryPtrSize
	binary.LittleEndian.PutUint16(n.buf[p:], uint16(off))
}

// KeyAt returns the key stored at search-vector slot i.
func (n *Node) KeyAt(i int) []byte {
	off := n.entryOffset(i)
	klen, khdr := decodeKeyLen(n.buf, off)
	return n.buf[off+khdr : off+khdr+klen]
}

// ValueAt returns the raw value bytes at search-vector slot i (leaves
// only), along with whether the entry is a ghost and whether its value is
// fragmented (continued on overflow pages, outside this package's scope).
func (n *Node) ValueAt(i int) (value []byte, fragmented, ghost bool) {
	off := n.entryOffset(i)
	klen, khdr := decodeKeyLen(n.buf, off)
	voff := off + khdr + klen
	vlen, vhdr, frag, gh := decodeValueLen(n.buf, voff)
	if gh {
		return nil, false, true
	}
	return n.buf[voff+vhdr : voff+vhdr+vlen], frag, false
}

// ChildAt returns the page id of the i-th child pointer (0-based, i in
// [0, NumKeys()+1)) of an internal node, read from the fixed child zone.
func (n *Node) ChildAt(i int) page.ID {
	p := HeaderSize + i*childPtrSize
	v := binary.LittleEndian.Uint64(n.buf[p:])
	return page.Mask(v & childPtrMask)
}

// SetChildAt writes the page id of the i-th child pointer.
func (n *Node) SetChildAt(i int, id page.ID) {
	p := HeaderSize + i*childPtrSize
	binary.LittleEndian.PutUint64(n.buf[p:], uint64(id)&childPtrMask)
}

// shiftChildrenRight moves child pointers [from, NumKeys()+1) one slot to
// the right to make room for an insertion at from.
func (n *Node) shiftChildrenRight(from int) {
	count := n.NumKeys() + 1
	for i := count; i > from; i-- {
		n.SetChildAt(i, n.ChildAt(i-1))
	}
}

// shiftChildrenLeft closes the gap left by removing the child pointer at
// index at.
func (n *Node) shiftChildrenLeft(at int) {
	count := n.NumKeys() + 1
	for i := at; i < count-1; i++ {
		n.SetChildAt(i, n.ChildAt(i+1))
	}
}

// --- search -------------------------------------------------------------

// binarySearch looks for key among this node's entries. It returns a
// 2-based signed position matching spec §4.2/§4.3: i*2 if key is present at
// slot i, or ^(insertionPoint*2) (bitwise complement, always negative) if
// key is absent, where insertionPoint is the slot key would occupy.
//
// lowMatch/highMatch track the longest common prefix already verified
// against the low and high ends of the current search range, so repeated
// byte comparisons against a shared prefix aren't redone on every
// iteration — this mirrors the "prefix skip" optimization spec §4.2
// mentions for ordered compares, without requiring a trie.
func (n *Node) binarySearch(key []byte) int {
	lo, hi := 0, n.NumKeys()-1
	lowMatch, highMatch := 0, 0
	for lo <= hi {
		mid := (lo + hi) / 2
		midKey := n.KeyAt(mid)

		matchLen := lowMatch
		if highMatch < lowMatch {
			matchLen = highMatch
		}
		cmp, matched := compareFrom(key, midKey, matchLen)

		switch {
		case cmp == 0:
			return mid * 2
		case cmp < 0:
			hi = mid - 1
			highMatch = matched
		default:
			lo = mid + 1
			lowMatch = matched
		}
	}
	return ^(lo * 2)
}

// compareFrom compares a and b, skipping the first from bytes (already
// known equal from a prior comparison), and returns (-1/0/1, matchedLen)
// where matchedLen is the number of leading bytes found equal this call.
func compareFrom(a, b []byte, from int) (int, int) {
	if from > len(a) {
		from = len(a)
	}
	if from > len(b) {
		from = len(b)
	}
	rest := bytes.Compare(a[from:], b[from:])
	i := from
	for i < len(a) && i < len(b) && a[i] == b[i] {
		i++
	}
	return rest, i
}

// internalPos converts a binarySearch result into a plain 0-based slot
// index, per spec §4.3's "internal position" convention: present entries
// map to the slot directly after the matched key (the child subtree that
// would contain values greater than it), absent entries map to their
// insertion point directly.
func internalPos(pos int) int {
	if pos < 0 {
		return ^pos / 2
	}
	return pos/2 + 1
}

// Search is the exported form of binarySearch, used by pkg/tree to locate
// a key's slot (or insertion point) within a node.
func (n *Node) Search(key []byte) int {
	return n.binarySearch(key)
}

// Found reports whether a binarySearch result denotes an exact match.
func Found(pos int) bool { return pos >= 0 }

// InsertionPoint returns the 0-based slot a binarySearch result would be
// inserted at, whether or not it was found.
func InsertionPoint(pos int) int {
	if pos < 0 {
		return ^pos / 2
	}
	return pos / 2
}
