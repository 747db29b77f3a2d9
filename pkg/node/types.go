// Package node implements the on-page B+tree node: layout, search,
// insert/update/delete, split, compaction and rebalance (spec §3, §4.2-§4.8).
// This is the core of the engine; the page layout and mutation protocol here
// are grounded in the teacher's pkg/btree, generalized from dinodb's
// fixed-length int64 keys/values to the spec's variable-length byte strings
// with a left/right segment allocator.
package node

import "fmt"

// Type identifies the kind of a node, stored in the top 4 bits of the
// page's first byte (spec §3).
type Type uint8

const (
	TypeFragment       Type = iota // overflow page for large values
	TypeUndoLog                    // undo log page
	TypeInternal                   // non-leaf above the bottom
	TypeBottomInternal             // parent of leaves; enables fast findNearby
	TypeLeaf                       // leaf node
)

func (t Type) String() string {
	switch t {
	case TypeFragment:
		return "fragment"
	case TypeUndoLog:
		return "undo-log"
	case TypeInternal:
		return "internal"
	case TypeBottomInternal:
		return "bottom-internal"
	case TypeLeaf:
		return "leaf"
	default:
		return fmt.Sprintf("type(%d)", t)
	}
}

// IsInternal reports whether nodes of this type carry child pointers.
func (t Type) IsInternal() bool {
	return t == TypeInternal || t == TypeBottomInternal
}

// Flag bits packed into the low bits of the first page byte, alongside Type
// in the high nibble.
const (
	flagLowExtremity  uint8 = 1 << 0 // node lies on the leftmost root-to-leaf path
	flagHighExtremity uint8 = 1 << 1 // node lies on the rightmost root-to-leaf path
)

// CacheState is a node's dirty-generation state (spec §4.1 "dirty generations").
type CacheState uint8

const (
	StateClean CacheState = iota
	StateDirtyA
	StateDirtyB
)

// Header byte offsets within a page (spec §3, little-endian throughout).
const (
	offType      = 0
	offReserved  = 1
	offGarbage   = 2
	offLeftTail  = 4
	offRightTail = 6
	offVecStart  = 8
	offVecEnd    = 10
	HeaderSize   = 12
	entryPtrSize = 2 // search vector entries are u16 page offsets
	childPtrSize = 8 // child pointers are 8-byte (6 significant bytes)
	childPtrMask = (uint64(1) << 48) - 1
	ghostHeader  = 0xFF
)

// Split describes an in-progress structural modification on an exclusively
// latched node that has produced a sibling but not yet been inserted into
// its parent (spec §4.5, Glossary "Split descriptor").
type Split struct {
	Right             bool   // true if the new sibling was created to the right of the splitting node
	Sibling           *Node  // the newly allocated, still-unevictable sibling
	Key               []byte // the separator key chosen for the parent insert
	NewEntryOnSibling bool   // true if the entry that triggered the split landed on Sibling
}

// Dir is a rebalance direction.
type Dir int

const (
	DirLeft Dir = iota
	DirRight
)
