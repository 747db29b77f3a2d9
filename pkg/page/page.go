// Package page implements the page store contract (spec §6): fixed-size
// block I/O addressed by a 48-bit page id, plus a crypto wrapper. The spec
// treats the page store as an external collaborator described only by its
// interface; this package supplies the concrete implementations the rest of
// the engine is tested against, grounded in the teacher's directio-backed
// pager.
package page

import "fmt"

// ID identifies a page. Only the low 48 bits are significant; id 0 means
// "unassigned" and id 1 is the reserved stub page (spec §3).
type ID uint64

// idMask keeps an ID to the spec's 48 significant bits.
const idMask = (1 << 48) - 1

// Mask truncates n to the 48 significant bits of an ID.
func Mask(n uint64) ID {
	return ID(n & idMask)
}

// Unassigned is the id meaning "no page".
const Unassigned ID = 0

// Stub is the reserved id for synthetic stub nodes (spec §3 Lifecycle).
const Stub ID = 1

// Valid reports whether id is neither Unassigned.
func (id ID) Valid() bool {
	return id != Unassigned
}

func (id ID) String() string {
	return fmt.Sprintf("pg%d", uint64(id))
}

// Store is the page store contract: read/write fixed-size pages by id,
// allocate/free page ids, and sync to stable storage (spec §6).
type Store interface {
	// PageSize returns the fixed logical page size in bytes.
	PageSize() uint32

	// PageCount returns the number of pages currently allocated (including
	// freed-but-not-reused ids, which are tracked separately).
	PageCount() uint64

	// ReadPage reads one page's bytes into buf[offset:offset+PageSize()].
	ReadPage(id ID, buf []byte, offset int) error

	// WritePage writes buf[offset:offset+PageSize()] to the given page.
	WritePage(id ID, buf []byte, offset int) error

	// Allocate returns a fresh page id, reusing a freed id if one is available.
	Allocate() (ID, error)

	// Free releases a page id back to the free list.
	Free(id ID) error

	// Sync flushes pending writes to stable storage. FileStore and MemStore
	// ignore metadataFlag: their next-id and free list live only in memory
	// and are not persisted.
	Sync(metadataFlag bool) error

	// IsReadOnly reports whether the store rejects writes.
	IsReadOnly() bool

	// Close releases the store's underlying resources.
	Close() error
}
