package page

import (
	"sync"

	"github.com/dsnet/golib/memfile"
)

// MemStore is an in-memory Store backed by github.com/dsnet/golib/memfile,
// used by package tests that want FileStore's exact read/write/allocate
// semantics without touching disk.
type MemStore struct {
	file     *memfile.File
	pageSize int64

	mtx      sync.Mutex
	numPages int64
	freeList []ID
}

// NewMemStore returns an empty in-memory Store with the given page size.
func NewMemStore(pageSize int) *MemStore {
	return &MemStore{
		file:     memfile.New(nil),
		pageSize: int64(pageSize),
	}
}

func (s *MemStore) PageSize() uint32 { return uint32(s.pageSize) }

func (s *MemStore) PageCount() uint64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return uint64(s.numPages)
}

func (s *MemStore) growTo(end int64) {
	if sz, _ := s.file.Seek(0, 2); sz < end {
		if err := s.file.Truncate(end); err != nil {
			// memfile.Truncate only fails on negative sizes, which can't
			// happen here since end is always a non-negative page offset.
			panic(err)
		}
	}
}

func (s *MemStore) ReadPage(id ID, buf []byte, offset int) error {
	_, err := s.file.ReadAt(buf[offset:offset+int(s.pageSize)], int64(id)*s.pageSize)
	return err
}

func (s *MemStore) WritePage(id ID, buf []byte, offset int) error {
	s.growTo((int64(id) + 1) * s.pageSize)
	_, err := s.file.WriteAt(buf[offset:offset+int(s.pageSize)], int64(id)*s.pageSize)
	return err
}

func (s *MemStore) Allocate() (ID, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if n := len(s.freeList); n > 0 {
		id := s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
		return id, nil
	}
	next := s.numPages
	if next < 2 {
		next = 2
	}
	s.numPages = next + 1
	s.growTo((next + 1) * s.pageSize)
	return Mask(uint64(next)), nil
}

func (s *MemStore) Free(id ID) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.freeList = append(s.freeList, id)
	return nil
}

func (s *MemStore) Sync(metadataFlag bool) error { return nil }

func (s *MemStore) IsReadOnly() bool { return false }

func (s *MemStore) Close() error { return s.file.Close() }
