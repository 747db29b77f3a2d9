package page

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ncw/directio"
)

// FileStore backs a Store with a single on-disk file, aligned for O_DIRECT
// I/O via github.com/ncw/directio when the configured page size is a
// multiple of the platform's direct-I/O block size (grounded in the
// teacher's pkg/pager, which always used directio because its page size was
// fixed at directio.BlockSize). Pages smaller than that block size, or not a
// multiple of it, fall back to buffered I/O on the same file descriptor.
type FileStore struct {
	file     *os.File
	pageSize int64
	readOnly bool

	mtx       sync.Mutex
	numPages  int64
	freeList  []ID // freed ids available for reuse, LIFO
	direct    bool
}

// ErrReadOnly is returned by mutating operations on a read-only store.
var ErrReadOnly = errors.New("pagetree: store is read-only")

// OpenFile opens (creating if necessary) a file-backed Store at filePath
// using the given logical page size.
func OpenFile(filePath string, pageSize int, readOnly bool) (*FileStore, error) {
	if idx := strings.LastIndex(filePath, string(filepath.Separator)); idx != -1 {
		if err := os.MkdirAll(filePath[:idx], 0775); err != nil {
			return nil, err
		}
	}

	direct := int64(pageSize)%directio.BlockSize == 0
	var file *os.File
	var err error
	flags := os.O_CREATE | os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}
	if direct {
		file, err = directio.OpenFile(filePath, flags, 0666)
	} else {
		file, err = os.OpenFile(filePath, flags, 0666)
	}
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.Size()%int64(pageSize) != 0 {
		file.Close()
		return nil, errors.New("pagetree: backing file size is not a multiple of the page size")
	}

	return &FileStore{
		file:     file,
		pageSize: int64(pageSize),
		readOnly: readOnly,
		numPages: info.Size() / int64(pageSize),
		direct:   direct,
	}, nil
}

func (s *FileStore) PageSize() uint32 { return uint32(s.pageSize) }

func (s *FileStore) PageCount() uint64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return uint64(s.numPages)
}

func (s *FileStore) ReadPage(id ID, buf []byte, offset int) error {
	_, err := s.file.ReadAt(buf[offset:offset+int(s.pageSize)], int64(id)*s.pageSize)
	return err
}

func (s *FileStore) WritePage(id ID, buf []byte, offset int) error {
	if s.readOnly {
		return ErrReadOnly
	}
	_, err := s.file.WriteAt(buf[offset:offset+int(s.pageSize)], int64(id)*s.pageSize)
	return err
}

// Allocate returns a fresh page id, growing the file if the free list is empty.
func (s *FileStore) Allocate() (ID, error) {
	if s.readOnly {
		return Unassigned, ErrReadOnly
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if n := len(s.freeList); n > 0 {
		id := s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
		return id, nil
	}
	// id 0 is reserved as "unassigned" and id 1 as the stub; the file's
	// first two allocations are skipped past those reserved ids.
	next := s.numPages
	if next < 2 {
		next = 2
	}
	s.numPages = next + 1
	return Mask(uint64(next)), nil
}

// Free releases id back to the free list for reuse by a later Allocate.
func (s *FileStore) Free(id ID) error {
	if s.readOnly {
		return ErrReadOnly
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.freeList = append(s.freeList, id)
	return nil
}

func (s *FileStore) Sync(metadataFlag bool) error {
	if s.readOnly {
		return nil
	}
	return s.file.Sync()
}

func (s *FileStore) IsReadOnly() bool { return s.readOnly }

func (s *FileStore) Close() error {
	return s.file.Close()
}
