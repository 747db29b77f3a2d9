package page

import (
	"bytes"
	"path/filepath"
	"testing"
)

// testPageSize is deliberately not a multiple of any plausible O_DIRECT
// block size, so these tests exercise FileStore's buffered-I/O fallback
// rather than needing page-aligned buffers.
const testPageSize = 500

func TestFileStoreAllocateWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := OpenFile(path, testPageSize, false)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer s.Close()

	id, err := s.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if !id.Valid() {
		t.Fatal("Allocate returned the unassigned id")
	}

	want := bytes.Repeat([]byte{'z'}, testPageSize)
	if err := s.WritePage(id, want, 0); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	got := make([]byte, testPageSize)
	if err := s.ReadPage(id, got, 0); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("read back different bytes than written")
	}
}

func TestFileStoreNeverAllocatesReservedIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := OpenFile(path, testPageSize, false)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer s.Close()

	for i := 0; i < 3; i++ {
		id, err := s.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if id == Unassigned || id == Stub {
			t.Fatalf("Allocate returned reserved id %v", id)
		}
	}
}

func TestFileStoreFreeListReusesIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := OpenFile(path, testPageSize, false)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer s.Close()

	id, err := s.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := s.Free(id); err != nil {
		t.Fatalf("Free: %v", err)
	}
	reused, err := s.Allocate()
	if err != nil {
		t.Fatalf("Allocate after Free: %v", err)
	}
	if reused != id {
		t.Fatalf("Allocate after Free = %v, want reused id %v", reused, id)
	}
}

func TestFileStoreReadOnlyRejectsMutation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	rw, err := OpenFile(path, testPageSize, false)
	if err != nil {
		t.Fatalf("OpenFile rw: %v", err)
	}
	id, err := rw.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := rw.WritePage(id, make([]byte, testPageSize), 0); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close rw: %v", err)
	}

	ro, err := OpenFile(path, testPageSize, true)
	if err != nil {
		t.Fatalf("OpenFile ro: %v", err)
	}
	defer ro.Close()
	if !ro.IsReadOnly() {
		t.Fatal("IsReadOnly() = false for a store opened read-only")
	}
	if err := ro.WritePage(id, make([]byte, testPageSize), 0); err != ErrReadOnly {
		t.Fatalf("WritePage on read-only store = %v, want ErrReadOnly", err)
	}
	if _, err := ro.Allocate(); err != ErrReadOnly {
		t.Fatalf("Allocate on read-only store = %v, want ErrReadOnly", err)
	}
}

func TestFileStoreRejectsMisalignedExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := OpenFile(path, testPageSize, false)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	id, err := s.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := s.WritePage(id, make([]byte, testPageSize), 0); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := OpenFile(path, testPageSize+1, false); err == nil {
		t.Fatal("OpenFile with a page size that doesn't divide the existing file size should fail")
	}
}
