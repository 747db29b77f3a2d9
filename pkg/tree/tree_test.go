package tree

import (
	"fmt"
	"testing"
	"time"

	"pagetree/pkg/cache"
	"pagetree/pkg/config"
	"pagetree/pkg/lock"
	"pagetree/pkg/page"
	"pagetree/pkg/pgerr"
)

const testPageSize = 512

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	store := page.NewMemStore(testPageSize)
	opts := config.Options{PageSize: testPageSize, MaxKeySize: 200}
	c := cache.New(store, 256, opts.MaxKeySize)
	locks := lock.NewManager(4, 200*time.Millisecond)
	tr, err := Open("t", c, locks, opts, page.Unassigned)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return tr
}

func TestInsertFindRoundTrip(t *testing.T) {
	tr := newTestTree(t)
	if err := tr.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	v, err := tr.Find([]byte("a"))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if string(v) != "1" {
		t.Fatalf("Find = %q, want 1", v)
	}
}

func TestFindMissingKeyReturnsErrNotFound(t *testing.T) {
	tr := newTestTree(t)
	if _, err := tr.Find([]byte("nope")); err != pgerr.ErrNotFound {
		t.Fatalf("Find(missing) = %v, want ErrNotFound", err)
	}
}

func TestInsertDuplicateKeyFails(t *testing.T) {
	tr := newTestTree(t)
	if err := tr.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tr.Insert([]byte("a"), []byte("2")); err != pgerr.ErrDuplicateKey {
		t.Fatalf("Insert duplicate = %v, want ErrDuplicateKey", err)
	}
}

func TestUpdateOverwritesExistingValue(t *testing.T) {
	tr := newTestTree(t)
	if err := tr.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tr.Update([]byte("a"), []byte("2")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	v, err := tr.Find([]byte("a"))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if string(v) != "2" {
		t.Fatalf("Find after Update = %q, want 2", v)
	}
}

func TestUpdateMissingKeyReturnsErrNotFound(t *testing.T) {
	tr := newTestTree(t)
	if err := tr.Update([]byte("a"), []byte("1")); err != pgerr.ErrNotFound {
		t.Fatalf("Update(missing) = %v, want ErrNotFound", err)
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	tr := newTestTree(t)
	if err := tr.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tr.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := tr.Find([]byte("a")); err != pgerr.ErrNotFound {
		t.Fatalf("Find after Delete = %v, want ErrNotFound", err)
	}
}

func TestDeleteMissingKeyReturnsErrNotFound(t *testing.T) {
	tr := newTestTree(t)
	if err := tr.Delete([]byte("a")); err != pgerr.ErrNotFound {
		t.Fatalf("Delete(missing) = %v, want ErrNotFound", err)
	}
}

func TestInsertTriggersSplitOnAscendingBulkLoad(t *testing.T) {
	tr := newTestTree(t)
	const n = 200
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("k%05d", i)
		if err := tr.Insert([]byte(k), []byte("value-padding-xxxxxx")); err != nil {
			t.Fatalf("Insert(%q): %v", k, err)
		}
	}
	if tr.RootID() == page.Unassigned {
		t.Fatal("root id should be set")
	}
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("k%05d", i)
		if _, err := tr.Find([]byte(k)); err != nil {
			t.Fatalf("Find(%q) after bulk load: %v", k, err)
		}
	}
}

func TestInsertTriggersSplitOnDescendingBulkLoad(t *testing.T) {
	tr := newTestTree(t)
	const n = 200
	for i := n - 1; i >= 0; i-- {
		k := fmt.Sprintf("k%05d", i)
		if err := tr.Insert([]byte(k), []byte("value-padding-xxxxxx")); err != nil {
			t.Fatalf("Insert(%q): %v", k, err)
		}
	}
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("k%05d", i)
		if _, err := tr.Find([]byte(k)); err != nil {
			t.Fatalf("Find(%q) after descending bulk load: %v", k, err)
		}
	}
}

func TestDeleteAfterBulkLoadShrinksTreeWithoutLosingSurvivors(t *testing.T) {
	tr := newTestTree(t)
	const n = 300
	var keys []string
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("k%05d", i)
		if err := tr.Insert([]byte(k), []byte("value-padding-xxxxxx")); err != nil {
			t.Fatalf("Insert(%q): %v", k, err)
		}
		keys = append(keys, k)
	}

	// Delete every third key, which should repeatedly drive leaves (and
	// eventually internal nodes) underfull, exercising redistribute, merge,
	// and potentially root collapse.
	var deleted, survivors []string
	for i, k := range keys {
		if i%3 == 0 {
			deleted = append(deleted, k)
		} else {
			survivors = append(survivors, k)
		}
	}
	for _, k := range deleted {
		if err := tr.Delete([]byte(k)); err != nil {
			t.Fatalf("Delete(%q): %v", k, err)
		}
	}
	for _, k := range deleted {
		if _, err := tr.Find([]byte(k)); err != pgerr.ErrNotFound {
			t.Fatalf("Find(%q) after delete = %v, want ErrNotFound", k, err)
		}
	}
	for _, k := range survivors {
		if _, err := tr.Find([]byte(k)); err != nil {
			t.Fatalf("Find(%q) survivor after mass delete: %v", k, err)
		}
	}
}

func TestDeleteAllKeysCollapsesBackToEmptyLeafRoot(t *testing.T) {
	tr := newTestTree(t)
	const n = 150
	var keys []string
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("k%05d", i)
		if err := tr.Insert([]byte(k), []byte("value-padding-xxxxxx")); err != nil {
			t.Fatalf("Insert(%q): %v", k, err)
		}
		keys = append(keys, k)
	}
	for _, k := range keys {
		if err := tr.Delete([]byte(k)); err != nil {
			t.Fatalf("Delete(%q): %v", k, err)
		}
	}
	for _, k := range keys {
		if _, err := tr.Find([]byte(k)); err != pgerr.ErrNotFound {
			t.Fatalf("Find(%q) after deleting everything = %v, want ErrNotFound", k, err)
		}
	}
	// A fresh key should still be insertable into the collapsed tree.
	if err := tr.Insert([]byte("fresh"), []byte("v")); err != nil {
		t.Fatalf("Insert into fully-collapsed tree: %v", err)
	}
}
