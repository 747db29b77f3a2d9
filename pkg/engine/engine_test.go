package engine

import (
	"os"
	"path/filepath"
	"testing"

	"pagetree/pkg/config"
	"pagetree/pkg/pgerr"
)

func testOptions() config.Options {
	opts := config.DefaultOptions()
	opts.PageSize = 512
	opts.CacheCapacity = 64
	return opts
}

func TestCreateTreeThenFindItByName(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, testOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := e.CreateTree("widgets"); err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	got, err := e.Tree("widgets")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if got.Name != "widgets" {
		t.Fatalf("Tree name = %q, want widgets", got.Name)
	}
}

func TestCreateTreeDuplicateNameFails(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, testOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := e.CreateTree("widgets"); err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	if _, err := e.CreateTree("widgets"); err != pgerr.ErrDuplicateKey {
		t.Fatalf("CreateTree duplicate = %v, want ErrDuplicateKey", err)
	}
}

func TestCreateTreeRejectsNonAlphanumericName(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, testOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := e.CreateTree("bad name!"); err == nil {
		t.Fatal("CreateTree with a non-alphanumeric name should fail")
	}
}

func TestTreeOnUnknownNameReturnsErrClosedIndex(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, testOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := e.Tree("nope"); err != pgerr.ErrClosedIndex {
		t.Fatalf("Tree(missing) = %v, want ErrClosedIndex", err)
	}
}

func TestTreesReturnsEveryCreatedTree(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, testOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, name := range []string{"a", "b", "c"} {
		if _, err := e.CreateTree(name); err != nil {
			t.Fatalf("CreateTree(%q): %v", name, err)
		}
	}
	all := e.Trees()
	if len(all) != 3 {
		t.Fatalf("Trees() returned %d entries, want 3", len(all))
	}
	for _, name := range []string{"a", "b", "c"} {
		if _, ok := all[name]; !ok {
			t.Fatalf("Trees() missing %q", name)
		}
	}
}

func TestCatalogSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	e, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tr, err := e.CreateTree("widgets")
	if err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	if err := tr.Insert([]byte("sku-1"), []byte("gizmo")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	tr2, err := e2.Tree("widgets")
	if err != nil {
		t.Fatalf("reopen Tree: %v", err)
	}
	v, err := tr2.Find([]byte("sku-1"))
	if err != nil {
		t.Fatalf("Find after reopen: %v", err)
	}
	if string(v) != "gizmo" {
		t.Fatalf("Find after reopen = %q, want gizmo", v)
	}
}

func TestCheckpointSnapshotsIntoSiblingDirectory(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, testOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tr, err := e.CreateTree("widgets")
	if err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	if err := tr.Insert([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := e.Checkpoint("snap1"); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	// e.basePath is exactly dir, so the checkpoint lands at
	// "<dir>-checkpoints/snap1", a sibling of dir itself, not inside it.
	want := dir + "-checkpoints"
	info, err := os.Stat(filepath.Join(want, "snap1"))
	if err != nil {
		t.Fatalf("Stat checkpoint dir %s: %v", filepath.Join(want, "snap1"), err)
	}
	if !info.IsDir() {
		t.Fatalf("checkpoint path %s is not a directory", filepath.Join(want, "snap1"))
	}
	if _, err := os.Stat(filepath.Join(want, "snap1", "catalog")); err != nil {
		t.Fatalf("checkpoint missing catalog file: %v", err)
	}
}

func TestCatalogRejectsNameLongerThan64Bytes(t *testing.T) {
	c := &catalogFile{path: filepath.Join(t.TempDir(), "catalog")}
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'x'
	}
	if err := c.save(string(long), 1); err == nil {
		t.Fatal("save with a 65-byte name should fail")
	}
}

func TestCatalogLoadOnMissingFileReturnsEmptyMap(t *testing.T) {
	c := &catalogFile{path: filepath.Join(t.TempDir(), "does-not-exist")}
	roots, err := c.load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(roots) != 0 {
		t.Fatalf("load on missing file = %v, want empty", roots)
	}
}
