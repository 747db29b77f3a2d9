package cache

import (
	"sync"
	"testing"

	"pagetree/pkg/node"
	"pagetree/pkg/page"
)

const testPageSize = 512
const testMaxKey = 200

func newTestCache(capacity int) (*NodeCache, *page.MemStore) {
	store := page.NewMemStore(testPageSize)
	return New(store, capacity, testMaxKey), store
}

func TestAllocNewIsResidentAndUnevictable(t *testing.T) {
	c, _ := newTestCache(4)
	n, err := c.AllocNew(node.TypeLeaf)
	if err != nil {
		t.Fatalf("AllocNew: %v", err)
	}
	if !n.Unevictable() {
		t.Fatal("a freshly allocated node must start unevictable")
	}
	got, err := c.Fetch(n.ID())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != n {
		t.Fatal("Fetch should return the same resident *node.Node instance AllocNew created")
	}
}

func TestFetchLoadsFromStoreWhenNotResident(t *testing.T) {
	c, store := newTestCache(4)
	n, err := c.AllocNew(node.TypeLeaf)
	if err != nil {
		t.Fatalf("AllocNew: %v", err)
	}
	_ = n.InsertLeafEntry(0, []byte("k"), []byte("v"), false)
	if err := store.WritePage(n.ID(), n.Buf(), 0); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	// Evicting it through the cache's bookkeeping directly isn't exposed,
	// so instead make it evictable, fill the cache past capacity with other
	// evictable nodes so it is evicted, and confirm the original id is
	// refetched from the store with identical contents.
	c.MakeEvictable(n)
	for i := 0; i < 4; i++ {
		other, err := c.AllocNew(node.TypeLeaf)
		if err != nil {
			t.Fatalf("AllocNew: %v", err)
		}
		c.MakeEvictable(other)
	}
	refetched, err := c.Fetch(n.ID())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if refetched.NumKeys() != 1 || string(refetched.KeyAt(0)) != "k" {
		t.Fatalf("refetched node missing its written entry")
	}
}

func TestFetchCoalescesConcurrentFaultsOfSamePage(t *testing.T) {
	c, store := newTestCache(8)
	n := node.New(page.ID(1), testPageSize, testMaxKey, node.TypeLeaf)
	_ = n.InsertLeafEntry(0, []byte("k"), []byte("v"), false)
	if err := store.WritePage(n.ID(), n.Buf(), 0); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	const workers = 16
	results := make([]*node.Node, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Fetch(n.ID())
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("Fetch[%d]: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatal("concurrent Fetch calls for the same id returned different Node instances")
		}
	}
}

func TestEvictionReclaimsColdUnpinnedSlotsUnderCapacity(t *testing.T) {
	c, _ := newTestCache(2)
	first, err := c.AllocNew(node.TypeLeaf)
	if err != nil {
		t.Fatalf("AllocNew: %v", err)
	}
	c.MakeEvictable(first)

	second, err := c.AllocNew(node.TypeLeaf)
	if err != nil {
		t.Fatalf("AllocNew: %v", err)
	}
	c.MakeEvictable(second)

	// A third alloc at capacity 2 must evict the coldest (first, since
	// second was touched more recently by its own AllocNew/insert).
	third, err := c.AllocNew(node.TypeLeaf)
	if err != nil {
		t.Fatalf("AllocNew: %v", err)
	}
	c.MakeEvictable(third)

	if len(c.entries) > 2 {
		t.Fatalf("len(entries) = %d, want <= capacity (2)", len(c.entries))
	}
}

func TestPinExcludesNodeFromEviction(t *testing.T) {
	c, _ := newTestCache(1)
	n, err := c.AllocNew(node.TypeLeaf)
	if err != nil {
		t.Fatalf("AllocNew: %v", err)
	}
	c.MakeEvictable(n)
	c.Pin(n)

	// At capacity 1, allocating a second node has nowhere to evict from
	// (the only resident slot is pinned), so insertLocked must proceed
	// without reclaiming it and both nodes end up resident.
	second, err := c.AllocNew(node.TypeLeaf)
	if err != nil {
		t.Fatalf("AllocNew: %v", err)
	}
	if _, ok := c.entries[n.ID()]; !ok {
		t.Fatal("pinned node was evicted despite being pinned")
	}
	if _, ok := c.entries[second.ID()]; !ok {
		t.Fatal("newly allocated node is missing from the cache")
	}
}

func TestUnevictableNodeSurvivesEvictionPressure(t *testing.T) {
	c, _ := newTestCache(1)
	n, err := c.AllocNew(node.TypeLeaf)
	if err != nil {
		t.Fatalf("AllocNew: %v", err)
	}
	// n.Unevictable() stays true: never called MakeEvictable.
	if _, err := c.AllocNew(node.TypeLeaf); err != nil {
		t.Fatalf("AllocNew second: %v", err)
	}
	if _, ok := c.entries[n.ID()]; !ok {
		t.Fatal("unevictable node was evicted")
	}
}

func TestHasBoundFramesExcludesNodeFromEviction(t *testing.T) {
	c, _ := newTestCache(1)
	n, err := c.AllocNew(node.TypeLeaf)
	if err != nil {
		t.Fatalf("AllocNew: %v", err)
	}
	c.MakeEvictable(n)
	f := &node.Frame{}
	n.Bind(f, 0)

	if _, err := c.AllocNew(node.TypeLeaf); err != nil {
		t.Fatalf("AllocNew second: %v", err)
	}
	if _, ok := c.entries[n.ID()]; !ok {
		t.Fatal("node with a bound cursor frame was evicted")
	}
}

func TestMarkDirtyThenCheckpointFlushesAndFlipsGeneration(t *testing.T) {
	c, store := newTestCache(4)
	n, err := c.AllocNew(node.TypeLeaf)
	if err != nil {
		t.Fatalf("AllocNew: %v", err)
	}
	_ = n.InsertLeafEntry(0, []byte("k"), []byte("v"), false)
	c.MarkDirty(n)
	genBefore := c.checkpointGen

	flushed, err := c.Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if flushed != 1 {
		t.Fatalf("Checkpoint flushed %d pages, want 1", flushed)
	}
	if c.checkpointGen == genBefore {
		t.Fatal("Checkpoint did not flip the dirty generation")
	}
	if n.CacheState() != node.StateClean {
		t.Fatal("flushed node should be marked clean")
	}

	buf := make([]byte, testPageSize)
	if err := store.ReadPage(n.ID(), buf, 0); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	loaded := node.Load(n.ID(), testPageSize, testMaxKey, buf)
	if loaded.NumKeys() != 1 || string(loaded.KeyAt(0)) != "k" {
		t.Fatal("checkpointed page did not persist the node's entry")
	}
}

func TestCheckpointOnlyFlushesCurrentGenerationNotNextGenerationWrites(t *testing.T) {
	c, _ := newTestCache(4)
	n, err := c.AllocNew(node.TypeLeaf)
	if err != nil {
		t.Fatalf("AllocNew: %v", err)
	}
	_ = n.InsertLeafEntry(0, []byte("k"), []byte("v"), false)
	c.MarkDirty(n) // dirtied under generation A

	if _, err := c.Checkpoint(); err != nil { // flushes A, flips current gen to B
		t.Fatalf("first Checkpoint: %v", err)
	}

	_ = n.InsertLeafEntry(n.NumKeys(), []byte("k2"), []byte("v2"), false)
	c.MarkDirty(n) // dirtied again, now under generation B

	flushed, err := c.Checkpoint() // flushes B
	if err != nil {
		t.Fatalf("second Checkpoint: %v", err)
	}
	if flushed != 1 {
		t.Fatalf("second Checkpoint flushed %d pages, want 1 (the node dirtied under B)", flushed)
	}
}

func TestDeleteNodeRemovesFromCacheAndFreesPage(t *testing.T) {
	c, _ := newTestCache(4)
	n, err := c.AllocNew(node.TypeLeaf)
	if err != nil {
		t.Fatalf("AllocNew: %v", err)
	}
	c.MakeEvictable(n)
	c.PrepareToDelete(n)
	if err := c.DeleteNode(n); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if _, ok := c.entries[n.ID()]; ok {
		t.Fatal("node still resident after DeleteNode")
	}
}

func TestRootRejectsInvalidPageID(t *testing.T) {
	c, _ := newTestCache(4)
	if _, err := c.Root(page.ID(0)); err == nil {
		t.Fatal("Root(invalid id) should return an error")
	}
}
