// Package cache implements the NodeCache: an LRU pool of in-memory Node
// buffers backed by a page.Store, with dirty-generation checkpointing and
// singleflight-coalesced concurrent child faulting (spec §4.1). Grounded in
// the teacher's pkg/pager (the page-pool-with-free-list idea) generalized
// from a flat slice of fixed-size page buffers to a capacity-bounded LRU
// pool of node.Node values that can be evicted and refetched.
package cache

import (
	"strconv"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sync/singleflight"

	"pagetree/pkg/list"
	"pagetree/pkg/node"
	"pagetree/pkg/page"
	"pagetree/pkg/pgerr"
)

type slot struct {
	n        *node.Node
	link     *list.Link // lru list link, value is the page.ID
	pinCount int
}

// NodeCache is the engine's buffer pool for node.Node values.
type NodeCache struct {
	mu       sync.Mutex
	store    page.Store
	capacity int
	pageSize int
	maxKey   int

	entries map[page.ID]*slot
	lru     *list.List

	group singleflight.Group // coalesces concurrent faults of the same page id

	// checkpointGen flips between node.StateDirtyA and node.StateDirtyB each
	// checkpoint, so a node written since the last flip is distinguishable
	// from one dirtied before it without needing a separate dirty page list
	// (spec §4.1 "dirty generations").
	checkpointGen node.CacheState

	// evictBits marks, by position counted from the LRU tail, which slots an
	// eviction scan found ineligible (pinned, unevictable or framed). It is
	// cleared after each eviction, and a scan never skips a position because
	// of a bit left by an earlier call.
	evictBits *bitset.BitSet
}

// New creates a NodeCache of the given capacity (in nodes) backed by store.
func New(store page.Store, capacity int, maxKeySize int) *NodeCache {
	return &NodeCache{
		store:         store,
		capacity:      capacity,
		pageSize:      int(store.PageSize()),
		maxKey:        maxKeySize,
		entries:       make(map[page.ID]*slot, capacity),
		lru:           list.NewList(),
		checkpointGen: node.StateDirtyA,
		evictBits:     bitset.New(uint(capacity)),
	}
}

// Fetch returns the Node for id, loading it from the store if it isn't
// resident. Concurrent Fetch calls for the same id block on the same
// in-flight read rather than issuing redundant I/O (spec §4.1 "concurrent
// child faulting").
func (c *NodeCache) Fetch(id page.ID) (*node.Node, error) {
	c.mu.Lock()
	if s, ok := c.entries[id]; ok {
		c.touch(s)
		c.mu.Unlock()
		return s.n, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(strconv.FormatUint(uint64(id), 10), func() (interface{}, error) {
		c.mu.Lock()
		if s, ok := c.entries[id]; ok {
			c.mu.Unlock()
			return s.n, nil
		}
		c.mu.Unlock()

		buf := make([]byte, c.pageSize)
		if err := c.store.ReadPage(id, buf, 0); err != nil {
			return nil, err
		}
		n := node.Load(id, c.pageSize, c.maxKey, buf)

		c.mu.Lock()
		defer c.mu.Unlock()
		if s, ok := c.entries[id]; ok {
			// Lost the race to another Fetch that wasn't coalesced (e.g. it
			// started before this one joined the singleflight group).
			return s.n, nil
		}
		c.insertLocked(n)
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*node.Node), nil
}

// AllocNew allocates a fresh page id from the store and returns a new,
// unevictable Node of typ resident in the cache (spec §4.1
// "allocUnevictable"). The caller must call MakeEvictable once the node is
// safe to reclaim (e.g. after it's linked into the tree).
func (c *NodeCache) AllocNew(typ node.Type) (*node.Node, error) {
	id, err := c.store.Allocate()
	if err != nil {
		return nil, err
	}
	n := node.New(id, c.pageSize, c.maxKey, typ)
	n.SetUnevictable(true)

	c.mu.Lock()
	c.insertLocked(n)
	c.mu.Unlock()
	return n, nil
}

// insertLocked adds n to the cache, evicting cold entries first if at
// capacity. Caller must hold c.mu.
func (c *NodeCache) insertLocked(n *node.Node) {
	for len(c.entries) >= c.capacity {
		if !c.evictOneLocked() {
			break // every resident node is pinned, unevictable, or framed
		}
	}
	link := c.lru.PushHead(n.ID())
	c.entries[n.ID()] = &slot{n: n, link: link}
}

func (c *NodeCache) touch(s *slot) {
	s.link = list.MoveToFront(c.lru, s.link)
}

// evictOneLocked reclaims the coldest eligible slot (scanning from the LRU
// tail), flushing it to the store first if dirty. Returns false if no slot
// is currently eligible for eviction. Every call starts at the LRU tail and
// examines each position in turn until it finds an eligible slot; evictBits
// records the ineligible positions it passes, but a later call does not use
// them to skip nodes that are still pinned.
func (c *NodeCache) evictOneLocked() bool {
	if uint(c.capacity) != c.evictBits.Len() {
		c.evictBits = bitset.New(uint(c.capacity))
	}
	skip := uint(0)
	for l, i := c.lru.PeekTail(), uint(0); l != nil; l, i = l.GetPrev(), i+1 {
		if i < skip && c.evictBits.Test(i) {
			continue
		}
		id := l.GetValue().(page.ID)
		s := c.entries[id]
		if s == nil || s.pinCount > 0 || s.n.Unevictable() || s.n.HasBoundFrames() {
			c.evictBits.Set(i)
			if i >= skip {
				skip = i + 1
			}
			continue
		}
		if s.n.CacheState() != node.StateClean {
			if err := c.flushLocked(s.n); err != nil {
				continue // leave it resident; caller will see capacity pressure instead of losing data
			}
		}
		l.PopSelf()
		delete(c.entries, id)
		c.evictBits.ClearAll() // list positions shifted; stale bits would skip the wrong slots
		return true
	}
	return false
}

func (c *NodeCache) flushLocked(n *node.Node) error {
	if err := c.store.WritePage(n.ID(), n.Buf(), 0); err != nil {
		return err
	}
	n.SetCacheState(node.StateClean)
	return nil
}

// MarkDirty records that n has been mutated since its last flush, stamping
// it with the cache's current checkpoint generation.
func (c *NodeCache) MarkDirty(n *node.Node) {
	n.SetCacheState(c.checkpointGen)
}

// Used bumps n to the front of the LRU list, recording recent access.
func (c *NodeCache) Used(n *node.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.entries[n.ID()]; ok {
		c.touch(s)
	}
}

// Pin increments n's pin count, excluding it from eviction until a matching
// Unpin. Latch-holding traversals pin every node they descend through.
func (c *NodeCache) Pin(n *node.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.entries[n.ID()]; ok {
		s.pinCount++
	}
}

// Unpin decrements n's pin count.
func (c *NodeCache) Unpin(n *node.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.entries[n.ID()]; ok && s.pinCount > 0 {
		s.pinCount--
	}
}

// MakeEvictable clears the unevictable flag AllocNew (or a split) set.
func (c *NodeCache) MakeEvictable(n *node.Node) {
	n.SetUnevictable(false)
}

// PrepareToDelete marks n so it will never again be faulted in or written
// back, ahead of DeleteNode (spec §4.1 "prepareToDelete/deleteNode" pair,
// which exists so the page id can be freed at the store level only after
// every latch holder has observed the node is going away).
func (c *NodeCache) PrepareToDelete(n *node.Node) {
	n.SetCacheState(node.StateClean) // never flush a page about to be freed
}

// DeleteNode evicts n from the cache immediately and frees its page id.
func (c *NodeCache) DeleteNode(n *node.Node) error {
	c.mu.Lock()
	if s, ok := c.entries[n.ID()]; ok {
		s.link.PopSelf()
		delete(c.entries, n.ID())
	}
	c.mu.Unlock()
	return c.store.Free(n.ID())
}

// Checkpoint flushes every dirty node written since the previous
// checkpoint and flips the dirty generation, so nodes mutated during the
// checkpoint itself are distinguishable from the ones the checkpoint is
// flushing (spec §4.1). Returns the number of pages flushed.
func (c *NodeCache) Checkpoint() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	flushing := c.checkpointGen
	if c.checkpointGen == node.StateDirtyA {
		c.checkpointGen = node.StateDirtyB
	} else {
		c.checkpointGen = node.StateDirtyA
	}

	flushed := 0
	for _, s := range c.entries {
		if s.n.CacheState() == flushing {
			if err := c.flushLocked(s.n); err != nil {
				return flushed, err
			}
			flushed++
		}
	}
	if err := c.store.Sync(true); err != nil {
		return flushed, err
	}
	return flushed, nil
}

// Root returns the resident root node if the cache has already been told
// which page id is the root; engines track that separately (pkg/tree), so
// this is just a Fetch with a clearer name at the call site.
func (c *NodeCache) Root(id page.ID) (*node.Node, error) {
	if !id.Valid() {
		return nil, pgerr.ErrCorruptPage
	}
	return c.Fetch(id)
}
