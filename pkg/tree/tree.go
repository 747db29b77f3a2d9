// Package tree orchestrates a single B+tree: root latch-coupled descent,
// the insert/delete operations that trigger splits and rebalances, and the
// Cursor that wraps a chain of bound node.Frame values. Grounded in the
// teacher's pkg/btree.BTreeIndex (open/find/insert/lockRoot-unlockRoot
// shape), generalized from dinodb's fixed int64 keys/values and single
// in-file pager to pagetree's variable-length byte keys, shared NodeCache,
// and per-tree Locker-mediated row locks.
package tree

import (
	"bytes"
	"sync"

	"pagetree/pkg/cache"
	"pagetree/pkg/config"
	"pagetree/pkg/lock"
	"pagetree/pkg/node"
	"pagetree/pkg/page"
	"pagetree/pkg/pgerr"
)

// Tree is one named B+tree sharing a page.Store, cache.NodeCache and
// lock.Manager with its siblings in an engine (spec §2, §3).
type Tree struct {
	Name string

	cache  *cache.NodeCache
	locks  *lock.Manager
	opts   config.Options
	rootMu sync.RWMutex // guards rootID across root splits/collapses
	rootID page.ID
}

// Open returns a Tree rooted at rootID if it's a valid page id, or creates
// a fresh empty leaf root otherwise (spec §3 Lifecycle "creation").
func Open(name string, c *cache.NodeCache, locks *lock.Manager, opts config.Options, rootID page.ID) (*Tree, error) {
	t := &Tree{Name: name, cache: c, locks: locks, opts: opts, rootID: rootID}
	if rootID.Valid() {
		return t, nil
	}
	root, err := c.AllocNew(node.TypeLeaf)
	if err != nil {
		return nil, err
	}
	root.SetRoot(true)
	root.SetExtremity(true, true)
	c.MarkDirty(root)
	c.MakeEvictable(root)
	t.rootID = root.ID()
	return t, nil
}

// RootID returns the tree's current root page id, for the owning engine to
// persist in its catalog.
func (t *Tree) RootID() page.ID {
	t.rootMu.RLock()
	defer t.rootMu.RUnlock()
	return t.rootID
}

func (t *Tree) lockKey(key []byte) lock.Key {
	return lock.Key{Tree: t.Name, Key: string(key)}
}

// descend walks from the root to the leaf that would contain key, latch
// coupling: the child is latched before the parent's latch is released, so
// a concurrent SMO can never be observed half-applied (spec §5 "latch
// coupling"). It returns the leaf, still latched (shared unless exclusive
// is requested), and the chain of ancestor frames used to get there (only
// populated when track is non-nil, for cursor construction).
func (t *Tree) descend(key []byte, exclusive bool, track *[]*node.Frame) (*node.Node, error) {
	t.rootMu.RLock()
	id := t.rootID
	t.rootMu.RUnlock()

	n, err := t.cache.Fetch(id)
	if err != nil {
		return nil, err
	}
	t.cache.Pin(n)
	n.Latch().AcquireShared()
	heldExclusive := false

	for n.Type().IsInternal() {
		pos := n.Search(key)
		childIdx := node.ChildSlot(pos)
		childID := n.ChildAt(childIdx)

		child, err := t.cache.Fetch(childID)
		if err != nil {
			n.Latch().ReleaseShared()
			t.cache.Unpin(n)
			return nil, err
		}
		t.cache.Pin(child)
		childIsLeaf := !child.Type().IsInternal()
		if childIsLeaf && exclusive {
			child.Latch().AcquireExclusive()
			heldExclusive = true
		} else {
			child.Latch().AcquireShared()
		}

		if track != nil {
			f := &node.Frame{}
			n.Bind(f, childIdx)
			*track = append(*track, f)
		}

		n.Latch().ReleaseShared()
		t.cache.Unpin(n)
		n = child
	}

	// A single-node tree (root is itself the leaf) never enters the loop
	// above, so it still holds only the initial shared latch; upgrade it.
	if exclusive && !heldExclusive {
		if !n.Latch().TryUpgrade() {
			n.Latch().ReleaseShared()
			n.Latch().AcquireExclusive()
		}
	}
	return n, nil
}

// Find looks up key and returns its value, or pgerr.ErrNotFound.
func (t *Tree) Find(key []byte) ([]byte, error) {
	l, err := t.lockShared(key)
	if err != nil {
		return nil, err
	}
	defer l.ReleaseAll()

	leaf, err := t.descend(key, false, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		leaf.Latch().ReleaseShared()
		t.cache.Unpin(leaf)
	}()

	pos := leaf.Search(key)
	if !node.Found(pos) {
		return nil, pgerr.ErrNotFound
	}
	value, _, ghost := leaf.ValueAt(pos / 2)
	if ghost {
		return nil, pgerr.ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// Insert adds key/value, returning pgerr.ErrDuplicateKey if key already
// exists (use Update to overwrite).
func (t *Tree) Insert(key, value []byte) error {
	if err := checkSize(key, t.opts); err != nil {
		return err
	}
	l, err := t.lockExclusive(key)
	if err != nil {
		return err
	}
	defer l.ReleaseAll()

	leaf, err := t.descend(key, true, nil)
	if err != nil {
		return err
	}
	defer func() {
		leaf.Latch().ReleaseExclusive()
		t.cache.Unpin(leaf)
	}()

	pos := leaf.Search(key)
	if node.Found(pos) {
		return pgerr.ErrDuplicateKey
	}
	slot := node.InsertionPoint(pos)

	if leaf.Fits(len(key), len(value)) {
		if err := leaf.InsertLeafEntry(slot, key, value, false); err != nil {
			return err
		}
		t.cache.MarkDirty(leaf)
		return nil
	}
	return t.splitAndInsert(leaf, slot, key, value)
}

// Update overwrites the value for an existing key, or returns
// pgerr.ErrNotFound.
func (t *Tree) Update(key, value []byte) error {
	if err := checkSize(key, t.opts); err != nil {
		return err
	}
	l, err := t.lockExclusive(key)
	if err != nil {
		return err
	}
	defer l.ReleaseAll()

	leaf, err := t.descend(key, true, nil)
	if err != nil {
		return err
	}
	defer func() {
		leaf.Latch().ReleaseExclusive()
		t.cache.Unpin(leaf)
	}()

	pos := leaf.Search(key)
	if !node.Found(pos) {
		return pgerr.ErrNotFound
	}
	if err := leaf.UpdateLeafValue(pos/2, value, false); err != nil {
		return err
	}
	t.cache.MarkDirty(leaf)
	return nil
}

// Delete removes key, or returns pgerr.ErrNotFound. When the leaf drops
// below the merge-eligible threshold it attempts a rebalance against a
// sibling before returning, recursively propagating a merge up through
// ancestors (and collapsing the root) exactly as a split propagates up on
// the insert path (spec §4.6, §4.8).
//
// Like splitAndInsert, this only escalates to a full exclusive root-to-leaf
// latch chain when a structural modification turns out to be needed: the
// delete itself runs under descend's ordinary latch-coupled fast path (a
// single exclusively-latched leaf, released immediately after), and only if
// that leaves the leaf underfull does Delete re-descend under the
// whole-path exclusive latch rebalanceLeaf/rebalanceInternal require. A
// plain delete that doesn't underflow its leaf therefore never blocks a
// concurrent Find/Insert/Update/Delete on an unrelated key the way holding
// rootMu for the whole call would.
func (t *Tree) Delete(key []byte) error {
	l, err := t.lockExclusive(key)
	if err != nil {
		return err
	}
	defer l.ReleaseAll()

	leaf, err := t.descend(key, true, nil)
	if err != nil {
		return err
	}
	pos := leaf.Search(key)
	if !node.Found(pos) {
		leaf.Latch().ReleaseExclusive()
		t.cache.Unpin(leaf)
		return pgerr.ErrNotFound
	}
	leaf.DeleteLeafEntry(pos / 2)
	t.cache.MarkDirty(leaf)
	underfull := leaf.Underfull()
	leaf.Latch().ReleaseExclusive()
	t.cache.Unpin(leaf)
	if !underfull {
		return nil
	}

	t.rootMu.Lock()
	defer t.rootMu.Unlock()

	path, err := t.pathToLeaf(key)
	if err != nil {
		return err
	}
	defer unlatchAll(path)

	// The leaf may have changed shape (or even identity, if an intervening
	// insert raced in and split it) between releasing its latch above and
	// retaking the full path here; recheck rather than trusting the first
	// pass's verdict.
	leaf = path[len(path)-1]
	if len(path) == 1 || !leaf.Underfull() {
		return nil
	}
	return t.rebalanceLeaf(path[:len(path)-1], leaf)
}

// childIndex returns the 0-based child-array slot of parent holding id.
func childIndex(parent *node.Node, id page.ID) (int, bool) {
	for i := 0; i <= parent.NumKeys(); i++ {
		if parent.ChildAt(i) == id {
			return i, true
		}
	}
	return 0, false
}

// rebalanceDirOrder returns the two rebalance directions to try, ordered
// pseudo-randomly by the low bit of id, so a workload that repeatedly
// underflows the same node doesn't pathologically rebalance the same way
// every time (spec §4.6).
func rebalanceDirOrder(id page.ID) [2]node.Dir {
	if id&1 == 1 {
		return [2]node.Dir{node.DirRight, node.DirLeft}
	}
	return [2]node.Dir{node.DirLeft, node.DirRight}
}

// rebalanceLeaf attempts to fix an underfull leaf against the first existing
// adjacent sibling in rebalanceDirOrder: it merges the two (and recurses
// into the parent) when the left one can absorb the right, and otherwise
// redistributes entries with that sibling. ancestors holds every node
// from the root down to (not including) leaf, all already exclusively
// latched by the caller's pathToLeaf.
func (t *Tree) rebalanceLeaf(ancestors []*node.Node, leaf *node.Node) error {
	parent := ancestors[len(ancestors)-1]
	idx, ok := childIndex(parent, leaf.ID())
	if !ok {
		return nil
	}

	for _, dir := range rebalanceDirOrder(leaf.ID()) {
		siblingIdx := idx - 1
		sepPos := siblingIdx
		if dir == node.DirRight {
			siblingIdx = idx + 1
			sepPos = idx
		}
		if siblingIdx < 0 || siblingIdx > parent.NumKeys() {
			continue
		}
		siblingID := parent.ChildAt(siblingIdx)
		if !siblingID.Valid() {
			continue
		}
		sibling, err := t.cache.Fetch(siblingID)
		if err != nil {
			return err
		}
		t.cache.Pin(sibling)
		sibling.Latch().AcquireExclusive()

		left, right := leaf, sibling
		if dir == node.DirLeft {
			left, right = sibling, leaf
		}

		if left.CanAbsorb(right) {
			node.MergeLeaves(left, right)
			t.cache.MarkDirty(left)
			t.cache.PrepareToDelete(right)
			err := t.cache.DeleteNode(right)
			sibling.Latch().ReleaseExclusive()
			t.cache.Unpin(sibling)
			if err != nil {
				return err
			}
			parent.DeleteInternalEntry(sepPos)
			t.cache.MarkDirty(parent)
			return t.rebalanceAfterChildRemoved(ancestors, parent)
		}

		sepKey := node.RedistributeLeaves(leaf, sibling, dir)
		err = parent.ReplaceKeyAt(sepPos, sepKey)
		t.cache.MarkDirty(leaf)
		t.cache.MarkDirty(sibling)
		sibling.Latch().ReleaseExclusive()
		t.cache.Unpin(sibling)
		if err != nil {
			return err
		}
		t.cache.MarkDirty(parent)
		return nil
	}
	// Single-child parent (no sibling on either side): nothing to rebalance
	// against, so the leaf is left underfull but correct.
	return nil
}

// rebalanceInternal is rebalanceLeaf's counterpart for an internal node that
// went underfull after a child merge. Only merging is attempted: the node
// package exposes no internal-node redistribute (only MergeInternals), so
// an internal node that can't fully absorb a sibling is left underfull
// rather than redistributed.
func (t *Tree) rebalanceInternal(ancestors []*node.Node, n *node.Node) error {
	parent := ancestors[len(ancestors)-1]
	idx, ok := childIndex(parent, n.ID())
	if !ok {
		return nil
	}

	for _, dir := range rebalanceDirOrder(n.ID()) {
		siblingIdx := idx - 1
		sepPos := siblingIdx
		if dir == node.DirRight {
			siblingIdx = idx + 1
			sepPos = idx
		}
		if siblingIdx < 0 || siblingIdx > parent.NumKeys() {
			continue
		}
		siblingID := parent.ChildAt(siblingIdx)
		if !siblingID.Valid() {
			continue
		}
		sibling, err := t.cache.Fetch(siblingID)
		if err != nil {
			return err
		}
		t.cache.Pin(sibling)
		sibling.Latch().AcquireExclusive()

		left, right := n, sibling
		if dir == node.DirLeft {
			left, right = sibling, n
		}

		if !left.CanAbsorb(right) {
			sibling.Latch().ReleaseExclusive()
			t.cache.Unpin(sibling)
			continue
		}

		parentSep := append([]byte(nil), parent.KeyAt(sepPos)...)
		node.MergeInternals(left, right, parentSep)
		t.cache.MarkDirty(left)
		t.cache.PrepareToDelete(right)
		err = t.cache.DeleteNode(right)
		sibling.Latch().ReleaseExclusive()
		t.cache.Unpin(sibling)
		if err != nil {
			return err
		}
		parent.DeleteInternalEntry(sepPos)
		t.cache.MarkDirty(parent)
		return t.rebalanceAfterChildRemoved(ancestors, parent)
	}
	return nil
}

// rebalanceAfterChildRemoved is called once a child of parent has just been
// merged away (parent.DeleteInternalEntry already applied). If parent is
// the root, a child count of one means the tree has shrunk a level and
// should collapse (spec §4.8); otherwise, if parent itself is now
// underfull, the rebalance continues one level up.
func (t *Tree) rebalanceAfterChildRemoved(ancestors []*node.Node, parent *node.Node) error {
	if len(ancestors) == 1 {
		return t.maybeCollapseRoot(parent)
	}
	if !parent.Underfull() {
		return nil
	}
	return t.rebalanceInternal(ancestors[:len(ancestors)-1], parent)
}

// maybeCollapseRoot replaces the tree's root with its sole remaining child
// once a merge has left root with zero separator keys (spec §4.8 "root
// collapse"). root is already exclusively latched by the caller's
// pathToLeaf.
func (t *Tree) maybeCollapseRoot(root *node.Node) error {
	if root.NumKeys() > 0 {
		return nil
	}
	childID := root.ChildAt(0)
	if !childID.Valid() {
		return nil
	}
	child, err := t.cache.Fetch(childID)
	if err != nil {
		return err
	}
	t.cache.Pin(child)
	child.Latch().AcquireExclusive()
	child.SetRoot(true)
	child.SetExtremity(true, true)
	t.cache.MarkDirty(child)
	child.Latch().ReleaseExclusive()
	t.cache.Unpin(child)

	root.SetRoot(false)
	t.cache.PrepareToDelete(root)
	if err := t.cache.DeleteNode(root); err != nil {
		return err
	}
	t.rootID = child.ID()
	return nil
}

// lockShared and lockExclusive give each single-call Find/Insert/Update/
// Delete method a fresh lock.Locker holding only that one key, released
// when the call returns. This package accepts no caller-supplied Locker, so
// these methods give no atomicity across calls.
func (t *Tree) lockShared(key []byte) (*lock.Locker, error) {
	l := lock.New(t.locks)
	if err := l.Lock(t.lockKey(key), lock.Shared); err != nil {
		return nil, err
	}
	return l, nil
}

func (t *Tree) lockExclusive(key []byte) (*lock.Locker, error) {
	l := lock.New(t.locks)
	if err := l.Lock(t.lockKey(key), lock.Exclusive); err != nil {
		return nil, err
	}
	return l, nil
}

func checkSize(key []byte, opts config.Options) error {
	if len(key) == 0 || len(key) > opts.MaxKeySize {
		return pgerr.ErrKeyTooLarge
	}
	return nil
}

// splitAndInsert splits leaf (which doesn't have room for key/value),
// inserts the new entry into whichever half it belongs in, and propagates
// the new separator up the tree — recursively splitting ancestors and
// finally the root if necessary (spec §4.5, §4.7 "root split").
//
// This implementation re-descends from the root under an exclusive root
// latch for the split itself rather than keeping every ancestor latched
// down from the original shared descent; it trades a small amount of
// extra-latching overhead on the (rarer) split path for not having to keep
// a full ancestor-frame stack alive through the common unsplit path.
func (t *Tree) splitAndInsert(leaf *node.Node, slot int, key, value []byte) error {
	t.rootMu.Lock()
	defer t.rootMu.Unlock()

	path, err := t.pathToLeaf(key)
	if err != nil {
		return err
	}
	defer unlatchAll(path)

	cur := path[len(path)-1]
	pos := cur.Search(key)
	slot = node.InsertionPoint(pos)
	if node.Found(pos) {
		return pgerr.ErrDuplicateKey
	}
	if cur.Fits(len(key), len(value)) {
		if err := cur.InsertLeafEntry(slot, key, value, false); err != nil {
			return err
		}
		t.cache.MarkDirty(cur)
		return nil
	}

	split, err := cur.SplitLeaf(t.alloc)
	if err != nil {
		return err
	}
	if bytes.Compare(key, split.Key) < 0 {
		_ = cur.InsertLeafEntry(node.InsertionPoint(cur.Search(key)), key, value, false)
	} else {
		_ = split.Sibling.InsertLeafEntry(node.InsertionPoint(split.Sibling.Search(key)), key, value, false)
	}
	t.cache.MarkDirty(cur)
	t.cache.MarkDirty(split.Sibling)
	t.cache.MakeEvictable(split.Sibling)

	return t.propagateSplit(path[:len(path)-1], cur, split)
}

// propagateSplit inserts newRight's separator key into child's parent
// (path's last element), splitting that ancestor in turn if it has no
// room, up to and including creating a new root if path is empty.
func (t *Tree) propagateSplit(path []*node.Node, child *node.Node, split *node.Split) error {
	if len(path) == 0 {
		return t.newRoot(child, split)
	}
	parent := path[len(path)-1]
	childIdx := parent.Search(split.Key)
	slot := node.InsertionPoint(childIdx)

	if parent.InternalFits(len(split.Key)) {
		if err := parent.InsertInternalEntry(slot, split.Key, split.Sibling.ID()); err != nil {
			return err
		}
		t.cache.MarkDirty(parent)
		return nil
	}

	pSplit, err := parent.SplitInternal(t.alloc)
	if err != nil {
		return err
	}
	target := parent
	if bytes.Compare(split.Key, pSplit.Key) >= 0 {
		target = pSplit.Sibling
	}
	targetSlot := node.InsertionPoint(target.Search(split.Key))
	if err := target.InsertInternalEntry(targetSlot, split.Key, split.Sibling.ID()); err != nil {
		return err
	}
	t.cache.MarkDirty(parent)
	t.cache.MarkDirty(pSplit.Sibling)
	t.cache.MakeEvictable(pSplit.Sibling)

	return t.propagateSplit(path[:len(path)-1], parent, pSplit)
}

// newRoot builds a fresh internal root over oldRoot and its new sibling,
// making the tree one level taller (spec §4.7).
func (t *Tree) newRoot(oldRoot *node.Node, split *node.Split) error {
	typ := node.TypeInternal
	if oldRoot.Type() == node.TypeLeaf {
		typ = node.TypeBottomInternal
	}
	root, err := t.cache.AllocNew(typ)
	if err != nil {
		return err
	}
	root.SetExtremity(true, true)
	root.SetChildAt(0, oldRoot.ID())
	if err := root.InsertInternalEntry(0, split.Key, split.Sibling.ID()); err != nil {
		return err
	}
	oldRoot.SetRoot(false)
	root.SetRoot(true)
	t.cache.MarkDirty(root)
	t.cache.MakeEvictable(root)
	t.rootID = root.ID()
	return nil
}

// pathToLeaf exclusively latches every node from the root down to key's
// leaf, returning them in descending order (root first). Used on the
// (rare) split path, where every ancestor might itself need splitting, and
// by Delete before rebalancing an underfull leaf.
func (t *Tree) pathToLeaf(key []byte) ([]*node.Node, error) {
	n, err := t.cache.Fetch(t.rootID)
	if err != nil {
		return nil, err
	}
	t.cache.Pin(n)
	n.Latch().AcquireExclusive()
	path := []*node.Node{n}

	for n.Type().IsInternal() {
		idx := node.ChildSlot(n.Search(key))
		childID := n.ChildAt(idx)
		child, err := t.cache.Fetch(childID)
		if err != nil {
			return path, err
		}
		t.cache.Pin(child)
		child.Latch().AcquireExclusive()
		path = append(path, child)
		n = child
	}
	return path, nil
}

func unlatchAll(path []*node.Node) {
	for _, n := range path {
		n.Latch().ReleaseExclusive()
	}
}

// alloc is the node.allocFunc the split helpers use to mint new sibling
// pages through this tree's shared cache.
func (t *Tree) alloc(typ node.Type) (*node.Node, error) {
	n, err := t.cache.AllocNew(typ)
	if err != nil {
		return nil, err
	}
	return n, nil
}
