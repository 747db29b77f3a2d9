package tree

import (
	"pagetree/pkg/kv"
	"pagetree/pkg/node"
	"pagetree/pkg/pgerr"
)

// Cursor is a stable iteration position over a Tree, bound to a leaf via a
// node.Frame so that concurrent splits/rebalances on that leaf rebind the
// cursor rather than invalidating it (spec §4.11). Grounded in the
// teacher's pkg/cursor (the tiny TableCursor interface dinodb's REPL layer
// used), generalized to carry a node.Frame instead of a raw page number.
type Cursor struct {
	t     *Tree
	frame *node.Frame
}

// First positions a new Cursor at the smallest key in the tree.
func (t *Tree) First() (*Cursor, error) {
	return t.seekExtremity(true)
}

// Last positions a new Cursor at the largest key in the tree.
func (t *Tree) Last() (*Cursor, error) {
	return t.seekExtremity(false)
}

func (t *Tree) seekExtremity(low bool) (*Cursor, error) {
	t.rootMu.RLock()
	id := t.rootID
	t.rootMu.RUnlock()

	n, err := t.cache.Fetch(id)
	if err != nil {
		return nil, err
	}
	t.cache.Pin(n)
	n.Latch().AcquireShared()
	for n.Type().IsInternal() {
		idx := 0
		if !low {
			idx = n.NumKeys()
		}
		childID := n.ChildAt(idx)
		child, err := t.cache.Fetch(childID)
		if err != nil {
			n.Latch().ReleaseShared()
			t.cache.Unpin(n)
			return nil, err
		}
		t.cache.Pin(child)
		child.Latch().AcquireShared()
		n.Latch().ReleaseShared()
		t.cache.Unpin(n)
		n = child
	}

	pos := 0
	if !low && n.NumKeys() > 0 {
		pos = (n.NumKeys() - 1) * 2
	} else if n.NumKeys() == 0 {
		pos = ^0
	}
	f := &node.Frame{}
	n.Bind(f, pos)
	n.Latch().ReleaseShared()
	return &Cursor{t: t, frame: f}, nil
}

// Seek positions a new Cursor at key, or at its insertion point if key
// isn't present (spec §4.11 "notFoundKey").
func (t *Tree) Seek(key []byte) (*Cursor, error) {
	leaf, err := t.descend(key, false, nil)
	if err != nil {
		return nil, err
	}
	pos := leaf.Search(key)
	f := &node.Frame{}
	if !node.Found(pos) {
		f.NotFoundKey = append([]byte(nil), key...)
	}
	leaf.Bind(f, pos)
	leaf.Latch().ReleaseShared()
	t.cache.Unpin(leaf)
	return &Cursor{t: t, frame: f}, nil
}

// withNode runs fn with the cursor's bound node shared-latched and pinned.
func (c *Cursor) withNode(fn func(n *node.Node) error) error {
	n := c.frame.Node
	if n == nil {
		return pgerr.ErrNotFound
	}
	n.Latch().AcquireShared()
	defer n.Latch().ReleaseShared()
	return fn(n)
}

// Pair returns the key/value at the cursor's current position.
func (c *Cursor) Pair() (kv.Pair, error) {
	var out kv.Pair
	err := c.withNode(func(n *node.Node) error {
		if !node.Found(c.frame.Pos) {
			return pgerr.ErrNotFound
		}
		slot := c.frame.Pos / 2
		key := n.KeyAt(slot)
		value, _, ghost := n.ValueAt(slot)
		if ghost {
			return pgerr.ErrNotFound
		}
		out = kv.Pair{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)}
		return nil
	})
	return out, err
}

// Next advances the cursor to the following key within its current leaf.
// Crossing into the next leaf once the current one is exhausted needs a
// sibling pointer this package's fixed 12-byte header has no room for (see
// DESIGN.md); callers that need a full-range scan across many leaves
// should re-Seek using the last key returned by Pair plus one, which costs
// a fresh root descent per leaf boundary rather than a sibling hop.
func (c *Cursor) Next() error {
	return c.withNode(func(n *node.Node) error {
		slot := node.InsertionPoint(c.frame.Pos)
		if node.Found(c.frame.Pos) {
			slot++
		}
		if slot >= n.NumKeys() {
			c.frame.Pos = ^(n.NumKeys() * 2)
			return pgerr.ErrNotFound
		}
		c.frame.Pos = slot * 2
		return nil
	})
}

// Close releases the cursor's bound frame.
func (c *Cursor) Close() {
	if n := c.frame.Node; n != nil {
		n.Latch().AcquireExclusive()
		c.frame.Unbind()
		n.Latch().ReleaseExclusive()
	}
}
