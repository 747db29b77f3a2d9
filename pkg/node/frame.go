package node

// Frame is a position marker bound to a leaf (or, momentarily during a root
// split, an internal) node, as spec §4.11. Frames bound to the same node
// form a doubly-linked list anchored at Node.frames; SMOs walk that list to
// rebind every frame before releasing the node's latch.
type Frame struct {
	Node *Node
	Pos  int // 2-based offset into the search vector, or ^(insertionPoint*2) if not found

	// NotFoundKey caches the original search key when Pos is negative, so a
	// later rebalance/split can re-derive where the cursor should land after
	// the separator moves (spec §4.6 step 7).
	NotFoundKey []byte

	Parent *Frame // the frame bound to this node's parent, if any

	next, prev *Frame // node.frames intrusive list links
}

// Bind attaches f to n at position pos, inserting it at the head of n's
// frame list. The caller must hold n's latch.
func (n *Node) Bind(f *Frame, pos int) {
	f.Node = n
	f.Pos = pos
	f.next = n.frames
	f.prev = nil
	if n.frames != nil {
		n.frames.prev = f
	}
	n.frames = f
}

// Unbind detaches f from its node's frame list. The caller must hold the
// node's latch.
func (f *Frame) Unbind() {
	n := f.Node
	if n == nil {
		return
	}
	if f.prev != nil {
		f.prev.next = f.next
	} else if n.frames == f {
		n.frames = f.next
	}
	if f.next != nil {
		f.next.prev = f.prev
	}
	f.next, f.prev, f.Node = nil, nil, nil
}

// Rebind moves f from its current node to n at the given position. The
// caller must hold both nodes' latches (they are the same latch when n ==
// f.Node's sibling reached through a shared parent latch, per the rebalance
// and split protocols).
func (f *Frame) Rebind(n *Node, pos int) {
	f.Unbind()
	n.Bind(f, pos)
}

// HasBoundFrames reports whether any cursor frame currently references n.
// Eviction must not reclaim a node with bound frames (spec §4.1).
func (n *Node) HasBoundFrames() bool {
	return n.frames != nil
}

// EachFrame calls fn for every frame currently bound to n. fn may call
// Rebind on the frame (which only unlinks it from n, so iteration using the
// saved "next" pointer remains valid), but must not touch frames of other
// nodes.
func (n *Node) EachFrame(fn func(f *Frame)) {
	f := n.frames
	for f != nil {
		next := f.next
		fn(f)
		f = next
	}
}

// frameIndex decodes a Frame.Pos into the entry index it refers to and
// whether that position was an exact match (as opposed to an insertion
// point for a miss), mirroring the Found/InsertionPoint convention Search
// results use.
func frameIndex(pos int) (idx int, found bool) {
	if pos >= 0 {
		return pos / 2, true
	}
	return ^pos / 2, false
}
