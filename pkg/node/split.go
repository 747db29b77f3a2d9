package node

import "pagetree/pkg/page"

// allocFunc mints a fresh, unevictable page id and zeroed Node of the given
// type, backed by the cache (spec §4.1's allocUnevictable). split.go takes
// it as a parameter rather than depending on pkg/cache directly, keeping
// this package's only dependency on page ids and byte layout.
type allocFunc func(typ Type) (*Node, error)

// SplitLeaf splits an overfull leaf that cannot accept a pending entry.
// Entries are divided by accumulated byte size rather than strict entry
// count, so that a page of wildly uneven entry sizes still splits close to
// the middle of its bytes (spec §4.5). The new sibling is always created to
// the right; this keeps ascending-key bulk loads (the common case) from
// needing to rebind cursor frames on the node they're already positioned
// on, since the original node keeps its left half.
func (n *Node) SplitLeaf(alloc allocFunc) (*Split, error) {
	sib, err := alloc(TypeLeaf)
	if err != nil {
		return nil, err
	}
	sib.SetExtremity(false, n.highExtremity)
	n.SetExtremity(n.lowExtremity, false)

	count := n.NumKeys()
	type raw struct{ key, value []byte; fragmented bool }
	entries := make([]raw, count)
	totalBytes := 0
	for i := 0; i < count; i++ {
		k := append([]byte(nil), n.KeyAt(i)...)
		v, frag, ghost := n.ValueAt(i)
		var vv []byte
		if !ghost {
			vv = append([]byte(nil), v...)
		}
		entries[i] = raw{k, vv, frag}
		totalBytes += leafEntrySize(len(k), len(vv))
	}

	half := totalBytes / 2
	acc, split := 0, count/2
	for i := 0; i < count; i++ {
		acc += leafEntrySize(len(entries[i].key), len(entries[i].value))
		if acc >= half {
			split = i + 1
			break
		}
	}
	if split <= 0 {
		split = 1
	}
	if split >= count {
		split = count - 1
	}

	// Rebind every cursor frame that now belongs on the sibling half before
	// the entries move, while frame positions still refer to n's original
	// (pre-split) indices (spec §4.11 "frames are updated wholesale by any
	// SMO").
	n.EachFrame(func(f *Frame) {
		idx, found := frameIndex(f.Pos)
		if idx < split {
			return
		}
		newIdx := idx - split
		if found {
			f.Rebind(sib, newIdx*2)
		} else {
			f.Rebind(sib, ^(newIdx * 2))
		}
	})

	for i := count - 1; i >= split; i-- {
		n.DeleteLeafEntry(i)
	}
	n.Compact()

	for i := split; i < count; i++ {
		e := entries[i]
		if err := sib.InsertLeafEntry(i-split, e.key, e.value, e.fragmented); err != nil {
			return nil, err
		}
	}

	sep := append([]byte(nil), entries[split].key...)
	return &Split{Right: true, Sibling: sib, Key: sep}, nil
}

// SplitInternal splits an overfull internal node. The middle separator key
// is promoted directly into the parent (not copied into either half, per
// the classic B+tree internal-split rule), and child pointers are
// partitioned around it.
func (n *Node) SplitInternal(alloc allocFunc) (*Split, error) {
	sib, err := alloc(n.typ)
	if err != nil {
		return nil, err
	}
	sib.SetExtremity(false, n.highExtremity)
	n.SetExtremity(n.lowExtremity, false)

	count := n.NumKeys()
	keys := make([][]byte, count)
	for i := 0; i < count; i++ {
		keys[i] = append([]byte(nil), n.KeyAt(i)...)
	}
	children := make([]page.ID, count+1)
	for i := 0; i <= count; i++ {
		children[i] = n.ChildAt(i)
	}

	mid := count / 2
	sep := keys[mid]

	for i := mid + 1; i < count; i++ {
		if err := sib.InsertInternalEntry(i-mid-1, keys[i], children[i+1]); err != nil {
			return nil, err
		}
	}
	sib.SetChildAt(0, children[mid+1])

	for i := count - 1; i >= mid; i-- {
		n.DeleteInternalEntry(i)
	}
	n.CompactInternal()

	return &Split{Right: true, Sibling: sib, Key: sep}, nil
}
