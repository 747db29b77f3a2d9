package node

// mergeThreshold is the fraction of FreeBytes()+used bytes below which a
// node is considered underfull and a rebalance candidate (spec §4.6).
const mergeThreshold = 0.5

// Underfull reports whether n's live data occupies less than mergeThreshold
// of a fresh page's usable space, making it a rebalance candidate after a
// delete. vecZoneSlack is subtracted out so a page's unused reserved
// search-vector slots (see maxEntriesFor) aren't counted as occupied space.
func (n *Node) Underfull() bool {
	used := n.pageSize - n.dataStart - n.FreeBytes() - n.garbage() - n.vecZoneSlack()
	return float64(used) < mergeThreshold*float64(n.pageSize-n.dataStart)
}

// CanAbsorb reports whether n has enough free bytes and free vector slots
// to hold everything currently stored in other (used to decide whether a
// rebalance should merge two underfull siblings into one rather than just
// redistributing entries between them).
func (n *Node) CanAbsorb(other *Node) bool {
	used := other.pageSize - other.dataStart - other.FreeBytes() - other.garbage() - other.vecZoneSlack()
	return used <= n.FreeBytes() && n.NumKeys()+other.NumKeys() <= n.maxEntries
}

// MergeLeaves moves every entry of right into the end of left (left must be
// right's immediate left sibling, and CanAbsorb(left, right) must hold). It
// returns nothing; the caller drops the parent's separator between the two,
// since right ceases to exist. Every cursor frame still bound to right is rebound onto
// left at its new position (spec §4.11).
func MergeLeaves(left, right *Node) {
	left.Compact()
	right.Compact()
	n := right.NumKeys()
	leftBase := left.NumKeys()
	newIndex := make([]int, n) // right's old index -> left's new index, -1 if dropped (ghost)
	next := leftBase
	for i := 0; i < n; i++ {
		key := right.KeyAt(i)
		value, frag, ghost := right.ValueAt(i)
		if ghost {
			newIndex[i] = -1
			continue
		}
		_ = left.InsertLeafEntry(left.NumKeys(), key, value, frag)
		newIndex[i] = next
		next++
	}
	left.SetExtremity(left.lowExtremity, right.highExtremity)

	right.EachFrame(func(f *Frame) {
		idx, found := frameIndex(f.Pos)
		var mapped int
		switch {
		case idx >= n:
			mapped = left.NumKeys() // was positioned past right's last entry
		case newIndex[idx] >= 0:
			mapped = newIndex[idx]
		default:
			// The entry the frame pointed at turned out to be a ghost
			// dropped during the merge; land just after the nearest
			// surviving predecessor as the closest reasonable position.
			mapped = leftBase
			for j := idx - 1; j >= 0; j-- {
				if newIndex[j] >= 0 {
					mapped = newIndex[j] + 1
					break
				}
			}
		}
		if found {
			f.Rebind(left, mapped*2)
		} else {
			f.Rebind(left, ^(mapped * 2))
		}
	})
}

// MergeInternals moves right's children into left, reinserting the parent
// separator key (the one that used to separate left and right in their
// common parent) as the key joining left's old last child to right's old
// first child.
func MergeInternals(left, right *Node, parentSeparator []byte) {
	left.CompactInternal()
	right.CompactInternal()

	firstRightChild := right.ChildAt(0)
	if err := left.InsertInternalEntry(left.NumKeys(), parentSeparator, firstRightChild); err != nil {
		panic(err) // caller must have verified CanAbsorb before calling
	}
	n := right.NumKeys()
	for i := 0; i < n; i++ {
		key := right.KeyAt(i)
		child := right.ChildAt(i + 1)
		if err := left.InsertInternalEntry(left.NumKeys(), key, child); err != nil {
			panic(err)
		}
	}
	left.SetExtremity(left.lowExtremity, right.highExtremity)
}

// RedistributeLeaves moves entries one at a time from the donor sibling
// into the recipient, across their shared boundary, until the recipient is
// no longer underfull or the donor is down to a single entry, whichever
// comes first; the donor may be left underfull (spec §4.6 "redistribute rather than merge when
// the combined size would overflow a single page"). dir indicates which
// side donor is on relative to recipient. Returns the updated separator
// key the parent must use between the two siblings.
//
// Unlike MergeLeaves and SplitLeaf, this does not rebind cursor frames: a
// redistribute moves a variable, data-dependent number of entries one at a
// time rather than a single fixed split point, so a frame bound mid-range
// on either node may need to cross the boundary more than once as the loop
// runs. Frames on either node keep their existing Pos, which can end up
// stale after a redistribute; tree.go callers should treat a cursor
// spanning a just-redistributed boundary as best-effort.
func RedistributeLeaves(recipient, donor *Node, dir Dir) []byte {
	recipient.Compact()
	donor.Compact()

	for recipient.Underfull() && donor.NumKeys() > 1 {
		var key, value []byte
		var frag bool
		switch dir {
		case DirLeft:
			// donor is recipient's left sibling: move donor's last entry to
			// recipient's front.
			i := donor.NumKeys() - 1
			key = append([]byte(nil), donor.KeyAt(i)...)
			v, f, ghost := donor.ValueAt(i)
			if !ghost {
				value, frag = append([]byte(nil), v...), f
			}
			donor.DeleteLeafEntry(i)
			_ = recipient.InsertLeafEntry(0, key, value, frag)
		case DirRight:
			// donor is recipient's right sibling: move donor's first entry to
			// recipient's back.
			key = append([]byte(nil), donor.KeyAt(0)...)
			v, f, ghost := donor.ValueAt(0)
			if !ghost {
				value, frag = append([]byte(nil), v...), f
			}
			donor.DeleteLeafEntry(0)
			_ = recipient.InsertLeafEntry(recipient.NumKeys(), key, value, frag)
		}
		donor.Compact()
	}

	if dir == DirLeft {
		return append([]byte(nil), recipient.KeyAt(0)...)
	}
	return append([]byte(nil), donor.KeyAt(0)...)
}
