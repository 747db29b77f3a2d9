package node

import (
	"fmt"
	"testing"

	"pagetree/pkg/page"
)

// allocatorFor returns an allocFunc that mints fresh in-memory Nodes
// numbered sequentially, standing in for pkg/cache.AllocNew in these
// package-local tests.
func allocatorFor(pageSize, maxKey int) (allocFunc, *int) {
	next := 1
	return func(typ Type) (*Node, error) {
		next++
		return New(page.ID(next), pageSize, maxKey, typ), nil
	}, &next
}

func fillLeafUntilFull(t *testing.T, n *Node, prefix string) []string {
	t.Helper()
	var keys []string
	for i := 0; ; i++ {
		k := fmt.Sprintf("%s%04d", prefix, i)
		v := fmt.Sprintf("value-%d-xxxxxxxxxx", i)
		if !n.Fits(len(k), len(v)) {
			break
		}
		slot := InsertionPoint(n.Search([]byte(k)))
		if err := n.InsertLeafEntry(slot, []byte(k), []byte(v), false); err != nil {
			t.Fatalf("InsertLeafEntry: %v", err)
		}
		keys = append(keys, k)
	}
	return keys
}

func TestSplitLeafPreservesAllEntriesAndOrder(t *testing.T) {
	n := New(page.ID(1), testPageSize, testMaxKey, TypeLeaf)
	n.SetRoot(true)
	n.SetExtremity(true, true)
	keys := fillLeafUntilFull(t, n, "k")
	if len(keys) < 4 {
		t.Fatalf("test setup produced too few keys: %d", len(keys))
	}

	alloc, _ := allocatorFor(testPageSize, testMaxKey)
	split, err := n.SplitLeaf(alloc)
	if err != nil {
		t.Fatalf("SplitLeaf: %v", err)
	}

	if n.NumKeys()+split.Sibling.NumKeys() != len(keys) {
		t.Fatalf("entry count not preserved: left=%d right=%d want total=%d",
			n.NumKeys(), split.Sibling.NumKeys(), len(keys))
	}
	if n.NumKeys() == 0 || split.Sibling.NumKeys() == 0 {
		t.Fatal("split must leave both halves non-empty")
	}

	// Every original key must be findable in exactly one half, and the
	// left half's keys must all sort below the right half's.
	for _, k := range keys {
		leftPos := n.Search([]byte(k))
		rightPos := split.Sibling.Search([]byte(k))
		if Found(leftPos) == Found(rightPos) {
			t.Fatalf("key %q found in both/neither half, want exactly one", k)
		}
	}
	if string(n.KeyAt(n.NumKeys()-1)) >= string(split.Sibling.KeyAt(0)) {
		t.Fatalf("left half's max key %q is not less than right half's min key %q",
			n.KeyAt(n.NumKeys()-1), split.Sibling.KeyAt(0))
	}

	// Extremity flags move with the split: left keeps its low bound and
	// loses the high bound, the new right sibling gets it instead.
	if !n.LowExtremity() || n.HighExtremity() {
		t.Fatalf("left half extremity flags wrong: low=%v high=%v", n.LowExtremity(), n.HighExtremity())
	}
	if split.Sibling.LowExtremity() || !split.Sibling.HighExtremity() {
		t.Fatalf("right half extremity flags wrong: low=%v high=%v", split.Sibling.LowExtremity(), split.Sibling.HighExtremity())
	}
}

func TestSplitInternalPromotesMiddleSeparatorWithoutDuplicating(t *testing.T) {
	n := New(page.ID(1), testPageSize, testMaxKey, TypeInternal)
	n.SetExtremity(true, true)
	n.SetChildAt(0, page.ID(100))

	var keys []string
	for i := 0; ; i++ {
		k := fmt.Sprintf("sep%04d", i)
		if !n.InternalFits(len(k)) {
			break
		}
		if err := n.InsertInternalEntry(i, []byte(k), page.ID(200+i)); err != nil {
			t.Fatalf("InsertInternalEntry: %v", err)
		}
		keys = append(keys, k)
	}
	if len(keys) < 4 {
		t.Fatalf("test setup produced too few separators: %d", len(keys))
	}
	totalChildrenBefore := len(keys) + 1

	alloc, _ := allocatorFor(testPageSize, testMaxKey)
	split, err := n.SplitInternal(alloc)
	if err != nil {
		t.Fatalf("SplitInternal: %v", err)
	}

	// The promoted separator must not still be present as a key in either half.
	if Found(n.Search(split.Key)) {
		t.Fatalf("promoted separator %q still present in left half", split.Key)
	}
	if Found(split.Sibling.Search(split.Key)) {
		t.Fatalf("promoted separator %q still present in right half", split.Key)
	}

	// keyCount+1 == childCount must hold on both halves.
	if n.NumKeys()+1 != countNonZeroChildren(n) {
		t.Fatalf("left half child/key invariant violated: keys=%d children=%d", n.NumKeys(), countNonZeroChildren(n))
	}
	if split.Sibling.NumKeys()+1 != countNonZeroChildren(split.Sibling) {
		t.Fatalf("right half child/key invariant violated: keys=%d children=%d", split.Sibling.NumKeys(), countNonZeroChildren(split.Sibling))
	}

	totalChildrenAfter := (n.NumKeys() + 1) + (split.Sibling.NumKeys() + 1)
	if totalChildrenAfter != totalChildrenBefore {
		// The promoted separator key carries no child pointer of its own —
		// it's dropped from both halves' key segments, but the child
		// pointer that used to sit to its right becomes the sibling's
		// leading child, so the total child count is conserved exactly.
		t.Fatalf("child count after split = %d, want %d", totalChildrenAfter, totalChildrenBefore)
	}
}

func countNonZeroChildren(n *Node) int {
	count := 0
	for i := 0; i <= n.NumKeys(); i++ {
		if n.ChildAt(i).Valid() {
			count++
		}
	}
	return count
}
