package kv

import "testing"

func TestCloneDeepCopiesKeyAndValue(t *testing.T) {
	orig := Pair{Key: []byte("k"), Value: []byte("v")}
	clone := orig.Clone()
	if string(clone.Key) != "k" || string(clone.Value) != "v" {
		t.Fatalf("clone = %+v, want matching contents", clone)
	}

	orig.Key[0] = 'x'
	orig.Value[0] = 'y'
	if string(clone.Key) != "k" || string(clone.Value) != "v" {
		t.Fatal("mutating the original mutated the clone; Clone did not deep-copy")
	}
}
