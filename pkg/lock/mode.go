// Package lock implements the engine's row/key-range lock manager: hashed
// lock partitions, SHARED/UPGRADABLE/EXCLUSIVE modes, and a waits-for-graph
// deadlock detector, grounded in the teacher's pkg/concurrency
// (ResourceLockManager's hashed-mutex-table idea, generalized from a single
// RWMutex per resource to a full mode/upgrade/wait-queue state machine, and
// WaitsForGraph's DFS cycle search, generalized from a whole-graph scan to
// a per-partition graph so unrelated keys never contend on the same
// detector).
package lock

// Mode is the strength a Locker holds a key under (spec §4.9).
type Mode uint8

const (
	// Shared permits concurrent readers; excludes Exclusive holders.
	Shared Mode = iota
	// Upgradable is a single-holder read lock that can later be upgraded
	// to Exclusive without releasing and reacquiring (avoiding the
	// lost-upgrade race two Shared holders racing to upgrade would hit).
	Upgradable
	// Exclusive excludes every other holder.
	Exclusive
)

func (m Mode) String() string {
	switch m {
	case Shared:
		return "shared"
	case Upgradable:
		return "upgradable"
	case Exclusive:
		return "exclusive"
	default:
		return "unknown"
	}
}

// compatible reports whether a holder of mode held can coexist with a new
// request of mode want.
func compatible(held, want Mode) bool {
	if held == Exclusive || want == Exclusive {
		return false
	}
	if held == Upgradable && want == Upgradable {
		return false
	}
	return true
}
