package node

import "sync"

// Latch is the specialized, non-reentrant readers/writer synchronizer
// described in spec §5: acquireShared/acquireExclusive, tryAcquire*,
// downgrade, tryUpgrade, release*. It wraps sync.RWMutex (itself already
// non-reentrant) rather than hand-rolling a semaphore, matching the
// teacher's plain sync.RWMutex page lock.
type Latch struct {
	mu sync.RWMutex
}

func (l *Latch) AcquireShared()    { l.mu.RLock() }
func (l *Latch) ReleaseShared()    { l.mu.RUnlock() }
func (l *Latch) AcquireExclusive() { l.mu.Lock() }
func (l *Latch) ReleaseExclusive() { l.mu.Unlock() }

func (l *Latch) TryAcquireShared() bool    { return l.mu.TryRLock() }
func (l *Latch) TryAcquireExclusive() bool { return l.mu.TryLock() }

// Downgrade converts an exclusively-held latch to shared. Not atomic with
// respect to other exclusive waiters (a writer can slip in between), which
// matches the spec's note that this discipline is best-effort outside of
// SMOs that hold the latch across the whole operation.
func (l *Latch) Downgrade() {
	l.mu.Unlock()
	l.mu.RLock()
}

// TryUpgrade attempts to convert a shared hold into exclusive. It releases
// the shared hold, then tries the exclusive latch without waiting; if that
// fails it re-acquires the shared hold (which can block) and returns false.
// The latch is not held in between, so another goroutine may modify the
// node before either outcome.
func (l *Latch) TryUpgrade() bool {
	l.mu.RUnlock()
	if l.mu.TryLock() {
		return true
	}
	l.mu.RLock()
	return false
}
