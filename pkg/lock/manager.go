package lock

import (
	"sync"
	"time"

	"github.com/cespare/xxhash"
	"github.com/spaolacci/murmur3"

	"pagetree/pkg/pgerr"
)

// Key identifies a lockable resource: a byte-string row key scoped to a
// named tree, so two different trees can use identical key bytes without
// colliding in the lock table.
type Key struct {
	Tree string
	Key  string
}

// partitionFor hashes a Key to a partition index. The tree name is hashed
// with xxhash and folded into the murmur3 hash of the key bytes, so two
// trees sharing a key's bytes land in different partitions far more often
// than a single hash alone would manage (spec §4.9 "hashed lock
// partitions").
func partitionFor(k Key, numPartitions int) int {
	h := murmur3.Sum32([]byte(k.Key))
	h ^= uint32(xxhash.Sum64String(k.Tree))
	return int(h) % numPartitions
}

// waiter is a request parked on a partition's wait queue.
type waiter struct {
	locker *Locker
	mode   Mode
	ready  chan struct{}
}

type partition struct {
	mtx     sync.Mutex
	holders map[string][]*hold // key -> current holders
	waiters map[string][]*waiter
	graph   *waitForGraph
}

type hold struct {
	locker *Locker
	mode   Mode
}

// Manager is the lock table: a fixed number of independently-mutexed
// partitions, each owning its own waits-for graph, so deadlock detection
// never has to scan locks unrelated to the blocked request.
type Manager struct {
	partitions []*partition
	timeout    time.Duration
}

// NewManager creates a Manager with numPartitions hashed partitions
// (rounded up to a power of two) and the given default tryLock timeout.
func NewManager(numPartitions int, timeout time.Duration) *Manager {
	if numPartitions < 1 {
		numPartitions = 1
	}
	n := 1
	for n < numPartitions {
		n <<= 1
	}
	parts := make([]*partition, n)
	for i := range parts {
		parts[i] = &partition{
			holders: make(map[string][]*hold),
			waiters: make(map[string][]*waiter),
			graph:   newWaitForGraph(),
		}
	}
	return &Manager{partitions: parts, timeout: timeout}
}

func (m *Manager) partition(k Key) *partition {
	return m.partitions[partitionFor(k, len(m.partitions))]
}

// TryLock attempts to acquire k under mode for locker, waiting up to the
// manager's configured timeout (500ms if that is <= 0); there is no
// per-call timeout. It returns pgerr.ErrLockTimeout if
// the deadline elapses, or a *pgerr.Deadlock (wrapping ErrLockTimeout) if
// waiting for this lock would complete a cycle in the waits-for graph, in
// which case locker itself is always the one picked to fail (spec §4.9
// "the requester is always the victim").
//
// A request that cannot be granted immediately joins the key's FIFO wait
// queue rather than busy-polling tryGrant: this is what keeps a steady
// stream of new Shared requesters from starving an Exclusive request that
// arrived first (spec §4.9) — even a newcomer whose mode is compatible with
// every current holder must still queue behind an earlier, not-yet-granted
// waiter ("no barging"), and grantQueuedLocked only ever walks the queue
// front to back.
func (m *Manager) TryLock(locker *Locker, k Key, mode Mode) error {
	if locker.holds(k, mode) {
		return nil
	}
	to := m.timeout
	if to <= 0 {
		to = 500 * time.Millisecond
	}

	p := m.partition(k)
	ks := keyStr(k)

	p.mtx.Lock()
	if len(p.waiters[ks]) == 0 && p.tryGrant(ks, mode, locker) {
		p.mtx.Unlock()
		locker.record(k, mode)
		return nil
	}

	w := &waiter{locker: locker, mode: mode, ready: make(chan struct{})}
	p.waiters[ks] = append(p.waiters[ks], w)

	blockers := p.blockingLockers(k, mode, locker)
	for _, b := range blockers {
		p.graph.addEdge(locker.id, b.id)
	}
	cyclic := p.graph.hasCycle()
	if cyclic {
		for _, b := range blockers {
			p.graph.removeEdge(locker.id, b.id)
		}
		p.removeWaiterLocked(ks, w)
	}
	p.mtx.Unlock()
	if cyclic {
		return &pgerr.Deadlock{Guilty: locker.id.String()}
	}

	timer := time.NewTimer(to)
	defer timer.Stop()
	select {
	case <-w.ready:
		locker.record(k, mode)
		return nil
	case <-timer.C:
		p.mtx.Lock()
		select {
		case <-w.ready:
			// Granted concurrently with the timeout firing.
			p.mtx.Unlock()
			locker.record(k, mode)
			return nil
		default:
		}
		for _, b := range blockers {
			p.graph.removeEdge(locker.id, b.id)
		}
		p.removeWaiterLocked(ks, w)
		p.mtx.Unlock()
		return pgerr.ErrLockTimeout
	}
}

func keyStr(k Key) string {
	return k.Tree + "\x00" + k.Key
}

// tryGrant attempts a non-blocking acquire of key ks under mode for locker,
// recording the hold and returning true if compatible with every current
// holder. Must be called with p.mtx held.
func (p *partition) tryGrant(ks string, mode Mode, locker *Locker) bool {
	holds := p.holders[ks]
	selfIdx := -1
	for i, h := range holds {
		if h.locker == locker {
			selfIdx = i
			continue
		}
		if !compatible(h.mode, mode) {
			return false
		}
	}
	if selfIdx >= 0 {
		holds[selfIdx].mode = mode
	} else {
		holds = append(holds, &hold{locker: locker, mode: mode})
	}
	p.holders[ks] = holds
	return true
}

// grantQueuedLocked walks ks's wait queue front to back, granting every
// waiter it can until it hits one that still conflicts with the current
// holders, at which point it stops — a waiter further back in the queue
// never jumps ahead of one still blocked, even if it would itself be
// grantable. Must be called with p.mtx held.
func (p *partition) grantQueuedLocked(ks string) {
	ws := p.waiters[ks]
	i := 0
	for i < len(ws) {
		w := ws[i]
		if !p.tryGrant(ks, w.mode, w.locker) {
			break
		}
		close(w.ready)
		i++
	}
	if i == 0 {
		return
	}
	if i == len(ws) {
		delete(p.waiters, ks)
	} else {
		p.waiters[ks] = ws[i:]
	}
}

// removeWaiterLocked drops w from ks's wait queue (used when a waiter times
// out or its request turns out to deadlock). Must be called with p.mtx
// held.
func (p *partition) removeWaiterLocked(ks string, w *waiter) {
	ws := p.waiters[ks]
	for i, x := range ws {
		if x == w {
			ws = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(ws) == 0 {
		delete(p.waiters, ks)
	} else {
		p.waiters[ks] = ws
	}
}

// blockingLockers returns the distinct lockers currently holding k under a
// mode incompatible with mode, excluding requester. Must be called with
// p.mtx held.
func (p *partition) blockingLockers(k Key, mode Mode, requester *Locker) []*Locker {
	var out []*Locker
	seen := map[*Locker]bool{}
	for _, h := range p.holders[keyStr(k)] {
		if h.locker == requester || seen[h.locker] {
			continue
		}
		if !compatible(h.mode, mode) {
			seen[h.locker] = true
			out = append(out, h.locker)
		}
	}
	return out
}

// release removes every hold belonging to locker on k and wakes whichever
// queued waiters the freed capacity now admits. Called by Manager.Unlock.
func (p *partition) release(k Key, locker *Locker) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	ks := keyStr(k)
	holds := p.holders[ks]
	for i := 0; i < len(holds); i++ {
		if holds[i].locker == locker {
			holds[i] = holds[len(holds)-1]
			holds = holds[:len(holds)-1]
			i--
		}
	}
	if len(holds) == 0 {
		delete(p.holders, ks)
	} else {
		p.holders[ks] = holds
	}
	p.grantQueuedLocked(ks)
}

// Unlock releases locker's hold on k.
func (m *Manager) Unlock(locker *Locker, k Key) {
	m.partition(k).release(k, locker)
	locker.forget(k)
}

// demote lowers locker's held mode on k in place (never blocks: a weaker
// mode is never less compatible with other holders), and wakes any queued
// waiters the weaker hold now admits. Returns pgerr.ErrAssertionFailure if
// locker holds no lock on k, or mode isn't strictly weaker than its current
// hold.
func (m *Manager) demote(locker *Locker, k Key, mode Mode) error {
	p := m.partition(k)
	p.mtx.Lock()
	defer p.mtx.Unlock()

	ks := keyStr(k)
	holds := p.holders[ks]
	for _, h := range holds {
		if h.locker != locker {
			continue
		}
		if mode >= h.mode {
			return pgerr.ErrAssertionFailure
		}
		h.mode = mode
		p.grantQueuedLocked(ks)
		return nil
	}
	return pgerr.ErrAssertionFailure
}
