package lock

import (
	"sync"

	"github.com/google/uuid"

	"pagetree/pkg/pgerr"
)

// Locker is the per-transaction lock handle: a stack of nested scopes
// (savepoints), each tracking the keys acquired within it, so a rollback to
// a savepoint can release exactly the locks taken since (spec §4.10).
// Grounded in the teacher's pkg/concurrency.Transaction (a lock-set bound
// to one logical caller), generalized from a flat set to a scope stack and
// given a uuid.UUID identity for the waits-for graph instead of a bare
// pointer, since Manager's graph needs a comparable, stringable id.
type Locker struct {
	id      uuid.UUID
	mtx     sync.Mutex
	scopes  []map[Key]Mode // scopes[0] is the outermost (transaction-level) scope
	manager *Manager

	// baseMode records, per key currently held, the mode it was first
	// acquired at by this locker. A key's current mode is "upgraded" (not
	// fresh) when it exceeds baseMode[k] — reached via Lock/Promote calls
	// that raised an already-held key's mode rather than a first-time
	// acquisition (spec §4.10's "marked upgrade").
	baseMode map[Key]Mode
}

// New creates a Locker bound to manager with one open outermost scope.
func New(manager *Manager) *Locker {
	return &Locker{
		id:       uuid.New(),
		scopes:   []map[Key]Mode{make(map[Key]Mode)},
		manager:  manager,
		baseMode: make(map[Key]Mode),
	}
}

func (l *Locker) ID() uuid.UUID { return l.id }

// PushScope opens a new nested savepoint scope.
func (l *Locker) PushScope() {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.scopes = append(l.scopes, make(map[Key]Mode))
}

// PopScope closes the innermost scope, releasing every lock acquired
// within it that isn't also held by an outer scope (a commit of the
// savepoint would instead merge the scope into its parent via MergeScope).
// A key this scope promoted above its original acquisition mode (spec
// §4.10) is demoted back to that original mode rather than fully released,
// when an outer scope still references it — reverting the promotion, not
// discarding the still-wanted weaker hold.
func (l *Locker) PopScope() {
	l.mtx.Lock()
	innermost := len(l.scopes) - 1
	if innermost == 0 {
		l.mtx.Unlock()
		return
	}
	scope := l.scopes[innermost]
	l.scopes = l.scopes[:innermost]
	l.mtx.Unlock()

	for k, mode := range scope {
		if l.holdsLocked(k) {
			if base, ok := l.baseModeOf(k); ok && mode > base {
				_ = l.demoteTo(k, base)
			}
			continue
		}
		l.manager.Unlock(l, k)
	}
}

// MergeScope folds the innermost scope's locks into its parent, keeping
// them held (used when a savepoint commits rather than rolls back).
func (l *Locker) MergeScope() {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	innermost := len(l.scopes) - 1
	if innermost == 0 {
		return
	}
	parent := l.scopes[innermost-1]
	for k, m := range l.scopes[innermost] {
		if existing, ok := parent[k]; !ok || existing < m {
			parent[k] = m
		}
	}
	l.scopes = l.scopes[:innermost]
}

// Lock acquires k under mode through manager, recording it in the
// innermost open scope. If k is already held at mode or a stronger one,
// nothing is recorded: the scope that acquired it keeps it.
func (l *Locker) Lock(k Key, mode Mode) error {
	return l.manager.TryLock(l, k, mode)
}

// Unlock releases k regardless of which scope acquired it; used for
// explicit early release outside the scope/savepoint protocol. Fails if k
// is currently held at a mode promoted above its original acquisition
// (spec §4.10): demote via UnlockToShared or UnlockToUpgradable first.
func (l *Locker) Unlock(k Key) error {
	if l.upgraded(k) {
		return pgerr.ErrAssertionFailure
	}
	l.manager.Unlock(l, k)
	return nil
}

// Promote upgrades a held Upgradable lock on k to Exclusive without
// releasing it first, avoiding the lost-upgrade race two Shared holders
// racing to re-lock at Exclusive would hit (spec §4.10; mode.go's
// Upgradable doc comment). Returns pgerr.ErrAssertionFailure if k isn't
// currently held at Upgradable.
func (l *Locker) Promote(k Key) error {
	l.mtx.Lock()
	cur, ok := l.lookup(k)
	l.mtx.Unlock()
	if !ok || cur != Upgradable {
		return pgerr.ErrAssertionFailure
	}
	return l.Lock(k, Exclusive)
}

// UnlockToShared demotes the held lock on k down to Shared (spec §4.10),
// clearing its upgraded status. Returns pgerr.ErrAssertionFailure if k
// isn't currently held above Shared.
func (l *Locker) UnlockToShared(k Key) error {
	l.mtx.Lock()
	cur, ok := l.lookup(k)
	l.mtx.Unlock()
	if !ok || cur == Shared {
		return pgerr.ErrAssertionFailure
	}
	return l.demoteTo(k, Shared)
}

// UnlockToUpgradable demotes the held lock on k from Exclusive down to
// Upgradable (spec §4.10). Returns pgerr.ErrAssertionFailure if k isn't
// currently held at Exclusive.
func (l *Locker) UnlockToUpgradable(k Key) error {
	l.mtx.Lock()
	cur, ok := l.lookup(k)
	l.mtx.Unlock()
	if !ok || cur != Exclusive {
		return pgerr.ErrAssertionFailure
	}
	return l.demoteTo(k, Upgradable)
}

// demoteTo lowers l's held mode on k to mode, both at the manager (so
// queued waiters the demotion now admits get woken) and in this locker's
// own scope/baseMode bookkeeping.
func (l *Locker) demoteTo(k Key, mode Mode) error {
	if err := l.manager.demote(l, k, mode); err != nil {
		return err
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	for _, s := range l.scopes {
		if _, ok := s[k]; ok {
			s[k] = mode
		}
	}
	l.baseMode[k] = mode
	return nil
}

// holds reports whether l already records a hold on k at mode or stronger.
func (l *Locker) holds(k Key, mode Mode) bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	best, ok := l.bestMode(k)
	return ok && best >= mode
}

func (l *Locker) holdsLocked(k Key) bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	_, ok := l.lookup(k)
	return ok
}

func (l *Locker) bestMode(k Key) (Mode, bool) {
	var best Mode
	found := false
	for _, s := range l.scopes {
		if m, ok := s[k]; ok {
			if !found || m > best {
				best = m
			}
			found = true
		}
	}
	return best, found
}

func (l *Locker) lookup(k Key) (Mode, bool) {
	for i := len(l.scopes) - 1; i >= 0; i-- {
		if m, ok := l.scopes[i][k]; ok {
			return m, true
		}
	}
	return 0, false
}

// record stores that l now holds k at mode, in the innermost scope. The
// first time k is recorded, mode becomes its baseMode — the "fresh"
// acquisition strength that later Lock/Promote calls raising k's mode are
// measured as upgrades against (spec §4.10).
func (l *Locker) record(k Key, mode Mode) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if _, ok := l.baseMode[k]; !ok {
		l.baseMode[k] = mode
	}
	l.scopes[len(l.scopes)-1][k] = mode
}

// forget removes k from every scope and clears its baseMode (called after
// Manager.Unlock).
func (l *Locker) forget(k Key) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	for _, s := range l.scopes {
		delete(s, k)
	}
	delete(l.baseMode, k)
}

// baseModeOf returns the mode k was first acquired at by this locker.
func (l *Locker) baseModeOf(k Key) (Mode, bool) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	m, ok := l.baseMode[k]
	return m, ok
}

// upgraded reports whether k is currently held at a mode stronger than its
// baseMode — i.e. a promotion that Unlock must refuse until demoted back
// down via UnlockToShared/UnlockToUpgradable (spec §4.10).
func (l *Locker) upgraded(k Key) bool {
	l.mtx.Lock()
	cur, ok := l.lookup(k)
	base, baseOK := l.baseMode[k]
	l.mtx.Unlock()
	return ok && baseOK && cur > base
}

// ReleaseAll releases every lock l holds across every scope, used when a
// transaction ends.
func (l *Locker) ReleaseAll() {
	l.mtx.Lock()
	keys := map[Key]bool{}
	for _, s := range l.scopes {
		for k := range s {
			keys[k] = true
		}
	}
	l.mtx.Unlock()
	for k := range keys {
		l.manager.Unlock(l, k)
	}
}
