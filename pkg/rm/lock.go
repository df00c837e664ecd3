package rm

import "sync"

// LockManager is the row lock table abstraction named in spec.md §9: a
// default mutex-protected hash map, with finer-grained (e.g. striped)
// implementations allowed to replace it without changing semantics.
type LockManager interface {
	// TryLock attempts to acquire an exclusive lock on key for xid without
	// blocking. Returns true if the lock is now held by xid (including the
	// idempotent case where xid already held it).
	TryLock(key string, xid int64) bool
	// UnlockAll releases every lock held by xid.
	UnlockAll(xid int64)
	// Owner reports the current holder of key, if any.
	Owner(key string) (xid int64, held bool)
}

// mapLockManager is the default LockManager: a single mutex guarding a
// key->xid map, grounded on original_source's RowLockManager
// (src/rm/impl/lock_manager.py).
type mapLockManager struct {
	mu    sync.Mutex
	locks map[string]int64
}

// NewLockManager returns the default mutex-protected LockManager.
func NewLockManager() LockManager {
	return &mapLockManager{locks: make(map[string]int64)}
}

func (l *mapLockManager) TryLock(key string, xid int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, held := l.locks[key]
	if !held {
		l.locks[key] = xid
		return true
	}
	return owner == xid
}

func (l *mapLockManager) UnlockAll(xid int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range l.locks {
		if v == xid {
			delete(l.locks, k)
		}
	}
}

func (l *mapLockManager) Owner(key string) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	xid, held := l.locks[key]
	return xid, held
}
