package rm

import "fmt"

// Prepare validates and durably records a transaction's intent to commit,
// per spec.md §4.2. On success the RM is committed to honoring a later
// Commit call for xid.
func (e *Engine) Prepare(xid int64) *Error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if state, ok := e.terminal[xid]; ok {
		if state == Committed {
			return nil
		}
		return newErr(InvalidTxState, fmt.Errorf("xid %d already %s", xid, state))
	}

	t, ok := e.txns[xid]
	if !ok {
		return newErr(TxnNotFound, nil)
	}
	if t.state == Prepared {
		return nil // idempotent: same prepared state, no side effects
	}
	if t.state != Active {
		return newErr(InvalidTxState, fmt.Errorf("xid %d is %s, not ACTIVE", xid, t.state))
	}

	keys := sortedShadowKeys(t)

	// Step 1: lock acquisition in ascending key order. Sorted order
	// precludes cyclic lock-wait among concurrent prepares, since
	// TryLock is non-blocking.
	for _, key := range keys {
		if !e.locks.TryLock(key, xid) {
			// Release everything acquired so far in this call.
			e.locks.UnlockAll(xid)
			return newErr(LockConflict, fmt.Errorf("key %q held by another transaction", key))
		}
	}

	// Step 2: conflict validation.
	for _, key := range keys {
		shadow := t.shadow[key]
		startVersion, hadStart := t.startVersion[key]

		base, err := e.committed(key)
		if err != nil {
			e.locks.UnlockAll(xid)
			return newErr(IOError, err)
		}

		if !hadStart {
			// Pure insert: committed record must be absent.
			if base != nil {
				e.locks.UnlockAll(xid)
				return newErr(KeyExists, nil)
			}
			continue
		}

		if base == nil {
			if shadow.Deleted {
				// Idempotent completion of a prior deletion.
				continue
			}
			e.locks.UnlockAll(xid)
			return newErr(KeyNotFound, nil)
		}
		if base.Version != startVersion {
			e.locks.UnlockAll(xid)
			return newErr(VersionConflict, fmt.Errorf("key %q: committed version %d != start version %d", key, base.Version, startVersion))
		}
	}

	// Step 3: read-set validation.
	for key, readVersion := range t.readSet {
		base, err := e.committed(key)
		if err != nil {
			e.locks.UnlockAll(xid)
			return newErr(IOError, err)
		}
		var currentVersion int64
		if base != nil {
			currentVersion = base.Version
		}
		if currentVersion != readVersion {
			e.locks.UnlockAll(xid)
			return newErr(ReadWriteConflict, fmt.Errorf("key %q: committed version %d != read version %d", key, currentVersion, readVersion))
		}
	}

	// Step 4: durability.
	if e.log != nil {
		if err := e.log.Save(xid, t.shadow); err != nil {
			e.locks.UnlockAll(xid)
			return newErr(IOError, err)
		}
	}
	t.state = Prepared
	return nil
}

// Commit applies a PREPARED transaction's shadow set to the committed page
// pool, persists the touched pages, releases locks, and marks the
// transaction COMMITTED. Idempotent per spec.md §4.2/§8.
func (e *Engine) Commit(xid int64) *Error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if state, ok := e.terminal[xid]; ok {
		if state == Committed {
			return nil
		}
		return newErr(InvalidTxState, fmt.Errorf("xid %d already %s", xid, state))
	}

	t, ok := e.txns[xid]
	if !ok {
		return newErr(TxnNotFound, nil)
	}
	if t.state != Prepared {
		return newErr(InvalidTxState, fmt.Errorf("xid %d is %s, not PREPARED", xid, t.state))
	}

	keys := sortedShadowKeys(t)
	touchedPages := make(map[string]*Page)

	for _, key := range keys {
		shadow := t.shadow[key]
		pageID := e.index.RecordToPage(key)
		page, ok := e.pages[pageID]
		if !ok {
			loaded, err := e.io.PageIn(pageID)
			if err != nil {
				return newErr(IOError, err)
			}
			if loaded == nil {
				loaded = NewPage(pageID)
			}
			e.pages[pageID] = loaded
			page = loaded
		}
		if shadow.Deleted {
			page.Delete(key)
		} else {
			committedRec := shadow.Clone()
			committedRec.Version = xid
			committedRec.Deleted = false
			page.Put(key, committedRec)
		}
		touchedPages[pageID] = page
	}

	for _, page := range touchedPages {
		if err := e.io.PageOut(page); err != nil {
			return newErr(IOError, err)
		}
	}

	e.locks.UnlockAll(xid)
	if e.log != nil {
		if err := e.log.Remove(xid); err != nil {
			return newErr(IOError, err)
		}
	}
	delete(e.txns, xid)
	e.terminal[xid] = Committed
	return nil
}

// Abort discards a transaction's working set and releases its locks.
// Idempotent and safe to call at any point before or after Prepare.
func (e *Engine) Abort(xid int64) *Error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if state, ok := e.terminal[xid]; ok {
		if state == Aborted {
			return nil
		}
		return newErr(InvalidTxState, fmt.Errorf("xid %d already %s", xid, state))
	}

	if _, ok := e.txns[xid]; !ok {
		// Never seen on this RM: treat as a no-op abort (there is nothing
		// to undo), matching the "safe to call at any point" contract.
		e.terminal[xid] = Aborted
		return nil
	}

	e.locks.UnlockAll(xid)
	if e.log != nil {
		_ = e.log.Remove(xid)
	}
	delete(e.txns, xid)
	e.terminal[xid] = Aborted
	return nil
}

// Status reports the current state of xid, if known to this RM.
func (e *Engine) Status(xid int64) (TxnState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.txns[xid]; ok {
		return t.state, true
	}
	if s, ok := e.terminal[xid]; ok {
		return s, true
	}
	return 0, false
}
