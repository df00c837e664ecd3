package rm

import "fmt"

// Recover rebuilds PREPARED transaction state from the durable log before
// the RM accepts any new request, per spec.md §4.4. It must be called once
// at startup, before the HTTP server starts routing requests.
func (e *Engine) Recover() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.log == nil {
		return nil
	}

	entries, err := e.log.LoadAll()
	if err != nil {
		return fmt.Errorf("recover: load prepared log: %w", err)
	}

	for xid, records := range entries {
		t := newTxn()
		for key, rec := range records {
			t.shadow[key] = rec
		}

		for key := range records {
			if !e.locks.TryLock(key, xid) {
				return fmt.Errorf("recover: xid %d: key %q already locked by another transaction, refusing to serve", xid, key)
			}
		}

		t.state = Prepared
		e.txns[xid] = t
	}
	return nil
}
