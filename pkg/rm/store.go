package rm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Engine is the page-buffered, record-granular transactional store of
// spec.md §4.1/§4.2: a committed page pool fronted by per-transaction
// shadow record sets, validated and made durable at prepare. One Engine
// instance owns one RM shard (one key range, one backing store).
//
// All exported methods are safe for concurrent use; a single mutex guards
// the committed page pool, the transaction table, and the lock manager,
// per spec.md §5's "a coarse-grained mutex per RM is acceptable".
type Engine struct {
	mu sync.Mutex

	index PageIndex
	io    PageIO
	log   PreparedLog
	locks LockManager

	pages map[string]*Page // committed page pool, page_id -> page
	txns  map[int64]*txn

	// terminal remembers the outcome of xids whose working set has been
	// discarded, so repeated commit/abort stay idempotent per spec.md §8.
	terminal map[int64]TxnState

	logger zerolog.Logger
}

// Config configures a new Engine.
type Config struct {
	Index  PageIndex
	IO     PageIO
	Log    PreparedLog
	Locks  LockManager // optional, defaults to NewLockManager()
	Logger zerolog.Logger
}

// NewEngine constructs an Engine. It does not run recovery; call Recover
// explicitly at startup before serving requests, per spec.md §4.4.
func NewEngine(cfg Config) *Engine {
	locks := cfg.Locks
	if locks == nil {
		locks = NewLockManager()
	}
	return &Engine{
		index:    cfg.Index,
		io:       cfg.IO,
		log:      cfg.Log,
		locks:    locks,
		pages:    make(map[string]*Page),
		txns:     make(map[int64]*txn),
		terminal: make(map[int64]TxnState),
		logger:   cfg.Logger,
	}
}

// lookup returns the txn for xid, creating it lazily as ACTIVE on first
// touch (the RM has no explicit "begin": the TM assigns xid, and this RM
// only learns of it on first CRUD call).
func (e *Engine) lookup(xid int64) (*txn, *Error) {
	if t, ok := e.txns[xid]; ok {
		return t, nil
	}
	if state, ok := e.terminal[xid]; ok {
		// A terminal-state retry with no working set left: surface the
		// same classification CRUD would have gotten had the state still
		// been tracked live.
		return nil, newErr(InvalidTxState, fmt.Errorf("xid %d already %s", xid, state))
	}
	t := newTxn()
	e.txns[xid] = t
	return t, nil
}

// requireActive returns the txn for xid if it is ACTIVE, else an error
// classifying why CRUD cannot proceed.
func (e *Engine) requireActive(xid int64) (*txn, *Error) {
	t, err := e.lookup(xid)
	if err != nil {
		return nil, err
	}
	if t.state != Active {
		return nil, newErr(InvalidTxState, fmt.Errorf("xid %d is %s, not ACTIVE", xid, t.state))
	}
	return t, nil
}

// committed returns the currently visible committed record for key, paging
// the owning page in on first touch.
func (e *Engine) committed(key string) (*Record, error) {
	pageID := e.index.RecordToPage(key)
	page, ok := e.pages[pageID]
	if !ok {
		loaded, err := e.io.PageIn(pageID)
		if err != nil {
			return nil, err
		}
		if loaded == nil {
			loaded = NewPage(pageID)
		}
		e.pages[pageID] = loaded
		page = loaded
	}
	return page.Get(key), nil
}

// recordObservation fixes the OCC start-version for key on first touch and,
// for pure reads, adds it to the read set.
func (t *txn) recordObservation(key string, version int64, pureRead bool) {
	if _, seen := t.startVersion[key]; !seen {
		t.startVersion[key] = version
	}
	if pureRead {
		if _, alreadyShadowed := t.shadow[key]; alreadyShadowed {
			return
		}
		if _, already := t.readSet[key]; !already {
			t.readSet[key] = version
		}
	}
}

// shadowForWrite returns the shadow record for key, creating it from the
// committed record (or from scratch, for an insert) on first write.
func (e *Engine) shadowForWrite(t *txn, key string) (*Record, error) {
	if rec, ok := t.shadow[key]; ok {
		return rec, nil
	}
	base, err := e.committed(key)
	if err != nil {
		return nil, err
	}
	var shadow *Record
	if base != nil {
		t.recordObservation(key, base.Version, false)
		shadow = base.Clone()
	} else {
		shadow = &Record{Fields: make(map[string]any)}
	}
	t.shadow[key] = shadow
	delete(t.readSet, key)
	return shadow, nil
}

// Read returns the current visible record for key under xid.
func (e *Engine) Read(xid int64, key string) (*Record, *Error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, aerr := e.requireActive(xid)
	if aerr != nil {
		return nil, aerr
	}

	if shadow, ok := t.shadow[key]; ok {
		if shadow.Deleted {
			return nil, newErr(KeyNotFound, nil)
		}
		return shadow.Clone(), nil
	}

	base, err := e.committed(key)
	if err != nil {
		return nil, newErr(IOError, err)
	}
	if base == nil {
		return nil, newErr(KeyNotFound, nil)
	}
	t.recordObservation(key, base.Version, true)
	return base.Clone(), nil
}

// Insert stages a new record in the shadow set.
func (e *Engine) Insert(xid int64, key string, fields map[string]any) *Error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, aerr := e.requireActive(xid)
	if aerr != nil {
		return aerr
	}

	if shadow, ok := t.shadow[key]; ok && !shadow.Deleted {
		return newErr(KeyExists, nil)
	}

	base, err := e.committed(key)
	if err != nil {
		return newErr(IOError, err)
	}
	if base != nil && !inShadowTombstone(t, key) {
		return newErr(KeyExists, nil)
	}

	rec := &Record{Fields: cloneFields(fields)}
	t.shadow[key] = rec
	return nil
}

func inShadowTombstone(t *txn, key string) bool {
	shadow, ok := t.shadow[key]
	return ok && shadow.Deleted
}

func cloneFields(fields map[string]any) map[string]any {
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return cp
}

// Update stages a field-level patch in the shadow set.
func (e *Engine) Update(xid int64, key string, patch map[string]any) *Error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, aerr := e.requireActive(xid)
	if aerr != nil {
		return aerr
	}

	if shadow, ok := t.shadow[key]; ok {
		if shadow.Deleted {
			return newErr(KeyNotFound, nil)
		}
		shadow.ApplyPatch(patch)
		return nil
	}

	base, err := e.committed(key)
	if err != nil {
		return newErr(IOError, err)
	}
	if base == nil {
		return newErr(KeyNotFound, nil)
	}

	shadow, err := e.shadowForWrite(t, key)
	if err != nil {
		return newErr(IOError, err)
	}
	shadow.ApplyPatch(patch)
	return nil
}

// Delete stages a tombstone in the shadow set.
func (e *Engine) Delete(xid int64, key string) *Error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, aerr := e.requireActive(xid)
	if aerr != nil {
		return aerr
	}

	if shadow, ok := t.shadow[key]; ok {
		if shadow.Deleted {
			return newErr(KeyNotFound, nil)
		}
		shadow.Deleted = true
		return nil
	}

	base, err := e.committed(key)
	if err != nil {
		return newErr(IOError, err)
	}
	if base == nil {
		return newErr(KeyNotFound, nil)
	}

	shadow, err := e.shadowForWrite(t, key)
	if err != nil {
		return newErr(IOError, err)
	}
	shadow.Deleted = true
	return nil
}

// sortedShadowKeys returns a transaction's shadow keys in ascending order,
// the lock-acquisition order required by spec.md §4.2 step 1 to preclude
// livelock among concurrent prepares.
func sortedShadowKeys(t *txn) []string {
	keys := make([]string, 0, len(t.shadow))
	for k := range t.shadow {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
