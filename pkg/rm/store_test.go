package rm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePageIO struct {
	mu    sync.Mutex
	pages map[string]*Page
}

func newFakePageIO() *fakePageIO {
	return &fakePageIO{pages: make(map[string]*Page)}
}

func (f *fakePageIO) PageIn(pageID string) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pages[pageID]; ok {
		return clonePage(p), nil
	}
	return nil, nil
}

func (f *fakePageIO) PageOut(page *Page) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[page.PageID] = clonePage(page)
	return nil
}

func clonePage(p *Page) *Page {
	cp := NewPage(p.PageID)
	for k, v := range p.Records {
		cp.Records[k] = v.Clone()
	}
	return cp
}

type fakePreparedLog struct {
	mu      sync.Mutex
	entries map[int64]map[string]*Record
}

func newFakePreparedLog() *fakePreparedLog {
	return &fakePreparedLog{entries: make(map[int64]map[string]*Record)}
}

func (f *fakePreparedLog) Save(xid int64, records map[string]*Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make(map[string]*Record, len(records))
	for k, v := range records {
		cp[k] = v.Clone()
	}
	f.entries[xid] = cp
	return nil
}

func (f *fakePreparedLog) Remove(xid int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, xid)
	return nil
}

func (f *fakePreparedLog) LoadAll() (map[int64]map[string]*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]map[string]*Record, len(f.entries))
	for xid, records := range f.entries {
		cp := make(map[string]*Record, len(records))
		for k, v := range records {
			cp[k] = v.Clone()
		}
		out[xid] = cp
	}
	return out, nil
}

func newTestEngine(t *testing.T) (*Engine, *fakePageIO, *fakePreparedLog) {
	t.Helper()
	io := newFakePageIO()
	log := newFakePreparedLog()
	e := NewEngine(Config{
		Index: NewOrderedStringPageIndex(8, 2),
		IO:    io,
		Log:   log,
	})
	return e, io, log
}

func seedCommitted(t *testing.T, e *Engine, xid int64, key string, fields map[string]any) {
	t.Helper()
	require.Nil(t, e.Insert(xid, key, fields))
	require.Nil(t, e.Prepare(xid))
	require.Nil(t, e.Commit(xid))
}

// Round-trip and boundary laws, spec.md §8.

func TestInsertAbortLeavesKeyAbsent(t *testing.T) {
	e, _, _ := newTestEngine(t)
	require.Nil(t, e.Insert(1, "1001", map[string]any{"price": 300}))
	require.Nil(t, e.Abort(1))

	_, err := e.Read(2, "1001")
	require.NotNil(t, err)
	assert.Equal(t, KeyNotFound, err.Kind)
}

func TestInsertPrepareCommitRoundTrip(t *testing.T) {
	e, _, _ := newTestEngine(t)
	require.Nil(t, e.Insert(1, "1001", map[string]any{"price": 300}))
	require.Nil(t, e.Prepare(1))
	require.Nil(t, e.Commit(1))

	rec, err := e.Read(2, "1001")
	require.Nil(t, err)
	assert.Equal(t, 300, rec.Fields["price"])
	assert.Equal(t, int64(1), rec.Version)
}

func TestUpdateAbortRestoresPreImage(t *testing.T) {
	e, _, _ := newTestEngine(t)
	seedCommitted(t, e, 1, "1005", map[string]any{"price": 100})

	require.Nil(t, e.Update(2, "1005", map[string]any{"price": 200}))
	require.Nil(t, e.Abort(2))

	rec, err := e.Read(3, "1005")
	require.Nil(t, err)
	assert.Equal(t, 100, rec.Fields["price"])
}

func TestDeleteAbortRestoresPreImage(t *testing.T) {
	e, _, _ := newTestEngine(t)
	seedCommitted(t, e, 1, "1007", map[string]any{"price": 100})

	require.Nil(t, e.Delete(2, "1007"))
	require.Nil(t, e.Abort(2))

	rec, err := e.Read(3, "1007")
	require.Nil(t, err)
	assert.Equal(t, 100, rec.Fields["price"])
}

func TestDeleteCommitThenReinsertCommit(t *testing.T) {
	e, _, _ := newTestEngine(t)
	seedCommitted(t, e, 1, "1007", map[string]any{"price": 100})

	require.Nil(t, e.Delete(2, "1007"))
	require.Nil(t, e.Prepare(2))
	require.Nil(t, e.Commit(2))

	require.Nil(t, e.Insert(3, "1007", map[string]any{"price": 200}))
	require.Nil(t, e.Prepare(3))
	require.Nil(t, e.Commit(3))

	rec, err := e.Read(4, "1007")
	require.Nil(t, err)
	assert.Equal(t, 200, rec.Fields["price"])
}

// Scenario 1: write-write conflict (spec.md §8.1).

func TestScenarioWriteWriteConflict(t *testing.T) {
	e, _, _ := newTestEngine(t)
	seedCommitted(t, e, 1, "1005", map[string]any{"price": 100})

	require.Nil(t, func() *Error { _, err := e.Read(10, "1005"); return err }())
	require.Nil(t, e.Update(10, "1005", map[string]any{"price": 200}))

	require.Nil(t, func() *Error { _, err := e.Read(11, "1005"); return err }())
	require.Nil(t, e.Update(11, "1005", map[string]any{"price": 999}))

	require.Nil(t, e.Prepare(10))
	require.Nil(t, e.Commit(10))

	err := e.Prepare(11)
	require.NotNil(t, err)
	assert.Equal(t, VersionConflict, err.Kind)

	rec, rerr := e.Read(12, "1005")
	require.Nil(t, rerr)
	assert.Equal(t, 200, rec.Fields["price"])
	assert.Equal(t, int64(10), rec.Version)
}

// Scenario 2: insert-insert race (spec.md §8.2).

func TestScenarioInsertInsertRace(t *testing.T) {
	e, _, _ := newTestEngine(t)

	require.Nil(t, e.Insert(10, "1001", map[string]any{"price": 300}))
	require.Nil(t, e.Insert(11, "1001", map[string]any{"price": 999}))

	require.Nil(t, e.Prepare(10))
	require.Nil(t, e.Commit(10))

	err := e.Prepare(11)
	require.NotNil(t, err)
	assert.Equal(t, KeyExists, err.Kind)

	rec, rerr := e.Read(12, "1001")
	require.Nil(t, rerr)
	assert.Equal(t, 300, rec.Fields["price"])
}

// Scenario 3: delete then re-insert (spec.md §8.3), as a single-actor
// variant already covered by TestDeleteCommitThenReinsertCommit above; this
// variant interleaves two distinct xids as the scenario describes.

func TestScenarioDeleteThenReinsertTwoTxns(t *testing.T) {
	e, _, _ := newTestEngine(t)
	seedCommitted(t, e, 1, "1007", map[string]any{"price": 100})

	require.Nil(t, e.Delete(10, "1007"))
	require.Nil(t, e.Prepare(10))
	require.Nil(t, e.Commit(10))

	require.Nil(t, e.Insert(11, "1007", map[string]any{"price": 200}))
	require.Nil(t, e.Prepare(11))
	require.Nil(t, e.Commit(11))

	rec, err := e.Read(12, "1007")
	require.Nil(t, err)
	assert.Equal(t, 200, rec.Fields["price"])
}

// Scenario 6: hotspot insert under N concurrent writers (spec.md §8.6).

func TestScenarioHotspotInsertConcurrency(t *testing.T) {
	e, _, _ := newTestEngine(t)

	const n = 20
	var wg sync.WaitGroup
	results := make([]*Error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			xid := int64(100 + i)
			if err := e.Insert(xid, "2001", map[string]any{"value": i}); err != nil {
				results[i] = err
				return
			}
			results[i] = e.Prepare(xid)
		}(i)
	}
	wg.Wait()

	committers := 0
	for i, err := range results {
		if err == nil {
			committers++
			require.Nil(t, e.Commit(int64(100+i)))
		} else {
			assert.Contains(t, []ErrKind{KeyExists, LockConflict}, err.Kind)
		}
	}
	assert.Equal(t, 1, committers, "exactly one concurrent insert should reach PREPARED")

	rec, rerr := e.Read(999, "2001")
	require.Nil(t, rerr)
	assert.NotNil(t, rec)
}

// Lock release invariant (spec.md §8): after a terminal state, no lock
// remains held on the transaction's behalf.

func TestLockReleaseOnCommitAndAbort(t *testing.T) {
	e, _, _ := newTestEngine(t)

	require.Nil(t, e.Insert(1, "3001", map[string]any{"v": 1}))
	require.Nil(t, e.Prepare(1))
	require.Nil(t, e.Commit(1))
	_, held := e.locks.Owner("3001")
	assert.False(t, held)

	seedCommitted(t, e, 2, "3002", map[string]any{"v": 1})
	require.Nil(t, e.Update(3, "3002", map[string]any{"v": 2}))
	require.Nil(t, e.Prepare(3))
	require.Nil(t, e.Abort(3))
	_, held = e.locks.Owner("3002")
	assert.False(t, held)
}

// Idempotence invariant (spec.md §8): repeated prepare/commit/abort in the
// same terminal state is a no-op returning the same outcome.

func TestIdempotentCommitAndAbort(t *testing.T) {
	e, _, _ := newTestEngine(t)

	require.Nil(t, e.Insert(1, "4001", map[string]any{"v": 1}))
	require.Nil(t, e.Prepare(1))
	require.Nil(t, e.Commit(1))
	assert.Nil(t, e.Commit(1), "repeated commit of an already-committed xid must stay a no-op")

	require.Nil(t, e.Insert(2, "4002", map[string]any{"v": 1}))
	require.Nil(t, e.Abort(2))
	assert.Nil(t, e.Abort(2), "repeated abort of an already-aborted xid must stay a no-op")

	err := e.Prepare(2)
	require.NotNil(t, err)
	assert.Equal(t, InvalidTxState, err.Kind)
}

// Abort of an xid never seen by this RM is a safe no-op, per spec.md §4.2's
// "safe to call at any point" contract.

func TestAbortUnknownXidIsNoOp(t *testing.T) {
	e, _, _ := newTestEngine(t)
	assert.Nil(t, e.Abort(777))
}

// CRUD after prepare is rejected with INVALID_TX_STATE, per the resolved
// Open Question in spec.md §9.

func TestCrudAfterPrepareRejected(t *testing.T) {
	e, _, _ := newTestEngine(t)
	require.Nil(t, e.Insert(1, "5001", map[string]any{"v": 1}))
	require.Nil(t, e.Prepare(1))

	err := e.Update(1, "5001", map[string]any{"v": 2})
	require.NotNil(t, err)
	assert.Equal(t, InvalidTxState, err.Kind)
}

// Prepare durability: after a successful Prepare, recovering from the
// durable log rebuilds the shadow set and re-holds the lock.

func TestPrepareDurabilityAcrossRecovery(t *testing.T) {
	e, _, log := newTestEngine(t)
	require.Nil(t, e.Insert(1, "6001", map[string]any{"v": 42}))
	require.Nil(t, e.Prepare(1))

	entries, err := log.LoadAll()
	require.NoError(t, err)
	require.Contains(t, entries, int64(1))
	assert.Equal(t, 42, entries[1]["6001"].Fields["v"])

	// Simulate a fresh process: new Engine over the same log and an empty
	// page store.
	e2 := NewEngine(Config{Index: NewOrderedStringPageIndex(8, 2), IO: newFakePageIO(), Log: log})
	require.NoError(t, e2.Recover())

	state, ok := e2.Status(1)
	require.True(t, ok)
	assert.Equal(t, Prepared, state)

	owner, held := e2.locks.Owner("6001")
	require.True(t, held)
	assert.Equal(t, int64(1), owner)

	require.Nil(t, e2.Commit(1))
	rec, rerr := e2.Read(2, "6001")
	require.Nil(t, rerr)
	assert.Equal(t, 42, rec.Fields["v"])
}

func TestReadWriteConflictOnPrepare(t *testing.T) {
	e, _, _ := newTestEngine(t)
	seedCommitted(t, e, 1, "7001", map[string]any{"v": 1})

	_, rerr := e.Read(10, "7001") // pure read, added to readSet
	require.Nil(t, rerr)
	require.Nil(t, e.Insert(10, "7002", map[string]any{"v": 1})) // unrelated write, so xid 10 can prepare

	// Concurrently, another txn updates 7001 and commits first.
	require.Nil(t, e.Update(11, "7001", map[string]any{"v": 2}))
	require.Nil(t, e.Prepare(11))
	require.Nil(t, e.Commit(11))

	err := e.Prepare(10)
	require.NotNil(t, err)
	assert.Equal(t, ReadWriteConflict, err.Kind)
}
