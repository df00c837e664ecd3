package rm

// PageIO defines how logical pages are loaded from and persisted to an
// underlying backing store. The RM engine depends only on this interface
// (and PageIndex) so that the relational adapter named in spec.md §6 (out
// of scope here) and any in-process adapter are interchangeable without
// touching engine logic — per spec.md §9's "this separation is
// load-bearing for testing".
type PageIO interface {
	// PageIn loads the page identified by pageID, returning an empty page
	// (not an error) if nothing has been persisted for it yet.
	PageIn(pageID string) (*Page, error)
	// PageOut persists a page's records: upserts non-deleted records,
	// deletes tombstoned ones, in the same batch.
	PageOut(page *Page) error
}

// PreparedLog durably records the shadow set of a PREPARED transaction so
// that a crash-restart cycle can rebuild it before accepting new requests,
// per spec.md §4.2 step 4 and §4.4.
type PreparedLog interface {
	// Save durably persists the full shadow record set for xid, replacing
	// any prior entry. Must fsync before returning.
	Save(xid int64, records map[string]*Record) error
	// Remove deletes the durable entry for xid (called on commit/abort).
	Remove(xid int64) error
	// LoadAll returns every durable PREPARED entry, for startup recovery.
	LoadAll() (map[int64]map[string]*Record, error)
}
