// Package boltpageio is a durable rm.PageIO adapter backed by
// go.etcd.io/bbolt, generalized from the teacher's BoltStore
// (pkg/storage/boltdb.go): one bucket per RM shard, one key per record,
// JSON-encoded. The relational (MySQL) backing store named in spec.md §6
// is explicitly out of scope for this repository; bbolt gives the same
// single-writer, torn-write-impossible durability spec.md §5 asks of any
// backing store, without requiring an external database process.
package boltpageio

import (
	"encoding/json"
	"fmt"

	"github.com/JoDio-zd/resvoy/pkg/rm"
	bolt "go.etcd.io/bbolt"
)

var bucketRecords = []byte("records")

// Store is a bbolt-backed PageIO. A Page's records are stored as
// individual keys under bucketRecords, so PageIn only needs to scan the
// key range a PageIndex assigns to that page.
type Store struct {
	db    *bolt.DB
	index rm.PageIndex
}

type recordDoc struct {
	Data    map[string]any `json:"data"`
	Version int64          `json:"version"`
}

// Open opens (creating if necessary) a bbolt database at path for use as a
// committed-page backing store, partitioned by the given PageIndex.
func Open(path string, index rm.PageIndex) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltpageio: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltpageio: create bucket: %w", err)
	}
	return &Store{db: db, index: index}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PageIn implements rm.PageIO: it loads every record whose key falls
// within the page's range, per spec.md §6 ("page-in reads all rows whose
// key falls within the page's key range").
func (s *Store) PageIn(pageID string) (*rm.Page, error) {
	low, high := s.index.PageToRange(pageID)
	page := rm.NewPage(pageID)

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		c := b.Cursor()
		for k, v := c.Seek([]byte(low)); k != nil && string(k) <= high; k, v = c.Next() {
			var doc recordDoc
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("boltpageio: decode key %q: %w", k, err)
			}
			page.Put(string(k), &rm.Record{Fields: doc.Data, Version: doc.Version})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// PageOut implements rm.PageIO: upserts non-deleted records, deletes
// tombstoned ones, in a single bbolt transaction per page.
func (s *Store) PageOut(page *rm.Page) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		low, high := s.index.PageToRange(page.PageID)

		c := b.Cursor()
		existing := map[string]bool{}
		for k, _ := c.Seek([]byte(low)); k != nil && string(k) <= high; k, _ = c.Next() {
			existing[string(k)] = true
		}

		for key, rec := range page.Records {
			data, err := json.Marshal(recordDoc{Data: rec.Fields, Version: rec.Version})
			if err != nil {
				return fmt.Errorf("boltpageio: encode key %q: %w", key, err)
			}
			if err := b.Put([]byte(key), data); err != nil {
				return fmt.Errorf("boltpageio: put key %q: %w", key, err)
			}
			delete(existing, key)
		}
		for key := range existing {
			if err := b.Delete([]byte(key)); err != nil {
				return fmt.Errorf("boltpageio: delete key %q: %w", key, err)
			}
		}
		return nil
	})
}
