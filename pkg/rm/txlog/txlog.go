// Package txlog implements the RM's durable PREPARED log as a single JSON
// document, atomically rewritten via temp-file + fsync + rename on every
// mutation, per spec.md §6. This is the default rm.PreparedLog
// implementation, grounded on the teacher's atomic-file-lifecycle pattern
// in pkg/storage/boltdb.go generalized from bbolt's own durability
// discipline to a plain file.
package txlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/JoDio-zd/resvoy/pkg/rm"
)

type recordDoc struct {
	Data    map[string]any `json:"data"`
	Deleted bool           `json:"deleted"`
	Version int64          `json:"version"`
}

type preparedDoc struct {
	Records map[string]recordDoc `json:"records"`
}

type document struct {
	Prepared map[string]preparedDoc `json:"prepared"`
}

// Log is a file-backed rm.PreparedLog. One Log instance must own its path
// exclusively; all mutations are serialized through mu.
type Log struct {
	mu   sync.Mutex
	path string
}

// Open returns a Log backed by the JSON document at path, creating an
// empty document if the file does not yet exist.
func Open(path string) (*Log, error) {
	l := &Log{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := l.writeDocument(document{Prepared: map[string]preparedDoc{}}); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Log) readDocument() (document, error) {
	var doc document
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return document{Prepared: map[string]preparedDoc{}}, nil
		}
		return doc, err
	}
	if len(data) == 0 {
		return document{Prepared: map[string]preparedDoc{}}, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, err
	}
	if doc.Prepared == nil {
		doc.Prepared = map[string]preparedDoc{}
	}
	return doc, nil
}

// writeDocument atomically rewrites the log: write to a temp file in the
// same directory, fsync it, then rename over the real path. A torn write
// is impossible because rename is atomic within one filesystem.
func (l *Log) writeDocument(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("txlog: marshal: %w", err)
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".txlog-*.tmp")
	if err != nil {
		return fmt.Errorf("txlog: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("txlog: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("txlog: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("txlog: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		return fmt.Errorf("txlog: rename temp file: %w", err)
	}
	return nil
}

// Save implements rm.PreparedLog.
func (l *Log) Save(xid int64, records map[string]*rm.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.readDocument()
	if err != nil {
		return fmt.Errorf("txlog: read document: %w", err)
	}

	recs := make(map[string]recordDoc, len(records))
	for key, rec := range records {
		recs[key] = recordDoc{Data: rec.Fields, Deleted: rec.Deleted, Version: rec.Version}
	}
	doc.Prepared[strconv.FormatInt(xid, 10)] = preparedDoc{Records: recs}

	return l.writeDocument(doc)
}

// Remove implements rm.PreparedLog.
func (l *Log) Remove(xid int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.readDocument()
	if err != nil {
		return fmt.Errorf("txlog: read document: %w", err)
	}
	key := strconv.FormatInt(xid, 10)
	if _, ok := doc.Prepared[key]; !ok {
		return nil
	}
	delete(doc.Prepared, key)
	return l.writeDocument(doc)
}

// LoadAll implements rm.PreparedLog.
func (l *Log) LoadAll() (map[int64]map[string]*rm.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.readDocument()
	if err != nil {
		return nil, fmt.Errorf("txlog: read document: %w", err)
	}

	out := make(map[int64]map[string]*rm.Record, len(doc.Prepared))
	for xidStr, prepared := range doc.Prepared {
		xid, err := strconv.ParseInt(xidStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("txlog: invalid xid %q: %w", xidStr, err)
		}
		records := make(map[string]*rm.Record, len(prepared.Records))
		for key, rd := range prepared.Records {
			records[key] = &rm.Record{Fields: rd.Data, Deleted: rd.Deleted, Version: rd.Version}
		}
		out[xid] = records
	}
	return out, nil
}
