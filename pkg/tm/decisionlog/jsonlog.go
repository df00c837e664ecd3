// Package decisionlog provides the TM's durable decision log in two
// implementations, matching the "this separation is load-bearing for
// testing" principle spec.md §9 states for the RM's PREPARED log: JSONLog
// is the literal schema of spec.md §6.1 written with the same
// temp-file+fsync+rename discipline as pkg/rm/txlog; BoltLog is the
// bbolt-backed generalization of the teacher's storage.BoltStore.
package decisionlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/JoDio-zd/resvoy/pkg/tm"
)

type decisionDoc struct {
	Outcome      string   `json:"outcome"`
	Participants []string `json:"participants"`
	Acked        []string `json:"acked"`
}

type document struct {
	Decisions map[string]decisionDoc `json:"decisions"`
}

// JSONLog is a file-backed tm.DecisionLog using the schema recommended by
// spec.md §6.1: {decisions: {"<xid>": {outcome, participants, acked}}}.
type JSONLog struct {
	mu   sync.Mutex
	path string
}

// OpenJSON returns a JSONLog backed by path, creating an empty document if
// absent.
func OpenJSON(path string) (*JSONLog, error) {
	l := &JSONLog{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := l.write(document{Decisions: map[string]decisionDoc{}}); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *JSONLog) read() (document, error) {
	var doc document
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return document{Decisions: map[string]decisionDoc{}}, nil
		}
		return doc, err
	}
	if len(data) == 0 {
		return document{Decisions: map[string]decisionDoc{}}, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, err
	}
	if doc.Decisions == nil {
		doc.Decisions = map[string]decisionDoc{}
	}
	return doc, nil
}

func (l *JSONLog) write(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("decisionlog: marshal: %w", err)
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".decisionlog-*.tmp")
	if err != nil {
		return fmt.Errorf("decisionlog: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("decisionlog: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("decisionlog: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("decisionlog: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		return fmt.Errorf("decisionlog: rename temp file: %w", err)
	}
	return nil
}

// SaveDecision implements tm.DecisionLog.
func (l *JSONLog) SaveDecision(xid int64, outcome string, participants []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.read()
	if err != nil {
		return err
	}
	doc.Decisions[strconv.FormatInt(xid, 10)] = decisionDoc{
		Outcome:      outcome,
		Participants: participants,
		Acked:        []string{},
	}
	return l.write(doc)
}

// RecordAck implements tm.DecisionLog.
func (l *JSONLog) RecordAck(xid int64, participant string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.read()
	if err != nil {
		return err
	}
	key := strconv.FormatInt(xid, 10)
	d, ok := doc.Decisions[key]
	if !ok {
		return nil
	}
	for _, a := range d.Acked {
		if a == participant {
			return nil
		}
	}
	d.Acked = append(d.Acked, participant)
	doc.Decisions[key] = d
	return l.write(doc)
}

// RemoveDecision implements tm.DecisionLog.
func (l *JSONLog) RemoveDecision(xid int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.read()
	if err != nil {
		return err
	}
	key := strconv.FormatInt(xid, 10)
	if _, ok := doc.Decisions[key]; !ok {
		return nil
	}
	delete(doc.Decisions, key)
	return l.write(doc)
}

// LoadAll implements tm.DecisionLog.
func (l *JSONLog) LoadAll() (map[int64]tm.Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.read()
	if err != nil {
		return nil, err
	}
	out := make(map[int64]tm.Decision, len(doc.Decisions))
	for xidStr, d := range doc.Decisions {
		xid, err := strconv.ParseInt(xidStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decisionlog: invalid xid %q: %w", xidStr, err)
		}
		out[xid] = tm.Decision{Outcome: d.Outcome, Participants: d.Participants, Acked: d.Acked}
	}
	return out, nil
}
