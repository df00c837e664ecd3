package decisionlog

import (
	"encoding/json"
	"fmt"
	"strconv"

	bolt "go.etcd.io/bbolt"

	"github.com/JoDio-zd/resvoy/pkg/tm"
)

var bucketDecisions = []byte("decisions")

// BoltLog is a bbolt-backed tm.DecisionLog, generalized from the teacher's
// storage.BoltStore bucket-per-concern design onto a single "decisions"
// bucket keyed by xid.
type BoltLog struct {
	db *bolt.DB
}

// OpenBolt opens (creating if absent) a bbolt database at path for use as
// a decision log.
func OpenBolt(path string) (*BoltLog, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("decisionlog: open bbolt: %w", err)
	}
	err = db.Update(func(btx *bolt.Tx) error {
		_, err := btx.CreateBucketIfNotExists(bucketDecisions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("decisionlog: create bucket: %w", err)
	}
	return &BoltLog{db: db}, nil
}

// Close closes the underlying bbolt database.
func (l *BoltLog) Close() error {
	return l.db.Close()
}

// SaveDecision implements tm.DecisionLog.
func (l *BoltLog) SaveDecision(xid int64, outcome string, participants []string) error {
	doc := decisionDoc{Outcome: outcome, Participants: participants, Acked: []string{}}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return l.db.Update(func(btx *bolt.Tx) error {
		return btx.Bucket(bucketDecisions).Put(xidKey(xid), data)
	})
}

// RecordAck implements tm.DecisionLog.
func (l *BoltLog) RecordAck(xid int64, participant string) error {
	return l.db.Update(func(btx *bolt.Tx) error {
		b := btx.Bucket(bucketDecisions)
		raw := b.Get(xidKey(xid))
		if raw == nil {
			return nil
		}
		var doc decisionDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		for _, a := range doc.Acked {
			if a == participant {
				return nil
			}
		}
		doc.Acked = append(doc.Acked, participant)
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return b.Put(xidKey(xid), data)
	})
}

// RemoveDecision implements tm.DecisionLog.
func (l *BoltLog) RemoveDecision(xid int64) error {
	return l.db.Update(func(btx *bolt.Tx) error {
		return btx.Bucket(bucketDecisions).Delete(xidKey(xid))
	})
}

// LoadAll implements tm.DecisionLog.
func (l *BoltLog) LoadAll() (map[int64]tm.Decision, error) {
	out := make(map[int64]tm.Decision)
	err := l.db.View(func(btx *bolt.Tx) error {
		b := btx.Bucket(bucketDecisions)
		return b.ForEach(func(k, v []byte) error {
			xid, err := strconv.ParseInt(string(k), 10, 64)
			if err != nil {
				return fmt.Errorf("decisionlog: invalid xid key %q: %w", k, err)
			}
			var doc decisionDoc
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			out[xid] = tm.Decision{Outcome: doc.Outcome, Participants: doc.Participants, Acked: doc.Acked}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func xidKey(xid int64) []byte {
	return []byte(strconv.FormatInt(xid, 10))
}
