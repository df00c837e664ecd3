// Package tm implements the Transaction Manager's coordinator: the
// transaction table, the 2PC algorithm of spec.md §4.5, and crash recovery
// of in-flight decisions. Generalized from the teacher's
// pkg/manager.Manager (single-mutex-guarded in-memory state plus a durable
// log it replays at startup) onto the reservation-service's own state
// machine: xid -> {state, participants} instead of raft log entries.
package tm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/JoDio-zd/resvoy/pkg/metrics"
	"github.com/JoDio-zd/resvoy/pkg/rpc"
)

// State is a transaction's lifecycle state as tracked by the coordinator.
type State int

const (
	Active State = iota
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Active:
		return string(rpc.OutcomeActive)
	case Committed:
		return string(rpc.OutcomeCommitted)
	case Aborted:
		return string(rpc.OutcomeAborted)
	default:
		return "UNKNOWN"
	}
}

// txn is the coordinator's view of one transaction.
type txn struct {
	state        State
	participants map[string]struct{}
}

// Coordinator owns the transaction table and the decision log, and drives
// the 2PC protocol described in spec.md §4.5. It is safe for concurrent
// use; every exported method takes the coordinator's single mutex, matching
// the teacher's manager.Manager style of one coarse lock guarding all
// cluster state rather than fine-grained per-entry locks.
type Coordinator struct {
	mu       sync.Mutex
	nextXid  int64
	txns     map[int64]*txn
	log      DecisionLog
	rmDialer RMDialer
}

// DecisionLog is the durable record of committed/aborted decisions that
// crash recovery replays, per spec.md §6.1's TM decision log schema. Two
// implementations are provided: decisionlog.JSONLog (literal schema) and
// decisionlog.BoltLog (bbolt-backed).
type DecisionLog interface {
	SaveDecision(xid int64, outcome string, participants []string) error
	RecordAck(xid int64, participant string) error
	RemoveDecision(xid int64) error
	LoadAll() (map[int64]Decision, error)
}

// Decision is one durable decision-log entry.
type Decision struct {
	Outcome      string
	Participants []string
	Acked        []string
}

// RMDialer is the TM's view of an RM participant: prepare/commit/abort
// over HTTP. Implemented by pkg/tm/rmclient.Client.
type RMDialer interface {
	Prepare(endpoint string, xid int64) (ok bool, errKind string, err error)
	Commit(endpoint string, xid int64) error
	Abort(endpoint string, xid int64) error
}

// NewCoordinator returns a Coordinator backed by log and rmDialer.
func NewCoordinator(log DecisionLog, rmDialer RMDialer) *Coordinator {
	return &Coordinator{
		txns:     make(map[int64]*txn),
		log:      log,
		rmDialer: rmDialer,
	}
}

// Start assigns a fresh xid and creates an ACTIVE entry. No durability is
// required for this step, per spec.md §4.5.
func (c *Coordinator) Start() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextXid++
	xid := c.nextXid
	c.txns[xid] = &txn{state: Active, participants: map[string]struct{}{}}
	metrics.TMActiveTransactions.Inc()
	return xid
}

// Enlist adds endpoint to xid's participant set. Idempotent; fails if xid
// is unknown or not ACTIVE.
func (c *Coordinator) Enlist(xid int64, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.txns[xid]
	if !ok {
		return fmt.Errorf("tm: unknown xid %d", xid)
	}
	if t.state != Active {
		return fmt.Errorf("tm: xid %d is %s, not ACTIVE", xid, t.state)
	}
	t.participants[endpoint] = struct{}{}
	return nil
}

// Status reports the current state of xid.
func (c *Coordinator) Status(xid int64) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.txns[xid]
	if !ok {
		return 0, false
	}
	return t.state, true
}

// participantList returns xid's participants in deterministic order, so
// phase-1/phase-2 fan-out is reproducible across retries and in tests.
func (c *Coordinator) participantList(xid int64) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.txns[xid]
	if !ok {
		return nil, fmt.Errorf("tm: unknown xid %d", xid)
	}
	out := make([]string, 0, len(t.participants))
	for p := range t.participants {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (c *Coordinator) setState(xid int64, state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.txns[xid]; ok {
		t.state = state
	} else {
		c.txns[xid] = &txn{state: state, participants: map[string]struct{}{}}
	}
}

// drained is called once every participant has acknowledged xid's
// decision; runPhase2 has already removed the durable decision record by
// then. drained only decrements the active-transactions gauge: the terminal
// state stays in the transaction table so Status keeps answering
// COMMITTED/ABORTED for the lifetime of this process.
func (c *Coordinator) drained(xid int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	metrics.TMActiveTransactions.Dec()
}
