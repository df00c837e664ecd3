package tm

import (
	"sync"
	"time"

	"github.com/JoDio-zd/resvoy/pkg/log"
	"github.com/JoDio-zd/resvoy/pkg/metrics"
	"github.com/JoDio-zd/resvoy/pkg/rpc"
)

// reportingDeadline bounds how long Commit waits for phase 2 to fully
// drain before it gives up and reports IN_DOUBT to the caller, per
// spec.md §4.5 step 4. The decision itself is already durable by then.
const reportingDeadline = 3 * time.Second

// phase2RetryBackoffs is the bounded backoff between phase-2 retry
// attempts against a participant that has not yet acknowledged.
var phase2RetryBackoffs = []time.Duration{50 * time.Millisecond, 200 * time.Millisecond, 500 * time.Millisecond, time.Second}

// Commit runs the full two-phase commit protocol for xid: phase 1
// (prepare every participant), the durable decision, and phase 2
// (complete every participant), per spec.md §4.5.
func (c *Coordinator) Commit(xid int64) string {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TMCommitDuration)

	xlog := log.WithXid(xid)

	participants, err := c.participantList(xid)
	if err != nil {
		xlog.Warn().Err(err).Msg("commit requested for unknown xid")
		return string(rpc.OutcomeAborted)
	}

	// A transaction with no participants commits trivially: there is
	// nothing to prepare and nothing to make durable against.
	if len(participants) == 0 {
		if state, _ := c.Status(xid); state == Active {
			metrics.TMActiveTransactions.Dec()
		}
		c.setState(xid, Committed)
		metrics.TMTransactionsTotal.WithLabelValues(string(rpc.OutcomeCommitted)).Inc()
		return string(rpc.OutcomeCommitted)
	}

	// Phase 1: prepare every participant.
	allOK := true
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range participants {
		wg.Add(1)
		go func(endpoint string) {
			defer wg.Done()
			ok, errKind, dialErr := c.rmDialer.Prepare(endpoint, xid)
			if dialErr != nil || !ok {
				mu.Lock()
				allOK = false
				mu.Unlock()
				xlog.Warn().Str("rm", endpoint).Str("kind", errKind).Err(dialErr).Msg("prepare rejected")
			}
		}(p)
	}
	wg.Wait()

	outcome := rpc.OutcomeAborted
	if allOK {
		outcome = rpc.OutcomeCommitted
	}

	// Decision: write the durable record before touching any
	// participant in phase 2. This record is the authoritative outcome.
	if err := c.log.SaveDecision(xid, string(outcome), participants); err != nil {
		xlog.Error().Err(err).Msg("failed to persist decision, reporting in-doubt")
		metrics.TMInDoubtTotal.Inc()
		return string(rpc.OutcomeInDoubt)
	}
	c.setState(xid, stateFor(outcome))
	metrics.TMTransactionsTotal.WithLabelValues(string(outcome)).Inc()

	drained := c.runPhase2(xid, outcome, participants, reportingDeadline)
	if drained {
		c.drained(xid)
		return string(outcome)
	}

	metrics.TMInDoubtTotal.Inc()
	c.continuePhase2InBackground(xid, outcome, participants)
	return string(rpc.OutcomeInDoubt)
}

// Abort marks xid ABORTED and broadcasts abort to every participant,
// best-effort. Idempotent.
func (c *Coordinator) Abort(xid int64) string {
	xlog := log.WithXid(xid)

	if state, ok := c.Status(xid); ok && state == Aborted {
		return string(rpc.OutcomeAborted)
	}

	participants, err := c.participantList(xid)
	if err != nil {
		// Never enlisted anything: still a valid (trivial) abort.
		c.setState(xid, Aborted)
		metrics.TMTransactionsTotal.WithLabelValues(string(rpc.OutcomeAborted)).Inc()
		return string(rpc.OutcomeAborted)
	}

	if err := c.log.SaveDecision(xid, string(rpc.OutcomeAborted), participants); err != nil {
		xlog.Error().Err(err).Msg("failed to persist abort decision")
	}
	c.setState(xid, Aborted)
	metrics.TMTransactionsTotal.WithLabelValues(string(rpc.OutcomeAborted)).Inc()

	if c.runPhase2(xid, rpc.OutcomeAborted, participants, reportingDeadline) {
		c.drained(xid)
	} else {
		c.continuePhase2InBackground(xid, rpc.OutcomeAborted, participants)
	}
	return string(rpc.OutcomeAborted)
}

// continuePhase2InBackground keeps retrying phase 2 for xid past the
// reporting deadline, per spec.md §4.5/§5: a caller that saw IN_DOUBT must
// still converge once the stuck participant recovers, without needing a
// client retry or a process restart to drive it. Runs until every
// participant acknowledges; runPhase2's own backoff table bounds how hard
// it hammers a still-unreachable participant in the meantime.
func (c *Coordinator) continuePhase2InBackground(xid int64, outcome rpc.Outcome, participants []string) {
	xlog := log.WithXid(xid)
	go func() {
		xlog.Warn().Msg("phase-2 did not drain within reporting deadline, continuing in background")
		for !c.runPhase2(xid, outcome, participants, reportingDeadline) {
		}
		c.drained(xid)
		xlog.Info().Msg("phase-2 drained in background")
	}()
}

// runPhase2 completes xid against every participant according to outcome,
// retrying transport failures with bounded backoff, until either every
// participant has acknowledged or deadline elapses. Returns whether every
// participant drained within the deadline.
func (c *Coordinator) runPhase2(xid int64, outcome rpc.Outcome, participants []string, deadline time.Duration) bool {
	xlog := log.WithXid(xid)
	outstanding := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		outstanding[p] = struct{}{}
	}

	deadlineAt := time.Now().Add(deadline)
	attempt := 0
	for len(outstanding) > 0 && time.Now().Before(deadlineAt) {
		for p := range outstanding {
			var err error
			if outcome == rpc.OutcomeCommitted {
				err = c.rmDialer.Commit(p, xid)
			} else {
				err = c.rmDialer.Abort(p, xid)
			}
			if err == nil {
				_ = c.log.RecordAck(xid, p)
				delete(outstanding, p)
				continue
			}
			metrics.TMPhase2RetriesTotal.WithLabelValues(p).Inc()
			xlog.Warn().Str("rm", p).Err(err).Int("attempt", attempt).Msg("phase-2 call failed, will retry")
		}
		if len(outstanding) == 0 {
			break
		}
		backoff := phase2RetryBackoffs[attempt]
		if attempt < len(phase2RetryBackoffs)-1 {
			attempt++
		}
		time.Sleep(backoff)
	}

	if len(outstanding) > 0 {
		xlog.Warn().Int("outstanding", len(outstanding)).Msg("phase-2 did not drain within reporting deadline")
		return false
	}

	if err := c.log.RemoveDecision(xid); err != nil {
		xlog.Error().Err(err).Msg("failed to remove drained decision record")
	}
	return true
}

func stateFor(outcome rpc.Outcome) State {
	if outcome == rpc.OutcomeCommitted {
		return Committed
	}
	return Aborted
}
