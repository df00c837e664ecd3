package tm

import (
	"github.com/JoDio-zd/resvoy/pkg/log"
	"github.com/JoDio-zd/resvoy/pkg/metrics"
	"github.com/JoDio-zd/resvoy/pkg/rpc"
)

// Recover scans the decision log at startup and resumes phase-2 broadcast
// for every decision record found, per spec.md §4.5's TM crash recovery.
// Transactions with no decision record are not resurrected here: they had
// not yet reached a decision before the crash, so per spec they are
// treated as ABORTED by any participant that still holds PREPARED state
// for them (the RM's own recovery handles that side).
func (c *Coordinator) Recover() error {
	decisions, err := c.log.LoadAll()
	if err != nil {
		return err
	}
	for xid, d := range decisions {
		xlog := log.WithXid(xid)
		xlog.Info().Str("outcome", d.Outcome).Int("participants", len(d.Participants)).Msg("resuming phase-2 for recovered decision")

		outstanding := subtract(d.Participants, d.Acked)
		c.setState(xid, stateFor(rpc.Outcome(d.Outcome)))

		if len(outstanding) == 0 {
			if err := c.log.RemoveDecision(xid); err != nil {
				xlog.Error().Err(err).Msg("failed to remove already-drained decision record")
			}
			continue
		}

		metrics.TMActiveTransactions.Inc()
		if c.runPhase2(xid, rpc.Outcome(d.Outcome), outstanding, reportingDeadline) {
			c.drained(xid)
		} else {
			xlog.Warn().Msg("recovered decision still outstanding after recovery pass; continuing in background")
			c.continuePhase2InBackground(xid, rpc.Outcome(d.Outcome), outstanding)
		}
	}
	return nil
}

func subtract(all, acked []string) []string {
	ackedSet := make(map[string]struct{}, len(acked))
	for _, a := range acked {
		ackedSet[a] = struct{}{}
	}
	out := make([]string, 0, len(all))
	for _, p := range all {
		if _, ok := ackedSet[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}
