package wc

import (
	"context"

	"github.com/JoDio-zd/resvoy/pkg/log"
	"github.com/JoDio-zd/resvoy/pkg/metrics"
)

// Orchestrator runs one business request as a single TM transaction
// across the RMs it touches, ported from original_source's
// ReservationOrchestrator: obtain an xid, run the caller's work, commit on
// success or auto-abort on any failure — per spec.md §4.6's WC contract.
type Orchestrator struct {
	TM *TMClient
}

// NewOrchestrator returns an Orchestrator using tmClient for xid
// lifecycle.
func NewOrchestrator(tmClient *TMClient) *Orchestrator {
	return &Orchestrator{TM: tmClient}
}

// RunTxn begins a fresh xid, invokes work(xid), and:
//   - on success, commits and returns the TM's status string
//     ("COMMITTED", "ABORTED" when a participant rejected prepare, or
//     "IN_DOUBT" per spec.md §4.5 step 4);
//   - on any error from work, auto-aborts xid (best-effort, its own
//     failure is logged and swallowed per spec.md §7) and returns the
//     original error unchanged.
func (o *Orchestrator) RunTxn(work func(xid int64) *WCError) (string, *WCError) {
	xid, err := o.TM.Start(context.Background())
	if err != nil {
		return "", err.(*WCError)
	}

	xlog := log.WithXid(xid)

	if werr := work(xid); werr != nil {
		xlog.Warn().Err(werr).Msg("transaction failed, auto-aborting")
		if abortErr := o.TM.Abort(xid); abortErr != nil {
			xlog.Error().Err(abortErr).Msg("auto-abort itself failed")
		}
		metrics.WCAutoAbortsTotal.Inc()
		return "", werr
	}

	status, commitErr := o.TM.Commit(xid)
	if commitErr != nil {
		return "", commitErr.(*WCError)
	}
	xlog.Info().Str("status", status).Msg("transaction finished")
	return status, nil
}
