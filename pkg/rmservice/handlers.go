package rmservice

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/JoDio-zd/resvoy/pkg/log"
	"github.com/JoDio-zd/resvoy/pkg/metrics"
	"github.com/JoDio-zd/resvoy/pkg/rm"
	"github.com/JoDio-zd/resvoy/pkg/rpc"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeRMError(w http.ResponseWriter, err *rm.Error) {
	writeJSON(w, httpStatus(err.Kind), rpc.ErrorResponse{OK: false, Error: err.Kind.String()})
}

func parseXid(s string) (int64, bool) {
	xid, err := strconv.ParseInt(s, 10, 64)
	return xid, err == nil
}

// handleRead implements GET /records/{key}?xid=….
func (s *Service) handleRead(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RMRequestDuration, s.Name, "read")

	key := r.PathValue("key")
	xid, ok := parseXid(r.URL.Query().Get("xid"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, rpc.ErrorResponse{OK: false, Error: rm.InvalidArgument.String()})
		return
	}

	record, err := s.Table.Read(xid, key)
	if err != nil {
		metrics.RMCrudTotal.WithLabelValues(s.Name, "read", err.Kind.String()).Inc()
		writeRMError(w, err)
		return
	}
	metrics.RMCrudTotal.WithLabelValues(s.Name, "read", rm.Success.String()).Inc()

	var fields map[string]any
	if record != nil {
		fields = record.Fields
	}
	writeJSON(w, http.StatusOK, rpc.RecordResponse{Record: fields})
}

// handleInsert implements POST /records.
func (s *Service) handleInsert(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RMRequestDuration, s.Name, "insert")

	var req rpc.InsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpc.ErrorResponse{OK: false, Error: rm.InvalidArgument.String()})
		return
	}

	if err := s.Table.Insert(req.Xid, req.Record); err != nil {
		metrics.RMCrudTotal.WithLabelValues(s.Name, "insert", err.Kind.String()).Inc()
		writeRMError(w, err)
		return
	}
	metrics.RMCrudTotal.WithLabelValues(s.Name, "insert", rm.Success.String()).Inc()
	s.enlist(req.Xid)
	writeJSON(w, http.StatusOK, rpc.OKResponse{OK: true})
}

// handleUpdate implements PUT /records/{key}.
func (s *Service) handleUpdate(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RMRequestDuration, s.Name, "update")

	key := r.PathValue("key")
	var req rpc.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpc.ErrorResponse{OK: false, Error: rm.InvalidArgument.String()})
		return
	}

	if err := s.Table.Update(req.Xid, key, req.Updates); err != nil {
		metrics.RMCrudTotal.WithLabelValues(s.Name, "update", err.Kind.String()).Inc()
		writeRMError(w, err)
		return
	}
	metrics.RMCrudTotal.WithLabelValues(s.Name, "update", rm.Success.String()).Inc()
	s.enlist(req.Xid)
	writeJSON(w, http.StatusOK, rpc.OKResponse{OK: true})
}

// handleDelete implements DELETE /records/{key}?xid=….
func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RMRequestDuration, s.Name, "delete")

	key := r.PathValue("key")
	xid, ok := parseXid(r.URL.Query().Get("xid"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, rpc.ErrorResponse{OK: false, Error: rm.InvalidArgument.String()})
		return
	}

	if err := s.Table.Delete(xid, key); err != nil {
		metrics.RMCrudTotal.WithLabelValues(s.Name, "delete", err.Kind.String()).Inc()
		writeRMError(w, err)
		return
	}
	metrics.RMCrudTotal.WithLabelValues(s.Name, "delete", rm.Success.String()).Inc()
	s.enlist(xid)
	writeJSON(w, http.StatusOK, rpc.OKResponse{OK: true})
}

// handlePrepare implements POST /txn/prepare. Unlike the other 2PC
// endpoints, a failed prepare is a normal outcome reported in the body with
// 200, per spec.md §6 — it is not a transport-level error.
func (s *Service) handlePrepare(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RMRequestDuration, s.Name, "prepare")

	var req rpc.TxnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpc.ErrorResponse{OK: false, Error: rm.InvalidArgument.String()})
		return
	}

	xlog := log.WithXid(req.Xid)
	if err := s.Table.Engine.Prepare(req.Xid); err != nil {
		metrics.RMPrepareTotal.WithLabelValues(s.Name, err.Kind.String()).Inc()
		if err.Kind == rm.LockConflict {
			metrics.RMLockConflictsTotal.WithLabelValues(s.Name).Inc()
		}
		ev := xlog.Warn()
		if err.Kind == rm.IOError || err.Kind == rm.InternalInvariant {
			ev = xlog.Error()
		}
		ev.Str("rm", s.Name).Str("kind", err.Kind.String()).Msg("prepare failed")
		writeJSON(w, http.StatusOK, rpc.PrepareResponse{OK: false, Error: err.Kind.String()})
		return
	}
	metrics.RMPrepareTotal.WithLabelValues(s.Name, rm.Success.String()).Inc()
	xlog.Info().Str("rm", s.Name).Msg("prepared")
	writeJSON(w, http.StatusOK, rpc.PrepareResponse{OK: true})
}

// handleCommit implements POST /txn/commit.
func (s *Service) handleCommit(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RMRequestDuration, s.Name, "commit")

	var req rpc.TxnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpc.ErrorResponse{OK: false, Error: rm.InvalidArgument.String()})
		return
	}

	if err := s.Table.Engine.Commit(req.Xid); err != nil {
		metrics.RMCommitTotal.WithLabelValues(s.Name, err.Kind.String()).Inc()
		writeRMError(w, err)
		return
	}
	metrics.RMCommitTotal.WithLabelValues(s.Name, rm.Success.String()).Inc()
	log.WithXid(req.Xid).Info().Str("rm", s.Name).Msg("committed")
	writeJSON(w, http.StatusOK, rpc.OKResponse{OK: true})
}

// handleAbort implements POST /txn/abort.
func (s *Service) handleAbort(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RMRequestDuration, s.Name, "abort")

	var req rpc.TxnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpc.ErrorResponse{OK: false, Error: rm.InvalidArgument.String()})
		return
	}

	if err := s.Table.Engine.Abort(req.Xid); err != nil {
		writeRMError(w, err)
		return
	}
	metrics.RMAbortTotal.WithLabelValues(s.Name).Inc()
	log.WithXid(req.Xid).Info().Str("rm", s.Name).Msg("aborted")
	writeJSON(w, http.StatusOK, rpc.OKResponse{OK: true})
}
