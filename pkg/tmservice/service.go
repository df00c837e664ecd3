// Package tmservice exposes a tm.Coordinator over HTTP, per spec.md §6's
// TM service contract. Route style follows pkg/rmservice (Go 1.22
// http.ServeMux method+pattern routing, grounded on the teacher's
// pkg/api/health.go mux-per-server pattern).
package tmservice

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/JoDio-zd/resvoy/pkg/log"
	"github.com/JoDio-zd/resvoy/pkg/metrics"
	"github.com/JoDio-zd/resvoy/pkg/rpc"
	"github.com/JoDio-zd/resvoy/pkg/tm"
)

// Service binds a tm.Coordinator to an HTTP mux.
type Service struct {
	Coordinator *tm.Coordinator
}

// New returns a Service ready to be mounted by Mux.
func New(coordinator *tm.Coordinator) *Service {
	return &Service{Coordinator: coordinator}
}

// Mux builds the http.ServeMux for the TM.
func (s *Service) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /txn/start", s.handleStart)
	mux.HandleFunc("POST /txn/enlist", s.handleEnlist)
	mux.HandleFunc("POST /txn/commit", s.handleCommit)
	mux.HandleFunc("POST /txn/abort", s.handleAbort)
	mux.HandleFunc("GET /txn/{xid}", s.handleStatus)
	mux.HandleFunc("GET /health", metrics.HealthHandler())
	mux.HandleFunc("GET /ready", metrics.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// handleStart implements POST /txn/start.
func (s *Service) handleStart(w http.ResponseWriter, r *http.Request) {
	xid := s.Coordinator.Start()
	log.WithXid(xid).Info().Msg("transaction started")
	writeJSON(w, http.StatusOK, rpc.StartResponse{Xid: xid})
}

// handleEnlist implements POST /txn/enlist.
func (s *Service) handleEnlist(w http.ResponseWriter, r *http.Request) {
	var req rpc.EnlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpc.ErrorResponse{OK: false, Error: "INVALID_ARGUMENT"})
		return
	}
	if err := s.Coordinator.Enlist(req.Xid, req.RM); err != nil {
		log.WithXid(req.Xid).Warn().Err(err).Str("rm", req.RM).Msg("enlist rejected")
		writeJSON(w, http.StatusConflict, rpc.ErrorResponse{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rpc.OKResponse{OK: true})
}

// handleCommit implements POST /txn/commit.
func (s *Service) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req rpc.TxnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpc.ErrorResponse{OK: false, Error: "INVALID_ARGUMENT"})
		return
	}
	status := s.Coordinator.Commit(req.Xid)
	writeJSON(w, http.StatusOK, rpc.CommitResponse{Xid: req.Xid, Status: status})
}

// handleAbort implements POST /txn/abort.
func (s *Service) handleAbort(w http.ResponseWriter, r *http.Request) {
	var req rpc.TxnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpc.ErrorResponse{OK: false, Error: "INVALID_ARGUMENT"})
		return
	}
	status := s.Coordinator.Abort(req.Xid)
	writeJSON(w, http.StatusOK, rpc.AbortResponse{Xid: req.Xid, Status: status})
}

// handleStatus implements GET /txn/{xid}.
func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	xid, err := strconv.ParseInt(r.PathValue("xid"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, rpc.ErrorResponse{OK: false, Error: "INVALID_ARGUMENT"})
		return
	}
	state, ok := s.Coordinator.Status(xid)
	if !ok {
		writeJSON(w, http.StatusNotFound, rpc.ErrorResponse{OK: false, Error: "TXN_NOT_FOUND"})
		return
	}
	writeJSON(w, http.StatusOK, rpc.StatusResponse{Xid: xid, Status: state.String()})
}
