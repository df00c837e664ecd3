// Package rmservice exposes an rm.Table over HTTP, per spec.md §6's RM
// service contract. One Service instance serves exactly one RM shard (one
// resource type, e.g. flights, hotels, customers); cmd/rm wires up one
// process per shard the same way the teacher wires up one HealthServer per
// manager.
package rmservice

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/JoDio-zd/resvoy/pkg/log"
	"github.com/JoDio-zd/resvoy/pkg/metrics"
	"github.com/JoDio-zd/resvoy/pkg/rm"
	"github.com/JoDio-zd/resvoy/pkg/rpc"
)

// Service binds an rm.Table to an HTTP mux and a best-effort TM enlistment
// client, grounded on original_source's flight_rm_service.py enlist() call
// fired after every successful write.
type Service struct {
	Name     string // e.g. "flights", used as the metrics/logging label
	Table    *rm.Table
	SelfAddr string // this service's own externally reachable address, sent to the TM on enlist
	TMAddr   string

	httpClient *http.Client
}

// New returns a Service ready to be mounted by Mux.
func New(name string, table *rm.Table, selfAddr, tmAddr string) *Service {
	return &Service{
		Name:     name,
		Table:    table,
		SelfAddr: selfAddr,
		TMAddr:   tmAddr,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Mux builds the http.ServeMux for this RM, following the teacher's
// pkg/api health.go pattern of registering each route against one mux.
func (s *Service) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /records/{key}", s.handleRead)
	mux.HandleFunc("POST /records", s.handleInsert)
	mux.HandleFunc("PUT /records/{key}", s.handleUpdate)
	mux.HandleFunc("DELETE /records/{key}", s.handleDelete)
	mux.HandleFunc("POST /txn/prepare", s.handlePrepare)
	mux.HandleFunc("POST /txn/commit", s.handleCommit)
	mux.HandleFunc("POST /txn/abort", s.handleAbort)
	mux.HandleFunc("GET /health", metrics.HealthHandler())
	mux.HandleFunc("GET /ready", metrics.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /shutdown", s.handleShutdown)
	return mux
}

// enlist notifies the TM that this RM participates in xid. Best-effort: a
// failure here is logged, not surfaced, matching the original's enlist()
// which fires the HTTP call without checking its outcome — the write it
// follows has already succeeded locally.
func (s *Service) enlist(xid int64) {
	if s.TMAddr == "" {
		return
	}
	body, err := json.Marshal(rpc.EnlistRequest{Xid: xid, RM: s.SelfAddr})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.TMAddr+"/txn/enlist", bytes.NewReader(body))
	if err != nil {
		log.WithXid(xid).Warn().Err(err).Str("rm", s.Name).Msg("failed to build enlist request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.WithXid(xid).Warn().Err(err).Str("rm", s.Name).Msg("enlist with tm failed")
		return
	}
	defer resp.Body.Close()
}

// handleShutdown terminates the process, matching the original's test/ops
// shutdown endpoint (used by the crash-recovery scenario in spec.md §8.5
// to kill an RM after prepare).
func (s *Service) handleShutdown(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	go func() {
		time.Sleep(50 * time.Millisecond)
		os.Exit(0)
	}()
}
