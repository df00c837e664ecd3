package reservation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoDio-zd/resvoy/pkg/rpc"
	"github.com/JoDio-zd/resvoy/pkg/wc"
)

// fakeRM is a minimal stand-in for pkg/rmservice.Service: xid-scoped writes
// sit in a shadow until a /txn/commit merges them into the committed set
// or a /txn/abort discards them, and every successful write enlists with
// the TM, mirroring pkg/rmservice.Service.enlist.
type fakeRM struct {
	mu         sync.Mutex
	keyField   string
	committed  map[string]map[string]any
	shadow     map[int64]map[string]map[string]any
	tmURL      string
	selfURL    string
	failInsert bool
}

func newFakeRM(keyField string, seed map[string]map[string]any, tmURL string) (*fakeRM, *httptest.Server) {
	rm := &fakeRM{
		keyField:  keyField,
		committed: seed,
		shadow:    make(map[int64]map[string]map[string]any),
		tmURL:     tmURL,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /records/{key}", rm.get)
	mux.HandleFunc("PUT /records/{key}", rm.put)
	mux.HandleFunc("POST /records", rm.post)
	mux.HandleFunc("POST /txn/commit", rm.commit)
	mux.HandleFunc("POST /txn/abort", rm.abort)
	srv := httptest.NewServer(mux)
	rm.selfURL = srv.URL
	return rm, srv
}

func (rm *fakeRM) xidFrom(r *http.Request) int64 {
	xid, _ := strconv.ParseInt(r.URL.Query().Get("xid"), 10, 64)
	return xid
}

func (rm *fakeRM) get(w http.ResponseWriter, r *http.Request) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	key := r.PathValue("key")
	xid := rm.xidFrom(r)
	if shadowed, ok := rm.shadow[xid]; ok {
		if rec, ok := shadowed[key]; ok {
			json.NewEncoder(w).Encode(rpc.RecordResponse{Record: rec})
			return
		}
	}
	rec, ok := rm.committed[key]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(rpc.ErrorResponse{OK: false, Error: "KEY_NOT_FOUND"})
		return
	}
	json.NewEncoder(w).Encode(rpc.RecordResponse{Record: rec})
}

func (rm *fakeRM) put(w http.ResponseWriter, r *http.Request) {
	rm.mu.Lock()
	key := r.PathValue("key")
	base, ok := rm.committed[key]
	if !ok {
		rm.mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(rpc.ErrorResponse{OK: false, Error: "KEY_NOT_FOUND"})
		return
	}
	var req rpc.UpdateRequest
	json.NewDecoder(r.Body).Decode(&req)
	rec := cloneRecord(base)
	for k, v := range req.Updates {
		rec[k] = v
	}
	if rm.shadow[req.Xid] == nil {
		rm.shadow[req.Xid] = make(map[string]map[string]any)
	}
	rm.shadow[req.Xid][key] = rec
	rm.mu.Unlock()

	rm.enlist(req.Xid)
	json.NewEncoder(w).Encode(rpc.ErrorResponse{OK: true})
}

func (rm *fakeRM) post(w http.ResponseWriter, r *http.Request) {
	var req rpc.InsertRequest
	json.NewDecoder(r.Body).Decode(&req)

	rm.mu.Lock()
	if rm.failInsert {
		rm.mu.Unlock()
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(rpc.ErrorResponse{OK: false, Error: "CAPACITY_EXCEEDED"})
		return
	}
	key, _ := req.Record[rm.keyField].(string)
	if rm.shadow[req.Xid] == nil {
		rm.shadow[req.Xid] = make(map[string]map[string]any)
	}
	rm.shadow[req.Xid][key] = cloneRecord(req.Record)
	rm.mu.Unlock()

	rm.enlist(req.Xid)
	json.NewEncoder(w).Encode(rpc.ErrorResponse{OK: true})
}

func (rm *fakeRM) commit(w http.ResponseWriter, r *http.Request) {
	var req rpc.TxnRequest
	json.NewDecoder(r.Body).Decode(&req)

	rm.mu.Lock()
	for key, rec := range rm.shadow[req.Xid] {
		rm.committed[key] = rec
	}
	delete(rm.shadow, req.Xid)
	rm.mu.Unlock()

	json.NewEncoder(w).Encode(rpc.OKResponse{OK: true})
}

func (rm *fakeRM) abort(w http.ResponseWriter, r *http.Request) {
	var req rpc.TxnRequest
	json.NewDecoder(r.Body).Decode(&req)

	rm.mu.Lock()
	delete(rm.shadow, req.Xid)
	rm.mu.Unlock()

	json.NewEncoder(w).Encode(rpc.OKResponse{OK: true})
}

// enlist notifies the fake TM that this RM participates in xid,
// best-effort, mirroring pkg/rmservice.Service.enlist.
func (rm *fakeRM) enlist(xid int64) {
	if rm.tmURL == "" {
		return
	}
	body, _ := json.Marshal(rpc.EnlistRequest{Xid: xid, RM: rm.selfURL})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rm.tmURL+"/txn/enlist", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}

func cloneRecord(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

// fakeTM is a minimal stand-in for pkg/tmservice.Service: it hands out
// xids, tracks enlisted participants, and forwards commit/abort to every
// enlisted RM, mirroring tm.Coordinator's phase-2 broadcast closely enough
// to drive the WC's auto-abort rollback path end to end over real HTTP.
type fakeTM struct {
	mu           sync.Mutex
	nextXid      int64
	participants map[int64][]string
}

func newFakeTM() *httptest.Server {
	tm := &fakeTM{participants: make(map[int64][]string)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /txn/start", tm.start)
	mux.HandleFunc("POST /txn/enlist", tm.enlist)
	mux.HandleFunc("POST /txn/commit", tm.commit)
	mux.HandleFunc("POST /txn/abort", tm.abort)
	return httptest.NewServer(mux)
}

func (tm *fakeTM) start(w http.ResponseWriter, r *http.Request) {
	tm.mu.Lock()
	tm.nextXid++
	xid := tm.nextXid
	tm.mu.Unlock()
	json.NewEncoder(w).Encode(rpc.StartResponse{Xid: xid})
}

func (tm *fakeTM) enlist(w http.ResponseWriter, r *http.Request) {
	var req rpc.EnlistRequest
	json.NewDecoder(r.Body).Decode(&req)
	tm.mu.Lock()
	tm.participants[req.Xid] = append(tm.participants[req.Xid], req.RM)
	tm.mu.Unlock()
	json.NewEncoder(w).Encode(rpc.OKResponse{OK: true})
}

func (tm *fakeTM) broadcast(xid int64, path string) {
	tm.mu.Lock()
	rms := append([]string(nil), tm.participants[xid]...)
	tm.mu.Unlock()
	for _, rmURL := range rms {
		body, _ := json.Marshal(rpc.TxnRequest{Xid: xid})
		resp, err := http.Post(rmURL+path, "application/json", bytes.NewReader(body))
		if err != nil {
			continue
		}
		resp.Body.Close()
	}
}

func (tm *fakeTM) commit(w http.ResponseWriter, r *http.Request) {
	var req rpc.TxnRequest
	json.NewDecoder(r.Body).Decode(&req)
	tm.broadcast(req.Xid, "/txn/commit")
	json.NewEncoder(w).Encode(rpc.CommitResponse{Xid: req.Xid, Status: "COMMITTED"})
}

func (tm *fakeTM) abort(w http.ResponseWriter, r *http.Request) {
	var req rpc.TxnRequest
	json.NewDecoder(r.Body).Decode(&req)
	tm.broadcast(req.Xid, "/txn/abort")
	json.NewEncoder(w).Encode(rpc.AbortResponse{Xid: req.Xid, Status: "ABORTED"})
}

func newTestService(flightsSeed map[string]map[string]any) (*Service, *fakeRM, *httptest.Server, *fakeRM, *httptest.Server, *httptest.Server) {
	tmSrv := newFakeTM()
	flightsRM, flightsSrv := newFakeRM("flightNum", flightsSeed, tmSrv.URL)
	customersRM, customersSrv := newFakeRM("custName", map[string]map[string]any{}, tmSrv.URL)

	flights := wc.NewRMClient("flights", flightsSrv.URL)
	customers := wc.NewRMClient("customers", customersSrv.URL)
	tm := wc.NewTMClient(tmSrv.URL)
	svc := New(flights, nil, nil, customers, tm)
	return svc, flightsRM, flightsSrv, customersRM, customersSrv, tmSrv
}

func doJSON(t *testing.T, mux http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestReserveFlightHappyPath(t *testing.T) {
	svc, _, flightsSrv, _, customersSrv, tmSrv := newTestService(map[string]map[string]any{
		"1001": {"flightNum": "1001", "numAvail": float64(5)},
	})
	defer flightsSrv.Close()
	defer customersSrv.Close()
	defer tmSrv.Close()

	mux := svc.Mux()
	w := doJSON(t, mux, http.MethodPost, "/flights/1001/reservations", reserveRequest{CustName: "alice", Quantity: 1})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "COMMITTED", resp["status"])
}

func TestReserveFlightInsufficientInventoryIsConflict(t *testing.T) {
	svc, _, flightsSrv, _, customersSrv, tmSrv := newTestService(map[string]map[string]any{
		"1001": {"flightNum": "1001", "numAvail": float64(0)},
	})
	defer flightsSrv.Close()
	defer customersSrv.Close()
	defer tmSrv.Close()

	mux := svc.Mux()
	w := doJSON(t, mux, http.MethodPost, "/flights/1001/reservations", reserveRequest{CustName: "alice", Quantity: 1})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReserveFlightUnknownKeyIsNotFound(t *testing.T) {
	svc, _, flightsSrv, _, customersSrv, tmSrv := newTestService(map[string]map[string]any{})
	defer flightsSrv.Close()
	defer customersSrv.Close()
	defer tmSrv.Close()

	mux := svc.Mux()
	w := doJSON(t, mux, http.MethodPost, "/flights/9999/reservations", reserveRequest{CustName: "alice", Quantity: 1})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestReserveFlightAbortsAndRestoresInventoryWhenCustomerInsertFails covers
// spec.md §8's cross-RM mid-transaction-failure scenario: the flights RM's
// inventory deduction succeeds, the following customers RM insert fails,
// the WC auto-aborts the transaction, and the flights write must never
// become visible.
func TestReserveFlightAbortsAndRestoresInventoryWhenCustomerInsertFails(t *testing.T) {
	svc, _, flightsSrv, customersRM, customersSrv, tmSrv := newTestService(map[string]map[string]any{
		"1001": {"flightNum": "1001", "numAvail": float64(5)},
	})
	defer flightsSrv.Close()
	defer customersSrv.Close()
	defer tmSrv.Close()

	customersRM.failInsert = true

	mux := svc.Mux()
	w := doJSON(t, mux, http.MethodPost, "/flights/1001/reservations", reserveRequest{CustName: "alice", Quantity: 1})
	assert.Equal(t, http.StatusConflict, w.Code, "the customer insert failure must surface as the response status")

	resp, err := http.Get(flightsSrv.URL + "/records/1001?xid=0")
	require.NoError(t, err)
	defer resp.Body.Close()
	var rec rpc.RecordResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, float64(5), rec.Record["numAvail"], "inventory must be restored once the transaction aborts")

	resp, err = http.Get(customersSrv.URL + "/records/alice?xid=0")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no customer reservation record must exist after the abort")
}

func TestAdminDieMarksServiceUnavailable(t *testing.T) {
	svc, _, flightsSrv, _, customersSrv, tmSrv := newTestService(map[string]map[string]any{
		"1001": {"flightNum": "1001", "numAvail": float64(5)},
	})
	defer flightsSrv.Close()
	defer customersSrv.Close()
	defer tmSrv.Close()

	mux := svc.Mux()
	w := doJSON(t, mux, http.MethodGet, "/admin/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var before map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&before))
	assert.Equal(t, "ok", before["status"])

	w = doJSON(t, mux, http.MethodPost, "/admin/die", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, mux, http.MethodPost, "/flights/1001/reservations", reserveRequest{CustName: "alice", Quantity: 1})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(t, mux, http.MethodGet, "/admin/health", nil)
	var after map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&after))
	assert.Equal(t, "unavailable", after["status"])
}

func TestTransactionStatusAndAbortPassthrough(t *testing.T) {
	svc, _, flightsSrv, _, customersSrv, tmSrv := newTestService(map[string]map[string]any{})
	defer flightsSrv.Close()
	defer customersSrv.Close()
	defer tmSrv.Close()

	mux := svc.Mux()
	w := doJSON(t, mux, http.MethodPost, "/transactions/1/abort", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var abortResp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&abortResp))
	assert.Equal(t, "ABORTED", abortResp["status"])

	// The fake TM has no status route, so its 404 must pass through as 404.
	w = doJSON(t, mux, http.MethodGet, "/transactions/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCustomerReservationsReadOnly(t *testing.T) {
	tmSrv := newFakeTM()
	_, flightsSrv := newFakeRM("flightNum", map[string]map[string]any{}, tmSrv.URL)
	_, customersSrv := newFakeRM("custName", map[string]map[string]any{
		"alice": {"custName": "alice", "resvType": "FLIGHT", "resvKey": "1001"},
	}, tmSrv.URL)
	defer flightsSrv.Close()
	defer customersSrv.Close()
	defer tmSrv.Close()

	flights := wc.NewRMClient("flights", flightsSrv.URL)
	customers := wc.NewRMClient("customers", customersSrv.URL)
	tm := wc.NewTMClient(tmSrv.URL)
	svc := New(flights, nil, nil, customers, tm)

	w := doJSON(t, svc.Mux(), http.MethodGet, "/customers/alice/reservations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "alice", resp["custName"])
}
