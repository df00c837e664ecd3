// Package reservation implements the WC's business-layer HTTP surface:
// one route per resource type that composes a cross-RM reservation into a
// single TM transaction, plus the transaction and admin passthrough
// routes. Grounded on original_source/src/wc/routers (flights.py,
// hotels.py, cars.py, customers.py, transactions.py, admin.py), reworked
// from FastAPI dependency-injected routers into a plain http.ServeMux
// Service in the style of pkg/rmservice and pkg/tmservice.
package reservation

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/JoDio-zd/resvoy/pkg/log"
	"github.com/JoDio-zd/resvoy/pkg/metrics"
	"github.com/JoDio-zd/resvoy/pkg/wc"
)

// Service wires the business routers to the RM clients they need and to a
// shared Orchestrator for running cross-RM transactions.
type Service struct {
	Flights   *wc.RMClient
	Hotels    *wc.RMClient
	Cars      *wc.RMClient
	Customers *wc.RMClient
	TM        *wc.TMClient
	Orch      *wc.Orchestrator

	unavailable atomic.Bool // set by POST /admin/die, per original_source's LifecycleManager
}

// New returns a Service over the given RM/TM clients.
func New(flights, hotels, cars, customers *wc.RMClient, tmClient *wc.TMClient) *Service {
	return &Service{
		Flights:   flights,
		Hotels:    hotels,
		Cars:      cars,
		Customers: customers,
		TM:        tmClient,
		Orch:      wc.NewOrchestrator(tmClient),
	}
}

// Mux builds the http.ServeMux for the WC's business routes.
func (s *Service) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /flights/{flightNum}/reservations", s.handleReserve("flight", s.reserveFlight))
	mux.HandleFunc("POST /hotels/{hotelId}/reservations", s.handleReserve("hotel", s.reserveHotel))
	mux.HandleFunc("POST /cars/{carType}/reservations", s.handleReserve("car", s.reserveCar))
	mux.HandleFunc("GET /customers/{custName}/reservations", s.handleCustomerReservations)
	mux.HandleFunc("POST /transactions/{xid}/abort", s.handleAbort)
	mux.HandleFunc("GET /transactions/{xid}", s.handleTxnStatus)
	mux.HandleFunc("GET /admin/health", s.handleAdminHealth)
	mux.HandleFunc("POST /admin/die", s.handleAdminDie)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

type reserveRequest struct {
	CustName string `json:"custName"`
	Quantity int    `json:"quantity"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeWCError(w http.ResponseWriter, err *wc.WCError) {
	writeJSON(w, err.Status, map[string]any{"error": err.Message, "details": err.Details})
}

// handleReserve wraps a resource-specific reservation function in the
// admin-die unavailability check and the common request-decode/response
// ceremony, grounded on the repeated try/except auto_abort_on_error
// pattern across flights.py/hotels.py/cars.py.
func (s *Service) handleReserve(resourceType string, do func(key string, req reserveRequest) (string, *wc.WCError)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.unavailable.Load() {
			writeWCError(w, wc.ErrServiceUnavailable("wc is unavailable"))
			return
		}

		key := r.PathValue(pathKeyFor(resourceType))
		var req reserveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeWCError(w, wc.ErrValidation("invalid request body"))
			return
		}
		if req.Quantity <= 0 {
			req.Quantity = 1
		}

		status, werr := do(key, req)
		if werr != nil {
			writeWCError(w, werr)
			return
		}
		metrics.WCReservationsTotal.WithLabelValues(resourceType, status).Inc()
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "status": status})
	}
}

func pathKeyFor(resourceType string) string {
	switch resourceType {
	case "flight":
		return "flightNum"
	case "hotel":
		return "hotelId"
	case "car":
		return "carType"
	default:
		return "key"
	}
}

// reserveFlight implements ReservationOrchestrator.reserve_flight: deduct
// inventory in the flights RM, insert a reservation record in the
// customers RM, one xid.
func (s *Service) reserveFlight(flightNum string, req reserveRequest) (string, *wc.WCError) {
	return s.reserve("FLIGHT", s.Flights, "flightNum", "numAvail", flightNum, req)
}

func (s *Service) reserveHotel(hotelID string, req reserveRequest) (string, *wc.WCError) {
	return s.reserve("HOTEL", s.Hotels, "hotelId", "numAvail", hotelID, req)
}

func (s *Service) reserveCar(carType string, req reserveRequest) (string, *wc.WCError) {
	return s.reserve("CAR", s.Cars, "carType", "numAvail", carType, req)
}

// reserve is the shared two-step body behind reserveFlight/Hotel/Car,
// generalizing the three near-identical orchestrator methods in
// original_source's orchestrator.py into one function parameterized by
// resource RM, key column, and inventory column.
func (s *Service) reserve(resvType string, rm *wc.RMClient, keyColumn, inventoryColumn, key string, req reserveRequest) (string, *wc.WCError) {
	status, werr := s.Orch.RunTxn(func(xid int64) *wc.WCError {
		xlog := log.WithXid(xid)

		current, qerr := rm.Query(xid, key)
		if qerr != nil {
			return qerr
		}
		avail, _ := current[inventoryColumn].(float64)
		if int(avail) < req.Quantity {
			return wc.ErrResourceConflict(xid, resvType, key, "insufficient inventory")
		}

		xlog.Info().Str("key", key).Int("quantity", req.Quantity).Msg("deducting inventory")
		if uerr := rm.Update(xid, key, map[string]any{inventoryColumn: avail - float64(req.Quantity)}); uerr != nil {
			return uerr
		}

		_, ierr := s.Customers.Insert(xid, map[string]any{
			"custName": req.CustName,
			"resvType": resvType,
			"resvKey":  key,
		})
		return ierr
	})
	return status, werr
}

// handleCustomerReservations implements GET
// /customers/{custName}/reservations: a read-only aggregate query, no xid
// coordination needed since it touches only the customers RM.
func (s *Service) handleCustomerReservations(w http.ResponseWriter, r *http.Request) {
	custName := r.PathValue("custName")
	record, err := s.Customers.Query(0, custName)
	if err != nil {
		writeWCError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"custName": custName, "reservations": record})
}

// handleAbort implements POST /transactions/{xid}/abort.
func (s *Service) handleAbort(w http.ResponseWriter, r *http.Request) {
	xid, perr := strconv.ParseInt(r.PathValue("xid"), 10, 64)
	if perr != nil {
		writeWCError(w, wc.ErrValidation("invalid xid"))
		return
	}
	if err := s.TM.Abort(xid); err != nil {
		writeWCError(w, err.(*wc.WCError))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"xid": xid, "status": "ABORTED"})
}

// handleTxnStatus implements GET /transactions/{xid}.
func (s *Service) handleTxnStatus(w http.ResponseWriter, r *http.Request) {
	xid, perr := strconv.ParseInt(r.PathValue("xid"), 10, 64)
	if perr != nil {
		writeWCError(w, wc.ErrValidation("invalid xid"))
		return
	}
	status, err := s.TM.Status(xid)
	if err != nil {
		writeWCError(w, err.(*wc.WCError))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"xid": xid, "status": status})
}

// handleAdminHealth implements GET /admin/health.
func (s *Service) handleAdminHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.unavailable.Load() {
		status = "unavailable"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// handleAdminDie implements POST /admin/die: marks the WC unavailable for
// new requests, matching the original's default (non-hard) die() behavior.
// Test/ops only, like the RM's POST /shutdown; the TM has no such route.
func (s *Service) handleAdminDie(w http.ResponseWriter, r *http.Request) {
	s.unavailable.Store(true)
	writeJSON(w, http.StatusOK, map[string]string{"message": "wc marked unavailable"})
}
