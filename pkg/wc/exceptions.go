// Package wc implements the Workflow Controller's business-layer contract
// from spec.md §4.6: composing one business request into a single TM
// transaction across the RMs it touches, auto-aborting on any
// mid-transaction failure. The exception taxonomy and orchestration
// pattern are ported from original_source/src/wc/exceptions.go and
// services/orchestrator.py into Go idiom: one WCError type carrying an
// HTTP status, constructed by a set of helper constructors instead of an
// exception class hierarchy.
package wc

import "fmt"

// WCError is the WC's client-facing error type, generalized from the
// original's WCException hierarchy (pkg/rm.Error plays the same role for
// the RM). Every WC HTTP handler that returns an error returns a *WCError
// so the transport layer always has a status code and a stable message.
type WCError struct {
	Status  int
	Message string
	Details string
	Xid     int64
}

func (e *WCError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

func newWCError(status int, xid int64, message, details string) *WCError {
	return &WCError{Status: status, Message: message, Details: details, Xid: xid}
}

// ErrTMCommunication reports a failure to reach the TM.
func ErrTMCommunication(xid int64, details string) *WCError {
	return newWCError(503, xid, "failed to communicate with transaction manager", details)
}

// ErrRMCommunication reports a failure to reach the named RM.
func ErrRMCommunication(xid int64, rmName, details string) *WCError {
	return newWCError(503, xid, fmt.Sprintf("failed to communicate with resource manager: %s", rmName), details)
}

// ErrTransactionNotFound reports an unknown xid.
func ErrTransactionNotFound(xid int64) *WCError {
	return newWCError(404, xid, fmt.Sprintf("transaction not found: %d", xid), "")
}

// ErrResourceNotFound reports a missing key in some RM's table.
func ErrResourceNotFound(xid int64, resourceType, resourceKey string) *WCError {
	return newWCError(404, xid, fmt.Sprintf("%s not found: %s", resourceType, resourceKey), "")
}

// ErrResourceConflict reports a business-level conflict (e.g. insufficient
// inventory) distinct from the RM's own VERSION_CONFLICT/KEY_EXISTS kinds.
func ErrResourceConflict(xid int64, resourceType, resourceKey, message string) *WCError {
	return newWCError(409, xid, fmt.Sprintf("%s %s: %s", resourceType, resourceKey, message), "")
}

// ErrReservation reports a failed reservation business rule.
func ErrReservation(xid int64, message string) *WCError {
	return newWCError(400, xid, message, "")
}

// ErrCommitTimeout reports an IN_DOUBT outcome. Per spec.md §7 this is
// reported as a 200 with the IN_DOUBT status in the body, not as an HTTP
// error — callers should branch on TM status rather than on this type,
// but it is kept for symmetry with the original's exception hierarchy and
// for callers that do want to treat IN_DOUBT as exceptional.
func ErrCommitTimeout(xid int64) *WCError {
	return newWCError(200, xid, "commit operation timed out", "query transaction status to verify final state")
}

// ErrAbort reports a failure of the abort call itself.
func ErrAbort(xid int64, details string) *WCError {
	return newWCError(500, xid, fmt.Sprintf("failed to abort transaction: %d", xid), details)
}

// ErrValidation reports a request validation failure.
func ErrValidation(message string) *WCError {
	return newWCError(400, 0, message, "")
}

// ErrServiceUnavailable reports the WC is intentionally down (after
// /admin/die), per spec.md §6.2.
func ErrServiceUnavailable(message string) *WCError {
	return newWCError(503, 0, message, "")
}
