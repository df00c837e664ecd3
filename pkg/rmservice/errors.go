package rmservice

import (
	"net/http"

	"github.com/JoDio-zd/resvoy/pkg/rm"
)

// httpStatus maps an RM error kind to the HTTP status code named in
// spec.md §6.
func httpStatus(kind rm.ErrKind) int {
	switch kind {
	case rm.KeyNotFound:
		return http.StatusNotFound
	case rm.LockConflict, rm.VersionConflict, rm.KeyExists, rm.ReadWriteConflict:
		return http.StatusConflict
	case rm.TxnNotFound, rm.InvalidTxState, rm.InvalidArgument:
		return http.StatusBadRequest
	case rm.Success:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
