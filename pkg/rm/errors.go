package rm

import "fmt"

// ErrKind is the closed set of error kinds an RM can surface. The wire
// representation is the upper-snake-case name returned by String (e.g.
// "KEY_NOT_FOUND"), carried in the error field of RM HTTP responses.
type ErrKind int

const (
	Success ErrKind = iota
	InvalidArgument
	KeyExists
	KeyNotFound
	TxnNotFound
	InvalidTxState
	LockConflict
	VersionConflict
	ReadWriteConflict
	IOError
	Timeout
	InternalInvariant
	UnknownError
)

var errKindNames = map[ErrKind]string{
	Success:           "SUCCESS",
	InvalidArgument:   "INVALID_ARGUMENT",
	KeyExists:         "KEY_EXISTS",
	KeyNotFound:       "KEY_NOT_FOUND",
	TxnNotFound:       "TXN_NOT_FOUND",
	InvalidTxState:    "INVALID_TX_STATE",
	LockConflict:      "LOCK_CONFLICT",
	VersionConflict:   "VERSION_CONFLICT",
	ReadWriteConflict: "READ_WRITE_CONFLICT",
	IOError:           "IO_ERROR",
	Timeout:           "TIMEOUT",
	InternalInvariant: "INTERNAL_INVARIANT",
	UnknownError:      "UNKNOWN_ERROR",
}

func (k ErrKind) String() string {
	if name, ok := errKindNames[k]; ok {
		return name
	}
	return "UNKNOWN_ERROR"
}

// ParseErrKind maps a wire error-kind string back to an ErrKind. Unknown
// strings map to UnknownError rather than failing the caller.
func ParseErrKind(s string) ErrKind {
	for k, name := range errKindNames {
		if name == s {
			return k
		}
	}
	return UnknownError
}

// Error wraps an ErrKind with the underlying cause, if any. It is returned
// by every Engine operation that does not succeed.
type Error struct {
	Kind ErrKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, rm.ErrKeyNotFound) style comparisons against the
// package-level sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind ErrKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Sentinel errors for errors.Is comparisons without constructing a new Error.
var (
	ErrKeyExists          = &Error{Kind: KeyExists}
	ErrKeyNotFound        = &Error{Kind: KeyNotFound}
	ErrTxnNotFound        = &Error{Kind: TxnNotFound}
	ErrInvalidTxState     = &Error{Kind: InvalidTxState}
	ErrLockConflict       = &Error{Kind: LockConflict}
	ErrVersionConflict    = &Error{Kind: VersionConflict}
	ErrReadWriteConflict  = &Error{Kind: ReadWriteConflict}
	ErrInvalidArgument    = &Error{Kind: InvalidArgument}
	ErrInternalInvariant  = &Error{Kind: InternalInvariant}
)
