package retrieval

import "errors"

// Sentinel errors for request-level failures. Callers match with errors.Is.
var (
	// ErrInvalidRequest marks a malformed caller request. No queries are
	// issued for an invalid request.
	ErrInvalidRequest = errors.New("invalid retrieval request")

	// ErrInvalidUnitID marks a unit identifier the store cannot address.
	// It is fatal for that unit only; sibling units continue.
	ErrInvalidUnitID = errors.New("invalid unit identifier")
)

// Store errors. A SeriesStore wraps its failures in one of these so the
// executor can decide whether a retry is worthwhile.
var (
	// ErrStoreUnavailable marks a transient store failure (connection
	// refused, timeout, 5xx). Retried with backoff.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrQueryRejected marks a non-transient store failure (query syntax or
	// schema rejection). Never retried.
	ErrQueryRejected = errors.New("query rejected by store")
)

// FailureKind classifies a per-query or per-unit failure record.
type FailureKind string

const (
	FailureTransient    FailureKind = "transient"
	FailureNonTransient FailureKind = "non_transient"
	FailureInvalidUnit  FailureKind = "invalid_unit"
	FailureExport       FailureKind = "export"
)

// Failure records one isolated failure for caller-side reporting. Quantity
// is empty for unit-level failures (invalid identifier, export I/O).
type Failure struct {
	UnitID   string      `json:"unit_id"`
	Quantity string      `json:"quantity,omitempty"`
	Kind     FailureKind `json:"kind"`
	Err      error       `json:"-"`
}

func (f Failure) Error() string {
	msg := string(f.Kind) + " failure: unit " + f.UnitID
	if f.Quantity != "" {
		msg += ", quantity " + f.Quantity
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

// Message returns the underlying error text, for manifest serialization.
func (f Failure) Message() string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Error()
}
