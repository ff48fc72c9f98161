// Package fluxerr defines the structured error kinds surfaced across the
// dataflow core, grounded in the teacher's sentinel-error-plus-wrapping style
// (see internal/storage/factory.go's fmt.Errorf("...: %w", err) usage).
package fluxerr

import (
	"errors"
	"fmt"
)

// Kind is a stable error code, one per named failure mode in the external
// interface contract.
type Kind string

const (
	NotReady                Kind = "not_ready"
	MissingIndex            Kind = "missing_index"
	PreparedStatementMissing Kind = "prepared_statement_missing"
	ViewNotFound            Kind = "view_not_found"
	TableNotFound           Kind = "table_not_found"
	Unsupported             Kind = "unsupported"
	UpqueryTimeout          Kind = "upquery_timeout"
	FreshnessMiss           Kind = "freshness_miss"
	EmptyKey                Kind = "empty_key"
	InvalidKeyType          Kind = "invalid_key_type"
	WorkerFailed            Kind = "worker_failed"
	ConnectionLost          Kind = "connection_lost"
	PersistenceError        Kind = "persistence_error"
)

// Error is the structured error value carried across domain boundaries and
// surfaced to external callers. Op names the operation that failed (e.g.
// "reader.lookup", "replay.start") so logs can be correlated without a stack
// trace on the hot path.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error with no wrapped cause.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap constructs an Error wrapping an underlying cause.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error, returning
// ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
