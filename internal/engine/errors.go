package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/revsync/internal/ir"
	"github.com/roach88/revsync/internal/revid"
)

// SyncError represents an error detected while replicating or submitting.
//
// SyncError carries the revision it concerns, when there is one, and wraps
// the underlying cause.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Message is a human-readable description.
	Message string

	// Revision is the affected revision, or revid.None.
	Revision revid.Revision

	// Err is the underlying cause.
	Err error
}

// SyncErrorCode categorizes sync errors.
type SyncErrorCode string

const (
	// ErrCodeMalformedRevision indicates a history record that cannot be
	// decoded or does not compose with the document.
	ErrCodeMalformedRevision SyncErrorCode = "MALFORMED_REVISION"

	// ErrCodeTransientStoreFailure indicates a store failure worth retrying.
	ErrCodeTransientStoreFailure SyncErrorCode = "TRANSIENT_STORE_FAILURE"

	// ErrCodeFatalStoreFailure indicates a store failure that retrying won't fix.
	ErrCodeFatalStoreFailure SyncErrorCode = "FATAL_STORE_FAILURE"

	// ErrCodeContractViolation indicates a caller broke a usage precondition.
	ErrCodeContractViolation SyncErrorCode = "CONTRACT_VIOLATION"

	// ErrCodeReconstructionFailed indicates a historical document could not be rebuilt.
	ErrCodeReconstructionFailed SyncErrorCode = "RECONSTRUCTION_FAILED"

	// ErrCodeDisposed indicates the engine was disposed.
	ErrCodeDisposed SyncErrorCode = "DISPOSED"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Revision >= 0 {
		msg = fmt.Sprintf("%s (revision=%s)", msg, e.Revision)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code SyncErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsMalformedRevision returns true if err is a malformed revision error.
func IsMalformedRevision(err error) bool { return hasCode(err, ErrCodeMalformedRevision) }

// IsContractViolation returns true if err is a caller contract violation.
func IsContractViolation(err error) bool { return hasCode(err, ErrCodeContractViolation) }

// IsFatalStoreFailure returns true if err is a fatal store failure.
func IsFatalStoreFailure(err error) bool { return hasCode(err, ErrCodeFatalStoreFailure) }

// IsReconstructionFailure returns true if a historical document could not be rebuilt.
func IsReconstructionFailure(err error) bool { return hasCode(err, ErrCodeReconstructionFailed) }

// IsDisposed returns true if err was caused by using a disposed engine.
func IsDisposed(err error) bool { return hasCode(err, ErrCodeDisposed) }

func newMalformedRevision(rev revid.Revision, msg string, err error) *SyncError {
	return &SyncError{Code: ErrCodeMalformedRevision, Message: msg, Revision: rev, Err: err}
}

func newContractViolation(format string, args ...any) *SyncError {
	return &SyncError{Code: ErrCodeContractViolation, Message: fmt.Sprintf(format, args...), Revision: revid.None}
}

func newFatalStoreFailure(rev revid.Revision, err error) *SyncError {
	return &SyncError{Code: ErrCodeFatalStoreFailure, Message: "store rejected write", Revision: rev, Err: err}
}

func newReconstructionFailure(rev revid.Revision, msg string, err error) *SyncError {
	return &SyncError{Code: ErrCodeReconstructionFailed, Message: msg, Revision: rev, Err: err}
}

func newDisposedError() *SyncError {
	return &SyncError{Code: ErrCodeDisposed, Message: "engine disposed", Revision: revid.None}
}

// newStoreFailure classifies err as transient or fatal.
func newStoreFailure(rev revid.Revision, msg string, err error) *SyncError {
	code := ErrCodeFatalStoreFailure
	if ir.IsTransient(err) {
		code = ErrCodeTransientStoreFailure
	}
	return &SyncError{Code: code, Message: msg, Revision: rev, Err: err}
}
