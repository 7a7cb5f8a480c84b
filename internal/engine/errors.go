package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// SyncError is a fault detected while synchronizing.
//
// Every SyncError is recoverable at the boundary where it occurs: decode errors
// at the receive task, connection and transmit errors at the lifecycle manager.
// None of them terminates the process.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Op names the operation that failed (e.g. "receive", "append").
	Op string

	// MessageID identifies the affected message, if any.
	MessageID uuid.UUID

	// Err is the underlying cause.
	Err error
}

// SyncErrorCode categorizes sync errors.
type SyncErrorCode string

const (
	// ErrCodeDecode indicates a malformed inbound frame.
	ErrCodeDecode SyncErrorCode = "DECODE"

	// ErrCodeConnection indicates the transport failed or was closed.
	ErrCodeConnection SyncErrorCode = "CONNECTION"

	// ErrCodePersist indicates the local log rejected an append.
	ErrCodePersist SyncErrorCode = "PERSIST"

	// ErrCodeTransmit indicates a result could not be sent to the store.
	ErrCodeTransmit SyncErrorCode = "TRANSMIT"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.MessageID != uuid.Nil {
		return fmt.Sprintf("%s: %s (id=%s): %v", e.Code, e.Op, e.MessageID, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error { return e.Err }

// NewSyncError builds a SyncError.
func NewSyncError(code SyncErrorCode, op string, id uuid.UUID, err error) *SyncError {
	return &SyncError{Code: code, Op: op, MessageID: id, Err: err}
}

// HasCode reports whether err wraps a SyncError with the given code.
// Uses errors.As to handle wrapped errors.
func HasCode(err error, code SyncErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsConnectionError returns true if err is a connection error.
func IsConnectionError(err error) bool { return HasCode(err, ErrCodeConnection) }
