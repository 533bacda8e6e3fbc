package orchestrator

import (
	"errors"
	"fmt"
)

// ErrorKind classifies orchestration errors for callers that branch on them.
type ErrorKind string

const (
	// ErrorKindNotFound indicates a referenced entity does not exist.
	// Such failures short-circuit with no state mutation.
	ErrorKindNotFound ErrorKind = "not_found"

	// ErrorKindProvisioner indicates the external provisioner reported failure.
	// The diagnostic text is the provisioner's captured output.
	ErrorKindProvisioner ErrorKind = "provisioner"

	// ErrorKindConflict indicates the entity is not in a state that permits
	// the requested operation.
	ErrorKindConflict ErrorKind = "conflict"

	// ErrorKindInternal indicates a persistence or infrastructure failure.
	ErrorKindInternal ErrorKind = "internal"
)

// Error is a classified orchestration error carrying entity context.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind

	// Message is the human-readable error message.
	Message string

	// Entity is the ID of the workshop or attendee involved, if any.
	Entity string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Entity != "" {
		msg += fmt.Sprintf(" (entity=%s)", e.Entity)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithEntity attaches the workshop or attendee ID to the error.
func (e *Error) WithEntity(id string) *Error {
	e.Entity = id
	return e
}

// NewNotFoundError reports a missing entity.
func NewNotFoundError(message string, err error) *Error {
	return &Error{Kind: ErrorKindNotFound, Message: message, Err: err}
}

// NewProvisionerError reports a provisioner failure with its diagnostic text.
func NewProvisionerError(message string) *Error {
	return &Error{Kind: ErrorKindProvisioner, Message: message}
}

// NewConflictError reports an operation attempted in an incompatible state.
func NewConflictError(message string) *Error {
	return &Error{Kind: ErrorKindConflict, Message: message}
}

// NewInternalError reports a persistence or infrastructure failure.
func NewInternalError(message string, err error) *Error {
	return &Error{Kind: ErrorKindInternal, Message: message, Err: err}
}

// IsNotFound returns true if err is classified as a missing entity.
func IsNotFound(err error) bool {
	return kindOf(err) == ErrorKindNotFound
}

// IsProvisionerFailure returns true if err originated in the provisioner.
func IsProvisionerFailure(err error) bool {
	return kindOf(err) == ErrorKindProvisioner
}

// IsConflict returns true if err reports an incompatible entity state.
func IsConflict(err error) bool {
	return kindOf(err) == ErrorKindConflict
}

func kindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
