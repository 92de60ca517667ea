// Package errs implements the tagged error taxonomy used across the
// control plane. Errors propagate upward carrying attribution; adapters
// never swallow them.
package errs

import (
	"fmt"

	"github.com/jasoncavinder/helm/internal/models"
)

// Error is the attributed error every layer above the Process Runner
// returns. It never carries raw subprocess text as its user-facing Message —
// that belongs in Detail, which callers may log but must not localize.
type Error struct {
	Kind      models.ErrorKind
	ManagerID string
	TaskType  models.TaskType
	Operation string
	Message   string
	Detail    string // e.g. captured stderr digest, offending parse fragment
	Cause     error
}

func (e *Error) Error() string {
	if e.ManagerID != "" {
		return fmt.Sprintf("%s: %s (%s/%s): %s", e.Kind, e.Operation, e.ManagerID, e.TaskType, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Operation, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind models.ErrorKind, managerID string, taskType models.TaskType, operation, message string) *Error {
	return &Error{Kind: kind, ManagerID: managerID, TaskType: taskType, Operation: operation, Message: message}
}

func Wrap(kind models.ErrorKind, managerID string, taskType models.TaskType, operation string, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, ManagerID: managerID, TaskType: taskType, Operation: operation, Message: msg, Cause: cause}
}

// As reports whether err is an *Error and returns it.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}

// KindOf returns the ErrorKind carried by err, or InternalError if err is
// not an *Error — an invariant violation should never be silent.
func KindOf(err error) models.ErrorKind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return models.ErrInternal
}
