package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}

type errorKind int

const (
	kindNotFound errorKind = iota + 1
	kindConflict
	kindPermission
)

// Error is a domain error the API knows how to report to users.
type Error struct {
	kind    errorKind
	message string
}

func (err *Error) Error() string {
	return err.message
}

// NewNotFoundError reports a missing entity.
func NewNotFoundError(msg string) error {
	return &Error{kind: kindNotFound, message: msg}
}

// NewConflictError reports a request that clashes with the current state; it may be retried after a re-read.
func NewConflictError(msg string) error {
	return &Error{kind: kindConflict, message: msg}
}

// NewPermissionError reports an authorization denial.
func NewPermissionError(msg string) error {
	return &Error{kind: kindPermission, message: msg}
}

func isKind(err error, kind errorKind) bool {
	e, ok := errors.Cause(err).(*Error)
	return ok && e.kind == kind
}

func IsNotFound(err error) bool   { return isKind(err, kindNotFound) }
func IsConflict(err error) bool   { return isKind(err, kindConflict) }
func IsPermission(err error) bool { return isKind(err, kindPermission) }
