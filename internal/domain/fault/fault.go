// Package fault classifies domain failures into a small, stable taxonomy that
// transports can map to protocol status codes.
package fault

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind is a stable error category exposed to API clients.
type Kind string

const (
	Validation         Kind = "validation_error"
	NotFound           Kind = "not_found"
	Conflict           Kind = "conflict"
	PreconditionFailed Kind = "precondition_failed"
	AccessDenied       Kind = "access_denied"
	Unauthenticated    Kind = "unauthenticated"
	Internal           Kind = "internal"
)

// Classified is implemented by errors that carry a Kind and a stable code.
type Classified interface {
	error
	Kind() Kind
	Code() string
}

// Error is the generic classified error used for sentinels and ad hoc failures.
type Error struct {
	kind    Kind
	code    string
	message string
	fields  map[string]string
}

// New returns an Error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{kind: kind, code: code, message: message}
}

// Newf is like New with a formatted message.
func Newf(kind Kind, code, format string, args ...any) *Error {
	return New(kind, code, fmt.Sprintf(format, args...))
}

func (e *Error) Error() string { return e.message }

// Kind implements Classified.
func (e *Error) Kind() Kind { return e.kind }

// Code implements Classified.
func (e *Error) Code() string { return e.code }

// Fields returns field-level validation messages, if any.
func (e *Error) Fields() map[string]string { return e.fields }

// FieldErrors accumulates field-level validation messages.
type FieldErrors map[string]string

// Add records msg for field unless the field already has a message.
func (f FieldErrors) Add(field, msg string) {
	if _, ok := f[field]; !ok {
		f[field] = msg
	}
}

// Err returns nil when no field failed, otherwise a ValidationError.
func (f FieldErrors) Err() error {
	if len(f) == 0 {
		return nil
	}
	fields := make(map[string]string, len(f))
	for k, v := range f {
		fields[k] = v
	}
	return &Error{
		kind:    Validation,
		code:    "ValidationError",
		message: "request validation failed",
		fields:  fields,
	}
}

// Invalid returns a single-field ValidationError.
func Invalid(field, msg string) error {
	return FieldErrors{field: msg}.Err()
}

// KindOf reports the kind of err. Unclassified errors are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var c Classified
	if errors.As(err, &c) {
		return c.Kind()
	}
	return Internal
}

// CodeOf reports the stable code of err. Unclassified errors yield "Internal".
func CodeOf(err error) string {
	var c Classified
	if errors.As(err, &c) {
		return c.Code()
	}
	return "Internal"
}

// FieldsOf returns field-level messages attached to err, if any.
func FieldsOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.fields
	}
	return nil
}
