// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

// Package exceptions provides the typed errors used throughout erpkit.
//
// Errors are classified by Kind rather than by Go type. Any error that is
// not an *Error (or does not wrap one) is considered a system error.
package exceptions

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// A Kind classifies an error for the caller.
type Kind string

// Error kinds
const (
	KindValidation   Kind = "validation"
	KindAccessDenied Kind = "access_denied"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindSystem       Kind = "system"
)

// A Translator renders a message format in the given language.
type Translator func(lang, format string, args ...interface{}) string

// translator is used by Localize. It is set by the i18n package.
var translator Translator = func(_ string, format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}

// SetTranslator sets the function used to localize error messages.
func SetTranslator(t Translator) {
	translator = t
}

// Error is an error that must rollback the current transaction and be
// reported to the caller with its kind and code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Args    []interface{}
	Debug   string
	cause   error
}

// Error method for the Error type.
// Returns the formatted message.
func (e *Error) Error() string {
	msg := e.Message
	if len(e.Args) > 0 {
		msg = fmt.Sprintf(e.Message, e.Args...)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", msg, e.cause)
	}
	return msg
}

// Cause returns the underlying error if any, so that errors.Cause stops here
// only when there is nothing below.
func (e *Error) Cause() error {
	return e.cause
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.cause
}

// Localize returns the message of this error translated in the given language.
func (e *Error) Localize(lang string) string {
	return translator(lang, e.Message, e.Args...)
}

func newError(kind Kind, code, msg string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Args: args}
}

// Validation returns a new validation error. It is displayed to the user.
func Validation(code, msg string, args ...interface{}) *Error {
	return newError(KindValidation, code, msg, args...)
}

// AccessDenied returns a new access denied error.
func AccessDenied(code, msg string, args ...interface{}) *Error {
	return newError(KindAccessDenied, code, msg, args...)
}

// NotFound returns a new not found error.
func NotFound(code, msg string, args ...interface{}) *Error {
	return newError(KindNotFound, code, msg, args...)
}

// Conflict returns a new error signaling a concurrent modification. The
// caller may retry the operation.
func Conflict(code, msg string, args ...interface{}) *Error {
	return newError(KindConflict, code, msg, args...)
}

// System wraps the given error into a system error.
func System(code string, err error) *Error {
	return &Error{Kind: KindSystem, Code: code, Message: "internal error", cause: err}
}

// Systemf returns a new system error with the given message
func Systemf(code, msg string, args ...interface{}) *Error {
	return newError(KindSystem, code, msg, args...)
}

// WithCause returns a copy of e with the given underlying error
func (e *Error) WithCause(err error) *Error {
	res := *e
	res.cause = err
	return &res
}

// As returns the first *Error in err's chain, or nil.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// KindOf returns the kind of the given error. Errors that are not typed
// are of KindSystem.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e := As(err); e != nil {
		return e.Kind
	}
	return KindSystem
}

// CodeOf returns the code of the given error, or the empty string.
func CodeOf(err error) string {
	if e := As(err); e != nil {
		return e.Code
	}
	return ""
}

// Is returns true if err is of the given kind
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus returns the HTTP status code matching the kind of err.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAccessDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ExitCode returns the process exit code matching the kind of err.
func ExitCode(err error) int {
	switch KindOf(err) {
	case "":
		return 0
	case KindValidation:
		return 2
	case KindAccessDenied:
		return 3
	case KindNotFound:
		return 4
	case KindConflict:
		return 5
	default:
		return 1
	}
}
