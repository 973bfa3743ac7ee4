// Package fault defines the coded error taxonomy shared by the allotment
// components.
//
// Every failure an operation can report to its caller is a *Error carrying a
// Code. The code is the stable, machine-readable part (it becomes the output
// case of a journaled completion); the message names the offending condition.
//
// Errors produced by the asset ledger travel through the manager unchanged, so
// callers can always match on the code regardless of which component failed.
package fault

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code identifies an error category.
type Code string

const (
	// CodePermissionDenied indicates the caller lacks the required role.
	CodePermissionDenied Code = "PERMISSION_DENIED"

	// CodeNotFound indicates an unknown schedule id or an account with no schedules.
	CodeNotFound Code = "NOT_FOUND"

	// CodeAlreadyReleased indicates the schedule was already disbursed.
	CodeAlreadyReleased Code = "ALREADY_RELEASED"

	// CodeInvalidExtension indicates a release time that is not strictly later.
	CodeInvalidExtension Code = "INVALID_EXTENSION"

	// CodeTooEarly indicates a release attempt before the release time.
	CodeTooEarly Code = "TOO_EARLY"

	// CodeSupplyCapExceeded indicates a mint that would breach the ledger cap.
	CodeSupplyCapExceeded Code = "SUPPLY_CAP_EXCEEDED"

	// CodeInsufficientBalance indicates a transfer larger than the sender's balance.
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"

	// CodeInvalidArgument indicates malformed input (empty account, non-positive amount, ...).
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// CodeNonDeterministic indicates a replayed operation produced a different outcome.
	CodeNonDeterministic Code = "NON_DETERMINISTIC"
)

// Codes lists every known code in declaration order.
var Codes = []Code{
	CodePermissionDenied,
	CodeNotFound,
	CodeAlreadyReleased,
	CodeInvalidExtension,
	CodeTooEarly,
	CodeSupplyCapExceeded,
	CodeInsufficientBalance,
	CodeInvalidArgument,
	CodeNonDeterministic,
}

// Valid reports whether c is one of the known codes.
func (c Code) Valid() bool {
	for _, known := range Codes {
		if c == known {
			return true
		}
	}
	return false
}

// Error is a coded failure.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description of the offending condition.
	Message string

	// Details carries structured context (schedule id, times, amounts).
	Details map[string]string

	// Cause is an optional underlying error.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + e.Details[k]
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code, so errors.Is(err, fault.New(code, "")) works.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates an error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error that wraps a cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// With returns a copy of e with an additional detail.
func (e *Error) With(key, value string) *Error {
	details := make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{Code: e.Code, Message: e.Message, Details: details, Cause: e.Cause}
}

// CodeOf extracts the code from err, or "" when err carries none.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// PermissionDenied is a shorthand used by role checks.
func PermissionDenied(format string, args ...any) *Error {
	return Newf(CodePermissionDenied, format, args...)
}

// InvalidArgument is a shorthand used by input validation.
func InvalidArgument(format string, args ...any) *Error {
	return Newf(CodeInvalidArgument, format, args...)
}
