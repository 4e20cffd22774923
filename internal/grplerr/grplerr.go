// Package grplerr implements the cross-boundary error taxonomy of
// spec.md §4.7: a small closed set of kinds, each carrying a stable
// numeric code a foreign-ABI caller can switch on without string
// matching. Grounded on the teacher's sentinel-error-plus-metric-label
// pattern (internal/server/errors.go), generalized from "one map per
// package" into one typed Error value usable by every layer.
package grplerr

import "fmt"

// Kind is one of the taxonomy's closed set of error kinds.
type Kind uint8

const (
	Generic Kind = iota
	Timeout
	ParameterOutOfBounds
	FailedAssertion
	ParseError
	HalError
)

// code is the stable small-integer discriminant for Kind, used across
// the foreign-ABI boundary per spec.md §4.7/§6. Indexed by Kind.
var code = [...]int32{
	Generic:              0,
	Timeout:              1,
	ParameterOutOfBounds: 2,
	FailedAssertion:      3,
	ParseError:           4,
	HalError:             5,
}

func (k Kind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case ParameterOutOfBounds:
		return "parameter_out_of_bounds"
	case FailedAssertion:
		return "failed_assertion"
	case ParseError:
		return "parse_error"
	case HalError:
		return "hal_error"
	default:
		return "generic"
	}
}

// Code returns the stable numeric code for k.
func (k Kind) Code() int32 { return code[k] }

// Error is an owned (never borrowed) representation of a taxonomy
// error: a message and a kind, optionally wrapping an underlying cause.
// spec.md §9 requires errors built from transient borrows to be made
// owned before crossing a boundary; Error's fields are always plain
// values, never references into caller-owned memory.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Code returns the stable numeric code for e's kind, for ABI callers.
func (e *Error) Code() int32 { return e.Kind.Code() }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Timeoutf(format string, args ...any) *Error {
	return &Error{Kind: Timeout, Message: fmt.Sprintf(format, args...)}
}

func OutOfBoundsf(format string, args ...any) *Error {
	return &Error{Kind: ParameterOutOfBounds, Message: fmt.Sprintf(format, args...)}
}

func Assertionf(format string, args ...any) *Error {
	return &Error{Kind: FailedAssertion, Message: fmt.Sprintf(format, args...)}
}

func Parsef(format string, args ...any) *Error {
	return &Error{Kind: ParseError, Message: fmt.Sprintf(format, args...)}
}

func HalErrorw(message string, cause error) *Error {
	return &Error{Kind: HalError, Message: message, Cause: cause}
}

// MetricLabel maps a taxonomy error to a stable, bounded-cardinality
// label value for internal/metrics, mirroring the teacher's
// mapErrToMetric — but driven off Kind instead of a package-local
// sentinel-error switch, since this taxonomy is shared across packages.
func MetricLabel(err error) string {
	var ge *Error
	if e, ok := err.(*Error); ok {
		ge = e
	} else {
		return "other"
	}
	switch ge.Kind {
	case Timeout:
		return "timeout"
	case ParameterOutOfBounds:
		return "parameter_out_of_bounds"
	case FailedAssertion:
		return "failed_assertion"
	case ParseError:
		return "parse_error"
	case HalError:
		return "hal_error"
	default:
		return "generic"
	}
}
