package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel error kinds. Match them with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExpired     = errors.New("already expired")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrValidation         = errors.New("validation failed")
)

// Error describes a failed graph operation.
type Error struct {
	// Op is the operation that failed, e.g. "node.update".
	Op string

	// Ref is the id or locator the operation was working on.
	Ref string

	// Kind is one of the sentinel errors above.
	Kind error

	// Msg adds detail to Kind.
	Msg string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
	}
	if e.Ref != "" {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(e.Ref)
	}
	if sb.Len() > 0 {
		sb.WriteString(": ")
	}
	sb.WriteString(e.Kind.Error())
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NotFound reports a reference with no matching version.
func NotFound(op, ref string) *Error {
	return &Error{Op: op, Ref: ref, Kind: ErrNotFound}
}

// AlreadyExpired reports a mutation on an item with no active version.
func AlreadyExpired(op, ref string) *Error {
	return &Error{Op: op, Ref: ref, Kind: ErrAlreadyExpired}
}

// Invariant reports a structural or data-integrity violation.
func Invariant(op, ref, msg string) *Error {
	return &Error{Op: op, Ref: ref, Kind: ErrInvariantViolation, Msg: msg}
}

// Validation reports malformed input.
func Validation(op, ref, msg string) *Error {
	return &Error{Op: op, Ref: ref, Kind: ErrValidation, Msg: msg}
}

// WithOp re-labels err with op when it is a graph error without one.
// Other errors are wrapped with fmt.Errorf.
func WithOp(op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		if ge.Op == "" {
			clone := *ge
			clone.Op = op
			return &clone
		}
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
