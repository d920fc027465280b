package errors

import (
	"fmt"
	"io"
)

// VesperError is the interface implemented by all script-reachable
// runtime errors produced by the interpreter.
type VesperError interface {
	error // Embed the standard error interface
	Pos() Position
	Kind() string // e.g., "Type", "Reference", "Range", "Runtime"
	// Message returns the specific error message without position info.
	Message() string
	Unwrap() error // For error wrapping support (errors.Is/As)
}

// --- Concrete Error Types ---

// TypeError represents an operation applied to a value of the wrong type:
// calling a non-callable, constructing a non-constructor, an invalid `in`
// right-hand side, or Symbol.toPrimitive returning an object.
type TypeError struct {
	Position
	Msg   string
	Cause error // Underlying cause, if any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("TypeError: %s", e.Msg)
}
func (e *TypeError) Pos() Position   { return e.Position }
func (e *TypeError) Kind() string    { return "Type" }
func (e *TypeError) Message() string { return e.Msg }
func (e *TypeError) Unwrap() error   { return e.Cause }
func (e *TypeError) CausedBy(cause error) *TypeError {
	e.Cause = cause
	return e
}

// ReferenceError represents access to an unresolvable or uninitialized
// binding.
type ReferenceError struct {
	Position
	Msg   string
	Cause error // Underlying cause, if any
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("ReferenceError: %s", e.Msg)
}
func (e *ReferenceError) Pos() Position   { return e.Position }
func (e *ReferenceError) Kind() string    { return "Reference" }
func (e *ReferenceError) Message() string { return e.Msg }
func (e *ReferenceError) Unwrap() error   { return e.Cause }
func (e *ReferenceError) CausedBy(cause error) *ReferenceError {
	e.Cause = cause
	return e
}

// RangeError is reserved for host-level misuse (out-of-range embedder
// arguments). Script execution itself never raises it.
type RangeError struct {
	Position
	Msg   string
	Cause error // Underlying cause, if any
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("RangeError: %s", e.Msg)
}
func (e *RangeError) Pos() Position   { return e.Position }
func (e *RangeError) Kind() string    { return "Range" }
func (e *RangeError) Message() string { return e.Msg }
func (e *RangeError) Unwrap() error   { return e.Cause }
func (e *RangeError) CausedBy(cause error) *RangeError {
	e.Cause = cause
	return e
}

// RuntimeError wraps failures that have no more specific class, such as
// errors returned by host-provided native functions.
type RuntimeError struct {
	Position
	Msg   string
	Cause error // Underlying cause, if any
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("RuntimeError: %s", e.Msg)
}
func (e *RuntimeError) Pos() Position   { return e.Position }
func (e *RuntimeError) Kind() string    { return "Runtime" }
func (e *RuntimeError) Message() string { return e.Msg }
func (e *RuntimeError) Unwrap() error   { return e.Cause }
func (e *RuntimeError) CausedBy(cause error) *RuntimeError {
	e.Cause = cause
	return e
}

// --- Error Reporting ---

// DisplayErrors prints a list of interpreter errors to w in a
// user-friendly format, including the function and bytecode offset when
// one is recorded.
func DisplayErrors(w io.Writer, errs []VesperError) {
	for _, err := range errs {
		pos := err.Pos()
		if pos.Function != "" {
			fmt.Fprintf(w, "%s Error in '%s' at %04d: %s\n", err.Kind(), pos.Function, pos.Offset, err.Message())
		} else {
			fmt.Fprintf(w, "%s Error: %s\n", err.Kind(), err.Message())
		}
	}
}
