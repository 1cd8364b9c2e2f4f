// Package vmerrors defines the fatal error kinds the interpreter can raise
// and the call-stack trace attached to them. Every kind unwinds the whole
// VM; none of them are catchable by the running script.
package vmerrors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies a runtime fault: bad operand types, wrong arity, an
// undefined name, a failed native I/O call, or a user-triggered panic.
type Kind string

const (
	TypeError  Kind = "TypeError"
	ArityError Kind = "ArityError"
	NameError  Kind = "NameError"
	IOError    Kind = "IOError"
	UserPanic  Kind = "UserPanic"
)

// Frame is one entry of the call stack captured at the point of failure,
// innermost call first.
type Frame struct {
	Function string
	Line     int
	File     string
}

// RuntimeError is the error value returned by Interpret on a fatal fault.
// It carries enough context (kind, message, frame trace) for a host to
// print a diagnostic; the wrapped cause (if any) preserves the originating
// error from a native function or heap access.
type RuntimeError struct {
	Kind    Kind
	Message string
	Stack   []Frame
	cause   error
}

func New(kind Kind, format string, args ...interface{}) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and message to an underlying error, preserving it as
// the cause. Unwrap returns the cause wrapped with a stack trace, so the
// standard library's errors.Is/errors.As reach it; RuntimeError has no
// Cause method, so pkg/errors' errors.Cause stops at the RuntimeError.
func Wrap(cause error, kind Kind, format string, args ...interface{}) *RuntimeError {
	return &RuntimeError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		cause:   errors.WithStack(cause),
	}
}

func (e *RuntimeError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", e.Kind, e.Message)
	if len(e.Stack) > 0 {
		sb.WriteString("\n")
		for _, f := range e.Stack {
			if f.Function != "" {
				fmt.Fprintf(&sb, "  at %s (%s:%d)\n", f.Function, f.File, f.Line)
			} else {
				fmt.Fprintf(&sb, "  at %s:%d\n", f.File, f.Line)
			}
		}
	}
	return sb.String()
}

func (e *RuntimeError) Unwrap() error { return e.cause }

// WithFrame appends a call-stack frame (called as the error unwinds
// through each CallFrame, innermost first).
func (e *RuntimeError) WithFrame(function, file string, line int) *RuntimeError {
	e.Stack = append(e.Stack, Frame{Function: function, File: file, Line: line})
	return e
}
