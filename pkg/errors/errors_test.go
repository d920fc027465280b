package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  VesperError
		kind string
		msg  string
	}{
		{"type", &TypeError{Msg: "x is not a function"}, "Type", "TypeError: x is not a function"},
		{"reference", &ReferenceError{Msg: "y is not defined"}, "Reference", "ReferenceError: y is not defined"},
		{"range", &RangeError{Msg: "maximum call stack size exceeded"}, "Range", "RangeError: maximum call stack size exceeded"},
		{"runtime", &RuntimeError{Msg: "host failure"}, "Runtime", "RuntimeError: host failure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind() != tt.kind {
				t.Errorf("Kind() = %q, want %q", tt.err.Kind(), tt.kind)
			}
			if tt.err.Error() != tt.msg {
				t.Errorf("Error() = %q, want %q", tt.err.Error(), tt.msg)
			}
			if !strings.HasSuffix(tt.msg, tt.err.Message()) {
				t.Errorf("Message() = %q should be the suffix of %q", tt.err.Message(), tt.msg)
			}
		})
	}
}

func TestCauseChain(t *testing.T) {
	cause := fmt.Errorf("io failed")
	err := (&RuntimeError{Msg: "script aborted"}).CausedBy(cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("CausedBy should wire errors.Is through the chain")
	}
	var re *RuntimeError
	if !stderrors.As(err, &re) {
		t.Fatal("errors.As should find the concrete type")
	}
}

func TestDisplayErrors(t *testing.T) {
	var buf bytes.Buffer
	DisplayErrors(&buf, []VesperError{
		&TypeError{Position: Position{Function: "main", Offset: 12}, Msg: "bad call"},
		&ReferenceError{Msg: "z is not defined"},
	})
	out := buf.String()
	if !strings.Contains(out, "Type Error in 'main' at 0012: bad call") {
		t.Errorf("positioned error not rendered, got:\n%s", out)
	}
	if !strings.Contains(out, "Reference Error: z is not defined") {
		t.Errorf("position-free error not rendered, got:\n%s", out)
	}
}
