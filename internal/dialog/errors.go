package dialog

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	// ErrorStructural is a malformed node or graph.
	ErrorStructural ErrorCode = "STRUCTURAL"
	// ErrorUnroutable is a reply no handler accepts.
	ErrorUnroutable ErrorCode = "UNROUTABLE_REPLY"
	// ErrorHandler is a handler that failed or panicked.
	ErrorHandler ErrorCode = "HANDLER_EXECUTION"
)

type Error struct {
	Code   ErrorCode
	Node   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("dialog: %s at %q (%s)", e.Code, e.Node, e.Reason)
	}
	return fmt.Sprintf("dialog: %s at %q (%s): %v", e.Code, e.Node, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, node *Node, reason string, err error) *Error {
	return &Error{Code: code, Node: node.label(), Reason: reason, Err: err}
}

// IsCode reports whether err is a dialog Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var de *Error
	return errors.As(err, &de) && de.Code == code
}
