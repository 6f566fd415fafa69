package tools

import (
	"errors"
	"fmt"
)

// Error codes reported by tools and the dispatch layer
const (
	CodeParams             = "tool_params"
	CodeRegex              = "tool_regex"
	CodeIO                 = "tool_io"
	CodePath               = "tool_path"
	CodeProcesses          = "tool_processes"
	CodeInconsistentParams = "tool_inconsistent_params"
	CodeNotFound           = "tool_not_found"
)

// Error is a tool error carrying a machine readable code
type Error struct {
	code string
	msg  string
	err  error
}

func newError(code, msg string, err error) *Error {
	return &Error{code: code, msg: msg, err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Code returns the short error code
func (e *Error) Code() string { return e.code }

// NotFoundError reports an unregistered tool name
func NotFoundError(name string) *Error {
	return newError(CodeNotFound, fmt.Sprintf("tool '%s' not found", name), nil)
}

// IsNotFound reports whether err is an unknown tool error
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.code == CodeNotFound
}
