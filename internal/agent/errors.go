package agent

import (
	"errors"

	"github.com/hession/korah/internal/config"
)

// Error codes reported by the orchestrator
const (
	CodeDeriveToolCall = "derive_tool_call"
	CodeCancelled      = "cancelled"
	CodeConfig         = "config"
	CodeInternal       = "internal"
)

// Error is a terminal query outcome carrying a machine readable code
type Error struct {
	code string
	msg  string
}

func (e *Error) Error() string { return e.msg }

// Code returns the short error code
func (e *Error) Code() string { return e.code }

var (
	// ErrDeriveExhausted is returned once every derive attempt failed
	ErrDeriveExhausted = &Error{code: CodeDeriveToolCall, msg: "failed to derive tool call"}
	// ErrCancelled is returned when the query was cancelled, even after partial output
	ErrCancelled = &Error{code: CodeCancelled, msg: "processing cancelled"}
)

// Code returns the first code found in err's chain
func Code(err error) string {
	if err == nil {
		return ""
	}
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	if errors.Is(err, config.ErrInvalid) {
		return CodeConfig
	}
	return CodeInternal
}
