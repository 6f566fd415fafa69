package llm

// Error codes reported by LLM clients
const (
	CodeTransport     = "llm_transport"
	CodeResponse      = "llm_response"
	CodeConfigMissing = "llm_config_missing"
)

// Error is an LLM client error carrying a machine readable code.
// Clients never retry on it.
type Error struct {
	code string
	msg  string
	err  error
}

func newError(code, msg string, err error) *Error {
	return &Error{code: code, msg: msg, err: err}
}

func transportError(msg string, err error) *Error { return newError(CodeTransport, msg, err) }

func responseError(msg string, err error) *Error { return newError(CodeResponse, msg, err) }

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Code returns the short error code
func (e *Error) Code() string { return e.code }
