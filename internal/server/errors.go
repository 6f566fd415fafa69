package server

import (
	"encoding/json"
	"net/http"

	"github.com/hession/korah/internal/agent"
	"github.com/hession/korah/internal/logger"
	"github.com/hession/korah/internal/tools"
)

// requestError is a malformed request
type requestError struct {
	err error
}

func badRequest(err error) error { return &requestError{err: err} }

func (e *requestError) Error() string { return "invalid request: " + e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }
func (e *requestError) Code() string  { return CodeBadRequest }

// errorBody is the JSON error response
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// status maps an error code to the HTTP status returned for it
func status(code string) int {
	switch code {
	case CodeBadRequest,
		tools.CodeParams,
		tools.CodeNotFound,
		tools.CodeRegex,
		tools.CodePath,
		tools.CodeIO,
		tools.CodeInconsistentParams:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := agent.Code(err)
	st := status(code)

	if st == http.StatusInternalServerError {
		logger.Error().Err(err).Str("code", code).Msg("failed to serve HTTP request")
	} else {
		logger.Debug().Err(err).Str("code", code).Msg("failed to serve HTTP request")
	}

	var body errorBody
	body.Error.Code = code
	body.Error.Message = err.Error()
	writeJSON(w, st, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn().Err(err).Msg("failed to write response")
	}
}
