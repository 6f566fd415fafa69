package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hession/korah/internal/agent"
	"github.com/hession/korah/internal/llm"
	"github.com/hession/korah/internal/logger"
	"github.com/hession/korah/internal/store"
	"github.com/hession/korah/internal/tools"
)

// defaultHistoryLimit is the number of queries GET /queries returns without ?limit
const defaultHistoryLimit = 20

// shutdownTimeout bounds draining of in-flight requests
const shutdownTimeout = 5 * time.Second

// HeaderQueryID carries the id a /query is logged and recorded under
const HeaderQueryID = "X-Query-Id"

// CodeBadRequest reports a request body that is not the expected JSON
const CodeBadRequest = "bad_request"

// Server serves the tool registry and the orchestrator over HTTP
type Server struct {
	registry     *tools.Registry
	orchestrator *agent.Orchestrator
	store        store.Store
	mux          *http.ServeMux
}

// toolRequest POST /tool payload
type toolRequest struct {
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params"`
}

// queryRequest POST /query payload
type queryRequest struct {
	Query string `json:"query"`
}

// New creates a new Server
func New(registry *tools.Registry, orchestrator *agent.Orchestrator, st store.Store) *Server {
	s := &Server{
		registry:     registry,
		orchestrator: orchestrator,
		store:        st,
		mux:          http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /tools", s.handleTools)
	s.mux.HandleFunc("POST /tool", s.handleTool)
	s.mux.HandleFunc("POST /query", s.handleQuery)
	s.mux.HandleFunc("GET /queries", s.handleQueries)
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("address", addr).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		logger.Info().Msg("server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	var req toolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest(err))
		return
	}

	seq, err := s.registry.Invoke(r.Context(), req.Tool, req.Params)
	if err != nil {
		writeError(w, err)
		return
	}
	streamEvents(w, r, seq)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest(err))
		return
	}

	queryID := uuid.NewString()
	w.Header().Set(HeaderQueryID, queryID)

	res, err := s.orchestrator.ResolveWithID(r.Context(), queryID, req.Query)
	if err != nil {
		s.record(r.Context(), queryID, req.Query, llm.ToolCall{}, err)
		writeError(w, err)
		return
	}
	streamEvents(w, r, res.Items)

	var outcome error
	if r.Context().Err() != nil {
		outcome = agent.ErrCancelled
	}
	s.record(r.Context(), queryID, req.Query, res.Call, outcome)
}

func (s *Server) handleQueries(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, badRequest(fmt.Errorf("invalid limit %q", v)))
			return
		}
		limit = n
	}

	history, err := s.store.RecentQueries(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// record appends a query to the history; failures are only logged
func (s *Server) record(ctx context.Context, id, query string, call llm.ToolCall, outcome error) {
	rec := &store.QueryRecord{ID: id, Query: query, Tool: call.Tool}
	if outcome != nil {
		rec.Code = agent.Code(outcome)
	}
	if err := s.store.RecordQuery(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn().Err(err).Str("query_id", rec.ID).Msg("failed to record query")
	}
}

// streamEvents writes each item as a server-sent "data:" event
func streamEvents(w http.ResponseWriter, r *http.Request, seq iter.Seq[json.RawMessage]) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	for item := range seq {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", item); err != nil {
			logger.Debug().Err(err).Msg("client went away")
			return
		}
		if err := rc.Flush(); err != nil {
			logger.Debug().Err(err).Msg("failed to flush event")
		}
		if r.Context().Err() != nil {
			return
		}
	}
}
