package agent

import (
	"context"
	"encoding/json"
	"iter"

	"github.com/google/uuid"
	"github.com/hession/korah/internal/config"
	"github.com/hession/korah/internal/llm"
	"github.com/hession/korah/internal/logger"
	"github.com/hession/korah/internal/tools"
	"github.com/rs/zerolog"
)

const (
	// DefaultDeriveTries number of attempts to derive a working tool call
	DefaultDeriveTries = 3
)

// Orchestrator turns a query into a tool call and executes it
type Orchestrator struct {
	client     llm.Client
	registry   *tools.Registry
	tries      int
	doublePass bool
	queryFmt   string
	newContext func() QueryContext
}

// Result is a resolved query
type Result struct {
	QueryID string
	// Call is the executed call; zero when the query was cancelled before one was derived
	Call  llm.ToolCall
	Items iter.Seq[json.RawMessage]
}

// Option orchestrator configuration option
type Option func(*Orchestrator)

// WithDeriveTries sets the number of derive attempts; values below 1 are ignored
func WithDeriveTries(n int) Option {
	return func(o *Orchestrator) {
		if n >= 1 {
			o.tries = n
		}
	}
}

// WithDoublePass enables picking the tool by name before deriving its params
func WithDoublePass(enabled bool) Option {
	return func(o *Orchestrator) {
		o.doublePass = enabled
	}
}

// WithQueryFmt sets the template wrapping every query sent to the LLM
func WithQueryFmt(format string) Option {
	return func(o *Orchestrator) {
		if format != "" {
			o.queryFmt = format
		}
	}
}

// WithContextFunc replaces the QueryContext source
func WithContextFunc(fn func() QueryContext) Option {
	return func(o *Orchestrator) {
		o.newContext = fn
	}
}

// New creates a new Orchestrator
func New(client llm.Client, registry *tools.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:     client,
		registry:   registry,
		tries:      DefaultDeriveTries,
		queryFmt:   config.DefaultQueryFmt,
		newContext: NewQueryContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewFromConfig creates an Orchestrator honoring the derive settings of cfg
func NewFromConfig(cfg *config.Config, client llm.Client, registry *tools.Registry, opts ...Option) *Orchestrator {
	base := []Option{
		WithDeriveTries(cfg.NumDeriveTries),
		WithDoublePass(cfg.DoublePassDerive),
		WithQueryFmt(cfg.LLM.QueryFmt),
	}
	return New(client, registry, append(base, opts...)...)
}

// Execute resolves query and returns the tool's output
func (o *Orchestrator) Execute(ctx context.Context, query string) (iter.Seq[json.RawMessage], error) {
	res, err := o.Resolve(ctx, query)
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}

// Resolve turns query into an executed tool call under a new query id
func (o *Orchestrator) Resolve(ctx context.Context, query string) (*Result, error) {
	return o.ResolveWithID(ctx, uuid.NewString(), query)
}

// ResolveWithID turns query into an executed tool call, logging under queryID.
//
// A query that is itself a {"tool", "params"} object is invoked directly.
// Otherwise the LLM is asked up to tries times; an attempt that yields no
// call, an unknown tool or params the tool rejects is logged and retried.
// LLM errors abort at once. When ctx is cancelled between attempts the
// result is empty without an error.
func (o *Orchestrator) ResolveWithID(ctx context.Context, queryID, query string) (*Result, error) {
	log := logger.With().Str("query_id", queryID).Logger()

	if call, ok := ParseLiteralCall(query); ok {
		log.Info().Str("tool", call.Tool).Msg("literal tool call")
		seq, err := o.registry.Invoke(ctx, call.Tool, call.Params)
		if err != nil {
			return nil, err
		}
		return &Result{QueryID: queryID, Call: *call, Items: seq}, nil
	}

	query = FormatQuery(o.queryFmt, o.newContext(), query)
	log.Debug().Str("query", query).Msg("contextualized query")

	metas := o.registry.List()
	// In-flight LLM requests are not interrupted; ctx is checked between attempts
	llmCtx := context.WithoutCancel(ctx)

	for attempt := 1; attempt <= o.tries; attempt++ {
		if ctx.Err() != nil {
			log.Warn().Int("attempt", attempt).Msg("query cancelled")
			return &Result{QueryID: queryID, Items: empty}, nil
		}

		call, err := o.derive(llmCtx, &log, metas, query)
		if err != nil {
			return nil, err
		}
		if call == nil {
			log.Warn().Int("attempt", attempt).Msg("no tool call derived")
			continue
		}
		log.Info().Int("attempt", attempt).Str("tool", call.Tool).Str("params", string(call.Params)).Msg("derived call")

		seq, err := o.registry.Invoke(ctx, call.Tool, call.Params)
		if tools.IsNotFound(err) {
			log.Warn().Str("tool", call.Tool).Msg("derived tool not found")
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("code", Code(err)).Msg("derived call failed")
			continue
		}
		return &Result{QueryID: queryID, Call: *call, Items: seq}, nil
	}

	log.Error().Int("tries", o.tries).Msg("derive attempts exhausted")
	return nil, ErrDeriveExhausted
}

// derive runs one attempt. In double pass mode the first round offers only
// names and descriptions; the second offers the full meta of the chosen tool.
func (o *Orchestrator) derive(ctx context.Context, log *zerolog.Logger, metas []tools.Meta, query string) (*llm.ToolCall, error) {
	if !o.doublePass {
		return o.client.DeriveToolCall(ctx, metas, query)
	}

	stripped := make([]tools.Meta, 0, len(metas))
	for _, m := range metas {
		stripped = append(stripped, tools.Meta{Name: m.Name, Description: m.Description})
	}
	picked, err := o.client.DeriveToolCall(ctx, stripped, query)
	if err != nil || picked == nil {
		return nil, err
	}

	for _, m := range metas {
		if m.Name == picked.Tool {
			log.Debug().Str("tool", m.Name).Msg("first pass picked tool")
			return o.client.DeriveToolCall(ctx, []tools.Meta{m}, query)
		}
	}
	log.Warn().Str("tool", picked.Tool).Msg("first pass named an unknown tool")
	return nil, nil
}

// Run executes query and passes every output item to emit. It returns
// ErrCancelled when ctx was cancelled, even if some output was emitted.
func (o *Orchestrator) Run(ctx context.Context, query string, emit func(json.RawMessage) error) error {
	seq, err := o.Execute(ctx, query)
	if err != nil {
		return err
	}
	for item := range seq {
		if err := emit(item); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}

func empty(func(json.RawMessage) bool) {}
