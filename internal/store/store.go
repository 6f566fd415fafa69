package store

import (
	"context"
	"errors"
	"time"
)

// Config keys read by the HTTP front end
const (
	KeyAPIAddress = "api_address"
	KeyLLMModel   = "llm_model"
	KeyOllamaURL  = "ollama_url"
)

var (
	// ErrNotFound config key is not set
	ErrNotFound = errors.New("config value not found")
	// ErrUnsupportedSchemaVersion the database was created by an incompatible version
	ErrUnsupportedSchemaVersion = errors.New("unsupported schema version")
)

// Store persistent server state
type Store interface {
	// Config values
	ConfigValue(ctx context.Context, key string) (string, error)
	SetConfigValue(ctx context.Context, key, value string) error
	SeedConfig(ctx context.Context, values map[string]string) error

	// Query history
	RecordQuery(ctx context.Context, rec *QueryRecord) error
	RecentQueries(ctx context.Context, limit int) ([]*QueryRecord, error)

	// Close connection
	Close() error
}

// QueryRecord one processed query
type QueryRecord struct {
	ID        string    `json:"id"`
	Query     string    `json:"query"`
	Tool      string    `json:"tool,omitempty"` // empty when no call was executed
	Code      string    `json:"code,omitempty"` // empty on success
	CreatedAt time.Time `json:"created_at"`
}
