package metadata

import (
	"context"
	"fmt"
)

// CatalogConfig selects the metadata catalog backend.
type CatalogConfig struct {
	Backend     string `yaml:"backend"` // none, sqlite, postgres
	Path        string `yaml:"path"`    // sqlite database file
	PostgresDSN string `yaml:"postgres_dsn" split_words:"true"`
	RunID       string `yaml:"-" ignored:"true"`
}

// Writer persists file records.
type Writer interface {
	RecordFiles(ctx context.Context, recs []FileRecord) error
	Close() error
}

// NewWriter returns the writer for cfg.Backend. An empty backend is "none".
func NewWriter(cfg CatalogConfig) (Writer, error) {
	switch cfg.Backend {
	case "", "none":
		return noopWriter{}, nil
	case "sqlite":
		return NewSQLiteWriter(cfg)
	case "postgres":
		return NewPostgresWriter(cfg)
	default:
		return nil, fmt.Errorf("unsupported metadata backend: %s", cfg.Backend)
	}
}

type noopWriter struct{}

func (noopWriter) RecordFiles(_ context.Context, _ []FileRecord) error { return nil }
func (noopWriter) Close() error { return nil }
