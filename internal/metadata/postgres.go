package metadata

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const upsertFileSQL = `
	INSERT INTO raw_files (
		run_id, site, file_path, file_timestamp, output_interval, output_path,
		file_format, station_name, logger_model, logger_serial, logger_os,
		program_name, program_signature, table_name, converter, converter_version,
		source_file, converted_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	ON CONFLICT (site, file_path)
	DO UPDATE SET
		run_id = EXCLUDED.run_id,
		output_interval = EXCLUDED.output_interval,
		output_path = EXCLUDED.output_path,
		created_at = NOW()
`

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool  *pgxpool.Pool
	runID string
	log   *slog.Logger
}

// NewPostgresWriter creates a new PostgreSQL catalog writer.
func NewPostgresWriter(cfg CatalogConfig) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 2
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	w := &PostgresWriter{
		pool:  pool,
		runID: cfg.RunID,
		log:   slog.With("component", "metadata", "backend", "postgres"),
	}
	w.log.Info("connected to PostgreSQL catalog")
	return w, nil
}

// RecordFiles upserts recs in one batch.
func (w *PostgresWriter) RecordFiles(ctx context.Context, recs []FileRecord) error {
	if len(recs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range recs {
		h := r.Header
		batch.Queue(upsertFileSQL,
			w.runID, r.Site, r.FilePath, r.FileTimestamp, r.OutputInterval, r.OutputPath,
			h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7], h[8], h[9], h[10], h[11],
		)
	}

	br := w.pool.SendBatch(ctx, batch)
	for range recs {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("record files: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	w.log.Debug("recorded files", "count", len(recs))
	return nil
}

// CountFiles returns the number of catalogued files for site.
func (w *PostgresWriter) CountFiles(ctx context.Context, site string) (int64, error) {
	var n int64
	err := w.pool.QueryRow(ctx, `SELECT COUNT(*) FROM raw_files WHERE site = $1`, site).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count files for %s: %w", site, err)
	}
	return n, nil
}

// Close closes the connection pool.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}
