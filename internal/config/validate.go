package config

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/withObsrvr/obsrvr-fast-flux/internal/schema"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/summary"
)

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	r := c.Run
	if r.Start.IsZero() {
		bad("run.start is required")
	}
	if r.End.IsZero() {
		bad("run.end is required")
	}
	if !r.Start.IsZero() && !r.End.IsZero() && r.End.Before(r.Start.Time) {
		bad("run.end %s is before run.start %s", r.End.Format(time.DateTime), r.Start.Format(time.DateTime))
	}
	if r.FileLength <= 0 {
		bad("run.file_length must be positive, got %d", r.FileLength)
	}
	if r.AcqFreq <= 0 {
		bad("run.acq_freq must be positive, got %g", r.AcqFreq)
	} else {
		if n := float64(r.FileLength) * r.AcqFreq * 60; n != math.Trunc(n) {
			bad("file_length*acq_freq*60 must be whole, got %g", n)
		}
		if p := float64(time.Second) / r.AcqFreq; p != math.Trunc(p) {
			bad("acq_freq %g Hz has no whole-nanosecond period", r.AcqFreq)
		}
	}
	if r.Workers < 1 {
		bad("run.workers must be at least 1")
	}
	if r.MaxRetries < 0 {
		bad("run.max_retries must not be negative")
	}

	if len(c.Sites) == 0 {
		bad("at least one site is required")
	}
	rowID := make(map[string]bool, len(r.RowIDColumns))
	for _, col := range r.RowIDColumns {
		rowID[col] = true
	}
	names := make(map[string]bool)
	owner := make(map[string]string) // merged column -> site
	for i, s := range c.Sites {
		if s.Name == "" {
			bad("sites[%d].name is required", i)
			continue
		}
		if names[s.Name] {
			bad("duplicate site %s", s.Name)
		}
		names[s.Name] = true

		if (s.Dir == "") == (s.BucketURL == "") {
			bad("site %s: exactly one of dir or bucket_url is required", s.Name)
		}
		if len(s.Header) == 0 {
			bad("site %s: header is empty", s.Name)
		}
		seen := make(map[string]bool, len(s.Header))
		for _, col := range s.Header {
			if col == "TIMESTAMP" {
				bad("site %s: header must not contain TIMESTAMP", s.Name)
			}
			if seen[col] {
				bad("site %s: duplicate header column %s", s.Name, col)
			}
			seen[col] = true
			if rowID[col] {
				continue
			}
			if other, ok := owner[col]; ok && other != s.Name {
				bad("column %s appears in sites %s and %s", col, other, s.Name)
			}
			owner[col] = s.Name
		}
		if _, err := s.Router(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
		}
		if err := s.Instruments.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%w: site %s: %w", ErrInvalidConfig, s.Name, err))
		}
		for _, inst := range s.Instruments {
			if !seen[inst.Flag] {
				bad("site %s: flag column %s is not in the header", s.Name, inst.Flag)
			}
		}
	}

	if _, err := summary.NewEncoder(c.Summary.Format); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}
	var columns []string
	for _, s := range c.Sites {
		columns = append(columns, s.Header...)
	}
	keys, err := schema.ResolveColumns(columns, c.SiteNames(), c.Summary.Variables)
	if err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}
	summarySites := make(map[string]bool)
	for _, s := range schema.SummarySites(keys, c.SiteNames()) {
		summarySites[s] = true
	}
	for _, w := range c.FlagWindows() {
		if err := w.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
		}
		for _, s := range w.Sites {
			if !summarySites[s] {
				bad("flag window %s names unknown site %s", w.ID, s)
			}
		}
	}

	switch c.Metadata.Backend {
	case "", "none":
	case "sqlite":
		if c.Metadata.Path == "" {
			bad("metadata.path is required for sqlite")
		}
	case "postgres":
		if c.Metadata.PostgresDSN == "" {
			bad("metadata.postgres_dsn is required for postgres")
		}
	default:
		bad("unknown metadata backend %s", c.Metadata.Backend)
	}
	if c.Checkpoint.Enabled && c.Checkpoint.Dir == "" {
		bad("checkpoint.dir is required when checkpointing is enabled")
	}
	if c.Audit.Enabled && c.Audit.Dir == "" {
		bad("audit.dir is required when the audit trail is enabled")
	}
	if r.Resume && !c.Checkpoint.Enabled {
		bad("run.resume needs checkpoint.enabled")
	}

	return errors.Join(errs...)
}
