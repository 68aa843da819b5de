// Package reconciler runs the interval loop: it assembles every site for each
// output interval, merges them onto the interval axis, feeds the summary and
// commits the merged table in interval order.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/obsrvr-fast-flux/internal/assemble"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/audit"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/config"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/logging"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/merge"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/metadata"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/metrics"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/schema"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/source"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/storage"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/summary"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/tables"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// Reconciler orchestrates one run over the configured interval grid.
type Reconciler struct {
	cfg        *config.Config
	store      storage.AtomicStore
	meta       metadata.Writer
	audit      audit.Emitter
	checkpoint checkpoint.Manager
	metrics    *metrics.Metrics
	harmonizer *schema.Harmonizer
	merger     *merge.Merger
	parquetCfg tables.ParquetConfig

	runID    string
	backend  string
	period   time.Duration
	interval time.Duration
	nRecords int
	backoff  time.Duration
	resumed  *checkpoint.Checkpoint

	log *slog.Logger
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithMetadataWriter replaces the catalog writer built from configuration.
func WithMetadataWriter(w metadata.Writer) Option {
	return func(r *Reconciler) { r.meta = w }
}

// WithAuditEmitter replaces the audit trail built from configuration.
func WithAuditEmitter(e audit.Emitter) Option {
	return func(r *Reconciler) { r.audit = e }
}

// WithRetryBackoff sets the base delay between storage retries.
func WithRetryBackoff(d time.Duration) Option {
	return func(r *Reconciler) { r.backoff = d }
}

// WithRunID fixes the run ID instead of generating one.
func WithRunID(id string) Option {
	return func(r *Reconciler) { r.runID = id }
}

// New creates a reconciler writing to store. cfg must be validated.
func New(cfg *config.Config, store storage.AtomicStore, opts ...Option) (*Reconciler, error) {
	h, err := cfg.Harmonizer()
	if err != nil {
		return nil, err
	}

	r := &Reconciler{
		cfg:        cfg,
		store:      store,
		harmonizer: h,
		merger:     merge.New(cfg.Period(), cfg.NRecords(), cfg.Run.RowIDColumns),
		parquetCfg: tables.ParquetConfig{
			Compression: cfg.Run.Compression,
			Producer:    "fast-flux@" + Version,
		},
		runID:    logging.NewRunID(),
		backend:  cfg.Storage.Backend,
		period:   cfg.Period(),
		interval: cfg.IntervalLength(),
		nRecords: cfg.NRecords(),
		backoff:  time.Second,
		log:      logging.Component("reconciler"),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.metrics = metrics.New(cfg.Metrics.Namespace, nil)

	cpMgr, err := checkpoint.NewManager(cfg.Checkpoint)
	if err != nil {
		return nil, err
	}
	r.checkpoint = cpMgr

	if r.meta == nil {
		catalog := cfg.Metadata
		catalog.RunID = r.runID
		w, err := metadata.NewWriter(catalog)
		if err != nil {
			return nil, fmt.Errorf("metadata catalog: %w", err)
		}
		r.meta = w
	}
	if r.audit == nil {
		e, err := audit.NewEmitter(cfg.Audit)
		if err != nil {
			r.meta.Close()
			return nil, fmt.Errorf("audit trail: %w", err)
		}
		r.audit = e
	}
	return r, nil
}

// RunID returns the ID stamped on manifests, checkpoints and catalog rows.
func (r *Reconciler) RunID() string { return r.runID }

// Metrics returns the run's metrics.
func (r *Reconciler) Metrics() *metrics.Metrics { return r.metrics }

// Close releases the catalog connection and the audit trail.
func (r *Reconciler) Close() error {
	return errors.Join(r.meta.Close(), r.audit.Close())
}

// SiteIndex is one site's source and file index for the run window.
type SiteIndex struct {
	Config *config.SiteConfig
	Source source.Source
	Index  *source.FileIndex
}

// IndexSites opens every site source and indexes the closed window
// [start, end]. Callers close the returned sources.
func (r *Reconciler) IndexSites(ctx context.Context, start, end time.Time) ([]*SiteIndex, error) {
	out := make([]*SiteIndex, 0, len(r.cfg.Sites))
	closeAll := func() {
		for _, si := range out {
			si.Source.Close()
		}
	}

	for i := range r.cfg.Sites {
		sc := &r.cfg.Sites[i]
		src, err := source.NewSource(ctx, source.SourceConfig{
			Dir:       sc.Dir,
			BucketURL: sc.BucketURL,
			Prefix:    sc.Prefix,
		})
		if err != nil {
			r.metrics.IncSourceErrors(sc.Name)
			closeAll()
			return nil, fmt.Errorf("site %s: %w", sc.Name, err)
		}
		idx, err := source.BuildIndex(ctx, src, start, end)
		if err != nil {
			r.metrics.IncSourceErrors(sc.Name)
			src.Close()
			closeAll()
			return nil, fmt.Errorf("site %s: index: %w", sc.Name, err)
		}
		r.log.Info("indexed site",
			"site", sc.Name,
			"files", idx.Count(),
			"unique_timestamps", idx.UniqueTimestamps(),
		)
		out = append(out, &SiteIndex{Config: sc, Source: src, Index: idx})
	}
	return out, nil
}

// DryRun indexes every site over the configured window and returns the
// indexes without reading any file.
func (r *Reconciler) DryRun(ctx context.Context) ([]*SiteIndex, error) {
	sites, err := r.IndexSites(ctx, r.cfg.Run.Start.Time, r.cfg.Run.End.Time)
	if err != nil {
		return nil, err
	}
	for _, si := range sites {
		si.Source.Close()
	}
	return sites, nil
}

// grid returns the configured interval grid and the index of the first
// interval this run has to commit. With resume enabled, intervals up to the
// checkpoint are already committed.
func (r *Reconciler) grid(ctx context.Context) ([]time.Time, int, error) {
	grid := r.cfg.Intervals()
	if !r.cfg.Run.Resume {
		return grid, 0, nil
	}

	cp, err := r.checkpoint.Load(ctx)
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		r.log.Info("no checkpoint found, starting fresh")
		return grid, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp.IntervalLength != r.interval {
		r.log.Info("checkpoint doesn't match config, starting fresh",
			"checkpoint_interval", cp.IntervalLength,
			"interval", r.interval,
		)
		return grid, 0, nil
	}

	r.resumed = cp
	next := cp.Next()
	for i, t := range grid {
		if !t.Before(next) {
			r.log.Info("resuming from checkpoint",
				"last_interval", cp.LastInterval,
				"start", t,
				"committed_intervals", i,
			)
			return grid, i, nil
		}
	}
	return grid, len(grid), nil
}

// Run processes every interval of the grid in ascending order, then writes
// the summary. On resume, intervals before the checkpoint are assembled and
// aggregated again so the summary covers the whole grid, but only the
// remaining intervals are committed.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	ctx = logging.WithRunID(ctx, r.runID)
	res := &Result{RunID: r.runID}
	defer r.writeMetrics()

	grid, from, err := r.grid(ctx)
	if err != nil {
		return res, err
	}
	if r.resumed != nil && from < len(grid) {
		res.ResumedAt = grid[from]
	}
	res.Intervals = len(grid) - from
	if res.Intervals == 0 {
		r.log.Info("nothing to do, every interval is committed")
		return res, nil
	}

	// Replayed intervals only feed the summary.
	first := 0
	if !r.cfg.Summary.Enabled {
		first = from
	}

	r.log.Info("starting run",
		"run_id", r.runID,
		"start", grid[from],
		"end", r.cfg.Run.End.Time,
		"intervals", res.Intervals,
		"replayed", from-first,
		"sites", len(r.cfg.Sites),
		"n_records", r.nRecords,
	)
	r.logRules(grid[first], grid[len(grid)-1])

	indexes, err := r.IndexSites(ctx, grid[first], r.cfg.Run.End.Time)
	if err != nil {
		return res, err
	}
	defer func() {
		for _, si := range indexes {
			si.Source.Close()
		}
	}()

	sites := make([]*assemble.Site, len(indexes))
	headers := make([][]string, len(indexes))
	for i, si := range indexes {
		sites[i] = &assemble.Site{
			Name:     si.Config.Name,
			Registry: si.Config.Instruments,
			Loader:   source.FileLoader{Source: si.Source},
			Queue:    assemble.NewQueue(si.Config.Name, si.Index.Files()),
			Table:    metadata.NewTable(si.Config.Name, si.Index.UniqueTimestamps()),
		}
		headers[i] = si.Config.Header
	}

	keys, err := schema.ResolveColumns(r.merger.Columns(headers...), r.cfg.SiteNames(), r.cfg.Summary.Variables)
	if err != nil {
		return res, err
	}

	var acc *summary.Accumulator
	if r.cfg.Summary.Enabled {
		acc = summary.NewAccumulator(grid, schema.SummarySites(keys, r.cfg.SiteNames()), r.cfg.Summary.Variables)
	}

	asm := assemble.New(r.harmonizer, r.cfg.Run.DecodeParallelism)
	pipe := newPipeline(r, r.cfg.Run.Workers, r.cfg.Run.MaxRetries, r.backoff)

	produce := func(ctx context.Context, submit func(*IntervalJob) error) error {
		for i := first; i < len(grid); i++ {
			t := grid[i]
			job, err := r.buildInterval(ctx, asm, sites, i-from, t)
			if err != nil {
				return err
			}
			if acc != nil {
				if _, err := summary.Aggregate(acc, i, job.Frame, keys, r.nRecords); err != nil {
					return fmt.Errorf("interval %s: summary: %w", t.UTC().Format(time.DateTime), err)
				}
			}
			if i < from {
				r.log.Debug("replayed committed interval for the summary", "interval", t)
				continue
			}
			if err := submit(job); err != nil {
				return err
			}
		}
		return nil
	}

	err = pipe.Run(ctx, res.Intervals, produce)
	res.Committed = pipe.committed
	res.Skipped = pipe.skipped
	if err != nil {
		return res, err
	}

	if acc != nil {
		if err := r.writeSummary(ctx, pipe, acc, res); err != nil {
			return res, err
		}
	}

	r.log.Info("run complete",
		"committed", res.Committed,
		"skipped", res.Skipped,
		"summary", res.SummaryKey,
	)
	return res, nil
}

// logRules reports which schema rules each site goes through between the
// first and last interval starts.
func (r *Reconciler) logRules(start, end time.Time) {
	for _, name := range r.cfg.SiteNames() {
		site, err := r.harmonizer.Site(name)
		if err != nil {
			continue
		}
		var ids []string
		for _, rule := range site.Router.Span(start, end) {
			ids = append(ids, rule.ID)
		}
		r.log.Info("schema rules in run window", "site", name, "rules", ids)
	}
}

// buildInterval assembles every site for the interval starting at t and
// merges them onto the interval axis. Sites are visited in config order.
func (r *Reconciler) buildInterval(ctx context.Context, asm *assemble.Assembler, sites []*assemble.Site, i int, t time.Time) (*IntervalJob, error) {
	startTime := time.Now()
	ref := storage.IntervalRef{Start: t, Duration: r.interval}
	outputPath := r.store.URI(ref.Path(r.store.Prefix()))

	job := &IntervalJob{Index: i, Start: t}
	frames := make([]merge.SiteFrame, 0, len(sites))
	for _, site := range sites {
		res, err := asm.Assemble(ctx, site, t, r.interval, outputPath)
		if err != nil {
			r.metrics.IncSourceErrors(site.Name)
			return nil, fmt.Errorf("interval %s: %w", t.UTC().Format(time.DateTime), err)
		}
		job.Sites = append(job.Sites, res)
		job.Records = append(job.Records, res.Records...)
		frames = append(frames, merge.SiteFrame{Site: res.Site, Frame: res.Frame})
	}

	merged, stats, err := r.merger.Merge(t, frames)
	if err != nil {
		return nil, fmt.Errorf("interval %s: merge: %w", t.UTC().Format(time.DateTime), err)
	}
	job.Frame = merged
	job.Stats = stats

	r.metrics.IntervalBuildDuration.Observe(time.Since(startTime).Seconds())
	return job, nil
}

// writeSummary masks the configured flag windows and writes the summary
// object next to the interval tables.
func (r *Reconciler) writeSummary(ctx context.Context, pipe *Pipeline, acc *summary.Accumulator, res *Result) error {
	masked, err := acc.ApplyFlags(r.cfg.FlagWindows()...)
	if err != nil {
		return fmt.Errorf("apply flag windows: %w", err)
	}
	res.Masked = masked
	r.metrics.SummaryCellsMasked.Add(float64(masked))
	if masked > 0 {
		r.log.Info("masked flagged summary cells", "cells", masked)
	}

	enc, err := summary.NewEncoder(r.cfg.Summary.Format)
	if err != nil {
		return err
	}
	data, err := enc.Encode(acc)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := pipe.withRetry(ctx, "summary_write", r.log, func() error {
		return r.store.WriteObject(ctx, enc.FileName(), data)
	}); err != nil {
		return err
	}
	res.SummaryKey = r.store.Prefix() + enc.FileName()
	r.log.Info("wrote summary",
		"uri", r.store.URI(res.SummaryKey),
		"bytes", len(data),
	)
	return nil
}

// writeMetrics flushes the metrics textfile when configured.
func (r *Reconciler) writeMetrics() {
	mc := r.cfg.Metrics
	if !mc.Enabled || mc.Textfile == "" {
		return
	}
	if err := r.metrics.WriteTextfile(mc.Textfile); err != nil {
		r.log.Warn("failed to write metrics textfile", "path", mc.Textfile, "error", err)
	}
}
