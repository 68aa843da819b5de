package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/obsrvr-fast-flux/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/logging"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/storage"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/tables"
)

var errResultsClosed = errors.New("results closed before all intervals committed")

// Pipeline implements the dispatcher → workers → sequencer flow.
// The run loop dispatches merged intervals in order, workers encode them in
// parallel, and the sequencer commits them strictly in interval order.
type Pipeline struct {
	r         *Reconciler
	workers   int
	queueSize int
	maxRetry  int
	backoff   time.Duration
	log       *slog.Logger

	workQueue  chan *IntervalJob
	resultChan chan IntervalResult
	wg         sync.WaitGroup

	committed int
	skipped   int
	lastCP    *checkpoint.Checkpoint
}

// newPipeline creates a worker pipeline.
func newPipeline(r *Reconciler, workers, maxRetry int, backoff time.Duration) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	if maxRetry < 0 {
		maxRetry = 0
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	queueSize := workers * 2

	return &Pipeline{
		r:          r,
		workers:    workers,
		queueSize:  queueSize,
		maxRetry:   maxRetry,
		backoff:    backoff,
		log:        logging.Component("pipeline"),
		workQueue:  make(chan *IntervalJob, queueSize),
		resultChan: make(chan IntervalResult, queueSize),
	}
}

// Run starts the workers, runs produce as the dispatcher and sequences total
// intervals. produce must submit jobs with indices 0..total-1 in order.
func (p *Pipeline) Run(ctx context.Context, total int, produce func(ctx context.Context, submit func(*IntervalJob) error) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.log.Info("starting pipeline", "intervals", total, "workers", p.workers)

	// Start worker pool
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx, i)
	}

	// Start dispatcher
	errChan := make(chan error, 1)
	go func() {
		defer close(p.workQueue)
		errChan <- produce(ctx, func(job *IntervalJob) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case p.workQueue <- job:
				p.r.metrics.WorkerQueueDepth.Set(float64(len(p.workQueue)))
				return nil
			}
		})
	}()

	// Close results when workers finish
	go func() {
		p.wg.Wait()
		close(p.resultChan)
	}()

	// Sequencer: commit in order
	seqErr := p.sequencerLoop(ctx, total)
	if seqErr != nil {
		cancel()
	}
	prodErr := <-errChan
	for range p.resultChan {
		// drain so workers can exit
	}

	// A failing dispatcher closes the results early; its error is the cause.
	if prodErr != nil && (seqErr == nil || errors.Is(seqErr, errResultsClosed)) {
		return prodErr
	}
	return seqErr
}

// workerLoop encodes interval jobs.
func (p *Pipeline) workerLoop(ctx context.Context, workerID int) {
	defer p.wg.Done()

	for job := range p.workQueue {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.r.metrics.InFlightIntervals.Inc()
		result := p.processJob(workerID, job)
		p.r.metrics.InFlightIntervals.Dec()

		select {
		case p.resultChan <- result:
		case <-ctx.Done():
			return
		}
	}
}

// processJob encodes and validates one interval.
// Does NOT write to storage - that's the sequencer's job.
func (p *Pipeline) processJob(workerID int, job *IntervalJob) IntervalResult {
	log := logging.WorkerLogger(workerID).With(
		"run_id", p.r.runID,
		"interval", job.Start.UTC().Format(time.DateTime),
	)

	startTime := time.Now()
	output, err := tables.EncodeInterval(job.Start, job.Frame, p.r.parquetCfg)
	if err != nil {
		return IntervalResult{Job: job, Err: fmt.Errorf("encode: %w", err)}
	}
	elapsed := time.Since(startTime)

	validation := ValidateInterval(job.Start, p.r.period, p.r.nRecords, job.Frame, output)
	if !validation.Passed {
		return IntervalResult{Job: job, Err: fmt.Errorf("validation: %s", validation.Error())}
	}
	for _, w := range validation.Warnings {
		log.Debug("interval validation warning", "warning", w)
	}

	log.Debug("interval encoded",
		"duration_ms", elapsed.Milliseconds(),
		"rows", output.RowCount,
		"bytes", output.ByteSize(),
	)
	p.r.metrics.IntervalEncodeDuration.Observe(elapsed.Seconds())
	p.r.metrics.IntervalBytes.Observe(float64(output.ByteSize()))

	return IntervalResult{
		Job: job,
		Interval: &BuiltInterval{
			Job:            job,
			Ref:            storage.IntervalRef{Start: job.Start, Duration: p.r.interval},
			Output:         output,
			Validation:     validation,
			BuildID:        uuid.NewString(),
			BuiltAt:        time.Now().UTC(),
			EncodeDuration: elapsed,
		},
	}
}

// sequencerLoop commits intervals in order.
func (p *Pipeline) sequencerLoop(ctx context.Context, total int) error {
	if total == 0 {
		return nil
	}

	// Buffer for out-of-order results
	pending := make(map[int]*BuiltInterval)
	nextIndex := 0
	startTime := time.Now()

	for nextIndex < total {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case result, ok := <-p.resultChan:
			if !ok {
				return fmt.Errorf("%w, next=%d", errResultsClosed, nextIndex)
			}

			if result.Err != nil {
				p.r.metrics.IntervalsFailed.Inc()
				return fmt.Errorf("interval %s: %w",
					result.Job.Start.UTC().Format(time.DateTime), result.Err)
			}

			pending[result.Job.Index] = result.Interval
			p.r.metrics.SequencerPending.Set(float64(len(pending)))

			// Flush in-order as far as possible
			for {
				b, ok := pending[nextIndex]
				if !ok {
					break
				}

				if err := p.commitInterval(ctx, b); err != nil {
					p.r.metrics.IntervalsFailed.Inc()
					return fmt.Errorf("commit interval %s: %w",
						b.Job.Start.UTC().Format(time.DateTime), err)
				}

				delete(pending, nextIndex)
				nextIndex++
				p.r.metrics.SequencerPending.Set(float64(len(pending)))

				// Progress log
				if every := p.r.cfg.Run.ProgressEvery; nextIndex == total || (every > 0 && nextIndex%every == 0) {
					elapsed := time.Since(startTime)
					rate := float64(nextIndex) / elapsed.Seconds()
					p.r.metrics.IntervalsPerSecond.Set(rate)
					p.log.Info("sequencer progress",
						"committed", p.committed,
						"skipped", p.skipped,
						"done", nextIndex,
						"total", total,
						"rate_per_sec", fmt.Sprintf("%.2f", rate),
					)
				}
			}
		}
	}

	return nil
}

// commitInterval writes a built interval to storage, records its file
// metadata and advances the checkpoint.
func (p *Pipeline) commitInterval(ctx context.Context, b *BuiltInterval) error {
	r := p.r
	log := logging.IntervalLogger(r.runID, b.Job.Start, b.Job.Index)
	startTime := time.Now()

	// Step 1: Check storage existence
	if !r.cfg.Run.AllowOverwrite {
		exists, err := r.store.Exists(ctx, b.Ref)
		if err != nil {
			log.Warn("existence check failed", "error", err)
		} else if exists {
			log.Info("skipping interval (exists in storage)")
			r.metrics.IntervalsSkipped.Inc()
			p.skipped++
			p.saveCheckpoint(ctx, b)
			return nil
		}
	}

	// Step 2: Write parquet and manifest
	manifest := buildManifest(r.cfg, r.runID, b)
	if err := p.withRetry(ctx, "interval_write", log, func() error {
		return p.writeAtomic(ctx, r.store, b.Ref, b.Output.Parquet, manifest)
	}); err != nil {
		return err
	}

	// Step 3: Record consumed files
	if len(b.Job.Records) > 0 {
		if err := r.meta.RecordFiles(ctx, b.Job.Records); err != nil {
			r.metrics.IncMetadataErrors(r.cfg.Metadata.Backend)
			log.Warn("failed to record file metadata", "error", err)
		}
	}

	// Step 4: Extend the audit trail
	if err := r.audit.Emit(ctx, buildAuditEvent(r.runID, r.store.Prefix(), b)); err != nil {
		log.Warn("failed to emit audit event", "error", err)
	}

	// Step 5: Update checkpoint
	p.saveCheckpoint(ctx, b)

	p.committed++
	elapsed := time.Since(startTime)
	log.Debug("committed interval",
		"path", b.Ref.Path(r.store.Prefix()),
		"checksum", b.Output.Checksum,
		"duration_ms", elapsed.Milliseconds(),
	)

	r.metrics.IntervalCommitDuration.Observe(elapsed.Seconds())
	r.metrics.IntervalsCommitted.Inc()
	r.metrics.LastInterval.Set(float64(b.Job.Start.Unix()))
	for _, res := range b.Job.Sites {
		r.metrics.ObserveSite(siteStats(b.Job, res))
	}
	return nil
}

// saveCheckpoint records b as the last finished interval.
func (p *Pipeline) saveCheckpoint(ctx context.Context, b *BuiltInterval) {
	r := p.r
	var done int64 = 1
	if p.lastCP != nil {
		done = p.lastCP.IntervalsCommitted + 1
	} else if r.resumed != nil {
		done = r.resumed.IntervalsCommitted + 1
	}
	cp := &checkpoint.Checkpoint{
		Name:               r.cfg.Checkpoint.Name,
		RunID:              r.runID,
		LastInterval:       b.Job.Start,
		IntervalLength:     r.interval,
		IntervalsCommitted: done,
		LastChecksum:       b.Output.Checksum,
		UpdatedAt:          time.Now().UTC(),
	}
	if err := r.checkpoint.Save(ctx, cp); err != nil {
		p.log.Warn("failed to save checkpoint", "error", err)
		return
	}
	p.lastCP = cp
}

// withRetry runs fn until it succeeds or maxRetry retries are spent, backing
// off exponentially.
func (p *Pipeline) withRetry(ctx context.Context, op string, log *slog.Logger, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		p.r.metrics.IncStorageErrors(p.r.backend)
		if attempt >= p.maxRetry {
			return fmt.Errorf("%s failed after %d attempts: %w", op, attempt+1, err)
		}

		log.Warn(op+" failed, retrying", "attempt", attempt+1, "error", err)
		p.r.metrics.IncRetryAttempts(op)

		// Exponential backoff
		backoff := p.backoff * time.Duration(1<<attempt)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// writeAtomic writes parquet and manifest files atomically using temp files.
// If any step fails, all temp files are cleaned up.
func (p *Pipeline) writeAtomic(ctx context.Context, store storage.AtomicStore, ref storage.IntervalRef, parquetData []byte, manifest *storage.Manifest) error {
	var tempKeys []string

	// Write parquet to temp location
	tempParquet, err := store.WriteParquetTemp(ctx, ref, parquetData)
	if err != nil {
		return fmt.Errorf("write parquet temp: %w", err)
	}
	tempKeys = append(tempKeys, tempParquet)

	// Write manifest to temp location
	tempManifest, err := store.WriteManifestTemp(ctx, ref, manifest)
	if err != nil {
		store.Abort(ctx, tempKeys)
		return fmt.Errorf("write manifest temp: %w", err)
	}
	tempKeys = append(tempKeys, tempManifest)

	// Finalize moves all temp files to final locations and cleans up on failure
	if err := store.Finalize(ctx, ref, tempKeys); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}

	return nil
}
