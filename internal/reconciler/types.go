package reconciler

import (
	"time"

	"github.com/withObsrvr/obsrvr-fast-flux/internal/assemble"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/frame"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/merge"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/metadata"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/storage"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/tables"
)

// IntervalJob is one merged interval handed from the run loop to the
// pipeline. Index provides monotonic ordering for the sequencer.
type IntervalJob struct {
	Index   int
	Start   time.Time
	Frame   *frame.Frame
	Sites   []*assemble.Result // in site order
	Stats   merge.Stats
	Records []metadata.FileRecord
}

// BuiltInterval is the encoded artifact before publishing.
// Workers produce these; the sequencer consumes them.
type BuiltInterval struct {
	Job            *IntervalJob
	Ref            storage.IntervalRef
	Output         *tables.IntervalOutput
	Validation     ValidationResult
	BuildID        string    // uuid for traceability
	BuiltAt        time.Time // when the interval was encoded
	EncodeDuration time.Duration
}

// IntervalResult is returned from workers to the sequencer.
type IntervalResult struct {
	Job      *IntervalJob
	Interval *BuiltInterval
	Err      error
}

// Result summarizes a finished run.
type Result struct {
	RunID      string
	Intervals  int // grid points committed or skipped by this run
	Committed  int
	Skipped    int // already present in storage
	Masked     int // summary cells cleared by flag windows
	SummaryKey string
	ResumedAt  time.Time // first uncommitted interval, zero unless resumed from a checkpoint
}
