package reconciler

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/withObsrvr/obsrvr-fast-flux/internal/frame"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/tables"
)

// ValidationResult contains the outcome of interval validation.
type ValidationResult struct {
	Passed   bool
	Errors   []string
	Warnings []string
	RowCount int64
	ByteSize int64
}

// Error joins the validation errors.
func (v ValidationResult) Error() string {
	return strings.Join(v.Errors, "; ")
}

// ValidateInterval performs quality checks on an encoded interval before
// commit:
// - the merged frame has exactly nRecords rows on the interval axis
// - the parquet output is present, non-empty and matches its checksum
// - the output row count and columns match the frame
//
// An interval where no column carries a value passes with a warning.
func ValidateInterval(start time.Time, period time.Duration, nRecords int, f *frame.Frame, output *tables.IntervalOutput) ValidationResult {
	result := ValidationResult{
		Passed: true,
	}
	fail := func(format string, args ...any) {
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
		result.Passed = false
	}

	// Check 1: Row count invariant
	if f == nil {
		fail("interval has no frame")
	} else {
		if f.Len() != nRecords {
			fail("row count mismatch: have %d, expected %d", f.Len(), nRecords)
		}

		// Check 2: Axis bounds
		if f.Len() > 0 {
			first, last := f.Timestamps[0], f.Timestamps[f.Len()-1]
			if want := start.Add(period); !first.Equal(want) {
				fail("first timestamp %s doesn't match interval start+period %s", first.Format(time.RFC3339Nano), want.Format(time.RFC3339Nano))
			}
			if want := start.Add(time.Duration(nRecords) * period); !last.Equal(want) {
				fail("last timestamp %s doesn't match interval end %s", last.Format(time.RFC3339Nano), want.Format(time.RFC3339Nano))
			}
		}

		if f.Width() > 0 && allMissing(f) {
			result.Warnings = append(result.Warnings, "interval has no data in any column")
		}
	}

	if output == nil {
		fail("no parquet output provided")
		return result
	}

	// Check 3: Non-empty parquet
	if len(output.Parquet) == 0 {
		fail("empty parquet data")
	}
	result.ByteSize = output.ByteSize()
	result.RowCount = output.RowCount

	// Check 4: Output row count
	if output.RowCount != int64(nRecords) {
		fail("parquet row count %d, expected %d", output.RowCount, nRecords)
	}

	// Check 5: Checksum present and correct
	switch {
	case output.Checksum == "":
		fail("missing checksum")
	case !strings.HasPrefix(output.Checksum, "sha256:"):
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("checksum may be in non-standard format: %s",
				output.Checksum[:min(20, len(output.Checksum))]))
	case len(output.Parquet) > 0 && !tables.VerifyChecksum(output.Parquet, output.Checksum):
		fail("checksum does not match parquet data")
	}

	// Check 6: Columns
	if f != nil && !slices.Equal(f.Columns(), output.Columns) {
		fail("parquet columns %v don't match frame columns %v", output.Columns, f.Columns())
	}

	return result
}

func allMissing(f *frame.Frame) bool {
	for _, name := range f.Columns() {
		vals, _ := f.Column(name)
		for _, v := range vals {
			if !frame.IsMissing(v) {
				return false
			}
		}
	}
	return true
}
