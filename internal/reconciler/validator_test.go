package reconciler

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/withObsrvr/obsrvr-fast-flux/internal/frame"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/merge"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/tables"
)

var vStart = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func validFrame(t *testing.T, n int, value float64) *frame.Frame {
	t.Helper()
	f, err := frame.New(nil, merge.Axis(vStart, period, n))
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = value
	}
	if err := f.AddColumn("Ux_SF4", vals); err != nil {
		t.Fatalf("add column: %v", err)
	}
	return f
}

func encode(t *testing.T, f *frame.Frame) *tables.IntervalOutput {
	t.Helper()
	out, err := tables.EncodeInterval(vStart, f, tables.DefaultParquetConfig())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return out
}

func hasError(result ValidationResult, substr string) bool {
	for _, e := range result.Errors {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func TestValidateInterval_Valid(t *testing.T) {
	f := validFrame(t, 100, 1.5)
	result := ValidateInterval(vStart, period, 100, f, encode(t, f))

	if !result.Passed {
		t.Errorf("Valid interval should pass. Errors: %v", result.Errors)
	}
	if len(result.Warnings) > 0 {
		t.Errorf("No warnings expected, got: %v", result.Warnings)
	}
	if result.RowCount != 100 {
		t.Errorf("RowCount = %d, want 100", result.RowCount)
	}
	if result.ByteSize == 0 {
		t.Error("ByteSize should be set")
	}
}

func TestValidateInterval_RowCountMismatch(t *testing.T) {
	f := validFrame(t, 99, 1.5)
	result := ValidateInterval(vStart, period, 100, f, encode(t, f))

	if result.Passed {
		t.Error("Interval with wrong row count should fail")
	}
	if !hasError(result, "row count mismatch: have 99, expected 100") {
		t.Errorf("Expected row count error, got: %v", result.Errors)
	}
	if !hasError(result, "parquet row count 99") {
		t.Errorf("Expected parquet row count error, got: %v", result.Errors)
	}
}

func TestValidateInterval_ShiftedAxis(t *testing.T) {
	f := validFrame(t, 100, 1.5)
	result := ValidateInterval(vStart.Add(time.Minute), period, 100, f, encode(t, f))

	if result.Passed {
		t.Error("Interval on the wrong axis should fail")
	}
	if !hasError(result, "first timestamp") || !hasError(result, "last timestamp") {
		t.Errorf("Expected axis errors, got: %v", result.Errors)
	}
}

func TestValidateInterval_NilOutput(t *testing.T) {
	result := ValidateInterval(vStart, period, 100, validFrame(t, 100, 1.5), nil)

	if result.Passed {
		t.Error("Interval with nil output should fail")
	}
}

func TestValidateInterval_EmptyParquet(t *testing.T) {
	f := validFrame(t, 10, 1.5)
	output := &tables.IntervalOutput{
		Start:    vStart,
		Columns:  f.Columns(),
		RowCount: 10,
		Parquet:  []byte{}, // Empty!
		Checksum: tables.ComputeChecksum(nil),
	}

	result := ValidateInterval(vStart, period, 10, f, output)

	if result.Passed {
		t.Error("Interval with empty parquet should fail")
	}
}

func TestValidateInterval_ChecksumMismatch(t *testing.T) {
	f := validFrame(t, 10, 1.5)
	output := encode(t, f)
	output.Checksum = tables.ComputeChecksum([]byte("other"))

	result := ValidateInterval(vStart, period, 10, f, output)

	if result.Passed {
		t.Error("Interval with a stale checksum should fail")
	}
	if !hasError(result, "checksum does not match") {
		t.Errorf("Expected checksum error, got: %v", result.Errors)
	}
}

func TestValidateInterval_MissingChecksum(t *testing.T) {
	f := validFrame(t, 10, 1.5)
	output := encode(t, f)
	output.Checksum = ""

	result := ValidateInterval(vStart, period, 10, f, output)

	if !hasError(result, "missing checksum") {
		t.Errorf("Expected missing checksum error, got: %v", result.Errors)
	}
}

func TestValidateInterval_WarningsForNonStandardChecksum(t *testing.T) {
	f := validFrame(t, 10, 1.5)
	output := encode(t, f)
	output.Checksum = "md5:abc123" // Non-standard format

	result := ValidateInterval(vStart, period, 10, f, output)

	// Should pass but with warning
	if !result.Passed {
		t.Errorf("Should pass with warning, got errors: %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Error("Expected warning about non-standard checksum format")
	}
}

func TestValidateInterval_WarningForEmptyInterval(t *testing.T) {
	f := validFrame(t, 10, math.NaN())
	result := ValidateInterval(vStart, period, 10, f, encode(t, f))

	if !result.Passed {
		t.Errorf("All-missing interval should pass, got errors: %v", result.Errors)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("Expected one warning, got: %v", result.Warnings)
	}
}

func TestValidateInterval_ColumnMismatch(t *testing.T) {
	f := validFrame(t, 10, 1.5)
	output := encode(t, f)
	output.Columns = []string{"CO2_SF4"}

	result := ValidateInterval(vStart, period, 10, f, output)

	if !hasError(result, "don't match frame columns") {
		t.Errorf("Expected column error, got: %v", result.Errors)
	}
}
