// Package frame holds the column-major numeric table that flows between the
// assembler, the harmonizer, the merger and the summary aggregator.
//
// Every value is a float64 and NaN is the missing-value sentinel. Rows are
// keyed by the Timestamps slice, which always has the same length as every
// column.
package frame

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrDuplicateColumn is returned when a column name would appear twice.
	ErrDuplicateColumn = errors.New("duplicate column")

	// ErrLengthMismatch is returned when a column does not match the row count.
	ErrLengthMismatch = errors.New("column length does not match row count")

	// ErrColumnMismatch is returned when frames with different headers are concatenated.
	ErrColumnMismatch = errors.New("frames have different columns")
)

// Missing returns the missing-value sentinel.
func Missing() float64 { return math.NaN() }

// IsMissing reports whether v is the missing-value sentinel.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// Frame is an ordered set of named float64 columns sharing one timestamp key.
type Frame struct {
	Timestamps []time.Time

	columns []string
	index   map[string]int
	values  [][]float64
}

// New creates a frame with the given columns and rows, every cell missing.
func New(columns []string, timestamps []time.Time) (*Frame, error) {
	f := &Frame{
		Timestamps: timestamps,
		index:      make(map[string]int, len(columns)),
	}
	for _, c := range columns {
		if err := f.AddColumn(c, missingColumn(len(timestamps))); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// PlaceholderStep separates the two placeholder rows whatever the
// acquisition rate.
const PlaceholderStep = 100 * time.Millisecond

// Placeholder builds the two-row, all-missing frame used when an interval has
// no usable data. The first row sits one acquisition period after start and
// the second PlaceholderStep later. At rates other than 10 Hz the second row
// is off the interval axis and the merger drops it.
func Placeholder(columns []string, start time.Time, period time.Duration) *Frame {
	first := start.Add(period)
	ts := []time.Time{first, first.Add(PlaceholderStep)}
	f, err := New(columns, ts)
	if err != nil {
		// Canonical headers are validated unique at config load.
		panic(fmt.Sprintf("frame: placeholder: %v", err))
	}
	return f
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Timestamps) }

// Width returns the number of columns.
func (f *Frame) Width() int { return len(f.columns) }

// Columns returns a copy of the column names in order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.columns))
	copy(out, f.columns)
	return out
}

// Has reports whether the frame has the named column.
func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Column returns the backing slice of the named column.
func (f *Frame) Column(name string) ([]float64, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.values[i], true
}

// At returns the value of the named column at row.
func (f *Frame) At(name string, row int) float64 {
	i, ok := f.index[name]
	if !ok {
		return math.NaN()
	}
	return f.values[i][row]
}

// AddColumn appends a column. The values slice is retained, not copied.
func (f *Frame) AddColumn(name string, values []float64) error {
	if _, ok := f.index[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateColumn, name)
	}
	if len(values) != len(f.Timestamps) {
		return fmt.Errorf("%w: %s has %d values, frame has %d rows",
			ErrLengthMismatch, name, len(values), len(f.Timestamps))
	}
	if f.index == nil {
		f.index = make(map[string]int)
	}
	f.index[name] = len(f.columns)
	f.columns = append(f.columns, name)
	f.values = append(f.values, values)
	return nil
}

// AddMissing appends an all-missing column unless it already exists.
func (f *Frame) AddMissing(name string) {
	if f.Has(name) {
		return
	}
	// Cannot fail: name is new and the length matches.
	_ = f.AddColumn(name, missingColumn(f.Len()))
}

// Rename renames columns in place. Every target is resolved against the
// original names in one pass, so chains (a->b, b->c) and swaps work. Entries
// whose source column is absent are ignored. A rename that leaves two columns
// with one name is an error and leaves f unchanged.
func (f *Frame) Rename(mapping map[string]string) error {
	renamed := make([]string, len(f.columns))
	index := make(map[string]int, len(f.columns))
	for i, c := range f.columns {
		to, ok := mapping[c]
		if !ok {
			to = c
		}
		if j, exists := index[to]; exists {
			return fmt.Errorf("%w: rename %s -> %s collides with %s", ErrDuplicateColumn, c, to, f.columns[j])
		}
		index[to] = i
		renamed[i] = to
	}
	f.columns = renamed
	f.index = index
	return nil
}

// Clone returns a frame with its own header that shares column data with f.
// Renaming or adding columns on the clone leaves f unchanged.
func (f *Frame) Clone() *Frame {
	out := &Frame{
		Timestamps: f.Timestamps,
		columns:    make([]string, len(f.columns)),
		index:      make(map[string]int, len(f.index)),
		values:     make([][]float64, len(f.values)),
	}
	copy(out.columns, f.columns)
	copy(out.values, f.values)
	for k, v := range f.index {
		out.index[k] = v
	}
	return out
}

// Reindex returns a new frame with exactly the given columns in the given
// order. Columns not in f are filled with the missing sentinel and columns of
// f not listed are dropped. Column data is copied.
func (f *Frame) Reindex(columns []string) (*Frame, error) {
	ts := make([]time.Time, len(f.Timestamps))
	copy(ts, f.Timestamps)

	out := &Frame{Timestamps: ts, index: make(map[string]int, len(columns))}
	for _, c := range columns {
		var vals []float64
		if src, ok := f.Column(c); ok {
			vals = make([]float64, len(src))
			copy(vals, src)
		} else {
			vals = missingColumn(len(ts))
		}
		if err := out.AddColumn(c, vals); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Concat stacks frames vertically. All frames must share the same header.
func Concat(frames ...*Frame) (*Frame, error) {
	if len(frames) == 0 {
		return &Frame{index: map[string]int{}}, nil
	}
	head := frames[0].columns
	total := 0
	for i, f := range frames {
		if !sameColumns(head, f.columns) {
			return nil, fmt.Errorf("%w: frame %d", ErrColumnMismatch, i)
		}
		total += f.Len()
	}

	ts := make([]time.Time, 0, total)
	for _, f := range frames {
		ts = append(ts, f.Timestamps...)
	}
	out := &Frame{Timestamps: ts, index: make(map[string]int, len(head))}
	for ci, c := range head {
		vals := make([]float64, 0, total)
		for _, f := range frames {
			vals = append(vals, f.values[ci]...)
		}
		if err := out.AddColumn(c, vals); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func missingColumn(n int) []float64 {
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = math.NaN()
	}
	return vals
}
