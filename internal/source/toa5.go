package source

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/withObsrvr/obsrvr-fast-flux/internal/frame"
)

// A raw file's first line carries MinHeaderFields fields of logger
// environment (format, station, model, serial, OS, program, signature, table)
// and, for converted files, up to four more from the converter (name,
// version, source file, conversion time).
const (
	MinHeaderFields = 8
	HeaderFields    = 12
)

// Header is the parsed first line of a raw file, padded with empty fields
// when the converter ones are missing.
type Header [HeaderFields]string

func (h Header) StationName() string  { return h[1] }
func (h Header) LoggerModel() string  { return h[2] }
func (h Header) LoggerSerial() string { return h[3] }
func (h Header) TableName() string    { return h[7] }

// TimestampColumn is the row-key column of every raw file.
const TimestampColumn = "TIMESTAMP"

// TimestampLayout parses TIMESTAMP values; fractional seconds are optional.
const TimestampLayout = "2006-01-02 15:04:05"

var (
	// ErrHeaderFieldCount is returned when the first line has fewer than 8 or
	// more than 12 fields.
	ErrHeaderFieldCount = errors.New("raw file header must have 8 to 12 fields")

	// ErrNoTimestampColumn is returned when the column header lacks TIMESTAMP.
	ErrNoTimestampColumn = errors.New("raw file has no TIMESTAMP column")
)

// ParseError reports a malformed raw file.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s line %d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// nullTokens are read as missing values.
var nullTokens = map[string]bool{
	"":     true,
	"NAN":  true,
	"NaN":  true,
	"nan":  true,
	"INF":  true,
	"-INF": true,
	"+INF": true,
	"NULL": true,
}

// nullValues are numeric sentinels logged in place of a reading.
var nullValues = []float64{-4400906, -9999}

// ParseValue converts one raw cell to a float64, mapping null tokens and
// non-numeric text to the missing sentinel.
func ParseValue(s string) float64 {
	s = strings.TrimSpace(s)
	if nullTokens[s] {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN()
	}
	for _, n := range nullValues {
		if v == n {
			return math.NaN()
		}
	}
	return v
}

// ReadTOA5 reads a TOA5 raw file. Line 1 is the environment header, line 2 the
// column names, lines 3 and 4 the units and processing rows. TIMESTAMP becomes
// the frame's row key; every other column is read as numbers.
func ReadTOA5(r io.Reader, name string) (*frame.Frame, Header, error) {
	var header Header

	cr := csv.NewReader(bufio.NewReaderSize(r, 1<<16))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	first, err := cr.Read()
	if err != nil {
		return nil, header, &ParseError{Path: name, Line: 1, Err: err}
	}
	if len(first) < MinHeaderFields || len(first) > HeaderFields {
		return nil, header, &ParseError{Path: name, Line: 1,
			Err: fmt.Errorf("%w, got %d", ErrHeaderFieldCount, len(first))}
	}
	copy(header[:], first)

	names, err := cr.Read()
	if err != nil {
		return nil, header, &ParseError{Path: name, Line: 2, Err: err}
	}
	columns := make([]string, len(names))
	copy(columns, names)

	tsCol := -1
	for i, c := range columns {
		if c == TimestampColumn {
			tsCol = i
			break
		}
	}
	if tsCol < 0 {
		return nil, header, &ParseError{Path: name, Line: 2, Err: ErrNoTimestampColumn}
	}

	for line := 3; line <= 4; line++ {
		if _, err := cr.Read(); err != nil {
			return nil, header, &ParseError{Path: name, Line: line, Err: err}
		}
	}

	var timestamps []time.Time
	values := make([][]float64, len(columns))
	line := 4
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, header, &ParseError{Path: name, Line: line, Err: err}
		}
		if len(rec) != len(columns) {
			return nil, header, &ParseError{Path: name, Line: line,
				Err: fmt.Errorf("expected %d fields, got %d", len(columns), len(rec))}
		}

		ts, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(rec[tsCol]), time.UTC)
		if err != nil {
			return nil, header, &ParseError{Path: name, Line: line, Err: err}
		}
		timestamps = append(timestamps, ts)

		for i, cell := range rec {
			if i == tsCol {
				continue
			}
			values[i] = append(values[i], ParseValue(cell))
		}
	}

	f, err := frame.New(nil, timestamps)
	if err != nil {
		return nil, header, err
	}
	for i, c := range columns {
		if i == tsCol {
			continue
		}
		vals := values[i]
		if vals == nil {
			vals = []float64{}
		}
		if err := f.AddColumn(c, vals); err != nil {
			return nil, header, &ParseError{Path: name, Line: 2, Err: err}
		}
	}
	return f, header, nil
}
