package tables

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/withObsrvr/obsrvr-fast-flux/internal/frame"
)

// Key/value metadata written into every interval file.
const (
	MetaIntervalStart = "fast_flux.interval_start"
	MetaSchemaVersion = "fast_flux.schema_version"
	MetaProducer      = "fast_flux.producer"
)

// rowBatch bounds the rows buffered per WriteRows call.
const rowBatch = 1024

// IntervalOutput is one encoded interval table.
type IntervalOutput struct {
	Start    time.Time
	Columns  []string
	RowCount int64
	Parquet  []byte
	Checksum string
}

// ByteSize returns the encoded size.
func (o *IntervalOutput) ByteSize() int64 { return int64(len(o.Parquet)) }

// EncodeInterval writes the merged frame of the interval starting at start
// as a parquet file. Values are narrowed to float32.
func EncodeInterval(start time.Time, f *frame.Frame, cfg ParquetConfig) (*IntervalOutput, error) {
	columns := f.Columns()
	schema, err := IntervalSchema(columns)
	if err != nil {
		return nil, err
	}
	codec, err := cfg.codec()
	if err != nil {
		return nil, err
	}

	// Group fields are ordered by name in the schema, so leaf positions
	// have to be looked up rather than assumed.
	leaf := make(map[string]int, len(columns)+1)
	for i, path := range schema.Columns() {
		leaf[path[0]] = i
	}
	tsIdx := leaf[TimestampColumn]
	src := make([][]float64, len(columns))
	idx := make([]int, len(columns))
	for i, c := range columns {
		src[i], _ = f.Column(c)
		idx[i] = leaf[c]
	}

	var buf bytes.Buffer
	w := parquet.NewWriter(&buf, schema,
		parquet.Compression(codec),
		parquet.KeyValueMetadata(MetaIntervalStart, start.UTC().Format(time.RFC3339)),
		parquet.KeyValueMetadata(MetaSchemaVersion, SchemaVersion),
		parquet.KeyValueMetadata(MetaProducer, cfg.Producer),
	)

	rows := make([]parquet.Row, 0, rowBatch)
	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		if _, err := w.WriteRows(rows); err != nil {
			return err
		}
		rows = rows[:0]
		return nil
	}

	for r, ts := range f.Timestamps {
		row := make(parquet.Row, len(columns)+1)
		row[tsIdx] = parquet.Int64Value(ts.UnixMicro()).Level(0, 0, tsIdx)
		for i := range columns {
			row[idx[i]] = parquet.FloatValue(narrow(src[i][r])).Level(0, 0, idx[i])
		}
		rows = append(rows, row)
		if len(rows) == rowBatch {
			if err := flush(); err != nil {
				return nil, fmt.Errorf("write rows: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		return nil, fmt.Errorf("write rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}

	data := buf.Bytes()
	return &IntervalOutput{
		Start:    start,
		Columns:  columns,
		RowCount: int64(f.Len()),
		Parquet:  data,
		Checksum: ComputeChecksum(data),
	}, nil
}

func narrow(v float64) float32 {
	if math.IsNaN(v) {
		return float32(math.NaN())
	}
	return float32(v)
}
