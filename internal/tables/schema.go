package tables

import (
	"errors"
	"fmt"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
)

// TimestampColumn is the row key of every interval table, stored as int64
// microseconds since the Unix epoch (UTC).
const TimestampColumn = "TIMESTAMP"

// SchemaVersion returns the version of the interval table layout.
// Increment this when making breaking changes.
const SchemaVersion = "1.0.0"

var (
	ErrUnknownCompression = errors.New("unknown parquet compression")
	ErrReservedColumn     = errors.New("column name is reserved")
)

// ParquetConfig configures parquet output generation.
type ParquetConfig struct {
	Compression string // "zstd" | "snappy" | "none"
	Producer    string // written to the key/value metadata
}

// DefaultParquetConfig returns sensible defaults.
func DefaultParquetConfig() ParquetConfig {
	return ParquetConfig{
		Compression: "zstd",
		Producer:    "fast-flux",
	}
}

func (c ParquetConfig) codec() (compress.Codec, error) {
	switch c.Compression {
	case "", "zstd":
		return &parquet.Zstd, nil
	case "snappy":
		return &parquet.Snappy, nil
	case "none":
		return &parquet.Uncompressed, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, c.Compression)
	}
}

// IntervalSchema returns the schema of an interval table: TIMESTAMP plus one
// required FLOAT column per value column. Missing values are stored as NaN.
func IntervalSchema(columns []string) (*parquet.Schema, error) {
	g := parquet.Group{TimestampColumn: parquet.Timestamp(parquet.Microsecond)}
	for _, c := range columns {
		if c == TimestampColumn {
			return nil, fmt.Errorf("%w: %s", ErrReservedColumn, c)
		}
		if _, dup := g[c]; dup {
			return nil, fmt.Errorf("duplicate column %s", c)
		}
		g[c] = parquet.Leaf(parquet.FloatType)
	}
	return parquet.NewSchema("fast_interval", g), nil
}
