package summary

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/xuri/excelize/v2"
)

var ErrUnknownFormat = errors.New("unknown summary format")

// Encoder renders an accumulator as a single output object.
type Encoder interface {
	Encode(acc *Accumulator) ([]byte, error)
	// FileName is the object name under the output prefix.
	FileName() string
}

// NewEncoder returns the encoder for format ("parquet" or "xlsx").
func NewEncoder(format string) (Encoder, error) {
	switch format {
	case "", "parquet":
		return ParquetWriter{}, nil
	case "xlsx":
		return XLSXWriter{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Row is one value of the long summary table.
type Row struct {
	Timestamp time.Time `parquet:"timestamp,timestamp(microsecond)"`
	Stat      string    `parquet:"stat,dict"`
	Site      string    `parquet:"site,dict"`
	Variable  string    `parquet:"variable,dict"`
	Value     float64   `parquet:"value"`
}

// Rows flattens the accumulator in (interval, stat, site, variable) order.
func (a *Accumulator) Rows() []Row {
	rows := make([]Row, 0, len(a.data))
	for i, t := range a.intervals {
		for _, st := range Stats {
			for s, site := range a.sites {
				for v, variable := range a.variables {
					rows = append(rows, Row{
						Timestamp: t,
						Stat:      st.String(),
						Site:      site,
						Variable:  variable,
						Value:     a.data[a.offset(i, st, s, v)],
					})
				}
			}
		}
	}
	return rows
}

// ParquetWriter writes the accumulator as a long table
// (timestamp, stat, site, variable, value).
type ParquetWriter struct{}

func (ParquetWriter) FileName() string { return "summary.parquet" }

func (ParquetWriter) Encode(acc *Accumulator) ([]byte, error) {
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[Row](&buf, parquet.Compression(&parquet.Zstd))
	if _, err := w.Write(acc.Rows()); err != nil {
		return nil, fmt.Errorf("write summary rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close summary writer: %w", err)
	}
	return buf.Bytes(), nil
}

// XLSXWriter writes one sheet per variable. Each sheet has a TIMESTAMP and
// STAT column followed by one column per site. Missing values are left blank.
type XLSXWriter struct{}

func (XLSXWriter) FileName() string { return "summary.xlsx" }

func (XLSXWriter) Encode(acc *Accumulator) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const defaultSheet = "Sheet1"
	for _, variable := range acc.Variables() {
		layer, err := acc.Layer(variable)
		if err != nil {
			return nil, err
		}
		if _, err := f.NewSheet(variable); err != nil {
			return nil, fmt.Errorf("sheet %s: %w", variable, err)
		}
		header := []any{"TIMESTAMP", "STAT"}
		for _, s := range layer.Sites {
			header = append(header, s)
		}
		if err := f.SetSheetRow(variable, "A1", &header); err != nil {
			return nil, err
		}

		r := 2
		for i, t := range layer.Intervals {
			for _, st := range Stats {
				row := []any{t.Format(time.DateTime), st.String()}
				for _, v := range layer.Values[i][st] {
					if math.IsNaN(v) {
						row = append(row, nil)
					} else {
						row = append(row, v)
					}
				}
				cell, err := excelize.CoordinatesToCellName(1, r)
				if err != nil {
					return nil, err
				}
				if err := f.SetSheetRow(variable, cell, &row); err != nil {
					return nil, err
				}
				r++
			}
		}
	}
	if len(acc.Variables()) > 0 {
		if err := f.DeleteSheet(defaultSheet); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
