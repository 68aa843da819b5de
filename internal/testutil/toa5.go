// Package testutil writes raw TOA5 fixtures for tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Header returns a 12-field first line for station.
func Header(station string) []string {
	return []string{
		"TOA5", station, "CR3000", "4321", "CR3000.Std.32", "CPU:fast_flux.CR3",
		"51234", "ts_data", "CardConvert", "2.1", "CARD001.dat", "2020-01-02 03:04:05",
	}
}

// Row is one data row: the TIMESTAMP and the values in column order.
type Row struct {
	TS     time.Time
	Values []string
}

// TOA5 renders a raw file with the given columns (TIMESTAMP is prepended).
func TOA5(station string, columns []string, rows []Row) string {
	var b strings.Builder
	writeQuoted(&b, Header(station))
	writeQuoted(&b, append([]string{"TIMESTAMP"}, columns...))
	units := make([]string, len(columns)+1)
	units[0] = "TS"
	writeQuoted(&b, units)
	proc := make([]string, len(columns)+1)
	for i := range proc {
		proc[i] = "Smp"
	}
	writeQuoted(&b, proc)

	for _, r := range rows {
		b.WriteString(`"` + r.TS.Format("2006-01-02 15:04:05.000000") + `"`)
		for _, v := range r.Values {
			b.WriteString("," + v)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Rows builds n rows starting one period after start, where values(i) returns
// the cells of row i.
func Rows(start time.Time, period time.Duration, n int, values func(i int) []string) []Row {
	out := make([]Row, n)
	for i := range out {
		out[i] = Row{TS: start.Add(time.Duration(i+1) * period), Values: values(i)}
	}
	return out
}

// WriteFile writes content under dir and returns its path.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// FileName returns a raw file name for station at ts.
func FileName(station string, rateHz int, ts time.Time) string {
	return fmt.Sprintf("TOA5_%s.ts_data_%dHz_%s.dat", station, rateHz, ts.Format("2006_01_02_1504"))
}

func writeQuoted(b *strings.Builder, fields []string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`"` + f + `"`)
	}
	b.WriteString("\n")
}
