// Package metadata records which raw files fed which output interval.
package metadata

import (
	"time"

	"github.com/withObsrvr/obsrvr-fast-flux/internal/source"
)

// FileRecord describes one raw file consumed for an output interval.
type FileRecord struct {
	Site           string
	OutputInterval time.Time
	OutputPath     string
	FileTimestamp  time.Time
	FilePath       string
	Header         source.Header
}

// Table is a site's in-memory metadata table. Rows are appended at the next
// free position; the capacity comes from the site's unique file timestamps.
type Table struct {
	Site    string
	records []FileRecord
}

// NewTable creates a table sized for capacity records.
func NewTable(site string, capacity int) *Table {
	return &Table{Site: site, records: make([]FileRecord, 0, capacity)}
}

// Append adds rec at the next free row and returns that row.
func (t *Table) Append(rec FileRecord) int {
	t.records = append(t.records, rec)
	return len(t.records) - 1
}

// Len returns the number of filled rows.
func (t *Table) Len() int { return len(t.records) }

// Cap returns the sized capacity.
func (t *Table) Cap() int { return cap(t.records) }

// Records returns the filled rows.
func (t *Table) Records() []FileRecord { return t.records }

// Since returns the rows appended at or after row.
func (t *Table) Since(row int) []FileRecord {
	if row >= len(t.records) {
		return nil
	}
	return t.records[row:]
}
