// Package merge joins each site's interval frame onto one dense timestamp axis.
package merge

import (
	"fmt"
	"math"
	"time"

	"github.com/withObsrvr/obsrvr-fast-flux/internal/frame"
)

// SiteFrame is one site's assembled frame for an interval.
type SiteFrame struct {
	Site  string
	Frame *frame.Frame
}

// SiteStats counts what happened to one site's rows during the join.
type SiteStats struct {
	Rows       int // rows in the site frame
	Matched    int // rows placed on the axis
	Duplicates int // rows dropped because an earlier row had the same timestamp
	OffAxis    int // rows outside the interval or between axis points
}

// Stats is the per-site outcome of one merge, in site order.
type Stats map[string]SiteStats

// Axis returns n timestamps spaced by period, starting one period after start.
func Axis(start time.Time, period time.Duration, n int) []time.Time {
	ts := make([]time.Time, n)
	for i := range ts {
		ts[i] = start.Add(time.Duration(i+1) * period)
	}
	return ts
}

// Merger joins site frames onto the dense axis of an interval.
type Merger struct {
	period   time.Duration
	nRecords int
	exclude  map[string]bool
}

// New creates a merger for intervals of nRecords samples spaced by period.
// Columns named in exclude (row identifiers) are left out of the output.
func New(period time.Duration, nRecords int, exclude []string) *Merger {
	ex := make(map[string]bool, len(exclude))
	for _, c := range exclude {
		ex[c] = true
	}
	return &Merger{period: period, nRecords: nRecords, exclude: ex}
}

// NRecords returns the fixed row count of every merged frame.
func (m *Merger) NRecords() int { return m.nRecords }

// Columns returns the output columns for the given per-site headers, in site
// order, without excluded columns.
func (m *Merger) Columns(headers ...[]string) []string {
	var out []string
	for _, h := range headers {
		for _, c := range h {
			if !m.exclude[c] {
				out = append(out, c)
			}
		}
	}
	return out
}

// Merge places every site's rows on the axis of the interval starting at
// start. The result always has NRecords rows. A row lands on the axis only
// when its timestamp equals an axis point; the first row for a timestamp
// wins and later ones are counted as duplicates. Axis points with no site
// row stay missing.
func (m *Merger) Merge(start time.Time, sites []SiteFrame) (*frame.Frame, Stats, error) {
	out, err := frame.New(nil, Axis(start, m.period, m.nRecords))
	if err != nil {
		return nil, nil, err
	}
	stats := make(Stats, len(sites))

	for _, sf := range sites {
		cols := m.Columns(sf.Frame.Columns())
		dst := make([][]float64, len(cols))
		for i, c := range cols {
			dst[i] = missing(m.nRecords)
			if err := out.AddColumn(c, dst[i]); err != nil {
				return nil, nil, fmt.Errorf("site %s: %w", sf.Site, err)
			}
		}
		src := make([][]float64, len(cols))
		for i, c := range cols {
			src[i], _ = sf.Frame.Column(c)
		}

		st := SiteStats{Rows: sf.Frame.Len()}
		filled := make([]bool, m.nRecords)
		for r, ts := range sf.Frame.Timestamps {
			slot, ok := m.slot(start, ts)
			if !ok {
				st.OffAxis++
				continue
			}
			if filled[slot] {
				st.Duplicates++
				continue
			}
			filled[slot] = true
			st.Matched++
			for i := range cols {
				dst[i][slot] = src[i][r]
			}
		}
		stats[sf.Site] = st
	}
	return out, stats, nil
}

// slot returns the axis index of ts.
func (m *Merger) slot(start time.Time, ts time.Time) (int, bool) {
	offset := ts.Sub(start)
	if offset <= 0 || offset%m.period != 0 {
		return 0, false
	}
	i := int(offset/m.period) - 1
	if i >= m.nRecords {
		return 0, false
	}
	return i, true
}

func missing(n int) []float64 {
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = math.NaN()
	}
	return vals
}
