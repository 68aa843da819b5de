// Package summary keeps per-interval, per-site, per-variable descriptive
// statistics for a run and writes them out as one table.
package summary

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrCellWritten     = errors.New("summary cell already written")
	ErrUnknownSite     = errors.New("unknown summary site")
	ErrUnknownVariable = errors.New("unknown summary variable")
	ErrIntervalRange   = errors.New("interval index out of range")
)

// Stat identifies one of the five statistics stored per cell.
type Stat int

const (
	Avg Stat = iota
	Max
	Min
	Std
	Npc
)

// NumStats is the number of statistics per cell.
const NumStats = 5

// Stats lists the statistics in storage order.
var Stats = [NumStats]Stat{Avg, Max, Min, Std, Npc}

func (s Stat) String() string {
	switch s {
	case Avg:
		return "Avg"
	case Max:
		return "Max"
	case Min:
		return "Min"
	case Std:
		return "Std"
	case Npc:
		return "Npc"
	default:
		return fmt.Sprintf("Stat(%d)", int(s))
	}
}

// Values holds one cell's statistics in Stats order.
type Values [NumStats]float64

// Accumulator is a dense [interval][stat][site][variable] store. Every value
// starts as NaN and each (interval, site, variable) cell is written once.
type Accumulator struct {
	intervals []time.Time
	sites     []string
	variables []string
	siteIdx   map[string]int
	varIdx    map[string]int
	data      []float64
	written   []bool
}

// NewAccumulator allocates an accumulator for the given interval starts,
// sites and variables.
func NewAccumulator(intervals []time.Time, sites, variables []string) *Accumulator {
	a := &Accumulator{
		intervals: append([]time.Time(nil), intervals...),
		sites:     append([]string(nil), sites...),
		variables: append([]string(nil), variables...),
		siteIdx:   make(map[string]int, len(sites)),
		varIdx:    make(map[string]int, len(variables)),
	}
	for i, s := range sites {
		a.siteIdx[s] = i
	}
	for i, v := range variables {
		a.varIdx[v] = i
	}
	a.data = make([]float64, len(intervals)*NumStats*len(sites)*len(variables))
	for i := range a.data {
		a.data[i] = math.NaN()
	}
	a.written = make([]bool, len(intervals)*len(sites)*len(variables))
	return a
}

func (a *Accumulator) Intervals() []time.Time { return a.intervals }
func (a *Accumulator) Sites() []string        { return a.sites }
func (a *Accumulator) Variables() []string    { return a.variables }

func (a *Accumulator) offset(i int, st Stat, s, v int) int {
	return ((i*NumStats+int(st))*len(a.sites)+s)*len(a.variables) + v
}

func (a *Accumulator) cell(i int, site, variable string) (int, int, error) {
	if i < 0 || i >= len(a.intervals) {
		return 0, 0, fmt.Errorf("%w: %d of %d", ErrIntervalRange, i, len(a.intervals))
	}
	s, ok := a.siteIdx[site]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownSite, site)
	}
	v, ok := a.varIdx[variable]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownVariable, variable)
	}
	return s, v, nil
}

// Set stores the statistics of one (interval, site, variable) cell.
func (a *Accumulator) Set(i int, site, variable string, vals Values) error {
	s, v, err := a.cell(i, site, variable)
	if err != nil {
		return err
	}
	w := (i*len(a.sites)+s)*len(a.variables) + v
	if a.written[w] {
		return fmt.Errorf("%w: interval %d site %s variable %s", ErrCellWritten, i, site, variable)
	}
	a.written[w] = true
	for _, st := range Stats {
		a.data[a.offset(i, st, s, v)] = vals[st]
	}
	return nil
}

// Get returns one statistic. Unknown coordinates yield NaN.
func (a *Accumulator) Get(i int, st Stat, site, variable string) float64 {
	s, v, err := a.cell(i, site, variable)
	if err != nil || st < 0 || int(st) >= NumStats {
		return math.NaN()
	}
	return a.data[a.offset(i, st, s, v)]
}

// Written reports whether the cell has been set.
func (a *Accumulator) Written(i int, site, variable string) bool {
	s, v, err := a.cell(i, site, variable)
	if err != nil {
		return false
	}
	return a.written[(i*len(a.sites)+s)*len(a.variables)+v]
}

// mask sets every statistic of the cell to NaN and reports whether any
// value changed.
func (a *Accumulator) mask(i, s, v int) bool {
	changed := false
	for _, st := range Stats {
		o := a.offset(i, st, s, v)
		if !math.IsNaN(a.data[o]) {
			a.data[o] = math.NaN()
			changed = true
		}
	}
	return changed
}

// Layer is the (interval, stat, site) view of one variable.
type Layer struct {
	Variable  string
	Intervals []time.Time
	Sites     []string
	// Values[i][stat][site]
	Values [][NumStats][]float64
}

// Layer copies out the view of one variable.
func (a *Accumulator) Layer(variable string) (*Layer, error) {
	v, ok := a.varIdx[variable]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVariable, variable)
	}
	l := &Layer{
		Variable:  variable,
		Intervals: a.intervals,
		Sites:     a.sites,
		Values:    make([][NumStats][]float64, len(a.intervals)),
	}
	for i := range a.intervals {
		for _, st := range Stats {
			row := make([]float64, len(a.sites))
			for s := range a.sites {
				row[s] = a.data[a.offset(i, st, s, v)]
			}
			l.Values[i][st] = row
		}
	}
	return l, nil
}
