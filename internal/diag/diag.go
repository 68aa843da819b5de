// Package diag turns packed instrument diagnostic words into 0/1 quality flags.
package diag

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/withObsrvr/obsrvr-fast-flux/internal/frame"
)

var (
	// ErrUnknownFamily is returned for an instrument family with no predicate.
	ErrUnknownFamily = errors.New("unknown instrument family")

	// ErrInvalidInstrument is returned for an incomplete registry entry.
	ErrInvalidInstrument = errors.New("invalid instrument")
)

// Family identifies an instrument model with fixed diagnostic bit semantics.
type Family string

const (
	// CSAT3 sonic: the high nibble (bits 12-15) holds the error flags.
	CSAT3 Family = "CSAT3"
	// CSAT3B sonic: only the bits in CSAT3BMask mark bad samples.
	CSAT3B Family = "CSAT3B"
	// SON is the sonic head of an integrated sonic/gas analyzer (IRGASON, EC150).
	SON Family = "SON"
	// IRGA is the gas analyzer head of an integrated instrument.
	IRGA Family = "IRGA"
	// Open- and closed-path gas analyzers reporting a plain error word.
	LI7500 Family = "LI7500"
	LI7700 Family = "LI7700"
	EC155  Family = "EC155"
)

// Predicate reports whether a raw diagnostic word marks the sample as bad.
type Predicate func(word uint32) bool

// HighBits flags words with any bit at or above from set.
func HighBits(from uint) Predicate {
	return func(w uint32) bool { return w>>from != 0 }
}

// AnyOf flags words sharing any bit with mask.
func AnyOf(mask uint32) Predicate {
	return func(w uint32) bool { return w&mask != 0 }
}

// Nonzero flags any nonzero word.
func Nonzero(w uint32) bool { return w != 0 }

// Rule is the fixed decoding rule of one family.
type Rule struct {
	Family Family
	Flag   Predicate
}

// CSAT3BMask selects bits 0-4, 6 and 8 of the CSAT3B diagnostic word.
const CSAT3BMask uint32 = 0b101011111

var rules = map[Family]Rule{
	CSAT3:  {Family: CSAT3, Flag: HighBits(12)},
	CSAT3B: {Family: CSAT3B, Flag: AnyOf(CSAT3BMask)},
	SON:    {Family: SON, Flag: Nonzero},
	IRGA:   {Family: IRGA, Flag: Nonzero},
	LI7500: {Family: LI7500, Flag: Nonzero},
	LI7700: {Family: LI7700, Flag: Nonzero},
	EC155:  {Family: EC155, Flag: Nonzero},
}

// Lookup returns the decoding rule for a family.
func Lookup(f Family) (Rule, error) {
	r, ok := rules[f]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknownFamily, f, Families())
	}
	return r, nil
}

// Families lists the known families in name order.
func Families() []Family {
	out := make([]Family, 0, len(rules))
	for f := range rules {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Instrument is one registry entry: which raw columns carry an instrument's
// diagnostic word and which flag column to derive from it.
type Instrument struct {
	Family  Family   `yaml:"family"`
	Sources []string `yaml:"sources"`
	Flag    string   `yaml:"flag"`
	Model   string   `yaml:"model,omitempty"`
	Serial  string   `yaml:"serial,omitempty"`
	Height  float64  `yaml:"height,omitempty"`
}

// Registry is the ordered list of instruments installed at a site.
type Registry []Instrument

// Validate checks every entry names a known family, at least one source and a
// flag column, and that flag columns are unique.
func (r Registry) Validate() error {
	flags := make(map[string]bool, len(r))
	for i, in := range r {
		if _, err := Lookup(in.Family); err != nil {
			return fmt.Errorf("instrument %d: %w", i, err)
		}
		if len(in.Sources) == 0 || in.Flag == "" {
			return fmt.Errorf("%w: instrument %d (%s) needs sources and flag", ErrInvalidInstrument, i, in.Family)
		}
		if flags[in.Flag] {
			return fmt.Errorf("%w: flag column %s declared twice", ErrInvalidInstrument, in.Flag)
		}
		flags[in.Flag] = true
	}
	return nil
}

// Decode appends one flag column per registry instrument whose diagnostic
// column is present in f. Existing columns are never modified, and an
// instrument whose flag column already exists is skipped, so decoding a
// decoded frame changes nothing. It returns the names of the added columns.
func Decode(f *frame.Frame, reg Registry) ([]string, error) {
	var added []string
	for _, in := range reg {
		if f.Has(in.Flag) {
			continue
		}
		src, ok := source(f, in.Sources)
		if !ok {
			continue
		}
		rule, err := Lookup(in.Family)
		if err != nil {
			return added, err
		}
		if err := f.AddColumn(in.Flag, flagColumn(src, rule.Flag)); err != nil {
			return added, fmt.Errorf("decode %s: %w", in.Family, err)
		}
		added = append(added, in.Flag)
	}
	return added, nil
}

func source(f *frame.Frame, names []string) ([]float64, bool) {
	for _, n := range names {
		if vals, ok := f.Column(n); ok {
			return vals, true
		}
	}
	return nil, false
}

func flagColumn(raw []float64, p Predicate) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		if math.IsNaN(v) || v < 0 {
			out[i] = math.NaN()
			continue
		}
		if p(uint32(v)) {
			out[i] = 1
		}
	}
	return out
}
