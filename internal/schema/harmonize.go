package schema

import (
	"errors"
	"fmt"
	"time"

	"github.com/withObsrvr/obsrvr-fast-flux/internal/frame"
)

// ErrUnknownSite is returned when harmonizing for a site that was not registered.
var ErrUnknownSite = errors.New("unknown site")

// Site is the harmonization view of one measurement site.
type Site struct {
	Name   string
	Header []string
	Router *Router
}

// Harmonizer conforms raw frames to their site's canonical header.
type Harmonizer struct {
	period time.Duration
	sites  map[string]*Site
}

// NewHarmonizer registers the sites. period is the acquisition period used to
// lay out maintenance placeholders.
func NewHarmonizer(period time.Duration, sites ...*Site) *Harmonizer {
	h := &Harmonizer{period: period, sites: make(map[string]*Site, len(sites))}
	for _, s := range sites {
		h.sites[s.Name] = s
	}
	return h
}

// Site returns the registered site.
func (h *Harmonizer) Site(name string) (*Site, error) {
	s, ok := h.sites[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSite, name)
	}
	return s, nil
}

// Rule returns the rule that applies to the site at ts.
func (h *Harmonizer) Rule(site string, ts time.Time) (*Rule, error) {
	s, err := h.Site(site)
	if err != nil {
		return nil, err
	}
	rule, err := s.Router.Route(ts)
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", site, err)
	}
	return rule, nil
}

// Placeholder returns the site's two-row all-missing frame anchored at ts.
func (h *Harmonizer) Placeholder(site string, ts time.Time) (*frame.Frame, error) {
	s, err := h.Site(site)
	if err != nil {
		return nil, err
	}
	return frame.Placeholder(s.Header, ts, h.period), nil
}

// Harmonize selects the rule for ts and applies it to raw. The output has
// exactly the site's canonical header. Columns outside the header are
// dropped. A maintenance rule discards raw and returns the placeholder.
// raw is not modified.
func (h *Harmonizer) Harmonize(site string, ts time.Time, raw *frame.Frame) (*frame.Frame, error) {
	s, err := h.Site(site)
	if err != nil {
		return nil, err
	}
	rule, err := s.Router.Route(ts)
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", site, err)
	}
	if rule.Maintenance {
		return frame.Placeholder(s.Header, ts, h.period), nil
	}
	return Apply(*rule, s.Header, raw)
}

// Apply runs one rule: add columns, rename, reindex to header.
func Apply(rule Rule, header []string, raw *frame.Frame) (*frame.Frame, error) {
	f := raw.Clone()
	for _, c := range rule.Add {
		f.AddMissing(c)
	}
	if err := f.Rename(rule.Rename); err != nil {
		return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
	}
	return f.Reindex(header)
}
