// Package schema maps historical raw column layouts onto each site's
// canonical header using date-range keyed harmonization rules.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrNoMatchingRule is returned when a timestamp falls outside every rule.
var ErrNoMatchingRule = errors.New("no matching harmonization rule for timestamp")

// ErrOverlappingRules is returned when rule date ranges overlap.
var ErrOverlappingRules = errors.New("harmonization rule ranges overlap")

// ErrRuleGap is returned when consecutive rules leave a gap.
var ErrRuleGap = errors.New("harmonization rule ranges are not contiguous")

// ErrInvalidRule is returned for a rule whose range is empty or inverted.
var ErrInvalidRule = errors.New("invalid harmonization rule")

// Rule is the harmonization recipe for one date range of one site.
type Rule struct {
	ID          string
	Start       time.Time // zero = unbounded below
	End         time.Time // exclusive; zero = unbounded above
	Add         []string
	Rename      map[string]string
	Maintenance bool
}

// Contains returns true if ts is within [Start, End).
func (r Rule) Contains(ts time.Time) bool {
	if !r.Start.IsZero() && ts.Before(r.Start) {
		return false
	}
	if r.End.IsZero() {
		return true
	}
	return ts.Before(r.End)
}

// Router selects the rule whose range contains a timestamp.
type Router struct {
	rules []Rule
}

// NewRouter sorts rules by Start and checks they tile time without overlaps
// or gaps. Only the first rule may be unbounded below and only the last may be
// unbounded above.
func NewRouter(rules []Rule) (*Router, error) {
	if len(rules) == 0 {
		return nil, errors.New("at least one harmonization rule must be configured")
	}

	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	for i, r := range sorted {
		if !r.Start.IsZero() && !r.End.IsZero() && !r.End.After(r.Start) {
			return nil, fmt.Errorf("%w: rule %q ends at %s, before it starts at %s",
				ErrInvalidRule, r.ID, r.End.Format(time.DateTime), r.Start.Format(time.DateTime))
		}
		if i > 0 && r.Start.IsZero() {
			return nil, fmt.Errorf("%w: rule %q and %q are both unbounded below",
				ErrOverlappingRules, sorted[0].ID, r.ID)
		}
	}

	for i := 0; i < len(sorted)-1; i++ {
		current := sorted[i]
		next := sorted[i+1]

		if current.End.IsZero() {
			return nil, fmt.Errorf("%w: rule %q is unbounded but followed by %q",
				ErrOverlappingRules, current.ID, next.ID)
		}
		if current.End.After(next.Start) {
			return nil, fmt.Errorf("%w: rule %q ends at %s but %q starts at %s",
				ErrOverlappingRules, current.ID, current.End.Format(time.DateTime), next.ID, next.Start.Format(time.DateTime))
		}
		if current.End.Before(next.Start) {
			return nil, fmt.Errorf("%w: rule %q ends at %s but %q starts at %s",
				ErrRuleGap, current.ID, current.End.Format(time.DateTime), next.ID, next.Start.Format(time.DateTime))
		}
	}

	return &Router{rules: sorted}, nil
}

// Route returns the rule containing ts.
func (r *Router) Route(ts time.Time) (*Rule, error) {
	for i := range r.rules {
		rule := &r.rules[i]
		if rule.Contains(ts) {
			return rule, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoMatchingRule, ts.Format(time.DateTime))
}

// Rules returns all rules in start order.
func (r *Router) Rules() []Rule {
	return r.rules
}

// Span returns the rules intersecting the closed window [start, end], in order.
func (r *Router) Span(start, end time.Time) []Rule {
	var out []Rule
	for _, rule := range r.rules {
		if !rule.End.IsZero() && !rule.End.After(start) {
			continue
		}
		if !rule.Start.IsZero() && rule.Start.After(end) {
			continue
		}
		out = append(out, rule)
	}
	return out
}
