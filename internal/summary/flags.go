package summary

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidWindow = errors.New("invalid flag window")

// FlagWindow marks a period of known bad data. Summary cells of the listed
// sites whose interval starts inside [Start, End) are masked. An empty Sites
// list applies to every site.
type FlagWindow struct {
	ID     string
	Start  time.Time
	End    time.Time
	Sites  []string
	Reason string
}

func (w FlagWindow) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidWindow)
	}
	if w.Start.IsZero() || w.End.IsZero() || !w.Start.Before(w.End) {
		return fmt.Errorf("%w: %s: start must be before end", ErrInvalidWindow, w.ID)
	}
	return nil
}

func (w FlagWindow) contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// ApplyFlags masks the cells covered by each window and returns the number
// of cells whose values changed.
func (a *Accumulator) ApplyFlags(windows ...FlagWindow) (int, error) {
	masked := 0
	for _, w := range windows {
		if err := w.Validate(); err != nil {
			return masked, err
		}
		sites := w.Sites
		if len(sites) == 0 {
			sites = a.sites
		}
		idx := make([]int, 0, len(sites))
		for _, name := range sites {
			s, ok := a.siteIdx[name]
			if !ok {
				return masked, fmt.Errorf("%w: %s in window %s", ErrUnknownSite, name, w.ID)
			}
			idx = append(idx, s)
		}

		for i, t := range a.intervals {
			if !w.contains(t) {
				continue
			}
			for _, s := range idx {
				for v := range a.variables {
					if a.mask(i, s, v) {
						masked++
					}
				}
			}
		}
	}
	return masked, nil
}
