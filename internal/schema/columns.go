package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrAmbiguousColumn is returned when two columns summarize into the same
// (site, variable) cell.
var ErrAmbiguousColumn = errors.New("ambiguous summary column")

// DefaultVariables are the summary variables recognized as leading column
// prefixes: wind components, sonic temperature, gas densities, cell pressure
// and temperature, and diagnostic flags.
var DefaultVariables = []string{
	"Ux", "Uy", "Uz", "Ts",
	"CO2", "H2O",
	"PCELL", "TCELL",
	"flag", "SONIC_FLAG", "IRGA_FLAG",
}

// ColumnKey ties a merged output column to its site and summary variable.
type ColumnKey struct {
	Column   string
	Site     string
	Variable string
}

// ResolveColumns maps every column that begins with "<variable>_" to its
// summary key. The site is the trailing suffix: a configured site name when
// the column ends with one (longest first), otherwise the last "_" segment,
// so Ux_CSAT3_NF7 inside the NF17 header summarizes under NF7. Columns with
// no recognized prefix are left out. Two columns landing on one cell is an
// error.
func ResolveColumns(columns, sites, variables []string) ([]ColumnKey, error) {
	bySuffix := append([]string(nil), sites...)
	sort.SliceStable(bySuffix, func(i, j int) bool { return len(bySuffix[i]) > len(bySuffix[j]) })
	byPrefix := append([]string(nil), variables...)
	sort.SliceStable(byPrefix, func(i, j int) bool { return len(byPrefix[i]) > len(byPrefix[j]) })

	var keys []ColumnKey
	owner := make(map[[2]string]string)
	for _, c := range columns {
		k, ok := resolve(c, bySuffix, byPrefix)
		if !ok {
			continue
		}
		cell := [2]string{k.Site, k.Variable}
		if prev, dup := owner[cell]; dup {
			return nil, fmt.Errorf("%w: %s and %s both summarize as %s at %s", ErrAmbiguousColumn, prev, c, k.Variable, k.Site)
		}
		owner[cell] = c
		keys = append(keys, k)
	}
	return keys, nil
}

func resolve(column string, sites, variables []string) (ColumnKey, bool) {
	for _, v := range variables {
		rest, ok := strings.CutPrefix(column, v+"_")
		if !ok || rest == "" {
			continue
		}
		site := ""
		for _, s := range sites {
			if rest == s || strings.HasSuffix(rest, "_"+s) {
				site = s
				break
			}
		}
		if site == "" {
			site = rest[strings.LastIndex(rest, "_")+1:]
		}
		if site == "" {
			return ColumnKey{}, false
		}
		return ColumnKey{Column: column, Site: site, Variable: v}, true
	}
	return ColumnKey{}, false
}

// SummarySites returns the configured sites followed by any other site the
// keys name, in first appearance order.
func SummarySites(keys []ColumnKey, sites []string) []string {
	out := append([]string(nil), sites...)
	seen := make(map[string]bool, len(sites))
	for _, s := range sites {
		seen[s] = true
	}
	for _, k := range keys {
		if !seen[k.Site] {
			seen[k.Site] = true
			out = append(out, k.Site)
		}
	}
	return out
}
