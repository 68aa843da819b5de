package summary

import (
	"fmt"
	"math"

	"github.com/withObsrvr/obsrvr-fast-flux/internal/frame"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/schema"
)

// Compute returns Avg, Max, Min, population Std and Npc over the non-missing
// values. Npc is measured against nRecords, not len(values). With no valid
// values the first four are NaN and Npc is 100.
func Compute(values []float64, nRecords int) Values {
	var (
		n      int
		sum    float64
		lo, hi = math.Inf(1), math.Inf(-1)
	)
	for _, v := range values {
		if frame.IsMissing(v) {
			continue
		}
		n++
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	var out Values
	if nRecords > 0 {
		out[Npc] = 100 - 100*float64(n)/float64(nRecords)
	} else {
		out[Npc] = math.NaN()
	}
	if n == 0 {
		out[Avg], out[Max], out[Min], out[Std] = math.NaN(), math.NaN(), math.NaN(), math.NaN()
		if nRecords > 0 {
			out[Npc] = 100
		}
		return out
	}

	mean := sum / float64(n)
	var ss float64
	for _, v := range values {
		if frame.IsMissing(v) {
			continue
		}
		d := v - mean
		ss += d * d
	}
	out[Avg] = mean
	out[Max] = hi
	out[Min] = lo
	out[Std] = math.Sqrt(ss / float64(n))
	return out
}

// Aggregate computes every resolved column of the merged frame and writes
// its cell at interval i. It returns the number of cells written.
func Aggregate(acc *Accumulator, i int, merged *frame.Frame, keys []schema.ColumnKey, nRecords int) (int, error) {
	written := 0
	for _, k := range keys {
		vals, ok := merged.Column(k.Column)
		if !ok {
			return written, fmt.Errorf("merged frame has no column %s", k.Column)
		}
		if err := acc.Set(i, k.Site, k.Variable, Compute(vals, nRecords)); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}
