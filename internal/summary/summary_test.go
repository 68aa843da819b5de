package summary

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/withObsrvr/obsrvr-fast-flux/internal/frame"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/merge"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/schema"
)

var t0 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func grid(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = t0.Add(time.Duration(i) * 5 * time.Minute)
	}
	return out
}

func TestCompute(t *testing.T) {
	nan := math.NaN()

	t.Run("population std ignoring missing", func(t *testing.T) {
		v := Compute([]float64{2, 4, nan, 4, 4, 5, 5, 7, 9}, 10)
		assert.InDelta(t, 5.0, v[Avg], 1e-12)
		assert.Equal(t, 9.0, v[Max])
		assert.Equal(t, 2.0, v[Min])
		assert.InDelta(t, 2.0, v[Std], 1e-12)
		assert.InDelta(t, 20.0, v[Npc], 1e-12)
	})

	t.Run("all missing", func(t *testing.T) {
		v := Compute([]float64{nan, nan}, 3000)
		for _, st := range []Stat{Avg, Max, Min, Std} {
			assert.True(t, math.IsNaN(v[st]), st.String())
		}
		assert.Equal(t, 100.0, v[Npc])
	})

	t.Run("none missing", func(t *testing.T) {
		v := Compute([]float64{1, 1, 1}, 3)
		assert.Equal(t, 0.0, v[Npc])
		assert.Equal(t, 0.0, v[Std])
	})

	t.Run("negative values keep min and max", func(t *testing.T) {
		v := Compute([]float64{-3, -1, -2}, 3)
		assert.Equal(t, -1.0, v[Max])
		assert.Equal(t, -3.0, v[Min])
	})
}

func TestNpcInvariant(t *testing.T) {
	const n = 50
	for missing := 0; missing <= n; missing++ {
		vals := make([]float64, n)
		for i := 0; i < missing; i++ {
			vals[i] = math.NaN()
		}
		npc := Compute(vals, n)[Npc]
		assert.Equal(t, missing == n, npc == 100, "missing=%d npc=%v", missing, npc)
		assert.Equal(t, missing == 0, npc == 0, "missing=%d npc=%v", missing, npc)
	}
}

func TestAccumulator(t *testing.T) {
	acc := NewAccumulator(grid(2), []string{"NF17", "SF4"}, []string{"Ux", "CO2"})

	for _, st := range Stats {
		assert.True(t, math.IsNaN(acc.Get(1, st, "SF4", "CO2")))
	}

	require.NoError(t, acc.Set(1, "SF4", "CO2", Values{1, 2, 3, 4, 5}))
	assert.Equal(t, 4.0, acc.Get(1, Std, "SF4", "CO2"))
	assert.True(t, acc.Written(1, "SF4", "CO2"))
	assert.False(t, acc.Written(0, "SF4", "CO2"))
	assert.True(t, math.IsNaN(acc.Get(1, Std, "NF17", "CO2")))

	err := acc.Set(1, "SF4", "CO2", Values{})
	assert.ErrorIs(t, err, ErrCellWritten)
	assert.Equal(t, 1.0, acc.Get(1, Avg, "SF4", "CO2"), "rejected write leaves the cell alone")

	assert.ErrorIs(t, acc.Set(2, "SF4", "CO2", Values{}), ErrIntervalRange)
	assert.ErrorIs(t, acc.Set(0, "XX", "CO2", Values{}), ErrUnknownSite)
	assert.ErrorIs(t, acc.Set(0, "SF4", "Tair", Values{}), ErrUnknownVariable)

	layer, err := acc.Layer("CO2")
	require.NoError(t, err)
	require.Len(t, layer.Values, 2)
	assert.Equal(t, 5.0, layer.Values[1][Npc][1])
	assert.True(t, math.IsNaN(layer.Values[0][Npc][1]))

	_, err = acc.Layer("Tair")
	assert.ErrorIs(t, err, ErrUnknownVariable)
}

// An SF4 interval with no files: the merged frame is all missing and every
// SF4 cell reports Npc 100.
func TestAggregateEmptySite(t *testing.T) {
	const nRecords = 3000
	period := 100 * time.Millisecond
	sites := []string{"SF4"}
	header := []string{"RECORD", "Ux_SF4", "Uy_SF4", "CO2_SF4", "SONIC_FLAG_SF4"}

	m := merge.New(period, nRecords, []string{"RECORD"})
	merged, _, err := m.Merge(t0, []merge.SiteFrame{{Site: "SF4", Frame: frame.Placeholder(header, t0, period)}})
	require.NoError(t, err)
	require.Equal(t, nRecords, merged.Len())

	keys, err := schema.ResolveColumns(merged.Columns(), sites, schema.DefaultVariables)
	require.NoError(t, err)
	require.Len(t, keys, 4)

	acc := NewAccumulator(grid(1), sites, schema.DefaultVariables)
	n, err := Aggregate(acc, 0, merged, keys, nRecords)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	for _, k := range keys {
		assert.Equal(t, 100.0, acc.Get(0, Npc, "SF4", k.Variable), k.Column)
		assert.True(t, math.IsNaN(acc.Get(0, Avg, "SF4", k.Variable)), k.Column)
	}
	// Variables the site does not carry stay unwritten.
	assert.False(t, acc.Written(0, "SF4", "H2O"))

	_, err = Aggregate(acc, 0, merged, keys, nRecords)
	assert.ErrorIs(t, err, ErrCellWritten)
}

func TestApplyFlags(t *testing.T) {
	acc := NewAccumulator(grid(3), []string{"NF17", "SF4"}, []string{"Ux"})
	for i := 0; i < 3; i++ {
		require.NoError(t, acc.Set(i, "NF17", "Ux", Values{1, 1, 1, 0, 0}))
		require.NoError(t, acc.Set(i, "SF4", "Ux", Values{2, 2, 2, 0, 0}))
	}

	masked, err := acc.ApplyFlags(FlagWindow{
		ID:    "sonic-swap",
		Start: t0.Add(5 * time.Minute),
		End:   t0.Add(10 * time.Minute),
		Sites: []string{"SF4"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, masked)
	assert.True(t, math.IsNaN(acc.Get(1, Avg, "SF4", "Ux")))
	assert.True(t, math.IsNaN(acc.Get(1, Npc, "SF4", "Ux")))
	assert.Equal(t, 2.0, acc.Get(2, Avg, "SF4", "Ux"), "end is exclusive")
	assert.Equal(t, 1.0, acc.Get(1, Avg, "NF17", "Ux"))

	masked, err = acc.ApplyFlags(FlagWindow{ID: "all", Start: t0, End: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 5, masked, "already masked cells are not counted again")

	_, err = acc.ApplyFlags(FlagWindow{ID: "bad", Start: t0, End: t0})
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = acc.ApplyFlags(FlagWindow{ID: "x", Start: t0, End: t0.Add(time.Hour), Sites: []string{"NOPE"}})
	assert.ErrorIs(t, err, ErrUnknownSite)
}

func filledAccumulator(t *testing.T) *Accumulator {
	t.Helper()
	acc := NewAccumulator(grid(2), []string{"NF17", "SF4"}, []string{"Ux", "CO2"})
	require.NoError(t, acc.Set(0, "NF17", "Ux", Values{1.5, 3, 0, 1, 10}))
	require.NoError(t, acc.Set(1, "SF4", "CO2", Values{400, 410, 390, 5, 0}))
	return acc
}

func TestParquetWriter(t *testing.T) {
	acc := filledAccumulator(t)
	enc, err := NewEncoder("parquet")
	require.NoError(t, err)
	assert.Equal(t, "summary.parquet", enc.FileName())

	data, err := enc.Encode(acc)
	require.NoError(t, err)

	rows, err := parquet.Read[Row](bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, rows, 2*NumStats*2*2)

	var found bool
	for _, r := range rows {
		if r.Stat == "Max" && r.Site == "SF4" && r.Variable == "CO2" && r.Timestamp.Equal(t0.Add(5*time.Minute)) {
			assert.Equal(t, 410.0, r.Value)
			found = true
		}
	}
	assert.True(t, found)
}

func TestXLSXWriter(t *testing.T) {
	acc := filledAccumulator(t)
	enc, err := NewEncoder("xlsx")
	require.NoError(t, err)

	data, err := enc.Encode(acc)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Ux", "CO2"}, f.GetSheetList())

	rows, err := f.GetRows("Ux")
	require.NoError(t, err)
	require.Len(t, rows, 1+2*NumStats)
	assert.Equal(t, []string{"TIMESTAMP", "STAT", "NF17", "SF4"}, rows[0])
	assert.Equal(t, "2020-01-01 00:00:00", rows[1][0])
	assert.Equal(t, "Avg", rows[1][1])
	assert.Equal(t, "1.5", rows[1][2])
}

func TestNewEncoderUnknown(t *testing.T) {
	_, err := NewEncoder("netcdf")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
