package frame

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func rows(n int) []time.Time {
	ts := make([]time.Time, n)
	for i := range ts {
		ts[i] = t0.Add(time.Duration(i+1) * 100 * time.Millisecond)
	}
	return ts
}

func TestPlaceholderStepIsFixed(t *testing.T) {
	f := Placeholder([]string{"Ux_SF4"}, t0, time.Second)

	require.Equal(t, 2, f.Len())
	assert.Equal(t, t0.Add(time.Second), f.Timestamps[0])
	assert.Equal(t, t0.Add(1100*time.Millisecond), f.Timestamps[1])
}

func TestPlaceholder(t *testing.T) {
	f := Placeholder([]string{"TIMESTAMP", "Ux_SF4"}, t0, 100*time.Millisecond)

	require.Equal(t, 2, f.Len())
	assert.Equal(t, t0.Add(100*time.Millisecond), f.Timestamps[0])
	assert.Equal(t, t0.Add(200*time.Millisecond), f.Timestamps[1])
	assert.Equal(t, []string{"TIMESTAMP", "Ux_SF4"}, f.Columns())
	for _, c := range f.Columns() {
		vals, _ := f.Column(c)
		for _, v := range vals {
			assert.True(t, math.IsNaN(v))
		}
	}
}

func TestAddColumn(t *testing.T) {
	f, err := New([]string{"a"}, rows(3))
	require.NoError(t, err)

	require.NoError(t, f.AddColumn("b", []float64{1, 2, 3}))
	assert.ErrorIs(t, f.AddColumn("b", []float64{1, 2, 3}), ErrDuplicateColumn)
	assert.ErrorIs(t, f.AddColumn("c", []float64{1}), ErrLengthMismatch)
	assert.Equal(t, 2.0, f.At("b", 1))
	assert.True(t, math.IsNaN(f.At("missing", 0)))
}

func TestRename(t *testing.T) {
	f, err := New([]string{"Ux", "Uy", "Uz"}, rows(2))
	require.NoError(t, err)

	require.NoError(t, f.Rename(map[string]string{"Ux": "Ux_NF17", "absent": "x"}))
	assert.Equal(t, []string{"Ux_NF17", "Uy", "Uz"}, f.Columns())
	assert.True(t, f.Has("Ux_NF17"))
	assert.False(t, f.Has("Ux"))

	err = f.Rename(map[string]string{"Uy": "Uz"})
	assert.ErrorIs(t, err, ErrDuplicateColumn)
	assert.Equal(t, []string{"Ux_NF17", "Uy", "Uz"}, f.Columns(), "failed rename leaves the frame alone")
}

func TestRenameResolvesAgainstOriginalNames(t *testing.T) {
	f, err := New(nil, rows(1))
	require.NoError(t, err)
	require.NoError(t, f.AddColumn("a", []float64{1}))
	require.NoError(t, f.AddColumn("b", []float64{2}))
	require.NoError(t, f.AddColumn("c", []float64{3}))

	t.Run("chain", func(t *testing.T) {
		g := f.Clone()
		require.NoError(t, g.Rename(map[string]string{"a": "b", "b": "c", "c": "d"}))
		assert.Equal(t, []string{"b", "c", "d"}, g.Columns())
		v, _ := g.Column("b")
		assert.Equal(t, []float64{1}, v)
	})

	t.Run("swap", func(t *testing.T) {
		g := f.Clone()
		require.NoError(t, g.Rename(map[string]string{"a": "b", "b": "a"}))
		assert.Equal(t, []string{"b", "a", "c"}, g.Columns())
		v, _ := g.Column("a")
		assert.Equal(t, []float64{2}, v)
	})

	t.Run("collision", func(t *testing.T) {
		g := f.Clone()
		err := g.Rename(map[string]string{"a": "c"})
		assert.ErrorIs(t, err, ErrDuplicateColumn)
		assert.Equal(t, []string{"a", "b", "c"}, g.Columns())
	})
}

func TestReindex(t *testing.T) {
	f, err := New(nil, rows(2))
	require.NoError(t, err)
	require.NoError(t, f.AddColumn("b", []float64{1, 2}))
	require.NoError(t, f.AddColumn("extra", []float64{9, 9}))

	out, err := f.Reindex([]string{"a", "b"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, out.Columns())
	assert.True(t, math.IsNaN(out.At("a", 0)))
	assert.Equal(t, 2.0, out.At("b", 1))

	// Reindex copies, so mutating the source leaves the result alone.
	b, _ := f.Column("b")
	b[0] = 42
	assert.Equal(t, 1.0, out.At("b", 0))
}

func TestConcat(t *testing.T) {
	a, _ := New(nil, rows(2))
	require.NoError(t, a.AddColumn("x", []float64{1, 2}))
	b, _ := New(nil, rows(3))
	require.NoError(t, b.AddColumn("x", []float64{3, 4, 5}))

	out, err := Concat(a, b)
	require.NoError(t, err)
	assert.Equal(t, 5, out.Len())
	vals, _ := out.Column("x")
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, vals)

	c, _ := New([]string{"y"}, rows(1))
	_, err = Concat(a, c)
	assert.ErrorIs(t, err, ErrColumnMismatch)
}
