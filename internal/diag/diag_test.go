package diag

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/obsrvr-fast-flux/internal/frame"
)

func diagFrame(t *testing.T, cols map[string][]float64, order ...string) *frame.Frame {
	t.Helper()
	n := len(cols[order[0]])
	ts := make([]time.Time, n)
	for i := range ts {
		ts[i] = time.Date(2020, 1, 1, 0, 0, 0, (i+1)*100_000_000, time.UTC)
	}
	f, err := frame.New(nil, ts)
	require.NoError(t, err)
	for _, c := range order {
		require.NoError(t, f.AddColumn(c, cols[c]))
	}
	return f
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		family Family
		word   uint32
		want   bool
	}{
		{CSAT3, 0, false},
		{CSAT3, 0x1000, true},
		{CSAT3, 0x1000 | 0x3F, true},
		{CSAT3, 0x2000, true},
		{CSAT3, 0x8000, true},
		{CSAT3, 0x0FFF, false},
		{CSAT3B, 0, false},
		{CSAT3B, 0x01, true},
		{CSAT3B, 0x10, true},
		{CSAT3B, 0x20, false},
		{CSAT3B, 0x40, true},
		{CSAT3B, 0x80, false},
		{CSAT3B, 0x100, true},
		{CSAT3B, 0x200, false},
		{SON, 0, false},
		{SON, 0x200, true},
		{IRGA, 0, false},
		{IRGA, 1, true},
		{LI7500, 250, true},
		{LI7700, 0, false},
		{EC155, 8, true},
	}
	for _, tt := range tests {
		rule, err := Lookup(tt.family)
		require.NoError(t, err)
		assert.Equal(t, tt.want, rule.Flag(tt.word), "%s word=%#x", tt.family, tt.word)
	}
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("CSAT")
	assert.ErrorIs(t, err, ErrUnknownFamily)
	assert.Contains(t, err.Error(), "CSAT3B")
}

func TestFamilies(t *testing.T) {
	assert.Equal(t, []Family{CSAT3, CSAT3B, EC155, IRGA, LI7500, LI7700, SON}, Families())
}

func TestDecodeSonicHighNibble(t *testing.T) {
	raw := []float64{0, 4096, 4096 + 63, 8192, math.NaN(), 63}
	f := diagFrame(t, map[string][]float64{
		"Ux":         {1, 2, 3, 4, 5, 6},
		"diag_sonic": raw,
	}, "Ux", "diag_sonic")

	reg := Registry{{Family: CSAT3, Sources: []string{"diag_sonic"}, Flag: "SONIC_FLAG"}}
	added, err := Decode(f, reg)
	require.NoError(t, err)
	assert.Equal(t, []string{"SONIC_FLAG"}, added)

	flag, ok := f.Column("SONIC_FLAG")
	require.True(t, ok)
	assert.Equal(t, 0.0, flag[0])
	assert.Equal(t, 1.0, flag[1])
	assert.Equal(t, 1.0, flag[2])
	assert.Equal(t, 1.0, flag[3])
	assert.True(t, math.IsNaN(flag[4]))
	assert.Equal(t, 0.0, flag[5])

	// Source column untouched.
	src, _ := f.Column("diag_sonic")
	assert.Equal(t, 4096.0, src[1])
}

func TestDecodeIsIdempotent(t *testing.T) {
	f := diagFrame(t, map[string][]float64{
		"diag_csat3b": {0, 1},
		"diag_irga":   {0, 240},
	}, "diag_csat3b", "diag_irga")

	reg := Registry{
		{Family: CSAT3B, Sources: []string{"diag_sonic", "diag_csat3b"}, Flag: "SONIC_FLAG"},
		{Family: LI7500, Sources: []string{"diag_irga"}, Flag: "IRGA_FLAG"},
		{Family: LI7700, Sources: []string{"diag_7700"}, Flag: "CH4_FLAG"},
	}

	added, err := Decode(f, reg)
	require.NoError(t, err)
	assert.Equal(t, []string{"SONIC_FLAG", "IRGA_FLAG"}, added)
	once := f.Columns()

	added, err = Decode(f, reg)
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Equal(t, once, f.Columns())
}

func TestRegistryValidate(t *testing.T) {
	tests := []struct {
		name string
		reg  Registry
		err  error
	}{
		{"ok", Registry{{Family: CSAT3, Sources: []string{"d"}, Flag: "f"}}, nil},
		{"unknown family", Registry{{Family: "SONIC", Sources: []string{"d"}, Flag: "f"}}, ErrUnknownFamily},
		{"no sources", Registry{{Family: CSAT3, Flag: "f"}}, ErrInvalidInstrument},
		{"dup flag", Registry{
			{Family: CSAT3, Sources: []string{"a"}, Flag: "f"},
			{Family: LI7500, Sources: []string{"b"}, Flag: "f"},
		}, ErrInvalidInstrument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.reg.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
