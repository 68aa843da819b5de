package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveSite(t *testing.T) {
	m := New("test", prometheus.NewRegistry())

	m.ObserveSite(SiteStats{Site: "SF4", Placeholder: true, Matched: 2})
	m.ObserveSite(SiteStats{Site: "NF17", Files: 2, Matched: 2999, Duplicates: 1, OffAxis: 3})
	m.ObserveSite(SiteStats{Site: "NF17", Files: 1, Maintenance: true, Placeholder: true, Matched: 2})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PlaceholderIntervals.WithLabelValues("SF4")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.FilesConsumed.WithLabelValues("SF4")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FilesConsumed.WithLabelValues("NF17")))
	assert.Equal(t, 3001.0, testutil.ToFloat64(m.RowsMatched.WithLabelValues("NF17")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RowsDuplicate.WithLabelValues("NF17")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsOffAxis.WithLabelValues("NF17")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MaintenanceIntervals.WithLabelValues("NF17")))
}

func TestSeparateRegistries(t *testing.T) {
	a := New("", nil)
	b := New("", nil)
	a.IntervalsCommitted.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.IntervalsCommitted))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.IntervalsCommitted))
}

func TestWriteTextfile(t *testing.T) {
	m := New("fast_flux", nil)
	m.IntervalsCommitted.Add(4)
	m.IncRetryAttempts("publish")

	path := filepath.Join(t.TempDir(), "fast_flux.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, "fast_flux_intervals_committed_total 4"), text)
	assert.True(t, strings.Contains(text, `fast_flux_retry_attempts_total{operation="publish"} 1`), text)
}
