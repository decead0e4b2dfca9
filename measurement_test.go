package tpchbench

import (
	"strings"
	"testing"
	"time"

	"github.com/hhkbp2/testify/require"
)

func TestQueryMeasurementSummary(t *testing.T) {
	m := NewQueryMeasurement(nil)
	m.Measure(100)
	m.Measure(200)
	m.Measure(300)
	summary := m.GetSummary()
	require.True(t, strings.Contains(summary, "Count=3"), "summary: %s", summary)
	require.True(t, strings.Contains(summary, "95="), "summary: %s", summary)
	require.True(t, strings.Contains(summary, "99="), "summary: %s", summary)
}

func TestQueryMeasurementCustomPercentiles(t *testing.T) {
	props := NewProperties()
	props.Add(PropertyPercentiles, "50,90")
	m := NewQueryMeasurement(props)
	m.Measure(1000)
	summary := m.GetSummary()
	require.True(t, strings.Contains(summary, "50="), "summary: %s", summary)
	require.True(t, strings.Contains(summary, "90="), "summary: %s", summary)
	require.False(t, strings.Contains(summary, "95="), "summary: %s", summary)
}

func TestQueryMeasurementSample(t *testing.T) {
	m := NewQueryMeasurement(nil)
	var sample TimingSample
	sample.QueryTimes[0] = 5 * time.Millisecond
	sample.QueryTimes[21] = 7 * time.Millisecond
	m.MeasureSample(&sample)
	// Only populated query times are recorded.
	require.True(t, strings.Contains(m.GetSummary(), "Count=2"))
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC)
	require.Equal(t, "2024-05-01 12:30:45", FormatTimestamp(ts))
}
