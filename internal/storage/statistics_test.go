package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hilinkd/hilinkd/internal/models"
)

func TestComputeStatistics(t *testing.T) {
	samples := []*models.MetricSample{
		{Timestamp: 100, SignalStrength: -80, SignalQuality: 40, RxBytes: 1000, TxBytes: 100, ConnectionState: 1},
		{Timestamp: 130, SignalStrength: -70, SignalQuality: 80, RxBytes: 1500, TxBytes: 150, ConnectionState: 1},
		{Timestamp: 160, SignalStrength: -90, SignalQuality: 40, RxBytes: 1500, TxBytes: 150, ConnectionState: 0},
		{Timestamp: 190, SignalStrength: -60, SignalQuality: 100, RxBytes: 4000, TxBytes: 600, ConnectionState: 1},
	}

	stats := ComputeStatistics("a", "1h", samples)

	assert.Equal(t, 4, stats.Samples)
	assert.Equal(t, int64(100), stats.Start)
	assert.Equal(t, int64(190), stats.End)
	assert.Equal(t, models.MetricSummary{Min: -90, Max: -60, Avg: -75, Last: -60}, stats.SignalStrength)
	assert.Equal(t, models.MetricSummary{Min: 40, Max: 100, Avg: 65, Last: 100}, stats.SignalQuality)
	assert.Equal(t, 75.0, stats.UptimePercent)
	assert.Equal(t, int64(3000), stats.TotalRxBytes)
	assert.Equal(t, int64(500), stats.TotalTxBytes)
}

func TestComputeStatisticsCounterReset(t *testing.T) {
	samples := []*models.MetricSample{
		{Timestamp: 1, RxBytes: 9000, TxBytes: 900},
		{Timestamp: 2, RxBytes: 300, TxBytes: 30},
	}
	stats := ComputeStatistics("a", "24h", samples)
	assert.Equal(t, int64(300), stats.TotalRxBytes)
	assert.Equal(t, int64(30), stats.TotalTxBytes)
	assert.Equal(t, 0.0, stats.UptimePercent)
}

func TestComputeStatisticsEmpty(t *testing.T) {
	stats := ComputeStatistics("a", "7d", nil)
	assert.Equal(t, 0, stats.Samples)
	assert.Equal(t, "7d", stats.Period)
}

func TestParsePeriod(t *testing.T) {
	d, err := ParsePeriod("7d")
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, d)

	_, err = ParsePeriod("2w")
	assert.ErrorIs(t, err, ErrInvalidData)
}
