package storage

import (
	"fmt"
	"time"

	"github.com/hilinkd/hilinkd/internal/models"
)

var periods = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// ParsePeriod maps a statistics period name (1h, 24h, 7d, 30d) to its length.
func ParsePeriod(name string) (time.Duration, error) {
	d, ok := periods[name]
	if !ok {
		return 0, fmt.Errorf("%w: unknown period %q", ErrInvalidData, name)
	}
	return d, nil
}

// ComputeStatistics summarizes samples ordered oldest first. Traffic totals
// are the difference between the last and first lifetime counters; a counter
// reset inside the window falls back to the last value.
func ComputeStatistics(modemUUID, period string, samples []*models.MetricSample) *models.SampleStatistics {
	stats := &models.SampleStatistics{
		ModemUUID: modemUUID,
		Period:    period,
		Samples:   len(samples),
	}
	if len(samples) == 0 {
		return stats
	}

	first, last := samples[0], samples[len(samples)-1]
	stats.Start = first.Timestamp
	stats.End = last.Timestamp

	strength := newSummary(float64(first.SignalStrength))
	quality := newSummary(first.SignalQuality)
	connected := 0
	for _, s := range samples {
		strength.add(float64(s.SignalStrength))
		quality.add(s.SignalQuality)
		if s.ConnectionState == models.SampleConnected {
			connected++
		}
	}

	stats.SignalStrength = strength.result(len(samples))
	stats.SignalQuality = quality.result(len(samples))
	stats.UptimePercent = float64(connected) / float64(len(samples)) * 100
	stats.TotalRxBytes = counterDelta(first.RxBytes, last.RxBytes)
	stats.TotalTxBytes = counterDelta(first.TxBytes, last.TxBytes)
	return stats
}

type summary struct {
	min, max, sum, last float64
}

func newSummary(v float64) *summary {
	return &summary{min: v, max: v}
}

func (s *summary) add(v float64) {
	if v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
	s.sum += v
	s.last = v
}

func (s *summary) result(n int) models.MetricSummary {
	return models.MetricSummary{Min: s.min, Max: s.max, Avg: s.sum / float64(n), Last: s.last}
}

func counterDelta(first, last int64) int64 {
	if last < first {
		return last
	}
	return last - first
}
