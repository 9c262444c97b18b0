package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hilinkd/hilinkd/internal/models"
)

func sample(modem string, ts int64, dbm int) *models.MetricSample {
	return &models.MetricSample{
		ModemUUID:       modem,
		Timestamp:       ts,
		SignalStrength:  dbm,
		SignalQuality:   60,
		ConnectionState: models.SampleConnected,
		NetworkType:     3,
	}
}

func TestMemoryStoreSamples(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.SaveSample(ctx, sample("a", 300, -70)))
	require.NoError(t, s.SaveSample(ctx, sample("a", 100, -80)))
	require.NoError(t, s.SaveSample(ctx, sample("a", 200, -75)))
	require.NoError(t, s.SaveSample(ctx, sample("b", 150, -90)))
	// same second replaces
	require.NoError(t, s.SaveSample(ctx, sample("a", 200, -60)))

	all, err := s.ListSamples(ctx, SampleFilters{ModemUUID: "a"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{100, 200, 300}, []int64{all[0].Timestamp, all[1].Timestamp, all[2].Timestamp})
	assert.Equal(t, -60, all[1].SignalStrength)

	window, err := s.ListSamples(ctx, SampleFilters{ModemUUID: "a", Start: time.Unix(150, 0), End: time.Unix(300, 0), Limit: 1})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, int64(200), window[0].Timestamp)

	latest, err := s.LatestSample(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(300), latest.Timestamp)

	_, err = s.LatestSample(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreRejectsInvalidSample(t *testing.T) {
	s := NewMemoryStore()
	assert.ErrorIs(t, s.SaveSample(context.Background(), &models.MetricSample{Timestamp: 1}), ErrInvalidData)
	assert.ErrorIs(t, s.SaveSample(context.Background(), sample("a", 0, -70)), ErrInvalidData)
	_, err := s.ListSamples(context.Background(), SampleFilters{})
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestMemoryStoreEvents(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, typ := range []models.EventType{models.EventTypeConnected, models.EventTypeLowSignal, models.EventTypeDisconnected} {
		require.NoError(t, s.CreateEventLog(ctx, &models.EventLog{
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
			ModemUUID:   "a",
			Type:        typ,
			Level:       models.EventLevelInfo,
			Description: string(typ),
		}))
	}
	require.NoError(t, s.CreateEventLog(ctx, &models.EventLog{ModemUUID: "b", Type: models.EventTypeConnected, Level: models.EventLevelInfo}))

	modem := "a"
	events, total, err := s.ListEventLogs(ctx, EventLogFilters{ModemUUID: &modem}, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventTypeDisconnected, events[0].Type)
	assert.NotEqual(t, events[0].ID, events[1].ID)

	typ := models.EventTypeConnected
	events, total, err = s.ListEventLogs(ctx, EventLogFilters{Type: &typ}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, events, 2)

	events, _, err = s.ListEventLogs(ctx, EventLogFilters{ModemUUID: &modem}, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryStorePurge(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	cutoff := time.Unix(1000, 0)

	require.NoError(t, s.SaveSample(ctx, sample("a", 500, -70)))
	require.NoError(t, s.SaveSample(ctx, sample("a", 1500, -70)))
	require.NoError(t, s.SaveSample(ctx, sample("b", 900, -70)))
	require.NoError(t, s.CreateEventLog(ctx, &models.EventLog{ModemUUID: "a", CreatedAt: time.Unix(10, 0)}))
	require.NoError(t, s.CreateEventLog(ctx, &models.EventLog{ModemUUID: "a", CreatedAt: time.Unix(2000, 0)}))

	result, err := s.Purge(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, PurgeResult{Samples: 2, Events: 1}, result)

	left, err := s.ListSamples(ctx, SampleFilters{ModemUUID: "a"})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, int64(1500), left[0].Timestamp)

	_, err = s.LatestSample(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for _, modem := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(modem string) {
			defer wg.Done()
			for ts := int64(1); ts <= 50; ts++ {
				_ = s.SaveSample(ctx, sample(modem, ts, -70))
				_ = s.CreateEventLog(ctx, &models.EventLog{ModemUUID: modem})
			}
		}(modem)
	}
	wg.Wait()

	for _, modem := range []string{"a", "b", "c", "d"} {
		samples, err := s.ListSamples(ctx, SampleFilters{ModemUUID: modem})
		require.NoError(t, err)
		assert.Len(t, samples, 50)
	}
	_, total, err := s.ListEventLogs(ctx, EventLogFilters{}, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(200), total)
}
