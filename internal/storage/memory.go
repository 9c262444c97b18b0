package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hilinkd/hilinkd/internal/models"
)

// MemoryStore keeps samples and events in process memory. It backs the
// daemon when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	samples map[string][]*models.MetricSample
	events  []*models.EventLog
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{samples: make(map[string][]*models.MetricSample)}
}

// EnsureSchema is a no-op.
func (s *MemoryStore) EnsureSchema(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// SaveSample stores a copy of sample, keeping each modem's series sorted by timestamp.
func (s *MemoryStore) SaveSample(ctx context.Context, sample *models.MetricSample) error {
	if err := validateSample(sample); err != nil {
		return err
	}
	cp := *sample

	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.samples[cp.ModemUUID]
	i := sort.Search(len(series), func(i int) bool { return series[i].Timestamp >= cp.Timestamp })
	if i < len(series) && series[i].Timestamp == cp.Timestamp {
		series[i] = &cp
		return nil
	}
	series = append(series, nil)
	copy(series[i+1:], series[i:])
	series[i] = &cp
	s.samples[cp.ModemUUID] = series
	return nil
}

// ListSamples lists samples of one modem, oldest first.
func (s *MemoryStore) ListSamples(ctx context.Context, filters SampleFilters) ([]*models.MetricSample, error) {
	if filters.ModemUUID == "" {
		return nil, ErrInvalidData
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.MetricSample
	for _, sample := range s.samples[filters.ModemUUID] {
		if !filters.Start.IsZero() && sample.Timestamp < filters.Start.Unix() {
			continue
		}
		if !filters.End.IsZero() && sample.Timestamp > filters.End.Unix() {
			continue
		}
		cp := *sample
		out = append(out, &cp)
		if filters.Limit > 0 && len(out) == filters.Limit {
			break
		}
	}
	return out, nil
}

// LatestSample returns the newest sample of a modem.
func (s *MemoryStore) LatestSample(ctx context.Context, modemUUID string) (*models.MetricSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.samples[modemUUID]
	if len(series) == 0 {
		return nil, ErrNotFound
	}
	cp := *series[len(series)-1]
	return &cp, nil
}

// CreateEventLog creates an event log entry
func (s *MemoryStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	cp := *event

	s.mu.Lock()
	s.events = append(s.events, &cp)
	s.mu.Unlock()
	return nil
}

// ListEventLogs lists event logs with filters, newest first
func (s *MemoryStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	s.mu.RLock()
	var matched []*models.EventLog
	for _, event := range s.events {
		if matchesEvent(event, filters) {
			cp := *event
			matched = append(matched, &cp)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

// Purge deletes samples and events older than before.
func (s *MemoryStore) Purge(ctx context.Context, before time.Time) (PurgeResult, error) {
	var result PurgeResult
	cutoff := before.Unix()

	s.mu.Lock()
	defer s.mu.Unlock()

	for modem, series := range s.samples {
		i := sort.Search(len(series), func(i int) bool { return series[i].Timestamp >= cutoff })
		result.Samples += int64(i)
		if i == len(series) {
			delete(s.samples, modem)
			continue
		}
		s.samples[modem] = append([]*models.MetricSample(nil), series[i:]...)
	}

	kept := s.events[:0]
	for _, event := range s.events {
		if event.CreatedAt.Before(before) {
			result.Events++
			continue
		}
		kept = append(kept, event)
	}
	s.events = kept

	return result, nil
}
