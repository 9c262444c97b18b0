package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hilinkd/hilinkd/internal/models"
)

// Common errors
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidData = errors.New("invalid data")
)

// Store defines the storage interface. Implementations are safe for
// concurrent use by the managers of different modems.
type Store interface {
	// EnsureSchema creates missing tables and indexes.
	EnsureSchema(ctx context.Context) error

	// Metric sample methods
	SaveSample(ctx context.Context, sample *models.MetricSample) error
	ListSamples(ctx context.Context, filters SampleFilters) ([]*models.MetricSample, error)
	LatestSample(ctx context.Context, modemUUID string) (*models.MetricSample, error)

	// Event log methods
	CreateEventLog(ctx context.Context, event *models.EventLog) error
	ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error)

	// Purge deletes samples and event logs older than before.
	Purge(ctx context.Context, before time.Time) (PurgeResult, error)

	// Close the store
	Close() error
}

// SampleFilters selects samples of one modem. Zero times are open bounds;
// a zero Limit returns every match. Results are ordered oldest first.
type SampleFilters struct {
	ModemUUID string
	Start     time.Time
	End       time.Time
	Limit     int
}

// EventLogFilters represents filters for event logs
type EventLogFilters struct {
	ModemUUID *string
	Type      *models.EventType
	Level     *models.EventLevel
	StartTime *time.Time
	EndTime   *time.Time
}

// PurgeResult counts the rows removed by Purge.
type PurgeResult struct {
	Samples int64
	Events  int64
}

func validateSample(sample *models.MetricSample) error {
	if sample == nil || sample.ModemUUID == "" || sample.Timestamp <= 0 {
		return ErrInvalidData
	}
	return nil
}

func matchesEvent(event *models.EventLog, f EventLogFilters) bool {
	if f.ModemUUID != nil && event.ModemUUID != *f.ModemUUID {
		return false
	}
	if f.Type != nil && event.Type != *f.Type {
		return false
	}
	if f.Level != nil && event.Level != *f.Level {
		return false
	}
	if f.StartTime != nil && event.CreatedAt.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && event.CreatedAt.After(*f.EndTime) {
		return false
	}
	return true
}
