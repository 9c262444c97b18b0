// Package events fans metric samples and lifecycle events out to message
// brokers.
package events

import (
	"context"
	"errors"

	"github.com/hilinkd/hilinkd/internal/models"
)

// Publisher delivers samples and events to subscribers outside the process.
type Publisher interface {
	PublishSample(ctx context.Context, sample *models.MetricSample) error
	PublishEvent(ctx context.Context, event *models.EventLog) error
	Close() error
}

// Multi publishes to every wrapped publisher and joins their errors.
type Multi []Publisher

// PublishSample implements Publisher
func (m Multi) PublishSample(ctx context.Context, sample *models.MetricSample) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishSample(ctx, sample); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishEvent implements Publisher
func (m Multi) PublishEvent(ctx context.Context, event *models.EventLog) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Publisher
func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards everything.
type Nop struct{}

func (Nop) PublishSample(context.Context, *models.MetricSample) error { return nil }
func (Nop) PublishEvent(context.Context, *models.EventLog) error      { return nil }
func (Nop) Close() error                                              { return nil }
