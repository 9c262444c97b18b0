package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hilinkd/hilinkd/internal/models"
)

const sampleColumns = `modem_uuid, ts, signal_strength, signal_quality,
        rx_bytes, tx_bytes, connection_state, network_type`

// SaveSample stores a sample. A second sample for the same modem and second
// replaces the first.
func (s *PostgresStore) SaveSample(ctx context.Context, sample *models.MetricSample) error {
	if err := validateSample(sample); err != nil {
		return err
	}

	query := `
        INSERT INTO metric_samples (` + sampleColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (modem_uuid, ts) DO UPDATE SET
            signal_strength = EXCLUDED.signal_strength,
            signal_quality = EXCLUDED.signal_quality,
            rx_bytes = EXCLUDED.rx_bytes,
            tx_bytes = EXCLUDED.tx_bytes,
            connection_state = EXCLUDED.connection_state,
            network_type = EXCLUDED.network_type`

	_, err := s.getDB().ExecContext(ctx, query,
		sample.ModemUUID, sample.Timestamp, sample.SignalStrength, sample.SignalQuality,
		sample.RxBytes, sample.TxBytes, sample.ConnectionState, sample.NetworkType,
	)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// ListSamples lists samples of one modem, oldest first.
func (s *PostgresStore) ListSamples(ctx context.Context, filters SampleFilters) ([]*models.MetricSample, error) {
	if filters.ModemUUID == "" {
		return nil, ErrInvalidData
	}

	query := "SELECT " + sampleColumns + " FROM metric_samples WHERE modem_uuid = $1"
	args := []interface{}{filters.ModemUUID}
	argCount := 1

	if !filters.Start.IsZero() {
		argCount++
		query += fmt.Sprintf(" AND ts >= $%d", argCount)
		args = append(args, filters.Start.Unix())
	}

	if !filters.End.IsZero() {
		argCount++
		query += fmt.Sprintf(" AND ts <= $%d", argCount)
		args = append(args, filters.End.Unix())
	}

	query += " ORDER BY ts ASC"
	if filters.Limit > 0 {
		argCount++
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filters.Limit)
	}

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var samples []*models.MetricSample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}

	return samples, rows.Err()
}

// LatestSample returns the newest sample of a modem.
func (s *PostgresStore) LatestSample(ctx context.Context, modemUUID string) (*models.MetricSample, error) {
	row := s.getDB().QueryRowContext(ctx,
		"SELECT "+sampleColumns+" FROM metric_samples WHERE modem_uuid = $1 ORDER BY ts DESC LIMIT 1",
		modemUUID,
	)

	sample, err := scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sample, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSample(row rowScanner) (*models.MetricSample, error) {
	sample := &models.MetricSample{}
	err := row.Scan(
		&sample.ModemUUID, &sample.Timestamp, &sample.SignalStrength, &sample.SignalQuality,
		&sample.RxBytes, &sample.TxBytes, &sample.ConnectionState, &sample.NetworkType,
	)
	if err != nil {
		return nil, err
	}
	return sample, nil
}
