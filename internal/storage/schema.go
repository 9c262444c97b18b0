package storage

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS metric_samples (
        modem_uuid       TEXT        NOT NULL,
        ts               BIGINT      NOT NULL,
        signal_strength  INTEGER     NOT NULL,
        signal_quality   DOUBLE PRECISION NOT NULL,
        rx_bytes         BIGINT      NOT NULL,
        tx_bytes         BIGINT      NOT NULL,
        connection_state SMALLINT    NOT NULL,
        network_type     SMALLINT    NOT NULL,
        PRIMARY KEY (modem_uuid, ts)
    )`,
	`CREATE TABLE IF NOT EXISTS event_logs (
        id          UUID        PRIMARY KEY,
        created_at  TIMESTAMPTZ NOT NULL,
        modem_uuid  TEXT        NOT NULL,
        modem_name  TEXT        NOT NULL DEFAULT '',
        type        TEXT        NOT NULL,
        level       TEXT        NOT NULL,
        code        TEXT        NOT NULL DEFAULT '',
        description TEXT        NOT NULL,
        details     JSONB
    )`,
	`CREATE INDEX IF NOT EXISTS event_logs_modem_created_idx ON event_logs (modem_uuid, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS event_logs_created_idx ON event_logs (created_at)`,
}

// EnsureSchema creates the tables used by the store.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.getDB().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
