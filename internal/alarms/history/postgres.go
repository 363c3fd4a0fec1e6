// Package history records dispatched alarms in Postgres.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"streaming-status/backend/internal/alarms/domain"
)

// PostgresStore persists one row per dispatched alarm. Redelivered copies of
// an event collapse on the dedup key.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a history store writing to db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Record inserts the dispatch outcome for one event. Inserting a dedup key
// that already exists is a no-op, keeping history idempotent alongside the
// at-least-once router.
func (s *PostgresStore) Record(ctx context.Context, event *domain.AlarmEvent, destinations []string) error {
	dests, err := json.Marshal(destinations)
	if err != nil {
		return fmt.Errorf("encode destinations: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO alarm_history (id, device_name, organization, alarm_type, event_time, dedup_key, destinations)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (dedup_key) DO NOTHING;
`,
		uuid.NewString(), event.DeviceID, event.Organization, string(event.Type),
		event.EventTime(), event.DedupKey(), dests,
	)
	if err != nil {
		return fmt.Errorf("record alarm %s: %w", event.DedupKey(), err)
	}
	return nil
}
