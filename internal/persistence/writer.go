package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"PerpMarket/internal/event"
)

// EventLogWriter batch-writes audit envelopes to Postgres using
// multi-row INSERT. Writes are idempotent on sequence, so a retried
// batch never duplicates rows.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow is one row in audit_log.events.
type EventRow struct {
	Sequence   int64
	EventID    uuid.UUID
	EventType  string
	Payload    []byte // JSON-encoded event payload
	RecordedAt time.Time
}

// RowFromEnvelope flattens an envelope for storage.
func RowFromEnvelope(env event.Envelope) (EventRow, error) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return EventRow{}, fmt.Errorf("marshal %s payload: %w", env.Type, err)
	}
	return EventRow{
		Sequence:   env.Sequence,
		EventID:    env.EventID,
		EventType:  env.Type.String(),
		Payload:    payload,
		RecordedAt: env.Timestamp,
	}, nil
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteBatch inserts a batch of rows inside the given transaction.
func (w *EventLogWriter) WriteBatch(ctx context.Context, tx *sql.Tx, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO audit_log.events
		(sequence, event_id, event_type, payload, recorded_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*5)

	for i, r := range rows {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, r.Sequence, r.EventID, r.EventType, r.Payload, r.RecordedAt)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LastSequence returns the highest persisted sequence, 0 when empty.
func (w *EventLogWriter) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM audit_log.events`,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last sequence: %w", err)
	}
	return seq.Int64, nil
}
