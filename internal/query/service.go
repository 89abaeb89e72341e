package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PerpMarket/internal/auth"
	"PerpMarket/internal/event"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Service provides read-only access to the audit log. History queries
// are served straight from audit_log.events; the JSONB payload filter
// covers per-account views without a separate read model.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// StoredEvent is one audit-log row as returned to API clients. Payload
// stays raw JSON; the event type tells the client how to read it.
type StoredEvent struct {
	Sequence   int64           `json:"sequence"`
	EventID    uuid.UUID       `json:"event_id"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Filter narrows an event query. BeforeSequence is the pagination
// cursor; zero means start from the newest event.
type Filter struct {
	Account        auth.Address
	EventType      string
	BeforeSequence int64
	Limit          int
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// Events returns audit-log rows newest first, matching the filter.
func (s *Service) Events(ctx context.Context, f Filter) ([]StoredEvent, error) {
	query := `
		SELECT sequence, event_id, event_type, payload, recorded_at
		FROM audit_log.events
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if !f.Account.IsZero() {
		query += fmt.Sprintf(" AND payload->>'account' = $%d", argIdx)
		args = append(args, string(f.Account))
		argIdx++
	}
	if f.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, f.EventType)
		argIdx++
	}
	if f.BeforeSequence > 0 {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, f.BeforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.Sequence, &e.EventID, &e.EventType, &e.Payload, &e.RecordedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// FundingHistory returns funding epochs newest first.
func (s *Service) FundingHistory(ctx context.Context, beforeSequence int64, limit int) ([]StoredEvent, error) {
	return s.Events(ctx, Filter{
		EventType:      event.TypeFundingUpdated.String(),
		BeforeSequence: beforeSequence,
		Limit:          limit,
	})
}

// Liquidations returns liquidation settlements newest first, optionally
// for one account.
func (s *Service) Liquidations(ctx context.Context, account auth.Address, beforeSequence int64, limit int) ([]StoredEvent, error) {
	return s.Events(ctx, Filter{
		Account:        account,
		EventType:      event.TypePositionLiquidated.String(),
		BeforeSequence: beforeSequence,
		Limit:          limit,
	})
}
