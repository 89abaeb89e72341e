package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PerpMarket/internal/auth"
	"PerpMarket/internal/engine"
	"PerpMarket/internal/margin"
	"PerpMarket/internal/treasury"
	"PerpMarket/internal/vamm"
)

// SnapshotStore persists full-state snapshots so a restart restores the
// market without replaying the whole audit log.
type SnapshotStore struct {
	db *sql.DB
}

// Snapshot is the complete in-memory state at one audit-log sequence.
type Snapshot struct {
	Sequence  int64                         `json:"sequence"`
	Ledger    map[auth.Address]margin.Account `json:"ledger"`
	Engine    engine.State                  `json:"engine"`
	Market    vamm.State                    `json:"market"`
	Treasury  treasury.State                `json:"treasury"`
	CreatedAt time.Time                     `json:"created_at"`
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save upserts the snapshot keyed by sequence.
func (s *SnapshotStore) Save(ctx context.Context, snap *Snapshot) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log.snapshots (snapshot_id, sequence, data, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, size_bytes = $4
	`, uuid.New(), snap.Sequence, data, len(data), snap.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("save snapshot at %d: %w", snap.Sequence, err)
	}
	return len(data), nil
}

// LoadLatest returns the highest-sequence snapshot, or nil on cold start.
func (s *SnapshotStore) LoadLatest(ctx context.Context) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT data FROM audit_log.snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Prune drops all but the newest keep snapshots.
func (s *SnapshotStore) Prune(ctx context.Context, keep int) error {
	if keep < 1 {
		keep = 1
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM audit_log.snapshots
		WHERE sequence NOT IN (
			SELECT sequence FROM audit_log.snapshots
			ORDER BY sequence DESC
			LIMIT $1
		)
	`, keep)
	return err
}
