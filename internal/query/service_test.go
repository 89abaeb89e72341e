package query

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpMarket/internal/event"
	"PerpMarket/internal/persistence"
	"PerpMarket/internal/testutil"
)

func setupService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	migrator := persistence.NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := migrator.Up(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewService(db), db
}

func insertEvent(t *testing.T, db *sql.DB, seq int64, eventType, account string) {
	t.Helper()
	payload := fmt.Sprintf(`{"account": %q, "amount": "100"}`, account)
	_, err := db.Exec(`
		INSERT INTO audit_log.events (sequence, event_id, event_type, payload, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`, seq, uuid.New(), eventType, payload, time.Now().UTC())
	if err != nil {
		t.Fatalf("insert event %d: %v", seq, err)
	}
}

func TestEventsFilters(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	insertEvent(t, db, 1, event.TypeDeposited.String(), "alice")
	insertEvent(t, db, 2, event.TypeDeposited.String(), "bob")
	insertEvent(t, db, 3, event.TypePositionOpened.String(), "alice")
	insertEvent(t, db, 4, event.TypePositionLiquidated.String(), "alice")

	all, err := svc.Events(ctx, Filter{})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("len = %d, want 4", len(all))
	}
	if all[0].Sequence != 4 {
		t.Errorf("newest first: got sequence %d", all[0].Sequence)
	}

	aliceEvents, err := svc.Events(ctx, Filter{Account: "alice"})
	if err != nil {
		t.Fatalf("account filter: %v", err)
	}
	if len(aliceEvents) != 3 {
		t.Errorf("alice events = %d, want 3", len(aliceEvents))
	}

	deposits, err := svc.Events(ctx, Filter{EventType: event.TypeDeposited.String()})
	if err != nil {
		t.Fatalf("type filter: %v", err)
	}
	if len(deposits) != 2 {
		t.Errorf("deposits = %d, want 2", len(deposits))
	}
}

func TestEventsPagination(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	for seq := int64(1); seq <= 10; seq++ {
		insertEvent(t, db, seq, event.TypeDeposited.String(), "alice")
	}

	page1, err := svc.Events(ctx, Filter{Limit: 4})
	if err != nil {
		t.Fatal(err)
	}
	if len(page1) != 4 || page1[0].Sequence != 10 {
		t.Fatalf("page1 = %d events starting at %d", len(page1), page1[0].Sequence)
	}

	cursor := page1[len(page1)-1].Sequence
	page2, err := svc.Events(ctx, Filter{Limit: 4, BeforeSequence: cursor})
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 4 || page2[0].Sequence != cursor-1 {
		t.Errorf("page2 = %d events starting at %d", len(page2), page2[0].Sequence)
	}
}

func TestLiquidationsByAccount(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()

	insertEvent(t, db, 1, event.TypePositionLiquidated.String(), "alice")
	insertEvent(t, db, 2, event.TypePositionLiquidated.String(), "bob")
	insertEvent(t, db, 3, event.TypePositionClosed.String(), "alice")

	liqs, err := svc.Liquidations(ctx, "alice", 0, 0)
	if err != nil {
		t.Fatalf("liquidations: %v", err)
	}
	if len(liqs) != 1 || liqs[0].Sequence != 1 {
		t.Errorf("liquidations = %+v, want just sequence 1", liqs)
	}
}
