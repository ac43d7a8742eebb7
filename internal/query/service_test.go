package query_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"TroveLedger/internal/core"
	"TroveLedger/internal/event"
	"TroveLedger/internal/persistence"
	"TroveLedger/internal/projection"
	"TroveLedger/internal/query"
	"TroveLedger/internal/state"
	"TroveLedger/internal/testutil"
)

func setupQuery(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)

	migrator := persistence.NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := migrator.Up(context.Background()); err != nil {
		cleanup()
		t.Fatalf("migrate up: %v", err)
	}
	return db, cleanup
}

// project pushes an open output through the projection worker so the read
// model has data to serve.
func project(t *testing.T, db *sql.DB, seq int64, owner uuid.UUID) {
	t.Helper()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Second)
	out := core.CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:       seq,
			IdempotencyKey: uuid.New().String(),
			EventType:      event.EventTypeTroveOpen,
			Timestamp:      ts,
		},
		Result: &state.OpResult{
			Owner:  owner,
			Debt:   uint256.MustFromDecimal("2000000000000000000000"),
			Coll:   uint256.MustFromDecimal("3000000000000000000"),
			Fee:    new(uint256.Int),
			NICR:   uint256.MustFromDecimal("1500000000000000000"),
			Status: state.StatusActive,
		},
	}
	worker := projection.NewProjectionWorker(db, nil, nil, zerolog.Nop())
	if err := worker.Apply(context.Background(), out); err != nil {
		t.Fatalf("project seq %d: %v", seq, err)
	}
}

func TestGetSystem_Empty(t *testing.T) {
	db, cleanup := setupQuery(t)
	defer cleanup()

	qs := query.NewQueryService(db)
	sys, err := qs.GetSystem(context.Background())
	if err != nil {
		t.Fatalf("get system: %v", err)
	}
	if sys.TroveCount != 0 {
		t.Errorf("trove count = %d, want 0", sys.TroveCount)
	}
	if sys.TotalColl != "0" || sys.TotalDebt != "0" {
		t.Errorf("totals = (%s, %s), want (0, 0)", sys.TotalColl, sys.TotalDebt)
	}
	if sys.AsOfSequence != -1 {
		t.Errorf("as_of_sequence = %d on empty projections, want -1", sys.AsOfSequence)
	}
}

func TestGetTroveAndSystem(t *testing.T) {
	db, cleanup := setupQuery(t)
	defer cleanup()
	ctx := context.Background()

	owner := uuid.New()
	project(t, db, 0, owner)
	project(t, db, 1, uuid.New())

	qs := query.NewQueryService(db)

	trove, err := qs.GetTrove(ctx, owner)
	if err != nil {
		t.Fatalf("get trove: %v", err)
	}
	if trove == nil {
		t.Fatal("trove not found")
	}
	if trove.Status != "ACTIVE" {
		t.Errorf("status = %q, want ACTIVE", trove.Status)
	}
	if trove.Debt != "2000000000000000000000" {
		t.Errorf("debt = %q", trove.Debt)
	}
	if trove.AsOfSequence != 1 {
		t.Errorf("as_of_sequence = %d, want 1", trove.AsOfSequence)
	}

	missing, err := qs.GetTrove(ctx, uuid.New())
	if err != nil {
		t.Fatalf("get missing trove: %v", err)
	}
	if missing != nil {
		t.Errorf("got %+v for unknown owner, want nil", missing)
	}

	sys, err := qs.GetSystem(ctx)
	if err != nil {
		t.Fatalf("get system: %v", err)
	}
	if sys.TroveCount != 2 {
		t.Errorf("trove count = %d, want 2", sys.TroveCount)
	}
	if sys.TotalDebt != "4000000000000000000000" {
		t.Errorf("total debt = %q", sys.TotalDebt)
	}
}

func TestListTroves_Pagination(t *testing.T) {
	db, cleanup := setupQuery(t)
	defer cleanup()
	ctx := context.Background()

	for seq := int64(0); seq < 5; seq++ {
		project(t, db, seq, uuid.New())
	}

	qs := query.NewQueryService(db)

	page1, err := qs.ListTroves(ctx, 3, nil)
	if err != nil {
		t.Fatalf("list page 1: %v", err)
	}
	if len(page1) != 3 {
		t.Fatalf("page 1 len = %d, want 3", len(page1))
	}

	cursor := page1[len(page1)-1].Owner
	page2, err := qs.ListTroves(ctx, 3, &cursor)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page2) != 2 {
		t.Fatalf("page 2 len = %d, want 2", len(page2))
	}

	seen := make(map[uuid.UUID]bool)
	for _, tr := range append(page1, page2...) {
		if seen[tr.Owner] {
			t.Errorf("owner %s returned twice across pages", tr.Owner)
		}
		seen[tr.Owner] = true
	}
}

func TestVerifyIntegrity(t *testing.T) {
	db, cleanup := setupQuery(t)
	defer cleanup()
	ctx := context.Background()

	writer := persistence.NewEventLogWriter(db)

	hash := func(b byte) []byte {
		h := make([]byte, 32)
		h[0] = b
		return h
	}
	payload := []byte(`{"request_id":"00000000-0000-0000-0000-000000000001"}`)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := []persistence.EventRow{
		{Sequence: 0, EventType: "trove_open", IdempotencyKey: "k0", Payload: payload,
			StateHash: hash(1), PrevHash: make([]byte, 32), Timestamp: ts},
		{Sequence: 1, EventType: "trove_open", IdempotencyKey: "k1", Payload: payload,
			StateHash: hash(2), PrevHash: hash(1), Timestamp: ts},
		// Broken link: prev does not match seq 1's state hash.
		{Sequence: 2, EventType: "trove_open", IdempotencyKey: "k2", Payload: payload,
			StateHash: hash(3), PrevHash: hash(9), Timestamp: ts},
	}
	if err := writer.WriteEventBatch(ctx, db, rows); err != nil {
		t.Fatalf("write batch: %v", err)
	}

	qs := query.NewQueryService(db)
	report, err := qs.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("verify integrity: %v", err)
	}
	if report.EventCount != 3 {
		t.Errorf("event count = %d, want 3", report.EventCount)
	}
	if report.IsHealthy {
		t.Error("report healthy despite broken chain")
	}
	if len(report.HashChainBreaks) != 1 || report.HashChainBreaks[0] != 2 {
		t.Errorf("breaks = %v, want [2]", report.HashChainBreaks)
	}
}
