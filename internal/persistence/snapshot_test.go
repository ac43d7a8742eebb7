package persistence_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"TroveLedger/internal/core"
	"TroveLedger/internal/persistence"
)

func testSnapshot(sequence int64) *core.SnapshotState {
	snap := &core.SnapshotState{
		Sequence: sequence,
		Active: []core.TroveSnap{
			{Owner: uuid.New(), Debt: "2000000000000000000000", Coll: "3000000000000000000", Status: 1},
		},
		PoolColl:        "3000000000000000000",
		PoolDebt:        "2000000000000000000000",
		Price:           "2000000000000000000000",
		PriceSequence:   7,
		HasPrice:        true,
		IdempotencyKeys: []string{"trove_open:" + uuid.New().String()},
	}
	snap.StateHash = chainHash(sequence)
	return snap
}

func TestSnapshotSaveLoadVerify(t *testing.T) {
	db, cleanup := setupEventLog(t)
	defer cleanup()
	ctx := context.Background()

	sm := persistence.NewSnapshotManager(db)

	if err := sm.SaveSnapshot(ctx, testSnapshot(10)); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	// Unverified snapshots must not be offered for restore.
	loaded, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded != nil {
		t.Fatalf("loaded unverified snapshot at seq %d", loaded.Sequence)
	}

	if err := sm.MarkVerified(ctx, 10); err != nil {
		t.Fatalf("mark verified: %v", err)
	}

	loaded, err = sm.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded == nil {
		t.Fatal("no snapshot loaded after verification")
	}
	if loaded.Sequence != 10 {
		t.Errorf("sequence = %d, want 10", loaded.Sequence)
	}
	if loaded.StateHash != chainHash(10) {
		t.Errorf("state hash did not survive the round trip")
	}
	if len(loaded.Active) != 1 || loaded.Active[0].Debt != "2000000000000000000000" {
		t.Errorf("trove snaps did not survive the round trip: %+v", loaded.Active)
	}
	if !loaded.HasPrice || loaded.PriceSequence != 7 {
		t.Errorf("price state = (%v, %d), want (true, 7)", loaded.HasPrice, loaded.PriceSequence)
	}
}

func TestLoadLatestSnapshot_PicksHighestVerified(t *testing.T) {
	db, cleanup := setupEventLog(t)
	defer cleanup()
	ctx := context.Background()

	sm := persistence.NewSnapshotManager(db)

	for _, seq := range []int64{10, 20, 30} {
		if err := sm.SaveSnapshot(ctx, testSnapshot(seq)); err != nil {
			t.Fatalf("save snapshot %d: %v", seq, err)
		}
	}
	// 30 stays unverified, e.g. the process died before verification.
	if err := sm.MarkVerified(ctx, 10); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	if err := sm.MarkVerified(ctx, 20); err != nil {
		t.Fatalf("mark verified: %v", err)
	}

	loaded, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded == nil || loaded.Sequence != 20 {
		t.Fatalf("loaded %+v, want verified snapshot at seq 20", loaded)
	}
}

func TestLoadLatestSnapshot_ColdStart(t *testing.T) {
	db, cleanup := setupEventLog(t)
	defer cleanup()

	sm := persistence.NewSnapshotManager(db)
	loaded, err := sm.LoadLatestSnapshot(context.Background())
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded != nil {
		t.Fatalf("loaded %+v on empty table, want nil", loaded)
	}
}
