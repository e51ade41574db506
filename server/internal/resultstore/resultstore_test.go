package resultstore_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vaultline/vaultline/server/internal/db"
	"github.com/vaultline/vaultline/server/internal/dbtest"
	"github.com/vaultline/vaultline/server/internal/resultstore"
)

func TestUpsertCreatesThenFetchesByNaturalKey(t *testing.T) {
	ctx := context.Background()
	store := resultstore.New(dbtest.New(t), zap.NewNop())

	payload := map[string]any{"snapshot_id": "abc123"}
	if err := store.Upsert(ctx, db.KindLocalSnapshots, "sys-1", "/srv/backups", payload); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	doc, err := store.Get(ctx, db.KindLocalSnapshots, "sys-1", "/srv/backups")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.PayloadJSON == "" {
		t.Fatal("stored document has no payload")
	}
}

func TestGetMissingDocumentReturnsErrNotFound(t *testing.T) {
	store := resultstore.New(dbtest.New(t), zap.NewNop())

	_, err := store.Get(context.Background(), db.KindLocalBackups, "sys-1", "/nowhere")
	if err != resultstore.ErrNotFound {
		t.Fatalf("Get: got %v, want ErrNotFound", err)
	}
}

func TestUpsertIgnoresStructurallyIdenticalRetry(t *testing.T) {
	ctx := context.Background()
	store := resultstore.New(dbtest.New(t), zap.NewNop())

	payload := map[string]any{"a": 1, "b": 2}
	if err := store.Upsert(ctx, db.KindLocalSnapshots, "sys-1", "/t", payload); err != nil {
		t.Fatalf("Upsert (1st): %v", err)
	}
	first, err := store.Get(ctx, db.KindLocalSnapshots, "sys-1", "/t")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	// Same data, different key order — must be treated as a no-op retry,
	// not a freshness-bumping update (§4.8).
	retry := map[string]any{"b": 2, "a": 1}
	if err := store.Upsert(ctx, db.KindLocalSnapshots, "sys-1", "/t", retry); err != nil {
		t.Fatalf("Upsert (retry): %v", err)
	}
	second, err := store.Get(ctx, db.KindLocalSnapshots, "sys-1", "/t")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if !second.ResponseTimestamp.Equal(first.ResponseTimestamp) {
		t.Fatalf("response_timestamp advanced on a duplicate payload: %v -> %v", first.ResponseTimestamp, second.ResponseTimestamp)
	}
}

func TestUpsertAdvancesTimestampOnRealChange(t *testing.T) {
	ctx := context.Background()
	store := resultstore.New(dbtest.New(t), zap.NewNop())

	if err := store.Upsert(ctx, db.KindLocalSnapshots, "sys-1", "/t", map[string]any{"count": 1}); err != nil {
		t.Fatalf("Upsert (1st): %v", err)
	}
	first, err := store.Get(ctx, db.KindLocalSnapshots, "sys-1", "/t")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if err := store.Upsert(ctx, db.KindLocalSnapshots, "sys-1", "/t", map[string]any{"count": 2}); err != nil {
		t.Fatalf("Upsert (2nd): %v", err)
	}
	second, err := store.Get(ctx, db.KindLocalSnapshots, "sys-1", "/t")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if !second.ResponseTimestamp.After(first.ResponseTimestamp) {
		t.Fatal("response_timestamp did not advance on a genuine payload change")
	}
}

func TestListByAgentFiltersToOneSystemUUID(t *testing.T) {
	ctx := context.Background()
	store := resultstore.New(dbtest.New(t), zap.NewNop())

	if err := store.Upsert(ctx, db.KindLocalBackups, "sys-1", "/a", map[string]any{}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.Upsert(ctx, db.KindLocalBackups, "sys-2", "/b", map[string]any{}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	docs, err := store.ListByAgent(ctx, db.KindLocalBackups, "sys-1")
	if err != nil {
		t.Fatalf("ListByAgent: %v", err)
	}
	if len(docs) != 1 || docs[0].SystemUUID != "sys-1" {
		t.Fatalf("ListByAgent(sys-1) = %+v, want exactly one doc for sys-1", docs)
	}
}

func TestSweepPrunesOnlyStalePrunableKinds(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.New(t)
	store := resultstore.New(gdb, zap.NewNop())

	if err := store.Upsert(ctx, db.KindLocalSnapshots, "sys-1", "/stale", map[string]any{"x": 1}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.Upsert(ctx, db.KindInitializedLocalRepos, "sys-1", "/keep", map[string]any{"x": 1}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Force the snapshot document's response_timestamp into the past so
	// Sweep's cutoff comparison finds it stale.
	if err := gdb.Model(&db.ResultDocument{}).
		Where("kind = ?", db.KindLocalSnapshots).
		Update("response_timestamp", time.Now().UTC().Add(-time.Hour)).Error; err != nil {
		t.Fatalf("backdating response_timestamp: %v", err)
	}

	if err := store.Sweep(ctx, time.Minute); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, err := store.Get(ctx, db.KindLocalSnapshots, "sys-1", "/stale"); err != resultstore.ErrNotFound {
		t.Fatalf("stale snapshot document survived Sweep: err=%v", err)
	}
	if _, err := store.Get(ctx, db.KindInitializedLocalRepos, "sys-1", "/keep"); err != nil {
		t.Fatalf("non-prunable kind was pruned: %v", err)
	}
}
