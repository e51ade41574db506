package resulthandlers_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vaultline/vaultline/server/internal/db"
	"github.com/vaultline/vaultline/server/internal/dbtest"
	"github.com/vaultline/vaultline/server/internal/resulthandlers"
	"github.com/vaultline/vaultline/server/internal/resultstore"
	"github.com/vaultline/vaultline/shared/types"
)

// TestDispatchIgnoresRetryWithOnlyTaskUUIDDiffering reproduces §8 scenario
// S2: a second response carrying the same snapshots list but, per §3, a
// freshly generated task_uuid must be treated as a duplicate retry and must
// not bump the stored response_timestamp.
func TestDispatchIgnoresRetryWithOnlyTaskUUIDDiffering(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.New(t)
	store := resultstore.New(gdb, zap.NewNop())
	reg := resulthandlers.Build(store, zap.NewNop())

	snapshots := []types.Snapshot{{ShortID: "abc123", Time: time.Now().UTC()}}

	first := types.ResponseMessage{
		TaskUUID:   "task-1",
		Type:       types.KindSnapshotsLocal.ResponseKind(),
		SystemUUID: "sys-1",
		Target:     "/srv/backups",
		Snapshots:  snapshots,
	}
	if err := resulthandlers.Dispatch(ctx, reg, first); err != nil {
		t.Fatalf("Dispatch (1st): %v", err)
	}
	doc1, err := store.Get(ctx, db.KindLocalSnapshots, "sys-1", "/srv/backups")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	second := first
	second.TaskUUID = "task-2"
	if err := resulthandlers.Dispatch(ctx, reg, second); err != nil {
		t.Fatalf("Dispatch (2nd): %v", err)
	}
	doc2, err := store.Get(ctx, db.KindLocalSnapshots, "sys-1", "/srv/backups")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if !doc2.ResponseTimestamp.Equal(doc1.ResponseTimestamp) {
		t.Fatalf("response_timestamp advanced on a response differing only in task_uuid: %v -> %v",
			doc1.ResponseTimestamp, doc2.ResponseTimestamp)
	}
}

// TestDispatchRecordsRealSnapshotChange is the positive counterpart: a
// genuinely different snapshots list must still advance response_timestamp.
func TestDispatchRecordsRealSnapshotChange(t *testing.T) {
	ctx := context.Background()
	store := resultstore.New(dbtest.New(t), zap.NewNop())
	reg := resulthandlers.Build(store, zap.NewNop())

	first := types.ResponseMessage{
		TaskUUID:   "task-1",
		Type:       types.KindSnapshotsLocal.ResponseKind(),
		SystemUUID: "sys-1",
		Target:     "/srv/backups",
		Snapshots:  []types.Snapshot{{ShortID: "abc123", Time: time.Now().UTC()}},
	}
	if err := resulthandlers.Dispatch(ctx, reg, first); err != nil {
		t.Fatalf("Dispatch (1st): %v", err)
	}
	doc1, err := store.Get(ctx, db.KindLocalSnapshots, "sys-1", "/srv/backups")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	second := types.ResponseMessage{
		TaskUUID:   "task-2",
		Type:       types.KindSnapshotsLocal.ResponseKind(),
		SystemUUID: "sys-1",
		Target:     "/srv/backups",
		Snapshots:  []types.Snapshot{{ShortID: "abc123", Time: time.Now().UTC()}, {ShortID: "def456", Time: time.Now().UTC()}},
	}
	if err := resulthandlers.Dispatch(ctx, reg, second); err != nil {
		t.Fatalf("Dispatch (2nd): %v", err)
	}
	doc2, err := store.Get(ctx, db.KindLocalSnapshots, "sys-1", "/srv/backups")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if !doc2.ResponseTimestamp.After(doc1.ResponseTimestamp) {
		t.Fatal("response_timestamp did not advance when the snapshots list genuinely changed")
	}
}

// TestDispatchInitStoresRepositoryIdentityNotTaskUUID covers the init
// result kind: the stored payload must carry repository/id, not the whole
// ResponseMessage, so an init retry with a new task_uuid dedups correctly.
func TestDispatchInitStoresRepositoryIdentityNotTaskUUID(t *testing.T) {
	ctx := context.Background()
	store := resultstore.New(dbtest.New(t), zap.NewNop())
	reg := resulthandlers.Build(store, zap.NewNop())

	msg := types.ResponseMessage{
		TaskUUID:   "task-1",
		Type:       types.KindInitLocal.ResponseKind(),
		SystemUUID: "sys-1",
		Repository: "/var/b",
		RepoID:     "abc",
	}
	if err := resulthandlers.Dispatch(ctx, reg, msg); err != nil {
		t.Fatalf("Dispatch (1st): %v", err)
	}
	doc1, err := store.Get(ctx, db.KindInitializedLocalRepos, "sys-1", "abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	retry := msg
	retry.TaskUUID = "task-2"
	if err := resulthandlers.Dispatch(ctx, reg, retry); err != nil {
		t.Fatalf("Dispatch (retry): %v", err)
	}
	doc2, err := store.Get(ctx, db.KindInitializedLocalRepos, "sys-1", "abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if !doc2.ResponseTimestamp.Equal(doc1.ResponseTimestamp) {
		t.Fatalf("response_timestamp advanced on an init retry differing only in task_uuid: %v -> %v",
			doc1.ResponseTimestamp, doc2.ResponseTimestamp)
	}
}
