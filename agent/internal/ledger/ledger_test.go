package ledger_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/vaultline/vaultline/agent/internal/ledger"
	"github.com/vaultline/vaultline/shared/types"
)

func openTestStore(t *testing.T) *ledger.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := ledger.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertIsUniqueByNormalizedParams(t *testing.T) {
	s := openTestStore(t)
	params := map[string]any{"repo_path": "/srv/backups", "password": "ciphertext-token"}

	inserted, err := s.Insert(types.KindInitLocal, params, json.RawMessage(`{"repository":"/srv/backups"}`))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !inserted {
		t.Fatal("first Insert reported a duplicate")
	}

	// §8 property 2: re-inserting a row with the same normalize(params)
	// is a no-op, even with keys reordered and a different response body.
	reordered := map[string]any{"password": "ciphertext-token", "repo_path": "/srv/backups"}
	inserted, err = s.Insert(types.KindInitLocal, reordered, json.RawMessage(`{"repository":"changed"}`))
	if err != nil {
		t.Fatalf("Insert (duplicate): %v", err)
	}
	if inserted {
		t.Fatal("duplicate Insert was not a no-op")
	}

	row, ok, err := s.Get(types.KindInitLocal, params)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get did not find the inserted row")
	}
	if string(row.Response) != `{"repository":"/srv/backups"}` {
		t.Fatalf("Response = %s, want the original row unchanged by the duplicate insert", row.Response)
	}
}

func TestInsertDistinguishesDifferentParams(t *testing.T) {
	s := openTestStore(t)

	for _, path := range []string{"/srv/a", "/srv/b"} {
		inserted, err := s.Insert(types.KindInitLocal, map[string]any{"repo_path": path}, json.RawMessage(`{}`))
		if err != nil {
			t.Fatalf("Insert(%q): %v", path, err)
		}
		if !inserted {
			t.Fatalf("Insert(%q) reported a duplicate against a distinct key", path)
		}
	}
}

func TestScheduleLedgerRoundTrip(t *testing.T) {
	s := openTestStore(t)
	row := types.ScheduleRow{
		TaskUUID:   "task-1",
		Kind:       types.KindBackupLocal,
		ParamsJSON: `{"paths":["/etc"]}`,
		Status:     types.TaskPending,
	}
	if err := s.PutSchedule(row); err != nil {
		t.Fatalf("PutSchedule: %v", err)
	}

	pending, err := s.PendingSchedules()
	if err != nil {
		t.Fatalf("PendingSchedules: %v", err)
	}
	if len(pending) != 1 || pending[0].TaskUUID != "task-1" {
		t.Fatalf("PendingSchedules = %+v, want exactly task-1 pending", pending)
	}

	if err := s.MarkScheduleDone(row.TaskUUID, types.TaskCompleted); err != nil {
		t.Fatalf("MarkScheduleDone: %v", err)
	}
	pending, err = s.PendingSchedules()
	if err != nil {
		t.Fatalf("PendingSchedules (after completion): %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("PendingSchedules after completion = %+v, want none still pending", pending)
	}
}

func TestOutboxDeferredMaterialization(t *testing.T) {
	s := openTestStore(t)
	resp := json.RawMessage(`{"task_uuid":"task-2","type":"response_local_repo_backup"}`)

	if err := s.PutOutbox("task-2", resp); err != nil {
		t.Fatalf("PutOutbox: %v", err)
	}

	out, err := s.Outbox()
	if err != nil {
		t.Fatalf("Outbox: %v", err)
	}
	if string(out["task-2"]) != string(resp) {
		t.Fatalf("Outbox()[task-2] = %s, want %s", out["task-2"], resp)
	}

	if err := s.DeleteOutbox("task-2"); err != nil {
		t.Fatalf("DeleteOutbox: %v", err)
	}
	out, err = s.Outbox()
	if err != nil {
		t.Fatalf("Outbox (after delete): %v", err)
	}
	if _, ok := out["task-2"]; ok {
		t.Fatal("DeleteOutbox did not remove the entry")
	}
}
