package liveness_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/vaultline/vaultline/server/internal/dbtest"
	"github.com/vaultline/vaultline/server/internal/liveness"
	"github.com/vaultline/vaultline/shared/types"
)

func TestRecordConnectThenGet(t *testing.T) {
	ctx := context.Background()
	store := liveness.New(dbtest.New(t), zap.NewNop())

	if err := store.RecordConnect(ctx, "sys-1", "acme"); err != nil {
		t.Fatalf("RecordConnect: %v", err)
	}

	got, err := store.Get(ctx, "sys-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != types.AgentStatusConnected {
		t.Fatalf("Status = %q, want %q", got.Status, types.AgentStatusConnected)
	}
	if got.Org != "acme" {
		t.Fatalf("Org = %q, want %q", got.Org, "acme")
	}
	if got.ConnectedAt.IsZero() {
		t.Fatal("ConnectedAt was not set")
	}
}

func TestGetUnknownAgentReturnsErrNotFound(t *testing.T) {
	store := liveness.New(dbtest.New(t), zap.NewNop())

	if _, err := store.Get(context.Background(), "does-not-exist"); err != liveness.ErrNotFound {
		t.Fatalf("Get: got %v, want ErrNotFound", err)
	}
}

func TestIsConnectedReflectsLatestState(t *testing.T) {
	ctx := context.Background()
	store := liveness.New(dbtest.New(t), zap.NewNop())

	connected, err := store.IsConnected(ctx, "sys-1")
	if err != nil {
		t.Fatalf("IsConnected (unknown agent): %v", err)
	}
	if connected {
		t.Fatal("unknown agent reported connected")
	}

	if err := store.RecordConnect(ctx, "sys-1", "acme"); err != nil {
		t.Fatalf("RecordConnect: %v", err)
	}
	connected, err = store.IsConnected(ctx, "sys-1")
	if err != nil {
		t.Fatalf("IsConnected: %v", err)
	}
	if !connected {
		t.Fatal("agent not reported connected after RecordConnect")
	}

	if err := store.RecordDisconnect(ctx, "sys-1"); err != nil {
		t.Fatalf("RecordDisconnect: %v", err)
	}
	connected, err = store.IsConnected(ctx, "sys-1")
	if err != nil {
		t.Fatalf("IsConnected (after disconnect): %v", err)
	}
	if connected {
		t.Fatal("agent still reported connected after RecordDisconnect")
	}
}

func TestRecordConnectIsIdempotentPerAgent(t *testing.T) {
	ctx := context.Background()
	store := liveness.New(dbtest.New(t), zap.NewNop())

	if err := store.RecordConnect(ctx, "sys-1", "acme"); err != nil {
		t.Fatalf("RecordConnect (1st): %v", err)
	}
	if err := store.RecordConnect(ctx, "sys-1", "acme"); err != nil {
		t.Fatalf("RecordConnect (2nd): %v", err)
	}

	rows, err := store.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("ListAll returned %d rows, want 1 (reconnect should upsert, not duplicate)", len(rows))
	}
}

func TestListByOrgFiltersToOneOrg(t *testing.T) {
	ctx := context.Background()
	store := liveness.New(dbtest.New(t), zap.NewNop())

	if err := store.RecordConnect(ctx, "sys-1", "acme"); err != nil {
		t.Fatalf("RecordConnect: %v", err)
	}
	if err := store.RecordConnect(ctx, "sys-2", "initech"); err != nil {
		t.Fatalf("RecordConnect: %v", err)
	}

	rows, err := store.ListByOrg(ctx, "acme")
	if err != nil {
		t.Fatalf("ListByOrg: %v", err)
	}
	if len(rows) != 1 || rows[0].SystemUUID != "sys-1" {
		t.Fatalf("ListByOrg(acme) = %+v, want exactly sys-1", rows)
	}
}
