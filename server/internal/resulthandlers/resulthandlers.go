// Package resulthandlers builds the Controller-side "type -> handler"
// dispatch table spec §4.6/§9 calls for: routing an inbound
// types.ResponseMessage to the correct resultstore.Upsert call by its
// wire Type. Grounded on the agent-side handlers.Registry pattern
// (agent/internal/handlers/handlers.go) — an explicit map built once at
// startup, no class-hierarchy dispatch.
package resulthandlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vaultline/vaultline/server/internal/db"
	"github.com/vaultline/vaultline/server/internal/resultstore"
	"github.com/vaultline/vaultline/shared/types"
)

// Func handles one inbound response message.
type Func func(ctx context.Context, msg types.ResponseMessage) error

// Registry maps a response message's Type field to its handler.
type Registry map[string]Func

// entry pairs an operation kind with the result kind its responses land
// in, and the extractor that picks the "relevant sub-document" (§4.8) a
// new response is stored and compared as — never the whole
// ResponseMessage, since that carries task_uuid, which spec §3 mandates
// is freshly generated on every invocation and would defeat the
// dedup comparison on every single call.
type entry struct {
	op      types.OperationKind
	kind    db.ResultKind
	payload func(types.ResponseMessage) any
}

// initResult is the relevant sub-document for init responses: the
// repository's tool-assigned identity plus whether this was a fresh
// init or a recognized "already initialized" outcome (§3, §4.5).
type initResult struct {
	Repository  string `json:"repository,omitempty"`
	RepoID      string `json:"id,omitempty"`
	AlreadyInit bool   `json:"already_initialized,omitempty"`
}

func initPayload(msg types.ResponseMessage) any {
	return initResult{Repository: msg.Repository, RepoID: msg.RepoID, AlreadyInit: msg.AlreadyInit}
}

func snapshotsPayload(msg types.ResponseMessage) any { return msg.Snapshots }

func backupOutputPayload(msg types.ResponseMessage) any { return msg.BackupOutput }

var entries = []entry{
	{types.KindInitLocal, db.KindInitializedLocalRepos, initPayload},
	{types.KindSnapshotsLocal, db.KindLocalSnapshots, snapshotsPayload},
	{types.KindBackupLocal, db.KindLocalBackups, backupOutputPayload},
	{types.KindRestoreLocal, db.KindLocalRestores, backupOutputPayload},
	{types.KindInitS3, db.KindInitializedCloudRepos, initPayload},
	{types.KindSnapshotsS3, db.KindCloudSnapshots, snapshotsPayload},
	{types.KindBackupS3, db.KindCloudBackups, backupOutputPayload},
	{types.KindRestoreS3, db.KindCloudRestores, backupOutputPayload},
}

// Build constructs the full dispatch table over a Result Store.
func Build(store *resultstore.Store, logger *zap.Logger) Registry {
	log := logger.Named("resulthandlers")
	reg := make(Registry, len(entries))
	for _, e := range entries {
		e := e
		reg[e.op.ResponseKind()] = func(ctx context.Context, msg types.ResponseMessage) error {
			systemUUID := msg.SystemUUID
			if !e.kind.IsLocal() {
				systemUUID = ""
			}
			target := msg.Target
			if target == "" {
				target = msg.RepoID
			}
			if msg.Error != "" {
				log.Warn("response carried an error, recording as-is",
					zap.String("type", msg.Type), zap.String("task_uuid", msg.TaskUUID), zap.String("error", msg.Error))
			}
			return store.Upsert(ctx, e.kind, systemUUID, target, e.payload(msg))
		}
	}
	return reg
}

// Dispatch looks up and invokes the handler for msg.Type, mirroring the
// agent-side registry's lookup-miss handling.
func Dispatch(ctx context.Context, reg Registry, msg types.ResponseMessage) error {
	fn, ok := reg[msg.Type]
	if !ok {
		return fmt.Errorf("resulthandlers: no handler registered for response type %q", msg.Type)
	}
	return fn(ctx, msg)
}
