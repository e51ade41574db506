package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline/agent/internal/metrics"
	"github.com/vaultline/vaultline/shared/types"
)

// Emitter is implemented by whatever can deliver a ResponseMessage
// upstream or into the deferred-materialization path — the Control
// Channel Client in production, a recorder in tests.
type Emitter interface {
	Emit(types.ResponseMessage)
}

// Executor dispatches by operation kind to the BackupTool and emits the
// processing/completed/failed progress pair required for backup/restore
// by §4.5.
type Executor struct {
	tool   *BackupTool
	logger *zap.Logger
}

// New constructs an Executor.
func New(tool *BackupTool, logger *zap.Logger) *Executor {
	return &Executor{tool: tool, logger: logger.Named("executor")}
}

// strParam/sliceParam pull typed values out of the params bag;
// missing or wrong-typed values fall back to zero values since validation
// of required fields happens at the Controller Dispatcher (§4.7).
func strParam(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func sliceParam(p map[string]any, key string) []string {
	raw, ok := p[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Execute runs the operation named by kind and emits the appropriate
// response(s) via emit. For backup/restore it emits a "processing" event
// before spawning and a terminal "completed"/"failed" event after (§4.5
// progress protocol); for init/list_snapshots it emits one terminal
// response.
func (e *Executor) Execute(ctx context.Context, taskUUID string, kind types.OperationKind, params map[string]any, emit Emitter) {
	if taskUUID == "" {
		taskUUID = uuid.NewString()
	}

	isProgress := kind == types.KindBackupLocal || kind == types.KindRestoreLocal ||
		kind == types.KindBackupS3 || kind == types.KindRestoreS3

	if isProgress {
		emit.Emit(types.ResponseMessage{
			TaskUUID: taskUUID, Type: kind.ResponseKind(), TaskStatus: types.TaskProcessing,
		})
	}

	resp, err := e.run(ctx, kind, params)
	resp.TaskUUID = taskUUID
	resp.Type = kind.ResponseKind()

	if err != nil {
		e.logger.Warn("operation failed", zap.String("task_uuid", taskUUID), zap.String("kind", string(kind)), zap.Error(err))
		metrics.ExecutionsTotal.WithLabelValues(string(kind), "failed").Inc()
		resp.TaskStatus = types.TaskFailed
		resp.Error = err.Error()
		emit.Emit(resp)
		return
	}

	metrics.ExecutionsTotal.WithLabelValues(string(kind), "completed").Inc()
	if isProgress {
		resp.TaskStatus = types.TaskCompleted
	}
	emit.Emit(resp)
}

func (e *Executor) run(ctx context.Context, kind types.OperationKind, p map[string]any) (types.ResponseMessage, error) {
	switch kind {
	case types.KindInitLocal:
		res, err := e.tool.InitLocal(ctx, strParam(p, "repo_path"), strParam(p, "password"))
		return resultToResponse(res, strParam(p, "repo_path")), err

	case types.KindSnapshotsLocal:
		res, err := e.tool.SnapshotsLocal(ctx, strParam(p, "repo_path"), strParam(p, "password"))
		return resultToResponse(res, ""), err

	case types.KindBackupLocal:
		res, err := e.tool.BackupLocal(ctx, strParam(p, "repo_path"), strParam(p, "password"),
			sliceParam(p, "paths"), sliceParam(p, "exclude"), sliceParam(p, "tags"))
		return resultToResponse(res, ""), err

	case types.KindRestoreLocal:
		res, err := e.tool.RestoreLocal(ctx, strParam(p, "repo_path"), strParam(p, "password"),
			strParam(p, "snapshot_id"), strParam(p, "target_path"),
			sliceParam(p, "exclude"), sliceParam(p, "include"))
		return resultToResponse(res, ""), err

	case types.KindInitS3:
		res, err := e.tool.InitS3(ctx, strParam(p, "aws_access_key_id"), strParam(p, "aws_secret_access_key"),
			strParam(p, "aws_session_token"), strParam(p, "region"), strParam(p, "bucket_name"), strParam(p, "password"))
		return resultToResponse(res, ""), err

	case types.KindSnapshotsS3:
		res, err := e.tool.SnapshotsS3(ctx, strParam(p, "aws_access_key_id"), strParam(p, "aws_secret_access_key"),
			strParam(p, "aws_session_token"), strParam(p, "region"), strParam(p, "bucket_name"), strParam(p, "password"))
		return resultToResponse(res, ""), err

	case types.KindBackupS3:
		res, err := e.tool.BackupS3(ctx, strParam(p, "aws_access_key_id"), strParam(p, "aws_secret_access_key"),
			strParam(p, "aws_session_token"), strParam(p, "region"), strParam(p, "bucket_name"), strParam(p, "password"),
			sliceParam(p, "paths"), sliceParam(p, "exclude"), sliceParam(p, "tags"))
		return resultToResponse(res, ""), err

	case types.KindRestoreS3:
		res, err := e.tool.RestoreS3(ctx, strParam(p, "aws_access_key_id"), strParam(p, "aws_secret_access_key"),
			strParam(p, "aws_session_token"), strParam(p, "region"), strParam(p, "bucket_name"), strParam(p, "password"),
			strParam(p, "snapshot_id"), strParam(p, "target_path"), sliceParam(p, "exclude"), sliceParam(p, "include"))
		return resultToResponse(res, ""), err

	default:
		return types.ResponseMessage{}, fmt.Errorf("executor: unknown operation kind %q", kind)
	}
}

func resultToResponse(res Result, repoPath string) types.ResponseMessage {
	resp := types.ResponseMessage{
		AlreadyInit:  res.AlreadyInit,
		BackupOutput: res.Summary,
		Snapshots:    res.Snapshots,
		Repository:   repoPath,
	}
	if res.Summary != nil {
		resp.RepoID = res.Summary.SnapshotID
	}
	// A fresh init reports its own repository/id (message_type ==
	// "initialized"), taking precedence over the caller-supplied
	// repo_path and any backup-summary snapshot id.
	if res.Repository != "" {
		resp.Repository = res.Repository
	}
	if res.RepoID != "" {
		resp.RepoID = res.RepoID
	}
	return resp
}

// MarshalParams is a small convenience used by callers that need the raw
// JSON of params for ledger storage.
func MarshalParams(p map[string]any) (string, error) {
	b, err := json.Marshal(p)
	return string(b), err
}
