package api

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/vaultline/vaultline/server/internal/dispatch"
	"github.com/vaultline/vaultline/shared/crypto"
	"github.com/vaultline/vaultline/shared/errs"
	"github.com/vaultline/vaultline/shared/types"
)

// MutationHandler serves the spec §6.1 mutation set: one HTTP endpoint per
// OperationKind, each decoding a flat JSON body into the operation's
// params, encrypting the enumerated credential fields, and handing off to
// the Dispatcher. Grounded on the teacher's policy-trigger handler
// (api/policies.go's POST .../trigger), collapsed to a single generic
// handler parameterized by kind + required fields since every mutation
// here shares the same encrypt-then-dispatch shape.
type MutationHandler struct {
	dispatcher *dispatch.Dispatcher
	creds      *crypto.CredentialStore
	logger     *zap.Logger
}

func NewMutationHandler(d *dispatch.Dispatcher, creds *crypto.CredentialStore, logger *zap.Logger) *MutationHandler {
	return &MutationHandler{dispatcher: d, creds: creds, logger: logger.Named("mutation_handler")}
}

// mutationSpec pairs an OperationKind with the params that must be present
// in the request body (beyond system_uuid, which every mutation needs
// since the Dispatcher's unit of work is always one connected agent).
type mutationSpec struct {
	kind     types.OperationKind
	required []string
}

var mutationSpecs = map[string]mutationSpec{
	"init_local_repo":          {types.KindInitLocal, []string{"repo_path", "password"}},
	"get_local_repo_snapshots": {types.KindSnapshotsLocal, []string{"repo_path", "password"}},
	"do_local_repo_backup":     {types.KindBackupLocal, []string{"repo_path", "password", "paths"}},
	"do_local_repo_restore":    {types.KindRestoreLocal, []string{"repo_path", "password", "snapshot_id", "target_path"}},
	"init_s3_repo":             {types.KindInitS3, []string{"org", "aws_access_key_id", "aws_secret_access_key", "region", "bucket_name", "password"}},
	"get_s3_repo_snapshots":    {types.KindSnapshotsS3, []string{"org", "aws_access_key_id", "aws_secret_access_key", "region", "bucket_name", "password"}},
	"do_s3_repo_backup":        {types.KindBackupS3, []string{"org", "aws_access_key_id", "aws_secret_access_key", "region", "bucket_name", "password", "paths"}},
	"do_s3_repo_restore":       {types.KindRestoreS3, []string{"org", "aws_access_key_id", "aws_secret_access_key", "region", "bucket_name", "password", "snapshot_id", "target_path"}},
}

// Handle returns the http.HandlerFunc for one named mutation (e.g.
// "init_local_repo"). route and router.go stay in sync via mutationSpecs.
func (h *MutationHandler) Handle(name string) http.HandlerFunc {
	spec, ok := mutationSpecs[name]
	if !ok {
		panic(fmt.Sprintf("api: unknown mutation %q", name))
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if !decodeJSON(w, r, &body) {
			return
		}

		systemUUID, _ := body["system_uuid"].(string)
		if systemUUID == "" {
			ErrBadRequest(w, "system_uuid is required")
			return
		}
		org, _ := body["org"].(string)

		for _, field := range spec.required {
			if v, ok := body[field]; !ok || v == nil || v == "" {
				ErrBadRequest(w, fmt.Sprintf("%s is required", field))
				return
			}
		}

		params := make(map[string]any, len(body))
		for k, v := range body {
			if k == "system_uuid" || k == "org" {
				continue
			}
			params[k] = v
		}

		encrypted, err := h.creds.EncryptParams(params)
		if err != nil {
			h.logger.Error("failed to encrypt credential fields", zap.String("mutation", name), zap.Error(err))
			ErrInternal(w)
			return
		}

		taskUUID, err := h.dispatcher.Dispatch(r.Context(), spec.kind, systemUUID, org, encrypted)
		if err != nil {
			h.writeDispatchError(w, name, systemUUID, err)
			return
		}

		Ok(w, fmt.Sprintf("%s dispatched to %s as task %s", name, systemUUID, taskUUID))
	}
}

func (h *MutationHandler) writeDispatchError(w http.ResponseWriter, name, systemUUID string, err error) {
	var validation *errs.ValidationError
	var transient *errs.TransientUpstream
	var broker *errs.BrokerUnavailable

	switch {
	case errors.As(err, &validation):
		ErrUnprocessable(w, validation.Error())
	case errors.As(err, &transient):
		errJSON(w, http.StatusServiceUnavailable, "agent is not currently connected", "client_offline")
	case errors.As(err, &broker):
		errJSON(w, http.StatusServiceUnavailable, "dispatch broker unavailable", "broker_unavailable")
	default:
		h.logger.Error("dispatch failed", zap.String("mutation", name), zap.String("system_uuid", systemUUID), zap.Error(err))
		ErrInternal(w)
	}
}
