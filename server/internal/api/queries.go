package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline/server/internal/db"
	"github.com/vaultline/vaultline/server/internal/liveness"
	"github.com/vaultline/vaultline/server/internal/resultstore"
	"github.com/vaultline/vaultline/shared/types"
)

// QueryHandler serves the spec §6.2 read surface over the Result Store and
// the liveness table. Grounded on the teacher's repository-backed list
// handlers (api/agents.go), rebuilt around the kind-keyed document model
// instead of per-entity GORM repositories.
type QueryHandler struct {
	liveness *liveness.Store
	results  *resultstore.Store
	logger   *zap.Logger
}

func NewQueryHandler(liv *liveness.Store, results *resultstore.Store, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{liveness: liv, results: results, logger: logger.Named("query_handler")}
}

// GetClientStatus handles GET /clients/{system_uuid} (get_client_status).
func (h *QueryHandler) GetClientStatus(w http.ResponseWriter, r *http.Request) {
	systemUUID := chi.URLParam(r, "system_uuid")
	l, err := h.liveness.Get(r.Context(), systemUUID)
	if errors.Is(err, liveness.ErrNotFound) {
		ErrNotFound(w)
		return
	}
	if err != nil {
		h.logger.Error("get_client_status failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, types.ClientStatus{SystemUUID: l.SystemUUID, Status: l.Status, Org: l.Org})
}

// GetAllClients handles GET /clients (get_all_clients).
func (h *QueryHandler) GetAllClients(w http.ResponseWriter, r *http.Request) {
	rows, err := h.liveness.ListAll(r.Context())
	if err != nil {
		h.logger.Error("get_all_clients failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, toClientStatusList(rows))
}

// GetOrgClients handles GET /orgs/{org}/clients (get_org_clients).
func (h *QueryHandler) GetOrgClients(w http.ResponseWriter, r *http.Request) {
	org := chi.URLParam(r, "org")
	rows, err := h.liveness.ListByOrg(r.Context(), org)
	if err != nil {
		h.logger.Error("get_org_clients failed", zap.String("org", org), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, toClientStatusList(rows))
}

func toClientStatusList(rows []types.Liveness) []types.ClientStatus {
	out := make([]types.ClientStatus, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.ClientStatus{SystemUUID: r.SystemUUID, Status: r.Status, Org: r.Org})
	}
	return out
}

// docKinds maps a §6.2 list-query name to its local and cloud result kinds.
var docKinds = map[string][2]db.ResultKind{
	"initialized_repos": {db.KindInitializedLocalRepos, db.KindInitializedCloudRepos},
	"repo_snapshots":     {db.KindLocalSnapshots, db.KindCloudSnapshots},
	"backup_jobs":        {db.KindLocalBackups, db.KindCloudBackups},
	"restore_jobs":       {db.KindLocalRestores, db.KindCloudRestores},
}

// ListDocuments returns the http.HandlerFunc for one named list query
// (get_initialized_repos / get_repo_snapshots / get_backup_jobs /
// get_restore_jobs). Accepts optional ?system_uuid=, ?org=, ?type=local|cloud
// (default "local") query parameters.
func (h *QueryHandler) ListDocuments(name string) http.HandlerFunc {
	kinds, ok := docKinds[name]
	if !ok {
		panic("api: unknown list query " + name)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		kind := kinds[0]
		if r.URL.Query().Get("type") == "cloud" {
			kind = kinds[1]
		}

		systemUUID := r.URL.Query().Get("system_uuid")
		org := r.URL.Query().Get("org")

		var (
			docs []db.ResultDocument
			err  error
		)
		switch {
		case systemUUID != "":
			docs, err = h.results.ListByAgent(r.Context(), kind, systemUUID)
		case org != "" && kind.IsLocal():
			docs, err = h.listByOrg(r.Context(), kind, org)
		default:
			docs, err = h.results.ListByKind(r.Context(), kind)
		}
		if err != nil {
			h.logger.Error("list query failed", zap.String("query", name), zap.Error(err))
			ErrInternal(w)
			return
		}

		Ok(w, toRawDocs(docs))
	}
}

// listByOrg fans the agent-scoped listing out across every agent belonging
// to org, since result_documents carries no org column of its own — org
// membership lives in client_status, not in the document store (spec §3
// keys documents by system_uuid/target, not by org).
func (h *QueryHandler) listByOrg(ctx context.Context, kind db.ResultKind, org string) ([]db.ResultDocument, error) {
	agents, err := h.liveness.ListByOrg(ctx, org)
	if err != nil {
		return nil, err
	}
	var out []db.ResultDocument
	for _, a := range agents {
		docs, err := h.results.ListByAgent(ctx, kind, a.SystemUUID)
		if err != nil {
			return nil, err
		}
		out = append(out, docs...)
	}
	return out, nil
}

func toRawDocs(docs []db.ResultDocument) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(docs))
	for _, d := range docs {
		out = append(out, json.RawMessage(d.PayloadJSON))
	}
	return out
}
