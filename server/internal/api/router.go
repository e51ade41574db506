package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline/server/internal/agentmanager"
	"github.com/vaultline/vaultline/server/internal/auth"
	"github.com/vaultline/vaultline/server/internal/dispatch"
	"github.com/vaultline/vaultline/server/internal/liveness"
	"github.com/vaultline/vaultline/server/internal/resultstore"
	"github.com/vaultline/vaultline/shared/crypto"
)

// RouterConfig collects the dependencies NewRouter wires into the
// Controller's HTTP surface. Trimmed from the teacher's nine-repository
// RouterConfig to exactly what spec §6.1/§6.2/§6.6 need: one auth service,
// one connection manager, one dispatcher, one liveness store, one result
// store.
type RouterConfig struct {
	Auth       *auth.Service
	Manager    *agentmanager.Manager
	Dispatcher *dispatch.Dispatcher
	Liveness   *liveness.Store
	Results    *resultstore.Store
	Creds      *crypto.CredentialStore
	Logger     *zap.Logger
}

// NewRouter builds the Controller's full HTTP route table.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(RequestLogger(cfg.Logger))

	authHandler := NewAuthHandler(cfg.Auth, cfg.Logger)
	wsHandler := NewWSHandler(cfg.Manager)
	mutationHandler := NewMutationHandler(cfg.Dispatcher, cfg.Creds, cfg.Logger)
	queryHandler := NewQueryHandler(cfg.Liveness, cfg.Results, cfg.Logger)

	// §6.6 auth surface — unauthenticated.
	r.Post("/token", authHandler.IssueToken)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.Auth))

		// §4.6 control channel upgrade — agents dial in with a bearer
		// token obtained from /token.
		r.Get("/channel", wsHandler.ServeChannel)

		// §6.1 mutation set.
		r.Route("/mutations", func(r chi.Router) {
			for name := range mutationSpecs {
				r.Post("/"+name, mutationHandler.Handle(name))
			}
		})

		// §6.2 query surface.
		r.Get("/clients", queryHandler.GetAllClients)
		r.Get("/clients/{system_uuid}", queryHandler.GetClientStatus)
		r.Get("/orgs/{org}/clients", queryHandler.GetOrgClients)
		for name := range docKinds {
			r.Get("/"+name, queryHandler.ListDocuments(name))
		}
	})

	return r
}
