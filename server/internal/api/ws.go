package api

import (
	"net/http"

	"github.com/vaultline/vaultline/server/internal/agentmanager"
)

// WSHandler serves the /channel upgrade endpoint agents dial into. Unlike
// the teacher's browser-facing WSHandler, the bearer token here arrives as
// an Authorization header (a native Go websocket dial sets headers freely,
// unlike a browser's WebSocket API), and the org parameter is required —
// both checked by agentmanager.Manager.HandleUpgrade, which also owns the
// full §4.6 on-open sequence, so this handler is a thin pass-through.
type WSHandler struct {
	manager *agentmanager.Manager
}

func NewWSHandler(manager *agentmanager.Manager) *WSHandler {
	return &WSHandler{manager: manager}
}

// ServeChannel handles GET /channel. Blocks until the agent disconnects.
func (h *WSHandler) ServeChannel(w http.ResponseWriter, r *http.Request) {
	h.manager.HandleUpgrade(w, r)
}
