package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/vaultline/vaultline/server/internal/auth"
)

// AuthHandler serves the bearer-token issuance endpoint (spec §6.6).
// Drastically simplified from the teacher's login/refresh/logout/OIDC
// surface — agent-to-Controller auth has no session, no cookies, no
// identity provider: one password exchange yields one bearer token.
type AuthHandler struct {
	svc    *auth.Service
	logger *zap.Logger
}

func NewAuthHandler(svc *auth.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, logger: logger.Named("auth_handler")}
}

type tokenRequest struct {
	SystemUUID string `json:"system_uuid"`
	Password   string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// IssueToken handles POST /token: exchange a system_uuid/password pair for
// a bearer token an agent presents on every subsequent /channel dial.
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SystemUUID == "" || req.Password == "" {
		ErrBadRequest(w, "system_uuid and password are required")
		return
	}

	token, err := h.svc.IssueToken(r.Context(), req.SystemUUID, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			ErrUnauthorized(w)
			return
		}
		h.logger.Error("token issuance failed", zap.String("system_uuid", req.SystemUUID), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, tokenResponse{AccessToken: token, TokenType: "Bearer"})
}
