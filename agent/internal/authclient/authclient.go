// Package authclient exchanges agent credentials for a bearer token from
// the Controller's Auth Service (§6.6), used by the Control Channel Client
// before every websocket dial attempt.
//
// Grounded on the teacher's server/internal/notification/sender_webhook.go
// HTTP client shape: a *http.Client with a fixed timeout, NewRequestWithContext,
// JSON body, non-2xx treated as failure.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vaultline/vaultline/shared/errs"
)

// Client fetches bearer tokens from the Controller's POST /token endpoint.
type Client struct {
	httpClient *http.Client
	tokenURL   string
}

// New constructs a Client pointed at baseURL + "/token".
func New(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokenURL:   baseURL + "/token",
	}
}

type tokenRequest struct {
	SystemUUID string `json:"system_uuid"`
	Password   string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// FetchToken exchanges systemUUID/password for a bearer token (§4.10,
// §6.6). A non-2xx response is an AuthFailure; the Control Channel
// Client's Run loop retries it with backoff like any other session error.
func (c *Client) FetchToken(ctx context.Context, systemUUID, password string) (string, error) {
	body, err := json.Marshal(tokenRequest{SystemUUID: systemUUID, Password: password})
	if err != nil {
		return "", fmt.Errorf("authclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("authclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &errs.TransientUpstream{Err: fmt.Errorf("authclient: token request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &errs.AuthFailure{Err: fmt.Errorf("authclient: token endpoint returned status %d", resp.StatusCode)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("authclient: decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", &errs.AuthFailure{Err: fmt.Errorf("authclient: empty access_token in response")}
	}
	return tr.AccessToken, nil
}
