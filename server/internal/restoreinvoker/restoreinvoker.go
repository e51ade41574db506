// Package restoreinvoker implements the DR Monitor's (C9) restore trigger
// mechanism as an outbound webhook, decoupling the monitor from whatever
// system actually executes the restore. Adapted from the teacher's
// notification/sender_webhook.go (HTTP POST + optional HMAC-SHA256
// signing), repointed at a restore-trigger payload instead of a
// notification one.
package restoreinvoker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Invoker is the interface drmonitor depends on — decoupled so tests can
// substitute a fake and so the Controller need not hardcode one restore
// trigger mechanism (spec §4.9: "invoking an injected RestoreInvoker").
type Invoker interface {
	Invoke(ctx context.Context, agentUUID string, restoreConfig map[string]any) error
}

// payload is the JSON body POSTed to the configured webhook URL.
type payload struct {
	SystemUUID    string         `json:"system_uuid"`
	RestoreConfig map[string]any `json:"restore_config"`
	Timestamp     string         `json:"timestamp"`
}

// WebhookInvoker POSTs a restore-trigger payload to a fixed URL, optionally
// HMAC-signed, and treats any non-2xx response as failure.
type WebhookInvoker struct {
	client *http.Client
	url    string
	secret string
	logger *zap.Logger
}

func NewWebhookInvoker(url, secret string, logger *zap.Logger) *WebhookInvoker {
	return &WebhookInvoker{
		client: &http.Client{Timeout: 15 * time.Second},
		url:    url,
		secret: secret,
		logger: logger.Named("restoreinvoker"),
	}
}

func (w *WebhookInvoker) Invoke(ctx context.Context, agentUUID string, restoreConfig map[string]any) error {
	data, err := json.Marshal(payload{
		SystemUUID:    agentUUID,
		RestoreConfig: restoreConfig,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("restoreinvoker: marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("restoreinvoker: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Vaultline-DRMonitor/1.0")

	if w.secret != "" {
		req.Header.Set("X-Vaultline-Signature", "sha256="+hmacSHA256(data, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("restoreinvoker: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("restoreinvoker: webhook returned non-2xx status %d", resp.StatusCode)
	}

	w.logger.Info("restore invoked", zap.String("system_uuid", agentUUID))
	return nil
}

func hmacSHA256(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// LoggingInvoker only logs the intended restore trigger — the fallback
// used when no webhook URL is configured, so the DR Monitor can still run
// (and its testable properties still hold) without a real external sink.
type LoggingInvoker struct {
	logger *zap.Logger
}

func NewLoggingInvoker(logger *zap.Logger) *LoggingInvoker {
	return &LoggingInvoker{logger: logger.Named("restoreinvoker")}
}

func (l *LoggingInvoker) Invoke(ctx context.Context, agentUUID string, restoreConfig map[string]any) error {
	l.logger.Warn("no restore webhook configured, logging trigger only",
		zap.String("system_uuid", agentUUID), zap.Any("restore_config", restoreConfig))
	return nil
}
