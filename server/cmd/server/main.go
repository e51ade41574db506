// Package main is the entry point for the vaultline-server binary. It wires
// every Controller-side package together: the Result Store's database, the
// Credential Store's KDF bootstrap, the Auth Service, the durable broker,
// the Connection Manager, the Dispatcher, the DR Monitor, and the HTTP
// router, then serves until SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vaultline/vaultline/server/internal/agentmanager"
	"github.com/vaultline/vaultline/server/internal/api"
	"github.com/vaultline/vaultline/server/internal/auth"
	"github.com/vaultline/vaultline/server/internal/broker"
	"github.com/vaultline/vaultline/server/internal/db"
	"github.com/vaultline/vaultline/server/internal/dispatch"
	"github.com/vaultline/vaultline/server/internal/drmonitor"
	"github.com/vaultline/vaultline/server/internal/liveness"
	"github.com/vaultline/vaultline/server/internal/resulthandlers"
	"github.com/vaultline/vaultline/server/internal/resultstore"
	"github.com/vaultline/vaultline/server/internal/restoreinvoker"
	"github.com/vaultline/vaultline/shared/crypto"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	httpAddr         string
	dbDriver         string
	dbDSN            string
	redisAddr        string
	secretKey        string
	logLevel         string
	tokenTTL         time.Duration
	snapshotRetain   time.Duration
	sweepInterval    time.Duration
	drPolicyFile     string
	restoreWebhook   string
	restoreWebhookSK string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "vaultline-server",
		Short: "Vaultline server — fleet-wide backup control plane",
		Long: `Vaultline server is the Controller half of the Vaultline backup
system. It authenticates agents, dispatches backup/restore/snapshot
mutations over a durable per-agent channel, records results, and watches
for disconnected agents that have breached their DR policy threshold.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("VAULTLINE_HTTP_ADDR", ":8080"), "HTTP API listen address")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("VAULTLINE_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("VAULTLINE_DB_DSN", "./vaultline.db"), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.redisAddr, "redis-addr", envOrDefault("VAULTLINE_REDIS_ADDR", "localhost:6379"), "Redis address backing the durable per-agent inbox")
	root.PersistentFlags().StringVar(&cfg.secretKey, "secret-key", envOrDefault("VAULTLINE_SECRET_KEY", ""), "Passphrase the Credential Store's KDF derives the encryption key from (required)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("VAULTLINE_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().DurationVar(&cfg.tokenTTL, "token-ttl", 30*time.Minute, "Bearer token lifetime")
	root.PersistentFlags().DurationVar(&cfg.snapshotRetain, "snapshot-retention", 60*time.Second, "How long prunable result documents (snapshots/backups) are kept before sweep")
	root.PersistentFlags().DurationVar(&cfg.sweepInterval, "sweep-interval", 30*time.Second, "How often the Result Store sweep runs")
	root.PersistentFlags().StringVar(&cfg.drPolicyFile, "dr-policy-file", envOrDefault("VAULTLINE_DR_POLICY_FILE", ""), "Path to the DR policy JSONC document (empty = DR monitor disabled)")
	root.PersistentFlags().StringVar(&cfg.restoreWebhook, "restore-webhook-url", envOrDefault("VAULTLINE_RESTORE_WEBHOOK_URL", ""), "Webhook URL invoked on a DR threshold breach (empty = log only)")
	root.PersistentFlags().StringVar(&cfg.restoreWebhookSK, "restore-webhook-secret", envOrDefault("VAULTLINE_RESTORE_WEBHOOK_SECRET", ""), "HMAC-SHA256 secret used to sign the restore webhook payload")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vaultline-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.secretKey == "" {
		return fmt.Errorf("secret key is required — set --secret-key or VAULTLINE_SECRET_KEY")
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting vaultline server", zap.String("version", version), zap.String("http_addr", cfg.httpAddr))

	// --- Database ---
	gdb, err := db.New(db.Config{
		Driver:   cfg.dbDriver,
		DSN:      cfg.dbDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// --- Credential Store bootstrap (§7 open question 4: salt persisted
	// per-installation, not the fixed constant the original source used) ---
	creds, err := bootstrapCredentialStore(ctx, gdb, cfg.secretKey)
	if err != nil {
		return fmt.Errorf("failed to bootstrap credential store: %w", err)
	}

	// --- Auth Service ---
	credStore := auth.NewCredentialStore(gdb)
	jwtManager, err := auth.NewJWTManagerGenerated("vaultline-server", cfg.tokenTTL)
	if err != nil {
		return fmt.Errorf("failed to build JWT manager: %w", err)
	}
	authSvc := auth.NewService(credStore, jwtManager)

	// --- Liveness and Result Store ---
	liv := liveness.New(gdb, logger)
	results := resultstore.New(gdb, logger)
	go results.Run(ctx, cfg.sweepInterval, cfg.snapshotRetain)

	// --- Durable broker ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
	defer rdb.Close()
	brk := broker.New(rdb, logger)

	// --- Connection Manager and Dispatcher ---
	responses := resulthandlers.Build(results, logger)
	mgr := agentmanager.New(authSvc, brk, liv, responses, logger)
	dispatcher := dispatch.New(liv, mgr)

	// --- DR Monitor (optional: only runs if a policy file is configured) ---
	if cfg.drPolicyFile != "" {
		policy, err := drmonitor.LoadPolicy(cfg.drPolicyFile)
		if err != nil {
			logger.Error("failed to load DR policy, DR monitor disabled", zap.Error(err))
		} else {
			invoker := buildRestoreInvoker(cfg, logger)
			monitor := drmonitor.New(policy, liv, invoker, logger)
			go monitor.Run(ctx)
		}
	} else {
		logger.Info("no DR policy file configured, DR monitor disabled")
	}

	// --- HTTP server ---
	router := api.NewRouter(api.RouterConfig{
		Auth:       authSvc,
		Manager:    mgr,
		Dispatcher: dispatcher,
		Liveness:   liv,
		Results:    results,
		Creds:      creds,
		Logger:     logger,
	})

	httpSrv := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down vaultline server")
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("vaultline server stopped")
	return nil
}

// bootstrapCredentialStore loads the persisted PBKDF2 salt from
// credential_meta, generating and storing one on first run, then derives
// the Credential Store's AES-256-GCM key from secretKey + salt.
func bootstrapCredentialStore(ctx context.Context, gdb *gorm.DB, secretKey string) (*crypto.CredentialStore, error) {
	var meta db.CredentialMeta
	err := gdb.WithContext(ctx).First(&meta).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		salt, genErr := crypto.NewSalt()
		if genErr != nil {
			return nil, genErr
		}
		meta = db.CredentialMeta{KDFSalt: salt}
		if createErr := gdb.WithContext(ctx).Create(&meta).Error; createErr != nil {
			return nil, fmt.Errorf("persisting kdf salt: %w", createErr)
		}
	case err != nil:
		return nil, fmt.Errorf("loading kdf salt: %w", err)
	}

	key := crypto.DeriveKey(secretKey, meta.KDFSalt)
	return crypto.NewCredentialStore(key)
}

func buildRestoreInvoker(cfg *config, logger *zap.Logger) restoreinvoker.Invoker {
	if cfg.restoreWebhook == "" {
		return restoreinvoker.NewLoggingInvoker(logger)
	}
	return restoreinvoker.NewWebhookInvoker(cfg.restoreWebhook, cfg.restoreWebhookSK, logger)
}

func gormLogLevel(level string) gormlogger.LogLevel {
	if level == "debug" {
		return gormlogger.Info
	}
	return gormlogger.Warn
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
