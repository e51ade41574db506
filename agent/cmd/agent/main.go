// Package main is the entry point for the vaultline-agent binary.
// It wires all internal packages together and starts the control channel.
//
// Startup sequence:
//  1. Parse CLI flags / environment variables
//  2. Build logger
//  3. Resolve this machine's system_uuid
//  4. Open the Agent Local Ledger (bbolt)
//  5. Build the Operation Executor (backup-tool wrapper)
//  6. Build the Control Channel Client
//  7. Build the Scheduler and the handlers registry, wired into the client
//  8. Start the scheduler (which reloads persisted schedule_ledger rows)
//     and the channel client
//  9. Block until SIGINT/SIGTERM, then graceful shutdown
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/vaultline/vaultline/agent/internal/channel"
	"github.com/vaultline/vaultline/agent/internal/executor"
	"github.com/vaultline/vaultline/agent/internal/handlers"
	"github.com/vaultline/vaultline/agent/internal/identity"
	"github.com/vaultline/vaultline/agent/internal/ledger"
	"github.com/vaultline/vaultline/agent/internal/scheduler"
	"github.com/vaultline/vaultline/shared/types"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	serverURL     string
	systemUUID    string
	password      string
	stateDir      string
	backupToolBin string
	logLevel      string
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
		Use:   "vaultline-agent",
		Short: "Vaultline agent — backup agent for the Vaultline system",
		Long: `Vaultline agent runs on each machine to be backed up.
It authenticates with the Controller, opens a persistent control channel,
receives backup/restore/snapshot-listing operations, and executes them
using the configured backup-tool binary.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.serverURL, "server-url", envOrDefault("VAULTLINE_SERVER_URL", "http://localhost:8080"), "Controller base URL (used for auth and the control channel)")
	root.PersistentFlags().StringVar(&cfg.systemUUID, "system-uuid", envOrDefault("VAULTLINE_SYSTEM_UUID", ""), "This agent's stable identity (empty = derive from host and persist)")
	root.PersistentFlags().StringVar(&cfg.password, "password", envOrDefault("VAULTLINE_AGENT_PASSWORD", ""), "Password presented to the Controller's auth endpoint")
	root.PersistentFlags().StringVar(&cfg.stateDir, "state-dir", envOrDefault("VAULTLINE_STATE_DIR", defaultStateDir()), "Directory for agent state (identity file, ledger database)")
	root.PersistentFlags().StringVar(&cfg.backupToolBin, "backup-tool", envOrDefault("VAULTLINE_BACKUP_TOOL", "restic"), "Path or PATH-resolved name of the external backup-tool binary")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("VAULTLINE_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vaultline-agent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.password == "" {
		logger.Warn("password not configured — auth token requests will fail (set VAULTLINE_AGENT_PASSWORD)")
	}

	if err := os.MkdirAll(cfg.stateDir, 0750); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	systemUUID, err := identity.Resolve(cfg.systemUUID, filepath.Join(cfg.stateDir, "system-uuid"))
	if err != nil {
		return fmt.Errorf("failed to resolve system_uuid: %w", err)
	}

	logger.Info("starting vaultline agent",
		zap.String("version", version),
		zap.String("server_url", cfg.serverURL),
		zap.String("system_uuid", systemUUID),
		zap.String("state_dir", cfg.stateDir),
	)

	// --- Signal handling ---
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Agent Local Ledger ---
	store, err := ledger.Open(filepath.Join(cfg.stateDir, "ledger.db"))
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}

	// --- Operation Executor ---
	tool := executor.NewBackupTool(cfg.backupToolBin)
	exec := executor.New(tool, logger)

	// --- Control Channel Client (constructed before the Scheduler since
	// the scheduler's HandlerFunc closes over it as the response Emitter;
	// its handlers registry is wired in afterward via SetHandlers) ---
	chCfg := channel.Config{
		ServerURL:  cfg.serverURL,
		SystemUUID: systemUUID,
		Password:   cfg.password,
	}
	ch := channel.New(chCfg, store, nil, logger)

	// --- Scheduler ---
	sched, err := scheduler.New(store, func(ctx context.Context, taskUUID string, kind types.OperationKind, params map[string]any) error {
		exec.Execute(ctx, taskUUID, kind, params, ch)
		return nil
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to build scheduler: %w", err)
	}

	// --- Handlers registry, wired into the channel client now that the
	// scheduler exists ---
	reg := handlers.Build(exec, sched, logger)
	ch.SetHandlers(reg)

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// Run blocks until ctx is cancelled (SIGINT/SIGTERM).
	ch.Run(ctx)

	// Shutdown tears down the scheduler and the ledger independently; a
	// failure in one must not suppress a failure in the other.
	shutdownErr := multierr.Append(sched.Stop(), store.Close())
	if shutdownErr != nil {
		logger.Error("error during shutdown", zap.Error(shutdownErr))
	}

	logger.Info("vaultline agent stopped")
	return nil
}

// defaultStateDir returns the platform-appropriate default state directory.
func defaultStateDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return dir + "/.vaultline"
	}
	return ".vaultline"
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
