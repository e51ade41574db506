// Package main implements a one-shot CLI that provisions an agent's
// bearer-auth credential directly in the Controller database, out of band
// from the HTTP API (there is deliberately no self-service registration
// endpoint — spec §4.10 assumes credentials are provisioned by an
// operator). It lives inside the server module so it can reach
// server/internal/* packages.
//
// Usage:
//
//	go run ./cmd/seed --system-uuid <uuid> --password <secret>
//
// Environment variables:
//
//	VAULTLINE_DB_DRIVER  sqlite or postgres (default: sqlite)
//	VAULTLINE_DB_DSN     SQLite file path or Postgres DSN (default: ./vaultline.db)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vaultline/vaultline/server/internal/auth"
	"github.com/vaultline/vaultline/server/internal/db"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	systemUUID := flag.String("system-uuid", "", "Agent's system_uuid (required)")
	password := flag.String("password", "", "Plain-text password presented by the agent at /token (required)")
	flag.Parse()

	if *systemUUID == "" {
		return fmt.Errorf("--system-uuid is required")
	}
	if *password == "" {
		return fmt.Errorf("--password is required")
	}

	driver := envOrDefault("VAULTLINE_DB_DRIVER", "sqlite")
	dsn := envOrDefault("VAULTLINE_DB_DSN", "./vaultline.db")

	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	gdb, err := db.New(db.Config{
		Driver:   driver,
		DSN:      dsn,
		Logger:   logger,
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	credStore := auth.NewCredentialStore(gdb)
	if err := credStore.Set(context.Background(), *systemUUID, *password); err != nil {
		return fmt.Errorf("provision credential: %w", err)
	}

	fmt.Printf("credential provisioned for system_uuid %s\n", *systemUUID)
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
