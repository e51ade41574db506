// Package dbtest opens a throwaway migrated SQLite database for use by
// other internal packages' tests. Not imported by any production code.
package dbtest

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vaultline/vaultline/server/internal/db"
)

// New opens a file-backed SQLite database under t.TempDir(), applies
// migrations, and returns the ready-to-use *gorm.DB.
func New(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	gdb, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      dsn,
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		t.Fatalf("dbtest.New: %v", err)
	}
	return gdb
}
