// Package persistence opens the database the bridge stores state in.
package persistence

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/neoai/neoai/internal/common/config"
	"github.com/neoai/neoai/internal/common/logger"
	"github.com/neoai/neoai/internal/db"
)

// Provide opens the sqlite pool at the configured path. NEOAI_DB_PATH
// overrides the config for one-off runs.
func Provide(cfg *config.Config, log *logger.Logger) (*db.Pool, func() error, error) {
	dbPath := os.Getenv("NEOAI_DB_PATH")
	if dbPath == "" {
		dbPath = cfg.Database.Path
	}
	if dbPath == "" {
		dbPath = filepath.Join(config.DataDir(), "neoai.db")
	}

	pool, err := db.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if log != nil {
		log.Info("Database initialized", zap.String("db_path", dbPath))
	}
	cleanup := func() error {
		// PRAGMA optimize refreshes planner statistics; SQLite recommends it on close.
		_, _ = pool.Writer().Exec("PRAGMA optimize")
		return pool.Close()
	}
	return pool, cleanup, nil
}
