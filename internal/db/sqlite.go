package db

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/config"
)

// ConnectSQLite opens the on-device cache database. The file is created
// on first use; an empty path disables the local cache.
func ConnectSQLite(cfg config.Config) (*sql.DB, error) {
	if cfg.SQLitePath == "" {
		return nil, nil
	}

	conn, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}
