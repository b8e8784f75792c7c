package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const preferencesSchema = `
CREATE TABLE IF NOT EXISTS preferences (
	profile    TEXT    NOT NULL,
	key        TEXT    NOT NULL,
	value      BLOB    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (profile, key)
)`

// SQLiteBackend stores preferences in a local SQLite database.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:" is
// accepted for tests.
func OpenSQLite(ctx context.Context, path string, logger *log.Logger) (*SQLiteBackend, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			logger.WithError(err).Errorf("failed to apply %q", pragma)
			if closeErr := db.Close(); closeErr != nil {
				logger.WithError(closeErr).Error("error closing db")
			}
			return nil, err
		}
	}
	if _, err := db.ExecContext(ctx, preferencesSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Close releases the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) Get(ctx context.Context, profile, key string) ([]byte, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE profile = ? AND key = ?`, profile, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return value, err
}

func (b *SQLiteBackend) Put(ctx context.Context, profile, key string, value []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO preferences (profile, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (profile, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		profile, key, value, time.Now().UnixMilli())
	return err
}

func (b *SQLiteBackend) Delete(ctx context.Context, profile, key string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM preferences WHERE profile = ? AND key = ?`, profile, key)
	return err
}
