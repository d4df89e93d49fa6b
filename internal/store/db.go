package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const memoryDSN = ":memory:"

// DB is the recall SQLite database: memory records and their cached
// embeddings. It backs SQLiteBackend and serves as the ranker's vector cache.
type DB struct {
	*sql.DB
	Path string
}

// DefaultDBPath returns ~/.recall/recall.db.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".recall", "recall.db"), nil
}

// Open opens or creates the database file at path and migrates it.
// busyTimeout bounds how long a statement waits on a locked database;
// zero means 5s.
func Open(path string, busyTimeout time.Duration) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return open(path, busyTimeout)
}

// OpenMemory opens a private in-memory database, for tests and the
// memory-only store driver.
func OpenMemory() (*DB, error) {
	return open(memoryDSN, 0)
}

func open(path string, busyTimeout time.Duration) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if path == memoryDSN {
		// every connection to :memory: is its own database
		sqlDB.SetMaxOpenConns(1)
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	db := &DB{DB: sqlDB, Path: path}
	if err := db.configurePragmas(busyTimeout); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) configurePragmas(busyTimeout time.Duration) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

// Stats counts what the database holds.
type Stats struct {
	Memories int `json:"memories"`
	Archived int `json:"archived"`
	Vectors  int `json:"vectors"`
}

func (db *DB) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM memories),
			(SELECT COUNT(*) FROM memories WHERE is_archived = 1),
			(SELECT COUNT(*) FROM memory_vectors)`).Scan(&s.Memories, &s.Archived, &s.Vectors)
	if err != nil {
		return s, fmt.Errorf("db stats: %w", err)
	}
	return s, nil
}
