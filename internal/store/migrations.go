package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "memories: scored interaction history",
		SQL: `
CREATE TABLE memories (
    id                     TEXT PRIMARY KEY,
    owner_id               TEXT NOT NULL,
    session_id             TEXT,
    memory_type            TEXT NOT NULL CHECK (memory_type IN ('working', 'short_term', 'long_term', 'semantic', 'episodic')),

    -- Content
    original               TEXT NOT NULL,
    compressed             TEXT NOT NULL,
    keywords               TEXT NOT NULL DEFAULT '[]',
    concepts               TEXT NOT NULL DEFAULT '[]',
    sentiment              TEXT NOT NULL DEFAULT 'neutral',
    importance             REAL NOT NULL DEFAULT 0,

    -- Metadata
    topic                  TEXT,
    intent                 TEXT,
    response_quality       REAL NOT NULL DEFAULT 0,
    token_count            INTEGER NOT NULL DEFAULT 0,
    compressed_token_count INTEGER NOT NULL DEFAULT 0,
    model_used             TEXT,
    ensemble_mode          INTEGER NOT NULL DEFAULT 0,

    -- Weights
    w_importance           REAL NOT NULL DEFAULT 0,
    w_recency              REAL NOT NULL DEFAULT 0,
    w_frequency            REAL NOT NULL DEFAULT 0,
    w_context              REAL NOT NULL DEFAULT 0,
    w_composite            REAL NOT NULL DEFAULT 0 CHECK (w_composite BETWEEN 0 AND 1),

    -- Retention
    expires_at             INTEGER,
    last_accessed          INTEGER NOT NULL,
    access_count           INTEGER NOT NULL DEFAULT 0,
    decay_rate             REAL NOT NULL DEFAULT 0,
    is_archived            INTEGER NOT NULL DEFAULT 0,
    archived_at            INTEGER,

    created_at             INTEGER NOT NULL,
    updated_at             INTEGER NOT NULL
);

CREATE INDEX idx_memories_owner ON memories(owner_id, created_at DESC);
`,
	},
	{
		Version:     2,
		Description: "memory_vectors: cached embeddings for semantic ranking",
		SQL: `
CREATE TABLE memory_vectors (
    memory_id  TEXT PRIMARY KEY,
    embedding  BLOB NOT NULL,
    model      TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
