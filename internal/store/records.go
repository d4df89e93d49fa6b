package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SQLiteBackend stores records in the memories table.
type SQLiteBackend struct {
	db *DB
}

// NewSQLiteBackend wraps an opened database as a record backend.
func NewSQLiteBackend(db *DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

const memoryColumns = `id, owner_id, session_id, memory_type,
	original, compressed, keywords, concepts, sentiment, importance,
	topic, intent, response_quality, token_count, compressed_token_count, model_used, ensemble_mode,
	w_importance, w_recency, w_frequency, w_context, w_composite,
	expires_at, last_accessed, access_count, decay_rate, is_archived, archived_at,
	created_at, updated_at`

// Put inserts or replaces a record.
func (b *SQLiteBackend) Put(ctx context.Context, rec *Record) error {
	keywords, err := json.Marshal(nonNil(rec.Content.Keywords))
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}
	concepts, err := json.Marshal(nonNil(rec.Content.Concepts))
	if err != nil {
		return fmt.Errorf("encode concepts: %w", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO memories (`+memoryColumns+`)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?,
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.OwnerID, rec.SessionID, string(rec.Type),
		rec.Content.Original, rec.Content.Compressed, string(keywords), string(concepts),
		string(rec.Content.Sentiment), rec.Content.Importance,
		rec.Metadata.Topic, rec.Metadata.Intent, rec.Metadata.ResponseQuality,
		rec.Metadata.TokenCount, rec.Metadata.CompressedTokenCount, rec.Metadata.ModelUsed,
		boolInt(rec.Metadata.EnsembleMode),
		rec.Weights.Importance, rec.Weights.Recency, rec.Weights.Frequency, rec.Weights.Context,
		rec.Weights.Composite,
		millisPtr(rec.Retention.ExpiresAt), rec.Retention.LastAccessed.UnixMilli(),
		rec.Retention.AccessCount, rec.Retention.DecayRate, boolInt(rec.Retention.IsArchived),
		millisPtr(rec.Retention.ArchivedAt),
		rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("put memory: %w", err)
	}
	return nil
}

// Get returns a record by id, or nil if not found.
func (b *SQLiteBackend) Get(ctx context.Context, id string) (*Record, error) {
	row := b.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return rec, nil
}

// Query pages an owner's records by the single owner predicate, newest first.
func (b *SQLiteBackend) Query(ctx context.Context, ownerID string, limit int, cursor string) ([]Record, string, error) {
	offset := parseCursor(cursor)
	rows, err := b.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE owner_id = ?
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`, ownerID, limit, offset)
	if err != nil {
		return nil, "", fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, "", err
	}
	return recs, nextCursor(offset, len(recs), limit), nil
}

// Scan pages every record, oldest first.
func (b *SQLiteBackend) Scan(ctx context.Context, limit int, cursor string) ([]Record, string, error) {
	offset := parseCursor(cursor)
	rows, err := b.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		ORDER BY created_at, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, "", fmt.Errorf("scan memories: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, "", err
	}
	return recs, nextCursor(offset, len(recs), limit), nil
}

// Update merges the non-nil patch fields into the stored row.
func (b *SQLiteBackend) Update(ctx context.Context, id string, patch Patch) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UnixMilli()}

	if patch.LastAccessed != nil {
		sets = append(sets, "last_accessed = ?")
		args = append(args, patch.LastAccessed.UnixMilli())
	}
	if patch.AccessCount != nil {
		sets = append(sets, "access_count = ?")
		args = append(args, *patch.AccessCount)
	}
	if patch.IsArchived != nil {
		sets = append(sets, "is_archived = ?")
		args = append(args, boolInt(*patch.IsArchived))
	}
	if patch.ArchivedAt != nil {
		sets = append(sets, "archived_at = ?")
		args = append(args, patch.ArchivedAt.UnixMilli())
	}
	if w := patch.Weights; w != nil {
		sets = append(sets, "w_importance = ?", "w_recency = ?", "w_frequency = ?", "w_context = ?", "w_composite = ?")
		args = append(args, w.Importance, w.Recency, w.Frequency, w.Context, w.Composite)
	}
	args = append(args, id)

	res, err := b.db.ExecContext(ctx, `UPDATE memories SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update memory %s: %w", id, ErrNotFound)
	}
	return nil
}

// Delete hard-deletes a record. Cached vectors cascade.
func (b *SQLiteBackend) Delete(ctx context.Context, id string) error {
	if _, err := b.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var memType, keywords, concepts, sentiment string
	var sessionID, topic, intent, modelUsed sql.NullString
	var ensemble, archived int
	var expiresAt, archivedAt sql.NullInt64
	var lastAccessed, createdAt, updatedAt int64

	err := row.Scan(&rec.ID, &rec.OwnerID, &sessionID, &memType,
		&rec.Content.Original, &rec.Content.Compressed, &keywords, &concepts, &sentiment,
		&rec.Content.Importance,
		&topic, &intent, &rec.Metadata.ResponseQuality, &rec.Metadata.TokenCount,
		&rec.Metadata.CompressedTokenCount, &modelUsed, &ensemble,
		&rec.Weights.Importance, &rec.Weights.Recency, &rec.Weights.Frequency, &rec.Weights.Context,
		&rec.Weights.Composite,
		&expiresAt, &lastAccessed, &rec.Retention.AccessCount, &rec.Retention.DecayRate, &archived,
		&archivedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(keywords), &rec.Content.Keywords); err != nil {
		return nil, fmt.Errorf("decode keywords for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(concepts), &rec.Content.Concepts); err != nil {
		return nil, fmt.Errorf("decode concepts for %s: %w", rec.ID, err)
	}
	rec.SessionID = sessionID.String
	rec.Type = MemoryType(memType)
	rec.Content.Sentiment = Sentiment(sentiment)
	rec.Metadata.Topic = topic.String
	rec.Metadata.Intent = intent.String
	rec.Metadata.ModelUsed = modelUsed.String
	rec.Metadata.EnsembleMode = ensemble != 0
	rec.Retention.IsArchived = archived != 0
	rec.Retention.LastAccessed = time.UnixMilli(lastAccessed)
	if expiresAt.Valid {
		t := time.UnixMilli(expiresAt.Int64)
		rec.Retention.ExpiresAt = &t
	}
	if archivedAt.Valid {
		t := time.UnixMilli(archivedAt.Int64)
		rec.Retention.ArchivedAt = &t
	}
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	rec.Metadata.CreatedAt = rec.CreatedAt
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func millisPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
