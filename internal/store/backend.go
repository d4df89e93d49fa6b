package store

import (
	"context"
	"strconv"
)

// Backend is the CRUD contract every record store satisfies: the durable
// SQLite and PostgreSQL backends as well as the in-process fallback cache.
// Get returns (nil, nil) when the record does not exist.
type Backend interface {
	Get(ctx context.Context, id string) (*Record, error)
	Put(ctx context.Context, rec *Record) error
	// Query pages one owner's records, newest first. An empty next cursor
	// means there are no more pages.
	Query(ctx context.Context, ownerID string, limit int, cursor string) ([]Record, string, error)
	Update(ctx context.Context, id string, patch Patch) error
	Delete(ctx context.Context, id string) error
	// Scan pages every record regardless of owner, for sweeps.
	Scan(ctx context.Context, limit int, cursor string) ([]Record, string, error)
	Ping(ctx context.Context) error
}

// Cursors are opaque to callers; every backend encodes a row offset.
func parseCursor(cursor string) int {
	if cursor == "" {
		return 0
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func nextCursor(offset, got, limit int) string {
	if got < limit {
		return ""
	}
	return strconv.Itoa(offset + got)
}
