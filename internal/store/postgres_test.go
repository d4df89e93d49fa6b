package store

import (
	"context"
	"os"
	"testing"
)

// Set RECALL_TEST_DSN to a scratch database to run the PostgreSQL backend
// through the shared contract. The memories table is truncated first.
func TestPostgresBackend(t *testing.T) {
	dsn := os.Getenv("RECALL_TEST_DSN")
	if dsn == "" {
		t.Skip("RECALL_TEST_DSN not set")
	}
	ctx := context.Background()
	b, err := NewPostgresBackend(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresBackend: %v", err)
	}
	t.Cleanup(b.Close)
	if _, err := b.pool.Exec(ctx, "TRUNCATE memories"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	testBackendContract(t, b)
}

func TestPostgresBackendBadURL(t *testing.T) {
	if _, err := NewPostgresBackend(context.Background(), "not a url"); err == nil {
		t.Error("expected error for malformed database URL")
	}
}
