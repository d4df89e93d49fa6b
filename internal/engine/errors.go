package engine

import (
	"errors"

	"github.com/lazypower/recall/internal/store"
)

var (
	// ErrStoreUnavailable marks a durable-backend failure. It is recovered
	// by the store's fallback cache and only ever logged.
	ErrStoreUnavailable = store.ErrUnavailable

	// ErrEmbeddingUnavailable marks a missing or failing embedding provider.
	// It is recovered by local term-vector similarity and only ever logged.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

	// ErrMalformedInput is the only error surfaced to callers of the engine.
	ErrMalformedInput = errors.New("malformed input")

	// ErrForgettingCycle marks a record whose evaluation failed during a sweep.
	// The record is skipped and retried on the next cycle.
	ErrForgettingCycle = errors.New("forgetting cycle")

	// ErrUnconfiguredType is fatal at ingestion: every memory type needs a
	// configuration entry.
	ErrUnconfiguredType = errors.New("memory type not configured")
)
