package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/store"
)

const day = 24 * time.Hour

// neutralContext is the contextual weight used when no query is supplied.
const neutralContext = 0.5

// maxIngestComposite keeps ingestion-time composites strictly below 1.
const maxIngestComposite = 0.99

// Calculator computes per-record weights at ingestion and the retrieval-time
// composite score.
type Calculator struct {
	types   map[store.MemoryType]config.TypeConfig
	scoring config.ScoringConfig
}

func NewCalculator(cfg config.MemoryConfig) *Calculator {
	types := make(map[store.MemoryType]config.TypeConfig, len(cfg.Types))
	for name, tc := range cfg.Types {
		types[store.MemoryType(name)] = tc
	}
	return &Calculator{types: types, scoring: cfg.Scoring}
}

// TypeConfig returns the static configuration of a memory type.
func (c *Calculator) TypeConfig(t store.MemoryType) (config.TypeConfig, error) {
	tc, ok := c.types[t]
	if !ok {
		return tc, fmt.Errorf("%w: %q", ErrUnconfiguredType, t)
	}
	return tc, nil
}

// Ingest sets the weights and retention fields of a freshly analyzed record.
func (c *Calculator) Ingest(rec *store.Record, now time.Time) error {
	tc, err := c.TypeConfig(rec.Type)
	if err != nil {
		return err
	}
	rec.Weights = store.Weights{
		Importance: rec.Content.Importance,
		Recency:    1,
		Frequency:  0,
		Context:    neutralContext,
		Composite:  c.IngestComposite(rec.Content.Importance, tc),
	}
	rec.Retention.DecayRate = tc.DecayRate
	rec.Retention.LastAccessed = now
	rec.Retention.ExpiresAt = nil
	if rec.Type != store.Semantic && rec.Content.Importance < 0.7 && tc.TTLDays > 0 {
		exp := now.Add(days(tc.TTLDays))
		rec.Retention.ExpiresAt = &exp
	}
	return nil
}

// IngestComposite is importance scaled by the type multiplier, clamped to [0, 0.99].
func (c *Calculator) IngestComposite(importance float64, tc config.TypeConfig) float64 {
	return clamp(importance*tc.Multiplier, 0, maxIngestComposite)
}

// Recency decays smoothly from 1 with record age:
// exp(-ageDays * decayRate / halfLifeDays).
func (c *Calculator) Recency(rec *store.Record, now time.Time) float64 {
	tc, err := c.TypeConfig(rec.Type)
	if err != nil || tc.HalfLifeDays <= 0 {
		return 0
	}
	age := ageDays(rec.CreatedAt, now)
	rate := rec.Retention.DecayRate
	if rate == 0 {
		rate = tc.DecayRate
	}
	return clamp(math.Exp(-age*rate/tc.HalfLifeDays), 0, 1)
}

// Frequency saturates at ten accesses.
func Frequency(accessCount int) float64 {
	return math.Min(float64(accessCount)/10, 1)
}

// Contextual derives the context weight from query similarity, with a bonus
// for records from the caller's own session.
func Contextual(rec *store.Record, sessionID string, similarity float64, hasQuery bool) float64 {
	if !hasQuery {
		return neutralContext
	}
	v := similarity
	if sessionID != "" && rec.SessionID == sessionID {
		v += 0.2
	}
	return clamp(v, 0, 1)
}

// Rescore refreshes the time-dependent weights of rec and returns the
// retrieval-time composite:
// semantic*w.semantic + recency*w.temporal + importance*w.importance + contextual*w.contextual.
func (c *Calculator) Rescore(rec *store.Record, semantic, contextual float64, now time.Time) float64 {
	rec.Weights.Recency = c.Recency(rec, now)
	rec.Weights.Frequency = Frequency(rec.Retention.AccessCount)
	rec.Weights.Context = contextual
	rec.Weights.Importance = rec.Content.Importance

	s := c.scoring
	score := s.Semantic*semantic +
		s.Temporal*rec.Weights.Recency +
		s.Importance*rec.Weights.Importance +
		s.Contextual*contextual
	return clamp(score, 0, 1)
}

func ageDays(from, now time.Time) float64 {
	d := now.Sub(from).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

func days(n float64) time.Duration {
	return time.Duration(n * float64(day))
}
