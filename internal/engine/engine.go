package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/store"
)

// maxOwnerIDLen bounds owner and session identifiers.
const maxOwnerIDLen = 256

// StoreRequest is one piece of interaction history to remember.
type StoreRequest struct {
	OwnerID         string           `json:"owner_id"`
	SessionID       string           `json:"session_id,omitempty"`
	Text            string           `json:"text"`
	IsQuery         bool             `json:"is_query"`
	ResponseQuality float64          `json:"response_quality"`
	ModelUsed       string           `json:"model_used,omitempty"`
	EnsembleMode    bool             `json:"ensemble_mode"`
	Type            store.MemoryType `json:"memory_type,omitempty"` // overrides classification
}

// RetrieveRequest selects and ranks an owner's memories.
type RetrieveRequest struct {
	OwnerID         string
	SessionID       string
	Types           []store.MemoryType
	MaxResults      int
	MinImportance   float64
	IncludeArchived bool
	Query           string
}

// Result is a retrieved record with its retrieval-time score.
type Result struct {
	Record     store.Record `json:"record"`
	Score      float64      `json:"score"`
	Similarity float64      `json:"similarity"`
}

// Engine stores, ranks, assembles and forgets memory records.
type Engine struct {
	Store *store.Store

	cfg        config.MemoryConfig
	analyzer   *Analyzer
	weights    *Calculator
	aggregator *Aggregator
	ranker     *Ranker
	filter     *DiversityFilter
	forgetter  *Forgetter

	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates an Engine over st. cfg is validated up front so that an
// unconfigured memory type cannot reach ingestion.
func New(st *store.Store, cfg config.MemoryConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("memory config: %w", err)
	}
	weights := NewCalculator(cfg)
	e := &Engine{
		Store:      st,
		cfg:        cfg,
		analyzer:   NewAnalyzer(cfg.Analyzer),
		weights:    weights,
		aggregator: NewAggregator(st, cfg.Pools),
		ranker:     NewRanker(cfg.Ranking.MatchBonusWeight),
		filter:     NewDiversityFilter(cfg.Diversity),
		forgetter:  NewForgetter(st, weights, cfg.Forgetting),
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
	e.forgetter.onRemove = e.ranker.Forget
	return e, nil
}

// SetEmbedder configures the embedding provider. Nil means local similarity only.
func (e *Engine) SetEmbedder(emb Embedder, timeout time.Duration) {
	e.ranker.SetEmbedder(emb, timeout)
}

// SetVectorCache replaces the in-process embedding cache.
func (e *Engine) SetVectorCache(vc VectorCache) {
	e.ranker.SetVectorCache(vc)
}

// Analyzer exposes the content analyzer, e.g. for token estimates.
func (e *Engine) Analyzer() *Analyzer { return e.analyzer }

// StoreMemory analyzes, weighs and persists text. Only malformed input and
// unconfigured types are returned as errors.
func (e *Engine) StoreMemory(ctx context.Context, req StoreRequest) (*store.Record, error) {
	if err := validateOwner(req.OwnerID); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrMalformedInput)
	}
	if req.ResponseQuality < 0 || req.ResponseQuality > 1 {
		return nil, fmt.Errorf("%w: response quality %v outside [0,1]", ErrMalformedInput, req.ResponseQuality)
	}
	if req.Type != "" && !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown memory type %q", ErrMalformedInput, req.Type)
	}

	now := e.now()
	an := e.analyzer.Analyze(text, req.IsQuery)
	typ := an.Type
	if req.Type != "" {
		typ = req.Type
	}

	rec := &store.Record{
		ID:        uuid.NewString(),
		OwnerID:   req.OwnerID,
		SessionID: req.SessionID,
		Type:      typ,
		Content:   an.Content,
		Metadata: store.Metadata{
			CreatedAt:            now,
			Topic:                an.Topic,
			Intent:               an.Intent,
			ResponseQuality:      req.ResponseQuality,
			TokenCount:           an.TokenCount,
			CompressedTokenCount: an.CompressedTokenCount,
			ModelUsed:            req.ModelUsed,
			EnsembleMode:         req.EnsembleMode,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.weights.Ingest(rec, now); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if err := e.Store.Put(ctx, rec); err != nil {
		log.Printf("engine: put %s: %v", rec.ID, err)
	}
	e.ranker.Index(ctx, rec)

	log.Printf("engine: stored %s memory %s for %s (importance %.2f, %d tokens)",
		rec.Type, rec.ID, rec.OwnerID, rec.Content.Importance, an.TokenCount)
	return rec, nil
}

// RetrieveMemories returns an owner's records ranked by retrieval-time score
// and diversity filtered. Every returned record has its access tracked.
func (e *Engine) RetrieveMemories(ctx context.Context, req RetrieveRequest) ([]Result, error) {
	results, err := e.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	now := e.now()
	for i := range results {
		e.touch(ctx, &results[i].Record, now)
	}
	return results, nil
}

// retrieve ranks and filters without tracking access.
func (e *Engine) retrieve(ctx context.Context, req RetrieveRequest) ([]Result, error) {
	if err := validateOwner(req.OwnerID); err != nil {
		return nil, err
	}
	if req.MaxResults < 0 {
		return nil, fmt.Errorf("%w: negative max results", ErrMalformedInput)
	}
	if req.MinImportance < 0 || req.MinImportance > 1 {
		return nil, fmt.Errorf("%w: min importance %v outside [0,1]", ErrMalformedInput, req.MinImportance)
	}
	for _, t := range req.Types {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: unknown memory type %q", ErrMalformedInput, t)
		}
	}
	limit := req.MaxResults
	if limit == 0 {
		limit = e.cfg.Context.MaxResults
	}

	now := e.now()
	creq := CandidateRequest{
		OwnerID:         req.OwnerID,
		SessionID:       req.SessionID,
		Types:           req.Types,
		MinImportance:   req.MinImportance,
		IncludeArchived: req.IncludeArchived,
	}
	query := strings.TrimSpace(req.Query)
	hasQuery := query != ""

	cands := e.aggregator.Collect(ctx, creq, now)
	results := e.rank(ctx, cands, req.SessionID, query, e.cfg.Ranking.SimilarityThreshold, now)

	if hasQuery && len(results) < e.cfg.Ranking.MinResults {
		seen := make(map[string]bool, len(cands))
		for _, c := range cands {
			seen[c.ID] = true
		}
		for _, b := range e.aggregator.Broad(ctx, creq) {
			if !seen[b.ID] {
				cands = append(cands, b)
			}
		}
		results = e.rank(ctx, cands, req.SessionID, query, e.cfg.Ranking.RetryThreshold, now)
		log.Printf("engine: broad retry for %s returned %d results", req.OwnerID, len(results))
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.CreatedAt.After(results[j].Record.CreatedAt)
	})
	results = e.filter.Filter(results, req.IncludeArchived)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// rank scores candidates, dropping those under threshold when a query is set.
func (e *Engine) rank(ctx context.Context, cands []store.Record, sessionID, query string, threshold float64, now time.Time) []Result {
	hasQuery := query != ""
	var sims map[string]float64
	if hasQuery {
		sims = e.ranker.Similarities(ctx, query, cands)
	}

	out := make([]Result, 0, len(cands))
	for _, c := range cands {
		sim := sims[c.ID]
		if hasQuery && sim < threshold {
			continue
		}
		contextual := Contextual(&c, sessionID, sim, hasQuery)
		score := e.weights.Rescore(&c, sim, contextual, now)
		out = append(out, Result{Record: c, Score: score, Similarity: sim})
	}
	return out
}

// touch records an access. Failures are logged; retrieval never fails on them.
func (e *Engine) touch(ctx context.Context, rec *store.Record, now time.Time) {
	count := rec.Retention.AccessCount + 1
	rec.Retention.AccessCount = count
	rec.Retention.LastAccessed = now
	rec.Weights.Frequency = Frequency(count)
	w := rec.Weights
	if err := e.Store.Update(ctx, rec.ID, store.Patch{LastAccessed: &now, AccessCount: &count, Weights: &w}); err != nil {
		log.Printf("engine: track access %s: %v", rec.ID, err)
	}
}

// GetContext assembles ranked memories into one text blob whose estimated
// token count never exceeds maxTokens. Only assembled records count as accessed.
func (e *Engine) GetContext(ctx context.Context, ownerID, sessionID string, maxTokens int, currentQuery string) (string, error) {
	if maxTokens <= 0 {
		return "", fmt.Errorf("%w: max tokens must be positive", ErrMalformedInput)
	}
	results, err := e.retrieve(ctx, RetrieveRequest{
		OwnerID:    ownerID,
		SessionID:  sessionID,
		MaxResults: e.cfg.Context.MaxResults,
		Query:      currentQuery,
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	n := 0
	for _, r := range results {
		line := fmt.Sprintf("[%s] %s", r.Record.Type, r.Record.Content.Compressed)
		next := line
		if b.Len() > 0 {
			next = b.String() + "\n" + line
		}
		if e.analyzer.EstimateTokens(next) > maxTokens {
			break
		}
		b.Reset()
		b.WriteString(next)
		n++
	}

	now := e.now()
	for i := range results[:n] {
		e.touch(ctx, &results[i].Record, now)
	}
	return b.String(), nil
}

// RunForgettingCycle applies the retention rules once, to one owner or all.
func (e *Engine) RunForgettingCycle(ctx context.Context, ownerID string) (*CycleReport, error) {
	return e.forgetter.Run(ctx, ownerID, e.now())
}

// GetMemory returns a record by id, or nil when it does not exist.
// Lookups by id reach archived records too.
func (e *Engine) GetMemory(ctx context.Context, id string) (*store.Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty id", ErrMalformedInput)
	}
	return e.Store.Get(ctx, id)
}

// DeleteMemory is the administrative hard delete.
func (e *Engine) DeleteMemory(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty id", ErrMalformedInput)
	}
	if err := e.Store.Delete(ctx, id); err != nil {
		log.Printf("engine: delete %s queued until the durable store recovers: %v", id, err)
	}
	e.ranker.Forget(id)
	return nil
}

// StartForgetting runs a forgetting cycle on startup and then every interval.
func (e *Engine) StartForgetting(interval time.Duration) {
	if interval <= 0 {
		interval = e.cfg.Forgetting.Interval
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	e.runCycle()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.runCycle()
			case <-e.stopCh:
				return
			}
		}
	}()
}

func (e *Engine) runCycle() {
	if _, err := e.RunForgettingCycle(context.Background(), ""); err != nil {
		log.Printf("forget error: %v", err)
	}
}

// Stop shuts down the engine's background goroutines.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

func validateOwner(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty owner id", ErrMalformedInput)
	}
	if len(id) > maxOwnerIDLen {
		return fmt.Errorf("%w: owner id longer than %d bytes", ErrMalformedInput, maxOwnerIDLen)
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: owner id contains whitespace or control characters", ErrMalformedInput)
		}
	}
	return nil
}
