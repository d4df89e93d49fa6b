package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lazypower/recall/internal/store"
)

// VectorCache persists candidate embeddings between retrievals.
// Satisfied by *store.DB and *store.VectorMap.
type VectorCache interface {
	SaveVector(memoryID string, embedding []float64, model string) error
	GetVector(memoryID string) (*store.VectorRecord, error)
	DeleteVector(memoryID string) error
}

// Ranker scores candidate similarity to a query. It prefers the configured
// embedder and degrades to local term vectors when embedding fails.
type Ranker struct {
	mu          sync.RWMutex
	embedder    Embedder
	timeout     time.Duration
	vectors     VectorCache
	bonusWeight float64
}

func NewRanker(bonusWeight float64) *Ranker {
	return &Ranker{bonusWeight: bonusWeight, vectors: store.NewVectorMap()}
}

// SetEmbedder configures the embedding provider. A nil embedder forces
// local similarity.
func (r *Ranker) SetEmbedder(emb Embedder, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	r.mu.Lock()
	r.embedder = emb
	r.timeout = timeout
	r.mu.Unlock()
}

func (r *Ranker) SetVectorCache(vc VectorCache) {
	r.mu.Lock()
	r.vectors = vc
	r.mu.Unlock()
}

func (r *Ranker) current() (Embedder, time.Duration, VectorCache) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.embedder, r.timeout, r.vectors
}

// Similarities returns a [0,1] similarity per candidate id. Scores in one
// batch all come from the same method: if the query or any candidate fails
// to embed, the whole batch is scored locally.
func (r *Ranker) Similarities(ctx context.Context, query string, cands []store.Record) map[string]float64 {
	emb, timeout, vectors := r.current()
	if emb != nil {
		sims, err := r.embeddedSimilarities(ctx, emb, timeout, vectors, query, cands)
		if err == nil {
			return sims
		}
		log.Printf("ranker: %v, using local similarity", fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err))
	}

	out := make(map[string]float64, len(cands))
	for i := range cands {
		out[cands[i].ID] = LocalSimilarity(query, cands[i].SearchableText(), r.bonusWeight)
	}
	return out
}

// embeddedSimilarities stops at the first embedding failure.
func (r *Ranker) embeddedSimilarities(ctx context.Context, emb Embedder, timeout time.Duration, vectors VectorCache, query string, cands []store.Record) (map[string]float64, error) {
	qvec, err := r.embed(ctx, emb, timeout, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	out := make(map[string]float64, len(cands))
	for i := range cands {
		c := &cands[i]
		vec, err := r.candidateVector(ctx, emb, timeout, vectors, c)
		if err != nil {
			return nil, fmt.Errorf("embed %s: %w", c.ID, err)
		}
		out[c.ID] = clamp(CosineSimilarity(qvec, vec), 0, 1)
	}
	return out, nil
}

// candidateVector returns a cached vector for the current model, embedding
// and caching on a miss.
func (r *Ranker) candidateVector(ctx context.Context, emb Embedder, timeout time.Duration, vectors VectorCache, c *store.Record) ([]float64, error) {
	if vectors != nil {
		if v, err := vectors.GetVector(c.ID); err != nil {
			log.Printf("ranker: get vector %s: %v", c.ID, err)
		} else if v != nil && v.Model == emb.Model() {
			return v.Embedding, nil
		}
	}
	vec, err := r.embed(ctx, emb, timeout, c.SearchableText())
	if err != nil {
		return nil, err
	}
	if vectors != nil {
		if err := vectors.SaveVector(c.ID, vec, emb.Model()); err != nil {
			log.Printf("ranker: save vector %s: %v", c.ID, err)
		}
	}
	return vec, nil
}

// Index embeds a freshly stored record on a best-effort basis.
func (r *Ranker) Index(ctx context.Context, rec *store.Record) {
	emb, timeout, vectors := r.current()
	if emb == nil || vectors == nil {
		return
	}
	if _, err := r.candidateVector(ctx, emb, timeout, vectors, rec); err != nil {
		log.Printf("ranker: index %s: %v", rec.ID, err)
	}
}

// Forget drops a record's cached vector.
func (r *Ranker) Forget(id string) {
	_, _, vectors := r.current()
	if vectors == nil {
		return
	}
	if err := vectors.DeleteVector(id); err != nil {
		log.Printf("ranker: delete vector %s: %v", id, err)
	}
}

func (r *Ranker) embed(ctx context.Context, emb Embedder, timeout time.Duration, text string) ([]float64, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	vec, err := emb.Embed(cctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("empty embedding")
	}
	return vec, nil
}
