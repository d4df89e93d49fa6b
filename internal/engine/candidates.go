package engine

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/store"
)

// CandidateRequest narrows every candidate pool.
type CandidateRequest struct {
	OwnerID         string
	SessionID       string
	Types           []store.MemoryType // empty = all types
	MinImportance   float64
	IncludeArchived bool
}

// Aggregator builds the pre-ranking candidate set from overlapping pools.
type Aggregator struct {
	store *store.Store
	pools config.PoolsConfig
}

func NewAggregator(st *store.Store, pools config.PoolsConfig) *Aggregator {
	return &Aggregator{store: st, pools: pools}
}

var importantTypes = []store.MemoryType{store.Semantic, store.LongTerm}

// Collect unions the session, cross-session important and recent pools,
// de-duplicated by id with the earlier pool winning.
func (a *Aggregator) Collect(ctx context.Context, req CandidateRequest, now time.Time) []store.Record {
	var filters []store.Filter

	if req.SessionID != "" {
		filters = append(filters, a.filter(req, a.pools.Session, req.Types))
	}
	if types, ok := intersectTypes(req.Types, importantTypes); ok {
		f := a.filter(req, a.pools.Important, types)
		f.SessionID = ""
		filters = append(filters, f)
	}
	recent := a.filter(req, a.pools.Recent, req.Types)
	recent.SessionID = ""
	recent.CreatedAfter = now.Add(-days(a.pools.RecentDays))
	filters = append(filters, recent)

	return a.union(ctx, filters...)
}

// Broad is the owner-wide pool used when semantic filtering leaves too few results.
func (a *Aggregator) Broad(ctx context.Context, req CandidateRequest) []store.Record {
	f := a.filter(req, config.PoolConfig{Limit: a.pools.BroadLimit}, req.Types)
	f.SessionID = ""
	return a.union(ctx, f)
}

func (a *Aggregator) filter(req CandidateRequest, pool config.PoolConfig, types []store.MemoryType) store.Filter {
	return store.Filter{
		OwnerID:         req.OwnerID,
		SessionID:       req.SessionID,
		Types:           types,
		MinImportance:   math.Max(pool.MinImportance, req.MinImportance),
		IncludeArchived: req.IncludeArchived,
		Limit:           pool.Limit,
	}
}

func (a *Aggregator) union(ctx context.Context, filters ...store.Filter) []store.Record {
	seen := make(map[string]bool)
	var out []store.Record
	for i, f := range filters {
		recs, err := a.store.Find(ctx, f)
		if err != nil {
			log.Printf("candidates: pool %d for %s: %v", i, f.OwnerID, fmt.Errorf("find: %w", err))
			continue
		}
		for _, r := range recs {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			out = append(out, r)
		}
	}
	return out
}

// intersectTypes narrows pool types by the caller's requested types.
// ok is false when the intersection is empty.
func intersectTypes(requested, pool []store.MemoryType) ([]store.MemoryType, bool) {
	if len(requested) == 0 {
		return pool, true
	}
	var out []store.MemoryType
	for _, p := range pool {
		for _, r := range requested {
			if p == r {
				out = append(out, p)
				break
			}
		}
	}
	return out, len(out) > 0
}
