package engine

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/store"
)

func TestAggregatorPools(t *testing.T) {
	e := testEngine(t)
	now := time.Now()
	e.now = func() time.Time { return now }

	for _, rec := range []store.Record{
		// session pool: same session, composite >= 0.2
		{ID: "session-low", SessionID: "s1", Type: store.ShortTerm, Weights: store.Weights{Composite: 0.25}, CreatedAt: now.Add(-30 * day)},
		// important pool: other session, long_term/semantic, composite >= 0.7
		{ID: "important", SessionID: "s0", Type: store.Semantic, Weights: store.Weights{Composite: 0.8}, CreatedAt: now.Add(-60 * day)},
		// recent pool: any session, within 7 days, composite >= 0.4
		{ID: "recent", SessionID: "s0", Type: store.Episodic, Weights: store.Weights{Composite: 0.45}, CreatedAt: now.Add(-2 * day)},
		// excluded: other session, old, low weight
		{ID: "stale", SessionID: "s0", Type: store.ShortTerm, Weights: store.Weights{Composite: 0.3}, CreatedAt: now.Add(-30 * day)},
		// excluded: important weight but short_term and old
		{ID: "old-short", SessionID: "s0", Type: store.ShortTerm, Weights: store.Weights{Composite: 0.9}, CreatedAt: now.Add(-30 * day)},
		// excluded: other owner
		{ID: "foreign", OwnerID: "owner-2", SessionID: "s1", Type: store.ShortTerm, Weights: store.Weights{Composite: 0.9}, CreatedAt: now},
	} {
		rec.Content.Original = "memory " + rec.ID
		putRecord(t, e, rec)
	}

	got := candidateIDs(e.aggregator.Collect(context.Background(), CandidateRequest{OwnerID: "owner-1", SessionID: "s1"}, now))
	want := []string{"important", "recent", "session-low"}
	if !equalStrings(got, want) {
		t.Errorf("candidates = %v, want %v", got, want)
	}

	// caller filters narrow every pool
	got = candidateIDs(e.aggregator.Collect(context.Background(), CandidateRequest{
		OwnerID: "owner-1", SessionID: "s1", Types: []store.MemoryType{store.Episodic},
	}, now))
	if !equalStrings(got, []string{"recent"}) {
		t.Errorf("episodic candidates = %v, want [recent]", got)
	}

	got = candidateIDs(e.aggregator.Collect(context.Background(), CandidateRequest{
		OwnerID: "owner-1", SessionID: "s1", MinImportance: 0.5,
	}, now))
	if !equalStrings(got, []string{"important"}) {
		t.Errorf("min importance candidates = %v, want [important]", got)
	}

	broad := candidateIDs(e.aggregator.Broad(context.Background(), CandidateRequest{OwnerID: "owner-1"}))
	if len(broad) != 5 {
		t.Errorf("broad pool = %v, want all 5 owner records", broad)
	}
}

func TestAggregatorDeduplicates(t *testing.T) {
	st := store.New(nil, store.Options{})
	a := NewAggregator(st, config.DefaultMemory().Pools)
	now := time.Now()

	// qualifies for all three pools
	st.Put(context.Background(), &store.Record{
		ID: "everywhere", OwnerID: "o", SessionID: "s", Type: store.LongTerm,
		Content: store.Content{Original: "key fact"}, Weights: store.Weights{Composite: 0.9}, CreatedAt: now,
	})
	got := a.Collect(context.Background(), CandidateRequest{OwnerID: "o", SessionID: "s"}, now)
	if len(got) != 1 {
		t.Errorf("got %d candidates, want 1", len(got))
	}
}

func TestIntersectTypes(t *testing.T) {
	if got, ok := intersectTypes(nil, importantTypes); !ok || len(got) != 2 {
		t.Errorf("empty request = %v, %v", got, ok)
	}
	if _, ok := intersectTypes([]store.MemoryType{store.Working}, importantTypes); ok {
		t.Error("working should not intersect the important pool")
	}
	if got, _ := intersectTypes([]store.MemoryType{store.LongTerm, store.Working}, importantTypes); len(got) != 1 || got[0] != store.LongTerm {
		t.Errorf("intersection = %v, want [long_term]", got)
	}
}

func candidateIDs(recs []store.Record) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	sort.Strings(ids)
	return ids
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
