package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/store"
)

func TestIngestWeights(t *testing.T) {
	c := NewCalculator(config.DefaultMemory())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		typ        store.MemoryType
		importance float64
		composite  float64
		expires    bool
	}{
		{store.ShortTerm, 0.5, 0.4, true},
		{store.ShortTerm, 0.75, 0.6, false},
		{store.Semantic, 0.5, 0.6, false},
		{store.Semantic, 0.95, 0.99, false},
		{store.Working, 0.5, 0.3, true},
	}
	for _, tt := range tests {
		rec := &store.Record{Type: tt.typ, Content: store.Content{Importance: tt.importance}}
		if err := c.Ingest(rec, now); err != nil {
			t.Fatalf("Ingest(%s): %v", tt.typ, err)
		}
		if math.Abs(rec.Weights.Composite-tt.composite) > 1e-9 {
			t.Errorf("%s/%v: composite = %v, want %v", tt.typ, tt.importance, rec.Weights.Composite, tt.composite)
		}
		if got := rec.Retention.ExpiresAt != nil; got != tt.expires {
			t.Errorf("%s/%v: expires = %v, want %v", tt.typ, tt.importance, got, tt.expires)
		}
		if rec.Weights.Recency != 1 || rec.Weights.Frequency != 0 || rec.Weights.Context != neutralContext {
			t.Errorf("%s: initial weights = %+v", tt.typ, rec.Weights)
		}
	}

	rec := &store.Record{Type: store.ShortTerm, Content: store.Content{Importance: 0.5}}
	c.Ingest(rec, now)
	if want := now.Add(7 * day); !rec.Retention.ExpiresAt.Equal(want) {
		t.Errorf("expires at %v, want %v", rec.Retention.ExpiresAt, want)
	}
}

func TestIngestUnconfiguredType(t *testing.T) {
	cfg := config.DefaultMemory()
	delete(cfg.Types, "episodic")
	c := NewCalculator(cfg)

	err := c.Ingest(&store.Record{Type: store.Episodic}, time.Now())
	if !errors.Is(err, ErrUnconfiguredType) {
		t.Errorf("err = %v, want ErrUnconfiguredType", err)
	}
}

func TestRecencyDecays(t *testing.T) {
	c := NewCalculator(config.DefaultMemory())
	now := time.Now()

	fresh := &store.Record{Type: store.ShortTerm, CreatedAt: now}
	if r := c.Recency(fresh, now); r != 1 {
		t.Errorf("fresh recency = %v, want 1", r)
	}

	prev := 1.0
	for _, age := range []int{1, 3, 7, 30} {
		rec := &store.Record{Type: store.ShortTerm, CreatedAt: now.Add(-time.Duration(age) * day)}
		r := c.Recency(rec, now)
		if r >= prev || r <= 0 {
			t.Errorf("recency at %d days = %v, want in (0, %v)", age, r, prev)
		}
		prev = r
	}

	// one half-life at decay rate 1 is exp(-1)
	rec := &store.Record{Type: store.ShortTerm, CreatedAt: now.Add(-7 * day)}
	if r := c.Recency(rec, now); math.Abs(r-math.Exp(-1)) > 1e-9 {
		t.Errorf("recency = %v, want %v", r, math.Exp(-1))
	}

	// semantic decays slower than working at the same age
	sem := &store.Record{Type: store.Semantic, CreatedAt: now.Add(-2 * day)}
	work := &store.Record{Type: store.Working, CreatedAt: now.Add(-2 * day)}
	if c.Recency(sem, now) <= c.Recency(work, now) {
		t.Error("semantic should decay slower than working")
	}
}

func TestFrequency(t *testing.T) {
	for _, tt := range []struct {
		count int
		want  float64
	}{{0, 0}, {5, 0.5}, {10, 1}, {25, 1}} {
		if got := Frequency(tt.count); got != tt.want {
			t.Errorf("Frequency(%d) = %v, want %v", tt.count, got, tt.want)
		}
	}
}

func TestContextual(t *testing.T) {
	rec := &store.Record{SessionID: "s1"}
	if got := Contextual(rec, "s1", 0.5, false); got != neutralContext {
		t.Errorf("no query = %v, want %v", got, neutralContext)
	}
	if got := Contextual(rec, "s1", 0.5, true); math.Abs(got-0.7) > 1e-9 {
		t.Errorf("same session = %v, want 0.7", got)
	}
	if got := Contextual(rec, "s2", 0.5, true); got != 0.5 {
		t.Errorf("other session = %v, want 0.5", got)
	}
	if got := Contextual(rec, "s1", 0.95, true); got != 1 {
		t.Errorf("capped = %v, want 1", got)
	}
}

func TestRescore(t *testing.T) {
	c := NewCalculator(config.DefaultMemory())
	now := time.Now()
	rec := &store.Record{
		Type:      store.LongTerm,
		CreatedAt: now,
		Content:   store.Content{Importance: 0.5},
		Retention: store.Retention{AccessCount: 3},
	}
	got := c.Rescore(rec, 0.8, 0.6, now)
	want := 0.4*0.8 + 0.3*1 + 0.2*0.5 + 0.1*0.6
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Rescore = %v, want %v", got, want)
	}
	if rec.Weights.Frequency != 0.3 || rec.Weights.Context != 0.6 {
		t.Errorf("weights not refreshed: %+v", rec.Weights)
	}

	if s := c.Rescore(rec, 1, 1, now); s > 1 {
		t.Errorf("Rescore = %v, want <= 1", s)
	}
}
