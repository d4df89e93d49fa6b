package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// flakyBackend wraps a MemoryBackend and fails every call while down is set.
type flakyBackend struct {
	*MemoryBackend
	down  atomic.Bool
	calls atomic.Int64
}

var errFlaky = errors.New("connection reset")

func newFlaky() *flakyBackend {
	return &flakyBackend{MemoryBackend: NewMemoryBackend()}
}

func (f *flakyBackend) fail() error {
	f.calls.Add(1)
	if f.down.Load() {
		return errFlaky
	}
	return nil
}

func (f *flakyBackend) Get(ctx context.Context, id string) (*Record, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.MemoryBackend.Get(ctx, id)
}

func (f *flakyBackend) Put(ctx context.Context, rec *Record) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.MemoryBackend.Put(ctx, rec)
}

func (f *flakyBackend) Query(ctx context.Context, owner string, limit int, cursor string) ([]Record, string, error) {
	if err := f.fail(); err != nil {
		return nil, "", err
	}
	return f.MemoryBackend.Query(ctx, owner, limit, cursor)
}

func (f *flakyBackend) Update(ctx context.Context, id string, p Patch) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.MemoryBackend.Update(ctx, id, p)
}

func (f *flakyBackend) Delete(ctx context.Context, id string) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.MemoryBackend.Delete(ctx, id)
}

func (f *flakyBackend) Scan(ctx context.Context, limit int, cursor string) ([]Record, string, error) {
	if err := f.fail(); err != nil {
		return nil, "", err
	}
	return f.MemoryBackend.Scan(ctx, limit, cursor)
}

func (f *flakyBackend) Ping(context.Context) error { return f.fail() }

func TestStoreDurablePath(t *testing.T) {
	durable := newFlaky()
	s := New(durable, Options{})
	ctx := context.Background()

	s.Put(ctx, sampleRecord("a", "owner-1"))
	if durable.Len() != 1 || s.Fallback().Len() != 0 {
		t.Errorf("durable = %d, fallback = %d; want 1, 0", durable.Len(), s.Fallback().Len())
	}
	got, err := s.Get(ctx, "a")
	if err != nil || got == nil {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if !s.Available() {
		t.Error("store should be available")
	}
}

func TestStoreFailover(t *testing.T) {
	durable := newFlaky()
	s := New(durable, Options{RecheckInterval: time.Hour})
	ctx := context.Background()

	s.Put(ctx, sampleRecord("before", "owner-1"))
	durable.down.Store(true)

	if err := s.Put(ctx, sampleRecord("during", "owner-1")); err != nil {
		t.Fatalf("Put during outage returned %v", err)
	}
	if s.Available() {
		t.Fatal("store should have flipped to unavailable")
	}

	// Reads never surface the outage.
	got, err := s.Get(ctx, "during")
	if err != nil || got == nil {
		t.Fatalf("Get during outage = %v, %v", got, err)
	}
	recs, err := s.Find(ctx, Filter{OwnerID: "owner-1"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "during" {
		t.Errorf("Find during outage = %d records, want only the cached one", len(recs))
	}

	// Subsequent calls skip the durable backend until the recheck interval.
	before := durable.calls.Load()
	s.Get(ctx, "during")
	s.Find(ctx, Filter{OwnerID: "owner-1"})
	if durable.calls.Load() != before {
		t.Error("durable backend should be skipped while unavailable")
	}

	count := 3
	if err := s.Update(ctx, "during", Patch{AccessCount: &count}); err != nil {
		t.Fatalf("Update during outage: %v", err)
	}
}

func TestStoreRecheckFlushes(t *testing.T) {
	durable := newFlaky()
	s := New(durable, Options{RecheckInterval: time.Hour})
	ctx := context.Background()

	durable.down.Store(true)
	s.Put(ctx, sampleRecord("cached", "owner-1"))

	if s.Recheck(ctx) {
		t.Fatal("Recheck should fail while the backend is down")
	}

	durable.down.Store(false)
	if !s.Recheck(ctx) {
		t.Fatal("Recheck should succeed once the backend answers")
	}
	if !s.Available() {
		t.Error("store should be available after recheck")
	}
	if got, _ := durable.MemoryBackend.Get(ctx, "cached"); got == nil {
		t.Error("cached record should be flushed to the durable backend")
	}
	if s.Fallback().Len() != 0 {
		t.Errorf("fallback still holds %d records", s.Fallback().Len())
	}
}

func TestStoreDeleteDuringOutage(t *testing.T) {
	durable := newFlaky()
	s := New(durable, Options{RecheckInterval: time.Hour})
	ctx := context.Background()

	s.Put(ctx, sampleRecord("r1", "owner-1"))
	s.Put(ctx, sampleRecord("r2", "owner-1"))
	durable.down.Store(true)

	err := s.Delete(ctx, "r1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Delete during outage err = %v, want ErrUnavailable", err)
	}
	if s.Fallback().Tombstones() != 1 {
		t.Errorf("tombstones = %d, want 1", s.Fallback().Tombstones())
	}
	if got, _ := s.Get(ctx, "r1"); got != nil {
		t.Error("deleted record still readable during outage")
	}

	durable.down.Store(false)
	if !s.Recheck(ctx) {
		t.Fatal("Recheck should succeed once the backend answers")
	}
	if got, _ := durable.MemoryBackend.Get(ctx, "r1"); got != nil {
		t.Error("delete was not replayed to the durable backend")
	}
	if got, _ := s.Get(ctx, "r1"); got != nil {
		t.Error("record deleted during outage came back after recovery")
	}
	if got, _ := s.Get(ctx, "r2"); got == nil {
		t.Error("untouched record lost across recovery")
	}
	if s.Fallback().Tombstones() != 0 {
		t.Errorf("tombstones = %d after replay, want 0", s.Fallback().Tombstones())
	}
}

func TestStoreTombstoneHidesDurableRows(t *testing.T) {
	durable := newFlaky()
	s := New(durable, Options{RecheckInterval: time.Hour})
	ctx := context.Background()

	s.Put(ctx, sampleRecord("gone", "owner-1"))
	s.Put(ctx, sampleRecord("kept", "owner-1"))
	s.Fallback().markDeleted("gone")

	recs, _ := s.Find(ctx, Filter{OwnerID: "owner-1"})
	if len(recs) != 1 || recs[0].ID != "kept" {
		t.Errorf("Find = %d records, want only kept", len(recs))
	}
	all, _ := s.All(ctx, "")
	if len(all) != 1 || all[0].ID != "kept" {
		t.Errorf("All = %d records, want only kept", len(all))
	}
	if err := s.Update(ctx, "gone", Patch{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(tombstoned) err = %v, want ErrNotFound", err)
	}

	// Writing the id again clears the tombstone.
	s.Put(ctx, sampleRecord("gone", "owner-1"))
	if got, _ := s.Get(ctx, "gone"); got == nil {
		t.Error("re-put record should be readable")
	}
}

func TestStoreDeleteFallbackOnly(t *testing.T) {
	s := New(nil, Options{})
	ctx := context.Background()

	s.Put(ctx, sampleRecord("a", "owner-1"))
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Fallback().Tombstones() != 0 {
		t.Error("fallback-only store should not keep tombstones")
	}
}

func TestStoreLazyRecheck(t *testing.T) {
	durable := newFlaky()
	s := New(durable, Options{RecheckInterval: time.Millisecond})
	ctx := context.Background()

	durable.down.Store(true)
	s.Put(ctx, sampleRecord("x", "owner-1"))
	durable.down.Store(false)
	time.Sleep(5 * time.Millisecond)

	if got, _ := s.Get(ctx, "x"); got == nil {
		t.Fatal("record lost across recovery")
	}
	if !s.Available() {
		t.Error("lazy recheck should restore availability")
	}
}

func TestStoreFallbackOnly(t *testing.T) {
	s := New(nil, Options{})
	ctx := context.Background()

	if s.Available() {
		t.Error("store without durable backend should report unavailable")
	}
	s.Put(ctx, sampleRecord("a", "owner-1"))
	if got, _ := s.Get(ctx, "a"); got == nil {
		t.Error("fallback-only store lost a record")
	}
	if s.Recheck(ctx) {
		t.Error("Recheck without durable backend should report false")
	}
}

func TestStoreFind(t *testing.T) {
	s := New(NewMemoryBackend(), Options{})
	ctx := context.Background()

	add := func(id, session string, typ MemoryType, composite float64, age time.Duration, archived bool) {
		r := sampleRecord(id, "owner-1")
		r.SessionID = session
		r.Type = typ
		r.Weights.Composite = composite
		r.CreatedAt = baseTime.Add(-age)
		r.Retention.IsArchived = archived
		s.Put(ctx, r)
	}
	add("a", "s1", Episodic, 0.9, 0, false)
	add("b", "s1", ShortTerm, 0.5, time.Hour, false)
	add("c", "s2", LongTerm, 0.7, 48*time.Hour, false)
	add("d", "s1", Episodic, 0.95, 0, true)
	add("e", "s1", Episodic, 0.5, 0, false)
	s.Put(ctx, sampleRecord("z", "owner-2"))

	tests := []struct {
		name string
		f    Filter
		want []string
	}{
		{"owner, composite then newest", Filter{OwnerID: "owner-1"}, []string{"a", "c", "e", "b"}},
		{"session", Filter{OwnerID: "owner-1", SessionID: "s2"}, []string{"c"}},
		{"types", Filter{OwnerID: "owner-1", Types: []MemoryType{Episodic}}, []string{"a", "e"}},
		{"min importance", Filter{OwnerID: "owner-1", MinImportance: 0.7}, []string{"a", "c"}},
		{"archived", Filter{OwnerID: "owner-1", IncludeArchived: true, MinImportance: 0.9}, []string{"d", "a"}},
		{"created after", Filter{OwnerID: "owner-1", CreatedAfter: baseTime.Add(-2 * time.Hour)}, []string{"a", "e", "b"}},
		{"limit", Filter{OwnerID: "owner-1", Limit: 2}, []string{"a", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := s.Find(ctx, tt.f)
			if err != nil {
				t.Fatalf("Find: %v", err)
			}
			var ids []string
			for _, r := range recs {
				ids = append(ids, r.ID)
			}
			if fmt.Sprint(ids) != fmt.Sprint(tt.want) {
				t.Errorf("ids = %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestStoreFindFetchLimit(t *testing.T) {
	s := New(NewMemoryBackend(), Options{FetchLimit: 3})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		r := sampleRecord(fmt.Sprintf("r%d", i), "owner-1")
		r.CreatedAt = baseTime.Add(time.Duration(i) * time.Minute)
		s.Put(ctx, r)
	}
	recs, _ := s.Find(ctx, Filter{OwnerID: "owner-1"})
	if len(recs) != 3 {
		t.Errorf("Find returned %d, want fetch limit 3", len(recs))
	}

	all, _ := s.All(ctx, "")
	if len(all) != 10 {
		t.Errorf("All returned %d, want 10", len(all))
	}
}
