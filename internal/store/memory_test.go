package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestMemoryBackend(t *testing.T) {
	testBackendContract(t, NewMemoryBackend())
}

func TestMemoryBackendClones(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()

	rec := sampleRecord("c1", "owner-1")
	m.Put(ctx, rec)
	rec.Content.Keywords[0] = "mutated"

	got, _ := m.Get(ctx, "c1")
	if got.Content.Keywords[0] == "mutated" {
		t.Error("Put should store a copy")
	}
	got.Content.Original = "mutated"
	again, _ := m.Get(ctx, "c1")
	if again.Content.Original == "mutated" {
		t.Error("Get should return a copy")
	}
}

func TestMemoryBackendDeleteSwapsLast(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		m.Put(ctx, sampleRecord(fmt.Sprintf("d%d", i), "owner-1"))
	}

	m.Delete(ctx, "d0")
	if m.Len() != 2 {
		t.Fatalf("Len = %d, want 2", m.Len())
	}
	for _, id := range []string{"d1", "d2"} {
		if got, _ := m.Get(ctx, id); got == nil || got.ID != id {
			t.Errorf("Get(%s) = %v after delete of d0", id, got)
		}
	}
}

func TestMemoryBackendDirty(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()
	m.Put(ctx, sampleRecord("a", "owner-1"))
	m.Put(ctx, sampleRecord("b", "owner-1"))
	m.markDirty("a")
	m.markDirty("b")
	m.Delete(ctx, "b")

	dirty := m.takeDirty()
	if len(dirty) != 1 || dirty[0].ID != "a" {
		t.Errorf("takeDirty = %v, want [a]", dirty)
	}
	if again := m.takeDirty(); len(again) != 0 {
		t.Errorf("second takeDirty = %d records, want 0", len(again))
	}
}

func TestMemoryBackendConcurrent(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := fmt.Sprintf("w%d-%d", i, j)
				m.Put(ctx, sampleRecord(id, "owner-1"))
				count := j
				m.Update(ctx, id, Patch{AccessCount: &count})
				m.Query(ctx, "owner-1", 10, "")
				if j%2 == 0 {
					m.Delete(ctx, id)
				}
			}
		}(i)
	}
	wg.Wait()

	if m.Len() != 8*25 {
		t.Errorf("Len = %d, want %d", m.Len(), 8*25)
	}
}
