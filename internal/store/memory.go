package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned by Update when no record has the given id.
	ErrNotFound = errors.New("memory not found")

	// ErrUnavailable marks a failed durable-backend call. Store returns it
	// only from Delete, when the record may still live in the durable backend.
	ErrUnavailable = errors.New("durable store unavailable")
)

// MemoryBackend is the in-process fallback cache: an arena of records plus
// an id index. It satisfies Backend, so the engine never needs to know which
// store answered. Safe for concurrent use.
type MemoryBackend struct {
	mu    sync.RWMutex
	arena []*Record
	index map[string]int
	// dirty tracks ids written while the durable backend was down.
	dirty map[string]bool
	// deleted tracks ids deleted while the durable backend was down.
	deleted map[string]bool
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		index:   make(map[string]int),
		dirty:   make(map[string]bool),
		deleted: make(map[string]bool),
	}
}

func (m *MemoryBackend) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[id]
	if !ok {
		return nil, nil
	}
	return m.arena[i].Clone(), nil
}

func (m *MemoryBackend) Put(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(rec.Clone())
	return nil
}

func (m *MemoryBackend) put(rec *Record) {
	delete(m.deleted, rec.ID)
	if i, ok := m.index[rec.ID]; ok {
		m.arena[i] = rec
		return
	}
	m.index[rec.ID] = len(m.arena)
	m.arena = append(m.arena, rec)
}

func (m *MemoryBackend) Query(_ context.Context, ownerID string, limit int, cursor string) ([]Record, string, error) {
	m.mu.RLock()
	var owned []*Record
	for _, r := range m.arena {
		if r.OwnerID == ownerID {
			owned = append(owned, r)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(owned, func(i, j int) bool {
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})
	return page(owned, limit, cursor)
}

func (m *MemoryBackend) Scan(_ context.Context, limit int, cursor string) ([]Record, string, error) {
	m.mu.RLock()
	all := make([]*Record, len(m.arena))
	copy(all, m.arena)
	m.mu.RUnlock()
	return page(all, limit, cursor)
}

func page(recs []*Record, limit int, cursor string) ([]Record, string, error) {
	offset := parseCursor(cursor)
	if offset >= len(recs) {
		return nil, "", nil
	}
	end := len(recs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]Record, 0, end-offset)
	for _, r := range recs[offset:end] {
		out = append(out, *r.Clone())
	}
	return out, nextCursor(offset, len(out), limit), nil
}

func (m *MemoryBackend) Update(_ context.Context, id string, patch Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[id]
	if !ok {
		return ErrNotFound
	}
	rec := m.arena[i].Clone()
	patch.Apply(rec, time.Now())
	m.arena[i] = rec
	return nil
}

// Delete removes a record, swapping the last arena slot into its place.
func (m *MemoryBackend) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[id]
	if !ok {
		return nil
	}
	last := len(m.arena) - 1
	if i != last {
		m.arena[i] = m.arena[last]
		m.index[m.arena[i].ID] = i
	}
	m.arena[last] = nil
	m.arena = m.arena[:last]
	delete(m.index, id)
	delete(m.dirty, id)
	return nil
}

func (m *MemoryBackend) Ping(context.Context) error { return nil }

// Len returns the number of cached records.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.arena)
}

func (m *MemoryBackend) markDirty(id string) {
	m.mu.Lock()
	m.dirty[id] = true
	m.mu.Unlock()
}

// takeDirty returns copies of the records written during an outage and
// clears the dirty set.
func (m *MemoryBackend) takeDirty() []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for id := range m.dirty {
		if i, ok := m.index[id]; ok {
			out = append(out, m.arena[i].Clone())
		}
	}
	m.dirty = make(map[string]bool)
	return out
}

func (m *MemoryBackend) markDeleted(id string) {
	m.mu.Lock()
	m.deleted[id] = true
	m.mu.Unlock()
}

func (m *MemoryBackend) clearDeleted(id string) {
	m.mu.Lock()
	delete(m.deleted, id)
	m.mu.Unlock()
}

func (m *MemoryBackend) isDeleted(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deleted[id]
}

// Tombstones returns the number of deletes waiting for the durable backend.
func (m *MemoryBackend) Tombstones() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.deleted)
}

// takeDeleted returns the pending tombstones and clears them.
func (m *MemoryBackend) takeDeleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.deleted))
	for id := range m.deleted {
		out = append(out, id)
	}
	m.deleted = make(map[string]bool)
	return out
}
