package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Options tunes the failover behaviour of Store.
type Options struct {
	Timeout         time.Duration // bound on every durable call
	RecheckInterval time.Duration // how long to skip the durable backend after a failure
	FetchLimit      int           // owner rows pulled before client-side filtering
}

// Filter holds the predicates applied in-process after the owner query.
type Filter struct {
	OwnerID         string
	SessionID       string // empty = any session
	Types           []MemoryType
	MinImportance   float64 // compared against Weights.Composite
	IncludeArchived bool
	CreatedAfter    time.Time
	Limit           int
}

// Store is the record store façade: writes and reads go to the durable
// backend while it is available, and degrade to the in-process fallback
// cache when it is not. Only Delete reports a durable failure; the delete is
// still recorded as a tombstone and replayed when the backend recovers.
type Store struct {
	durable  Backend
	fallback *MemoryBackend
	opts     Options

	available atomic.Bool
	mu        sync.Mutex
	downSince time.Time
}

// New creates a Store. A nil durable backend runs on the fallback cache alone.
func New(durable Backend, opts Options) *Store {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.RecheckInterval <= 0 {
		opts.RecheckInterval = time.Minute
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 500
	}
	s := &Store{durable: durable, fallback: NewMemoryBackend(), opts: opts}
	s.available.Store(durable != nil)
	return s
}

// Available reports whether the durable backend is currently in use.
func (s *Store) Available() bool {
	return s.available.Load()
}

// Fallback exposes the in-process cache.
func (s *Store) Fallback() *MemoryBackend {
	return s.fallback
}

func (s *Store) markDown(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.available.Swap(false) {
		s.downSince = time.Now()
		log.Printf("store: %v during %s, using fallback cache: %v", ErrUnavailable, op, err)
	}
}

// useDurable reports whether the durable backend should be tried, lazily
// re-checking it once the recheck interval has elapsed.
func (s *Store) useDurable(ctx context.Context) bool {
	if s.durable == nil {
		return false
	}
	if s.available.Load() {
		return true
	}
	s.mu.Lock()
	due := time.Since(s.downSince) >= s.opts.RecheckInterval
	s.mu.Unlock()
	if !due {
		return false
	}
	return s.Recheck(ctx)
}

// Recheck pings the durable backend and, when it answers, replays deletes and
// flushes records written to the fallback cache during the outage. Reports
// availability.
func (s *Store) Recheck(ctx context.Context) bool {
	if s.durable == nil {
		return false
	}
	cctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	if err := s.durable.Ping(cctx); err != nil {
		s.mu.Lock()
		s.downSince = time.Now()
		s.mu.Unlock()
		return false
	}

	tombs := s.fallback.takeDeleted()
	for i, id := range tombs {
		if err := s.durable.Delete(cctx, id); err != nil {
			for _, t := range tombs[i:] {
				s.fallback.markDeleted(t)
			}
			s.mu.Lock()
			s.downSince = time.Now()
			s.mu.Unlock()
			log.Printf("store: replaying deletes to durable backend failed: %v", err)
			return false
		}
	}
	if len(tombs) > 0 {
		log.Printf("store: replayed %d deletes to durable backend", len(tombs))
	}

	pending := s.fallback.takeDirty()
	for i, rec := range pending {
		if err := s.durable.Put(cctx, rec); err != nil {
			for _, r := range pending[i:] {
				s.fallback.markDirty(r.ID)
			}
			s.mu.Lock()
			s.downSince = time.Now()
			s.mu.Unlock()
			log.Printf("store: flush to durable backend failed: %v", err)
			return false
		}
		s.fallback.Delete(cctx, rec.ID)
	}
	if len(pending) > 0 {
		log.Printf("store: flushed %d cached records to durable backend", len(pending))
	}
	if !s.available.Swap(true) {
		log.Printf("store: durable backend available again")
	}
	return true
}

// Put writes a record, falling back to the cache when the durable write fails.
func (s *Store) Put(ctx context.Context, rec *Record) error {
	s.fallback.clearDeleted(rec.ID)
	if s.useDurable(ctx) {
		cctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		err := s.durable.Put(cctx, rec)
		cancel()
		if err == nil {
			return nil
		}
		s.markDown("put", err)
	}
	s.fallback.Put(ctx, rec)
	if s.durable != nil {
		s.fallback.markDirty(rec.ID)
	}
	return nil
}

// Get returns a record by id, or nil. Read failures degrade to the cache.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	if s.fallback.isDeleted(id) {
		return nil, nil
	}
	if s.useDurable(ctx) {
		cctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		rec, err := s.durable.Get(cctx, id)
		cancel()
		if err == nil && rec != nil {
			return rec, nil
		}
		if err != nil {
			s.markDown("get", err)
		}
	}
	return s.fallback.Get(ctx, id)
}

// Update applies a partial patch wherever the record lives.
func (s *Store) Update(ctx context.Context, id string, patch Patch) error {
	if s.fallback.isDeleted(id) {
		return fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	if s.useDurable(ctx) {
		cctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		err := s.durable.Update(cctx, id, patch)
		cancel()
		if err == nil {
			return nil
		}
		if !isNotFound(err) {
			s.markDown("update", err)
		}
	}
	if err := s.fallback.Update(ctx, id, patch); err != nil {
		return err
	}
	if s.durable != nil && !s.available.Load() {
		s.fallback.markDirty(id)
	}
	return nil
}

// Delete hard-deletes a record from both backends. When the durable backend
// cannot be reached the record is hidden behind a tombstone, replayed on the
// next successful Recheck, and ErrUnavailable is returned.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.fallback.Delete(ctx, id)
	if s.durable == nil {
		return nil
	}
	if s.useDurable(ctx) {
		cctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		err := s.durable.Delete(cctx, id)
		cancel()
		if err == nil {
			return nil
		}
		s.markDown("delete", err)
	}
	s.fallback.markDeleted(id)
	return fmt.Errorf("delete %s: %w", id, ErrUnavailable)
}

// Find fetches an owner's records by the owner predicate alone, then applies
// the remaining filter predicates and sorting in-process. Results are ordered
// by composite weight, then newest first.
func (s *Store) Find(ctx context.Context, f Filter) ([]Record, error) {
	recs := s.ownerRecords(ctx, f.OwnerID, s.opts.FetchLimit)

	out := recs[:0]
	for _, r := range recs {
		if f.matches(&r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weights.Composite != out[j].Weights.Composite {
			return out[i].Weights.Composite > out[j].Weights.Composite
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ownerRecords merges up to limit (0 = all) durable records for an owner with
// the cached ones, cached copies winning since they were written more recently.
func (s *Store) ownerRecords(ctx context.Context, ownerID string, limit int) []Record {
	var recs []Record
	seen := make(map[string]int)

	if s.useDurable(ctx) {
		durable, err := collect(ctx, s.opts, limit, func(c context.Context, cursor string) ([]Record, string, error) {
			return s.durable.Query(c, ownerID, s.opts.FetchLimit, cursor)
		})
		if err != nil {
			s.markDown("query", err)
		}
		for _, r := range durable {
			if s.fallback.isDeleted(r.ID) {
				continue
			}
			seen[r.ID] = len(recs)
			recs = append(recs, r)
		}
	}

	cached, _ := collect(ctx, s.opts, limit, func(c context.Context, cursor string) ([]Record, string, error) {
		return s.fallback.Query(c, ownerID, s.opts.FetchLimit, cursor)
	})
	for _, r := range cached {
		if i, ok := seen[r.ID]; ok {
			recs[i] = r
			continue
		}
		recs = append(recs, r)
	}
	return recs
}

// All returns every record, optionally for one owner.
func (s *Store) All(ctx context.Context, ownerID string) ([]Record, error) {
	if ownerID != "" {
		return s.ownerRecords(ctx, ownerID, 0), nil
	}

	var recs []Record
	seen := make(map[string]int)
	if s.useDurable(ctx) {
		durable, err := collect(ctx, s.opts, 0, func(c context.Context, cursor string) ([]Record, string, error) {
			return s.durable.Scan(c, s.opts.FetchLimit, cursor)
		})
		if err != nil {
			s.markDown("scan", err)
		}
		for _, r := range durable {
			if s.fallback.isDeleted(r.ID) {
				continue
			}
			seen[r.ID] = len(recs)
			recs = append(recs, r)
		}
	}
	cached, _ := collect(ctx, s.opts, 0, func(c context.Context, cursor string) ([]Record, string, error) {
		return s.fallback.Scan(c, s.opts.FetchLimit, cursor)
	})
	for _, r := range cached {
		if i, ok := seen[r.ID]; ok {
			recs[i] = r
			continue
		}
		recs = append(recs, r)
	}
	return recs, nil
}

// collect follows cursors until exhausted or limit records (0 = no cap) are
// gathered, bounding each page by the timeout.
func collect(ctx context.Context, opts Options, limit int, fetch func(context.Context, string) ([]Record, string, error)) ([]Record, error) {
	var all []Record
	cursor := ""
	for {
		cctx, cancel := context.WithTimeout(ctx, opts.Timeout)
		page, next, err := fetch(cctx, cursor)
		cancel()
		if err != nil {
			return all, err
		}
		all = append(all, page...)
		if limit > 0 && len(all) >= limit {
			return all[:limit], nil
		}
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

func (f Filter) matches(r *Record) bool {
	if r.OwnerID != f.OwnerID {
		return false
	}
	if f.SessionID != "" && r.SessionID != f.SessionID {
		return false
	}
	if !f.IncludeArchived && r.Retention.IsArchived {
		return false
	}
	if r.Weights.Composite < f.MinImportance {
		return false
	}
	if !f.CreatedAfter.IsZero() && r.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if r.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
