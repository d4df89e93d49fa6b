package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/store"
)

// Action is the outcome of evaluating one record.
type Action int

const (
	Keep Action = iota
	Archive
	Remove
)

func (a Action) String() string {
	switch a {
	case Archive:
		return "archive"
	case Remove:
		return "remove"
	default:
		return "keep"
	}
}

// Decision names the action and the rule (1-8) that produced it.
type Decision struct {
	Action Action
	Rule   int
}

// CycleReport summarizes one forgetting sweep.
type CycleReport struct {
	Scanned         int `json:"scanned"`
	Removed         int `json:"removed"`
	Archived        int `json:"archived"`
	TokensReclaimed int `json:"tokens_reclaimed"`
	Errors          int `json:"errors"`
}

// Forgetter applies the ordered retention rules to stored records.
type Forgetter struct {
	store    *store.Store
	weights  *Calculator
	cfg      config.ForgettingConfig
	onRemove func(id string)
}

func NewForgetter(st *store.Store, weights *Calculator, cfg config.ForgettingConfig) *Forgetter {
	return &Forgetter{store: st, weights: weights, cfg: cfg}
}

// Evaluate runs the rules in order; first match wins.
func (f *Forgetter) Evaluate(rec *store.Record, now time.Time) (Decision, error) {
	tc, err := f.weights.TypeConfig(rec.Type)
	if err != nil {
		return Decision{}, err
	}
	c := f.cfg
	age := ageDays(rec.CreatedAt, now)
	unused := ageDays(rec.Retention.LastAccessed, now)
	archived := rec.Retention.IsArchived

	// 1: archived and untouched since archival
	if archived {
		since := rec.Retention.LastAccessed
		if at := rec.Retention.ArchivedAt; at != nil && at.After(since) {
			since = *at
		}
		if ageDays(since, now) > c.ArchivedUnusedDays {
			return Decision{Remove, 1}, nil
		}
	}
	if tc.MaxAgeDays > 0 && age > c.MaxAgeFactor*tc.MaxAgeDays {
		return Decision{Remove, 2}, nil
	}
	if rec.Weights.Composite < c.LowWeight && unused > c.LowWeightUnusedDays {
		return Decision{Remove, 3}, nil
	}
	if rec.Metadata.ResponseQuality < c.LowQuality && unused > c.LowQualityUnusedDays {
		return Decision{Remove, 4}, nil
	}
	if tc.MaxAgeDays > 0 && age > tc.MaxAgeDays && !archived {
		return Decision{Archive, 5}, nil
	}
	if rec.Weights.Composite < c.ArchiveWeight && unused > c.ArchiveWeightUnusedDays {
		return Decision{Archive, 6}, nil
	}
	if rec.Retention.AccessCount == 0 && age > c.NeverAccessedDays {
		return Decision{Archive, 7}, nil
	}
	return Decision{Keep, 8}, nil
}

// Run sweeps every record, or one owner's when ownerID is set. Records are
// loaded up front so mutations don't shift paging. A record that fails is
// logged, counted and retried on the next cycle.
func (f *Forgetter) Run(ctx context.Context, ownerID string, now time.Time) (*CycleReport, error) {
	recs, err := f.store.All(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: load records: %v", ErrForgettingCycle, err)
	}

	report := &CycleReport{}
	for i := range recs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rec := &recs[i]
		report.Scanned++

		d, err := f.Evaluate(rec, now)
		if err != nil {
			report.Errors++
			log.Printf("forget: %v", fmt.Errorf("%w: evaluate %s: %v", ErrForgettingCycle, rec.ID, err))
			continue
		}

		switch d.Action {
		case Remove:
			if err := f.store.Delete(ctx, rec.ID); err != nil {
				report.Errors++
				log.Printf("forget: %v", fmt.Errorf("%w: remove %s: %v", ErrForgettingCycle, rec.ID, err))
				continue
			}
			if f.onRemove != nil {
				f.onRemove(rec.ID)
			}
			report.Removed++
			report.TokensReclaimed += rec.Metadata.TokenCount
		case Archive:
			if rec.Retention.IsArchived {
				continue
			}
			yes := true
			at := now
			if err := f.store.Update(ctx, rec.ID, store.Patch{IsArchived: &yes, ArchivedAt: &at}); err != nil {
				report.Errors++
				log.Printf("forget: %v", fmt.Errorf("%w: archive %s: %v", ErrForgettingCycle, rec.ID, err))
				continue
			}
			report.Archived++
			report.TokensReclaimed += rec.Metadata.TokenCount
		}
	}

	if report.Removed > 0 || report.Archived > 0 || report.Errors > 0 {
		log.Printf("forget: scanned %d, removed %d, archived %d, reclaimed ~%d tokens, %d errors",
			report.Scanned, report.Removed, report.Archived, report.TokensReclaimed, report.Errors)
	}
	return report, nil
}
