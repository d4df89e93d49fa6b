package engine

import (
	"strings"

	"github.com/lazypower/recall/internal/config"
)

// DiversityFilter greedily drops low-quality candidates and candidates whose
// concepts are mostly covered by higher-ranked ones.
type DiversityFilter struct {
	cfg config.DiversityConfig
}

func NewDiversityFilter(cfg config.DiversityConfig) *DiversityFilter {
	return &DiversityFilter{cfg: cfg}
}

// Filter walks results in the given (score-descending) order. A candidate
// is accepted when its concept overlap with already accepted candidates is
// below the threshold, or its score beats the high-score override.
func (f *DiversityFilter) Filter(ranked []Result, includeArchived bool) []Result {
	used := make(map[string]bool)
	var out []Result
	for _, r := range ranked {
		text := strings.TrimSpace(r.Record.Content.Original)
		if text == "" || len([]rune(text)) < f.cfg.MinContentChars {
			continue
		}
		if r.Record.Retention.IsArchived && !includeArchived {
			continue
		}
		if overlapRatio(r.Record.Content.Concepts, used) >= f.cfg.Threshold && r.Score <= f.cfg.HighScore {
			continue
		}
		for _, c := range r.Record.Content.Concepts {
			used[c] = true
		}
		out = append(out, r)
	}
	return out
}

// overlapRatio is the fraction of concepts already in used; 0 for none.
func overlapRatio(concepts []string, used map[string]bool) float64 {
	if len(concepts) == 0 {
		return 0
	}
	n := 0
	for _, c := range concepts {
		if used[c] {
			n++
		}
	}
	return float64(n) / float64(len(concepts))
}
