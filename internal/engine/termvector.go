package engine

import "math"

// termVector is a sparse term-frequency vector.
type termVector map[string]float64

// newTermVector counts non-stop-word tokens longer than 2 characters.
func newTermVector(text string) termVector {
	tv := make(termVector)
	for _, t := range tokenize(text) {
		if len(t) <= 2 || stopWords[t] {
			continue
		}
		tv[t]++
	}
	return tv
}

func (tv termVector) cosine(other termVector) float64 {
	if len(tv) == 0 || len(other) == 0 {
		return 0
	}
	var dot, na, nb float64
	for t, a := range tv {
		na += a * a
		if b, ok := other[t]; ok {
			dot += a * b
		}
	}
	for _, b := range other {
		nb += b * b
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// matchRatio is the share of query terms that appear in tv.
func (tv termVector) matchRatio(query termVector) float64 {
	if len(query) == 0 {
		return 0
	}
	matches := 0
	for t := range query {
		if _, ok := tv[t]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

// LocalSimilarity is the degraded similarity used without an embedding
// provider: term-vector cosine plus a bonus for direct query-term matches,
// capped at 1.
func LocalSimilarity(query, text string, bonusWeight float64) float64 {
	q := newTermVector(query)
	d := newTermVector(text)
	return math.Min(q.cosine(d)+bonusWeight*d.matchRatio(q), 1)
}
