package store

import (
	"strings"
	"time"
)

// MemoryType classifies a record and selects its static type configuration.
type MemoryType string

const (
	Working   MemoryType = "working"
	ShortTerm MemoryType = "short_term"
	LongTerm  MemoryType = "long_term"
	Semantic  MemoryType = "semantic"
	Episodic  MemoryType = "episodic"
)

// MemoryTypes lists every memory type.
var MemoryTypes = []MemoryType{Working, ShortTerm, LongTerm, Semantic, Episodic}

// Valid reports whether t is one of the known memory types.
func (t MemoryType) Valid() bool {
	for _, mt := range MemoryTypes {
		if t == mt {
			return true
		}
	}
	return false
}

type Sentiment string

const (
	Positive Sentiment = "positive"
	Negative Sentiment = "negative"
	Neutral  Sentiment = "neutral"
)

// Content is the analyzed text of a record.
type Content struct {
	Original   string    `json:"original"`
	Compressed string    `json:"compressed"`
	Keywords   []string  `json:"keywords"`
	Concepts   []string  `json:"concepts"`
	Sentiment  Sentiment `json:"sentiment"`
	Importance float64   `json:"importance"`
}

type Metadata struct {
	CreatedAt            time.Time `json:"created_at"`
	Topic                string    `json:"topic"`
	Intent               string    `json:"intent"`
	ResponseQuality      float64   `json:"response_quality"`
	TokenCount           int       `json:"token_count"`
	CompressedTokenCount int       `json:"compressed_token_count"`
	ModelUsed            string    `json:"model_used,omitempty"`
	EnsembleMode         bool      `json:"ensemble_mode"`
}

// Weights are the scoring factors of a record, all in [0,1].
// Composite is derived by the engine and never set by callers.
type Weights struct {
	Importance float64 `json:"importance"`
	Recency    float64 `json:"recency"`
	Frequency  float64 `json:"frequency"`
	Context    float64 `json:"context"`
	Composite  float64 `json:"composite"`
}

type Retention struct {
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	LastAccessed time.Time  `json:"last_accessed"`
	AccessCount  int        `json:"access_count"`
	DecayRate    float64    `json:"decay_rate"`
	IsArchived   bool       `json:"is_archived"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty"`
}

// Record is one stored unit of interaction history.
type Record struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	SessionID string     `json:"session_id,omitempty"`
	Type      MemoryType `json:"memory_type"`
	Content   Content    `json:"content"`
	Metadata  Metadata   `json:"metadata"`
	Weights   Weights    `json:"weights"`
	Retention Retention  `json:"retention"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	c.Content.Keywords = append([]string(nil), r.Content.Keywords...)
	c.Content.Concepts = append([]string(nil), r.Content.Concepts...)
	if r.Retention.ExpiresAt != nil {
		t := *r.Retention.ExpiresAt
		c.Retention.ExpiresAt = &t
	}
	if r.Retention.ArchivedAt != nil {
		t := *r.Retention.ArchivedAt
		c.Retention.ArchivedAt = &t
	}
	return &c
}

// SearchableText joins every textual field used for similarity scoring.
func (r *Record) SearchableText() string {
	parts := []string{r.Content.Original}
	if r.Content.Compressed != r.Content.Original {
		parts = append(parts, r.Content.Compressed)
	}
	parts = append(parts, strings.Join(r.Content.Keywords, " "), strings.Join(r.Content.Concepts, " "),
		r.Metadata.Topic, r.Metadata.Intent)
	return strings.Join(parts, " ")
}

// Patch is a partial update. Nil fields are left untouched, so applying
// the same patch twice yields the same record.
type Patch struct {
	LastAccessed *time.Time
	AccessCount  *int
	IsArchived   *bool
	ArchivedAt   *time.Time
	Weights      *Weights
}

// Apply merges the patch into r and stamps UpdatedAt.
func (p Patch) Apply(r *Record, now time.Time) {
	if p.LastAccessed != nil {
		r.Retention.LastAccessed = *p.LastAccessed
	}
	if p.AccessCount != nil {
		r.Retention.AccessCount = *p.AccessCount
	}
	if p.IsArchived != nil {
		r.Retention.IsArchived = *p.IsArchived
	}
	if p.ArchivedAt != nil {
		t := *p.ArchivedAt
		r.Retention.ArchivedAt = &t
	}
	if p.Weights != nil {
		r.Weights = *p.Weights
	}
	r.UpdatedAt = now
}
