package engine

import (
	"log"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/store"
)

// Analysis is everything the Content Analyzer derives from raw text.
type Analysis struct {
	Content              store.Content
	Topic                string
	Intent               string
	TokenCount           int
	CompressedTokenCount int
	CompressionRatio     float64 // compressed/original tokens, 1 when untouched
	Type                 store.MemoryType
}

// Analyzer turns raw text into keywords, concepts, an importance baseline
// and a compressed representation.
type Analyzer struct {
	cfg config.AnalyzerConfig
}

func NewAnalyzer(cfg config.AnalyzerConfig) *Analyzer {
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = 4
	}
	return &Analyzer{cfg: cfg}
}

var stopWords = map[string]bool{
	"a": true, "about": true, "after": true, "all": true, "also": true, "am": true, "an": true,
	"and": true, "any": true, "are": true, "as": true, "at": true, "be": true, "because": true,
	"been": true, "before": true, "being": true, "but": true, "by": true, "can": true,
	"could": true, "did": true, "do": true, "does": true, "doing": true, "for": true,
	"from": true, "had": true, "has": true, "have": true, "having": true, "he": true,
	"her": true, "here": true, "him": true, "his": true, "how": true, "i": true, "if": true,
	"in": true, "into": true, "is": true, "it": true, "its": true, "just": true, "like": true,
	"me": true, "more": true, "most": true, "my": true, "no": true, "not": true, "now": true,
	"of": true, "on": true, "only": true, "or": true, "other": true, "our": true, "out": true,
	"over": true, "she": true, "should": true, "so": true, "some": true, "such": true,
	"than": true, "that": true, "the": true, "their": true, "them": true, "then": true,
	"there": true, "these": true, "they": true, "this": true, "those": true, "through": true,
	"to": true, "too": true, "up": true, "very": true, "was": true, "we": true, "were": true,
	"what": true, "when": true, "where": true, "which": true, "while": true, "who": true,
	"why": true, "will": true, "with": true, "would": true, "you": true, "your": true,
	"want": true, "need": true, "make": true, "get": true, "really": true, "please": true,
}

// tokenize splits text into lowercase letter/digit runs.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// EstimateTokens applies the fixed chars-per-token ratio, rounding up.
func (a *Analyzer) EstimateTokens(text string) int {
	n := len([]rune(text))
	return (n + a.cfg.CharsPerToken - 1) / a.cfg.CharsPerToken
}

// Analyze derives content, metadata hints and the memory type for text.
// isQuery marks text that came from the subject rather than a generated response.
func (a *Analyzer) Analyze(text string, isQuery bool) Analysis {
	tokens := tokenize(text)
	keywords := a.keywords(tokens)
	concepts := a.concepts(tokens)
	importance := a.importance(text, tokens, isQuery)

	compressed, ratio := a.Compress(text)
	an := Analysis{
		Content: store.Content{
			Original:   text,
			Compressed: compressed,
			Keywords:   keywords,
			Concepts:   concepts,
			Sentiment:  sentiment(tokens),
			Importance: importance,
		},
		Intent:               intent(text, tokens),
		TokenCount:           a.EstimateTokens(text),
		CompressedTokenCount: a.EstimateTokens(compressed),
		CompressionRatio:     ratio,
	}
	switch {
	case len(concepts) > 0:
		an.Topic = concepts[0]
	case len(keywords) > 0:
		an.Topic = keywords[0]
	default:
		an.Topic = "general"
	}
	an.Type = classify(an)
	return an
}

// keywords ranks non-stop-word tokens of at least 4 characters by frequency,
// ties broken by first appearance.
func (a *Analyzer) keywords(tokens []string) []string {
	counts := make(map[string]int)
	var order []string
	for _, t := range tokens {
		if len(t) < 4 || stopWords[t] {
			continue
		}
		if counts[t] == 0 {
			order = append(order, t)
		}
		counts[t]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if n := a.cfg.MaxKeywords; n > 0 && len(order) > n {
		order = order[:n]
	}
	return order
}

// concepts keeps tokens longer than 5 characters that contain a domain signal.
func (a *Analyzer) concepts(tokens []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range tokens {
		if len(t) <= 5 || seen[t] {
			continue
		}
		for _, sig := range a.cfg.ConceptSignals {
			if strings.Contains(t, sig) {
				seen[t] = true
				out = append(out, t)
				break
			}
		}
		if n := a.cfg.MaxConcepts; n > 0 && len(out) >= n {
			break
		}
	}
	return out
}

// importance combines capped text length, keyword density and a query bonus.
func (a *Analyzer) importance(text string, tokens []string, isQuery bool) float64 {
	score := 0.3
	score += 0.3 * clamp(float64(len(text))/1000, 0, 1)
	if len(tokens) > 0 {
		dense := 0
		for _, t := range tokens {
			if len(t) >= 4 && !stopWords[t] {
				dense++
			}
		}
		score += 0.2 * float64(dense) / float64(len(tokens))
	}
	if isQuery {
		score += 0.2
	}
	return clamp(score, 0, 1)
}

var (
	positiveWords = map[string]bool{
		"good": true, "great": true, "love": true, "enjoy": true, "enjoyed": true, "happy": true,
		"excellent": true, "awesome": true, "thanks": true, "thank": true, "perfect": true,
		"better": true, "stronger": true, "easy": true, "fun": true, "progress": true,
	}
	negativeWords = map[string]bool{
		"bad": true, "hate": true, "pain": true, "hurt": true, "hurts": true, "injury": true,
		"tired": true, "hard": true, "difficult": true, "worse": true, "sore": true,
		"boring": true, "frustrated": true, "slow": true, "problem": true, "failed": true,
	}
)

func sentiment(tokens []string) store.Sentiment {
	score := 0
	for _, t := range tokens {
		if positiveWords[t] {
			score++
		}
		if negativeWords[t] {
			score--
		}
	}
	switch {
	case score > 0:
		return store.Positive
	case score < 0:
		return store.Negative
	default:
		return store.Neutral
	}
}

var (
	questionStarts  = []string{"what", "how", "why", "when", "where", "which", "who", "can", "could", "should", "would", "is", "are", "do", "does", "will"}
	requestPhrases  = []string{"i want", "i need", "i'd like", "i would like", "please", "help me", "give me", "show me", "make me", "let's", "can you", "could you"}
	feedbackPhrases = []string{"thanks", "thank you", "too hard", "too easy", "loved", "didn't like", "did not like"}
)

func intent(text string, tokens []string) string {
	lower := strings.ToLower(text)
	for _, p := range requestPhrases {
		if strings.Contains(lower, p) {
			return "request"
		}
	}
	if strings.Contains(text, "?") {
		return "question"
	}
	if len(tokens) > 0 {
		for _, w := range questionStarts {
			if tokens[0] == w {
				return "question"
			}
		}
	}
	for _, p := range feedbackPhrases {
		if strings.Contains(lower, p) {
			return "feedback"
		}
	}
	return "statement"
}

// classify assigns a memory type. Conditions overlap and are checked in a
// fixed order: question/request, then importance or length, then concepts.
func classify(an Analysis) store.MemoryType {
	switch {
	case an.Intent == "question" || an.Intent == "request":
		return store.Episodic
	case an.Content.Importance >= 0.8 || an.TokenCount > 150:
		return store.LongTerm
	case len(an.Content.Concepts) >= 3:
		return store.Semantic
	default:
		return store.ShortTerm
	}
}

// Compress shortens text and reports compressed/original token ratio.
// Short texts are returned as-is or truncated head+tail; long texts get
// sentence selection followed by stop-word stripping.
func (a *Analyzer) Compress(text string) (string, float64) {
	orig := a.EstimateTokens(text)
	if orig == 0 {
		return text, 1
	}

	var out string
	if orig < a.cfg.CompressTokens {
		if len([]rune(text)) <= a.cfg.TruncateChars {
			return text, 1
		}
		out = a.truncate(text)
	} else {
		out = a.aggressive(text)
		if a.EstimateTokens(out) >= orig || strings.TrimSpace(out) == "" {
			out = a.truncate(text)
		}
	}

	ratio := float64(a.EstimateTokens(out)) / float64(orig)
	log.Printf("analyzer: compressed %d -> %d tokens (ratio %.2f)", orig, a.EstimateTokens(out), ratio)
	return out, ratio
}

// truncate keeps the head and tail of text around an ellipsis.
func (a *Analyzer) truncate(text string) string {
	runes := []rune(strings.TrimSpace(text))
	keep := a.cfg.TruncateChars * 2 / 5
	if keep <= 0 || len(runes) <= 2*keep {
		return string(runes)
	}
	head := strings.TrimSpace(string(runes[:keep]))
	tail := strings.TrimSpace(string(runes[len(runes)-keep:]))
	return head + " ... " + tail
}

var (
	repeatedPunct = regexp.MustCompile(`([[:punct:]])[[:punct:]]+`)
	spaceRun      = regexp.MustCompile(`\s+`)
	spaceBefore   = regexp.MustCompile(`\s+([,.;:!?])`)
)

func (a *Analyzer) aggressive(text string) string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return ""
	}

	kept := []string{sentences[0]}
	for i := 1; i < len(sentences)-1; i++ {
		if a.hasSignal(sentences[i]) {
			kept = append(kept, sentences[i])
		}
	}
	if last := sentences[len(sentences)-1]; len(sentences) > 1 && last != sentences[0] {
		kept = append(kept, last)
	}

	var words []string
	for _, w := range strings.Fields(strings.Join(kept, " ")) {
		bare := strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}))
		if bare != "" && stopWords[bare] {
			continue
		}
		words = append(words, w)
	}

	out := strings.Join(words, " ")
	out = repeatedPunct.ReplaceAllString(out, "$1")
	out = spaceBefore.ReplaceAllString(out, "$1")
	out = spaceRun.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

func (a *Analyzer) hasSignal(sentence string) bool {
	for _, t := range tokenize(sentence) {
		for _, sig := range a.cfg.ImportanceSignals {
			if t == sig {
				return true
			}
		}
	}
	return false
}

// splitSentences breaks text on terminal punctuation followed by whitespace,
// and on newlines.
func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	runes := []rune(text)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for i, r := range runes {
		if r == '\n' {
			flush()
			continue
		}
		cur.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			flush()
		}
	}
	flush()
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
