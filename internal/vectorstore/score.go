package vectorstore

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// Cosine returns the cosine similarity of a and b. Mismatched lengths and
// zero-magnitude vectors score 0 rather than erroring, so degenerate
// embeddings rank last instead of failing a whole search.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		na += av * av
		nb += bv * bv
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// KeywordScore returns the fraction of distinct query tokens that appear
// in the content, in [0, 1]. Tokens are lowercased letter and digit runs.
func KeywordScore(query, content string) float64 {
	queryTokens := distinctTokens(query)
	if len(queryTokens) == 0 {
		return 0
	}
	contentTokens := distinctTokens(content)
	hits := 0
	for tok := range queryTokens {
		if _, ok := contentTokens[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

func distinctTokens(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// CombineScore merges the semantic and keyword scores under the mode.
// Hybrid is their arithmetic mean.
func CombineScore(mode SearchMode, semantic, keyword float64) float64 {
	switch mode {
	case ModeSemantic:
		return semantic
	case ModeKeyword:
		return keyword
	default:
		return (semantic + keyword) / 2
	}
}

// rankResults applies the shared result pipeline: drop scores below the
// threshold, stable-sort descending, truncate to the limit. Stability
// preserves each engine's candidate order for equal scores.
func rankResults(results []SearchResult, opts SearchOptions) []SearchResult {
	kept := make([]SearchResult, 0, len(results))
	for _, r := range results {
		if r.Score >= opts.Threshold {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if opts.Limit > 0 && len(kept) > opts.Limit {
		kept = kept[:opts.Limit]
	}
	return kept
}

// rescoreCandidates runs locally computed keyword and hybrid scoring over
// candidates fetched from an external engine. The engines return
// cosine-ordered candidates with their semantic score; scoring the
// returned content here keeps all three modes identical across engines.
func rescoreCandidates(candidates []SearchResult, query string, opts SearchOptions) []SearchResult {
	for i := range candidates {
		keyword := 0.0
		if opts.Mode != ModeSemantic {
			keyword = KeywordScore(query, candidates[i].Content)
		}
		candidates[i].Score = CombineScore(opts.Mode, candidates[i].Score, keyword)
	}
	return rankResults(candidates, opts)
}

// candidateLimit is how many candidates to pull from an external engine
// before local rescoring. Wider than the final limit so keyword signal
// can reorder past the pure vector ranking.
func candidateLimit(limit int) int {
	c := limit * 4
	if c < 32 {
		c = 32
	}
	return c
}
