// Package budget provides token counting and prompt budgeting for the
// answer pipeline. Counting prefers a real tiktoken encoding; when the
// encoding cannot be loaded (offline hosts), a conservative character
// heuristic takes over: 1 token ≈ 4 characters (English prose and code).
// The heuristic deliberately under-estimates to leave headroom for
// model-specific overhead.
package budget

import (
	"github.com/cloudwego/eino/schema"
	"github.com/pkoukk/tiktoken-go"
)

const (
	// charsPerToken is the conservative character-to-token ratio used by
	// the heuristic. 4 chars/token is standard for English and code; using
	// 3 would be more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Conservative enough to fit within 8k-context models while leaving
	// room for the output.
	DefaultMaxContextTokens = 6000

	// encodingName is the tiktoken encoding used for counting. cl100k_base
	// covers the gpt-4/gpt-3.5/text-embedding model families and is close
	// enough for the others.
	encodingName = "cl100k_base"

	// messageOverheadTokens is the per-message framing overhead most chat
	// APIs charge on top of role and content.
	messageOverheadTokens = 4
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// Counter counts tokens with a tiktoken encoding when one is available and
// falls back to Estimate otherwise. The zero value counts heuristically.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// NewCounter loads the tiktoken encoding and returns a Counter around it.
// Loading can fail on hosts without the cached BPE ranks; the returned
// Counter then counts heuristically instead of failing, since budgeting
// must keep working offline.
func NewCounter() *Counter {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return &Counter{}
	}
	return &Counter{enc: enc}
}

// Count returns the token count for s.
func (c *Counter) Count(s string) int {
	if c == nil || c.enc == nil {
		return Estimate(s)
	}
	if s == "" {
		return 0
	}
	return len(c.enc.Encode(s, nil, nil))
}

// CountMessages returns the total token count for a slice of messages,
// charging the per-message overhead plus role and content for each.
func (c *Counter) CountMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverheadTokens
		total += c.Count(string(m.Role))
		total += c.Count(m.Content)
	}
	return total
}

// Fit returns how many leading items fit the budget: counting each item
// with c and adding it to used, inclusion stops at the first item that
// would push the total past maxTokens. Items after the first overflow are
// not considered, even if a later, smaller item would still fit.
func Fit(c *Counter, used, maxTokens int, items []string) int {
	total := used
	for i, item := range items {
		total += c.Count(item)
		if total > maxTokens {
			return i
		}
	}
	return len(items)
}
