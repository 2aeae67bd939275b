// Package chunk splits extracted document text into bounded, overlapping
// chunks suitable for embedding and retrieval. Splitting is a pure function
// of the input text and options: the same input always produces the same
// chunks. Each chunk records its byte offsets into the normalized text, a
// structural classification, and a heuristic quality score.
package chunk

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// StructuralType classifies the dominant structure of a chunk's content.
type StructuralType string

const (
	// TypeParagraph is running prose with sentence punctuation.
	TypeParagraph StructuralType = "paragraph"
	// TypeHeading is a short single-line title.
	TypeHeading StructuralType = "heading"
	// TypeList is bullet or numbered list content.
	TypeList StructuralType = "list"
	// TypeTable is tab- or pipe-delimited tabular content.
	TypeTable StructuralType = "table"
	// TypeOther is content that matches none of the above.
	TypeOther StructuralType = "other"
)

// Chunk is a bounded slice of a document's text, the unit of retrieval.
type Chunk struct {
	// Content is the chunk text, a contiguous substring of the normalized input.
	Content string
	// Index is the zero-based position of this chunk within the document.
	Index int
	// StartOffset is the byte offset of Content within the normalized input.
	StartOffset int
	// EndOffset is StartOffset + len(Content).
	EndOffset int
	// WordCount is the number of whitespace-separated words in Content.
	WordCount int
	// StructuralType is the heuristic structure classification.
	StructuralType StructuralType
	// Confidence is a heuristic quality score in [0, 100]. It is a signal
	// for downstream ranking, never a correctness gate.
	Confidence int
}

// Options controls chunk sizing. All sizes are in bytes of UTF-8 text.
type Options struct {
	// MaxSize is the upper bound on chunk content length. Every chunk except
	// possibly the last stays within it.
	MaxSize int
	// MinSize is the preferred lower bound. The final chunk is emitted even
	// when shorter; MinSize otherwise only feeds the confidence score.
	MinSize int
	// Overlap is the budget for the trailing-sentence fragment carried from
	// one chunk into the next.
	Overlap int
}

const (
	defaultMaxSize = 1000
	defaultMinSize = 100
	defaultOverlap = 100
)

// DefaultOptions returns the standard chunking configuration.
func DefaultOptions() Options {
	return Options{MaxSize: defaultMaxSize, MinSize: defaultMinSize, Overlap: defaultOverlap}
}

// withDefaults replaces zero or out-of-range fields with usable values.
func (o Options) withDefaults() Options {
	if o.MaxSize <= 0 {
		o.MaxSize = defaultMaxSize
	}
	if o.MinSize < 0 {
		o.MinSize = 0
	}
	if o.MinSize > o.MaxSize {
		o.MinSize = o.MaxSize
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	if o.Overlap >= o.MaxSize {
		o.Overlap = o.MaxSize / 4
	}
	return o
}

// Normalize applies the uniform whitespace normalization used by Split:
// CRLF and CR line endings become LF, trailing spaces and tabs are stripped
// from each line, and trailing newlines are dropped. Chunk offsets index
// into the result of Normalize, not the raw input.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimRight(ln, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// span is a half-open byte range into the normalized text.
type span struct {
	start, end int
}

// Split divides text into chunks. Paragraphs (blank-line separated) are
// accumulated greedily; when the next paragraph would push the buffer past
// MaxSize the buffer is emitted and the next buffer is seeded with the
// trailing sentences of the emitted chunk, up to the Overlap budget. A
// paragraph larger than MaxSize is pre-split on sentence boundaries. The
// final buffer is always emitted, even below MinSize.
func Split(text string, opts Options) []Chunk {
	opts = opts.withDefaults()
	norm := Normalize(text)
	units := unitSpans(norm, opts.MaxSize)
	if len(units) == 0 {
		return nil
	}

	var chunks []Chunk
	buf := units[0]
	for _, u := range units[1:] {
		if u.end-buf.start > opts.MaxSize && buf.end > buf.start {
			chunks = append(chunks, makeChunk(norm, buf, len(chunks), opts))

			// The overlap may not push the next chunk past MaxSize, so the
			// budget shrinks when the incoming unit is large.
			budget := opts.Overlap
			if room := opts.MaxSize - (u.end - buf.end); room < budget {
				budget = room
			}
			ov := overlapBytes(norm, buf, budget)
			if ov > 0 {
				buf = span{start: buf.end - ov, end: u.end}
			} else {
				buf = span{start: u.start, end: u.end}
			}
			continue
		}
		buf.end = u.end
	}
	chunks = append(chunks, makeChunk(norm, buf, len(chunks), opts))
	return chunks
}

// unitSpans returns the accumulation units for the text: paragraph spans,
// with any paragraph larger than maxSize pre-split into sentence runs that
// each fit within maxSize.
func unitSpans(s string, maxSize int) []span {
	paras := paragraphSpans(s)
	units := make([]span, 0, len(paras))
	for _, p := range paras {
		if p.end-p.start <= maxSize {
			units = append(units, p)
			continue
		}
		pieces := chopOversized(s, sentenceSpans(s, p), maxSize)
		units = append(units, mergeUpTo(s, pieces, maxSize)...)
	}
	return units
}

// paragraphSpans splits the normalized text on blank-line boundaries.
// After Normalize a blank line is a bare newline run, so paragraphs are
// maximal regions between runs of two or more newlines.
func paragraphSpans(s string) []span {
	var spans []span
	i := 0
	for i < len(s) {
		for i < len(s) && s[i] == '\n' {
			i++
		}
		if i >= len(s) {
			break
		}
		end := len(s)
		if j := strings.Index(s[i:], "\n\n"); j >= 0 {
			end = i + j
		}
		spans = append(spans, span{start: i, end: end})
		i = end
	}
	return spans
}

// sentenceSpans tiles the paragraph p with sentence spans. A sentence ends
// at a run of terminator punctuation followed by whitespace or the paragraph
// end; the trailing whitespace belongs to the sentence so consecutive spans
// stay contiguous. Trailing text without a terminator forms the last span.
func sentenceSpans(s string, p span) []span {
	var out []span
	start := p.start
	i := p.start
	for i < p.end {
		c := s[i]
		if c != '.' && c != '!' && c != '?' {
			i++
			continue
		}
		j := i + 1
		for j < p.end && (s[j] == '.' || s[j] == '!' || s[j] == '?') {
			j++
		}
		if j < p.end && s[j] != ' ' && s[j] != '\n' && s[j] != '\t' {
			// Terminator inside a token, e.g. "3.14" or "v1.2": not a boundary.
			i = j
			continue
		}
		for j < p.end && (s[j] == ' ' || s[j] == '\n' || s[j] == '\t') {
			j++
		}
		out = append(out, span{start: start, end: j})
		start = j
		i = j
	}
	if start < p.end {
		out = append(out, span{start: start, end: p.end})
	}
	return out
}

// chopOversized hard-splits any sentence span longer than maxSize at rune
// boundaries so that no single unit can exceed maxSize.
func chopOversized(s string, spans []span, maxSize int) []span {
	out := make([]span, 0, len(spans))
	for _, sp := range spans {
		for sp.end-sp.start > maxSize {
			cut := sp.start + maxSize
			for cut > sp.start && !utf8.RuneStart(s[cut]) {
				cut--
			}
			out = append(out, span{start: sp.start, end: cut})
			sp.start = cut
		}
		out = append(out, sp)
	}
	return out
}

// mergeUpTo greedily merges adjacent spans while the merged span stays
// within maxSize, trimming trailing whitespace from each emitted unit.
func mergeUpTo(s string, spans []span, maxSize int) []span {
	if len(spans) == 0 {
		return nil
	}
	var out []span
	cur := spans[0]
	for _, sp := range spans[1:] {
		if sp.end-cur.start <= maxSize {
			cur.end = sp.end
			continue
		}
		out = append(out, trimRightSpan(s, cur))
		cur = sp
	}
	out = append(out, trimRightSpan(s, cur))
	return out
}

// trimRightSpan shrinks the span end past any trailing whitespace.
func trimRightSpan(s string, sp span) span {
	for sp.end > sp.start {
		c := s[sp.end-1]
		if c != ' ' && c != '\n' && c != '\t' {
			break
		}
		sp.end--
	}
	return sp
}

// overlapBytes returns how many bytes of the chunk's tail to carry into the
// next chunk. Whole trailing sentences are preferred, walked backward while
// they fit the budget. When not even one sentence fits, a raw byte tail of
// at most budget bytes is taken, snapped to a rune boundary, so a nonzero
// budget always carries a fragment.
func overlapBytes(s string, chunkSp span, budget int) int {
	if budget <= 0 {
		return 0
	}
	sents := sentenceSpans(s, chunkSp)
	best := 0
	for i := len(sents) - 1; i >= 0; i-- {
		n := chunkSp.end - sents[i].start
		if n > budget {
			break
		}
		best = n
	}
	if best > 0 {
		return best
	}
	n := budget
	if max := chunkSp.end - chunkSp.start; n > max {
		n = max
	}
	for n > 0 && !utf8.RuneStart(s[chunkSp.end-n]) {
		n--
	}
	return n
}

func makeChunk(s string, sp span, index int, opts Options) Chunk {
	content := s[sp.start:sp.end]
	wc := len(strings.Fields(content))
	return Chunk{
		Content:        content,
		Index:          index,
		StartOffset:    sp.start,
		EndOffset:      sp.end,
		WordCount:      wc,
		StructuralType: classify(content),
		Confidence:     confidence(content, wc, opts),
	}
}

var numberedMarkerRe = regexp.MustCompile(`^\d{1,3}[.)]\s`)

// hasListMarker reports whether a trimmed line opens with a bullet or
// numbered list marker.
func hasListMarker(line string) bool {
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") || strings.HasPrefix(line, "• ") {
		return true
	}
	return numberedMarkerRe.MatchString(line)
}

// classify assigns a StructuralType using cheap textual heuristics, checked
// in order: heading, list, table, paragraph, other.
func classify(content string) StructuralType {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return TypeOther
	}
	if isHeading(trimmed) {
		return TypeHeading
	}
	if isList(trimmed) {
		return TypeList
	}
	if strings.ContainsAny(trimmed, "\t|") {
		return TypeTable
	}
	if len(trimmed) >= 80 && strings.ContainsAny(trimmed, ".!?") {
		return TypeParagraph
	}
	return TypeOther
}

// isHeading matches a short title-case single line without terminal sentence
// punctuation, or a Markdown heading.
func isHeading(s string) bool {
	if strings.Contains(s, "\n") || utf8.RuneCountInString(s) > 100 {
		return false
	}
	if strings.HasPrefix(s, "#") {
		return true
	}
	if hasListMarker(s) {
		return false
	}
	if strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?") {
		return false
	}
	words := strings.Fields(s)
	if len(words) == 0 || len(words) > 12 {
		return false
	}
	capitalized := 0
	for _, w := range words {
		r, _ := utf8.DecodeRuneInString(w)
		if unicode.IsUpper(r) || unicode.IsDigit(r) {
			capitalized++
		}
	}
	return capitalized*10 >= len(words)*6
}

// isList reports whether the majority of non-empty lines carry list markers.
func isList(s string) bool {
	lines := strings.Split(s, "\n")
	total, marked := 0, 0
	for _, ln := range lines {
		ln = strings.TrimSpace(ln)
		if ln == "" {
			continue
		}
		total++
		if hasListMarker(ln) {
			marked++
		}
	}
	return total > 0 && marked*2 > total
}

// confidence scores chunk quality from length, punctuation, capitalization,
// and word count. The scale tops out at 100 for well-formed prose.
func confidence(content string, wordCount int, opts Options) int {
	score := 50
	n := len(content)
	if n >= opts.MinSize {
		score += 10
	}
	if n >= opts.MaxSize/2 {
		score += 5
	}
	if strings.ContainsAny(content, ".!?") {
		score += 15
	}
	if wordCount >= 5 {
		score += 10
	}
	if wordCount >= 25 {
		score += 5
	}
	trimmed := strings.TrimSpace(content)
	if r, _ := utf8.DecodeRuneInString(trimmed); unicode.IsUpper(r) {
		score += 5
	}
	if n < 20 {
		score -= 25
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
