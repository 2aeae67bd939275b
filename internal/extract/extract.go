// Package extract turns raw document bytes into plain text plus metadata
// describing how the extraction went. Extraction never fails outright:
// a structured parser is tried first, then an optional remote extraction
// service, and finally a synthetic placeholder, so every input yields a
// usable Result. Callers decide what to do with low-quality output, the
// extractor only reports it.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/meridell/docqa-go/internal/logging"
)

// Extraction tier names, in the order they are attempted.
const (
	TierStructured  = "structured"
	TierRemote      = "remote"
	TierPlaceholder = "placeholder"
)

// Quality grades how trustworthy the extracted text is.
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// defaultOpenTimeout bounds structured parser startup. Malformed PDFs can
// make the reader spin while reconstructing cross-reference tables.
const defaultOpenTimeout = 30 * time.Second

// remoteConfidence is the page confidence assigned to remote tier output.
// The service reports no per-page signal, so a flat mid-high value is used.
const remoteConfidence = 75

// TierAttempt records one extraction tier try, in order.
type TierAttempt struct {
	Tier      string        `json:"tier"`
	Succeeded bool          `json:"succeeded"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Metadata describes the outcome of extracting one document.
type Metadata struct {
	// Kind is the detected document format.
	Kind Kind `json:"kind"`
	// Method names the tier that produced the text.
	Method string `json:"processingMethod"`
	// Pages is the page count seen by the winning tier, at least 1.
	Pages int `json:"pages"`
	// SuccessfulPages counts pages that yielded text.
	SuccessfulPages int `json:"successfulPages"`
	// FailedPages counts pages replaced by error markers.
	FailedPages int `json:"failedPages"`
	// AvgConfidence is the mean per-page confidence in [0, 100].
	AvgConfidence float64 `json:"avgConfidence"`
	// CharsPerPage is len(text) divided by Pages.
	CharsPerPage float64 `json:"charsPerPage"`
	// Quality is derived from the three signals above.
	Quality Quality `json:"quality"`
	// Language is the detected language code, or "unknown".
	Language string `json:"language"`
	// Partial is set when cancellation stopped extraction mid-document.
	Partial bool `json:"partial,omitempty"`
	// Synthetic is set when the placeholder tier produced the text.
	Synthetic bool `json:"synthetic,omitempty"`
	// Warnings collects tier failures and degradations in plain language.
	Warnings []string `json:"warnings,omitempty"`
	// Attempts lists every tier tried, in order.
	Attempts []TierAttempt `json:"attempts"`
}

// Result is extracted text plus its metadata. Text is never empty.
type Result struct {
	Text     string
	Metadata Metadata
}

// parsed is the raw outcome of a single tier before metadata derivation.
type parsed struct {
	text          string
	pages         int
	successful    int
	failed        int
	avgConfidence float64
	partial       bool
	synthetic     bool
}

// Options configures an Extractor.
type Options struct {
	// RemoteEndpoint is the URL of an extraction service used when the
	// structured tier fails. Empty disables the remote tier.
	RemoteEndpoint string
	// OpenTimeout bounds structured parser startup. Default 30s.
	OpenTimeout time.Duration
	// RemoteTimeout bounds the remote tier HTTP call. Default 60s.
	RemoteTimeout time.Duration
	// OnProgress, when set, is called once per processed page with the
	// stage name, the page number, and the total page count.
	OnProgress func(stage string, page, total int)
}

// Extractor runs the tier chain. It is safe for concurrent use.
type Extractor struct {
	remote      *remoteClient
	openTimeout time.Duration
	onProgress  func(stage string, page, total int)
	logger      *slog.Logger
}

// New constructs an Extractor.
func New(opts Options, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{
		openTimeout: opts.OpenTimeout,
		onProgress:  opts.OnProgress,
		logger:      logging.WithComponent(logger, "extract"),
	}
	if e.openTimeout <= 0 {
		e.openTimeout = defaultOpenTimeout
	}
	if opts.RemoteEndpoint != "" {
		e.remote = newRemoteClient(opts.RemoteEndpoint, opts.RemoteTimeout)
	}
	return e
}

func (e *Extractor) progress(stage string, page, total int) {
	if e.onProgress != nil {
		e.onProgress(stage, page, total)
	}
}

// Extract converts document bytes into text and metadata. It always
// returns a Result with non-empty text: when both the structured and
// remote tiers fail, a synthetic placeholder describes the document
// instead. The attempt list in the metadata records every tier tried.
// declaredMIME may be empty; when present it backstops content sniffing.
func (e *Extractor) Extract(ctx context.Context, name, declaredMIME string, data []byte) Result {
	kind := DetectKind(name, declaredMIME, data)
	var attempts []TierAttempt

	start := time.Now()
	p, err := e.structured(ctx, kind, data)
	attempts = append(attempts, newAttempt(TierStructured, start, err))
	if err == nil {
		e.logger.Debug("structured extraction succeeded",
			"name", name, "kind", kind, "pages", p.pages, "failed_pages", p.failed)
		return finish(kind, p, attempts)
	}
	e.logger.Warn("structured extraction failed", "name", name, "kind", kind, "error", err)

	if e.remote == nil {
		attempts = append(attempts, TierAttempt{Tier: TierRemote, Error: "remote extractor not configured"})
	} else {
		start = time.Now()
		text, pages, rerr := e.remote.extract(ctx, name, data)
		attempts = append(attempts, newAttempt(TierRemote, start, rerr))
		if rerr == nil {
			e.logger.Info("remote extraction succeeded", "name", name, "pages", pages)
			return finish(kind, parsed{
				text:          text,
				pages:         pages,
				successful:    pages,
				avgConfidence: remoteConfidence,
			}, attempts)
		}
		e.logger.Warn("remote extraction failed", "name", name, "error", rerr)
	}

	start = time.Now()
	p = placeholder(name, len(data), kind)
	attempts = append(attempts, newAttempt(TierPlaceholder, start, nil))
	e.logger.Warn("using placeholder text", "name", name, "kind", kind)
	return finish(kind, p, attempts)
}

func newAttempt(tier string, start time.Time, err error) TierAttempt {
	a := TierAttempt{Tier: tier, Succeeded: err == nil, Duration: time.Since(start)}
	if err != nil {
		a.Error = err.Error()
	}
	return a
}

// finish derives the metadata fields that depend on the winning tier's
// raw output. The winning tier is the last attempt by construction.
func finish(kind Kind, p parsed, attempts []TierAttempt) Result {
	pages := p.pages
	if pages < 1 {
		pages = 1
	}
	meta := Metadata{
		Kind:            kind,
		Method:          attempts[len(attempts)-1].Tier,
		Pages:           pages,
		SuccessfulPages: p.successful,
		FailedPages:     p.failed,
		AvgConfidence:   p.avgConfidence,
		CharsPerPage:    float64(len(p.text)) / float64(pages),
		Partial:         p.partial,
		Synthetic:       p.synthetic,
		Attempts:        attempts,
	}
	meta.Quality = deriveQuality(meta)
	if p.synthetic {
		// Placeholder prose is not document content.
		meta.Language = "unknown"
	} else {
		meta.Language = DetectLanguage(p.text)
	}
	meta.Warnings = buildWarnings(meta)
	return Result{Text: p.text, Metadata: meta}
}

// buildWarnings renders the degradations a caller should surface: failed
// tiers, failed pages, cancellation, and placeholder substitution.
func buildWarnings(m Metadata) []string {
	var warnings []string
	for _, a := range m.Attempts {
		if a.Error != "" {
			warnings = append(warnings, fmt.Sprintf("%s tier failed: %s", a.Tier, a.Error))
		}
	}
	if m.FailedPages > 0 && !m.Synthetic {
		warnings = append(warnings, fmt.Sprintf("%d of %d pages failed and were replaced with error markers", m.FailedPages, m.Pages))
	}
	if m.Partial {
		warnings = append(warnings, "extraction was cancelled before the last page; output is partial")
	}
	if m.Synthetic {
		warnings = append(warnings, "no extraction tier could read the document; placeholder text was substituted")
	}
	return warnings
}

// structured dispatches to the format-specific parser. Single-page formats
// report one progress tick; the PDF parser reports per page.
func (e *Extractor) structured(ctx context.Context, kind Kind, data []byte) (parsed, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return parsed{}, errors.New("extract: empty input")
	}
	if kind == KindPDF {
		return e.extractPDF(ctx, data)
	}

	var (
		p   parsed
		err error
	)
	switch kind {
	case KindDOCX:
		p, err = extractDOCX(data)
	case KindHTML:
		p, err = extractHTML(data)
	case KindMarkdown, KindText:
		p, err = extractText(data)
	default:
		return parsed{}, fmt.Errorf("extract: no structured parser for %s content", kind)
	}
	if err == nil {
		e.progress("parse", 1, 1)
	}
	return p, err
}

// extractText handles plain text and markdown. Invalid UTF-8 sequences are
// replaced rather than rejected.
func extractText(data []byte) (parsed, error) {
	text := strings.ToValidUTF8(string(data), "�")
	if strings.TrimSpace(text) == "" {
		return parsed{}, errors.New("extract: no text content")
	}
	return parsed{
		text:          text,
		pages:         1,
		successful:    1,
		avgConfidence: textConfidence(text),
	}, nil
}

// textConfidence scores text by the share of runes that belong in prose.
// Control characters and replacement runes drag the score down, which is
// what garbled binary-to-text extraction looks like.
func textConfidence(text string) float64 {
	var good, total float64
	for _, r := range text {
		total++
		if r == utf8.RuneError {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) ||
			unicode.IsPunct(r) || unicode.IsSymbol(r) {
			good++
		}
	}
	if total == 0 {
		return 0
	}
	return 100 * good / total
}
