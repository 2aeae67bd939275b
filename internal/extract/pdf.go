package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

// pageErrorMarker replaces the text of a page that could not be processed,
// so downstream chunks keep their position relative to readable pages.
const pageErrorMarker = "[page processing error]"

// extractPDF parses the document page by page. Individual page failures
// are isolated: the page is replaced with an error marker and counted as
// failed. The tier as a whole fails only when no page yields text.
// Cancellation is polled between pages; text gathered so far is returned
// with the partial flag set.
func (e *Extractor) extractPDF(ctx context.Context, data []byte) (parsed, error) {
	r, err := e.openPDF(ctx, data)
	if err != nil {
		return parsed{}, err
	}

	n := r.NumPage()
	if n < 1 {
		return parsed{}, errors.New("extract: pdf has no pages")
	}

	var sb strings.Builder
	var confSum float64
	var p parsed
	p.pages = n
	for i := 1; i <= n; i++ {
		if ctx.Err() != nil {
			p.partial = true
			p.pages = i - 1
			break
		}
		text, perr := pageText(r.Page(i))
		e.progress("page", i, n)
		if perr != nil || strings.TrimSpace(text) == "" {
			p.failed++
			sb.WriteString("\n" + pageErrorMarker + "\n")
			continue
		}
		p.successful++
		confSum += textConfidence(text)
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}

	if p.successful == 0 {
		if p.partial {
			return parsed{}, ctx.Err()
		}
		return parsed{}, fmt.Errorf("extract: no text on any of %d pages", n)
	}

	p.text = sb.String()
	p.avgConfidence = confSum / float64(p.successful)
	return p, nil
}

// openPDF runs reader construction under the open timeout. The library
// has no context support and can spin on malformed cross-reference
// tables, so on timeout the goroutine is abandoned; the buffered channel
// lets it exit whenever it finishes.
func (e *Extractor) openPDF(ctx context.Context, data []byte) (*pdf.Reader, error) {
	type opened struct {
		r   *pdf.Reader
		err error
	}
	ch := make(chan opened, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- opened{err: fmt.Errorf("extract: pdf open panic: %v", rec)}
			}
		}()
		r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			err = fmt.Errorf("extract: open pdf: %w", err)
		}
		ch <- opened{r: r, err: err}
	}()

	timer := time.NewTimer(e.openTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.r, res.err
	case <-timer.C:
		return nil, fmt.Errorf("extract: pdf open timed out after %s", e.openTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pageText reads one page's plain text, converting parser panics into
// errors. The library panics on some malformed content streams.
func pageText(p pdf.Page) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("extract: page panic: %v", rec)
		}
	}()
	if p.V.IsNull() {
		return "", errors.New("extract: null page object")
	}
	return p.GetPlainText(nil)
}
