package extract

import (
	"errors"
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// extractHTML converts markup to markdown rather than stripping tags, so
// headings and lists survive into chunk classification.
func extractHTML(data []byte) (parsed, error) {
	md, err := htmltomarkdown.ConvertString(string(data))
	if err != nil {
		return parsed{}, fmt.Errorf("extract: convert html: %w", err)
	}
	if strings.TrimSpace(md) == "" {
		return parsed{}, errors.New("extract: html contains no text")
	}
	return parsed{
		text:          md,
		pages:         1,
		successful:    1,
		avgConfidence: textConfidence(md),
	}, nil
}
