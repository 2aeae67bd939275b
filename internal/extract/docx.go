package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// extractDOCX pulls paragraph text out of the OOXML main document part.
// A .docx file is a zip archive; the text lives in word/document.xml as
// <w:t> runs grouped into <w:p> paragraphs. Only local element names are
// matched, so namespace prefixes do not matter.
func extractDOCX(data []byte) (parsed, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return parsed{}, fmt.Errorf("extract: open docx archive: %w", err)
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return parsed{}, errors.New("extract: docx missing word/document.xml")
	}

	rc, err := doc.Open()
	if err != nil {
		return parsed{}, fmt.Errorf("extract: open docx document part: %w", err)
	}
	defer rc.Close()

	text, err := wordMLText(rc)
	if err != nil {
		return parsed{}, err
	}
	if strings.TrimSpace(text) == "" {
		return parsed{}, errors.New("extract: docx contains no text")
	}

	return parsed{
		text:          text,
		pages:         1,
		successful:    1,
		avgConfidence: textConfidence(text),
	}, nil
}

// wordMLText streams WordprocessingML, keeping character data inside
// <w:t> elements, mapping tabs and breaks, and ending paragraphs with a
// blank line so the chunker sees them as boundaries.
func wordMLText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var sb strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("extract: parse docx xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br", "cr":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}
