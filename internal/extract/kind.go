package extract

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Kind is a detected document format.
type Kind string

const (
	KindPDF      Kind = "pdf"
	KindDOCX     Kind = "docx"
	KindHTML     Kind = "html"
	KindMarkdown Kind = "markdown"
	KindText     Kind = "text"
	KindUnknown  Kind = "unknown"
)

// DetectKind reconciles three signals into a document format: content
// sniffing settles the binary formats reliably, the file extension breaks
// ties inside the text family where sniffing cannot tell markdown from
// plain text, and the caller-declared MIME type is the last word before
// giving up, since upload headers are routinely wrong.
func DetectKind(name, declaredMIME string, data []byte) Kind {
	mtype := mimetype.Detect(data)
	switch {
	case mtype.Is("application/pdf"):
		return KindPDF
	case mtype.Is("application/vnd.openxmlformats-officedocument.wordprocessingml.document"):
		return KindDOCX
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return KindPDF
	case ".docx":
		return KindDOCX
	case ".html", ".htm":
		return KindHTML
	case ".md", ".markdown":
		return KindMarkdown
	case ".txt", ".text", ".log", ".rst", ".csv":
		return KindText
	}

	switch {
	case mtype.Is("text/html"):
		return KindHTML
	case mtype.Is("text/markdown"):
		return KindMarkdown
	case strings.HasPrefix(mtype.String(), "text/"):
		return KindText
	}

	if k := kindFromMIME(declaredMIME); k != KindUnknown {
		return k
	}
	return KindUnknown
}

// kindFromMIME maps a declared MIME type onto a Kind. Parameters after a
// semicolon are ignored.
func kindFromMIME(declared string) Kind {
	mime := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch mime {
	case "application/pdf":
		return KindPDF
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return KindDOCX
	case "text/html", "application/xhtml+xml":
		return KindHTML
	case "text/markdown":
		return KindMarkdown
	case "text/plain", "text/csv":
		return KindText
	}
	if strings.HasPrefix(mime, "text/") {
		return KindText
	}
	return KindUnknown
}
