package extract

import "fmt"

// placeholder fabricates a deterministic stand-in when no tier could read
// the document. The text names the file, its size, and its detected
// format, so the document stays findable by name even though its content
// is unavailable. The metadata pins the failure: one page, zero
// successful, one failed, zero confidence.
func placeholder(name string, size int, kind Kind) parsed {
	text := fmt.Sprintf(
		"Unreadable document %q (%d bytes, detected format: %s). "+
			"No extraction tier could read its content. The document is "+
			"registered under its name only; re-ingest a readable copy to "+
			"make its content searchable.",
		name, size, kind)
	return parsed{
		text:      text,
		pages:     1,
		failed:    1,
		synthetic: true,
	}
}
