package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// languageSample caps how much text the detector reads.
	languageSample = 2000
	// languageThreshold is the minimum stop-word hits for a verdict.
	languageThreshold = 3
)

// stopWords maps each supported language to a small set of its most
// frequent function words. Some words are shared between languages
// ("de", "la"); the counts sort that out.
var stopWords = []struct {
	lang  string
	words map[string]struct{}
}{
	{"en", wordSet("the", "and", "of", "to", "in", "is", "that", "it", "was", "for", "with", "are", "this", "not", "from")},
	{"es", wordSet("el", "la", "de", "que", "y", "en", "los", "del", "se", "las", "por", "un", "una", "con", "para")},
	{"fr", wordSet("le", "la", "les", "de", "des", "et", "est", "un", "une", "du", "dans", "que", "pour", "sur", "avec")},
	{"de", wordSet("der", "die", "und", "das", "den", "von", "zu", "mit", "ist", "des", "im", "nicht", "ein", "eine", "auf")},
}

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// DetectLanguage guesses the dominant language of text by counting
// stop-word hits in its leading sample. The language with the strictly
// highest count wins, provided it clears the threshold; otherwise the
// verdict is "unknown". Ties keep the earlier language in the table.
func DetectLanguage(text string) string {
	if len(text) > languageSample {
		cut := languageSample
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})

	best := "unknown"
	bestCount := 0
	for _, sw := range stopWords {
		count := 0
		for _, tok := range tokens {
			if _, ok := sw.words[tok]; ok {
				count++
			}
		}
		if count >= languageThreshold && count > bestCount {
			best = sw.lang
			bestCount = count
		}
	}
	return best
}
