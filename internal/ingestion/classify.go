package ingestion

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/meridell/docqa-go/internal/extract"
)

// Category is a coarse document classification inferred from a file's
// name and format. It is best-effort operator metadata for listings and
// logs; retrieval never filters on it.
type Category string

const (
	// CategoryManual covers handbooks, guides, and how-to material.
	CategoryManual Category = "manual"
	// CategoryReport covers analyses, summaries, and periodic reports.
	CategoryReport Category = "report"
	// CategoryPolicy covers policies, procedures, and compliance text.
	CategoryPolicy Category = "policy"
	// CategoryContract covers agreements, contracts, and invoices.
	CategoryContract Category = "contract"
	// CategoryNotes covers readmes, memos, minutes, and changelogs.
	CategoryNotes Category = "notes"
	// CategoryGeneral is the fallback when nothing matches.
	CategoryGeneral Category = "general"
)

// categoryKeywords maps filename tokens to their category. First match in
// token order wins.
var categoryKeywords = map[string]Category{
	"manual":     CategoryManual,
	"handbook":   CategoryManual,
	"guide":      CategoryManual,
	"howto":      CategoryManual,
	"tutorial":   CategoryManual,
	"faq":        CategoryManual,
	"report":     CategoryReport,
	"analysis":   CategoryReport,
	"summary":    CategoryReport,
	"review":     CategoryReport,
	"audit":      CategoryReport,
	"quarterly":  CategoryReport,
	"annual":     CategoryReport,
	"policy":     CategoryPolicy,
	"policies":   CategoryPolicy,
	"procedure":  CategoryPolicy,
	"compliance": CategoryPolicy,
	"terms":      CategoryPolicy,
	"sop":        CategoryPolicy,
	"contract":   CategoryContract,
	"agreement":  CategoryContract,
	"invoice":    CategoryContract,
	"offer":      CategoryContract,
	"nda":        CategoryContract,
	"readme":     CategoryNotes,
	"notes":      CategoryNotes,
	"memo":       CategoryNotes,
	"minutes":    CategoryNotes,
	"changelog":  CategoryNotes,
	"todo":       CategoryNotes,
}

// InferCategory inspects the file name and detected format and returns a
// best-effort category. Unmatched names classify as general.
func InferCategory(name string, kind extract.Kind) Category {
	for _, token := range nameTokens(name) {
		if c, ok := categoryKeywords[token]; ok {
			return c
		}
	}
	// Markdown with no naming signal is usually project notes.
	if kind == extract.KindMarkdown {
		return CategoryNotes
	}
	return CategoryGeneral
}

// nameTokens splits a file name into lowercase alphanumeric tokens with
// the extension removed. "Q3_Financial-Report.pdf" yields
// ["q3", "financial", "report"].
func nameTokens(name string) []string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.ToLower(base)

	tokens := strings.FieldsFunc(base, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return tokens
}
