package rag

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/meridell/docqa-go/internal/budget"
	"github.com/meridell/docqa-go/internal/vectorstore"
)

// systemPrompt pins the model to the retrieved excerpts.
const systemPrompt = `You are a document question-answering assistant.

Rules:
- Answer using ONLY the document excerpts provided in the context.
- Name the source document for every claim you make.
- When the excerpts do not contain the answer, say so plainly. Never guess and never invent sources.
- Quote or paraphrase faithfully. Do not embellish.
- Keep answers concise and directly on the question.`

// contextHeader opens the excerpt message handed to the model.
const contextHeader = "## Retrieved Document Excerpts\n\n" +
	"The following excerpts were retrieved for the question, most relevant first.\n\n"

// assembly is the outcome of fitting retrieved chunks to the token budget.
type assembly struct {
	// context is the rendered excerpt message, empty when nothing fit.
	context string
	// sources holds the distinct source names of the used chunks, in rank
	// order.
	sources []string
	// used is the number of chunks included in context.
	used int
	// meanScore averages over everything retrieved, used or not.
	meanScore float64
}

// assembleContext renders the retrieved chunks most-relevant first and
// keeps as many as the token budget admits. The budget covers the whole
// prompt, so the fixed parts (persona, header, question) are charged
// before the first excerpt.
func assembleContext(counter *budget.Counter, maxTokens int, question string, results []vectorstore.SearchResult) assembly {
	var a assembly
	if len(results) == 0 {
		return a
	}

	for _, r := range results {
		a.meanScore += r.Score
	}
	a.meanScore /= float64(len(results))

	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("### Source %d: %s\n%s\n\n", i+1, r.SourceName, r.Content)
	}

	fixed := counter.CountMessages([]*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(question),
	}) + counter.Count(contextHeader)
	a.used = budget.Fit(counter, fixed, maxTokens, blocks)
	if a.used == 0 {
		return a
	}

	var sb strings.Builder
	sb.WriteString(contextHeader)
	seen := make(map[string]struct{}, a.used)
	for i := 0; i < a.used; i++ {
		sb.WriteString(blocks[i])
		name := results[i].SourceName
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		a.sources = append(a.sources, name)
	}
	a.context = sb.String()
	return a
}

// buildMessages assembles the prompt: persona, the excerpt message when
// retrieval produced one, then the question.
func buildMessages(question, contextBlock string) []*schema.Message {
	messages := make([]*schema.Message, 0, 3)
	messages = append(messages, schema.SystemMessage(systemPrompt))
	if contextBlock != "" {
		messages = append(messages, schema.SystemMessage(contextBlock))
	}
	return append(messages, schema.UserMessage(question))
}
