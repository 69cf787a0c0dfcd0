// Package synthesizer turns a question and retrieved passages into an answer.
package synthesizer

import (
	"strings"

	"ragmerge/internal/domain"
)

// DefaultPromptTemplate is used when no template is configured.
const DefaultPromptTemplate = "Question: {question}\nContext: {context}\nAnswer:"

// BuildPrompt fills {question} and {context} in template. Passages are
// joined with blank lines.
func BuildPrompt(template, question string, passages []string) string {
	if template == "" {
		template = DefaultPromptTemplate
	}
	return strings.NewReplacer(
		"{question}", question,
		"{context}", strings.Join(passages, "\n\n"),
	).Replace(template)
}

// Validate checks the inputs every synthesizer requires.
func Validate(question string, passages []string) error {
	if strings.TrimSpace(question) == "" {
		return domain.ErrEmptyQuestion
	}
	for _, p := range passages {
		if strings.TrimSpace(p) != "" {
			return nil
		}
	}
	return domain.ErrNoPassages
}
