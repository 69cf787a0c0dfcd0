package synthesizer

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"ragmerge/internal/domain"
)

const DefaultMaxSentences = 3

// Extractive answers offline by picking the passage sentences that best
// match the question, weighted by word frequency across the passages.
type Extractive struct {
	maxSentences int
	tokenPattern *regexp.Regexp
	sentences    *regexp.Regexp
	stopwords    map[string]struct{}
}

var _ domain.Synthesizer = (*Extractive)(nil)

// NewExtractive returns an extractive synthesizer selecting up to maxSentences sentences.
func NewExtractive(maxSentences int) *Extractive {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	return &Extractive{
		maxSentences: maxSentences,
		tokenPattern: regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`),
		sentences:    regexp.MustCompile(`[^.!?\n]+[.!?]*`),
		stopwords:    defaultStopwords(),
	}
}

// Generate returns the selected sentences in passage order.
func (s *Extractive) Generate(ctx context.Context, question string, passages []string) (string, error) {
	if err := Validate(question, passages); err != nil {
		return "", err
	}
	var sentences []string
	for _, p := range passages {
		for _, sent := range s.sentences.FindAllString(p, -1) {
			if sent = strings.TrimSpace(sent); sent != "" {
				sentences = append(sentences, sent)
			}
		}
	}
	if len(sentences) == 0 {
		return "", domain.ErrNoPassages
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range s.tokens(sent) {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	for k, v := range freq {
		freq[k] = v / maxF
	}
	query := map[string]struct{}{}
	for _, tok := range s.tokens(question) {
		query[tok] = struct{}{}
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(sentences))
	for i, sent := range sentences {
		toks := s.tokens(sent)
		score := 0.0
		for _, tok := range toks {
			score += freq[tok]
			if _, ok := query[tok]; ok {
				score += 2
			}
		}
		if len(toks) > 0 {
			score /= math.Sqrt(float64(len(toks)))
		}
		scores[i] = scored{i, score}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	n := min(s.maxSentences, len(scores))
	selected := make([]int, n)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, n)
	for i, idx := range selected {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " "), nil
}

func (s *Extractive) tokens(text string) []string {
	all := s.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := all[:0]
	for _, t := range all {
		if _, stop := s.stopwords[t]; !stop {
			out = append(out, t)
		}
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "whom", "how", "why", "when", "where", "do", "does", "did",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
