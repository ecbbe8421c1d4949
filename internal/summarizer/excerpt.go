// Package summarizer builds short plain-text previews of notes for the CLI
// and the TUI.
package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"vaultsearch/internal/domain"
)

var _ domain.Summarizer = (*Excerpter)(nil)

var (
	wordRe     = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe = regexp.MustCompile(`(?U)([^.!?\n]+(?:[.!?]|\n|$))`)
	frontRe    = regexp.MustCompile(`(?s)\A---\r?\n.*?\r?\n---\r?\n`)
	fenceRe    = regexp.MustCompile("(?s)```.*?```")
	linkRe     = regexp.MustCompile(`\[\[([^\]|]+)(?:\|([^\]]+))?\]\]`)
	mdLinkRe   = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	markupRe   = regexp.MustCompile("(?m)^\\s*(?:#{1,6}\\s+|[-*+]\\s+|>\\s*)|[*_`~]")
)

// Excerpter ranks note sentences by word frequency, optionally biased towards
// the words of a query.
type Excerpter struct {
	stopwords map[string]struct{}
}

// New creates an Excerpter.
func New() *Excerpter {
	return &Excerpter{stopwords: defaultStopwords()}
}

// Summarize returns the maxSentences most representative sentences of text in
// their original order.
func (e *Excerpter) Summarize(text string, maxSentences int) (string, error) {
	return e.Excerpt(text, "", maxSentences), nil
}

// Excerpt is Summarize with sentences sharing words with query ranked first.
func (e *Excerpter) Excerpt(text, query string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	plain := Plain(text)
	var sentences []string
	for _, s := range sentenceRe.FindAllString(plain, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return strings.TrimSpace(plain)
	}

	freq := map[string]float64{}
	for _, s := range sentences {
		for _, tok := range e.tokens(s) {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	queryTokens := map[string]struct{}{}
	for _, tok := range e.tokens(query) {
		queryTokens[tok] = struct{}{}
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(sentences))
	for i, s := range sentences {
		toks := e.tokens(s)
		sum := 0.0
		for _, tok := range toks {
			sum += freq[tok] / maxF
			if _, ok := queryTokens[tok]; ok {
				sum += 2
			}
		}
		if len(toks) > 0 {
			sum /= math.Sqrt(float64(len(toks)))
		}
		scores[i] = scored{i, sum}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	n := min(maxSentences, len(scores))
	picked := make([]int, n)
	for i := range picked {
		picked[i] = scores[i].idx
	}
	sort.Ints(picked)
	out := make([]string, n)
	for i, idx := range picked {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " ")
}

// Plain strips frontmatter, code fences and the common markdown syntax.
func Plain(md string) string {
	s := frontRe.ReplaceAllString(md, "")
	s = fenceRe.ReplaceAllString(s, "")
	s = linkRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := linkRe.FindStringSubmatch(m)
		if sub[2] != "" {
			return sub[2]
		}
		return sub[1]
	})
	s = mdLinkRe.ReplaceAllString(s, "$1")
	s = markupRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func (e *Excerpter) tokens(text string) []string {
	var out []string
	for _, tok := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if _, stop := e.stopwords[tok]; !stop {
			out = append(out, tok)
		}
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as",
		"is", "are", "was", "were", "be", "been", "it", "this", "that", "these", "those", "from", "so", "into", "about",
		"than", "can", "will", "just", "should", "now", "i", "you", "we", "they", "my", "our",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
