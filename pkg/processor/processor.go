package processor

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type ProcessorConfig struct {
	MaxExcerptChars int
	MinTermLength   int
	CustomStopwords []string
	NoisePatterns   []string
}

// Processor normalises retrieved text before it is used as evidence.
type Processor struct {
	config    ProcessorConfig
	stopwords map[string]struct{}
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.MaxExcerptChars == 0 {
		config.MaxExcerptChars = 1200
	}
	if config.MinTermLength == 0 {
		config.MinTermLength = 2
	}
	if len(config.NoisePatterns) == 0 {
		config.NoisePatterns = []string{
			"Cookie Policy",
			"Accept Cookies",
			"Privacy Policy",
			"Terms of Service",
		}
	}

	stopwords := make(map[string]struct{})
	for _, w := range getStopwords() {
		stopwords[w] = struct{}{}
	}
	for _, w := range config.CustomStopwords {
		stopwords[strings.ToLower(w)] = struct{}{}
	}

	return Processor{
		config:    config,
		stopwords: stopwords,
	}
}

// Clean drops invalid UTF-8, boilerplate noise and redundant whitespace.
func (p *Processor) Clean(text string) string {
	text = sanitizeUTF8(text)

	for _, pattern := range p.config.NoisePatterns {
		text = strings.ReplaceAll(text, pattern, "")
	}

	return strings.TrimSpace(strings.Join(strings.Fields(text), " "))
}

// Excerpt cleans text and trims it to whole sentences within MaxExcerptChars.
func (p *Processor) Excerpt(text string) string {
	text = p.Clean(text)
	if len(text) <= p.config.MaxExcerptChars {
		return text
	}

	var b strings.Builder
	for _, sentence := range p.splitIntoSentences(text) {
		if b.Len()+len(sentence)+1 > p.config.MaxExcerptChars {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(sentence)
	}
	if b.Len() > 0 {
		return b.String()
	}

	// first sentence alone is too long: cut on a word boundary
	cut := truncateRunes(text, p.config.MaxExcerptChars)
	if i := strings.LastIndexByte(cut, ' '); i > len(cut)/2 {
		cut = cut[:i]
	}
	return cut + "…"
}

// Terms returns the distinct lower-cased content words of text.
func (p *Processor) Terms(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	seen := make(map[string]struct{}, len(words))
	var terms []string
	for _, w := range words {
		if utf8.RuneCountInString(w) < p.config.MinTermLength {
			continue
		}
		if _, stop := p.stopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}
	return terms
}

// Overlap counts how many of terms occur in text, case-insensitively.
func (p *Processor) Overlap(terms []string, text string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			n++
		}
	}
	return n
}

func (p *Processor) splitIntoSentences(text string) []string {
	var sentences []string

	start := 0
	for i := 0; i < len(text)-1; i++ {
		switch text[i] {
		case '.', '!', '?':
			if text[i+1] == ' ' || text[i+1] == '\n' {
				sentences = append(sentences, strings.TrimSpace(text[start:i+1]))
				start = i + 1
			}
		}
	}

	if rest := strings.TrimSpace(text[start:]); rest != "" {
		sentences = append(sentences, rest)
	}

	return sentences
}

func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}

// Common English stopwords plus query filler.
func getStopwords() []string {
	return []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with",
		"how", "what", "which", "who", "why", "when", "does", "do",
		"or", "vs", "versus", "about", "between", "into", "their",
	}
}
