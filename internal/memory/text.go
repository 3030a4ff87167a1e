package memory

import (
	"strings"
	"unicode"
)

const maxKeywords = 10

var stopWords = toSet(`a about above after again against all am an and any are as at be because been
before being below every between both but by can could did do does doing down during each few for from
further had has have having he her here hers herself him himself his how i if in into is it its itself
just me more most my myself no nor not now of off on once only or other our ours ourselves out over own
same she should so some such than that the their theirs them themselves then there these they this
those through to too under until up very was we were what when where which while who whom why will
with would you your yours yourself yourselves also really please like want wants need needs`)

func toSet(words string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(words) {
		set[w] = true
	}
	return set
}

// tokenize splits text into lowercase tokens, stripping punctuation.
// Single-character tokens are dropped.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 1 {
			tokens = append(tokens, current.String())
		}
		current.Reset()
	}
	for _, r := range text {
		switch {
		case r == '\'':
			// "don't" -> "dont"
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_':
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// Keywords returns up to ten distinct non-stop-word tokens in order of appearance.
func Keywords(text string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, tok := range tokenize(text) {
		if stopWords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

// Entities returns capitalised words that are not stop words, a naive
// proper-noun guess.
func Entities(text string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, field := range strings.Fields(text) {
		word := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		word = strings.TrimSuffix(word, "'s")
		if len([]rune(word)) < 2 {
			continue
		}
		first := []rune(word)[0]
		if !unicode.IsUpper(first) || stopWords[strings.ToLower(word)] || seen[word] {
			continue
		}
		seen[word] = true
		out = append(out, word)
	}
	return out
}

// keywordOverlap counts query keywords present in the memory's keywords or content tokens.
func keywordOverlap(query []string, m *Memory) int {
	have := make(map[string]bool, len(m.Keywords))
	for _, k := range m.Keywords {
		have[k] = true
	}
	for _, tok := range tokenize(m.Content) {
		have[tok] = true
	}
	n := 0
	for _, q := range query {
		if have[q] {
			n++
		}
	}
	return n
}

func normalizeContent(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
