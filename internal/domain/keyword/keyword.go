// Package keyword holds the tokenizer shared by rule conditions and retrieval scoring.
package keyword

import (
	"strings"
	"unicode"
)

// MinLength is the shortest token kept as a keyword (exclusive).
const MinLength = 2

var stopWords = buildStopWords(
	// English
	"the", "and", "for", "are", "but", "not", "you", "all", "any", "can", "had", "her", "was", "one",
	"our", "out", "has", "have", "him", "his", "how", "its", "may", "new", "now", "see", "who", "did",
	"get", "let", "she", "too", "use", "with", "this", "that", "from", "they", "will", "would", "there",
	"their", "what", "about", "which", "when", "were", "been", "into", "than", "then", "them", "these",
	"those", "some", "such", "your", "yours", "also", "just", "only", "over", "very", "here", "where",
	"please", "thanks", "regards",
	// Polish
	"ale", "albo", "ani", "aby", "bez", "bo", "być", "był", "była", "było", "były", "będzie", "dla",
	"do", "gdy", "gdzie", "go", "i", "ich", "jak", "jako", "jest", "jeszcze", "jego", "jej", "już",
	"kiedy", "która", "które", "który", "których", "lub", "ma", "mi", "mnie", "na", "nad", "nie", "nich",
	"niej", "nim", "o", "od", "oraz", "po", "pod", "przez", "przy", "się", "sobie", "są", "ta", "tak",
	"tam", "te", "tego", "tej", "ten", "to", "tu", "tym", "tylko", "w", "we", "więc", "z", "za", "ze",
	"że", "żeby", "co", "czy", "dlaczego", "proszę", "dziękuję", "pozdrawiam", "bardzo", "może",
	"można", "także", "też", "wszystko", "jestem", "mamy", "nas", "nam", "was", "wam",
)

func buildStopWords(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// IsStopWord reports whether w (lower-cased) is a stop-word.
func IsStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

// Tokenize splits text into lower-cased word tokens on any non letter/digit rune.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Extract returns distinct keywords of text in first-occurrence order:
// lower-cased, stop-words removed, longer than MinLength runes.
func Extract(text string) []string {
	tokens := Tokenize(text)
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if len([]rune(t)) <= MinLength || IsStopWord(t) {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Normalize collapses text to its lower-cased tokens joined by single spaces.
// Phrase matching compares normalized forms so punctuation and spacing do not matter.
func Normalize(text string) string {
	return strings.Join(Tokenize(text), " ")
}

// ContainsPhrase reports whether the normalized phrase occurs in the normalized haystack
// on token boundaries.
func ContainsPhrase(haystack, phrase string) bool {
	p := Normalize(phrase)
	if p == "" {
		return false
	}
	h := " " + Normalize(haystack) + " "
	return strings.Contains(h, " "+p+" ")
}

// Stem cuts up to two trailing runes off k, never below three runes, so
// inflected forms share it as a prefix ("kartonowe" and "kartonowych" both
// start with "kartono"). Content matches a keyword when one of its tokens
// starts with the keyword's stem.
func Stem(k string) string {
	r := []rune(strings.ToLower(k))
	n := max(len(r)-stemTrim, stemMinLength)
	if n >= len(r) {
		return string(r)
	}
	return string(r[:n])
}

const (
	stemTrim      = 2
	stemMinLength = 3
)

// Stems returns the distinct stems of keywords in first-occurrence order.
func Stems(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		st := Stem(k)
		if st == "" {
			continue
		}
		if _, dup := seen[st]; dup {
			continue
		}
		seen[st] = struct{}{}
		out = append(out, st)
	}
	return out
}

// CountMatches returns how many of keywords match text: a keyword matches
// when some token of text starts with its stem.
func CountMatches(text string, keywords []string) int {
	if len(keywords) == 0 {
		return 0
	}
	tokens := Tokenize(text)
	n := 0
	for _, k := range keywords {
		st := Stem(k)
		if st == "" {
			continue
		}
		for _, t := range tokens {
			if strings.HasPrefix(t, st) {
				n++
				break
			}
		}
	}
	return n
}

// ContainsAny reports whether any keyword matches text.
func ContainsAny(text string, keywords []string) bool {
	return CountMatches(text, keywords) > 0
}
