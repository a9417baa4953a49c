// Package keywords extracts cheap topic tags from conversational text.
package keywords

import (
	"sort"
	"strings"
	"unicode"
)

// Dictionaries maps a subject to the keywords that tag it. A message mentioning
// any keyword is tagged with that keyword.
var Dictionaries = map[string][]string{
	"programming": {"code", "function", "bug", "error", "api", "golang", "python", "javascript", "compile", "test", "deploy", "database", "query"},
	"science":     {"physics", "chemistry", "biology", "quantum", "theory", "experiment", "energy", "molecule"},
	"math":        {"algebra", "calculus", "equation", "proof", "theorem", "matrix", "probability", "statistics"},
	"philosophy":  {"ethics", "consciousness", "meaning", "existence", "mind", "morality"},
	"personal":    {"family", "health", "feeling", "work", "travel", "friend", "memory"},
	"business":    {"price", "market", "customer", "revenue", "contract", "feature"},
}

// ComplexSubjects are keywords whose discussion benefits most from retrieval.
var ComplexSubjects = []string{
	"quantum", "consciousness", "calculus", "theorem", "proof", "architecture",
	"algorithm", "ethics", "philosophy", "compression", "distributed",
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"but": true, "by": true, "can": true, "could": true, "did": true, "do": true, "does": true,
	"for": true, "from": true, "had": true, "has": true, "have": true, "he": true, "her": true,
	"his": true, "how": true, "i": true, "if": true, "in": true, "into": true, "is": true,
	"it": true, "its": true, "just": true, "me": true, "my": true, "no": true, "not": true,
	"of": true, "on": true, "or": true, "our": true, "she": true, "so": true, "that": true,
	"the": true, "their": true, "them": true, "then": true, "there": true, "these": true,
	"they": true, "this": true, "to": true, "too": true, "was": true, "we": true, "were": true,
	"what": true, "when": true, "where": true, "which": true, "who": true, "why": true,
	"will": true, "with": true, "would": true, "you": true, "your": true, "about": true,
	"also": true, "all": true, "any": true, "some": true, "very": true, "than": true,
	"been": true, "being": true, "more": true, "most": true, "other": true, "such": true,
	"only": true, "own": true, "same": true, "should": true, "now": true, "here": true,
	"let": true, "like": true, "get": true, "got": true, "yes": true, "okay": true, "ok": true,
}

// Tokenize lowercases text and splits it on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// IsStopword reports whether the token carries no topical signal.
func IsStopword(token string) bool {
	return stopwords[token]
}

// Terms returns the distinct non-stopword tokens of text, in order of first
// appearance. Tokens shorter than 3 runes are dropped.
func Terms(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range Tokenize(text) {
		if len([]rune(tok)) < 3 || stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// TopTerms returns the n most frequent non-stopword tokens. Ties keep the
// order of first appearance.
func TopTerms(text string, n int) []string {
	if n <= 0 {
		return nil
	}
	counts := make(map[string]int)
	first := make(map[string]int)
	for i, tok := range Tokenize(text) {
		if len([]rune(tok)) < 3 || stopwords[tok] {
			continue
		}
		if _, ok := first[tok]; !ok {
			first[tok] = i
		}
		counts[tok]++
	}
	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return first[terms[i]] < first[terms[j]]
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

// DictionaryTags returns every dictionary keyword present as a token in text.
func DictionaryTags(text string) []string {
	tokens := make(map[string]bool)
	for _, tok := range Tokenize(text) {
		tokens[tok] = true
	}
	var tags []string
	for _, words := range Dictionaries {
		for _, w := range words {
			if tokens[w] {
				tags = append(tags, w)
			}
		}
	}
	sort.Strings(tags)
	return tags
}

// Extract combines dictionary tags with the top three terms of text.
// The result is deduplicated and sorted.
func Extract(text string) []string {
	tags := DictionaryTags(text)
	tags = append(tags, TopTerms(text, 3)...)
	seen := make(map[string]bool, len(tags))
	out := tags[:0]
	for _, t := range tags {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// IsComplex reports whether tag belongs to the complex-subject list.
func IsComplex(tag string) bool {
	for _, c := range ComplexSubjects {
		if c == tag {
			return true
		}
	}
	return false
}
