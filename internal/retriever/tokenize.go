package retriever

import (
	"strings"
	"unicode"
)

// tokenize extracts Stage A's keyword-branch candidate terms: lowercase,
// split on non-letter/non-number runs, drop stopwords, keep length >= 2
// (spec.md §4.6 Stage A).
//
// Grounded on goagent/retrieval/keyword_retriever.go's tokenize/isStopWord,
// adjusted from its length > 2 cutoff to the spec's length >= 2.
func tokenize(text string) []string {
	text = strings.ToLower(text)

	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	filtered := make([]string, 0, len(words))
	for _, word := range words {
		if len(word) >= 2 && !isStopWord(word) {
			filtered = append(filtered, word)
		}
	}
	return filtered
}

var stopWords = map[string]bool{
	"the": true, "is": true, "at": true, "which": true, "on": true,
	"and": true, "a": true, "an": true, "as": true, "are": true,
	"was": true, "for": true, "with": true, "this": true, "that": true,
	"of": true, "to": true, "in": true, "it": true, "be": true,
	"do": true, "does": true, "did": true, "has": true, "have": true,
	"had": true, "can": true, "could": true, "will": true, "would": true,
	"should": true, "not": true, "no": true, "we": true, "you": true,
	"i": true, "my": true, "our": true, "me": true, "us": true,
}

func isStopWord(word string) bool {
	return stopWords[word]
}
