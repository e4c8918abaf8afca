package classifier

import (
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"
)

const numberToken = "<num>"

// Tokenize splits text into lower-cased word tokens with numbers folded to a
// single placeholder, so "run audit 3" and "run audit 16" share features.
func Tokenize(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithSegmentation(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return strings.Fields(strings.ToLower(text))
	}

	var tokens []string
	for _, tok := range doc.Tokens() {
		word := strings.ToLower(strings.TrimSpace(tok.Text))
		if word == "" || !hasWordRune(word) {
			continue
		}
		if isNumber(word) {
			word = numberToken
		}
		tokens = append(tokens, word)
	}
	return tokens
}

// Features expands tokens into unigrams and adjacent bigrams.
func Features(tokens []string) []string {
	features := make([]string, 0, 2*len(tokens))
	features = append(features, tokens...)
	for i := 1; i < len(tokens); i++ {
		features = append(features, tokens[i-1]+" "+tokens[i])
	}
	return features
}

func hasWordRune(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func isNumber(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '.' || r == ',' || r == '#':
		default:
			return false
		}
	}
	return digits > 0
}
