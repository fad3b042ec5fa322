// Package textvec turns record text into tokens and sparse term-frequency
// vectors. It backs the semantic index when no embedding model is reachable.
package textvec

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	pathSeparators = regexp.MustCompile(`[/\-_.]`)
	camelBoundary  = regexp.MustCompile(`(\p{Ll})(\p{Lu})`)
)

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {}, "on": {},
	"at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {}, "is": {}, "are": {},
	"was": {}, "were": {}, "be": {}, "been": {}, "have": {}, "has": {}, "had": {},
	"do": {}, "does": {}, "did": {}, "will": {}, "would": {}, "could": {}, "should": {},
}

// domainKeywords are boosted because they carry most of the intent in API
// search queries.
var domainKeywords = map[string]struct{}{
	"api": {}, "get": {}, "post": {}, "put": {}, "delete": {}, "patch": {},
	"endpoint": {}, "request": {}, "response": {}, "parameter": {},
	"auth": {}, "user": {}, "data": {},
}

// KeywordBoost is the weight multiplier applied to domain keywords.
const KeywordBoost = 1.5

// Tokenize splits text on path separators, camel-case boundaries and any
// non-alphanumeric rune, lower-cases the pieces and drops single-rune tokens
// and stop words.
func Tokenize(text string) []string {
	text = pathSeparators.ReplaceAllString(text, " ")
	text = camelBoundary.ReplaceAllString(text, "$1 $2")
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := fields[:0]
	for _, f := range fields {
		f = strings.ToLower(f)
		if len([]rune(f)) <= 1 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// IsDomainKeyword reports whether token gets the keyword boost.
func IsDomainKeyword(token string) bool {
	_, ok := domainKeywords[token]
	return ok
}
