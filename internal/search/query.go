package search

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/devsearch/internal/apperr"
)

const (
	// MaxQueryLength bounds queries in runes.
	MaxQueryLength = 500
	// MaxWindow bounds offset+limit.
	MaxWindow = 10000
)

var deniedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)union\s+select`),
	regexp.MustCompile(`(?i)insert\s+into`),
	regexp.MustCompile(`(?i)delete\s+from`),
	regexp.MustCompile(`(?i)update\s+set`),
	regexp.MustCompile(`(?i)drop\s+table`),
	regexp.MustCompile(`(?i)<script`),
}

// ValidateQuery trims query and rejects empty, overlong and injection-shaped
// input.
func ValidateQuery(query string) (string, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return "", apperr.Validation("search query must not be empty",
			apperr.FieldIssue{Field: "query", Message: "required"})
	}
	if utf8.RuneCountInString(q) > MaxQueryLength {
		return "", apperr.Validation("search query is too long",
			apperr.FieldIssue{Field: "query", Message: "at most 500 characters"})
	}
	for _, p := range deniedPatterns {
		if p.MatchString(q) {
			return "", apperr.Validation("search query contains a forbidden pattern",
				apperr.FieldIssue{Field: "query", Message: "forbidden pattern"})
		}
	}
	return q, nil
}

// Settings are the per-service search parameters taken from configuration.
type Settings struct {
	DefaultLimit int
	MaxLimit     int
	// Threshold is the minimum similarity (1 - fuzzy distance) kept.
	Threshold float64
	// IndexTTL is how long a built index is served before rebuilding.
	IndexTTL time.Duration
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{DefaultLimit: 10, MaxLimit: 100, Threshold: 0.3, IndexTTL: 5 * time.Minute}
}

// Page selects a window of results. A zero Limit means the default.
type Page struct {
	Limit  int
	Offset int
}

// normalize applies the default limit and the cap, then validates the
// window.
func (p Page) normalize(s Settings) (Page, error) {
	var issues []apperr.FieldIssue
	if p.Limit < 0 {
		issues = append(issues, apperr.FieldIssue{Field: "limit", Message: "must not be negative"})
	}
	if p.Offset < 0 {
		issues = append(issues, apperr.FieldIssue{Field: "offset", Message: "must not be negative"})
	}
	if len(issues) > 0 {
		return Page{}, apperr.Validation("invalid pagination", issues...)
	}
	if p.Limit == 0 {
		p.Limit = s.DefaultLimit
	}
	if p.Limit > s.MaxLimit {
		p.Limit = s.MaxLimit
	}
	if p.Offset+p.Limit > MaxWindow {
		return Page{}, apperr.Validation("pagination window too large",
			apperr.FieldIssue{Field: "offset", Message: "offset + limit must not exceed 10000"})
	}
	return p, nil
}
