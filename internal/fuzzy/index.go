// Package fuzzy implements a typo-tolerant index over weighted record fields.
//
// Matching uses fzf's V2 algorithm per query token. Each token yields a
// distance from how spread out and how far from the field start its match
// landed; field distances are combined as a weighted geometric product so a
// near-perfect hit on a heavy field dominates weak hits elsewhere.
package fuzzy

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"
)

const (
	// epsilon keeps a perfect field match from zeroing the product.
	epsilon = 0.001
	// maxStartPenalty caps how far into a field a match start is penalised.
	maxStartPenalty = 50
)

// Field extracts one searchable string from an item.
type Field[T any] struct {
	Name   string
	Weight float64
	Get    func(T) string
}

// Range is a half-open rune range [Start, End) inside a field value.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// FieldMatch describes how one field matched a query.
type FieldMatch struct {
	Name     string  `json:"field"`
	Value    string  `json:"value"`
	Distance float64 `json:"-"`
	Indices  []Range `json:"indices"`
}

// Match is one search hit. Distance is in [0,1]; 0 is a perfect match.
type Match[T any] struct {
	Item     T
	Distance float64
	Fields   []FieldMatch
}

type entry[T any] struct {
	item   T
	values []string
}

// Index is an immutable fuzzy index. It is safe for concurrent searches.
type Index[T any] struct {
	fields  []Field[T]
	weights []float64
	entries []entry[T]
}

// New builds an index over items. Field weights are normalised to sum to 1;
// if every weight is zero the fields are weighted equally.
func New[T any](items []T, fields ...Field[T]) *Index[T] {
	var total float64
	for _, f := range fields {
		if f.Weight > 0 {
			total += f.Weight
		}
	}
	weights := make([]float64, len(fields))
	for i, f := range fields {
		switch {
		case total == 0:
			weights[i] = 1 / float64(len(fields))
		case f.Weight > 0:
			weights[i] = f.Weight / total
		}
	}

	entries := make([]entry[T], len(items))
	for i, it := range items {
		values := make([]string, len(fields))
		for j, f := range fields {
			values[j] = f.Get(it)
		}
		entries[i] = entry[T]{item: it, values: values}
	}
	return &Index[T]{fields: fields, weights: weights, entries: entries}
}

// Len returns the number of indexed items.
func (x *Index[T]) Len() int { return len(x.entries) }

// Search matches query against every item and returns the hits ordered by
// ascending distance. Items with equal distance keep index order. A limit of
// zero or less returns every hit.
func (x *Index[T]) Search(query string, limit int) []Match[T] {
	patterns := splitPattern(query)
	if len(patterns) == 0 {
		return nil
	}

	var matches []Match[T]
	for _, e := range x.entries {
		m, ok := x.score(e, patterns)
		if ok {
			matches = append(matches, m)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func (x *Index[T]) score(e entry[T], patterns [][]rune) (Match[T], bool) {
	distance := 1.0
	var fields []FieldMatch
	for i, value := range e.values {
		if value == "" || x.weights[i] == 0 {
			continue
		}
		fm, ok := matchField(value, patterns)
		if !ok {
			continue
		}
		fm.Name = x.fields[i].Name
		distance *= math.Pow(math.Max(fm.Distance, epsilon), x.weights[i])
		fields = append(fields, fm)
	}
	if len(fields) == 0 {
		return Match[T]{}, false
	}
	return Match[T]{Item: e.item, Distance: distance, Fields: fields}, true
}

// matchField scores every query token against value. The field distance is
// the mean token distance; unmatched tokens count as 1.
func matchField(value string, patterns [][]rune) (FieldMatch, bool) {
	chars := util.ToChars([]byte(value))
	var (
		sum       float64
		matched   bool
		positions []int
	)
	for _, pat := range patterns {
		res, pos := algo.FuzzyMatchV2(false, false, true, &chars, pat, true, nil)
		if res.Start < 0 || pos == nil {
			sum++
			continue
		}
		matched = true
		sum += tokenDistance(res.Start, res.End, len(pat))
		positions = append(positions, *pos...)
	}
	if !matched {
		return FieldMatch{}, false
	}
	return FieldMatch{
		Value:    value,
		Distance: sum / float64(len(patterns)),
		Indices:  ranges(positions),
	}, true
}

func tokenDistance(start, end, patLen int) float64 {
	span := end - start
	var gap float64
	if span > patLen {
		gap = float64(span-patLen) / float64(span)
	}
	return 0.5*gap + float64(min(start, maxStartPenalty))/250
}

// ranges collapses match positions into sorted contiguous runs.
func ranges(positions []int) []Range {
	if len(positions) == 0 {
		return nil
	}
	sort.Ints(positions)
	var out []Range
	cur := Range{Start: positions[0], End: positions[0] + 1}
	for _, p := range positions[1:] {
		switch {
		case p < cur.End:
		case p == cur.End:
			cur.End++
		default:
			out = append(out, cur)
			cur = Range{Start: p, End: p + 1}
		}
	}
	return append(out, cur)
}

func splitPattern(query string) [][]rune {
	words := strings.Fields(query)
	patterns := make([][]rune, 0, len(words))
	for _, w := range words {
		r := []rune(w)
		for i := range r {
			r[i] = unicode.ToLower(r[i])
		}
		patterns = append(patterns, r)
	}
	return patterns
}
