// Package search owns one fuzzy-search service per record type and the
// registry that fans queries out across them.
package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/devsearch/internal/apperr"
	"github.com/kalambet/devsearch/internal/fuzzy"
	"github.com/kalambet/devsearch/internal/health"
)

// Result is one scored record.
type Result[T any] struct {
	Item          T                   `json:"item"`
	Score         float64             `json:"score"`
	MatchedFields []string            `json:"matchedFields"`
	Highlights    map[string][]string `json:"highlights,omitempty"`
}

// RebuildTimeout bounds one shared index rebuild. The rebuild runs detached
// from the request that started it, so callers that give up early do not
// fail the others waiting on it.
const RebuildTimeout = 2 * time.Minute

// definition describes how a Service indexes one record type.
type definition[T any] struct {
	name   string
	fields []fuzzy.Field[T]
	load   func(ctx context.Context) ([]T, error)
	id     func(T) string
	// terms lists the strings suggestions are drawn from: whole phrases
	// first, then free text split into words.
	terms func(T) (phrases []string, text string)
	// rescore adjusts a fuzzy score; nil keeps it.
	rescore func(query string, item T, score float64) float64
}

// Service answers fuzzy searches over one record type. The index is rebuilt
// from the record source once it is older than the configured TTL; concurrent
// callers that find it stale share one rebuild.
type Service[T any] struct {
	def      definition[T]
	settings Settings
	logger   *slog.Logger
	now      func() time.Time
	group    singleflight.Group

	mu      sync.RWMutex
	index   *fuzzy.Index[T]
	items   []T
	builtAt time.Time
	stale   bool

	statsMu      sync.Mutex
	searches     int64
	errors       int64
	totalLatency time.Duration
}

func newService[T any](def definition[T], s Settings, logger *slog.Logger) *Service[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service[T]{def: def, settings: s, logger: logger.With("service", def.name), now: time.Now}
}

// Name returns the record type name, e.g. "projects".
func (s *Service[T]) Name() string { return s.def.name }

// Invalidate marks the index stale so the next search rebuilds it.
func (s *Service[T]) Invalidate() {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
}

// Refresh rebuilds the index now when force is set or the index is stale.
func (s *Service[T]) Refresh(ctx context.Context, force bool) error {
	if force {
		s.Invalidate()
	}
	_, err := s.snapshot(ctx)
	return err
}

// BuiltAt returns when the index was last built.
func (s *Service[T]) BuiltAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.builtAt
}

func (s *Service[T]) isStale() bool {
	return s.index == nil || s.stale || s.now().Sub(s.builtAt) > s.settings.IndexTTL
}

// snapshot returns a current index, rebuilding it first when stale.
func (s *Service[T]) snapshot(ctx context.Context) (*fuzzy.Index[T], error) {
	s.mu.RLock()
	idx, stale := s.index, s.isStale()
	s.mu.RUnlock()
	if !stale {
		return idx, nil
	}

	ch := s.group.DoChan("rebuild", func() (any, error) {
		// A rebuild may have finished between the check above and here.
		s.mu.RLock()
		idx, stale := s.index, s.isStale()
		s.mu.RUnlock()
		if !stale {
			return idx, nil
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RebuildTimeout)
		defer cancel()
		return s.rebuild(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, apperr.Normalize(ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*fuzzy.Index[T]), nil
	}
}

func (s *Service[T]) rebuild(ctx context.Context) (*fuzzy.Index[T], error) {
	start := s.now()
	items, err := s.def.load(ctx)
	if err != nil {
		s.logger.Warn("index rebuild failed", "error", err)
		return nil, sourceError("loading "+s.def.name, err)
	}
	idx := fuzzy.New(items, s.def.fields...)

	s.mu.Lock()
	s.index = idx
	s.items = items
	s.builtAt = s.now()
	s.stale = false
	s.mu.Unlock()

	s.logger.Info("index built", "records", len(items), "took", s.now().Sub(start))
	return idx, nil
}

// Items returns the records of the current index, rebuilding when stale.
func (s *Service[T]) Items(ctx context.Context) ([]T, error) {
	if _, err := s.snapshot(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items, nil
}

// search scores query against the index, applies keep after scoring and
// returns the requested page ordered by descending score.
func (s *Service[T]) search(ctx context.Context, query string, page Page, keep func(T) bool) (results []Result[T], err error) {
	start := s.now()
	defer func() { s.record(start, err) }()

	q, err := ValidateQuery(query)
	if err != nil {
		return nil, err
	}
	page, err = page.normalize(s.settings)
	if err != nil {
		return nil, err
	}
	idx, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, m := range idx.Search(q, 0) {
		score := 1 - m.Distance
		if s.def.rescore != nil {
			score = s.def.rescore(q, m.Item, score)
		}
		if score < s.settings.Threshold {
			continue
		}
		if keep != nil && !keep(m.Item) {
			continue
		}
		id := s.def.id(m.Item)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		results = append(results, toResult(m, score))
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if page.Offset >= len(results) {
		return []Result[T]{}, nil
	}
	end := min(page.Offset+page.Limit, len(results))
	return results[page.Offset:end], nil
}

func toResult[T any](m fuzzy.Match[T], score float64) Result[T] {
	r := Result[T]{Item: m.Item, Score: clamp01(score)}
	for _, f := range m.Fields {
		r.MatchedFields = append(r.MatchedFields, f.Name)
		runes := []rune(f.Value)
		for _, rg := range f.Indices {
			if r.Highlights == nil {
				r.Highlights = make(map[string][]string)
			}
			r.Highlights[f.Name] = append(r.Highlights[f.Name], string(runes[rg.Start:rg.End]))
		}
	}
	return r
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}

// Suggest returns up to limit distinct terms from matching records that
// literally contain query, case-insensitively.
func (s *Service[T]) Suggest(ctx context.Context, query string, limit int) (out []string, err error) {
	start := s.now()
	defer func() { s.record(start, err) }()

	q, err := ValidateQuery(query)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}
	idx, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(q)
	seen := make(map[string]struct{})
	add := func(term string) {
		if _, ok := seen[term]; ok || len(out) >= limit {
			return
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	for _, m := range idx.Search(q, limit*2) {
		phrases, text := s.def.terms(m.Item)
		for _, p := range phrases {
			if p != "" && strings.Contains(strings.ToLower(p), needle) {
				add(p)
			}
		}
		for _, w := range strings.Fields(strings.ToLower(text)) {
			if len([]rune(w)) > 2 && strings.Contains(w, needle) {
				add(w)
			}
		}
	}
	return out, nil
}

func (s *Service[T]) record(start time.Time, err error) {
	elapsed := s.now().Sub(start)
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.searches++
	s.totalLatency += elapsed
	if err != nil {
		s.errors++
		s.logger.Debug("search failed", "error", err, "took", elapsed)
	}
}

// ServiceStats are the call counters of one service.
type ServiceStats struct {
	Name          string        `json:"name"`
	Documents     int           `json:"totalDocuments"`
	LastUpdated   time.Time     `json:"lastUpdated"`
	TotalSearches int64         `json:"totalSearches"`
	Errors        int64         `json:"errors"`
	AvgLatency    time.Duration `json:"averageLatencyNs"`
	ErrorRate     float64       `json:"errorRate"`
}

func (s *Service[T]) Stats() ServiceStats {
	s.mu.RLock()
	docs, built := len(s.items), s.builtAt
	s.mu.RUnlock()

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st := ServiceStats{
		Name:          s.def.name,
		Documents:     docs,
		LastUpdated:   built,
		TotalSearches: s.searches,
		Errors:        s.errors,
	}
	if s.searches > 0 {
		st.AvgLatency = s.totalLatency / time.Duration(s.searches)
		st.ErrorRate = float64(s.errors) / float64(s.searches)
	}
	return st
}

// Sample converts the stats into a health sample.
func (s *Service[T]) Sample() health.Sample {
	st := s.Stats()
	return health.Sample{Name: st.Name, Calls: st.TotalSearches, Errors: st.Errors, AvgLatency: st.AvgLatency}
}

// sourceError maps a record source failure into the taxonomy. Caller
// cancellation and deadlines keep their own codes.
func sourceError(msg string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Normalize(err)
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Database(msg, err)
}
