// Package rag ranks endpoints for retrieval-augmented answers by fusing
// semantic similarity, keyword coverage and request-shape heuristics, and
// explains each ranking.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/devsearch/internal/apperr"
	"github.com/kalambet/devsearch/internal/search"
	"github.com/kalambet/devsearch/internal/semantic"
	"github.com/kalambet/devsearch/internal/storage"
	"github.com/kalambet/devsearch/internal/textvec"
)

// Source loads the endpoints contexts are built from.
type Source interface {
	FindAPIs(ctx context.Context, f storage.APIFilter) ([]storage.APIRecord, error)
}

// Vectors scores documents semantically. *search.Registry satisfies it.
type Vectors interface {
	VectorSearch(ctx context.Context, query string, opts search.VectorOptions) ([]semantic.Hit, error)
}

// Signal weights and cut-offs of the fused relevance score.
const (
	semanticWeight = 0.4
	keywordWeight  = 0.3
	contextWeight  = 0.3
	minRelevance   = 0.1
	maxResults     = 10

	DefaultTTL = 10 * time.Minute
)

type Options struct {
	// TTL is how long built contexts are served; zero means DefaultTTL.
	TTL time.Duration
	// HighRelevance marks results at or above it as high relevance.
	HighRelevance float64
	Logger        *slog.Logger
}

// Service keeps endpoint contexts and ranks them against queries.
type Service struct {
	src     Source
	vectors Vectors
	ttl     time.Duration
	high    float64
	logger  *slog.Logger
	now     func() time.Time
	group   singleflight.Group

	mu       sync.RWMutex
	contexts []Context
	byID     map[string]int
	builtAt  time.Time
	stale    bool
}

func New(src Source, vectors Vectors, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		src:     src,
		vectors: vectors,
		ttl:     ttl,
		high:    opts.HighRelevance,
		logger:  logger.With("component", "rag"),
		now:     time.Now,
	}
}

// Invalidate drops the built contexts at the next use.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
}

func (s *Service) isStale() bool {
	return s.stale || len(s.contexts) == 0 || s.now().Sub(s.builtAt) > s.ttl
}

type snapshot struct {
	contexts []Context
	byID     map[string]int
}

func (s *Service) current(ctx context.Context) (snapshot, error) {
	s.mu.RLock()
	snap, stale := snapshot{s.contexts, s.byID}, s.isStale()
	s.mu.RUnlock()
	if !stale {
		return snap, nil
	}
	ch := s.group.DoChan("contexts", func() (any, error) {
		s.mu.RLock()
		snap, stale := snapshot{s.contexts, s.byID}, s.isStale()
		s.mu.RUnlock()
		if !stale {
			return snap, nil
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), search.RebuildTimeout)
		defer cancel()
		return s.rebuild(ctx)
	})
	select {
	case <-ctx.Done():
		return snapshot{}, apperr.Normalize(ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return snapshot{}, r.Err
		}
		return r.Val.(snapshot), nil
	}
}

// Rebuild reloads every endpoint, relinks related endpoints and re-derives
// the keyword text.
func (s *Service) Rebuild(ctx context.Context) error {
	s.Invalidate()
	_, err := s.current(ctx)
	return err
}

func (s *Service) rebuild(ctx context.Context) (snapshot, error) {
	apis, err := s.src.FindAPIs(ctx, storage.APIFilter{})
	if err != nil {
		if ctx.Err() != nil {
			return snapshot{}, apperr.Normalize(err)
		}
		return snapshot{}, apperr.Database("loading endpoint contexts", err)
	}

	contexts := make([]Context, len(apis))
	byID := make(map[string]int, len(apis))
	for i, a := range apis {
		contexts[i] = contextFrom(a)
		byID[a.ID] = i
	}
	linkRelated(contexts)

	s.mu.Lock()
	s.contexts = contexts
	s.byID = byID
	s.builtAt = s.now()
	s.stale = false
	s.mu.Unlock()

	s.logger.Info("endpoint contexts built", "apis", len(contexts))
	return snapshot{contexts, byID}, nil
}

// Query is a ranking request. Method, ProjectID and Tags narrow the
// candidates before scoring.
type Query struct {
	Text           string
	Method         string
	ProjectID      string
	Tags           []string
	IncludeRelated bool
	Limit          int
}

// Related is a short reference to a related endpoint.
type Related struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Result is one ranked endpoint with the signals behind its score.
type Result struct {
	API           Context   `json:"api"`
	Relevance     float64   `json:"relevanceScore"`
	SemanticScore float64   `json:"semanticScore"`
	KeywordScore  float64   `json:"keywordScore"`
	ContextScore  float64   `json:"contextScore"`
	HighRelevance bool      `json:"highRelevance"`
	Explanation   string    `json:"explanation"`
	Suggestions   []string  `json:"suggestions"`
	Related       []Related `json:"related,omitempty"`
}

// Search ranks candidate endpoints by 0.4 semantic + 0.3 keyword + 0.3
// context score, drops results at or below 0.1 and returns at most ten.
func (s *Service) Search(ctx context.Context, q Query) ([]Result, error) {
	text, err := search.ValidateQuery(q.Text)
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 || limit > maxResults {
		limit = maxResults
	}
	snap, err := s.current(ctx)
	if err != nil {
		return nil, err
	}

	var cands []Context
	for _, c := range snap.contexts {
		if q.Method != "" && !strings.EqualFold(c.Method, q.Method) {
			continue
		}
		if q.ProjectID != "" && c.ProjectID != q.ProjectID {
			continue
		}
		if len(q.Tags) > 0 && tagOverlap(q.Tags, c.Tags) == 0 {
			continue
		}
		cands = append(cands, c)
	}
	if len(cands) == 0 {
		return []Result{}, nil
	}

	vec, err := s.semanticScores(ctx, text, len(cands))
	if err != nil {
		return nil, err
	}

	words := strings.Fields(strings.ToLower(text))
	terms := termSet(text)
	var results []Result
	for _, c := range cands {
		sem := vec[c.ID]
		kw := coverage(words, c.text)
		cx := contextScore(terms, c)
		rel := sem*semanticWeight + kw*keywordWeight + cx*contextWeight
		if rel <= minRelevance {
			continue
		}
		r := Result{
			API:           c,
			Relevance:     rel,
			SemanticScore: sem,
			KeywordScore:  kw,
			ContextScore:  cx,
			HighRelevance: s.high > 0 && rel >= s.high,
			Explanation:   explain(c, sem, kw, cx),
			Suggestions:   suggest(c, q.IncludeRelated),
		}
		if q.IncludeRelated {
			r.Related = resolveRelated(snap, c.RelatedIDs)
		}
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Relevance != results[j].Relevance {
			return results[i].Relevance > results[j].Relevance
		}
		return results[i].API.ID < results[j].API.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	if results == nil {
		results = []Result{}
	}
	return results, nil
}

// semanticScores maps endpoint ids to their semantic similarity. Endpoints
// absent from the hits score 0.
func (s *Service) semanticScores(ctx context.Context, text string, n int) (map[string]float64, error) {
	out := make(map[string]float64)
	if s.vectors == nil {
		return out, nil
	}
	hits, err := s.vectors.VectorSearch(ctx, text, search.VectorOptions{
		Types:     []string{search.TypeAPIs},
		Limit:     n,
		Threshold: semantic.DefaultMinScore,
	})
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		out[h.Document.RecordID] = h.Score
	}
	return out, nil
}

// coverage is the share of query words found verbatim in text.
func coverage(words []string, text string) float64 {
	if len(words) == 0 {
		return 0
	}
	var n int
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return min(float64(n)/float64(len(words)), 1)
}

func termSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range textvec.Tokenize(text) {
		set[t] = true
	}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[w] = true
	}
	return set
}

var verbs = []string{"get", "post", "put", "delete", "patch"}

// contextScore rewards endpoints whose method and path fit the verbs the
// query uses.
func contextScore(terms map[string]bool, c Context) float64 {
	var score float64
	method := strings.ToLower(c.Method)
	for _, v := range verbs {
		if terms[v] && method == v {
			score += 0.3
		}
	}
	if terms["list"] && strings.Contains(c.Path, "/list") {
		score += 0.2
	}
	if terms["create"] && (c.Method == "POST" || strings.Contains(c.Path, "/create")) {
		score += 0.2
	}
	if terms["update"] && (c.Method == "PUT" || c.Method == "PATCH") {
		score += 0.2
	}
	if terms["delete"] && c.Method == "DELETE" {
		score += 0.2
	}
	return min(score, 1)
}

func explain(c Context, sem, kw, cx float64) string {
	var parts []string
	switch {
	case sem > 0.7:
		parts = append(parts, "very high semantic similarity")
	case sem > 0.5:
		parts = append(parts, "high semantic similarity")
	}
	switch {
	case kw > 0.7:
		parts = append(parts, "strong keyword match")
	case kw > 0.5:
		parts = append(parts, "good keyword match")
	}
	if cx > 0.5 {
		parts = append(parts, "fits the request context")
	}
	if len(c.Tags) > 0 {
		parts = append(parts, "tags: "+strings.Join(c.Tags, ", "))
	}
	if len(parts) == 0 {
		return "basic match"
	}
	return strings.Join(parts, "; ")
}

func suggest(c Context, includeRelated bool) []string {
	out := []string{}
	switch c.Method {
	case "GET":
		if strings.Contains(c.Path, "/list") {
			out = append(out, "list endpoint, likely supports paging and filter parameters")
		}
	case "POST":
		out = append(out, "creates or submits data, check the request body format")
	case "PUT", "PATCH":
		out = append(out, "updates a resource, confirm the required parameters")
	case "DELETE":
		out = append(out, "deletes a resource, use with care")
	}
	if includeRelated && len(c.RelatedIDs) > 0 {
		out = append(out, fmt.Sprintf("%d related endpoints may also help", len(c.RelatedIDs)))
	}
	return out
}

func resolveRelated(snap snapshot, ids []string) []Related {
	out := make([]Related, 0, len(ids))
	for _, id := range ids {
		i, ok := snap.byID[id]
		if !ok {
			continue
		}
		c := snap.contexts[i]
		out = append(out, Related{ID: c.ID, Name: c.Name, Method: c.Method, Path: c.Path})
	}
	return out
}

// Recommendation is an endpoint worth looking at next to another one.
type Recommendation struct {
	API        Context `json:"api"`
	Similarity float64 `json:"similarity"`
	Linked     bool    `json:"linked"`
}

// Recommend returns up to limit endpoints of the same project as apiID:
// linked related endpoints plus any whose affinity reaches minSimilarity,
// best first.
func (s *Service) Recommend(ctx context.Context, apiID string, limit int, minSimilarity float64) ([]Recommendation, error) {
	if apiID == "" {
		return nil, apperr.Validation("api id is required",
			apperr.FieldIssue{Field: "apiId", Message: "required"})
	}
	if minSimilarity < 0 || minSimilarity > 1 {
		return nil, apperr.Validation("minSimilarity must be between 0 and 1",
			apperr.FieldIssue{Field: "minSimilarity", Message: "must be between 0 and 1"})
	}
	if limit <= 0 {
		limit = maxRelated
	}
	snap, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	i, ok := snap.byID[apiID]
	if !ok {
		return nil, apperr.NotFound("api", apiID)
	}
	target := snap.contexts[i]

	var out []Recommendation
	for _, c := range snap.contexts {
		if c.ID == target.ID || c.ProjectID != target.ProjectID {
			continue
		}
		sim := min(affinity(target, c), 1)
		linked := slices.Contains(target.RelatedIDs, c.ID)
		if !linked && sim < minSimilarity {
			continue
		}
		out = append(out, Recommendation{API: c, Similarity: sim, Linked: linked})
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Linked != out[b].Linked {
			return out[a].Linked
		}
		if out[a].Similarity != out[b].Similarity {
			return out[a].Similarity > out[b].Similarity
		}
		return out[a].API.ID < out[b].API.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []Recommendation{}
	}
	return out, nil
}

// Stats describes the built contexts.
type Stats struct {
	APIs              int       `json:"totalApis"`
	Projects          int       `json:"projectCount"`
	AverageTagsPerAPI float64   `json:"averageTagsPerApi"`
	BuiltAt           time.Time `json:"lastCacheUpdate"`
	Stale             bool      `json:"stale"`
}

func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{APIs: len(s.contexts), BuiltAt: s.builtAt, Stale: s.isStale()}
	projects := make(map[string]struct{})
	var tags int
	for _, c := range s.contexts {
		projects[c.ProjectID] = struct{}{}
		tags += len(c.Tags)
	}
	st.Projects = len(projects)
	if st.APIs > 0 {
		st.AverageTagsPerAPI = float64(tags) / float64(st.APIs)
	}
	return st
}
