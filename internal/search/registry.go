package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/devsearch/internal/apperr"
	"github.com/kalambet/devsearch/internal/health"
	"github.com/kalambet/devsearch/internal/keyword"
	"github.com/kalambet/devsearch/internal/semantic"
	"github.com/kalambet/devsearch/internal/storage"
)

// Entity type names as callers spell them.
const (
	TypeProjects = "projects"
	TypeAPIs     = "apis"
	TypeTags     = "tags"
)

// AllTypes lists every searchable entity type in canonical order.
var AllTypes = []string{TypeProjects, TypeAPIs, TypeTags}

var documentTypes = map[string]string{
	TypeProjects: semantic.TypeProject,
	TypeAPIs:     semantic.TypeAPI,
	TypeTags:     semantic.TypeTag,
}

// NormalizeTypes validates types and returns them deduplicated in canonical
// order. Empty means all.
func NormalizeTypes(types []string) ([]string, error) {
	if len(types) == 0 {
		return AllTypes, nil
	}
	for _, t := range types {
		if _, ok := documentTypes[t]; !ok {
			return nil, apperr.Validation(fmt.Sprintf("unknown entity type %q", t),
				apperr.FieldIssue{Field: "types", Message: "must be one of projects, apis, tags"})
		}
	}
	var out []string
	for _, t := range AllTypes {
		if slices.Contains(types, t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func documentTypesFor(types []string) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = documentTypes[t]
	}
	return out
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Settings Settings
	// VectorThreshold is the default minimum score of vector searches.
	VectorThreshold float64
	// Backend encodes documents for the semantic index; nil uses the
	// term-frequency fallback.
	Backend semantic.Backend
	Logger  *slog.Logger
}

// Registry owns the per-type services, the semantic index and the keyword
// index built from the same documents.
type Registry struct {
	Projects *Projects
	APIs     *APIs
	Tags     *Tags

	semantic *semantic.Index
	keyword  *keyword.Index

	settings        Settings
	vectorThreshold float64
	logger          *slog.Logger
	now             func() time.Time
	vectors         singleflight.Group
	vectorsStale    atomic.Bool
}

func NewRegistry(src Source, opts RegistryOptions) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backend := opts.Backend
	if backend == nil {
		backend = semantic.TermBackend()
	}
	kw, err := keyword.New()
	if err != nil {
		return nil, err
	}
	threshold := opts.VectorThreshold
	if threshold == 0 {
		threshold = semantic.DefaultMinScore
	}
	return &Registry{
		Projects:        NewProjects(src, opts.Settings, logger),
		APIs:            NewAPIs(src, opts.Settings, logger),
		Tags:            NewTags(src, opts.Settings, logger),
		semantic:        semantic.NewIndex(backend, logger),
		keyword:         kw,
		settings:        opts.Settings,
		vectorThreshold: threshold,
		logger:          logger,
		now:             time.Now,
	}, nil
}

// Close releases the keyword index.
func (r *Registry) Close() error { return r.keyword.Close() }

// Hit is a search result of any entity type.
type Hit struct {
	Type          string              `json:"type"`
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Score         float64             `json:"score"`
	MatchedFields []string            `json:"matchedFields"`
	Highlights    map[string][]string `json:"highlights,omitempty"`
	Item          any                 `json:"item"`
}

func hitsFrom[T any](typ string, rs []Result[T], id, name func(T) string) []Hit {
	out := make([]Hit, len(rs))
	for i, r := range rs {
		out[i] = Hit{
			Type:          typ,
			ID:            id(r.Item),
			Name:          name(r.Item),
			Score:         r.Score,
			MatchedFields: r.MatchedFields,
			Highlights:    r.Highlights,
			Item:          r.Item,
		}
	}
	return out
}

// GlobalOptions scopes a search across entity types.
type GlobalOptions struct {
	Types []string
	Limit int
	// ProjectID restricts endpoints and tags to one project and skips
	// project results.
	ProjectID string
}

// Global searches every requested type concurrently, each with an equal
// share of the limit, and returns the merged hits best first, at most Limit
// of them.
func (r *Registry) Global(ctx context.Context, query string, opts GlobalOptions) ([]Hit, error) {
	if _, err := ValidateQuery(query); err != nil {
		return nil, err
	}
	types, err := NormalizeTypes(opts.Types)
	if err != nil {
		return nil, err
	}
	page, err := Page{Limit: opts.Limit}.normalize(r.settings)
	if err != nil {
		return nil, err
	}
	perType := int(math.Ceil(float64(page.Limit) / float64(len(types))))

	var mu sync.Mutex
	var hits []Hit
	collect := func(hs []Hit) {
		mu.Lock()
		hits = append(hits, hs...)
		mu.Unlock()
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, t := range types {
		switch t {
		case TypeProjects:
			if opts.ProjectID != "" {
				continue
			}
			g.Go(func() error {
				rs, err := r.Projects.Search(gCtx, query, ProjectOptions{Page: Page{Limit: perType}})
				collect(hitsFrom(TypeProjects, rs,
					func(p storage.Project) string { return p.ID },
					func(p storage.Project) string { return p.Name }))
				return err
			})
		case TypeAPIs:
			g.Go(func() error {
				rs, err := r.APIs.Search(gCtx, query, APIOptions{Page: Page{Limit: perType}, ProjectID: opts.ProjectID})
				collect(hitsFrom(TypeAPIs, rs,
					func(a storage.APIRecord) string { return a.ID },
					func(a storage.APIRecord) string { return a.Name }))
				return err
			})
		case TypeTags:
			g.Go(func() error {
				rs, err := r.Tags.Search(gCtx, query, TagOptions{Page: Page{Limit: perType}, ProjectID: opts.ProjectID})
				collect(hitsFrom(TypeTags, rs,
					func(t storage.Tag) string { return t.ID },
					func(t storage.Tag) string { return t.Name }))
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Type != hits[j].Type {
			return hits[i].Type < hits[j].Type
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > page.Limit {
		hits = hits[:page.Limit]
	}
	return hits, nil
}

// Refresh rebuilds the fuzzy indexes of types. Without force only stale
// indexes are rebuilt. A forced refresh also marks the vector indexes for
// rebuilding on next use.
func (r *Registry) Refresh(ctx context.Context, force bool, types []string) ([]ServiceStats, error) {
	types, err := NormalizeTypes(types)
	if err != nil {
		return nil, err
	}
	g, gCtx := errgroup.WithContext(ctx)
	for _, t := range types {
		svc := r.service(t)
		g.Go(func() error { return svc.Refresh(gCtx, force) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if force {
		r.vectorsStale.Store(true)
	}
	out := make([]ServiceStats, len(types))
	for i, t := range types {
		out[i] = r.service(t).Stats()
	}
	return out, nil
}

type refresher interface {
	Refresh(ctx context.Context, force bool) error
	Stats() ServiceStats
	Sample() health.Sample
}

func (r *Registry) service(typ string) refresher {
	switch typ {
	case TypeProjects:
		return r.Projects
	case TypeAPIs:
		return r.APIs
	default:
		return r.Tags
	}
}

// IndexStats describes the vector and keyword indexes.
type IndexStats struct {
	Semantic         semantic.Stats `json:"semantic"`
	KeywordDocuments uint64         `json:"keywordDocuments"`
}

// BuildVectorIndex encodes every record into the semantic index and the
// keyword index. Unless force is set, an index younger than the index TTL
// is kept. Concurrent callers share one build.
func (r *Registry) BuildVectorIndex(ctx context.Context, force bool, batchSize int) (IndexStats, error) {
	if !force && r.vectorsFresh() {
		return r.IndexStats(), nil
	}
	ch := r.vectors.DoChan("build", func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), vectorBuildTimeout)
		defer cancel()
		return nil, r.buildVectors(ctx, force, batchSize)
	})
	select {
	case <-ctx.Done():
		return IndexStats{}, apperr.Normalize(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return IndexStats{}, res.Err
		}
	}
	return r.IndexStats(), nil
}

// vectorBuildTimeout bounds one shared vector build, which embeds every
// record and so runs longer than a fuzzy rebuild.
const vectorBuildTimeout = 10 * time.Minute

func (r *Registry) vectorsFresh() bool {
	if r.vectorsStale.Load() {
		return false
	}
	st := r.semantic.Stats()
	return st.Initialized && r.now().Sub(st.BuiltAt) <= r.settings.IndexTTL
}

func (r *Registry) buildVectors(ctx context.Context, force bool, batchSize int) error {
	start := r.now()
	var (
		projects []storage.Project
		apis     []storage.APIRecord
		tags     []storage.Tag
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if force {
			r.Projects.Invalidate()
		}
		projects, err = r.Projects.Items(gCtx)
		return err
	})
	g.Go(func() (err error) {
		if force {
			r.APIs.Invalidate()
		}
		apis, err = r.APIs.Items(gCtx)
		return err
	})
	g.Go(func() (err error) {
		if force {
			r.Tags.Invalidate()
		}
		tags, err = r.Tags.Items(gCtx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	docs := semantic.BuildDocuments(projects, apis, tags)
	if err := r.semantic.BuildBatched(ctx, docs, batchSize); err != nil {
		return err
	}
	if err := r.keyword.Rebuild(docs); err != nil {
		return apperr.Search("building keyword index", err)
	}
	r.vectorsStale.Store(false)
	r.logger.Info("vector index built", "documents", len(docs), "took", r.now().Sub(start))
	return nil
}

// IndexStats reports on the semantic and keyword indexes.
func (r *Registry) IndexStats() IndexStats {
	n, err := r.keyword.Count()
	if err != nil {
		r.logger.Debug("counting keyword documents", "error", err)
	}
	return IndexStats{Semantic: r.semantic.Stats(), KeywordDocuments: n}
}

// IsUsingFallback reports whether the semantic index runs on term
// frequencies.
func (r *Registry) IsUsingFallback() bool { return r.semantic.IsUsingFallback() }

func (r *Registry) ensureVectors(ctx context.Context) error {
	if r.vectorsFresh() {
		return nil
	}
	_, err := r.BuildVectorIndex(ctx, false, 0)
	return err
}

// VectorOptions scopes a vector search. A zero Threshold uses the configured
// vector threshold.
type VectorOptions struct {
	Types     []string
	Limit     int
	Threshold float64
}

// VectorSearch ranks documents by semantic similarity, building the index on
// first use.
func (r *Registry) VectorSearch(ctx context.Context, query string, opts VectorOptions) ([]semantic.Hit, error) {
	q, err := ValidateQuery(query)
	if err != nil {
		return nil, err
	}
	types, err := NormalizeTypes(opts.Types)
	if err != nil {
		return nil, err
	}
	page, err := Page{Limit: opts.Limit}.normalize(r.settings)
	if err != nil {
		return nil, err
	}
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = r.vectorThreshold
	}
	if err := r.ensureVectors(ctx); err != nil {
		return nil, err
	}

	limit := page.Limit
	if len(types) < len(AllTypes) {
		limit = r.semantic.Stats().DocumentCount
	}
	hits, err := r.semantic.Search(ctx, q, limit, threshold)
	if err != nil {
		return nil, err
	}
	return filterTypes(hits, documentTypesFor(types), page.Limit, func(h semantic.Hit) string { return h.Document.Type }), nil
}

// HybridOptions scopes a hybrid search. Weights must lie in [0,1]; they are
// not required to sum to 1.
type HybridOptions struct {
	Types        []string
	Limit        int
	VectorWeight float64
	FuzzyWeight  float64
}

// Hybrid merges fuzzy and semantic relevance per document.
func (r *Registry) Hybrid(ctx context.Context, query string, opts HybridOptions) ([]semantic.HybridHit, error) {
	types, err := NormalizeTypes(opts.Types)
	if err != nil {
		return nil, err
	}
	page, err := Page{Limit: opts.Limit}.normalize(r.settings)
	if err != nil {
		return nil, err
	}
	fuzzyHits, err := r.Global(ctx, query, GlobalOptions{Types: types, Limit: min(page.Limit*2, r.settings.MaxLimit)})
	if err != nil {
		return nil, err
	}
	if err := r.ensureVectors(ctx); err != nil {
		return nil, err
	}

	scored := make([]semantic.Scored, len(fuzzyHits))
	for i, h := range fuzzyHits {
		scored[i] = semantic.Scored{ID: semantic.DocumentID(documentTypes[h.Type], h.ID), Score: h.Score}
	}
	limit := page.Limit
	if len(types) < len(AllTypes) {
		limit = r.semantic.Stats().DocumentCount + len(scored)
	}
	hits, err := r.semantic.HybridSearch(ctx, query, scored, limit, opts.VectorWeight, opts.FuzzyWeight)
	if err != nil {
		return nil, err
	}
	return filterTypes(hits, documentTypesFor(types), page.Limit, func(h semantic.HybridHit) string {
		typ, _, _ := strings.Cut(h.ID, "-")
		return typ
	}), nil
}

// Keyword runs a BM25 search over the keyword index.
func (r *Registry) Keyword(ctx context.Context, query string, types []string, limit int) ([]keyword.Hit, error) {
	q, err := ValidateQuery(query)
	if err != nil {
		return nil, err
	}
	types, err = NormalizeTypes(types)
	if err != nil {
		return nil, err
	}
	page, err := Page{Limit: limit}.normalize(r.settings)
	if err != nil {
		return nil, err
	}
	if err := r.ensureVectors(ctx); err != nil {
		return nil, err
	}
	var docTypes []string
	if len(types) < len(AllTypes) {
		docTypes = documentTypesFor(types)
	}
	hits, err := r.keyword.Search(q, docTypes, page.Limit)
	if err != nil {
		return nil, apperr.Search("keyword search", err)
	}
	return hits, nil
}

func filterTypes[H any](hits []H, types []string, limit int, typeOf func(H) string) []H {
	out := hits[:0:0]
	for _, h := range hits {
		if len(out) == limit {
			break
		}
		if slices.Contains(types, typeOf(h)) {
			out = append(out, h)
		}
	}
	return out
}

// RecentItem is a record updated or created within the requested window.
type RecentItem struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Item      any       `json:"item"`
}

// RecentOptions scopes Recent. Days defaults to 30.
type RecentOptions struct {
	Types     []string
	Days      int
	Limit     int
	ProjectID string
}

// Recent reads recently changed records straight from the source, newest
// first. Projects are skipped when ProjectID is set.
func (r *Registry) Recent(ctx context.Context, opts RecentOptions) ([]RecentItem, error) {
	types, err := NormalizeTypes(opts.Types)
	if err != nil {
		return nil, err
	}
	days := opts.Days
	if days == 0 {
		days = 30
	}
	if days < 1 || days > 365 {
		return nil, apperr.Validation("days must be between 1 and 365",
			apperr.FieldIssue{Field: "days", Message: "must be between 1 and 365"})
	}
	page, err := Page{Limit: opts.Limit}.normalize(r.settings)
	if err != nil {
		return nil, err
	}
	since := r.now().AddDate(0, 0, -days)
	perType := int(math.Ceil(float64(page.Limit) / float64(len(types))))

	var mu sync.Mutex
	var items []RecentItem
	add := func(it RecentItem) {
		mu.Lock()
		items = append(items, it)
		mu.Unlock()
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, t := range types {
		switch t {
		case TypeProjects:
			if opts.ProjectID != "" {
				continue
			}
			g.Go(func() error {
				ps, err := r.Projects.Recent(gCtx, since, perType)
				for _, p := range ps {
					add(RecentItem{Type: TypeProjects, ID: p.ID, Name: p.Name, Timestamp: p.UpdatedAt, Item: p})
				}
				return err
			})
		case TypeAPIs:
			g.Go(func() error {
				as, err := r.APIs.Recent(gCtx, opts.ProjectID, since, perType)
				for _, a := range as {
					add(RecentItem{Type: TypeAPIs, ID: a.ID, Name: a.Name, Timestamp: a.UpdatedAt, Item: a})
				}
				return err
			})
		case TypeTags:
			g.Go(func() error {
				ts, err := r.Tags.Recent(gCtx, opts.ProjectID, since, perType)
				for _, tag := range ts {
					add(RecentItem{Type: TypeTags, ID: tag.ID, Name: tag.Name, Timestamp: tag.CreatedAt, Item: tag})
				}
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].Timestamp.After(items[j].Timestamp)
		}
		return items[i].ID < items[j].ID
	})
	if len(items) > page.Limit {
		items = items[:page.Limit]
	}
	return items, nil
}

// Suggest gathers completion terms from each requested type, in type order.
func (r *Registry) Suggest(ctx context.Context, query string, types []string, limit int) ([]string, error) {
	types, err := NormalizeTypes(types)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}

	per := make([][]string, len(types))
	g, gCtx := errgroup.WithContext(ctx)
	for i, t := range types {
		g.Go(func() (err error) {
			switch t {
			case TypeProjects:
				per[i], err = r.Projects.Suggest(gCtx, query, limit)
			case TypeAPIs:
				per[i], err = r.APIs.Suggest(gCtx, query, limit)
			case TypeTags:
				per[i], err = r.Tags.Suggest(gCtx, query, limit)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []string
	for _, terms := range per {
		for _, s := range terms {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
			if len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// Health grades the search services.
func (r *Registry) Health() health.Report {
	samples := make([]health.Sample, len(AllTypes))
	for i, t := range AllTypes {
		samples[i] = r.service(t).Sample()
	}
	return health.Aggregate(samples, health.ServiceThresholds)
}

// ServiceStats returns the counters of every service.
func (r *Registry) ServiceStats() []ServiceStats {
	out := make([]ServiceStats, len(AllTypes))
	for i, t := range AllTypes {
		out[i] = r.service(t).Stats()
	}
	return out
}
