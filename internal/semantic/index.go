package semantic

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/kalambet/devsearch/internal/apperr"
)

// Defaults applied when a caller passes zero values.
const (
	DefaultLimit    = 10
	DefaultMinScore = 0.1
)

// Hit is a document scored against a query.
type Hit struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// Scored is an externally ranked record, keyed by document id.
type Scored struct {
	ID    string
	Score float64
}

// HybridHit merges a semantic score and a fuzzy score for one document.
// Document is nil when the id is not in the semantic index.
type HybridHit struct {
	ID          string    `json:"id"`
	Document    *Document `json:"document,omitempty"`
	VectorScore float64   `json:"vectorScore"`
	FuzzyScore  float64   `json:"fuzzyScore"`
	Score       float64   `json:"hybridScore"`
}

// Stats describes the index for health reporting.
type Stats struct {
	DocumentCount int       `json:"documentCount"`
	Initialized   bool      `json:"initialized"`
	UseFallback   bool      `json:"useFallback"`
	Backend       string    `json:"backend"`
	Version       string    `json:"version"`
	BuiltAt       time.Time `json:"builtAt"`
}

type entry struct {
	doc Document
	vec Vector
}

// Index is an in-memory vector index. Builds encode outside the lock and
// swap the entry table in, so searches never wait on the embedding backend
// for documents.
type Index struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time

	mu          sync.RWMutex
	entries     []entry
	pos         map[string]int
	builtAt     time.Time
	version     uint64
	initialized bool
}

// NewIndex creates an empty index over backend.
func NewIndex(backend Backend, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{backend: backend, logger: logger, now: time.Now, pos: map[string]int{}}
}

// Build replaces the index contents with docs. On failure the previous
// contents stay in place.
func (x *Index) Build(ctx context.Context, docs []Document) error {
	return x.BuildBatched(ctx, docs, 0)
}

// BuildBatched is Build with the embedding batch size overridden for this
// build. Zero keeps the backend's own size; the fallback ignores it.
func (x *Index) BuildBatched(ctx context.Context, docs []Document, batchSize int) error {
	backend := x.backend
	if r, ok := backend.(rebatcher); ok && batchSize > 0 {
		backend = r.withBatchSize(batchSize)
	}
	entries, err := encodeWith(ctx, backend, docs)
	if err != nil {
		return err
	}
	pos := make(map[string]int, len(entries))
	deduped := entries[:0]
	for _, e := range entries {
		if i, ok := pos[e.doc.ID]; ok {
			deduped[i] = e
			continue
		}
		pos[e.doc.ID] = len(deduped)
		deduped = append(deduped, e)
	}

	x.mu.Lock()
	x.entries = deduped
	x.pos = pos
	x.builtAt = x.now()
	x.version = fingerprint(deduped)
	x.initialized = true
	x.mu.Unlock()

	x.logger.Info("semantic index built", "documents", len(deduped), "backend", x.backend.Name())
	return nil
}

func encodeWith(ctx context.Context, backend Backend, docs []Document) ([]entry, error) {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := backend.Encode(ctx, texts)
	if err != nil {
		return nil, apperr.VectorSearch("encoding documents", err)
	}
	entries := make([]entry, len(docs))
	for i, d := range docs {
		entries[i] = entry{doc: d, vec: vecs[i]}
	}
	return entries, nil
}

// Search returns up to limit documents scoring at least minScore against
// query, best first. Ties break by document id. Documents with zero
// similarity are never hits, and an empty index yields none.
func (x *Index) Search(ctx context.Context, query string, limit int, minScore float64) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Validation("query must not be empty",
			apperr.FieldIssue{Field: "query", Message: "required"})
	}
	if minScore < 0 || minScore > 1 {
		return nil, apperr.Validation("minScore must be between 0 and 1",
			apperr.FieldIssue{Field: "threshold", Message: "must be between 0 and 1"})
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	x.mu.RLock()
	entries := x.entries
	x.mu.RUnlock()
	if len(entries) == 0 {
		return nil, nil
	}

	qv, err := x.backend.Encode(ctx, []string{query})
	if err != nil {
		return nil, apperr.VectorSearch("encoding query", err)
	}
	q := qv[0]

	h := &hitHeap{}
	for _, e := range entries {
		score := q.Similarity(e.vec)
		if score < minScore || score == 0 {
			continue
		}
		hit := Hit{Document: e.doc, Score: score}
		if h.Len() < limit {
			heap.Push(h, hit)
		} else if better(hit, (*h)[0]) {
			(*h)[0] = hit
			heap.Fix(h, 0)
		}
	}

	hits := make([]Hit, h.Len())
	for i := len(hits) - 1; i >= 0; i-- {
		hits[i] = heap.Pop(h).(Hit)
	}
	return hits, nil
}

// HybridSearch merges semantic hits for query with the caller's fuzzy
// results by document id: score = vectorScore*vectorWeight +
// fuzzyScore*fuzzyWeight, a missing side counting as 0. Weights must lie in
// [0,1] but need not sum to 1.
func (x *Index) HybridSearch(ctx context.Context, query string, fuzzy []Scored, limit int, vectorWeight, fuzzyWeight float64) ([]HybridHit, error) {
	var issues []apperr.FieldIssue
	if vectorWeight < 0 || vectorWeight > 1 {
		issues = append(issues, apperr.FieldIssue{Field: "vectorWeight", Message: "must be between 0 and 1"})
	}
	if fuzzyWeight < 0 || fuzzyWeight > 1 {
		issues = append(issues, apperr.FieldIssue{Field: "fuzzyWeight", Message: "must be between 0 and 1"})
	}
	if len(issues) > 0 {
		return nil, apperr.Validation("invalid hybrid weights", issues...)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	hits, err := x.Search(ctx, query, limit*2, DefaultMinScore)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*HybridHit, len(hits)+len(fuzzy))
	order := make([]string, 0, len(hits)+len(fuzzy))
	for _, h := range hits {
		doc := h.Document
		merged[doc.ID] = &HybridHit{ID: doc.ID, Document: &doc, VectorScore: h.Score}
		order = append(order, doc.ID)
	}
	for _, f := range fuzzy {
		hh, ok := merged[f.ID]
		if !ok {
			hh = &HybridHit{ID: f.ID, Document: x.lookup(f.ID)}
			merged[f.ID] = hh
			order = append(order, f.ID)
		}
		hh.FuzzyScore = max(hh.FuzzyScore, f.Score)
	}

	out := make([]HybridHit, 0, len(order))
	for _, id := range order {
		hh := merged[id]
		hh.Score = hh.VectorScore*vectorWeight + hh.FuzzyScore*fuzzyWeight
		out = append(out, *hh)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (x *Index) lookup(id string) *Document {
	x.mu.RLock()
	defer x.mu.RUnlock()
	i, ok := x.pos[id]
	if !ok {
		return nil
	}
	doc := x.entries[i].doc
	return &doc
}

// IsUsingFallback reports whether the term-frequency backend is active. It
// is informational only.
func (x *Index) IsUsingFallback() bool { return x.backend.Fallback() }

// BuiltAt returns when Build last succeeded.
func (x *Index) BuiltAt() time.Time {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.builtAt
}

func (x *Index) Stats() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return Stats{
		DocumentCount: len(x.entries),
		Initialized:   x.initialized,
		UseFallback:   x.backend.Fallback(),
		Backend:       x.backend.Name(),
		Version:       fmt.Sprintf("%016x", x.version),
		BuiltAt:       x.builtAt,
	}
}

// fingerprint hashes document ids and contents in id order, so the version
// changes exactly when the indexed text does.
func fingerprint(entries []entry) uint64 {
	ids := make([]int, len(entries))
	for i := range ids {
		ids[i] = i
	}
	sort.Slice(ids, func(a, b int) bool { return entries[ids[a]].doc.ID < entries[ids[b]].doc.ID })

	d := xxhash.New()
	for _, i := range ids {
		d.WriteString(entries[i].doc.ID)
		d.Write([]byte{0})
		d.WriteString(entries[i].doc.Content)
		d.Write([]byte{0})
	}
	return d.Sum64()
}

// better orders hits by score, then by id so results are deterministic.
func better(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Document.ID < b.Document.ID
}

// hitHeap is a min-heap on hit quality; the root is the weakest kept hit.
type hitHeap []Hit

func (h hitHeap) Len() int           { return len(h) }
func (h hitHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h hitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x any)        { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
