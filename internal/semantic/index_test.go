package semantic

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/devsearch/internal/apperr"
	"github.com/kalambet/devsearch/internal/engine"
	"github.com/kalambet/devsearch/internal/storage"
	"github.com/kalambet/devsearch/internal/textvec"
)

// mockEngine embeds text as a bag of three features so similarity is easy
// to reason about.
type mockEngine struct {
	running bool
	models  map[string]bool
	dim     int
	embedErr error

	mu      sync.Mutex
	batches [][]string
}

func (m *mockEngine) Name() string { return "mock" }

func (m *mockEngine) vector(text string) []float32 {
	v := make([]float32, m.dim)
	lower := strings.ToLower(text)
	for i, kw := range []string{"user", "order", "tag"} {
		if i < m.dim && strings.Contains(lower, kw) {
			v[i] = 1
		}
	}
	return v
}

func (m *mockEngine) Embed(_ context.Context, _ string, text string) ([]float32, error) {
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	return m.vector(text), nil
}

func (m *mockEngine) EmbedMany(_ context.Context, _ string, texts []string) ([][]float32, error) {
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	m.mu.Lock()
	m.batches = append(m.batches, texts)
	m.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vector(t)
	}
	return out, nil
}

func (m *mockEngine) IsRunning(_ context.Context) bool { return m.running }
func (m *mockEngine) ListModels(_ context.Context) ([]string, error) {
	var names []string
	for n := range m.models {
		names = append(names, n)
	}
	return names, nil
}
func (m *mockEngine) HasModel(_ context.Context, name string) bool { return m.models[name] }
func (m *mockEngine) PullModel(_ context.Context, _ string, _ func(engine.PullProgress)) error {
	return errors.New("offline")
}

func testDocuments() []Document {
	projects := []storage.Project{{ID: "p1", Name: "DevAPI Manager", Description: "<p>API管理平台</p>", Status: "ACTIVE"}}
	apis := []storage.APIRecord{
		{ID: "a1", ProjectID: "p1", Name: "List users", Method: "GET", Path: "/api/users", Description: "Returns all users"},
		{ID: "a2", ProjectID: "p1", Name: "Create order", Method: "POST", Path: "/api/orders"},
	}
	tags := []storage.Tag{{ID: "t1", ProjectID: "p1", Name: "billing"}}
	return BuildDocuments(projects, apis, tags)
}

func buildFallbackIndex(t *testing.T) *Index {
	t.Helper()
	x := NewIndex(TermBackend(), nil)
	if err := x.Build(context.Background(), testDocuments()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	return x
}

func TestBuildDocuments(t *testing.T) {
	docs := testDocuments()
	if len(docs) != 4 {
		t.Fatalf("got %d documents, want 4", len(docs))
	}
	want := map[string]string{
		"project-p1": "DevAPI Manager API管理平台",
		"api-a1":     "List users GET /api/users Returns all users",
		"api-a2":     "Create order POST /api/orders",
		"tag-t1":     "billing",
	}
	for _, d := range docs {
		if d.Content != want[d.ID] {
			t.Errorf("%s content = %q, want %q", d.ID, d.Content, want[d.ID])
		}
	}
	if docs[1].Type != TypeAPI || docs[1].RecordID != "a1" || docs[1].Metadata["method"] != "GET" {
		t.Errorf("api document = %+v", docs[1])
	}
}

func TestFallbackSearchFindsExactPath(t *testing.T) {
	x := buildFallbackIndex(t)
	hits, err := x.Search(context.Background(), "GET /api/users", 5, 0.1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected a hit for GET /api/users")
	}
	if hits[0].Document.ID != "api-a1" {
		t.Errorf("top hit = %s, want api-a1", hits[0].Document.ID)
	}
	for i, h := range hits {
		if h.Score < 0.1 || h.Score > 1 {
			t.Errorf("hit %d score = %v, want within [0.1, 1]", i, h.Score)
		}
		if i > 0 && h.Score > hits[i-1].Score {
			t.Errorf("hits not sorted at %d", i)
		}
	}
}

func TestSearchRespectsLimitAndThreshold(t *testing.T) {
	x := buildFallbackIndex(t)
	hits, err := x.Search(context.Background(), "api", 1, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("len = %d, want 1", len(hits))
	}

	hits, err = x.Search(context.Background(), "api", 10, 0.99)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits above 0.99, want 0", len(hits))
	}
}

func TestSearchValidation(t *testing.T) {
	x := buildFallbackIndex(t)
	if _, err := x.Search(context.Background(), "  ", 5, 0.1); apperr.CodeOf(err) != apperr.CodeValidation {
		t.Errorf("empty query error = %v, want validation", err)
	}
	if _, err := x.Search(context.Background(), "users", 5, 1.5); apperr.CodeOf(err) != apperr.CodeValidation {
		t.Errorf("bad threshold error = %v, want validation", err)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	x := NewIndex(TermBackend(), nil)
	hits, err := x.Search(context.Background(), "users", 5, 0.1)
	if err != nil || len(hits) != 0 {
		t.Errorf("Search on empty index = %v, %v", hits, err)
	}
	if x.Stats().Initialized {
		t.Error("empty index reports initialized")
	}
}

func TestHybridVectorOnlyScore(t *testing.T) {
	x := buildFallbackIndex(t)
	plain, err := x.Search(context.Background(), "GET /api/users", 20, DefaultMinScore)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	vectorScore := map[string]float64{}
	for _, h := range plain {
		vectorScore[h.Document.ID] = h.Score
	}

	const wv, wf = 0.7, 0.3
	hybrid, err := x.HybridSearch(context.Background(), "GET /api/users",
		[]Scored{{ID: "tag-t1", Score: 0.9}}, 10, wv, wf)
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	seenFuzzyOnly := false
	for _, h := range hybrid {
		if s, ok := vectorScore[h.ID]; ok && h.ID != "tag-t1" {
			if h.Score != s*wv {
				t.Errorf("%s hybrid = %v, want exactly %v", h.ID, h.Score, s*wv)
			}
		}
		if h.ID == "tag-t1" {
			seenFuzzyOnly = true
			if math.Abs(h.Score-0.9*wf) > 1e-12 || h.Document == nil {
				t.Errorf("fuzzy-only hit = %+v", h)
			}
		}
	}
	if !seenFuzzyOnly {
		t.Error("fuzzy-only result missing from hybrid results")
	}
}

func TestHybridWeightsNeedNotSumToOne(t *testing.T) {
	x := buildFallbackIndex(t)
	if _, err := x.HybridSearch(context.Background(), "users", nil, 5, 1, 1); err != nil {
		t.Errorf("weights 1/1 rejected: %v", err)
	}
	if _, err := x.HybridSearch(context.Background(), "users", nil, 5, 1.2, 0); apperr.CodeOf(err) != apperr.CodeValidation {
		t.Errorf("weight 1.2 error = %v, want validation", err)
	}
}

func TestBuildKeepsLastDuplicate(t *testing.T) {
	x := NewIndex(TermBackend(), nil)
	docs := []Document{
		{ID: "api-a1", Type: TypeAPI, RecordID: "a1", Content: "List users GET /api/users"},
		{ID: "api-a2", Type: TypeAPI, RecordID: "a2", Content: "List orders GET /api/orders"},
		{ID: "api-a1", Type: TypeAPI, RecordID: "a1", Content: "List accounts GET /api/accounts"},
	}
	if err := x.Build(context.Background(), docs); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if n := x.Stats().DocumentCount; n != 2 {
		t.Errorf("DocumentCount = %d, want 2", n)
	}
	if d := x.lookup("api-a1"); d == nil || !strings.Contains(d.Content, "accounts") {
		t.Errorf("api-a1 = %+v, want the later document", d)
	}
}

func TestVersionStableForSameContent(t *testing.T) {
	a := buildFallbackIndex(t).Stats().Version
	b := buildFallbackIndex(t).Stats().Version
	if a != b {
		t.Errorf("versions differ for identical documents: %s vs %s", a, b)
	}
}

func TestSelectFallsBackWhenEngineDown(t *testing.T) {
	b := Select(context.Background(), Probe{Engine: &mockEngine{running: false}, Model: "all-minilm"})
	if !b.Fallback() {
		t.Error("Select chose model backend for a stopped engine")
	}
}

func TestSelectFallsBackWhenModelMissing(t *testing.T) {
	m := &mockEngine{running: true, models: map[string]bool{}, dim: 3}
	b := Select(context.Background(), Probe{Engine: m, Model: "all-minilm", AutoPull: true})
	if !b.Fallback() {
		t.Error("Select chose model backend although the pull failed")
	}
}

func TestSelectFallsBackOnDimensionMismatch(t *testing.T) {
	m := &mockEngine{running: true, models: map[string]bool{"all-minilm": true}, dim: 3}
	b := Select(context.Background(), Probe{Engine: m, Model: "all-minilm", Dimension: 384})
	if !b.Fallback() {
		t.Error("Select accepted a 3-d model when 384 was required")
	}
}

func TestSelectNilEngine(t *testing.T) {
	if b := Select(context.Background(), Probe{}); !b.Fallback() {
		t.Error("nil engine did not select the fallback")
	}
}

func TestModelBackendSearch(t *testing.T) {
	m := &mockEngine{running: true, models: map[string]bool{"all-minilm": true}, dim: 3}
	b := Select(context.Background(), Probe{Engine: m, Model: "all-minilm", Dimension: 3, BatchSize: 2})
	if b.Fallback() {
		t.Fatal("Select fell back although the model is ready")
	}

	x := NewIndex(b, nil)
	if err := x.Build(context.Background(), testDocuments()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if x.IsUsingFallback() {
		t.Error("IsUsingFallback() = true with model backend")
	}
	if len(m.batches) != 2 {
		t.Errorf("embedded in %d batches, want 2", len(m.batches))
	}

	hits, err := x.Search(context.Background(), "find users", 5, 0.5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Document.ID != "api-a1" {
		t.Errorf("hits = %+v, want api-a1 only", hits)
	}
}

func TestBuildFailureKeepsPreviousContents(t *testing.T) {
	m := &mockEngine{running: true, models: map[string]bool{"all-minilm": true}, dim: 3}
	x := NewIndex(ModelBackend(m, "all-minilm", 10), nil)
	if err := x.Build(context.Background(), testDocuments()); err != nil {
		t.Fatalf("Build: %v", err)
	}

	m.embedErr = &apperr.Error{Code: apperr.CodeValidation, Message: "bad input"}
	err := x.Build(context.Background(), testDocuments()[:1])
	if apperr.CodeOf(err) != apperr.CodeVectorSearch {
		t.Fatalf("Build error = %v, want vector search error", err)
	}
	if got := x.Stats().DocumentCount; got != 4 {
		t.Errorf("DocumentCount = %d after failed build, want 4", got)
	}
}

func TestBuildBatchedOverridesBatchSize(t *testing.T) {
	m := &mockEngine{running: true, models: map[string]bool{"all-minilm": true}, dim: 3}
	x := NewIndex(ModelBackend(m, "all-minilm", 32), nil)
	if err := x.BuildBatched(context.Background(), testDocuments(), 1); err != nil {
		t.Fatalf("BuildBatched: %v", err)
	}
	if len(m.batches) != 4 {
		t.Errorf("embedded in %d batches, want 4", len(m.batches))
	}

	m.batches = nil
	if err := x.Build(context.Background(), testDocuments()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(m.batches) != 1 {
		t.Errorf("Build after override embedded in %d batches, want 1", len(m.batches))
	}
}

func TestTermSimilarityUsesStoredNorms(t *testing.T) {
	q := textvec.TermFrequency("list users")
	d := textvec.TermFrequency("list users endpoint")
	want := textvec.Cosine(q, d)

	query := sparseVector{terms: q, norm: q.Norm()}
	if got := query.Similarity(sparseVector{terms: d, norm: d.Norm()}); math.Abs(got-want) > 1e-12 {
		t.Errorf("Similarity = %v, want %v", got, want)
	}
	// A stored norm is used as is, never recomputed from the terms.
	if got := query.Similarity(sparseVector{terms: d, norm: 2 * d.Norm()}); math.Abs(got-want/2) > 1e-12 {
		t.Errorf("Similarity with stored norm = %v, want %v", got, want/2)
	}
}
