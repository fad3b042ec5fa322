package search

import (
	"context"
	"testing"
	"time"

	"github.com/kalambet/devsearch/internal/apperr"
	"github.com/kalambet/devsearch/internal/health"
	"github.com/kalambet/devsearch/internal/semantic"
)

func newTestRegistry(t *testing.T, src Source) *Registry {
	t.Helper()
	r, err := NewRegistry(src, RegistryOptions{Settings: DefaultSettings(), VectorThreshold: 0.1})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestGlobalSearchMergesTypes(t *testing.T) {
	r := newTestRegistry(t, testSource())
	hits, err := r.Global(context.Background(), "用户", GlobalOptions{Limit: 3})
	if err != nil {
		t.Fatalf("Global: %v", err)
	}
	if len(hits) == 0 || len(hits) > 3 {
		t.Fatalf("got %d hits, want 1..3", len(hits))
	}
	types := map[string]bool{}
	for i, h := range hits {
		if h.Type != TypeProjects && h.Type != TypeAPIs && h.Type != TypeTags {
			t.Errorf("hit %d has type %q", i, h.Type)
		}
		if i > 0 && h.Score > hits[i-1].Score {
			t.Errorf("hit %d score %v above previous %v", i, h.Score, hits[i-1].Score)
		}
		types[h.Type] = true
	}
	if len(types) < 2 {
		t.Errorf("hits span %d types, want at least 2", len(types))
	}
}

func TestGlobalSearchProjectScope(t *testing.T) {
	r := newTestRegistry(t, testSource())
	hits, err := r.Global(context.Background(), "user", GlobalOptions{ProjectID: "p1", Limit: 20})
	if err != nil {
		t.Fatalf("Global: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("no hits in project p1")
	}
	for _, h := range hits {
		if h.Type == TypeProjects {
			t.Errorf("project hit %s returned for a project-scoped search", h.ID)
		}
	}
}

func TestGlobalSearchRejectsUnknownType(t *testing.T) {
	r := newTestRegistry(t, testSource())
	_, err := r.Global(context.Background(), "user", GlobalOptions{Types: []string{"widgets"}})
	if apperr.CodeOf(err) != apperr.CodeValidation {
		t.Errorf("error = %v, want validation error", err)
	}
	_, err = r.Global(context.Background(), "", GlobalOptions{Types: []string{TypeProjects}, ProjectID: "p1"})
	if apperr.CodeOf(err) != apperr.CodeValidation {
		t.Errorf("empty query error = %v, want validation error", err)
	}
}

func TestVectorSearchBuildsOnFirstUse(t *testing.T) {
	r := newTestRegistry(t, testSource())
	hits, err := r.VectorSearch(context.Background(), "GET /api/users", VectorOptions{Limit: 5})
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(hits) == 0 || hits[0].Document.Type != semantic.TypeAPI {
		t.Fatalf("hits = %+v, want an api first", hits)
	}
	if !r.IsUsingFallback() {
		t.Error("registry without a backend is not using the fallback")
	}
	st := r.IndexStats()
	if st.Semantic.DocumentCount != 13 || st.KeywordDocuments != 13 {
		t.Errorf("index stats = %+v, want 13 documents in both", st)
	}

	hits, err = r.VectorSearch(context.Background(), "users", VectorOptions{Types: []string{TypeTags}, Limit: 5})
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	for _, h := range hits {
		if h.Document.Type != semantic.TypeTag {
			t.Errorf("type filter let through %s", h.Document.ID)
		}
	}
}

func TestBuildVectorIndexKeepsFreshIndex(t *testing.T) {
	src := testSource()
	r := newTestRegistry(t, src)
	ctx := context.Background()

	first, err := r.BuildVectorIndex(ctx, false, 0)
	if err != nil {
		t.Fatalf("BuildVectorIndex: %v", err)
	}
	second, err := r.BuildVectorIndex(ctx, false, 0)
	if err != nil {
		t.Fatalf("BuildVectorIndex: %v", err)
	}
	if !second.Semantic.BuiltAt.Equal(first.Semantic.BuiltAt) {
		t.Error("fresh index was rebuilt without force")
	}
	if n := src.projectLoads.Load(); n != 1 {
		t.Errorf("projects loaded %d times, want 1", n)
	}

	if _, err := r.BuildVectorIndex(ctx, true, 10); err != nil {
		t.Fatalf("forced BuildVectorIndex: %v", err)
	}
	if n := src.projectLoads.Load(); n != 2 {
		t.Errorf("forced build loaded projects %d times in total, want 2", n)
	}
}

func TestBuildVectorIndexOutlivesCancelledCaller(t *testing.T) {
	src := testSource()
	src.gate = make(chan struct{})
	r := newTestRegistry(t, src)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := r.BuildVectorIndex(ctxA, false, 0)
		errA <- err
	}()
	waitForLoads(t, &src.projectLoads, 1)

	errB := make(chan error, 1)
	go func() {
		_, err := r.BuildVectorIndex(context.Background(), false, 0)
		errB <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	if err := <-errA; err == nil {
		t.Error("cancelled caller got no error")
	}
	close(src.gate)
	if err := <-errB; err != nil {
		t.Fatalf("BuildVectorIndex: %v", err)
	}
	if st := r.IndexStats(); st.Semantic.DocumentCount != 13 {
		t.Errorf("documents = %d, want 13", st.Semantic.DocumentCount)
	}
}

func TestRefreshForcesVectorRebuild(t *testing.T) {
	src := testSource()
	r := newTestRegistry(t, src)
	ctx := context.Background()
	if _, err := r.BuildVectorIndex(ctx, false, 0); err != nil {
		t.Fatalf("BuildVectorIndex: %v", err)
	}
	if _, err := r.Refresh(ctx, true, []string{TypeAPIs}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if r.vectorsFresh() {
		t.Error("vector index still fresh after a forced refresh")
	}
	if _, err := r.VectorSearch(ctx, "orders", VectorOptions{}); err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if !r.vectorsFresh() {
		t.Error("vector index not rebuilt on next use")
	}
}

func TestHybridSearch(t *testing.T) {
	r := newTestRegistry(t, testSource())
	hits, err := r.Hybrid(context.Background(), "users", HybridOptions{Limit: 5, VectorWeight: 0.7, FuzzyWeight: 0.3})
	if err != nil {
		t.Fatalf("Hybrid: %v", err)
	}
	if len(hits) == 0 || len(hits) > 5 {
		t.Fatalf("got %d hits, want 1..5", len(hits))
	}
	for i, h := range hits {
		want := h.VectorScore*0.7 + h.FuzzyScore*0.3
		if diff := h.Score - want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("hit %s score = %v, want %v", h.ID, h.Score, want)
		}
		if i > 0 && h.Score > hits[i-1].Score {
			t.Errorf("hit %d out of order", i)
		}
	}

	_, err = r.Hybrid(context.Background(), "users", HybridOptions{VectorWeight: 1.5})
	if apperr.CodeOf(err) != apperr.CodeValidation {
		t.Errorf("out-of-range weight error = %v, want validation error", err)
	}
}

func TestKeywordSearch(t *testing.T) {
	r := newTestRegistry(t, testSource())
	hits, err := r.Keyword(context.Background(), "orders", []string{TypeAPIs}, 5)
	if err != nil {
		t.Fatalf("Keyword: %v", err)
	}
	if len(hits) != 1 || hits[0].RecordID != "a4" {
		t.Errorf("hits = %+v, want a4 only", hits)
	}
}

func TestRecent(t *testing.T) {
	r := newTestRegistry(t, testSource())
	r.now = func() time.Time { return baseTime }

	items, err := r.Recent(context.Background(), RecentOptions{Days: 7, Limit: 20})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	// p1 p4, a1 a2 a4 a5, t1 t2 t4
	if len(items) != 9 {
		t.Fatalf("got %d recent items, want 9: %+v", len(items), items)
	}
	for i := 1; i < len(items); i++ {
		if items[i].Timestamp.After(items[i-1].Timestamp) {
			t.Errorf("item %d newer than item %d", i, i-1)
		}
	}

	items, err = r.Recent(context.Background(), RecentOptions{Days: 7, Limit: 20, ProjectID: "p1"})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	for _, it := range items {
		if it.Type == TypeProjects {
			t.Errorf("project %s listed in a project-scoped recent query", it.ID)
		}
	}

	if _, err := r.Recent(context.Background(), RecentOptions{Days: 400}); apperr.CodeOf(err) != apperr.CodeValidation {
		t.Errorf("days 400 error = %v, want validation error", err)
	}
}

func TestRegistrySuggest(t *testing.T) {
	r := newTestRegistry(t, testSource())
	got, err := r.Suggest(context.Background(), "user", nil, 3)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if len(got) == 0 || len(got) > 3 {
		t.Errorf("Suggest = %q, want 1..3 terms", got)
	}
	seen := map[string]bool{}
	for _, s := range got {
		if seen[s] {
			t.Errorf("duplicate suggestion %q", s)
		}
		seen[s] = true
	}
}

func TestRegistryHealth(t *testing.T) {
	src := testSource()
	r := newTestRegistry(t, src)
	if rep := r.Health(); rep.Status != health.Healthy || rep.Total != 3 {
		t.Errorf("idle health = %+v, want 3 healthy services", rep)
	}

	src.err = context.DeadlineExceeded
	for range 3 {
		r.APIs.Invalidate()
		r.APIs.Search(context.Background(), "users", APIOptions{})
	}
	rep := r.Health()
	if rep.Status != health.Unhealthy || len(rep.Offenders) != 1 || rep.Offenders[0] != "apis" {
		t.Errorf("health = %+v, want apis unhealthy", rep)
	}
}
