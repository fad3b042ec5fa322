package keyword

import (
	"testing"

	"github.com/kalambet/devsearch/internal/semantic"
	"github.com/kalambet/devsearch/internal/storage"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	x, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { x.Close() })

	docs := semantic.BuildDocuments(
		[]storage.Project{{ID: "p1", Name: "Billing", Description: "Invoices and payments"}},
		[]storage.APIRecord{
			{ID: "a1", ProjectID: "p1", Name: "List invoices", Method: "GET", Path: "/invoices"},
			{ID: "a2", ProjectID: "p1", Name: "Create user", Method: "POST", Path: "/users"},
		},
		[]storage.Tag{{ID: "t1", ProjectID: "p1", Name: "invoices"}},
	)
	if err := x.Rebuild(docs); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	return x
}

func TestSearchNormalisesScores(t *testing.T) {
	x := newTestIndex(t)
	hits, err := x.Search("invoices", nil, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) < 2 {
		t.Fatalf("got %d hits, want at least 2", len(hits))
	}
	if hits[0].Score != 1 {
		t.Errorf("top score = %v, want 1", hits[0].Score)
	}
	for _, h := range hits {
		if h.Score <= 0 || h.Score > 1 {
			t.Errorf("%s score = %v, want in (0,1]", h.ID, h.Score)
		}
		if h.ID == "api-a2" {
			t.Errorf("unrelated api-a2 matched invoices")
		}
	}
}

func TestSearchFiltersByType(t *testing.T) {
	x := newTestIndex(t)
	hits, err := x.Search("invoices", []string{semantic.TypeAPI}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "api-a1" {
		t.Fatalf("hits = %+v, want api-a1 only", hits)
	}
	if hits[0].Type != semantic.TypeAPI || hits[0].RecordID != "a1" {
		t.Errorf("hit = %+v, want stored type and record id", hits[0])
	}
}

func TestRebuildReplacesContents(t *testing.T) {
	x := newTestIndex(t)
	if err := x.Rebuild([]semantic.Document{{ID: "tag-t9", Type: semantic.TypeTag, RecordID: "t9", Content: "shipping"}}); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	n, err := x.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	if hits, _ := x.Search("invoices", nil, 10); len(hits) != 0 {
		t.Errorf("stale hits after rebuild: %+v", hits)
	}
}

func TestSearchNoHits(t *testing.T) {
	x := newTestIndex(t)
	hits, err := x.Search("zebra", nil, 10)
	if err != nil || hits != nil {
		t.Errorf("Search(zebra) = %v, %v, want nil, nil", hits, err)
	}
}
