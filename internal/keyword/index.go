// Package keyword keeps a BM25 keyword index over record documents.
package keyword

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/kalambet/devsearch/internal/semantic"
)

const defaultLimit = 10

// Hit is one keyword match. Score is relative to the best hit of the same
// search, so the top hit always scores 1.
type Hit struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	RecordID string  `json:"recordId"`
	Score    float64 `json:"score"`
}

// Index is an in-memory bleve index. Rebuild swaps in a fresh index, so a
// search never sees a half-built one.
type Index struct {
	mu  sync.RWMutex
	idx bleve.Index
}

// New creates an empty index.
func New() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("creating keyword index: %w", err)
	}
	return &Index{idx: idx}, nil
}

func buildMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("title", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("body", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("type", bleve.NewKeywordFieldMapping())

	recordID := bleve.NewKeywordFieldMapping()
	recordID.Index = false
	recordID.IncludeInAll = false
	docMapping.AddFieldMappingsAt("recordId", recordID)

	m := bleve.NewIndexMapping()
	m.AddDocumentMapping("_default", docMapping)
	return m
}

// Rebuild replaces the index contents with docs.
func (x *Index) Rebuild(docs []semantic.Document) error {
	next, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return fmt.Errorf("creating keyword index: %w", err)
	}

	batch := next.NewBatch()
	for _, d := range docs {
		err := batch.Index(d.ID, map[string]any{
			"title":    d.Metadata["name"],
			"body":     d.Content,
			"type":     d.Type,
			"recordId": d.RecordID,
		})
		if err != nil {
			next.Close()
			return fmt.Errorf("indexing %s: %w", d.ID, err)
		}
	}
	if err := next.Batch(batch); err != nil {
		next.Close()
		return fmt.Errorf("writing keyword batch: %w", err)
	}

	x.mu.Lock()
	old := x.idx
	x.idx = next
	x.mu.Unlock()
	return old.Close()
}

// Search runs a BM25 match of text against titles and bodies. types
// restricts the document types; empty means all.
func (x *Index) Search(text string, types []string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	title := bleve.NewMatchQuery(text)
	title.SetField("title")
	title.SetBoost(2)
	body := bleve.NewMatchQuery(text)
	body.SetField("body")
	var q query.Query = bleve.NewDisjunctionQuery(title, body)

	if len(types) > 0 {
		typeQueries := make([]query.Query, len(types))
		for i, t := range types {
			tq := bleve.NewTermQuery(t)
			tq.SetField("type")
			typeQueries[i] = tq
		}
		q = bleve.NewConjunctionQuery(q, bleve.NewDisjunctionQuery(typeQueries...))
	}

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"type", "recordId"}

	x.mu.RLock()
	res, err := x.idx.Search(req)
	x.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	if len(res.Hits) == 0 {
		return nil, nil
	}

	top := res.Hits[0].Score
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		typ, _ := h.Fields["type"].(string)
		recordID, _ := h.Fields["recordId"].(string)
		score := 0.0
		if top > 0 {
			score = h.Score / top
		}
		hits = append(hits, Hit{ID: h.ID, Type: typ, RecordID: recordID, Score: score})
	}
	return hits, nil
}

// Count returns the number of indexed documents.
func (x *Index) Count() (uint64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.idx.DocCount()
}

func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.idx.Close()
}
