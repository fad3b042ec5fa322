package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/devsearch/internal/fuzzy"
	"github.com/kalambet/devsearch/internal/storage"
)

type TagOptions struct {
	Page
	ProjectID string
}

// Tags searches tag names. Literal name matches are lifted over fuzzy ones:
// exact 1.0, prefix 0.8, substring 0.6.
type Tags struct {
	*Service[storage.Tag]
	src Source
}

func NewTags(src Source, s Settings, logger *slog.Logger) *Tags {
	def := definition[storage.Tag]{
		name: "tags",
		fields: []fuzzy.Field[storage.Tag]{
			{Name: "name", Weight: 1, Get: func(t storage.Tag) string { return t.Name }},
		},
		load: func(ctx context.Context) ([]storage.Tag, error) {
			return src.FindTags(ctx, storage.TagFilter{})
		},
		id: func(t storage.Tag) string { return t.ID },
		terms: func(t storage.Tag) ([]string, string) {
			return []string{t.Name}, ""
		},
		rescore: func(query string, t storage.Tag, score float64) float64 {
			return max(score, nameTier(query, t.Name))
		},
	}
	return &Tags{Service: newService(def, s, logger), src: src}
}

func nameTier(query, name string) float64 {
	q, n := strings.ToLower(query), strings.ToLower(name)
	switch {
	case n == q:
		return 1
	case strings.HasPrefix(n, q):
		return 0.8
	case strings.Contains(n, q):
		return 0.6
	}
	return 0
}

func (t *Tags) Search(ctx context.Context, query string, opts TagOptions) ([]Result[storage.Tag], error) {
	var keep func(storage.Tag) bool
	if opts.ProjectID != "" {
		keep = func(tag storage.Tag) bool { return tag.ProjectID == opts.ProjectID }
	}
	return t.search(ctx, query, opts.Page, keep)
}

// Recent returns tags created since the given time.
func (t *Tags) Recent(ctx context.Context, projectID string, since time.Time, limit int) ([]storage.Tag, error) {
	tags, err := t.src.FindTags(ctx, storage.TagFilter{ProjectID: projectID, CreatedSince: since, Limit: limit})
	if err != nil {
		return nil, sourceError("loading recent tags", err)
	}
	return tags, nil
}
