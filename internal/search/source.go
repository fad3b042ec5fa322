package search

import (
	"context"
	"slices"
	"time"

	"github.com/kalambet/devsearch/internal/storage"
)

// Source is the read side of the record store the services index.
// *storage.Store satisfies it.
type Source interface {
	FindProjects(ctx context.Context, f storage.ProjectFilter) ([]storage.Project, error)
	FindAPIs(ctx context.Context, f storage.APIFilter) ([]storage.APIRecord, error)
	FindTags(ctx context.Context, f storage.TagFilter) ([]storage.Tag, error)
}

var _ Source = (*storage.Store)(nil)

// TimeRange bounds a timestamp inclusively. Zero ends are open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

func (r TimeRange) contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// allowed reports whether v is in list; an empty list allows everything.
func allowed(list []string, v string) bool {
	return len(list) == 0 || slices.Contains(list, v)
}
