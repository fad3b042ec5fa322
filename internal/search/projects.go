package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/kalambet/devsearch/internal/apperr"
	"github.com/kalambet/devsearch/internal/fuzzy"
	"github.com/kalambet/devsearch/internal/storage"
	"github.com/kalambet/devsearch/internal/textvec"
)

// ProjectOptions narrows a project search. Filters apply after scoring.
type ProjectOptions struct {
	Page
	// Statuses is an allow-list; empty allows every status.
	Statuses []string
	// IncludeArchived keeps ARCHIVED projects, which are dropped by default.
	IncludeArchived bool
	Created         TimeRange
}

func (o ProjectOptions) keep(p storage.Project) bool {
	if !o.IncludeArchived && p.Status == storage.StatusArchived && len(o.Statuses) == 0 {
		return false
	}
	return allowed(o.Statuses, p.Status) && o.Created.contains(p.CreatedAt)
}

// Projects searches projects by name, description, status and base URL.
type Projects struct {
	*Service[storage.Project]
	src Source
}

func NewProjects(src Source, s Settings, logger *slog.Logger) *Projects {
	def := definition[storage.Project]{
		name: "projects",
		fields: []fuzzy.Field[storage.Project]{
			{Name: "name", Weight: 0.4, Get: func(p storage.Project) string { return p.Name }},
			{Name: "description", Weight: 0.3, Get: func(p storage.Project) string { return textvec.PlainText(p.Description) }},
			{Name: "status", Weight: 0.2, Get: func(p storage.Project) string { return p.Status }},
			{Name: "baseUrl", Weight: 0.1, Get: func(p storage.Project) string { return p.BaseURL }},
		},
		load: func(ctx context.Context) ([]storage.Project, error) {
			return src.FindProjects(ctx, storage.ProjectFilter{})
		},
		id: func(p storage.Project) string { return p.ID },
		terms: func(p storage.Project) ([]string, string) {
			return []string{p.Name}, textvec.PlainText(p.Description)
		},
	}
	return &Projects{Service: newService(def, s, logger), src: src}
}

func (p *Projects) Search(ctx context.Context, query string, opts ProjectOptions) ([]Result[storage.Project], error) {
	return p.search(ctx, query, opts.Page, opts.keep)
}

// Get loads one project straight from the source.
func (p *Projects) Get(ctx context.Context, id string) (storage.Project, error) {
	if id == "" {
		return storage.Project{}, apperr.Validation("project id is required",
			apperr.FieldIssue{Field: "projectId", Message: "required"})
	}
	ps, err := p.src.FindProjects(ctx, storage.ProjectFilter{IDs: []string{id}, Limit: 1})
	if err != nil {
		return storage.Project{}, sourceError("loading project", err)
	}
	if len(ps) == 0 {
		return storage.Project{}, apperr.NotFound("project", id)
	}
	return ps[0], nil
}

// Recent returns projects updated since the given time, newest first.
func (p *Projects) Recent(ctx context.Context, since time.Time, limit int) ([]storage.Project, error) {
	ps, err := p.src.FindProjects(ctx, storage.ProjectFilter{UpdatedSince: since, Limit: limit})
	if err != nil {
		return nil, sourceError("loading recent projects", err)
	}
	return ps, nil
}

// ProjectStats summarises the indexed projects.
type ProjectStats struct {
	Total     int            `json:"total"`
	ByStatus  map[string]int `json:"byStatus"`
	TotalAPIs int            `json:"totalApis"`
	TotalTags int            `json:"totalTags"`
	Service   ServiceStats   `json:"service"`
}

func (p *Projects) Summary(ctx context.Context) (ProjectStats, error) {
	items, err := p.Items(ctx)
	if err != nil {
		return ProjectStats{}, err
	}
	st := ProjectStats{Total: len(items), ByStatus: make(map[string]int)}
	for _, it := range items {
		st.ByStatus[it.Status]++
		st.TotalAPIs += it.Counts.APIs
		st.TotalTags += it.Counts.Tags
	}
	st.Service = p.Stats()
	return st, nil
}
