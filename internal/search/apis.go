package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/devsearch/internal/apperr"
	"github.com/kalambet/devsearch/internal/fuzzy"
	"github.com/kalambet/devsearch/internal/storage"
	"github.com/kalambet/devsearch/internal/textvec"
)

// APIOptions narrows an endpoint search. Filters apply after scoring.
type APIOptions struct {
	Page
	ProjectID string
	// Methods and Statuses are allow-lists; empty allows everything.
	Methods  []string
	Statuses []string
	// IncludeDeprecated keeps DEPRECATED endpoints, dropped by default.
	IncludeDeprecated bool
}

func (o APIOptions) keep(a storage.APIRecord) bool {
	if o.ProjectID != "" && a.ProjectID != o.ProjectID {
		return false
	}
	if !o.IncludeDeprecated && a.Status == storage.StatusDeprecated && len(o.Statuses) == 0 {
		return false
	}
	return allowed(o.Methods, strings.ToUpper(a.Method)) && allowed(o.Statuses, a.Status)
}

// APIs searches endpoints by name, path, description and method.
type APIs struct {
	*Service[storage.APIRecord]
	src Source
}

func NewAPIs(src Source, s Settings, logger *slog.Logger) *APIs {
	def := definition[storage.APIRecord]{
		name: "apis",
		fields: []fuzzy.Field[storage.APIRecord]{
			{Name: "name", Weight: 0.35, Get: func(a storage.APIRecord) string { return a.Name }},
			{Name: "path", Weight: 0.3, Get: func(a storage.APIRecord) string { return a.Path }},
			{Name: "description", Weight: 0.2, Get: func(a storage.APIRecord) string { return textvec.PlainText(a.Description) }},
			{Name: "method", Weight: 0.15, Get: func(a storage.APIRecord) string { return a.Method }},
		},
		load: func(ctx context.Context) ([]storage.APIRecord, error) {
			return src.FindAPIs(ctx, storage.APIFilter{})
		},
		id: func(a storage.APIRecord) string { return a.ID },
		terms: func(a storage.APIRecord) ([]string, string) {
			return []string{a.Name, a.Path}, textvec.PlainText(a.Description)
		},
	}
	return &APIs{Service: newService(def, s, logger), src: src}
}

func (a *APIs) Search(ctx context.Context, query string, opts APIOptions) ([]Result[storage.APIRecord], error) {
	methods := make([]string, len(opts.Methods))
	for i, m := range opts.Methods {
		methods[i] = strings.ToUpper(m)
	}
	opts.Methods = methods
	return a.search(ctx, query, opts.Page, opts.keep)
}

func (a *APIs) Get(ctx context.Context, id string) (storage.APIRecord, error) {
	if id == "" {
		return storage.APIRecord{}, apperr.Validation("api id is required",
			apperr.FieldIssue{Field: "apiId", Message: "required"})
	}
	as, err := a.src.FindAPIs(ctx, storage.APIFilter{IDs: []string{id}, Limit: 1})
	if err != nil {
		return storage.APIRecord{}, sourceError("loading api", err)
	}
	if len(as) == 0 {
		return storage.APIRecord{}, apperr.NotFound("api", id)
	}
	return as[0], nil
}

// Recent returns endpoints updated since the given time, newest first.
func (a *APIs) Recent(ctx context.Context, projectID string, since time.Time, limit int) ([]storage.APIRecord, error) {
	as, err := a.src.FindAPIs(ctx, storage.APIFilter{ProjectID: projectID, UpdatedSince: since, Limit: limit})
	if err != nil {
		return nil, sourceError("loading recent apis", err)
	}
	return as, nil
}

type APIStats struct {
	Total    int            `json:"total"`
	ByMethod map[string]int `json:"byMethod"`
	ByStatus map[string]int `json:"byStatus"`
	Service  ServiceStats   `json:"service"`
}

func (a *APIs) Summary(ctx context.Context) (APIStats, error) {
	items, err := a.Items(ctx)
	if err != nil {
		return APIStats{}, err
	}
	st := APIStats{Total: len(items), ByMethod: make(map[string]int), ByStatus: make(map[string]int)}
	for _, it := range items {
		st.ByMethod[strings.ToUpper(it.Method)]++
		st.ByStatus[it.Status]++
	}
	st.Service = a.Stats()
	return st, nil
}
