package catalog

import (
	"context"

	"github.com/kalambet/devsearch/internal/rag"
	"github.com/kalambet/devsearch/internal/search"
	"github.com/kalambet/devsearch/internal/tools"
)

type projectArgs struct {
	Query           string `json:"query" jsonschema:"minLength=1,maxLength=500"`
	Limit           int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100"`
	Offset          int    `json:"offset,omitempty" jsonschema:"minimum=0"`
	Status          string `json:"status,omitempty" jsonschema:"minLength=1"`
	IncludeArchived bool   `json:"includeArchived,omitempty"`
}

func (c *catalog) searchProjects(ctx context.Context, _ *tools.Call, a projectArgs) (string, error) {
	opts := search.ProjectOptions{
		Page:            search.Page{Limit: a.Limit, Offset: a.Offset},
		IncludeArchived: a.IncludeArchived,
	}
	if a.Status != "" {
		opts.Statuses = []string{a.Status}
	}
	results, err := c.Registry.Projects.Search(ctx, a.Query, opts)
	if err != nil {
		return "", err
	}
	stats, err := c.Registry.Projects.Summary(ctx)
	if err != nil {
		return "", err
	}
	return c.format("projects", map[string]any{
		"query":   a.Query,
		"total":   len(results),
		"results": results,
		"stats": map[string]any{
			"totalProjects":      stats.Total,
			"statusDistribution": stats.ByStatus,
		},
	})
}

type apiArgs struct {
	Query             string `json:"query" jsonschema:"minLength=1,maxLength=500"`
	ProjectID         string `json:"projectId,omitempty"`
	Method            string `json:"method,omitempty" jsonschema:"enum=GET,enum=POST,enum=PUT,enum=PATCH,enum=DELETE,enum=HEAD,enum=OPTIONS"`
	Status            string `json:"status,omitempty" jsonschema:"minLength=1"`
	IncludeDeprecated bool   `json:"includeDeprecated,omitempty"`
	Limit             int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100"`
	Offset            int    `json:"offset,omitempty" jsonschema:"minimum=0"`
}

func (c *catalog) searchAPIs(ctx context.Context, _ *tools.Call, a apiArgs) (string, error) {
	opts := search.APIOptions{
		Page:              search.Page{Limit: a.Limit, Offset: a.Offset},
		ProjectID:         a.ProjectID,
		IncludeDeprecated: a.IncludeDeprecated,
	}
	if a.Method != "" {
		opts.Methods = []string{a.Method}
	}
	if a.Status != "" {
		opts.Statuses = []string{a.Status}
	}
	results, err := c.Registry.APIs.Search(ctx, a.Query, opts)
	if err != nil {
		return "", err
	}
	stats, err := c.Registry.APIs.Summary(ctx)
	if err != nil {
		return "", err
	}
	return c.format("apis", map[string]any{
		"query":   a.Query,
		"context": map[string]string{"projectId": a.ProjectID, "method": a.Method, "status": a.Status},
		"total":   len(results),
		"results": results,
		"stats": map[string]any{
			"totalApis":          stats.Total,
			"methodDistribution": stats.ByMethod,
			"statusDistribution": stats.ByStatus,
		},
	})
}

type tagArgs struct {
	Query     string `json:"query" jsonschema:"minLength=1,maxLength=500"`
	ProjectID string `json:"projectId,omitempty"`
	Limit     int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100"`
	Offset    int    `json:"offset,omitempty" jsonschema:"minimum=0"`
}

func (c *catalog) searchTags(ctx context.Context, _ *tools.Call, a tagArgs) (string, error) {
	results, err := c.Registry.Tags.Search(ctx, a.Query, search.TagOptions{
		Page:      search.Page{Limit: a.Limit, Offset: a.Offset},
		ProjectID: a.ProjectID,
	})
	if err != nil {
		return "", err
	}
	return c.format("tags", map[string]any{
		"query":   a.Query,
		"total":   len(results),
		"results": results,
	})
}

type globalArgs struct {
	Query     string   `json:"query" jsonschema:"minLength=1,maxLength=500"`
	Types     []string `json:"types,omitempty" jsonschema:"enum=projects,enum=apis,enum=tags"`
	Limit     int      `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100"`
	ProjectID string   `json:"projectId,omitempty"`
}

func (c *catalog) globalSearch(ctx context.Context, _ *tools.Call, a globalArgs) (string, error) {
	hits, err := c.Registry.Global(ctx, a.Query, search.GlobalOptions{Types: a.Types, Limit: a.Limit, ProjectID: a.ProjectID})
	if err != nil {
		return "", err
	}
	byType := make(map[string]int)
	for _, h := range hits {
		byType[h.Type]++
	}
	return c.format("global", map[string]any{
		"query":   a.Query,
		"total":   len(hits),
		"byType":  byType,
		"results": hits,
	})
}

type vectorArgs struct {
	Query     string   `json:"query" jsonschema:"minLength=1,maxLength=500"`
	Limit     int      `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100"`
	Threshold float64  `json:"threshold,omitempty" jsonschema:"minimum=0,maximum=1"`
	Types     []string `json:"types,omitempty" jsonschema:"enum=projects,enum=apis,enum=tags"`
}

func (c *catalog) vectorSearch(ctx context.Context, _ *tools.Call, a vectorArgs) (string, error) {
	hits, err := c.Registry.VectorSearch(ctx, a.Query, search.VectorOptions{Types: a.Types, Limit: a.Limit, Threshold: a.Threshold})
	if err != nil {
		return "", err
	}
	return c.format("vector", map[string]any{
		"query":       a.Query,
		"total":       len(hits),
		"results":     hits,
		"useFallback": c.Registry.IsUsingFallback(),
	})
}

type hybridArgs struct {
	Query        string   `json:"query" jsonschema:"minLength=1,maxLength=500"`
	Types        []string `json:"types,omitempty" jsonschema:"enum=projects,enum=apis,enum=tags"`
	Limit        int      `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100"`
	VectorWeight float64  `json:"vectorWeight,omitempty" jsonschema:"minimum=0,maximum=1,default=0.6"`
	FuzzyWeight  float64  `json:"fuzzyWeight,omitempty" jsonschema:"minimum=0,maximum=1,default=0.4"`
}

func (a *hybridArgs) Defaults() {
	a.VectorWeight = 0.6
	a.FuzzyWeight = 0.4
}

func (c *catalog) hybridSearch(ctx context.Context, _ *tools.Call, a hybridArgs) (string, error) {
	hits, err := c.Registry.Hybrid(ctx, a.Query, search.HybridOptions{
		Types:        a.Types,
		Limit:        a.Limit,
		VectorWeight: a.VectorWeight,
		FuzzyWeight:  a.FuzzyWeight,
	})
	if err != nil {
		return "", err
	}
	return c.format("hybrid", map[string]any{
		"query":   a.Query,
		"weights": map[string]float64{"vector": a.VectorWeight, "fuzzy": a.FuzzyWeight},
		"total":   len(hits),
		"results": hits,
	})
}

type keywordArgs struct {
	Query string   `json:"query" jsonschema:"minLength=1,maxLength=500"`
	Types []string `json:"types,omitempty" jsonschema:"enum=projects,enum=apis,enum=tags"`
	Limit int      `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100"`
}

func (c *catalog) keywordSearch(ctx context.Context, _ *tools.Call, a keywordArgs) (string, error) {
	hits, err := c.Registry.Keyword(ctx, a.Query, a.Types, a.Limit)
	if err != nil {
		return "", err
	}
	return c.format("keyword", map[string]any{
		"query":   a.Query,
		"total":   len(hits),
		"results": hits,
	})
}

type suggestArgs struct {
	Query string   `json:"query" jsonschema:"minLength=1,maxLength=100"`
	Limit int      `json:"limit,omitempty" jsonschema:"minimum=1,maximum=20,default=5"`
	Types []string `json:"types,omitempty" jsonschema:"enum=projects,enum=apis,enum=tags"`
}

func (a *suggestArgs) Defaults() { a.Limit = 5 }

func (c *catalog) suggestions(ctx context.Context, _ *tools.Call, a suggestArgs) (string, error) {
	terms, err := c.Registry.Suggest(ctx, a.Query, a.Types, a.Limit)
	if err != nil {
		return "", err
	}
	if terms == nil {
		terms = []string{}
	}
	return c.format("suggestions", map[string]any{
		"query":       a.Query,
		"suggestions": terms,
	})
}

type projectIDArgs struct {
	ProjectID string `json:"projectId" jsonschema:"minLength=1"`
}

func (c *catalog) getProject(ctx context.Context, _ *tools.Call, a projectIDArgs) (string, error) {
	p, err := c.Registry.Projects.Get(ctx, a.ProjectID)
	if err != nil {
		return "", err
	}
	return c.format("project", map[string]any{"project": p})
}

func (c *catalog) projectStats(ctx context.Context, _ *tools.Call, _ tools.NoArgs) (string, error) {
	projects, err := c.Registry.Projects.Summary(ctx)
	if err != nil {
		return "", err
	}
	apis, err := c.Registry.APIs.Summary(ctx)
	if err != nil {
		return "", err
	}
	return c.format("project-stats", map[string]any{
		"projects": projects,
		"apis":     apis,
	})
}

type recentArgs struct {
	Limit     int      `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100"`
	Types     []string `json:"types,omitempty" jsonschema:"enum=projects,enum=apis,enum=tags"`
	Days      int      `json:"days,omitempty" jsonschema:"minimum=1,maximum=365,default=30"`
	ProjectID string   `json:"projectId,omitempty"`
}

func (a *recentArgs) Defaults() { a.Days = 30 }

func (c *catalog) recentItems(ctx context.Context, _ *tools.Call, a recentArgs) (string, error) {
	items, err := c.Registry.Recent(ctx, search.RecentOptions{Types: a.Types, Days: a.Days, Limit: a.Limit, ProjectID: a.ProjectID})
	if err != nil {
		return "", err
	}
	return c.format("recent", map[string]any{
		"days":  a.Days,
		"total": len(items),
		"items": items,
	})
}

type ragArgs struct {
	Query          string   `json:"query" jsonschema:"minLength=1,maxLength=500"`
	Method         string   `json:"method,omitempty" jsonschema:"enum=GET,enum=POST,enum=PUT,enum=PATCH,enum=DELETE,enum=HEAD,enum=OPTIONS"`
	ProjectID      string   `json:"projectId,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	IncludeRelated bool     `json:"includeRelated,omitempty"`
	Limit          int      `json:"limit,omitempty" jsonschema:"minimum=1,maximum=10"`
}

func (c *catalog) ragSearch(ctx context.Context, _ *tools.Call, a ragArgs) (string, error) {
	results, err := c.RAG.Search(ctx, rag.Query{
		Text:           a.Query,
		Method:         a.Method,
		ProjectID:      a.ProjectID,
		Tags:           a.Tags,
		IncludeRelated: a.IncludeRelated,
		Limit:          a.Limit,
	})
	if err != nil {
		return "", err
	}
	return c.format("rag", map[string]any{
		"query":   a.Query,
		"total":   len(results),
		"results": results,
		"stats":   c.RAG.Stats(),
	})
}

type recommendArgs struct {
	APIID               string  `json:"apiId" jsonschema:"minLength=1"`
	Limit               int     `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100"`
	SimilarityThreshold float64 `json:"similarityThreshold,omitempty" jsonschema:"minimum=0,maximum=1,default=0.3"`
}

func (a *recommendArgs) Defaults() {
	a.Limit = 5
	a.SimilarityThreshold = 0.3
}

func (c *catalog) recommendations(ctx context.Context, _ *tools.Call, a recommendArgs) (string, error) {
	recs, err := c.RAG.Recommend(ctx, a.APIID, a.Limit, a.SimilarityThreshold)
	if err != nil {
		return "", err
	}
	return c.format("recommendations", map[string]any{
		"apiId":           a.APIID,
		"total":           len(recs),
		"recommendations": recs,
	})
}
