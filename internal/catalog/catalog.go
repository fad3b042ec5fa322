// Package catalog defines the tools devsearch exposes and binds them to the
// search registry, the RAG layer and the tool manager itself.
package catalog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/devsearch/internal/apperr"
	"github.com/kalambet/devsearch/internal/health"
	"github.com/kalambet/devsearch/internal/rag"
	"github.com/kalambet/devsearch/internal/search"
	"github.com/kalambet/devsearch/internal/tools"
)

// Deps are the components the tools operate on. RAG may be nil when the
// ranking layer is disabled; rag_search_apis and get_api_recommendations
// are then not registered.
type Deps struct {
	Registry *search.Registry
	RAG      *rag.Service
	Tools    *tools.Manager
	Errors   *apperr.Stats
}

type catalog struct {
	Deps
	now func() time.Time
}

// Register adds every tool to d.Tools.
func Register(d Deps) error {
	if d.Registry == nil || d.Tools == nil {
		return fmt.Errorf("catalog: registry and tool manager are required")
	}
	c := &catalog{Deps: d, now: time.Now}
	for _, def := range c.definitions() {
		if err := d.Tools.Register(def); err != nil {
			return fmt.Errorf("registering %s: %w", def.Name, err)
		}
	}
	return nil
}

func (c *catalog) definitions() []tools.Definition {
	defs := []tools.Definition{
		{
			Name:        "search_projects",
			Description: "Fuzzy search over projects by name, description, status and base URL. Archived projects are excluded unless includeArchived is set or a status is given.",
			Schema:      tools.Args[projectArgs](),
			Handler:     tools.Typed(c.searchProjects),
			Cacheable:   true,
			CacheTTL:    2 * time.Minute,
		},
		{
			Name:        "search_apis",
			Description: "Fuzzy search over API endpoints by name, path, description and method, optionally scoped to a project, method or status.",
			Schema:      tools.Args[apiArgs](),
			Handler:     tools.Typed(c.searchAPIs),
			Cacheable:   true,
			CacheTTL:    2 * time.Minute,
		},
		{
			Name:        "search_tags",
			Description: "Search tags by name. Exact and prefix matches rank above fuzzy ones.",
			Schema:      tools.Args[tagArgs](),
			Handler:     tools.Typed(c.searchTags),
			Cacheable:   true,
		},
		{
			Name:        "global_search",
			Description: "Search projects, APIs and tags at once and merge the results by score.",
			Schema:      tools.Args[globalArgs](),
			Handler:     tools.Typed(c.globalSearch),
			Cacheable:   true,
			CacheTTL:    2 * time.Minute,
		},
		{
			Name:        "vector_search",
			Description: "Semantic search over every record using the embedding model, or term-frequency vectors when no model is available.",
			Schema:      tools.Args[vectorArgs](),
			Handler:     tools.Typed(c.vectorSearch),
			Cacheable:   true,
		},
		{
			Name:        "hybrid_search",
			Description: "Combine semantic and fuzzy relevance per record as vectorWeight*semantic + fuzzyWeight*fuzzy. Each weight must lie in [0,1]; they need not sum to 1.",
			Schema:      tools.Args[hybridArgs](),
			Handler:     tools.Typed(c.hybridSearch),
			Cacheable:   true,
		},
		{
			Name:        "keyword_search",
			Description: "BM25 keyword search over every record.",
			Schema:      tools.Args[keywordArgs](),
			Handler:     tools.Typed(c.keywordSearch),
			Cacheable:   true,
		},
		{
			Name:        "search_suggestions",
			Description: "Suggest completion terms drawn from records matching a partial query.",
			Schema:      tools.Args[suggestArgs](),
			Handler:     tools.Typed(c.suggestions),
			Cacheable:   true,
			CacheTTL:    10 * time.Minute,
		},
		{
			Name:        "get_project",
			Description: "Fetch one project by id.",
			Schema:      tools.Args[projectIDArgs](),
			Handler:     tools.Typed(c.getProject),
			Cacheable:   true,
		},
		{
			Name:        "get_project_stats",
			Description: "Summarise projects and API endpoints by status and method.",
			Schema:      tools.Args[tools.NoArgs](),
			Handler:     tools.Typed(c.projectStats),
			Cacheable:   true,
		},
		{
			Name:        "get_recent_items",
			Description: "List records created or updated within the last days, newest first.",
			Schema:      tools.Args[recentArgs](),
			Handler:     tools.Typed(c.recentItems),
			Cacheable:   true,
		},
		{
			Name:        "refresh_search_index",
			Description: "Rebuild the fuzzy indexes of the given types, or those that are stale. A forced refresh also clears cached tool results.",
			Schema:      tools.Args[refreshArgs](),
			Handler:     tools.Typed(c.refreshIndex),
			RateLimit:   10,
		},
		{
			Name:        "build_vector_index",
			Description: "Encode every record into the semantic and keyword indexes.",
			Schema:      tools.Args[buildArgs](),
			Handler:     tools.Typed(c.buildVectorIndex),
			RateLimit:   5,
		},
		{
			Name:        "clear_cache",
			Description: "Drop cached tool results, for one tool or all of them.",
			Schema:      tools.Args[clearCacheArgs](),
			Handler:     tools.Typed(c.clearCache),
			RateLimit:   10,
		},
		{
			Name:        "reset_stats",
			Description: "Zero the call statistics of one tool, or of every tool, and optionally the error statistics.",
			Schema:      tools.Args[resetStatsArgs](),
			Handler:     tools.Typed(c.resetStats),
			RateLimit:   10,
		},
		{
			Name:        "health_check",
			Description: "Report tool, search service and index health.",
			Schema:      tools.Args[healthArgs](),
			Handler:     tools.Typed(c.healthCheck),
		},
	}
	if c.RAG != nil {
		defs = append(defs,
			tools.Definition{
				Name:        "rag_search_apis",
				Description: "Rank API endpoints by semantic, keyword and request-context relevance, with an explanation per result.",
				Schema:      tools.Args[ragArgs](),
				Handler:     tools.Typed(c.ragSearch),
				Cacheable:   true,
			},
			tools.Definition{
				Name:        "get_api_recommendations",
				Description: "Recommend endpoints of the same project that relate to the given one by path shape or tags.",
				Schema:      tools.Args[recommendArgs](),
				Handler:     tools.Typed(c.recommendations),
				Cacheable:   true,
			},
		)
	}
	return defs
}

// format renders data as the indented JSON document every tool returns,
// stamped with its kind and the time it was produced.
func (c *catalog) format(kind string, data map[string]any) (string, error) {
	out := make(map[string]any, len(data)+2)
	for k, v := range data {
		out[k] = v
	}
	out["type"] = kind
	out["timestamp"] = c.now().UTC().Format(time.RFC3339Nano)
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", apperr.Internal("encoding tool output", err)
	}
	return string(b), nil
}

// Report is the combined health view served by health_check and the HTTP
// health endpoint.
type Report struct {
	Status    health.Status         `json:"status"`
	Tools     health.Report         `json:"tools"`
	Services  health.Report         `json:"services"`
	Index     search.IndexStats     `json:"index"`
	RAG       *rag.Stats            `json:"rag,omitempty"`
	Errors    *apperr.StatsSnapshot `json:"errors,omitempty"`
	CacheSize int                   `json:"cacheSize"`
	Timestamp time.Time             `json:"timestamp"`
}

// Health assembles the combined report. The overall status is the worse of
// the tool and service statuses.
func Health(d Deps) Report {
	r := Report{
		Tools:     d.Tools.Health(),
		Services:  d.Registry.Health(),
		Index:     d.Registry.IndexStats(),
		CacheSize: d.Tools.CacheSize(),
		Timestamp: time.Now().UTC(),
	}
	r.Status = health.Worse(r.Tools.Status, r.Services.Status)
	if d.RAG != nil {
		st := d.RAG.Stats()
		r.RAG = &st
	}
	if d.Errors != nil {
		snap := d.Errors.Snapshot()
		r.Errors = &snap
	}
	return r
}
