package catalog

import (
	"context"

	"github.com/kalambet/devsearch/internal/apperr"
	"github.com/kalambet/devsearch/internal/tools"
)

type refreshArgs struct {
	Force bool     `json:"force,omitempty"`
	Types []string `json:"types,omitempty" jsonschema:"enum=projects,enum=apis,enum=tags"`
}

func (c *catalog) refreshIndex(ctx context.Context, _ *tools.Call, a refreshArgs) (string, error) {
	stats, err := c.Registry.Refresh(ctx, a.Force, a.Types)
	if err != nil {
		return "", err
	}
	var cleared int
	if a.Force {
		cleared = c.Tools.ClearCache("")
		if c.RAG != nil {
			c.RAG.Invalidate()
		}
	}
	return c.format("refresh", map[string]any{
		"force":          a.Force,
		"services":       stats,
		"clearedResults": cleared,
	})
}

type buildArgs struct {
	ForceRebuild bool `json:"forceRebuild,omitempty"`
	BatchSize    int  `json:"batchSize,omitempty" jsonschema:"minimum=10,maximum=1000,default=100"`
}

func (a *buildArgs) Defaults() { a.BatchSize = 100 }

func (c *catalog) buildVectorIndex(ctx context.Context, _ *tools.Call, a buildArgs) (string, error) {
	start := c.now()
	stats, err := c.Registry.BuildVectorIndex(ctx, a.ForceRebuild, a.BatchSize)
	if err != nil {
		return "", err
	}
	if a.ForceRebuild && c.RAG != nil {
		c.RAG.Invalidate()
	}
	return c.format("vector-index", map[string]any{
		"forceRebuild": a.ForceRebuild,
		"batchSize":    a.BatchSize,
		"index":        stats,
		"took":         c.now().Sub(start).String(),
	})
}

type clearCacheArgs struct {
	Tool string `json:"tool,omitempty"`
}

func (c *catalog) clearCache(_ context.Context, _ *tools.Call, a clearCacheArgs) (string, error) {
	n := c.Tools.ClearCache(a.Tool)
	scope := a.Tool
	if scope == "" {
		scope = "all"
	}
	return c.format("cache", map[string]any{
		"scope":   scope,
		"removed": n,
	})
}

type resetStatsArgs struct {
	Tool          string `json:"tool,omitempty"`
	IncludeErrors bool   `json:"includeErrors,omitempty"`
}

func (c *catalog) resetStats(_ context.Context, _ *tools.Call, a resetStatsArgs) (string, error) {
	if a.Tool != "" {
		if _, ok := c.Tools.ToolStats(a.Tool); !ok {
			return "", apperr.NotFound("tool", a.Tool)
		}
	}
	c.Tools.ResetStats(a.Tool)
	errorsReset := a.IncludeErrors && c.Errors != nil
	if errorsReset {
		c.Errors.Reset()
	}
	scope := a.Tool
	if scope == "" {
		scope = "all"
	}
	return c.format("stats-reset", map[string]any{
		"scope":       scope,
		"errorsReset": errorsReset,
	})
}

type healthArgs struct {
	IncludeDetails bool `json:"includeDetails,omitempty"`
}

func (c *catalog) healthCheck(_ context.Context, _ *tools.Call, a healthArgs) (string, error) {
	rep := Health(c.Deps)
	data := map[string]any{
		"status":    rep.Status,
		"tools":     summary(rep.Tools.Total, rep.Tools.Healthy, rep.Tools.Degraded, rep.Tools.Unhealthy, rep.Tools.Offenders),
		"services":  summary(rep.Services.Total, rep.Services.Healthy, rep.Services.Degraded, rep.Services.Unhealthy, rep.Services.Offenders),
		"index":     rep.Index,
		"cacheSize": rep.CacheSize,
	}
	if rep.RAG != nil {
		data["rag"] = rep.RAG
	}
	if rep.Errors != nil {
		data["errors"] = rep.Errors
	}
	if a.IncludeDetails {
		data["tools"] = rep.Tools
		data["services"] = rep.Services
		data["toolStats"] = c.Tools.Stats()
		data["serviceStats"] = c.Registry.ServiceStats()
	}
	return c.format("health", data)
}

func summary(total, healthy, degraded, unhealthy int, offenders []string) map[string]any {
	return map[string]any{
		"total":     total,
		"healthy":   healthy,
		"degraded":  degraded,
		"unhealthy": unhealthy,
		"offenders": offenders,
	}
}
