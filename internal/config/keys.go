package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cast"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.http_port", typ: kInt, env: "DEVSEARCH_SERVER_HTTP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.HTTPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.HTTPPort },
	},
	{
		key: "server.http_enabled", typ: kBool, env: "DEVSEARCH_SERVER_HTTP_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Server.HTTPEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.HTTPEnabled },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DEVSEARCH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "ollama.base_url", typ: kString, env: "DEVSEARCH_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "DEVSEARCH_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.auto_pull", typ: kBool, env: "DEVSEARCH_OLLAMA_AUTO_PULL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.AutoPull = v.(bool) },
		extract: func(cfg Config) any { return cfg.Ollama.AutoPull },
	},
	{
		key: "search.default_limit", typ: kInt, env: "DEVSEARCH_SEARCH_DEFAULT_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Search.DefaultLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.DefaultLimit },
	},
	{
		key: "search.max_limit", typ: kInt, env: "DEVSEARCH_SEARCH_MAX_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Search.MaxLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.MaxLimit },
	},
	{
		key: "search.fuzzy_threshold", typ: kFloat, env: "DEVSEARCH_SEARCH_FUZZY_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Search.FuzzyThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Search.FuzzyThreshold },
	},
	{
		key: "search.vector_threshold", typ: kFloat, env: "DEVSEARCH_SEARCH_VECTOR_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Search.VectorThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Search.VectorThreshold },
	},
	{
		key: "search.index_ttl", typ: kDuration, env: "DEVSEARCH_SEARCH_INDEX_TTL",
		apply:   func(cfg *Config, v any) { cfg.Search.IndexTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Search.IndexTTL },
	},
	{
		key: "search.vector_enabled", typ: kBool, env: "DEVSEARCH_SEARCH_VECTOR_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Search.VectorEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Search.VectorEnabled },
	},
	{
		key: "search.vector_dimension", typ: kInt, env: "DEVSEARCH_SEARCH_VECTOR_DIMENSION",
		apply:   func(cfg *Config, v any) { cfg.Search.VectorDimension = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.VectorDimension },
	},
	{
		key: "rag.enabled", typ: kBool, env: "DEVSEARCH_RAG_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.RAG.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.RAG.Enabled },
	},
	{
		key: "rag.cache_ttl", typ: kDuration, env: "DEVSEARCH_RAG_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.RAG.CacheTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.RAG.CacheTTL },
	},
	{
		key: "rag.relevance_threshold", typ: kFloat, env: "DEVSEARCH_RAG_RELEVANCE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.RAG.RelevanceThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.RAG.RelevanceThreshold },
	},
	{
		key: "tools.rate_window", typ: kDuration, env: "DEVSEARCH_TOOLS_RATE_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Tools.RateWindow = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Tools.RateWindow },
	},
	{
		key: "tools.default_rate_limit", typ: kInt, env: "DEVSEARCH_TOOLS_DEFAULT_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Tools.DefaultRateLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Tools.DefaultRateLimit },
	},
	{
		key: "tools.default_cache_ttl", typ: kDuration, env: "DEVSEARCH_TOOLS_DEFAULT_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Tools.DefaultCacheTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Tools.DefaultCacheTTL },
	},
	{
		key: "tools.sweep_interval", typ: kDuration, env: "DEVSEARCH_TOOLS_SWEEP_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Tools.SweepInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Tools.SweepInterval },
	},
	{
		key: "tools.stats_reset_interval", typ: kDuration, env: "DEVSEARCH_TOOLS_STATS_RESET_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Tools.StatsResetInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Tools.StatsResetInterval },
	},
	{
		key: "log.level", typ: kString, env: "DEVSEARCH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parseValue converts raw text into the Go type of the key.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return cast.ToIntE(raw)
	case kBool:
		return cast.ToBoolE(raw)
	case kFloat:
		return cast.ToFloat64E(raw)
	case kDuration:
		return cast.ToDurationE(raw)
	}
	return raw, nil
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			parsed, err := parseValue(s.typ, v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, v, err)
				continue
			}
			s.apply(cfg, parsed)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
