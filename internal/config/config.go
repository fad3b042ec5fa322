package config

import (
	"fmt"
	"time"

	"github.com/kalambet/devsearch/internal/apperr"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Ollama  OllamaConfig
	Search  SearchConfig
	RAG     RAGConfig
	Tools   ToolsConfig
	Log     LogConfig
}

type ServerConfig struct {
	HTTPPort    int
	HTTPEnabled bool
}

type StorageConfig struct {
	DataDir string
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
	AutoPull   bool
}

type SearchConfig struct {
	DefaultLimit    int
	MaxLimit        int
	FuzzyThreshold  float64
	VectorThreshold float64
	IndexTTL        time.Duration
	VectorEnabled   bool
	VectorDimension int
}

type RAGConfig struct {
	Enabled            bool
	CacheTTL           time.Duration
	RelevanceThreshold float64
}

type ToolsConfig struct {
	RateWindow         time.Duration
	DefaultRateLimit   int
	DefaultCacheTTL    time.Duration
	SweepInterval      time.Duration
	StatsResetInterval time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			HTTPPort:    3000,
			HTTPEnabled: true,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "all-minilm",
		},
		Search: SearchConfig{
			DefaultLimit:    10,
			MaxLimit:        100,
			FuzzyThreshold:  0.3,
			VectorThreshold: 0.5,
			IndexTTL:        5 * time.Minute,
			VectorEnabled:   true,
			VectorDimension: 384,
		},
		RAG: RAGConfig{
			Enabled:            true,
			CacheTTL:           10 * time.Minute,
			RelevanceThreshold: 0.6,
		},
		Tools: ToolsConfig{
			RateWindow:         time.Minute,
			DefaultRateLimit:   100,
			DefaultCacheTTL:    5 * time.Minute,
			SweepInterval:      time.Minute,
			StatsResetInterval: time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Default returns the built-in configuration without consulting any backend
// or environment. Tests and embedders start from here.
func Default() Config {
	return defaults()
}

// Load reads configuration from the platform-native backend and environment
// variables, then validates it.
//
// On macOS the backend is UserDefaults (domain: com.devsearch.app).
// Elsewhere it is a JSON file at $XDG_CONFIG_HOME/devsearch/config.json.
//
// Environment variables (DEVSEARCH_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, apperr.Config("reading config backend", err)
	}

	applyEnvOverrides(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func Validate(cfg Config) error {
	var problems []apperr.FieldIssue
	bad := func(key, format string, args ...any) {
		problems = append(problems, apperr.FieldIssue{Field: key, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Server.HTTPPort < 1 || cfg.Server.HTTPPort > 65535 {
		bad("server.http_port", "must be between 1 and 65535, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Search.DefaultLimit < 1 {
		bad("search.default_limit", "must be positive, got %d", cfg.Search.DefaultLimit)
	}
	if cfg.Search.MaxLimit < cfg.Search.DefaultLimit {
		bad("search.max_limit", "must be >= search.default_limit (%d), got %d", cfg.Search.DefaultLimit, cfg.Search.MaxLimit)
	}
	for key, v := range map[string]float64{
		"search.fuzzy_threshold":  cfg.Search.FuzzyThreshold,
		"search.vector_threshold": cfg.Search.VectorThreshold,
		"rag.relevance_threshold": cfg.RAG.RelevanceThreshold,
	} {
		if v < 0 || v > 1 {
			bad(key, "must be within [0,1], got %v", v)
		}
	}
	if cfg.Search.VectorDimension < 1 {
		bad("search.vector_dimension", "must be positive, got %d", cfg.Search.VectorDimension)
	}
	for key, d := range map[string]time.Duration{
		"search.index_ttl":           cfg.Search.IndexTTL,
		"rag.cache_ttl":              cfg.RAG.CacheTTL,
		"tools.rate_window":          cfg.Tools.RateWindow,
		"tools.default_cache_ttl":    cfg.Tools.DefaultCacheTTL,
		"tools.sweep_interval":       cfg.Tools.SweepInterval,
		"tools.stats_reset_interval": cfg.Tools.StatsResetInterval,
	} {
		if d <= 0 {
			bad(key, "must be a positive duration, got %s", d)
		}
	}
	if cfg.Tools.DefaultRateLimit < 1 || cfg.Tools.DefaultRateLimit > 10000 {
		bad("tools.default_rate_limit", "must be between 1 and 10000, got %d", cfg.Tools.DefaultRateLimit)
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		bad("log.level", "must be one of debug, info, warn, error, got %q", cfg.Log.Level)
	}

	if len(problems) == 0 {
		return nil
	}
	return apperr.Config("invalid configuration", nil).WithDetail("issues", problems)
}
