package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/devsearch/internal/catalog"
	"github.com/kalambet/devsearch/internal/config"
	"github.com/kalambet/devsearch/internal/engine"
	"github.com/kalambet/devsearch/internal/health"
	"github.com/kalambet/devsearch/internal/storage"
	"github.com/kalambet/devsearch/internal/tools"
)

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show devsearch system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	if cfg.Server.HTTPEnabled {
		client := &apiClient{
			baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.HTTPPort),
			httpClient: &http.Client{Timeout: 2 * time.Second},
		}
		if rep, err := client.health(ctx); err != nil {
			printStatus("Server", "stopped")
		} else {
			printStatus("Server", "running on port %d (%s)", cfg.Server.HTTPPort, colorStatus(rep.Status))
			printIndex(rep)
		}
	} else {
		printStatus("Server", "HTTP disabled")
	}

	printStatus("Ollama", "%s", ollamaStatus(ctx, cfg.Ollama.BaseURL))
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func ollamaStatus(ctx context.Context, baseURL string) string {
	eng, err := engine.Detect(engine.DetectConfig{OllamaBaseURL: baseURL})
	if err != nil {
		return fmt.Sprintf("misconfigured: %v", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if !eng.IsRunning(ctx) {
		return "not running"
	}
	return "running at " + baseURL
}

func printIndex(rep catalog.Report) {
	sem := rep.Index.Semantic
	backend := sem.Backend
	if sem.UseFallback {
		backend += " (fallback)"
	}
	printStatus("Semantic index", "%s documents, %s, built %s", count(sem.DocumentCount), backend, ago(sem.BuiltAt))
	printStatus("Keyword index", "%s documents", count(int(rep.Index.KeywordDocuments)))
	printStatus("Cached results", "%s", count(rep.CacheSize))
	if rep.Errors != nil {
		printStatus("Errors", "%s since last reset (%s), up %s", count(rep.Errors.TotalErrors), ago(rep.Errors.LastReset), rep.Errors.Uptime.Round(time.Second))
	}
}

// --- health ---

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show tool and search service health",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient(5 * time.Second)
		if err != nil {
			return err
		}
		rep, err := client.health(cmd.Context())
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}

		fmt.Printf("%s %s\n", colorize(colorBold, "Status:"), colorStatus(rep.Status))
		for _, part := range []struct {
			label string
			r     health.Report
		}{
			{"Tools", rep.Tools},
			{"Services", rep.Services},
		} {
			fmt.Printf("  %-9s %s  (%d healthy, %d degraded, %d unhealthy)\n",
				part.label, colorStatus(part.r.Status), part.r.Healthy, part.r.Degraded, part.r.Unhealthy)
			for _, name := range part.r.Offenders {
				fmt.Printf("    %s %s\n", colorize(colorRed, "•"), name)
			}
		}
		if rep.RAG != nil {
			fmt.Printf("  %-9s %s endpoints in %s projects, stale=%t\n", "RAG", count(rep.RAG.APIs), count(rep.RAG.Projects), rep.RAG.Stale)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().Bool("json", false, "print the full report as JSON")
}

// --- tools ---

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the server exposes",
	RunE: func(cmd *cobra.Command, args []string) error {
		withStats, _ := cmd.Flags().GetBool("stats")

		client, err := newAPIClient(5 * time.Second)
		if err != nil {
			return err
		}

		if withStats {
			resp, err := client.get(cmd.Context(), "/tools/stats")
			if err != nil {
				return err
			}
			var out struct {
				Stats []tools.Stats `json:"stats"`
			}
			if err := decodeJSON(resp, &out); err != nil {
				return err
			}
			for _, st := range out.Stats {
				fmt.Println(formatToolStats(st))
			}
			return nil
		}

		resp, err := client.get(cmd.Context(), "/tools")
		if err != nil {
			return err
		}
		var out struct {
			Tools []tools.Info `json:"tools"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		for _, info := range out.Tools {
			fmt.Printf("%s\n  %s\n", colorize(colorCyan, info.Name), info.Description)
		}
		return nil
	},
}

func init() {
	toolsCmd.Flags().Bool("stats", false, "show call statistics instead of descriptions")
}

func formatToolStats(st tools.Stats) string {
	line := fmt.Sprintf("%-24s %s calls, %s failed, avg %s, last %s",
		st.Name, count(int(st.TotalCalls)), count(int(st.FailedCalls)), millis(st.AverageExecutionTime), ago(st.LastCalled))
	if st.LastError != nil {
		line += fmt.Sprintf("\n  last error: %s (%s)", st.LastError.Message, ago(st.LastError.Time))
	}
	return line
}

// --- call ---

var callCmd = &cobra.Command{
	Use:   "call <tool> [key=value ...]",
	Short: "Execute a tool on the running server",
	Long: `Execute a tool on the running server and print its output.

Arguments are given as key=value pairs or as a JSON object with --args.
Values are sent as strings and coerced by the tool's argument schema.

Examples:
  devsearch call search_apis query=users method=GET
  devsearch call global_search --args '{"query":"auth","types":["apis","tags"]}'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawArgs, _ := cmd.Flags().GetString("args")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		reqID, _ := cmd.Flags().GetString("request-id")

		toolArgs, err := parseToolArgs(rawArgs, args[1:])
		if err != nil {
			return err
		}

		client, err := newAPIClient(timeout)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), client.httpClient.Timeout)
		defer cancel()

		res, err := client.callTool(ctx, args[0], toolArgs, reqID)
		if err != nil {
			return err
		}
		fmt.Println(res.Text())
		printMeta(res.Meta)
		return nil
	},
}

func init() {
	callCmd.Flags().String("args", "", "tool arguments as a JSON object")
	callCmd.Flags().Duration("timeout", defaultCallTimeout, "give up after this long")
	callCmd.Flags().String("request-id", "", "request id to send (generated when empty)")
}

// parseToolArgs merges a JSON object with key=value pairs; pairs win.
// A key given more than once becomes a list.
func parseToolArgs(rawJSON string, pairs []string) (map[string]any, error) {
	out := map[string]any{}
	if rawJSON != "" {
		if err := json.Unmarshal([]byte(rawJSON), &out); err != nil {
			return nil, fmt.Errorf("--args must be a JSON object: %w", err)
		}
	}
	seen := map[string]bool{}
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q is not key=value", p)
		}
		if !seen[key] {
			seen[key] = true
			out[key] = value
			continue
		}
		switch prev := out[key].(type) {
		case []any:
			out[key] = append(prev, value)
		default:
			out[key] = []any{prev, value}
		}
	}
	return out, nil
}

func printMeta(m tools.Meta) {
	cached := ""
	if m.Cached {
		cached = ", cached"
	}
	fmt.Fprintln(os.Stderr, colorize(colorCyan, fmt.Sprintf("request %s: %s bytes in %s%s",
		m.RequestID, count(m.ResultSize), millis(m.ExecutionTime), cached)))
}

// --- seed ---

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Load projects, API endpoints and tags from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		printStep("Loading %s", args[0])
		res, err := seedFromFile(cmd.Context(), store, args[0])
		if err != nil {
			return err
		}
		printSuccess("Loaded %s projects, %s endpoints, %s tags", count(res.Projects), count(res.APIs), count(res.Tags))
		if cfg.Server.HTTPEnabled {
			printWarning("a running server picks the changes up after search.index_ttl or refresh_search_index with force=true")
		}
		return nil
	},
}

func seedFromFile(ctx context.Context, store *storage.Store, path string) (storage.SeedResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return storage.SeedResult{}, fmt.Errorf("opening seed file: %w", err)
	}
	defer f.Close()

	seed, err := storage.ParseSeed(f)
	if err != nil {
		return storage.SeedResult{}, err
	}
	return store.Seed(ctx, seed)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
