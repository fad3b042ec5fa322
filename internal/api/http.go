package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/kalambet/devsearch/internal/apperr"
	"github.com/kalambet/devsearch/internal/catalog"
	"github.com/kalambet/devsearch/internal/health"
	"github.com/kalambet/devsearch/internal/tools"
)

const maxArgsBodySize = 1 << 20 // 1MB

// RequestIDHeader correlates a tool call with its response.
const RequestIDHeader = "X-Request-ID"

const defaultRequestTimeout = 30 * time.Second

// HTTPDeps holds dependencies for the HTTP adapter.
type HTTPDeps struct {
	Tools   *tools.Manager
	Health  func() catalog.Report
	Timeout time.Duration // per request; zero means 30s
}

// NewHTTPHandler serves the tool catalog over plain JSON:
//
//	GET  /health        combined health report
//	GET  /tools         tool listing with argument schemas
//	GET  /tools/stats   per-tool statistics
//	POST /tools/{name}  execute a tool with a JSON object of arguments
func NewHTTPHandler(deps HTTPDeps) http.Handler {
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/health", handleHealth(deps))
	r.Get("/tools", handleListTools(deps))
	r.Get("/tools/stats", handleToolStats(deps))
	r.Post("/tools/{name}", handleCallTool(deps))

	return r
}

func handleHealth(deps HTTPDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Health == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": health.Healthy})
			return
		}
		rep := deps.Health()
		code := http.StatusOK
		if rep.Status == health.Unhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, rep)
	}
}

func handleListTools(deps HTTPDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"tools": deps.Tools.List()})
	}
}

func handleToolStats(deps HTTPDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"stats": deps.Tools.Stats()})
	}
}

func handleCallTool(deps HTTPDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, reqID)

		r.Body = http.MaxBytesReader(w, r.Body, maxArgsBodySize)
		defer r.Body.Close()

		var args map[string]any
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, apperr.Validation("invalid request body: " + err.Error()))
			return
		}

		res, err := deps.Tools.Execute(r.Context(), chi.URLParam(r, "name"), args, tools.ExecuteOptions{RequestID: reqID})
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// httpError writes the public body of err with its taxonomy status.
func httpError(w http.ResponseWriter, err error) {
	body := apperr.Public(err)
	writeJSON(w, body.StatusCode, map[string]any{"error": body})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
