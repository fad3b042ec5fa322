package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/devsearch/internal/apperr"
	"github.com/kalambet/devsearch/internal/health"
	"github.com/kalambet/devsearch/internal/tools"
)

func setupHTTPHandler(t *testing.T, status health.Status) http.Handler {
	t.Helper()
	m, _ := newTestManager(t)
	return NewHTTPHandler(HTTPDeps{Tools: m, Health: testHealth(status)})
}

func doRequest(h http.Handler, method, url, body string, header map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) apperr.Body {
	t.Helper()
	var resp struct {
		Error apperr.Body `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp.Error
}

func TestHTTP_Health(t *testing.T) {
	rr := doRequest(setupHTTPHandler(t, health.Degraded), http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var resp map[string]any
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}

	rr = doRequest(setupHTTPHandler(t, health.Unhealthy), http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestHTTP_ListTools(t *testing.T) {
	rr := doRequest(setupHTTPHandler(t, health.Healthy), http.MethodGet, "/tools", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var resp struct {
		Tools []tools.Info `json:"tools"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Tools) != 2 || resp.Tools[0].Name != "echo" {
		t.Fatalf("tools = %+v", resp.Tools)
	}
	if !strings.Contains(string(resp.Tools[0].Schema), `"text"`) {
		t.Errorf("echo schema = %s, want a text property", resp.Tools[0].Schema)
	}
}

func TestHTTP_CallTool(t *testing.T) {
	h := setupHTTPHandler(t, health.Healthy)
	rr := doRequest(h, http.MethodPost, "/tools/echo", `{"text":"hi"}`, map[string]string{RequestIDHeader: "req-42"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get(RequestIDHeader); got != "req-42" {
		t.Errorf("%s = %q, want req-42", RequestIDHeader, got)
	}
	var resp struct {
		Content []tools.Content `json:"content"`
		Meta    struct {
			RequestID string `json:"requestId"`
			Cached    bool   `json:"cached"`
		} `json:"_meta"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Content) != 1 || resp.Content[0].Text != "hi" {
		t.Errorf("content = %+v", resp.Content)
	}
	if resp.Meta.RequestID != "req-42" || resp.Meta.Cached {
		t.Errorf("meta = %+v", resp.Meta)
	}
}

func TestHTTP_CallToolGeneratesRequestID(t *testing.T) {
	rr := doRequest(setupHTTPHandler(t, health.Healthy), http.MethodPost, "/tools/echo", `{"text":"hi"}`, nil)
	if rr.Header().Get(RequestIDHeader) == "" {
		t.Error("response has no request id")
	}
}

func TestHTTP_ErrorStatusFollowsTaxonomy(t *testing.T) {
	h := setupHTTPHandler(t, health.Healthy)
	cases := []struct {
		name   string
		url    string
		body   string
		status int
		code   apperr.Code
	}{
		{"invalid arguments", "/tools/echo", `{"text":""}`, http.StatusBadRequest, apperr.CodeValidation},
		{"malformed body", "/tools/echo", `{"text":`, http.StatusBadRequest, apperr.CodeValidation},
		{"unknown tool", "/tools/nope", `{}`, http.StatusNotFound, apperr.CodeNotFound},
		{"handler not found", "/tools/missing", "", http.StatusNotFound, apperr.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(h, http.MethodPost, tc.url, tc.body, nil)
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d; body = %s", rr.Code, tc.status, rr.Body.String())
			}
			body := decodeError(t, rr)
			if body.Code != tc.code || body.StatusCode != tc.status {
				t.Errorf("error = %+v, want %s/%d", body, tc.code, tc.status)
			}
		})
	}
}

func TestHTTP_RateLimited(t *testing.T) {
	m := tools.NewManager(tools.Options{})
	m.MustRegister(tools.Definition{
		Name:      "once",
		RateLimit: 1,
		Handler: func(_ context.Context, _ *tools.Call) (string, error) {
			return "ok", nil
		},
	})
	h := NewHTTPHandler(HTTPDeps{Tools: m})

	if rr := doRequest(h, http.MethodPost, "/tools/once", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("first call status = %d", rr.Code)
	}
	rr := doRequest(h, http.MethodPost, "/tools/once", "", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second call status = %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
	if body := decodeError(t, rr); body.Details["resetAt"] == nil {
		t.Errorf("rate limit error has no resetAt: %+v", body)
	}
}

func TestHTTP_ToolStats(t *testing.T) {
	h := setupHTTPHandler(t, health.Healthy)
	doRequest(h, http.MethodPost, "/tools/missing", "", nil)

	rr := doRequest(h, http.MethodGet, "/tools/stats", "", nil)
	var resp struct {
		Stats []tools.Stats `json:"stats"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, st := range resp.Stats {
		if st.Name == "missing" && st.FailedCalls != 1 {
			t.Errorf("missing failed calls = %d, want 1", st.FailedCalls)
		}
	}
}
