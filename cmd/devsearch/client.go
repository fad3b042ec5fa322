package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/devsearch/internal/api"
	"github.com/kalambet/devsearch/internal/apperr"
	"github.com/kalambet/devsearch/internal/catalog"
	"github.com/kalambet/devsearch/internal/config"
	"github.com/kalambet/devsearch/internal/tools"
)

const defaultCallTimeout = 30 * time.Second

type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

var newAPIClient = func(timeout time.Duration) (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Server.HTTPEnabled {
		return nil, fmt.Errorf("the HTTP API is disabled (server.http_enabled=false)")
	}
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.HTTPPort),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, header http.Header) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is devsearch serve running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

// callTool executes a tool on the server. The request id is sent with the
// call and must come back on the response; an empty id is generated.
func (c *apiClient) callTool(ctx context.Context, name string, args map[string]any, reqID string) (*tools.Result, error) {
	if reqID == "" {
		reqID = uuid.NewString()
	}
	if args == nil {
		args = map[string]any{}
	}
	header := http.Header{}
	header.Set(api.RequestIDHeader, reqID)

	resp, err := c.do(ctx, http.MethodPost, "/tools/"+name, args, header)
	if err != nil {
		return nil, err
	}
	if got := resp.Header.Get(api.RequestIDHeader); got != reqID {
		resp.Body.Close()
		return nil, fmt.Errorf("response belongs to request %q, want %q", got, reqID)
	}

	var res tools.Result
	if err := decodeJSON(resp, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// health fetches the server's health report. An unhealthy server answers
// 503 with the report as body, which is not an error here.
func (c *apiClient) health(ctx context.Context) (catalog.Report, error) {
	var rep catalog.Report
	resp, err := c.get(ctx, "/health")
	if err != nil {
		return rep, err
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		defer resp.Body.Close()
		return rep, json.NewDecoder(resp.Body).Decode(&rep)
	}
	return rep, decodeJSON(resp, &rep)
}

// decodeJSON decodes a successful response into v. Error responses are
// turned back into *apperr.Error when they carry the public error body.
func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		var wrapped struct {
			Error *apperr.Body `json:"error"`
		}
		if json.Unmarshal(body, &wrapped) == nil && wrapped.Error != nil && wrapped.Error.Code != "" {
			return &apperr.Error{
				Code:    wrapped.Error.Code,
				Message: wrapped.Error.Message,
				Status:  resp.StatusCode,
				Details: wrapped.Error.Details,
			}
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
