package api

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/devsearch/internal/apperr"
	"github.com/kalambet/devsearch/internal/catalog"
	"github.com/kalambet/devsearch/internal/health"
	"github.com/kalambet/devsearch/internal/tools"
)

type echoArgs struct {
	Text string `json:"text" jsonschema:"minLength=1"`
}

// newTestManager registers two tools: echo, which is cacheable and counts
// its runs, and missing, which always fails with a not-found error.
func newTestManager(t *testing.T) (*tools.Manager, *atomic.Int32) {
	t.Helper()
	runs := &atomic.Int32{}
	m := tools.NewManager(tools.Options{})
	m.MustRegister(
		tools.Definition{
			Name:        "echo",
			Description: "Echo the text back.",
			Schema:      tools.Args[echoArgs](),
			Handler: tools.Typed(func(_ context.Context, _ *tools.Call, a echoArgs) (string, error) {
				runs.Add(1)
				return a.Text, nil
			}),
			Cacheable: true,
		},
		tools.Definition{
			Name:        "missing",
			Description: "Always fails.",
			Handler: func(context.Context, *tools.Call) (string, error) {
				return "", apperr.NotFound("project", "p9")
			},
		},
	)
	return m, runs
}

func testHealth(status health.Status) func() catalog.Report {
	return func() catalog.Report {
		return catalog.Report{Status: status, Tools: health.Report{Status: status}}
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func TestMCPServer_ListsRegisteredTools(t *testing.T) {
	m, _ := newTestManager(t)
	s := NewMCPServer(MCPDeps{Tools: m, Health: testHealth(health.Healthy), Version: "test"})

	resp := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	out := string(b)
	for _, want := range []string{`"name":"echo"`, `"name":"missing"`, `"minLength":1`} {
		if !strings.Contains(out, want) {
			t.Errorf("tools/list response missing %s: %s", want, out)
		}
	}
}

func TestMCPTool_Success(t *testing.T) {
	m, runs := newTestManager(t)
	handler := mcpTool(m, "echo")

	result, err := handler(context.Background(), makeCallToolRequest("echo", map[string]any{"text": "hello"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "hello" {
		t.Errorf("text = %q, want %q", got, "hello")
	}
	if result.Meta == nil || result.Meta.AdditionalFields["requestId"] == "" {
		t.Fatalf("meta = %+v, want a request id", result.Meta)
	}
	if result.Meta.AdditionalFields["cached"] != false {
		t.Errorf("first call reported cached")
	}

	result, _ = handler(context.Background(), makeCallToolRequest("echo", map[string]any{"text": "hello"}))
	if result.Meta.AdditionalFields["cached"] != true {
		t.Errorf("second call was not served from cache")
	}
	if runs.Load() != 1 {
		t.Errorf("handler ran %d times, want 1", runs.Load())
	}
}

func TestMCPTool_ValidationErrorInBand(t *testing.T) {
	m, runs := newTestManager(t)
	handler := mcpTool(m, "echo")

	result, err := handler(context.Background(), makeCallToolRequest("echo", map[string]any{"text": ""}))
	if err != nil {
		t.Fatalf("errors must be reported in the result, got %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result")
	}
	var body struct {
		Error apperr.Body `json:"error"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &body); err != nil {
		t.Fatalf("error text is not JSON: %v", err)
	}
	if body.Error.Code != apperr.CodeValidation || body.Error.StatusCode != 400 {
		t.Errorf("error = %+v, want validation/400", body.Error)
	}
	if runs.Load() != 0 {
		t.Error("handler ran despite invalid arguments")
	}
}

func TestMCPTool_NotFound(t *testing.T) {
	m, _ := newTestManager(t)
	result, _ := mcpTool(m, "missing")(context.Background(), makeCallToolRequest("missing", nil))
	if !result.IsError || !strings.Contains(toolText(t, result), string(apperr.CodeNotFound)) {
		t.Errorf("result = %s, want a not-found error", toolText(t, result))
	}
	if result.Meta == nil || result.Meta.AdditionalFields["requestId"] == "" {
		t.Error("error result lost its request id")
	}
}

func TestMCPResource_Health(t *testing.T) {
	m, _ := newTestManager(t)
	deps := MCPDeps{Tools: m, Health: testHealth(health.Degraded)}

	contents, err := mcpResourceHealth(deps)(context.Background(), makeReadResourceRequest("devsearch://health"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var rep catalog.Report
	if err := json.Unmarshal([]byte(tc.Text), &rep); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rep.Status != health.Degraded {
		t.Errorf("status = %s, want degraded", rep.Status)
	}
}

func TestMCPResource_ToolStats(t *testing.T) {
	m, _ := newTestManager(t)
	mcpTool(m, "echo")(context.Background(), makeCallToolRequest("echo", map[string]any{"text": "x"}))

	contents, err := mcpResourceToolStats(MCPDeps{Tools: m})(context.Background(), makeReadResourceRequest("devsearch://tools/stats"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc := contents[0].(mcp.TextResourceContents)
	var stats []tools.Stats
	if err := json.Unmarshal([]byte(tc.Text), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got stats for %d tools, want 2", len(stats))
	}
	if stats[0].Name != "echo" || stats[0].TotalCalls != 1 || stats[1].TotalCalls != 0 {
		t.Errorf("stats = %+v, want one echo call", stats)
	}
}
