package tools

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/Kotoba/internal/kotoba/tools/mcp"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr    string
		want    float64
		wantErr bool
	}{
		{"1+1", 2, false},
		{"3*7", 21, false},
		{" 2 + 3 * 4 ", 14, false},
		{"(2+3)*4", 20, false},
		{"-3 + 5", 2, false},
		{"10 / 4", 2.5, false},
		{"1.5*2", 3, false},
		{"2*(3", 0, true},
		{"1/0", 0, true},
		{"2 ^ 3", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := Evaluate(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("Evaluate(%q) err = %v, wantErr %v", tt.expr, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestBuiltin(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 4, 0, 0, 0, time.UTC)
	b := NewBuiltin(NewTimeTool(func() time.Time { return fixed }), CalculateTool{})
	ctx := context.Background()

	fns, err := b.ListFunctions(ctx)
	if err != nil || len(fns) != 2 || fns[0].Name != "calculate" || fns[1].Name != "get_time" {
		t.Fatalf("ListFunctions = %v, %v", fns, err)
	}

	res := b.Call(ctx, "calculate", map[string]any{"expression": "6*7"}, 0)
	if !res.OK() || res.Data != "42" {
		t.Errorf("calculate = %+v", res)
	}

	res = b.Call(ctx, "get_time", map[string]any{"timezone": "Asia/Shanghai"}, time.Second)
	if !res.OK() || !strings.HasPrefix(res.Data, "2026-05-01 12:00:00") {
		t.Errorf("get_time = %+v", res)
	}

	res = b.Call(ctx, "calculate", map[string]any{}, 0)
	if res.Status != StatusError || !strings.Contains(res.Error, "invalid arguments") {
		t.Errorf("missing expression accepted: %+v", res)
	}

	res = b.Call(ctx, "get_time", map[string]any{"tz": "UTC"}, 0)
	if res.Status != StatusError {
		t.Errorf("unexpected property accepted: %+v", res)
	}

	res = b.Call(ctx, "launch_rocket", nil, 0)
	if res.Status != StatusError {
		t.Errorf("unknown function = %+v", res)
	}
}

type stubMCP struct {
	tools   []mcp.Tool
	listErr error
	block   bool
	result  *mcp.CallToolResult
	calls   []string
}

func (s *stubMCP) ListTools(context.Context) ([]mcp.Tool, error) { return s.tools, s.listErr }

func (s *stubMCP) CallTool(ctx context.Context, name string, _ map[string]any) (*mcp.CallToolResult, error) {
	s.calls = append(s.calls, name)
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.result, nil
}

func weatherTools() []mcp.Tool {
	return []mcp.Tool{
		{Name: "get_weather", InputSchema: json.RawMessage(`{"type":"object","properties":{"location":{"type":"string"}},"required":["location"]}`)},
		{Name: "delete_everything"},
	}
}

func TestMCPCatalog_AllowListAndValidation(t *testing.T) {
	stub := &stubMCP{
		tools:  weatherTools(),
		result: &mcp.CallToolResult{Content: []mcp.Content{{Type: "text", Text: "晴 25°C"}}},
	}
	c := NewMCPCatalog(stub, nil, nil)
	ctx := context.Background()

	fns, err := c.ListFunctions(ctx)
	if err != nil || len(fns) != 1 || fns[0].Name != "get_weather" {
		t.Fatalf("ListFunctions = %v, %v", fns, err)
	}

	if res := c.Call(ctx, "delete_everything", nil, 0); res.Status != StatusError {
		t.Errorf("disallowed call = %+v", res)
	}
	if res := c.Call(ctx, "get_weather", map[string]any{"location": 7}, 0); res.Status != StatusError {
		t.Errorf("schema violation accepted: %+v", res)
	}
	if len(stub.calls) != 0 {
		t.Fatalf("server called for rejected requests: %v", stub.calls)
	}

	res := c.Call(ctx, "get_weather", map[string]any{"location": "北京"}, 0)
	if !res.OK() || res.Data != "晴 25°C" {
		t.Errorf("get_weather = %+v", res)
	}
}

func TestMCPCatalog_ListsLazily(t *testing.T) {
	stub := &stubMCP{tools: weatherTools(), result: &mcp.CallToolResult{}}
	c := NewMCPCatalog(stub, []string{"get_weather"}, nil)
	if res := c.Call(context.Background(), "get_weather", map[string]any{"location": "Oslo"}, 0); !res.OK() {
		t.Fatalf("first call without prior listing = %+v", res)
	}
}

func TestMCPCatalog_ToolErrorAndTimeout(t *testing.T) {
	ctx := context.Background()

	stub := &stubMCP{tools: weatherTools(), result: &mcp.CallToolResult{IsError: true, Content: []mcp.Content{{Type: "text", Text: "city not found"}}}}
	c := NewMCPCatalog(stub, nil, nil)
	if res := c.Call(ctx, "get_weather", map[string]any{"location": "Atlantis"}, 0); res.Status != StatusError || res.Error != "city not found" {
		t.Errorf("tool error = %+v", res)
	}

	stub = &stubMCP{tools: weatherTools(), block: true}
	c = NewMCPCatalog(stub, nil, nil)
	if res := c.Call(ctx, "get_weather", map[string]any{"location": "x"}, 20*time.Millisecond); res.Status != StatusTimeout {
		t.Errorf("blocked call = %+v, want timeout", res)
	}
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	remote := &stubMCP{
		tools:  []mcp.Tool{{Name: "calculate"}, {Name: "get_weather"}},
		result: &mcp.CallToolResult{Content: []mcp.Content{{Type: "text", Text: "remote"}}},
	}
	ch := NewChain(NewBuiltin(CalculateTool{}), nil, NewMCPCatalog(remote, nil, nil))

	fns, err := ch.ListFunctions(ctx)
	if err != nil || len(fns) != 2 {
		t.Fatalf("ListFunctions = %v, %v", fns, err)
	}
	if res := ch.Call(ctx, "calculate", map[string]any{"expression": "1+2"}, 0); res.Data != "3" {
		t.Errorf("calculate served by %+v, want builtin", res)
	}
	if res := ch.Call(ctx, "get_weather", nil, 0); res.Data != "remote" {
		t.Errorf("get_weather = %+v", res)
	}
	if res := ch.Call(ctx, "nope", nil, 0); !strings.Contains(res.Error, ErrUnknownFunction.Error()) {
		t.Errorf("unknown = %+v", res)
	}
}

func TestChain_AllFailing(t *testing.T) {
	ch := NewChain(NewMCPCatalog(&stubMCP{listErr: errors.New("down")}, nil, nil))
	if _, err := ch.ListFunctions(context.Background()); err == nil {
		t.Fatal("expected error when every catalog fails")
	}
}
