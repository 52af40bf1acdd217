package everything_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	mcp "github.com/MegaGrindStone/go-mcp-mount"
	"github.com/MegaGrindStone/go-mcp-mount/servers/everything"
)

func setupTools(t *testing.T) map[string]mcp.Tool {
	t.Helper()

	srv := everything.NewServer()
	t.Cleanup(srv.Close)

	reg := mcp.NewToolRegistry(nil)
	if err := reg.Register(srv.Tools()...); err != nil {
		t.Fatalf("failed to register tools: %v", err)
	}

	tools := make(map[string]mcp.Tool)
	for _, name := range reg.Names() {
		tool, _ := reg.Lookup(name)
		tools[name] = tool
	}
	return tools
}

func invoke(t *testing.T, ctx context.Context, tool mcp.Tool, args string) mcp.CallToolResult {
	t.Helper()

	res, err := tool.Invoke(ctx, json.RawMessage(args))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return res
}

func TestToolsRegistered(t *testing.T) {
	tools := setupTools(t)

	want := []string{
		"add", "echo", "get_tiny_image", "get_weather",
		"long_running_operation", "print_env", "request_headers",
	}
	if len(tools) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(tools))
	}
	for _, name := range want {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing tool %s", name)
		}
	}
}

func TestTextTools(t *testing.T) {
	tools := setupTools(t)

	tests := []struct {
		name    string
		tool    string
		args    string
		want    string
		isError bool
	}{
		{name: "echo", tool: "echo", args: `{"message":"hello"}`, want: "Echo: hello"},
		{name: "echo missing message", tool: "echo", args: `{}`, isError: true},
		{name: "weather", tool: "get_weather", args: `{"location":"Paris"}`, want: "Weather in Paris: sunny, 22°C"},
		{name: "weather empty location", tool: "get_weather", args: `{"location":""}`, isError: true},
		{name: "add", tool: "add", args: `{"a":1.5,"b":2}`, want: "{\n  \"sum\": 3.5\n}"},
		{name: "add wrong type", tool: "add", args: `{"a":"1","b":2}`, isError: true},
		{
			name: "short operation",
			tool: "long_running_operation",
			args: `{"duration":0.01,"steps":2}`,
			want: "Long running operation completed. Duration: 0.01 seconds, Steps: 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := invoke(t, context.Background(), tools[tt.tool], tt.args)

			if res.IsError != tt.isError {
				t.Fatalf("expected isError %v, got %v: %+v", tt.isError, res.IsError, res.Content)
			}
			if len(res.Content) != 1 {
				t.Fatalf("expected 1 content block, got %d", len(res.Content))
			}
			if !tt.isError && res.Content[0].Text != tt.want {
				t.Errorf("expected %q, got %q", tt.want, res.Content[0].Text)
			}
		})
	}
}

func TestLongRunningOperationCancelled(t *testing.T) {
	tools := setupTools(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tools["long_running_operation"].Invoke(ctx, json.RawMessage(`{"duration":10,"steps":2}`))
	if err == nil {
		t.Fatal("expected an error for a cancelled operation")
	}
	if !strings.Contains(err.Error(), "cancelled") {
		t.Errorf("expected cancellation error, got %v", err)
	}
}

func TestRequestHeaders(t *testing.T) {
	tools := setupTools(t)

	headers := http.Header{}
	headers.Set("Authorization", "Bearer abc")
	ctx := mcp.WithInvocation(context.Background(), mcp.Invocation{SessionID: "s1", Headers: headers})

	res := invoke(t, ctx, tools["request_headers"], `{}`)
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res.Content)
	}

	var got everything.RequestHeadersResult
	if err := json.Unmarshal([]byte(res.Content[0].Text), &got); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if got.SessionID != "s1" {
		t.Errorf("expected session s1, got %q", got.SessionID)
	}
	if v := got.Headers["Authorization"]; len(v) != 1 || v[0] != "Bearer abc" {
		t.Errorf("expected authorization header, got %v", v)
	}
}

func TestGetTinyImage(t *testing.T) {
	tools := setupTools(t)

	res := invoke(t, context.Background(), tools["get_tiny_image"], `{}`)
	if len(res.Content) != 2 {
		t.Fatalf("expected 2 content blocks, got %d", len(res.Content))
	}
	img := res.Content[1]
	if img.Type != mcp.ContentTypeImage || img.MimeType != "image/png" || img.Data == "" {
		t.Errorf("unexpected image content: %+v", img)
	}
}

func TestPrintEnv(t *testing.T) {
	t.Setenv("EVERYTHING_TEST_VAR", "present")
	tools := setupTools(t)

	res := invoke(t, context.Background(), tools["print_env"], `{}`)
	if !strings.Contains(res.Content[0].Text, "EVERYTHING_TEST_VAR=present") {
		t.Errorf("expected variable in output, got %q", res.Content[0].Text)
	}
}
