package mcp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	mcp "github.com/MegaGrindStone/go-mcp-mount"
	"github.com/go-chi/chi/v5"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type locationArgs struct {
	Location string `json:"location" jsonschema:"minLength=1"`
}

func testTools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool("get_weather", "Returns the weather for a location",
			func(_ context.Context, args locationArgs) (any, error) {
				return fmt.Sprintf("Weather in %s: sunny, 22°C", args.Location), nil
			}),
		mcp.NewContextTool("whoami", "Reports the caller's authorization header",
			func(_ context.Context, _ struct{}, inv mcp.Invocation) (any, error) {
				auth := inv.Header("Authorization")
				if auth == "" {
					return nil, fmt.Errorf("unauthorized: missing authorization header")
				}
				return auth, nil
			}),
	}
}

func newTestHandler(t *testing.T, cfg mcp.Config, options ...mcp.HandlerOption) *mcp.Handler {
	t.Helper()

	h := mcp.NewHandler(cfg, testTools(), options...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), streamTimeout)
		defer cancel()
		assert.NoError(t, h.Shutdown(ctx))
	})
	return h
}

// serveOnChi mounts h on a chi router the way an application would.
func serveOnChi(t *testing.T, h *mcp.Handler) *httptest.Server {
	t.Helper()

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mount := h.MountPath()
	if mount == "" {
		mount = "/"
	}
	r.Mount(mount, h)

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func TestHandlerToolCalls(t *testing.T) {
	h := newTestHandler(t, mcp.Config{BasePath: "/mcp", Name: "weather", Version: "2.0.0"})
	ts := serveOnChi(t, h)

	stream := openStream(t, h.SSEURL(ts.URL), nil)

	u, err := url.Parse(stream.endpoint)
	require.NoError(t, err)
	assert.Equal(t, "/mcp/message", u.Path)

	t.Run("initialize", func(t *testing.T) {
		msg := stream.call("init", "initialize", map[string]any{
			"protocolVersion": mcp.FallbackProtocolVersion,
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "test-client", "version": "1.0"},
		}, nil)

		res := decodeResult[map[string]any](t, msg)
		assert.Equal(t, mcp.FallbackProtocolVersion, res["protocolVersion"])
		assert.Equal(t, map[string]any{"name": "weather", "version": "2.0.0"}, res["serverInfo"])
		assert.Contains(t, res["capabilities"], "tools")
	})

	t.Run("list tools", func(t *testing.T) {
		msg := stream.call("list", mcp.MethodToolsList, mcp.ListToolsParams{}, nil)

		res := decodeResult[mcp.ListToolsResult](t, msg)
		require.Len(t, res.Tools, 2)
		assert.Equal(t, "get_weather", res.Tools[0].Name)
		assert.Equal(t, "whoami", res.Tools[1].Name)
	})

	t.Run("call tool", func(t *testing.T) {
		msg := stream.call("weather", mcp.MethodToolsCall, mcp.CallToolParams{
			Name:      "get_weather",
			Arguments: json.RawMessage(`{"location":"Paris"}`),
		}, nil)

		res := decodeResult[mcp.CallToolResult](t, msg)
		assert.False(t, res.IsError)
		require.Len(t, res.Content, 1)
		assert.Equal(t, mcp.ContentTypeText, res.Content[0].Type)
		assert.Equal(t, "Weather in Paris: sunny, 22°C", res.Content[0].Text)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		msg := stream.call("bad-args", mcp.MethodToolsCall, mcp.CallToolParams{
			Name:      "get_weather",
			Arguments: json.RawMessage(`{"location":""}`),
		}, nil)

		res := decodeResult[mcp.CallToolResult](t, msg)
		assert.True(t, res.IsError)
		require.Len(t, res.Content, 1)
		assert.Contains(t, res.Content[0].Text, "location")
	})

	t.Run("unknown tool", func(t *testing.T) {
		msg := stream.call("ghost", mcp.MethodToolsCall, mcp.CallToolParams{Name: "ghost_tool"}, nil)

		res := decodeResult[mcp.CallToolResult](t, msg)
		assert.True(t, res.IsError)
		require.Len(t, res.Content, 1)
		assert.Contains(t, res.Content[0].Text, "ghost_tool")
	})

	t.Run("unauthorized", func(t *testing.T) {
		msg := stream.call("anon", mcp.MethodToolsCall, mcp.CallToolParams{Name: "whoami"}, nil)

		res := decodeResult[mcp.CallToolResult](t, msg)
		assert.True(t, res.IsError)
		assert.Contains(t, res.Content[0].Text, "unauthorized")
	})

	t.Run("sessions", func(t *testing.T) {
		assert.Equal(t, []string{u.Query().Get("sessionId")}, h.Sessions())
	})
}

func TestHandlerHeaderIsolation(t *testing.T) {
	h := newTestHandler(t, mcp.Config{})
	ts := serveOnChi(t, h)

	var wg conc.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Go(func() {
			stream := openStream(t, h.SSEURL(ts.URL), nil)

			for j := 0; j < 3; j++ {
				token := fmt.Sprintf("Bearer client-%d-call-%d", i, j)
				header := http.Header{}
				header.Set("Authorization", token)

				msg := stream.call(fmt.Sprintf("%d-%d", i, j), mcp.MethodToolsCall,
					mcp.CallToolParams{Name: "whoami"}, header)

				res := decodeResult[mcp.CallToolResult](t, msg)
				if assert.Len(t, res.Content, 1) {
					assert.Equal(t, token, res.Content[0].Text)
				}
			}
		})
	}
	wg.Wait()
}

func TestHandlerMounting(t *testing.T) {
	t.Run("servemux with full path", func(t *testing.T) {
		h := newTestHandler(t, mcp.Config{BasePath: "api/mcp/"})
		require.Equal(t, "/api/mcp", h.MountPath())

		mux := http.NewServeMux()
		mux.Handle("/api/mcp/", h)
		ts := httptest.NewServer(mux)
		t.Cleanup(ts.Close)

		stream := openStream(t, ts.URL+"/api/mcp/sse", nil)
		assert.True(t, strings.HasSuffix(strings.SplitN(stream.endpoint, "?", 2)[0], "/api/mcp/message"))

		msg := stream.call("1", "ping", nil, nil)
		assert.Nil(t, msg.Error)
	})

	t.Run("nested chi mount", func(t *testing.T) {
		h := newTestHandler(t, mcp.Config{BasePath: "/mcp"})

		r := chi.NewRouter()
		r.Route("/api", func(r chi.Router) {
			r.Mount("/mcp", h)
		})
		ts := httptest.NewServer(r)
		t.Cleanup(ts.Close)

		stream := openStream(t, ts.URL+"/api/mcp/sse", nil)
		u, err := url.Parse(stream.endpoint)
		require.NoError(t, err)
		assert.Equal(t, "/api/mcp/message", u.Path)

		msg := stream.call("1", mcp.MethodToolsCall, mcp.CallToolParams{
			Name:      "get_weather",
			Arguments: json.RawMessage(`{"location":"Oslo"}`),
		}, nil)
		res := decodeResult[mcp.CallToolResult](t, msg)
		require.Len(t, res.Content, 1)
		assert.Equal(t, "Weather in Oslo: sunny, 22°C", res.Content[0].Text)
	})

	t.Run("root mount", func(t *testing.T) {
		h := newTestHandler(t, mcp.Config{BasePath: "/"})
		require.Equal(t, "", h.MountPath())
		ts := serveOnChi(t, h)

		stream := openStream(t, ts.URL+"/sse", nil)
		u, err := url.Parse(stream.endpoint)
		require.NoError(t, err)
		assert.Equal(t, "/message", u.Path)
	})

	t.Run("middleware", func(t *testing.T) {
		h := newTestHandler(t, mcp.Config{BasePath: "/mcp"})

		fallback := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})
		ts := httptest.NewServer(h.Middleware(fallback))
		t.Cleanup(ts.Close)

		resp, err := http.Get(ts.URL + "/other")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusTeapot, resp.StatusCode)

		stream := openStream(t, ts.URL+"/mcp/sse", nil)
		msg := stream.call("1", "ping", nil, nil)
		assert.Nil(t, msg.Error)
	})

	t.Run("wrong method", func(t *testing.T) {
		h := newTestHandler(t, mcp.Config{})
		ts := serveOnChi(t, h)

		resp, err := http.Post(ts.URL+"/mcp/sse", "application/json", strings.NewReader("{}"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

		resp, err = http.Get(ts.URL + "/health")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestHandlerMetadata(t *testing.T) {
	h := newTestHandler(t, mcp.Config{
		BasePath:          "/tools/",
		Name:              "weather",
		Debug:             true,
		KeepAliveInterval: time.Minute,
	})

	assert.Equal(t, "/tools", h.MountPath())
	assert.Equal(t, "http://localhost:3000/tools/sse", h.SSEURL("http://localhost:3000/"))

	meta := h.Metadata()
	assert.Equal(t, "/tools", meta.MountPath)
	assert.Equal(t, mcp.DefaultStreamPath, meta.StreamPath)
	assert.Equal(t, mcp.DefaultMessagePath, meta.MessagePath)
	assert.True(t, meta.Debug)
	assert.Equal(t, "weather", meta.Name)
	assert.Equal(t, mcp.DefaultVersion, meta.Version)
	assert.Equal(t, []mcp.ToolSummary{
		{Name: "get_weather", Description: "Returns the weather for a location"},
		{Name: "whoami", Description: "Reports the caller's authorization header"},
	}, meta.Tools)

	assert.Empty(t, h.Sessions())
}

func TestHandlerSkipsInvalidTools(t *testing.T) {
	broken := brokenTool{def: mcp.ToolDefinition{Name: "", InputSchema: json.RawMessage(`{"type":"object"}`)}}

	h := mcp.NewHandler(mcp.Config{}, append(testTools(), broken))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), streamTimeout)
		defer cancel()
		assert.NoError(t, h.Shutdown(ctx))
	})

	assert.Len(t, h.Tools(), 2)
}

func TestHandlerSessionIDGenerator(t *testing.T) {
	h := newTestHandler(t, mcp.Config{}, mcp.WithHandlerSessionIDGenerator(func() string { return "fixed-id" }))
	ts := serveOnChi(t, h)

	stream := openStream(t, h.SSEURL(ts.URL), nil)
	assert.True(t, strings.HasSuffix(stream.endpoint, "?sessionId=fixed-id"))

	// A second stream cannot reuse a registered ID.
	resp, err := http.Get(h.SSEURL(ts.URL))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
