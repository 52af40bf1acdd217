// Package mcp serves Model Context Protocol (MCP) tools over HTTP with Server-Sent Events,
// as a handler that mounts into an existing router.
//
// A client opens GET <mount>/sse and receives an "endpoint" event naming the URL to post
// its JSON-RPC messages to, POST <mount>/message?sessionId=<id>. Responses come back as
// "message" events on the same stream. The headers of every POST travel with its message
// in the context, so tools can read them through InvocationFromContext or by being built
// with NewContextTool.
//
// Tools are plain Go functions. NewTool reflects the input schema from the function's
// argument type, validates incoming arguments against it and formats the return value
// as protocol content:
//
//	type WeatherArgs struct {
//		Location string `json:"location"`
//	}
//
//	weather := mcp.NewTool("get_weather", "Current weather", func(ctx context.Context, a WeatherArgs) (any, error) {
//		return "sunny in " + a.Location, nil
//	})
//
//	h := mcp.NewHandler(mcp.Config{BasePath: "/mcp"}, []mcp.Tool{weather})
//	defer h.Shutdown(context.Background())
//
//	r := chi.NewRouter()
//	r.Mount(h.MountPath(), h)
package mcp
