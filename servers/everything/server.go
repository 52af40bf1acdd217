package everything

import (
	"sync"

	mcp "github.com/MegaGrindStone/go-mcp-mount"
)

// Server is a demonstration tool set that exercises every kind of tool the mcp package
// supports: plain string tools, tools with an output schema, tools reading the request's
// headers, cancellable long-running tools and tools returning raw protocol content.
//
// While not intended for production use, it serves as both a reference and a test
// fixture for MCP clients.
type Server struct {
	done      chan struct{}
	closeOnce sync.Once
}

// NewServer creates a new demonstration tool set. Callers must call Close when finished
// to stop running operations.
func NewServer() *Server {
	return &Server{
		done: make(chan struct{}),
	}
}

// Tools returns the tools of the set.
func (s *Server) Tools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool("echo", "Echoes back the input", echo),
		mcp.NewTool("add", "Adds two numbers", add, mcp.WithOutputType[AddResult]()),
		mcp.NewTool("get_weather", "Reports the current weather for a location", getWeather),
		mcp.NewTool("long_running_operation", "Demonstrates a long running, cancellable operation",
			s.longRunningOperation),
		mcp.NewContextTool("request_headers", "Returns the HTTP headers of the request that called it",
			requestHeaders, mcp.WithOutputType[RequestHeadersResult]()),
		mcp.NewTool("print_env", "Prints all environment variables, helpful for debugging server configuration",
			printEnv),
		mcp.NewTool("get_tiny_image", "Returns a tiny PNG image", getTinyImage),
	}
}

// Close stops all running operations.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
