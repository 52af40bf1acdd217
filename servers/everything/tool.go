package everything

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	mcp "github.com/MegaGrindStone/go-mcp-mount"
)

// A 1x1 transparent PNG.
const tinyImage = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

func echo(_ context.Context, args EchoArgs) (any, error) {
	return fmt.Sprintf("Echo: %s", args.Message), nil
}

func add(_ context.Context, args AddArgs) (any, error) {
	return AddResult{Sum: args.A + args.B}, nil
}

func getWeather(_ context.Context, args WeatherArgs) (any, error) {
	return fmt.Sprintf("Weather in %s: sunny, 22°C", args.Location), nil
}

func (s *Server) longRunningOperation(ctx context.Context, args LongRunningOperationArgs) (any, error) {
	duration := args.Duration
	if duration == 0 {
		duration = 10
	}
	steps := args.Steps
	if steps == 0 {
		steps = 5
	}
	stepDuration := time.Duration(duration * float64(time.Second) / float64(steps))

	for i := 0; i < steps; i++ {
		select {
		case <-time.After(stepDuration):
		case <-ctx.Done():
			return nil, fmt.Errorf("operation cancelled after %d of %d steps: %w", i, steps, ctx.Err())
		case <-s.done:
			return nil, fmt.Errorf("server closed")
		}
	}

	return fmt.Sprintf("Long running operation completed. Duration: %g seconds, Steps: %d", duration, steps), nil
}

func requestHeaders(_ context.Context, _ NoArgs, inv mcp.Invocation) (any, error) {
	headers := make(map[string][]string, len(inv.Headers))
	for k, v := range inv.Headers {
		headers[k] = slices.Clone(v)
	}
	return RequestHeadersResult{
		SessionID: inv.SessionID,
		Headers:   headers,
	}, nil
}

func printEnv(context.Context, NoArgs) (any, error) {
	env := os.Environ()
	slices.Sort(env)
	return fmt.Sprintf("Environment variables:\n%s", strings.Join(env, "\n")), nil
}

func getTinyImage(context.Context, NoArgs) (any, error) {
	return mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent("This is a tiny image:"),
			{
				Type:     mcp.ContentTypeImage,
				Data:     tinyImage,
				MimeType: "image/png",
			},
		},
	}, nil
}
