package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// ErrorKind classifies the failures of a tool call.
type ErrorKind int

// ToolError is returned by ToolRegistry.CallTool. Kind tells the caller whether the tool
// was missing, rejected its input or failed while running.
type ToolError struct {
	Kind ErrorKind
	Tool string
	Err  error
}

// ToolRegistry holds the registered tools and serves them to the protocol engine. It
// implements ToolServer.
type ToolRegistry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	tools map[string]Tool
}

// ErrorKind values.
const (
	ErrorKindExecution ErrorKind = iota
	ErrorKindValidation
	ErrorKindLookup
)

// ErrToolNotFound is matched by errors.Is for lookups of unregistered tools.
var ErrToolNotFound = errors.New("unknown tool")

// NewToolRegistry creates an empty ToolRegistry. A nil logger uses slog.Default.
func NewToolRegistry(logger *slog.Logger) *ToolRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolRegistry{
		logger: logger.With(
			slog.String("package", "go-mcp-mount"),
			slog.String("component", "tools"),
		),
		tools: make(map[string]Tool),
	}
}

// Register adds tools to the registry. A tool whose definition is not publishable is
// logged and skipped, and registration continues with the rest. The returned error
// aggregates every skipped tool and is nil when all were registered. Registering a name
// again replaces the earlier tool.
func (r *ToolRegistry) Register(tools ...Tool) error {
	var result *multierror.Error

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tools {
		if t == nil {
			continue
		}
		def := t.Definition()
		if err := checkTool(t); err != nil {
			r.logger.Error("skipping tool with invalid definition",
				slog.String("tool", def.Name),
				slog.String("err", err.Error()))
			result = multierror.Append(result, err)
			continue
		}
		if _, ok := r.tools[def.Name]; ok {
			r.logger.Warn("replacing registered tool", slog.String("tool", def.Name))
		}
		r.tools[def.Name] = t
	}

	return result.ErrorOrNil()
}

func checkTool(t Tool) error {
	def := t.Definition()
	if v, ok := t.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("invalid tool definition %q: %w", def.Name, err)
		}
	}
	return validateDefinition(def)
}

// Lookup returns the tool registered under name.
func (r *ToolRegistry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}

// Definitions returns the definitions of all registered tools, sorted by name.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(names))
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			defs = append(defs, t.Definition())
		}
	}
	return defs
}

// ListTools implements ToolServer.
func (r *ToolRegistry) ListTools(context.Context, ListToolsParams) (ListToolsResult, error) {
	return ListToolsResult{Tools: r.Definitions()}, nil
}

// CallTool implements ToolServer. Unknown tools fail with ErrorKindLookup and handler
// failures with ErrorKindExecution; both come back as *ToolError.
func (r *ToolRegistry) CallTool(ctx context.Context, params CallToolParams) (CallToolResult, error) {
	t, ok := r.Lookup(params.Name)
	if !ok {
		return CallToolResult{}, &ToolError{Kind: ErrorKindLookup, Tool: params.Name, Err: ErrToolNotFound}
	}

	result, err := t.Invoke(ctx, params.Arguments)
	if err != nil {
		var tErr *ToolError
		if errors.As(err, &tErr) {
			if tErr.Tool == "" {
				tErr.Tool = params.Name
			}
			return CallToolResult{}, tErr
		}
		return CallToolResult{}, &ToolError{Kind: ErrorKindExecution, Tool: params.Name, Err: err}
	}
	return result, nil
}

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindExecution:
		return "execution"
	case ErrorKindValidation:
		return "validation"
	case ErrorKindLookup:
		return "lookup"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

func (e *ToolError) Error() string {
	switch e.Kind {
	case ErrorKindLookup:
		return fmt.Sprintf("%s: %s", ErrToolNotFound, e.Tool)
	case ErrorKindValidation:
		return fmt.Sprintf("invalid arguments for tool %s: %s", e.Tool, e.Err)
	default:
		if e.Err == nil {
			return fmt.Sprintf("tool %s failed", e.Tool)
		}
		return e.Err.Error()
	}
}

func (e *ToolError) Unwrap() error { return e.Err }
