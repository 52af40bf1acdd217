package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handler exposes a set of tools over MCP as two HTTP routes below its mount path:
// GET <mount>/sse opens a session stream and POST <mount>/message?sessionId=<id>
// delivers a message to it. A Handler can be mounted on a chi router, registered on an
// http.ServeMux, or wrapped around another handler with Middleware.
type Handler struct {
	cfg    Config
	logger *slog.Logger

	tools     *ToolRegistry
	sessions  *SessionRegistry
	transport SSEServer
	server    Server

	router chi.Router
}

// HandlerOption represents the options for the Handler.
type HandlerOption func(*handlerOptions)

type handlerOptions struct {
	logger       *slog.Logger
	instructions string
	idGenerator  func() string
}

// Metadata summarizes a Handler's configuration.
type Metadata struct {
	MountPath   string        `json:"mountPath"`
	StreamPath  string        `json:"streamPath"`
	MessagePath string        `json:"messagePath"`
	Tools       []ToolSummary `json:"tools"`
	Debug       bool          `json:"debug"`
	Name        string        `json:"name"`
	Version     string        `json:"version"`
}

// ToolSummary is the name and description of a registered tool.
type ToolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// WithHandlerLogger sets the logger shared by the handler's components.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(o *handlerOptions) {
		o.logger = logger
	}
}

// WithHandlerInstructions sets the instructions reported to clients on initialization.
func WithHandlerInstructions(instructions string) HandlerOption {
	return func(o *handlerOptions) {
		o.instructions = instructions
	}
}

// WithHandlerSessionIDGenerator replaces the random UUID used as session ID.
func WithHandlerSessionIDGenerator(gen func() string) HandlerOption {
	return func(o *handlerOptions) {
		o.idGenerator = gen
	}
}

// NewHandler registers tools and starts serving them. Tools with invalid definitions are
// logged and left out; they never prevent the handler from being built. The returned
// Handler must be shut down using Shutdown when no longer needed.
func NewHandler(cfg Config, tools []Tool, options ...HandlerOption) *Handler {
	opts := handlerOptions{logger: slog.Default()}
	for _, opt := range options {
		opt(&opts)
	}
	cfg = cfg.withDefaults()

	h := &Handler{
		cfg: cfg,
		logger: opts.logger.With(
			slog.String("package", "go-mcp-mount"),
			slog.String("component", "handler"),
		),
		tools:    NewToolRegistry(opts.logger),
		sessions: NewSessionRegistry(),
	}

	if err := h.tools.Register(tools...); err != nil {
		h.logger.Warn("some tools were not registered", slog.String("err", err.Error()))
	}

	sseOpts := []SSEServerOption{
		WithSSEServerLogger(opts.logger),
		WithSSEServerKeepAlive(cfg.KeepAliveInterval),
		WithSSEServerDebug(cfg.Debug),
	}
	if opts.idGenerator != nil {
		sseOpts = append(sseOpts, WithSSEServerSessionIDGenerator(opts.idGenerator))
	}
	h.transport = NewSSEServer(h.sessions, sseOpts...)

	h.server = NewServer(Info{Name: cfg.Name, Version: cfg.Version}, h.transport,
		WithToolServer(h.tools),
		WithInstructions(opts.instructions),
		WithServerLogger(opts.logger),
	)
	go h.server.Serve()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, DefaultStreamPath, h.transport.HandleSSE())
	r.Method(http.MethodPost, DefaultMessagePath, h.transport.HandleMessage())
	h.router = r

	h.logConnectionHints()

	return h
}

// ServeHTTP serves the stream and message routes. Requests are matched against the
// sub-path below the mount path, whether the handler is mounted on a chi router or
// receives the full request path.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sub := r.URL.Path
	if parent := chi.RouteContext(r.Context()); parent != nil && parent.RoutePath != "" {
		sub = parent.RoutePath
	} else if h.cfg.BasePath != "" {
		if trimmed, ok := strings.CutPrefix(sub, h.cfg.BasePath); ok {
			sub = trimmed
		}
	}
	h.serveSubPath(w, r, sub)
}

// Middleware returns an http.Handler that serves the handler's routes and passes every
// other request to next.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, ok := strings.CutPrefix(r.URL.Path, h.cfg.BasePath)
		if !ok || (sub != DefaultStreamPath && sub != DefaultMessagePath) {
			next.ServeHTTP(w, r)
			return
		}
		h.serveSubPath(w, r, sub)
	})
}

func (h *Handler) serveSubPath(w http.ResponseWriter, r *http.Request, sub string) {
	rctx := chi.NewRouteContext()
	rctx.RoutePath = sub
	h.router.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx)))
}

// MountPath returns the normalized mount path. The root mount is "".
func (h *Handler) MountPath() string { return h.cfg.BasePath }

// SSEURL returns the fully qualified stream URL below baseURL, for example
// "http://localhost:3000" gives "http://localhost:3000/mcp/sse".
func (h *Handler) SSEURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + h.cfg.BasePath + DefaultStreamPath
}

// Tools returns the names and descriptions of the registered tools, sorted by name.
func (h *Handler) Tools() []ToolSummary {
	defs := h.tools.Definitions()
	summaries := make([]ToolSummary, 0, len(defs))
	for _, def := range defs {
		summaries = append(summaries, ToolSummary{Name: def.Name, Description: def.Description})
	}
	return summaries
}

// Metadata returns the handler's configuration and tools.
func (h *Handler) Metadata() Metadata {
	return Metadata{
		MountPath:   h.cfg.BasePath,
		StreamPath:  DefaultStreamPath,
		MessagePath: DefaultMessagePath,
		Tools:       h.Tools(),
		Debug:       h.cfg.Debug,
		Name:        h.cfg.Name,
		Version:     h.cfg.Version,
	}
}

// Sessions returns the IDs of the open sessions.
func (h *Handler) Sessions() []string { return h.sessions.IDs() }

// Shutdown closes every open session and stops the protocol engine.
func (h *Handler) Shutdown(ctx context.Context) error {
	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown mcp handler: %w", err)
	}
	return nil
}

func (h *Handler) logConnectionHints() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	base := "http://localhost:" + port

	h.logger.Info("mcp handler ready",
		slog.String("sse", h.SSEURL(base)),
		slog.String("message", base+h.cfg.BasePath+DefaultMessagePath),
		slog.Int("tools", len(h.tools.Names())))
	if h.cfg.Debug {
		for _, t := range h.Tools() {
			h.logger.Debug("tool available", slog.String("tool", t.Name), slog.String("description", t.Description))
		}
	}
}
