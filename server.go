package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ServerOption represents the options for the server.
type ServerOption func(*Server)

// Server implements the protocol engine of a Model Context Protocol (MCP) server. It reads
// the messages of every session produced by its ServerTransport, dispatches them to the
// configured ToolServer and sends the responses back on the same session. It knows nothing
// about how sessions are carried.
type Server struct {
	info Info

	instructions string
	capabilities ServerCapabilities
	transport    ServerTransport

	toolServer ToolServer

	sendTimeout time.Duration

	logger *slog.Logger

	onClientConnected    func(string)
	onClientDisconnected func(string)

	sessionsWaitGroup *sync.WaitGroup
	shutdownOnce      *sync.Once

	done chan struct{}
}

type serverSession struct {
	session Session
	logger  *slog.Logger

	serverCap    ServerCapabilities
	serverInfo   Info
	instructions string
	sendTimeout  time.Duration

	toolServer ToolServer

	// inflight maps the ID of every running request to its *inflightRequest.
	inflight *sync.Map
}

type inflightRequest struct {
	cancel context.CancelFunc
}

var defaultServerSendTimeout = 30 * time.Second

// NewServer creates a new MCP protocol engine serving the sessions of transport.
func NewServer(info Info, transport ServerTransport, options ...ServerOption) Server {
	s := Server{
		info:              info,
		transport:         transport,
		logger:            slog.Default(),
		sessionsWaitGroup: &sync.WaitGroup{},
		shutdownOnce:      &sync.Once{},
		done:              make(chan struct{}),
	}
	for _, opt := range options {
		opt(&s)
	}
	if s.sendTimeout == 0 {
		s.sendTimeout = defaultServerSendTimeout
	}

	s.capabilities = ServerCapabilities{}
	if s.toolServer != nil {
		s.capabilities.Tools = &ToolsCapability{}
	}

	return s
}

// WithToolServer returns a ServerOption that configures the tool server implementation.
func WithToolServer(srv ToolServer) ServerOption {
	return func(s *Server) {
		s.toolServer = srv
	}
}

// WithInstructions returns a ServerOption that configures the server instructions.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithServerSendTimeout returns a ServerOption that configures the server's send timeout.
func WithServerSendTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.sendTimeout = timeout
	}
}

// WithServerOnClientConnected sets the callback for when a client session starts.
// The callback's parameter is the ID of the session.
func WithServerOnClientConnected(onClientConnected func(string)) ServerOption {
	return func(s *Server) {
		s.onClientConnected = onClientConnected
	}
}

// WithServerOnClientDisconnected sets the callback for when a client session ends.
// The callback's parameter is the ID of the session.
func WithServerOnClientDisconnected(onClientDisconnected func(string)) ServerOption {
	return func(s *Server) {
		s.onClientDisconnected = onClientDisconnected
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "go-mcp-mount"),
			slog.String("component", "server"),
		)
	}
}

// Serve starts serving the sessions of the transport.
//
// Serve blocks until the transport stops yielding sessions.
func (s Server) Serve() {
	// This loop would break when the transport is closed.
	for sess := range s.transport.Sessions() {
		ss := serverSession{
			session:      sess,
			logger:       s.logger.With(slog.String("sessionID", sess.ID())),
			serverCap:    s.capabilities,
			serverInfo:   s.info,
			instructions: s.instructions,
			sendTimeout:  s.sendTimeout,
			toolServer:   s.toolServer,
			inflight:     &sync.Map{},
		}

		s.sessionsWaitGroup.Add(1)

		go func() {
			defer s.sessionsWaitGroup.Done()

			if s.onClientConnected != nil {
				s.onClientConnected(ss.session.ID())
			}

			sessDone := make(chan struct{})
			go func() {
				select {
				case <-s.done:
					ss.session.Stop()
				case <-sessDone:
				}
			}()

			ss.start()
			close(sessDone)

			if s.onClientDisconnected != nil {
				s.onClientDisconnected(ss.session.ID())
			}
		}()
	}
}

// Shutdown stops all sessions and shuts the transport down. It returns an error if the
// context is cancelled before the sessions finished.
func (s Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		// Signal the server to shutdown and terminates all sessions
		close(s.done)

		// The transport ends the Sessions loop in Serve, so no session is added to the
		// wait group once the wait below starts.
		if tErr := s.transport.Shutdown(ctx); tErr != nil {
			err = fmt.Errorf("failed to shutdown transport: %w", tErr)
			return
		}

		sessionsClosed := make(chan struct{})
		go func() {
			s.sessionsWaitGroup.Wait()
			close(sessionsClosed)
		}()

		select {
		case <-ctx.Done():
			err = fmt.Errorf("failed to wait for sessions: %w", ctx.Err())
		case <-sessionsClosed:
		}
	})
	return err
}

func (s serverSession) start() {
	// This loop would break when the session is closed. Requests that are still running
	// keep going and their late responses fail with ErrSessionClosed.
	for ctx, msg := range s.session.Messages() {
		if msg.JSONRPC != JSONRPCVersion {
			s.logger.Info("ignoring message with invalid jsonrpc version",
				slog.String("jsonrpc", msg.JSONRPC))
			continue
		}
		switch msg.Method {
		case methodPing:
			go s.sendResult(msg.ID, struct{}{})
		case methodInitialize:
			go s.handleInitializeRequest(msg)
		case MethodToolsList, MethodToolsCall:
			reqCtx, cancel := context.WithCancel(ctx)
			req := &inflightRequest{cancel: cancel}
			if msg.ID != "" {
				// A reused ID points cancellation at the newest request.
				s.inflight.Store(msg.ID, req)
			}
			go func() {
				defer func() {
					cancel()
					if msg.ID != "" {
						s.inflight.CompareAndDelete(msg.ID, req)
					}
				}()
				s.handleToolsMessage(reqCtx, msg)
			}()
		case methodNotificationsInitialized:
			s.logger.Debug("client initialized")
		case methodNotificationsCancelled:
			var params notificationsCancelledParams
			if err := json.Unmarshal(msg.Params, &params); err != nil {
				s.logger.Warn("invalid cancellation params", slog.String("err", err.Error()))
				continue
			}
			if req, ok := s.inflight.Load(params.RequestID); ok {
				s.logger.Debug("cancelling request",
					slog.String("requestID", string(params.RequestID)),
					slog.String("reason", params.Reason))
				req.(*inflightRequest).cancel()
			}
		case "":
			// Responses from the client. The server never sends requests, so there is
			// nothing waiting for them.
			s.logger.Debug("ignoring client response", slog.String("id", string(msg.ID)))
		default:
			if msg.ID == "" {
				continue
			}
			go s.send(JSONRPCMessage{
				JSONRPC: JSONRPCVersion,
				ID:      msg.ID,
				Error: &JSONRPCError{
					Code:    jsonRPCMethodNotFoundCode,
					Message: fmt.Sprintf("method not found: %s", msg.Method),
				},
			})
		}
	}
}

func (s serverSession) handleInitializeRequest(msg JSONRPCMessage) {
	var params initializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.logger.Info("invalid initialization request", slog.String("err", err.Error()))
			s.send(JSONRPCMessage{
				JSONRPC: JSONRPCVersion,
				ID:      msg.ID,
				Error: &JSONRPCError{
					Code:    jsonRPCInvalidParamsCode,
					Message: fmt.Sprintf("failed to unmarshal params: %s", err),
				},
			})
			return
		}
	}

	s.logger.Info("client initializing",
		slog.String("clientName", params.ClientInfo.Name),
		slog.String("clientVersion", params.ClientInfo.Version),
		slog.String("protocolVersion", params.ProtocolVersion))

	s.sendResult(msg.ID, initializeResult{
		ProtocolVersion: negotiateProtocolVersion(params.ProtocolVersion),
		Capabilities:    s.serverCap,
		ServerInfo:      s.serverInfo,
		Instructions:    s.instructions,
	})
}

func (s serverSession) handleToolsMessage(ctx context.Context, msg JSONRPCMessage) {
	var result any
	// The err is should always an instance of JSONRPCError, we declare it as an error type,
	// is for the nil-check feature.
	var err error

	switch msg.Method {
	case MethodToolsList:
		result, err = s.callListTools(ctx, msg)
	case MethodToolsCall:
		result, err = s.callCallTool(ctx, msg)
	default:
		return
	}

	if msg.ID == "" {
		// Notifications never get a response.
		return
	}

	resMsg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      msg.ID,
	}

	if err != nil {
		jsonErr := JSONRPCError{}
		if !errors.As(err, &jsonErr) {
			jsonErr = JSONRPCError{Code: jsonRPCInternalErrorCode, Message: err.Error()}
		}
		s.logger.Error("failed to handle request",
			slog.String("method", msg.Method),
			slog.String("err", err.Error()))
		resMsg.Error = &jsonErr
	} else {
		resMsg.Result, err = json.Marshal(result)
		if err != nil {
			s.logger.Error("failed to marshal result", slog.String("err", err.Error()))
			resMsg.Error = &JSONRPCError{Code: jsonRPCInternalErrorCode, Message: "failed to marshal result"}
			resMsg.Result = nil
		}
	}

	s.send(resMsg)
}

func (s serverSession) callListTools(ctx context.Context, msg JSONRPCMessage) (ListToolsResult, error) {
	if s.toolServer == nil {
		return ListToolsResult{}, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "tools not supported by server",
		}
	}

	var params ListToolsParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return ListToolsResult{}, JSONRPCError{
				Code:    jsonRPCInvalidParamsCode,
				Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
			}
		}
	}

	ts, err := s.toolServer.ListTools(ctx, params)
	if err != nil {
		return ListToolsResult{}, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: fmt.Errorf("failed to list tools: %w", err).Error(),
		}
	}
	if ts.Tools == nil {
		ts.Tools = []ToolDefinition{}
	}

	return ts, nil
}

func (s serverSession) callCallTool(ctx context.Context, msg JSONRPCMessage) (CallToolResult, error) {
	if s.toolServer == nil {
		return CallToolResult{}, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "tools not supported by server",
		}
	}

	var params CallToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return CallToolResult{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
		}
	}

	result, err := s.toolServer.CallTool(ctx, params)
	if err != nil {
		attrs := []any{slog.String("tool", params.Name), slog.String("err", err.Error())}
		var tErr *ToolError
		if errors.As(err, &tErr) {
			attrs = append(attrs, slog.String("kind", tErr.Kind.String()))
		}
		s.logger.Warn("tool call failed", attrs...)

		// Tool failures are reported to the client as content, never as protocol errors.
		result = errorResult(err.Error())
	}
	if result.Content == nil {
		result.Content = []Content{}
	}

	return result, nil
}

func (s serverSession) sendResult(id MustString, result any) {
	bs, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("failed to marshal result", slog.String("err", err.Error()))
		return
	}
	s.send(JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  bs,
	})
}

func (s serverSession) send(msg JSONRPCMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()

	if err := s.session.Send(ctx, msg); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			s.logger.Warn("session closed before the response could be sent",
				slog.String("id", string(msg.ID)))
			return
		}
		s.logger.Error("failed to send message", slog.String("err", err.Error()))
	}
}
