package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// SSEServer implements a Server-Sent Events (SSE) ServerTransport. Server-to-client
// messages are streamed over a long-lived GET request handled by HandleSSE, and
// client-to-server messages arrive as POST requests handled by HandleMessage. Both are
// correlated through the session ID the stream announces in its first event.
//
// Open sessions are tracked in a SessionRegistry shared with the message handler.
// Instances should be created using NewSSEServer and shut down using Shutdown when no
// longer needed.
type SSEServer struct {
	registry *SessionRegistry
	logger   *slog.Logger

	keepAliveInterval time.Duration
	newSessionID      func() string
	streamPath        string
	messagePath       string
	basePath          string
	basePathSet       bool
	debug             bool

	sessions chan *sseServerSession

	done         chan struct{}
	closed       chan struct{}
	shutdownOnce *sync.Once
}

// SSEServerOption represents the options for the SSEServer.
type SSEServerOption func(*SSEServer)

type sseServerSession struct {
	id           string
	sendMsgs     chan sseServerSessionSendMsg
	receivedMsgs chan sseSessionMessage
	logger       *slog.Logger

	done     chan struct{}
	stopOnce *sync.Once
}

type sseSessionMessage struct {
	ctx context.Context
	msg JSONRPCMessage
}

type sseServerSessionSendMsg struct {
	msg  *sse.Message
	errs chan<- error
}

const (
	// DefaultStreamPath is the sub-path of the event stream route.
	DefaultStreamPath = "/sse"
	// DefaultMessagePath is the sub-path of the message route.
	DefaultMessagePath = "/message"
	// DefaultKeepAliveInterval is how often an idle stream gets a keepalive comment.
	DefaultKeepAliveInterval = 30 * time.Second

	sessionIDQueryParam = "sessionId"
)

// NewSSEServer creates an SSE transport that tracks its sessions in registry. A nil
// registry gets a fresh one.
func NewSSEServer(registry *SessionRegistry, options ...SSEServerOption) SSEServer {
	if registry == nil {
		registry = NewSessionRegistry()
	}
	s := SSEServer{
		registry:          registry,
		logger:            slog.Default(),
		keepAliveInterval: DefaultKeepAliveInterval,
		newSessionID:      uuid.NewString,
		streamPath:        DefaultStreamPath,
		messagePath:       DefaultMessagePath,
		sessions:          make(chan *sseServerSession),
		done:              make(chan struct{}),
		closed:            make(chan struct{}),
		shutdownOnce:      &sync.Once{},
	}
	for _, opt := range options {
		opt(&s)
	}
	return s
}

// WithSSEServerLogger sets the logger for the SSE server.
func WithSSEServerLogger(logger *slog.Logger) SSEServerOption {
	return func(s *SSEServer) {
		s.logger = logger.With(
			slog.String("package", "go-mcp-mount"),
			slog.String("component", "sse"),
		)
	}
}

// WithSSEServerKeepAlive sets how often a keepalive comment is written to every open
// stream. Non-positive values keep the default.
func WithSSEServerKeepAlive(interval time.Duration) SSEServerOption {
	return func(s *SSEServer) {
		if interval > 0 {
			s.keepAliveInterval = interval
		}
	}
}

// WithSSEServerSessionIDGenerator replaces the random UUID used as session ID.
func WithSSEServerSessionIDGenerator(gen func() string) SSEServerOption {
	return func(s *SSEServer) {
		s.newSessionID = gen
	}
}

// WithSSEServerBasePath fixes the mount path used to build the message URL announced to
// clients, for deployments behind a proxy that rewrites paths. Without it the mount path
// is the stream request's path minus the stream sub-path, which follows nested mounts.
func WithSSEServerBasePath(basePath string) SSEServerOption {
	return func(s *SSEServer) {
		s.basePath = basePath
		s.basePathSet = true
	}
}

// WithSSEServerPaths overrides the stream and message sub-paths.
func WithSSEServerPaths(streamPath, messagePath string) SSEServerOption {
	return func(s *SSEServer) {
		s.streamPath = streamPath
		s.messagePath = messagePath
	}
}

// WithSSEServerDebug includes error details in the body of 500 responses.
func WithSSEServerDebug(debug bool) SSEServerOption {
	return func(s *SSEServer) {
		s.debug = debug
	}
}

// Registry returns the registry the server tracks its sessions in.
func (s SSEServer) Registry() *SessionRegistry { return s.registry }

// Sessions returns an iterator over new client sessions. A session is yielded once its
// stream is open and registered; the iteration ends when the server is shut down.
func (s SSEServer) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(s.closed)

		for {
			select {
			case <-s.done:
				return
			case sess := <-s.sessions:
				if !yield(sess) {
					return
				}
			}
		}
	}
}

// Shutdown stops accepting sessions and closes every open stream. It blocks until the
// Sessions iteration has finished or ctx is done.
func (s SSEServer) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		close(s.done)
	})

	for _, id := range s.registry.IDs() {
		if sess, ok := s.registry.Lookup(id); ok {
			sess.Stop()
		}
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close SSE server: %w", ctx.Err())
	case <-s.closed:
	}
	return nil
}

// HandleSSE returns an http.Handler for the event stream of a session over GET requests.
// The handler registers a new session, announces its message URL in an "endpoint" event
// and then streams the session's outgoing messages as "message" events until the client
// disconnects, a write fails or the session is stopped. Idle streams get a keepalive
// comment every keepalive interval.
func (s SSEServer) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		sess, err := sse.Upgrade(w, r)
		if err != nil {
			s.fail(w, "failed to upgrade session", err)
			return
		}

		sessID := s.newSessionID()
		if sessID == "" {
			s.fail(w, "failed to generate session id", errors.New("empty session id"))
			return
		}

		logger := s.logger.With(slog.String("sessionID", sessID))
		srvSession := &sseServerSession{
			id:           sessID,
			logger:       logger,
			sendMsgs:     make(chan sseServerSessionSendMsg),
			receivedMsgs: make(chan sseSessionMessage, 16),
			done:         make(chan struct{}),
			stopOnce:     &sync.Once{},
		}

		if err := s.registry.Register(sessID, srvSession); err != nil {
			s.fail(w, "failed to register session", err)
			return
		}
		defer func() {
			srvSession.Stop()
			s.registry.Remove(sessID)
			logger.Info("session closed")
		}()

		// Hand the session to the engine before announcing it, so no message can arrive
		// for a session nobody reads.
		select {
		case s.sessions <- srvSession:
		case <-s.done:
			s.fail(w, "failed to start session", errors.New("server is shutting down"))
			return
		case <-r.Context().Done():
			return
		}

		msg := &sse.Message{
			Type: sse.Type("endpoint"),
		}
		msg.AppendData(s.messageURL(r, sessID))
		if err := writeSSE(sess, msg); err != nil {
			logger.Warn("failed to write endpoint event", slog.String("err", err.Error()))
			return
		}

		logger.Info("session opened")

		ticker := time.NewTicker(s.keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case sm := <-srvSession.sendMsgs:
				err := writeSSE(sess, sm.msg)
				sm.errs <- err
				if err != nil {
					logger.Warn("failed to write message", slog.String("err", err.Error()))
					return
				}
			case <-ticker.C:
				keepAlive := &sse.Message{}
				keepAlive.AppendComment("keepalive")
				if err := writeSSE(sess, keepAlive); err != nil {
					logger.Warn("failed to write keepalive", slog.String("err", err.Error()))
					return
				}
			case <-r.Context().Done():
				return
			case <-srvSession.done:
				return
			}
		}
	})
}

// HandleMessage returns an http.Handler for client messages sent via POST requests. The
// handler expects a sessionId query parameter naming an open session and a JSON-RPC
// message body. The message is delivered to the session together with an Invocation
// built from the request's headers, and the request is answered with 202 Accepted
// without waiting for the message to be processed.
func (s SSEServer) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessID := r.URL.Query().Get(sessionIDQueryParam)
		if sessID == "" {
			s.logger.Warn("missing sessionId query parameter")
			http.Error(w, "missing sessionId query parameter", http.StatusBadRequest)
			return
		}

		registered, ok := s.registry.Lookup(sessID)
		if !ok {
			s.logger.Warn("message for unknown session", slog.String("sessionID", sessID))
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		var msg JSONRPCMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			nErr := fmt.Errorf("failed to decode message: %w", err)
			s.logger.Warn("failed to decode message", slog.String("err", nErr.Error()))
			http.Error(w, nErr.Error(), http.StatusBadRequest)
			return
		}
		if msg.JSONRPC != JSONRPCVersion {
			http.Error(w, fmt.Sprintf("invalid jsonrpc version %q", msg.JSONRPC), http.StatusBadRequest)
			return
		}

		sess, ok := registered.(*sseServerSession)
		if !ok {
			s.fail(w, "failed to deliver message", fmt.Errorf("unexpected session type %T", registered))
			return
		}

		// The message outlives this request: it is processed after the 202 is written.
		msgCtx := WithInvocation(context.WithoutCancel(r.Context()), Invocation{
			SessionID: sessID,
			Headers:   r.Header.Clone(),
		})

		if err := sess.deliver(r.Context(), msgCtx, msg, s.done); err != nil {
			s.fail(w, "failed to deliver message", err)
			return
		}

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("Accepted"))
	})
}

// messageURL builds the absolute URL a client posts its messages for sessID to.
func (s SSEServer) messageURL(r *http.Request, sessID string) string {
	scheme := "http"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	} else if r.TLS != nil {
		scheme = "https"
	}

	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}

	base := s.basePath
	if !s.basePathSet {
		base = strings.TrimSuffix(r.URL.Path, s.streamPath)
	}

	u := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     base + s.messagePath,
		RawQuery: url.Values{sessionIDQueryParam: []string{sessID}}.Encode(),
	}
	return u.String()
}

func (s SSEServer) fail(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, slog.String("err", err.Error()))
	body := http.StatusText(http.StatusInternalServerError)
	if s.debug {
		body = fmt.Sprintf("%s: %s", msg, err)
	}
	http.Error(w, body, http.StatusInternalServerError)
}

func writeSSE(sess *sse.Session, msg *sse.Message) error {
	if err := sess.Send(msg); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	if err := sess.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

func (s *sseServerSession) ID() string { return s.id }

func (s *sseServerSession) Send(ctx context.Context, msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	sseMsg := &sse.Message{
		Type: sse.Type("message"),
	}
	sseMsg.AppendData(string(msgBs))

	errs := make(chan error, 1)

	// Queue the message for the stream's goroutine, the only one writing to it.
	select {
	case s.sendMsgs <- sseServerSessionSendMsg{sseMsg, errs}:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return fmt.Errorf("failed to queue message: %w", ctx.Err())
	}

	select {
	case err := <-errs:
		return err
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return fmt.Errorf("failed to write message: %w", ctx.Err())
	}
}

func (s *sseServerSession) Messages() iter.Seq2[context.Context, JSONRPCMessage] {
	return func(yield func(context.Context, JSONRPCMessage) bool) {
		for {
			select {
			case m := <-s.receivedMsgs:
				if !yield(m.ctx, m.msg) {
					return
				}
			case <-s.done:
				return
			}
		}
	}
}

func (s *sseServerSession) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// deliver queues msg for the engine. It gives up when the request is cancelled, the
// session stops or the server shuts down.
func (s *sseServerSession) deliver(
	reqCtx, msgCtx context.Context,
	msg JSONRPCMessage,
	serverDone <-chan struct{},
) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.receivedMsgs <- sseSessionMessage{ctx: msgCtx, msg: msg}:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-serverDone:
		return errors.New("server is shutting down")
	case <-reqCtx.Done():
		return fmt.Errorf("failed to deliver message: %w", reqCtx.Err())
	}
}
