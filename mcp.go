package mcp

import (
	"context"
	"iter"
)

// ServerTransport provides the server-side communication layer in the MCP protocol.
type ServerTransport interface {
	// Sessions returns an iterator that yields new client sessions as they are initiated.
	// Each yielded Session represents a unique client connection and provides methods for
	// bidirectional communication. The implementation must guarantee that each session ID
	// is unique across all active connections.
	//
	// The implementation should exit the iteration when the Shutdown method is called.
	Sessions() iter.Seq[Session]

	// Shutdown gracefully shuts down the ServerTransport to clean up resources. The caller
	// is guaranteed to call this method only once.
	Shutdown(ctx context.Context) error
}

// Session represents a bidirectional communication channel between server and client.
type Session interface {
	// ID returns the unique identifier for this session. The implementation must
	// guarantee that session IDs are unique across all active sessions managed.
	ID() string

	// Send transmits a message to the client. Sending on a stopped session returns
	// an error wrapping ErrSessionClosed.
	Send(ctx context.Context, msg JSONRPCMessage) error

	// Messages returns an iterator that yields messages received from the other party, in
	// arrival order, each paired with the context it was delivered with. The context carries
	// the Invocation of the request that delivered the message.
	// The implementations should exit the iteration if the session is closed.
	Messages() iter.Seq2[context.Context, JSONRPCMessage]

	// Stop stops the session. It is safe to call more than once.
	Stop()
}

// ToolServer defines the interface for serving tools in the MCP protocol.
type ToolServer interface {
	// ListTools returns the available tool definitions.
	ListTools(context.Context, ListToolsParams) (ListToolsResult, error)

	// CallTool executes a specific tool with the given arguments. The context carries
	// the Invocation of the request that asked for the call.
	// Returns error if the tool is not found or its execution fails.
	CallTool(context.Context, CallToolParams) (CallToolResult, error)
}
