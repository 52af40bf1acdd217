package mcp

import (
	"context"
	"net/http"
)

// Invocation is the request-scoped context of a single client message: the headers of
// the HTTP request that delivered it and the session it was addressed to.
type Invocation struct {
	SessionID string
	Headers   http.Header
}

type invocationContextKey struct{}

// WithInvocation returns a copy of ctx carrying inv.
func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationContextKey{}, inv)
}

// InvocationFromContext returns the Invocation attached to ctx. Outside of any
// invocation scope it returns an empty Invocation with a non-nil Headers map.
func InvocationFromContext(ctx context.Context) Invocation {
	inv, ok := ctx.Value(invocationContextKey{}).(Invocation)
	if !ok {
		return Invocation{Headers: http.Header{}}
	}
	if inv.Headers == nil {
		inv.Headers = http.Header{}
	}
	return inv
}

// Header returns the first value of the named header, case-insensitively.
func (i Invocation) Header(name string) string {
	return i.Headers.Get(name)
}
