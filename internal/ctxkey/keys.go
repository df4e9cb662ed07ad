// Package ctxkey defines typed context keys shared across the gateway so
// unrelated packages never collide on string keys.
package ctxkey

// LoggerKey is the context key for the request-enriched *slog.Logger.
// Carries request_id/session_id/server_name fields set by the HTTP and
// management inbound adapters.
type LoggerKey struct{}

// RequestIDKey is the context key for the per-request correlation id.
type RequestIDKey struct{}

// SessionIDKey is the context key for the MCP session id derived from
// Mcp-Session-Id or synthesized by ProxyRouter.
type SessionIDKey struct{}
