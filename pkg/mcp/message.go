package mcp

import (
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Direction indicates which way a message is flowing through the gateway.
type Direction int

const (
	// ClientToServer indicates a message flowing from the MCP client to the upstream.
	ClientToServer Direction = iota
	// ServerToClient indicates a message flowing from the upstream back to the client.
	ServerToClient
)

// String returns the human-readable direction name, used in log fields.
func (d Direction) String() string {
	switch d {
	case ClientToServer:
		return "client->server"
	case ServerToClient:
		return "server->client"
	default:
		return "unknown"
	}
}

// Message wraps a decoded JSON-RPC message with the metadata the proxy and
// capture pipeline need: the raw bytes (for byte-exact passthrough) plus the
// decoded form (for routing and capture).
type Message struct {
	// Raw contains the original bytes of the message, newline-exclusive.
	Raw []byte

	// Direction records which leg of the proxy produced this message.
	Direction Direction

	// Decoded holds the parsed message. Concrete type is *jsonrpc.Request or
	// *jsonrpc.Response. Nil if decoding failed; Raw is still forwarded.
	Decoded jsonrpc.Message

	// Timestamp is when the gateway observed this message.
	Timestamp time.Time

	// ParsedParams caches the request's decoded params object, set by
	// ParseParams and reused across interceptors/capture.
	ParsedParams map[string]interface{}
}

// IsRequest reports whether the decoded message is a JSON-RPC request.
func (m *Message) IsRequest() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Request)
	return ok
}

// IsResponse reports whether the decoded message is a JSON-RPC response.
func (m *Message) IsResponse() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Response)
	return ok
}

// Method returns the method name for a request, or "" otherwise.
func (m *Message) Method() string {
	req := m.Request()
	if req == nil {
		return ""
	}
	return req.Method
}

// Request returns the underlying *jsonrpc.Request, or nil if this isn't one.
func (m *Message) Request() *jsonrpc.Request {
	if m.Decoded == nil {
		return nil
	}
	req, _ := m.Decoded.(*jsonrpc.Request)
	return req
}

// Response returns the underlying *jsonrpc.Response, or nil if this isn't one.
func (m *Message) Response() *jsonrpc.Response {
	if m.Decoded == nil {
		return nil
	}
	resp, _ := m.Decoded.(*jsonrpc.Response)
	return resp
}

// IsNotification reports whether a request carries no id (fire-and-forget).
func (m *Message) IsNotification() bool {
	req := m.Request()
	return req != nil && m.RawID() == nil
}

// ParseParams decodes the request params into a generic map, memoizing the
// result. Safe to call repeatedly; returns nil for non-requests or on
// decode failure.
func (m *Message) ParseParams() map[string]interface{} {
	if m.ParsedParams != nil {
		return m.ParsedParams
	}
	req := m.Request()
	if req == nil || req.Params == nil {
		return nil
	}
	var params map[string]interface{}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil
	}
	m.ParsedParams = params
	return params
}

// RawID extracts the "id" field straight from the raw bytes.
//
// The SDK's jsonrpc.ID type does not round-trip cleanly through interface{},
// so correlation code (RequestTracker, stdio id rewriting) always works off
// this raw form rather than the decoded Request.ID.
func (m *Message) RawID() json.RawMessage {
	if m.Raw == nil {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(m.Raw, &raw); err != nil {
		return nil
	}
	id, ok := raw["id"]
	if !ok {
		return nil
	}
	if string(id) == "null" {
		return nil
	}
	return id
}

// IDString renders RawID as a comparable map-key string ("1", "\"abc\"").
// Returns "" for notifications (no id).
func (m *Message) IDString() string {
	id := m.RawID()
	if id == nil {
		return ""
	}
	return string(id)
}
