// Package capture contains the domain types and in-process correlation
// state for the exchange capture pipeline: request/response/sse-event/error
// records, the request tracker used to measure duration, and the session
// identity cache populated from the initialize handshake.
package capture

import (
	"encoding/json"
	"time"
)

// Direction tags which half of an exchange a record describes.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
	DirectionSSEEvent Direction = "sse-event"
	DirectionError    Direction = "error"
)

// ClientInfo is the identity a client reports in its initialize request.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo is the identity an upstream reports in its initialize response.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// RawMessage is the minimal JSON-RPC envelope captured verbatim for a
// record's request/response payload.
type RawMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// Record is one persisted capture artifact. Exactly the fields relevant to
// Direction are populated; the rest are zero. Modeled as a single struct
// rather than an interface-per-variant union so storage backends can
// serialize/query it uniformly (mirrors the teacher's flat AuditRecord).
type Record struct {
	Timestamp  time.Time  `json:"timestamp"`
	ServerName string     `json:"serverName"`
	SessionID  string     `json:"sessionId"`
	Direction  Direction  `json:"direction"`
	Method     string     `json:"method,omitempty"`
	ID         string     `json:"id,omitempty"`
	ClientInfo *ClientInfo `json:"clientInfo,omitempty"`
	ServerInfo *ServerInfo `json:"serverInfo,omitempty"`

	// Request is populated for DirectionRequest.
	Request *RawMessage `json:"request,omitempty"`

	// Response is populated for DirectionResponse and DirectionError.
	Response *RawMessage `json:"response,omitempty"`

	// HTTPStatus is the upstream's reported status for response/error records.
	HTTPStatus int `json:"httpStatus,omitempty"`

	// DurationMs is response(timestamp) - request(timestamp) in milliseconds.
	DurationMs int64 `json:"durationMs,omitempty"`

	// SSEEventID is the SSE event "id:" field, set for DirectionSSEEvent only
	// when the upstream supplied one.
	SSEEventID string `json:"sseEventId,omitempty"`
}

// Filter specifies query parameters for the management MCP's search_records
// tool and any other record query surface. Mirrors the audit query shape the
// corpus uses, narrowed to this spec's capture record fields.
type Filter struct {
	StartTime  time.Time
	EndTime    time.Time
	ServerName string
	SessionID  string
	Method     string
	Direction  Direction
	Limit      int
	Cursor     string
}
