package capture

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mcp-gateway/gateway/internal/telemetry"
	pkgmcp "github.com/mcp-gateway/gateway/pkg/mcp"
)

// Storage is the narrow write port CapturePipeline needs. Owned by this
// package (the consumer), satisfied by storage.Manager - mirrors the
// teacher's pattern of ports defined next to their caller rather than next
// to their implementation.
type Storage interface {
	WriteRecord(ctx context.Context, rec Record) error

	// BackfillServerInfo is the one mutation an already-persisted record may
	// undergo (spec §4.7): once an initialize response reveals serverInfo,
	// it is written onto the matching, already-persisted request record.
	BackfillServerInfo(ctx context.Context, serverName, sessionID, requestID string, info ServerInfo) error
}

// pendingKey identifies a request record held in memory awaiting session id
// finalization - used only for the HTTP initialize-without-inbound-session
// adoption case (spec §9's open question, resolved here by deferring the
// persist rather than backfilling).
type pendingKey struct {
	ServerName string
	RequestID  string
}

type pendingRequest struct {
	record Record
	start  time.Time
}

// Pipeline builds capture records from observed JSON-RPC traffic and writes
// them to Storage. All operations are fire-and-forget from the proxy's
// perspective: failures are logged, never returned to the client.
type Pipeline struct {
	tracker     *RequestTracker
	sessionInfo *SessionInfoCache
	storage     Storage
	log         *slog.Logger

	recordsWritten metric.Int64Counter

	mu      sync.Mutex
	pending map[pendingKey]*pendingRequest
}

// NewPipeline wires a capture pipeline against its storage and in-memory
// correlation state.
func NewPipeline(storage Storage, tracker *RequestTracker, sessionInfo *SessionInfoCache, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}

	counter, err := telemetry.Meter().Int64Counter(
		"mcp_gateway.capture.records_written",
		metric.WithDescription("Capture records written, labeled by direction (request/response/sse_event/error), distinct from the HTTP-level counters in httprouter"),
	)
	if err != nil {
		counter, _ = telemetry.Meter().Int64Counter("mcp_gateway.capture.records_written")
	}

	return &Pipeline{
		tracker:        tracker,
		sessionInfo:    sessionInfo,
		storage:        storage,
		log:            log,
		recordsWritten: counter,
		pending:        make(map[pendingKey]*pendingRequest),
	}
}

// StatelessSessionID is used when an inbound request carries no session
// identifier at all (spec §5.1 step 3).
const StatelessSessionID = "stateless"

func idString(msg *pkgmcp.Message) string {
	if msg == nil {
		return ""
	}
	return msg.IDString()
}

func rawMessageFrom(msg *pkgmcp.Message) *RawMessage {
	if msg == nil || msg.Raw == nil {
		return nil
	}
	var raw RawMessage
	if err := json.Unmarshal(msg.Raw, &raw); err != nil {
		return nil
	}
	return &raw
}

func extractClientInfo(msg *pkgmcp.Message) *ClientInfo {
	params := msg.ParseParams()
	if params == nil {
		return nil
	}
	ci, ok := params["clientInfo"].(map[string]interface{})
	if !ok {
		return nil
	}
	info := ClientInfo{}
	if name, ok := ci["name"].(string); ok {
		info.Name = name
	}
	if version, ok := ci["version"].(string); ok {
		info.Version = version
	}
	return &info
}

func extractServerInfo(msg *pkgmcp.Message) *ServerInfo {
	resp := msg.Response()
	if resp == nil || resp.Result == nil {
		return nil
	}
	var result struct {
		ServerInfo struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil
	}
	if result.ServerInfo.Name == "" && result.ServerInfo.Version == "" {
		return nil
	}
	return &ServerInfo{Name: result.ServerInfo.Name, Version: result.ServerInfo.Version}
}

// OnRequest builds and persists a request record for a session identifier
// that is already final (the common case: either a client-supplied
// Mcp-Session-Id or the "stateless" sentinel). Registers the request with
// RequestTracker for later duration measurement.
func (p *Pipeline) OnRequest(ctx context.Context, serverName, sessionID string, msg *pkgmcp.Message) {
	now := time.Now()
	reqID := idString(msg)

	if msg.Method() == "initialize" {
		if ci := extractClientInfo(msg); ci != nil {
			p.sessionInfo.SetClientInfo(sessionID, *ci)
		}
	}

	rec := Record{
		Timestamp:  now,
		ServerName: serverName,
		SessionID:  sessionID,
		Direction:  DirectionRequest,
		Method:     msg.Method(),
		ID:         reqID,
		Request:    rawMessageFrom(msg),
	}
	rec.ClientInfo, rec.ServerInfo = p.sessionInfo.Get(sessionID)

	if reqID != "" {
		p.tracker.Begin(sessionID, reqID, msg.Method(), now)
	}

	p.write(ctx, rec)
}

// OnRequestPendingAdoption builds a request record but holds it in memory
// instead of persisting it, because the session identifier is not yet
// final: this is the HTTP initialize-with-no-inbound-session case, where
// the upstream's response may carry a freshly minted Mcp-Session-Id that
// the gateway must adopt before any record naming this exchange is written.
// The caller must follow up with OnResponseAdopted once the final session
// id is known, even if it turns out to be StatelessSessionID.
func (p *Pipeline) OnRequestPendingAdoption(serverName string, msg *pkgmcp.Message) {
	now := time.Now()
	reqID := idString(msg)
	if reqID == "" {
		return
	}

	rec := Record{
		Timestamp:  now,
		ServerName: serverName,
		Direction:  DirectionRequest,
		Method:     msg.Method(),
		ID:         reqID,
		Request:    rawMessageFrom(msg),
	}

	key := pendingKey{ServerName: serverName, RequestID: reqID}
	p.mu.Lock()
	p.pending[key] = &pendingRequest{record: rec, start: now}
	p.mu.Unlock()
}

// OnResponseAdopted finalizes a pending request's session id, persists the
// request record and then the response record. finalSessionID is either an
// Mcp-Session-Id the upstream minted, or StatelessSessionID if it didn't.
func (p *Pipeline) OnResponseAdopted(ctx context.Context, serverName, finalSessionID string, reqMsg, respMsg *pkgmcp.Message, httpStatus int) {
	reqID := idString(reqMsg)
	key := pendingKey{ServerName: serverName, RequestID: reqID}

	p.mu.Lock()
	pend, ok := p.pending[key]
	if ok {
		delete(p.pending, key)
	}
	p.mu.Unlock()

	if !ok {
		p.log.Warn("no pending adoption entry for request", "server_name", serverName, "request_id", reqID)
		return
	}

	if reqMsg.Method() == "initialize" {
		if si := extractServerInfo(respMsg); si != nil {
			p.sessionInfo.SetServerInfo(finalSessionID, *si)
		}
	}

	reqRecord := pend.record
	reqRecord.SessionID = finalSessionID
	reqRecord.ClientInfo, reqRecord.ServerInfo = p.sessionInfo.Get(finalSessionID)
	p.write(ctx, reqRecord)

	now := time.Now()
	duration := now.Sub(pend.start).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	respRecord := Record{
		Timestamp:  now,
		ServerName: serverName,
		SessionID:  finalSessionID,
		Direction:  DirectionResponse,
		Method:     reqMsg.Method(),
		ID:         reqID,
		Response:   rawMessageFrom(respMsg),
		HTTPStatus: httpStatus,
		DurationMs: duration,
	}
	respRecord.ClientInfo, respRecord.ServerInfo = p.sessionInfo.Get(finalSessionID)
	p.write(ctx, respRecord)
}

// OnPendingAdoptionFailed finalizes a pending adoption entry when the
// upstream call that would have revealed the final session id itself
// failed (spec §9): there is no minted id to adopt, so the deferred
// request record is persisted under StatelessSessionID instead of being
// silently dropped. A no-op if no pending entry matches - e.g. reqMsg had
// no id and OnRequestPendingAdoption already skipped it.
func (p *Pipeline) OnPendingAdoptionFailed(ctx context.Context, serverName string, reqMsg *pkgmcp.Message) {
	reqID := idString(reqMsg)
	key := pendingKey{ServerName: serverName, RequestID: reqID}

	p.mu.Lock()
	pend, ok := p.pending[key]
	if ok {
		delete(p.pending, key)
	}
	p.mu.Unlock()

	if !ok {
		return
	}

	rec := pend.record
	rec.SessionID = StatelessSessionID
	rec.ClientInfo, rec.ServerInfo = p.sessionInfo.Get(StatelessSessionID)
	p.write(ctx, rec)
}

// OnResponse builds and persists a response record, ending RequestTracker
// for duration measurement. If method is initialize and the result
// contains serverInfo, records it in SessionInfoCache.
func (p *Pipeline) OnResponse(ctx context.Context, serverName, sessionID string, msg *pkgmcp.Message, httpStatus int) {
	reqID := idString(msg)

	var duration int64
	var method string
	if reqID != "" {
		d, m, ok := p.tracker.End(sessionID, reqID, time.Now())
		if ok {
			duration = d
			method = m
		} else {
			p.log.Warn("response with no matching tracked request",
				"session_id", sessionID, "request_id", reqID)
		}
	}

	if method == "initialize" {
		if si := extractServerInfo(msg); si != nil {
			p.sessionInfo.SetServerInfo(sessionID, *si)
			if err := p.storage.BackfillServerInfo(ctx, serverName, sessionID, reqID, *si); err != nil {
				p.log.Error("capture backfill failed", "error", err,
					"server_name", serverName, "session_id", sessionID, "request_id", reqID)
			}
		}
	}

	rec := Record{
		Timestamp:  time.Now(),
		ServerName: serverName,
		SessionID:  sessionID,
		Direction:  DirectionResponse,
		Method:     method,
		ID:         reqID,
		Response:   rawMessageFrom(msg),
		HTTPStatus: httpStatus,
		DurationMs: duration,
	}
	rec.ClientInfo, rec.ServerInfo = p.sessionInfo.Get(sessionID)
	p.write(ctx, rec)
}

// OnSseEvent persists one parsed SSE-delivered JSON-RPC message. If it is a
// response with a known id, also ends RequestTracker for duration so the
// record reflects the true round-trip time.
func (p *Pipeline) OnSseEvent(ctx context.Context, serverName, sessionID string, msg *pkgmcp.Message, sseEventID string) {
	reqID := idString(msg)

	var duration int64
	method := msg.Method()
	if msg.IsResponse() && reqID != "" {
		if d, m, ok := p.tracker.End(sessionID, reqID, time.Now()); ok {
			duration = d
			if m != "" {
				method = m
			}
			if method == "initialize" {
				if si := extractServerInfo(msg); si != nil {
					p.sessionInfo.SetServerInfo(sessionID, *si)
					if err := p.storage.BackfillServerInfo(ctx, serverName, sessionID, reqID, *si); err != nil {
						p.log.Error("capture backfill failed", "error", err,
							"server_name", serverName, "session_id", sessionID, "request_id", reqID)
					}
				}
			}
		}
	}

	rec := Record{
		Timestamp:  time.Now(),
		ServerName: serverName,
		SessionID:  sessionID,
		Direction:  DirectionSSEEvent,
		Method:     method,
		ID:         reqID,
		Response:   rawMessageFrom(msg),
		DurationMs: duration,
		SSEEventID: sseEventID,
	}
	rec.ClientInfo, rec.ServerInfo = p.sessionInfo.Get(sessionID)
	p.write(ctx, rec)
}

// OnError synthesizes and persists a response record reflecting an upstream
// transport or decode failure. Ends RequestTracker if the failed request
// had a known id, so the tracker doesn't leak an entry that will never
// receive a real response.
func (p *Pipeline) OnError(ctx context.Context, serverName, sessionID string, reqMsg *pkgmcp.Message, errMessage string, httpStatus int) {
	reqID := idString(reqMsg)

	var duration int64
	if reqID != "" {
		if d, _, ok := p.tracker.End(sessionID, reqID, time.Now()); ok {
			duration = d
		}
	}

	errBody, _ := json.Marshal(struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}{Code: -32603, Message: errMessage})

	rec := Record{
		Timestamp:  time.Now(),
		ServerName: serverName,
		SessionID:  sessionID,
		Direction:  DirectionError,
		Method:     reqMsg.Method(),
		ID:         reqID,
		Response: &RawMessage{
			JSONRPC: "2.0",
			ID:      reqMsg.RawID(),
			Error:   errBody,
		},
		HTTPStatus: httpStatus,
		DurationMs: duration,
	}
	rec.ClientInfo, rec.ServerInfo = p.sessionInfo.Get(sessionID)
	p.write(ctx, rec)
}

// EvictSession drops every piece of in-memory correlation state this
// pipeline holds for sessionID - outstanding RequestTracker entries and the
// SessionInfoCache identity - so a session that has ended (stdio subprocess
// exit, isolated-mode eviction) doesn't leak memory for the life of the
// gateway (spec.md line 71). Safe to call for a session with no tracked
// state; it's simply a no-op.
func (p *Pipeline) EvictSession(sessionID string) {
	p.tracker.Sweep(sessionID)
	p.sessionInfo.Evict(sessionID)
}

// Clear drops every piece of in-memory correlation state across all
// sessions, used at gateway shutdown.
func (p *Pipeline) Clear() {
	p.tracker.Clear()
	p.sessionInfo.Clear()
}

func (p *Pipeline) write(ctx context.Context, rec Record) {
	if err := p.storage.WriteRecord(ctx, rec); err != nil {
		p.log.Error("capture write failed", "error", err,
			"server_name", rec.ServerName, "session_id", rec.SessionID, "direction", rec.Direction)
		return
	}
	if p.recordsWritten != nil {
		p.recordsWritten.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("direction", string(rec.Direction)),
				attribute.String("server_name", rec.ServerName),
			))
	}
}
