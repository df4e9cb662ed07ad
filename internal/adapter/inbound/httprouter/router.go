// Package httprouter is the HTTP entry point that dispatches proxied MCP
// traffic to a registered upstream, over either the HTTP or stdio
// transport, with every exchange observed by the capture pipeline.
package httprouter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcp-gateway/gateway/internal/adapter/outbound/httpupstream"
	"github.com/mcp-gateway/gateway/internal/domain/capture"
	"github.com/mcp-gateway/gateway/internal/domain/sse"
	"github.com/mcp-gateway/gateway/internal/domain/upstream"
	"github.com/mcp-gateway/gateway/internal/telemetry"
	pkgmcp "github.com/mcp-gateway/gateway/pkg/mcp"
)

// maxRequestBodySize bounds an inbound proxied request (spec §5: "default 8 MiB").
const maxRequestBodySize = 8 << 20

// sessionHeader is the MCP-defined session identifier header, read
// case-insensitively via http.Header.Get.
const sessionHeader = "Mcp-Session-Id"

// protocolVersionHeader, when the client sends it, is copied unmodified onto
// the gateway's response to the client; it is not forwarded to the upstream.
const protocolVersionHeader = "MCP-Protocol-Version"

// HTTPSender forwards one JSON-RPC request to an HTTP upstream.
// httpupstream.Client satisfies this.
type HTTPSender interface {
	Forward(ctx context.Context, sessionID string, req *pkgmcp.Message) (*httpupstream.Result, error)
}

// StdioSender forwards one JSON-RPC request to a stdio-supervised upstream.
// stdioproc.SessionManager satisfies this.
type StdioSender interface {
	Send(ctx context.Context, sessionID string, req *pkgmcp.Message) (*pkgmcp.Message, error)
}

// Router dispatches POST /servers/{name}/mcp (and the /s/{name}/mcp alias)
// to whichever sender is registered for that server name.
type Router struct {
	store    upstream.Store
	registry *upstream.Registry
	pipeline *capture.Pipeline
	log      *slog.Logger

	mu      sync.RWMutex
	http    map[string]HTTPSender
	stdio   map[string]StdioSender
	metrics *Metrics
}

// NewRouter wires a router against its dependencies. metrics may be nil,
// in which case request metrics are not recorded.
func NewRouter(store upstream.Store, registry *upstream.Registry, pipeline *capture.Pipeline, metrics *Metrics, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		store:    store,
		registry: registry,
		pipeline: pipeline,
		metrics:  metrics,
		log:      log,
		http:     make(map[string]HTTPSender),
		stdio:    make(map[string]StdioSender),
	}
}

// RegisterHTTP makes name routable to an HTTP sender.
func (rt *Router) RegisterHTTP(name string, sender HTTPSender) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.http[name] = sender
	delete(rt.stdio, name)
}

// RegisterStdio makes name routable to a stdio sender.
func (rt *Router) RegisterStdio(name string, sender StdioSender) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.stdio[name] = sender
	delete(rt.http, name)
}

// Unregister removes a server's sender, used when it is removed via the
// management API.
func (rt *Router) Unregister(name string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.http, name)
	delete(rt.stdio, name)
}

func (rt *Router) senderFor(name string) (HTTPSender, StdioSender) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.http[name], rt.stdio[name]
}

// Mux builds the ServeMux for the proxied-MCP routes, under bearer auth if
// verifier is non-nil.
func (rt *Router) Mux(verifier BearerVerifier) http.Handler {
	mux := http.NewServeMux()
	handler := http.HandlerFunc(rt.handleProxy)

	chain := MetricsMiddleware(rt.metrics)(
		RequestIDMiddleware(rt.log)(
			RealIPMiddleware(
				BearerAuthMiddleware(verifier)(handler))))

	mux.Handle("POST /servers/{name}/mcp", chain)
	mux.Handle("POST /s/{name}/mcp", chain)
	return mux
}

func (rt *Router) handleProxy(w http.ResponseWriter, r *http.Request) {
	name := normalizeName(r.PathValue("name"))

	ctx, span := telemetry.Tracer().Start(r.Context(), "mcp.proxy",
		trace.WithAttributes(attribute.String("mcp.server_name", name)))
	defer span.End()
	log := LoggerFromContext(ctx, rt.log)

	cfg, err := rt.store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			http.Error(w, "server not registered", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeParseError(w, "request body too large or unreadable")
		return
	}
	if !json.Valid(body) {
		writeParseError(w, "invalid JSON")
		return
	}

	msg := &pkgmcp.Message{Raw: body, Direction: pkgmcp.ClientToServer, Timestamp: time.Now()}
	if decoded, derr := pkgmcp.DecodeMessage(body); derr == nil {
		msg.Decoded = decoded
	} else {
		writeParseError(w, "not a JSON-RPC message")
		return
	}

	sessionID := r.Header.Get(sessionHeader)
	// pendingAdoption marks the HTTP-initialize-with-no-inbound-session case
	// (spec §9): the request record can't be persisted under its final
	// session id yet, because that id doesn't exist until the upstream
	// mints one in its response. Only the HTTP transport adopts an
	// upstream-minted id; stdio sessions are addressed by the id the
	// gateway itself assigned, so there is nothing to wait for.
	httpSender, stdioSender := rt.senderFor(cfg.Name)
	pendingAdoption := sessionID == "" && httpSender != nil && msg.Method() == "initialize"
	if sessionID == "" {
		sessionID = capture.StatelessSessionID
	}

	if pendingAdoption {
		rt.pipeline.OnRequestPendingAdoption(cfg.Name, msg)
	} else {
		rt.pipeline.OnRequest(ctx, cfg.Name, sessionID, msg)
	}
	rt.registry.RecordActivity(cfg.Name, time.Now())

	switch {
	case httpSender != nil:
		rt.forwardHTTP(ctx, w, r, cfg.Name, sessionID, pendingAdoption, msg, httpSender, log)
	case stdioSender != nil:
		rt.forwardStdio(ctx, w, cfg.Name, sessionID, msg, stdioSender, log)
	default:
		rt.pipeline.OnError(ctx, cfg.Name, sessionID, msg, "no sender registered for server", http.StatusBadGateway)
		http.Error(w, "server has no active transport", http.StatusBadGateway)
	}
}

func (rt *Router) forwardHTTP(ctx context.Context, w http.ResponseWriter, r *http.Request, name, sessionID string, pendingAdoption bool, msg *pkgmcp.Message, sender HTTPSender, log *slog.Logger) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("mcp.transport", "http"), attribute.String("mcp.session_id", sessionID))

	result, err := sender.Forward(ctx, sessionID, msg)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.Warn("upstream forward failed", "server_name", name, "error", err)
		if pendingAdoption {
			rt.pipeline.OnPendingAdoptionFailed(ctx, name, msg)
		}
		rt.pipeline.OnError(ctx, name, sessionID, msg, err.Error(), http.StatusBadGateway)
		writeInternalError(w, http.StatusBadGateway)
		return
	}

	adoptedSessionID := sessionID
	if result.SessionID != "" {
		adoptedSessionID = result.SessionID
	}
	if pv := r.Header.Get(protocolVersionHeader); pv != "" {
		w.Header().Set(protocolVersionHeader, pv)
	}
	w.Header().Set(sessionHeader, adoptedSessionID)

	switch result.Kind {
	case httpupstream.SSEResultKind:
		if pendingAdoption {
			// No single response message to adopt the pending request
			// against - persist it now under the adopted id so later SSE
			// events (which never carry DirectionResponse, only
			// DirectionSSEEvent) have a paired request record, and so
			// RequestTracker.Begin runs under the id OnSseEvent's own
			// tracker.End call will look it up by.
			rt.pipeline.OnRequest(ctx, name, adoptedSessionID, msg)
		}
		rt.streamSSE(ctx, w, name, adoptedSessionID, result, log)
	default:
		if pendingAdoption {
			rt.pipeline.OnResponseAdopted(ctx, name, adoptedSessionID, msg, result.Message, result.StatusCode)
		} else {
			rt.pipeline.OnResponse(ctx, name, adoptedSessionID, result.Message, result.StatusCode)
		}
		w.Header().Set("Content-Type", result.ContentType)
		w.WriteHeader(result.StatusCode)
		_, _ = w.Write(result.Message.Raw)
	}
}

func (rt *Router) forwardStdio(ctx context.Context, w http.ResponseWriter, name, sessionID string, msg *pkgmcp.Message, sender StdioSender, log *slog.Logger) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("mcp.transport", "stdio"), attribute.String("mcp.session_id", sessionID))

	resp, err := sender.Send(ctx, sessionID, msg)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.Warn("stdio send failed", "server_name", name, "session_id", sessionID, "error", err)
		rt.pipeline.OnError(ctx, name, sessionID, msg, err.Error(), http.StatusBadGateway)
		writeInternalError(w, http.StatusBadGateway)
		return
	}

	rt.pipeline.OnResponse(ctx, name, sessionID, resp, http.StatusOK)
	w.Header().Set(sessionHeader, sessionID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp.Raw)
}

// streamSSE relays an SSE upstream body to the client unmodified, parsing
// each event for capture as it passes through (spec §4.10 step 7).
func (rt *Router) streamSSE(ctx context.Context, w http.ResponseWriter, name, sessionID string, result *httpupstream.Result, log *slog.Logger) {
	defer result.Body.Close()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(result.StatusCode)
	if flusher != nil {
		flusher.Flush()
	}

	tee := &flushWriter{w: w, flusher: flusher}
	framer := sse.NewFramer(result.Body, tee)

	for {
		evt, err := framer.Next(ctx)
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				log.Warn("sse framing ended with error", "server_name", name, "error", err)
			}
			return
		}

		msg := &pkgmcp.Message{Raw: evt.Data, Direction: pkgmcp.ServerToClient, Timestamp: time.Now()}
		if decoded, derr := pkgmcp.DecodeMessage(evt.Data); derr == nil {
			msg.Decoded = decoded
		}
		rt.pipeline.OnSseEvent(ctx, name, sessionID, msg, evt.ID)
	}
}

// flushWriter flushes after every write so SSE bytes reach the client as
// they are tee'd from the upstream reader, rather than waiting in a buffer.
type flushWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if f.flusher != nil {
		f.flusher.Flush()
	}
	return n, err
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func writeParseError(w http.ResponseWriter, detail string) {
	writeJSONRPCError(w, http.StatusBadRequest, -32700, "Parse error: "+detail)
}

func writeInternalError(w http.ResponseWriter, status int) {
	writeJSONRPCError(w, status, -32603, "Internal error")
}

func writeJSONRPCError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		JSONRPC string `json:"jsonrpc"`
		ID      any    `json:"id"`
		Error   struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{
		JSONRPC: "2.0",
		Error: struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}{Code: code, Message: message},
	})
}
