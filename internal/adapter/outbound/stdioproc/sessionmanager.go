package stdioproc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mcp-gateway/gateway/internal/domain/upstream"
	pkgmcp "github.com/mcp-gateway/gateway/pkg/mcp"
)

const (
	ErrSessionNotFound     ErrCode = "SESSION_NOT_FOUND"
	ErrSessionCrashed      ErrCode = "SESSION_CRASHED"
	ErrRestartNotSupported ErrCode = "RESTART_NOT_SUPPORTED"
)

// initCeiling bounds the synthesized initialize handshake a shared-mode
// manager performs against the subprocess before declaring it running.
const initCeiling = 60 * time.Second

type isolatedSession struct {
	proc         *Process
	lastActivity time.Time
}

// SessionManager multiplexes MCP sessions onto one or more stdio
// subprocesses for a single configured server, per spec §4.5's shared and
// isolated modes.
type SessionManager struct {
	cfg upstream.Config
	log *slog.Logger

	mu sync.Mutex

	// Shared mode.
	shared *Process

	// Isolated mode.
	isolated map[string]*isolatedSession

	// onSessionEvicted, if set, is called whenever an isolated session is
	// removed - by LRU pressure, explicit EvictSession, or Shutdown - so a
	// caller can drop any per-session state it keeps keyed by sessionID
	// (RequestTracker entries, SessionInfoCache identity). Never called for
	// shared mode, which has no per-session subprocess lifecycle to key on.
	onSessionEvicted func(sessionID string)
}

// NewSessionManager creates a manager for cfg. Call Initialize to spawn the
// shared-mode process; isolated mode spawns lazily on first initialize.
func NewSessionManager(cfg upstream.Config, log *slog.Logger) *SessionManager {
	if log == nil {
		log = slog.Default()
	}
	return &SessionManager{
		cfg:      cfg,
		log:      log,
		isolated: make(map[string]*isolatedSession),
	}
}

// SetSessionEvictedHook registers fn to be called for every isolated session
// this manager subsequently evicts. Must be called before Send is first
// used concurrently with eviction; typically set immediately after
// NewSessionManager.
func (m *SessionManager) SetSessionEvictedHook(fn func(sessionID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSessionEvicted = fn
}

// Initialize spawns the shared-mode subprocess and performs its initialize
// handshake. No-op for isolated mode, whose processes spawn lazily.
func (m *SessionManager) Initialize(ctx context.Context) error {
	if m.cfg.SessionMode != upstream.SessionShared {
		return nil
	}

	proc := New(m.cfg, m.log, func(err error) {
		m.log.Error("stdio shared process exited", "server_name", m.cfg.Name, "error", err)
	})
	if err := proc.Start(ctx); err != nil {
		return fmt.Errorf("sessionmanager: start shared process: %w", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, initCeiling)
	defer cancel()

	initReq := []byte(`{"jsonrpc":"2.0","id":"__init__","method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"mcp-gateway","version":"1"}}}`)
	if _, err := proc.RawSend(initCtx, "__init__", initReq, initCeiling); err != nil {
		_ = proc.Terminate(ctx)
		return fmt.Errorf("sessionmanager: shared process failed to initialize: %w", err)
	}

	m.mu.Lock()
	m.shared = proc
	m.mu.Unlock()
	return nil
}

// Send forwards req for sessionID, dispatching to shared or isolated mode.
func (m *SessionManager) Send(ctx context.Context, sessionID string, req *pkgmcp.Message) (*pkgmcp.Message, error) {
	if m.cfg.SessionMode == upstream.SessionIsolated {
		return m.sendIsolated(ctx, sessionID, req)
	}
	return m.sendShared(ctx, sessionID, req)
}

func (m *SessionManager) sendShared(ctx context.Context, sessionID string, req *pkgmcp.Message) (*pkgmcp.Message, error) {
	m.mu.Lock()
	proc := m.shared
	m.mu.Unlock()

	if proc == nil {
		return nil, &ProcessError{Code: ErrServerError, Message: "shared process not yet initialized"}
	}

	if req.IDString() == "" {
		return nil, proc.SendNotification(req)
	}

	originalID := req.RawID()
	wireID := sessionID + ":" + req.IDString()

	namespaced, err := rewriteID(req.Raw, wireID)
	if err != nil {
		return nil, &ProcessError{Code: ErrServerError, Message: fmt.Sprintf("id rewrite failed: %v", err)}
	}
	wireMsg := &pkgmcp.Message{Raw: namespaced, Direction: pkgmcp.ClientToServer, Timestamp: time.Now()}

	resp, err := proc.Send(ctx, wireID, wireMsg, m.cfg.EffectiveRequestTimeout())
	if err != nil {
		return nil, err
	}

	restored, err := restoreID(resp.Raw, originalID)
	if err != nil {
		return nil, &ProcessError{Code: ErrServerError, Message: fmt.Sprintf("id restore failed: %v", err)}
	}
	decoded, _ := pkgmcp.DecodeMessage(restored)
	return &pkgmcp.Message{Raw: restored, Direction: pkgmcp.ServerToClient, Decoded: decoded, Timestamp: time.Now()}, nil
}

func (m *SessionManager) sendIsolated(ctx context.Context, sessionID string, req *pkgmcp.Message) (*pkgmcp.Message, error) {
	if sessionID == "" {
		return nil, &ProcessError{Code: ErrInvalidRequest, Message: "isolated mode requires a session id"}
	}

	m.mu.Lock()
	sess, exists := m.isolated[sessionID]
	if !exists {
		if req.Method() != "initialize" {
			m.mu.Unlock()
			return nil, &ProcessError{Code: ErrSessionNotFound, Message: "no session with this id; call initialize first"}
		}
		proc, err := m.spawnIsolatedLocked(ctx, sessionID)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		sess = &isolatedSession{proc: proc, lastActivity: time.Now()}
		m.isolated[sessionID] = sess
	}
	sess.lastActivity = time.Now()
	proc := sess.proc
	m.mu.Unlock()

	if proc.Status().Status == upstream.ProcessCrashed {
		return nil, &ProcessError{Code: ErrSessionCrashed, Message: "session's subprocess crashed; start a new session"}
	}

	if req.IDString() == "" {
		return nil, proc.SendNotification(req)
	}

	resp, err := proc.Send(ctx, req.IDString(), req, m.cfg.EffectiveRequestTimeout())
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// spawnIsolatedLocked creates a new subprocess for sessionID, evicting the
// LRU session first if the cap is reached. Caller must hold m.mu.
func (m *SessionManager) spawnIsolatedLocked(ctx context.Context, sessionID string) (*Process, error) {
	if len(m.isolated) >= upstream.MaxIsolatedSessions {
		m.evictLRULocked()
	}

	sid := sessionID
	proc := New(m.cfg, m.log, func(err error) {
		m.log.Warn("stdio isolated process exited", "server_name", m.cfg.Name, "session_id", sid, "error", err)
	})
	if err := proc.Start(ctx); err != nil {
		return nil, &ProcessError{Code: ErrServerError, Message: fmt.Sprintf("spawn failed: %v", err)}
	}
	return proc, nil
}

// evictLRULocked terminates and removes the isolated session with the
// oldest lastActivity. Caller must hold m.mu.
func (m *SessionManager) evictLRULocked() {
	if len(m.isolated) == 0 {
		return
	}
	ids := make([]string, 0, len(m.isolated))
	for id := range m.isolated {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.isolated[ids[i]].lastActivity.Before(m.isolated[ids[j]].lastActivity)
	})

	oldest := ids[0]
	victim := m.isolated[oldest]
	delete(m.isolated, oldest)

	if m.onSessionEvicted != nil {
		m.onSessionEvicted(oldest)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = victim.proc.Terminate(ctx)
	}()
}

// Restart terminates the shared-mode process (if any) and re-initializes
// it. Unsupported in isolated mode.
func (m *SessionManager) Restart(ctx context.Context) error {
	if m.cfg.SessionMode == upstream.SessionIsolated {
		return &ProcessError{Code: ErrRestartNotSupported, Message: "isolated mode does not support restart"}
	}

	m.mu.Lock()
	proc := m.shared
	m.shared = nil
	m.mu.Unlock()

	if proc != nil {
		_ = proc.Terminate(ctx)
	}
	return m.Initialize(ctx)
}

// Shutdown terminates every supervised subprocess, evicting each isolated
// session first so onSessionEvicted's caller doesn't retain per-session
// state past the subprocess that backed it.
func (m *SessionManager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	shared := m.shared
	isolated := make([]*Process, 0, len(m.isolated))
	evicted := make([]string, 0, len(m.isolated))
	for sessionID, sess := range m.isolated {
		isolated = append(isolated, sess.proc)
		evicted = append(evicted, sessionID)
	}
	m.shared = nil
	m.isolated = make(map[string]*isolatedSession)
	hook := m.onSessionEvicted
	m.mu.Unlock()

	if hook != nil {
		for _, sessionID := range evicted {
			hook(sessionID)
		}
	}

	if shared != nil {
		_ = shared.Terminate(ctx)
	}
	for _, proc := range isolated {
		_ = proc.Terminate(ctx)
	}
}

// RuntimeSnapshot reports the supervised state for the server runtime view.
func (m *SessionManager) RuntimeSnapshot() upstream.StdioRuntime {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.SessionMode == upstream.SessionIsolated {
		if len(m.isolated) == 0 {
			return upstream.StdioRuntime{Status: upstream.ProcessIsolated}
		}
		return upstream.StdioRuntime{Status: upstream.ProcessIsolated, SessionCount: len(m.isolated)}
	}

	if m.shared == nil {
		return upstream.StdioRuntime{Status: upstream.ProcessStopped}
	}
	return m.shared.Status()
}

// EvictSession removes an isolated-mode session without waiting for LRU
// pressure, used when the capture layer observes the session has ended.
func (m *SessionManager) EvictSession(sessionID string) {
	m.mu.Lock()
	sess, ok := m.isolated[sessionID]
	if ok {
		delete(m.isolated, sessionID)
	}
	hook := m.onSessionEvicted
	m.mu.Unlock()

	if !ok {
		return
	}

	if hook != nil {
		hook(sessionID)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = sess.proc.Terminate(ctx)
	}()
}

// rewriteID returns a copy of raw with its "id" field replaced by the
// string value newID.
func rewriteID(raw []byte, newID string) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(newID)
	if err != nil {
		return nil, err
	}
	fields["id"] = encoded
	return json.Marshal(fields)
}

// restoreID returns a copy of raw with its "id" field replaced by original
// (the caller's own id, as raw JSON - may be a number, string, or absent).
func restoreID(raw []byte, original json.RawMessage) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if original == nil {
		delete(fields, "id")
	} else {
		fields["id"] = original
	}
	return json.Marshal(fields)
}
