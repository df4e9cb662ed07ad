package capture

import (
	"log/slog"
	"sync"
	"time"
)

// trackerKey identifies one outstanding request within a session.
type trackerKey struct {
	SessionID string
	RequestID string
}

type trackerEntry struct {
	start  time.Time
	method string
}

// RequestTracker correlates outstanding request IDs to their start time so
// CapturePipeline can compute response duration. One instance is shared by
// the whole gateway; safe for concurrent use.
type RequestTracker struct {
	mu      sync.Mutex
	pending map[trackerKey]trackerEntry
	log     *slog.Logger
}

// NewRequestTracker creates an empty tracker.
func NewRequestTracker(log *slog.Logger) *RequestTracker {
	if log == nil {
		log = slog.Default()
	}
	return &RequestTracker{
		pending: make(map[trackerKey]trackerEntry),
		log:     log,
	}
}

// Begin records a request's start time. If the (sessionID, requestID) pair
// is already tracked - a client reusing an id within the same session - the
// new start silently overwrites the old one; this is logged since it
// indicates a client-side bug, not a gateway fault.
func (t *RequestTracker) Begin(sessionID, requestID, method string, start time.Time) {
	if requestID == "" {
		return
	}
	key := trackerKey{SessionID: sessionID, RequestID: requestID}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[key]; exists {
		t.log.Warn("duplicate request id within session, overwriting tracker entry",
			"session_id", sessionID, "request_id", requestID, "method", method)
	}
	t.pending[key] = trackerEntry{start: start, method: method}
}

// End removes and returns the tracked entry for (sessionID, requestID),
// reporting the elapsed duration in milliseconds. ok is false for a late or
// orphan response with no matching Begin.
func (t *RequestTracker) End(sessionID, requestID string, end time.Time) (durationMs int64, method string, ok bool) {
	if requestID == "" {
		return 0, "", false
	}
	key := trackerKey{SessionID: sessionID, RequestID: requestID}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.pending[key]
	if !exists {
		return 0, "", false
	}
	delete(t.pending, key)

	d := end.Sub(entry.start).Milliseconds()
	if d < 0 {
		d = 0
	}
	return d, entry.method, true
}

// Sweep drops every entry tracked for sessionID, used when a session ends
// (eviction, subprocess exit) so orphaned entries don't leak memory.
func (t *RequestTracker) Sweep(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key := range t.pending {
		if key.SessionID == sessionID {
			delete(t.pending, key)
		}
	}
}

// Clear removes every tracked entry, used at gateway shutdown.
func (t *RequestTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = make(map[trackerKey]trackerEntry)
}
