package capture

import "sync"

// sessionIdentity holds the at-most-once client/server identity for one
// session.
type sessionIdentity struct {
	client *ClientInfo
	server *ServerInfo
}

// SessionInfoCache is the process-wide, per-session mapping from session id
// to the client/server identity observed during the initialize handshake.
// Written once per field per session; safe for concurrent use.
type SessionInfoCache struct {
	mu       sync.RWMutex
	sessions map[string]*sessionIdentity
}

// NewSessionInfoCache creates an empty cache.
func NewSessionInfoCache() *SessionInfoCache {
	return &SessionInfoCache{
		sessions: make(map[string]*sessionIdentity),
	}
}

// SetClientInfo records a session's client identity. A no-op if the session
// already has one recorded - client identity is set at most once per
// session lifetime (spec invariant).
func (c *SessionInfoCache) SetClientInfo(sessionID string, info ClientInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.sessions[sessionID]
	if id == nil {
		id = &sessionIdentity{}
		c.sessions[sessionID] = id
	}
	if id.client == nil {
		id.client = &info
	}
}

// SetServerInfo records a session's server identity. Also set at most once.
func (c *SessionInfoCache) SetServerInfo(sessionID string, info ServerInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.sessions[sessionID]
	if id == nil {
		id = &sessionIdentity{}
		c.sessions[sessionID] = id
	}
	if id.server == nil {
		id.server = &info
	}
}

// Get returns the client/server identity known for a session, if any.
func (c *SessionInfoCache) Get(sessionID string) (client *ClientInfo, server *ServerInfo) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return id.client, id.server
}

// HasClientInfo reports whether a new initialize for sessionID would collide
// with an already-bound client identity, signaling that the caller should
// treat this as a new logical session rather than reusing sessionID.
func (c *SessionInfoCache) HasClientInfo(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.sessions[sessionID]
	return ok && id.client != nil
}

// Evict removes a session's cached identity, used on LRU eviction or
// subprocess exit in isolated mode.
func (c *SessionInfoCache) Evict(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}

// Clear removes every cached session, used at gateway shutdown.
func (c *SessionInfoCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = make(map[string]*sessionIdentity)
}
