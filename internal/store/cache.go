package store

import (
	"sync"

	"github.com/tyin88/agentgw/internal/domain"
)

// MemoryCache is the in-process cache tier for session metadata.
type MemoryCache struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
}

// NewMemoryCache creates an empty session cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{sessions: make(map[string]domain.Session)}
}

// Get returns a copy of the cached session, if present.
func (c *MemoryCache) Get(sessionID string) (*domain.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	session, ok := c.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return &session, true
}

// Put stores a copy of the session.
func (c *MemoryCache) Put(session *domain.Session) {
	if session == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[session.SessionID] = *session
}

// Delete evicts a session.
func (c *MemoryCache) Delete(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}

// Len reports the number of cached sessions.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}
