package chat

import "sync"

// SessionInfo describes one live connection. ChatID and Username are empty
// until the connection joins a conversation.
type SessionInfo struct {
	ConnID   string
	ChatID   string
	Username string

	sender Sender
}

// SessionRegistry tracks live connections and their conversation binding.
// It is a pure in-memory mapping; no I/O happens under its lock.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]SessionInfo
}

// NewSessionRegistry bootstraps an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]SessionInfo)}
}

// Add registers a freshly connected, not-yet-joined connection.
func (r *SessionRegistry) Add(connID string, sender Sender) {
	r.mu.Lock()
	r.sessions[connID] = SessionInfo{ConnID: connID, sender: sender}
	r.mu.Unlock()
}

// Bind attaches a conversation and display name to a connection. Rebinding
// overwrites the previous conversation; no explicit leave is required.
func (r *SessionRegistry) Bind(connID, chatID, username string) (SessionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.sessions[connID]
	if !ok {
		return SessionInfo{}, false
	}
	info.ChatID = chatID
	info.Username = username
	r.sessions[connID] = info
	return info, true
}

// Lookup returns the session bound to a connection id.
func (r *SessionRegistry) Lookup(connID string) (SessionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.sessions[connID]
	return info, ok
}

// Remove deletes a connection and returns its last known state. Removing an
// unknown connection is a no-op.
func (r *SessionRegistry) Remove(connID string) (SessionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.sessions[connID]
	if ok {
		delete(r.sessions, connID)
	}
	return info, ok
}
