package events

import (
	"sync"

	"github.com/google/uuid"
)

var (
	sessionMu sync.RWMutex
	sessionID string
)

// StartSession begins a new play session. Every event emitted afterwards
// carries the new session id until the next call.
func StartSession() string {
	id := uuid.NewString()

	sessionMu.Lock()
	prev := sessionID
	sessionID = id
	sessionMu.Unlock()

	fields := map[string]interface{}{"session_id": id}
	if prev != "" {
		fields["previous_session_id"] = prev
	}
	Emit("info", "session.started", "", fields)
	return id
}

// SessionID returns the current session id, or "" before the first session.
func SessionID() string {
	sessionMu.RLock()
	defer sessionMu.RUnlock()
	return sessionID
}
