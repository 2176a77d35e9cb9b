package registry

import (
	"pok7/internal/core/contracts"
	"sync"
)

// Registry indexes the live sessions attached to this process by user.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]contracts.Client // user_id → session_id → client
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]contracts.Client),
	}
}

func (h *Registry) Register(c contracts.Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	userID := c.UserID()
	if h.sessions[userID] == nil {
		h.sessions[userID] = make(map[string]contracts.Client)
	}
	h.sessions[userID][c.SessionID()] = c
	return len(h.sessions[userID])
}

func (h *Registry) Unregister(c contracts.Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	userID := c.UserID()
	delete(h.sessions[userID], c.SessionID())
	n := len(h.sessions[userID])
	if n == 0 {
		delete(h.sessions, userID)
	}
	return n
}

func (h *Registry) Sessions(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}

// Stats returns the number of distinct users and sessions attached here.
func (h *Registry) Stats() (users, sessions int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		sessions += len(s)
	}
	return len(h.sessions), sessions
}

// CloseAll ends every attached session. Sessions unregister themselves
// as they wind down.
func (h *Registry) CloseAll() int {
	h.mu.RLock()
	clients := make([]contracts.Client, 0)
	for _, s := range h.sessions {
		for _, c := range s {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.Close()
	}
	return len(clients)
}
