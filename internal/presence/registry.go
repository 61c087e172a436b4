// Package presence tracks which users currently hold a live real-time connection.
package presence

import (
	"sort"
	"strings"
	"sync"
)

// Registry maps usernames to their single live connection id.
// A new registration for a username supersedes the previous connection.
type Registry struct {
	mu         sync.RWMutex
	connToUser map[string]string
	userToConn map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		connToUser: make(map[string]string),
		userToConn: make(map[string]string),
	}
}

// Register binds connID to username. It reports whether the user was offline before.
func (r *Registry) Register(connID, username string) bool {
	if connID == "" || username == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.connToUser[connID]; ok && prev != username {
		// connection re-registered under another name
		if r.userToConn[prev] == connID {
			delete(r.userToConn, prev)
		}
	}
	old, wasOnline := r.userToConn[username]
	if wasOnline && old != connID {
		delete(r.connToUser, old)
	}
	r.connToUser[connID] = username
	r.userToConn[username] = connID
	return !wasOnline
}

// Unregister drops connID. The username goes offline only when connID is still
// its current connection; in that case the username is returned.
func (r *Registry) Unregister(connID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	username, ok := r.connToUser[connID]
	if !ok {
		return ""
	}
	delete(r.connToUser, connID)
	if r.userToConn[username] != connID {
		return ""
	}
	delete(r.userToConn, username)
	return username
}

// ResolveConnectedUsername returns the registered spelling of name, trying an
// exact match before a case-insensitive one.
func (r *Registry) ResolveConnectedUsername(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.userToConn[name]; ok {
		return name, true
	}
	for u := range r.userToConn {
		if strings.EqualFold(u, name) {
			return u, true
		}
	}
	return "", false
}

// ListConnected returns a sorted snapshot of connected usernames.
func (r *Registry) ListConnected() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.userToConn))
	for u := range r.userToConn {
		out = append(out, u)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (r *Registry) ConnectionFor(username string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.userToConn[username]
	return c, ok
}

func (r *Registry) UsernameFor(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.connToUser[connID]
	return u, ok
}

func (r *Registry) IsConnected(username string) bool {
	_, ok := r.ConnectionFor(username)
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userToConn)
}
