// Package session tracks which connections belong to which user. The
// in-process Registry is the authoritative map for this hub instance; the
// redis-backed Store mirrors each session so other instances can enumerate a
// user's connections.
package session

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is a thread-safe map of user IDs to their live connection IDs. A
// user with multiple devices holds multiple connections at once; the user is
// considered locally offline only when the last one detaches.
type Registry struct {
	mu        sync.RWMutex
	userConns map[uuid.UUID]map[uuid.UUID]struct{}
	connUser  map[uuid.UUID]uuid.UUID
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		userConns: make(map[uuid.UUID]map[uuid.UUID]struct{}),
		connUser:  make(map[uuid.UUID]uuid.UUID),
	}
}

// Attach records a connection for the user.
func (r *Registry) Attach(userID, connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.userConns[userID]
	if !ok {
		conns = make(map[uuid.UUID]struct{})
		r.userConns[userID] = conns
	}
	conns[connID] = struct{}{}
	r.connUser[connID] = userID
}

// Detach removes a connection and returns the user it belonged to along with
// the number of connections that user still holds. The boolean is false when
// the connection was never attached, which happens for sockets that close
// before authenticating.
func (r *Registry) Detach(connID uuid.UUID) (userID uuid.UUID, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok = r.connUser[connID]
	if !ok {
		return uuid.Nil, 0, false
	}
	delete(r.connUser, connID)

	conns := r.userConns[userID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.userConns, userID)
	}
	return userID, len(conns), true
}

// UserOf returns the user that owns the connection.
func (r *Registry) UserOf(connID uuid.UUID) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.connUser[connID]
	return userID, ok
}

// ConnectionsOf returns the IDs of the user's live connections.
func (r *Registry) ConnectionsOf(userID uuid.UUID) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns, ok := r.userConns[userID]
	if !ok {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	return ids
}

// CountOf returns the number of live connections the user holds.
func (r *Registry) CountOf(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConns[userID])
}

// Users returns every user with at least one live connection.
func (r *Registry) Users() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(r.userConns))
	for id := range r.userConns {
		ids = append(ids, id)
	}
	return ids
}

// TotalConnections returns the number of live connections across all users.
func (r *Registry) TotalConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connUser)
}
