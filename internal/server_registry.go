package internal

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrUnknownConnection is returned when an event references a connection
	// id that was never registered or has already been unregistered.
	ErrUnknownConnection = errors.New("unknown connection")
	ErrMalformedFrame    = errors.New("malformed frame")
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrUnknownEvent      = errors.New("unknown event")
)

// Connection is the identity of one live transport session.
type Connection struct {
	ID       string
	Username string
	Room     string
	// Joined distinguishes "in the room with an empty id" from "not in a room".
	Joined bool
}

// Registry maps connection ids to their identity. It is the single source of
// truth for who a connection is.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Connection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Connection)}
}

// Register creates a fresh connection with no username and no room.
func (r *Registry) Register(id string) Connection {
	conn := Connection{ID: id}
	r.mu.Lock()
	r.conns[id] = conn
	r.mu.Unlock()
	return conn
}

func (r *Registry) SetIdentity(id, username, room string) (Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return Connection{}, ErrUnknownConnection
	}
	conn.Username = username
	conn.Room = room
	conn.Joined = true
	r.conns[id] = conn
	return conn, nil
}

func (r *Registry) Lookup(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

func (r *Registry) Unregister(id string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	return conn, ok
}

// IDs returns every registered connection id in a stable order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
