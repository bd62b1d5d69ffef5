package presence

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConnState is the lifecycle of one transport session.
type ConnState int

const (
	// StatePending: transport open, not in a room. A username may already be
	// bound if the connection joined and later left a room.
	StatePending ConnState = iota
	// StateJoined: bound to a username and occupying a room.
	StateJoined
)

// Connection is the registry's record of one live transport session. The
// transport handle itself lives in the hub; the registry only tracks
// identity, room and liveness.
type Connection struct {
	ID       string
	Username string
	RoomID   string
	LastSeen time.Time
	State    ConnState
}

// Registry tracks every live connection. All mutation goes through the
// coordinator; reads hand out copies so callers never see a half-applied
// update.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Register creates a pending connection and returns its id.
func (r *Registry) Register(now time.Time) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.conns[id] = &Connection{ID: id, LastSeen: now, State: StatePending}
	r.mu.Unlock()
	return id
}

// Bind associates a username with a connection. Rebinding the same username
// is idempotent; rebinding a joined connection to a different username is an
// invalid transition.
func (r *Registry) Bind(id, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return ErrNotFound
	}
	if c.State == StateJoined && c.Username != username {
		return ErrInvalidState
	}
	c.Username = username
	return nil
}

// SetRoom moves a connection into a room, marking it joined.
func (r *Registry) SetRoom(id, roomID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return ErrNotFound
	}
	c.RoomID = roomID
	c.State = StateJoined
	c.LastSeen = now
	return nil
}

// ClearRoom takes a connection out of its room but keeps the identity bound,
// so a later re-join does not need to renegotiate the username.
func (r *Registry) ClearRoom(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return ErrNotFound
	}
	c.RoomID = ""
	c.State = StatePending
	return nil
}

// Touch refreshes the heartbeat timestamp.
func (r *Registry) Touch(id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return ErrNotFound
	}
	c.LastSeen = now
	return nil
}

// Evict removes a connection and reports the identity and room it held so
// the caller can emit the matching leave events.
func (r *Registry) Evict(id string) (username, roomID string, wasJoined bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return "", "", false, ErrNotFound
	}
	delete(r.conns, id)
	return c.Username, c.RoomID, c.State == StateJoined, nil
}

// Sweep returns the ids of connections whose heartbeat is older than timeout.
// It only collects; the coordinator evicts each through the normal path so
// broadcasts are emitted.
func (r *Registry) Sweep(now time.Time, timeout time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var stale []string
	for id, c := range r.conns {
		if now.Sub(c.LastSeen) > timeout {
			stale = append(stale, id)
		}
	}
	return stale
}

// Get returns a copy of one connection record.
func (r *Registry) Get(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// Snapshot returns copies of all connection records.
func (r *Registry) Snapshot() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, *c)
	}
	return out
}

// ConnsInRoom returns the ids of joined connections occupying roomID.
func (r *Registry) ConnsInRoom(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, c := range r.conns {
		if c.State == StateJoined && c.RoomID == roomID {
			ids = append(ids, id)
		}
	}
	return ids
}

// AllConns returns every live connection id.
func (r *Registry) AllConns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// HasJoined reports whether some other joined connection (id excluded)
// carries the same username in the same room. Used to keep a username in the
// member set while any of its connections remains.
func (r *Registry) HasJoined(username, roomID, excludeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, c := range r.conns {
		if id == excludeID {
			continue
		}
		if c.State == StateJoined && c.Username == username && c.RoomID == roomID {
			return true
		}
	}
	return false
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
