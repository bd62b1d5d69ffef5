package presence

import (
	"sync"

	"presenced/models"
)

// RoomTable maps room ids to their member usernames. Rooms exist exactly
// while they have members: created on first join, deleted when the last
// member leaves. Members keep insertion order so snapshots are deterministic.
type RoomTable struct {
	mu       sync.RWMutex
	rooms    map[string][]string
	maxRooms int
}

// NewRoomTable creates a table. maxRooms of 0 means unbounded.
func NewRoomTable(maxRooms int) *RoomTable {
	return &RoomTable{rooms: make(map[string][]string), maxRooms: maxRooms}
}

// Join adds username to the room, creating it if absent, and returns a copy
// of the resulting member list. Adding a username that is already present is
// a no-op.
func (t *RoomTable) Join(roomID, username string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	members, exists := t.rooms[roomID]
	if !exists {
		if t.maxRooms > 0 && len(t.rooms) >= t.maxRooms {
			return nil, ErrRoomLimit
		}
		t.rooms[roomID] = []string{username}
		return []string{username}, nil
	}
	for _, m := range members {
		if m == username {
			return copyMembers(members), nil
		}
	}
	members = append(members, username)
	t.rooms[roomID] = members
	return copyMembers(members), nil
}

// Leave removes username from the room. The returned list is the remaining
// membership; ok is false when the room did not exist. An emptied room is
// deleted.
func (t *RoomTable) Leave(roomID, username string) ([]string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	members, exists := t.rooms[roomID]
	if !exists {
		return nil, false
	}
	for i, m := range members {
		if m == username {
			members = append(members[:i], members[i+1:]...)
			break
		}
	}
	if len(members) == 0 {
		delete(t.rooms, roomID)
		return []string{}, true
	}
	t.rooms[roomID] = members
	return copyMembers(members), true
}

// Snapshot returns a copy of the room's members, empty (not nil) when the
// room does not exist. Requesting an unknown room is not an error.
func (t *RoomTable) Snapshot(roomID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	members, exists := t.rooms[roomID]
	if !exists {
		return []string{}
	}
	return copyMembers(members)
}

// List returns every room with its member count.
func (t *RoomTable) List() []models.RoomSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.RoomSummary, 0, len(t.rooms))
	for id, members := range t.rooms {
		out = append(out, models.RoomSummary{ID: id, UserCount: len(members)})
	}
	return out
}

// Count returns the number of live rooms.
func (t *RoomTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms)
}

func copyMembers(members []string) []string {
	out := make([]string, len(members))
	copy(out, members)
	return out
}
