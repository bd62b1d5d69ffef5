package models

import "time"

// UserStatus is the presence state reported for a user.
type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusAway    UserStatus = "away"
	StatusOffline UserStatus = "offline"
)

// User is the presence record the dashboard renders. RoomID is nil for a
// user that is online but not currently in a room.
type User struct {
	ID       string     `json:"id"`
	Username string     `json:"username"`
	Status   UserStatus `json:"status"`
	RoomID   *string    `json:"roomId"`
	LastSeen time.Time  `json:"lastSeen"`
}

// Room is the aggregate view of one room. Rooms are created on first join
// and have no display name of their own, so Name mirrors ID.
type Room struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UserCount int    `json:"userCount"`
	Users     []User `json:"users"`
}

// EventType classifies a system event for the UI feed.
type EventType string

const (
	EventJoin   EventType = "join"
	EventLeave  EventType = "leave"
	EventSystem EventType = "system"
)

// SystemEvent is one entry of the bounded activity feed.
type SystemEvent struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"eventType"`
	RoomID    string    `json:"roomId,omitempty"`
}

// RoomSummary is the compact listing used by aggregate queries.
type RoomSummary struct {
	ID        string `json:"id"`
	UserCount int    `json:"userCount"`
}
