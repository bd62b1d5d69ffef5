package presence

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"presenced/models"
)

// EventFeed is the bounded, newest-first log of join/leave/system notices
// shown in the dashboard's activity feed. It is observability only; nothing
// is reconstructed from it.
type EventFeed struct {
	mu     sync.Mutex
	max    int
	events []models.SystemEvent
}

func NewEventFeed(max int) *EventFeed {
	return &EventFeed{max: max}
}

// Add appends an event, evicting the oldest once the feed is full.
func (f *EventFeed) Add(message string, eventType models.EventType, roomID string, at time.Time) models.SystemEvent {
	ev := models.SystemEvent{
		ID:        uuid.NewString(),
		Message:   message,
		Timestamp: at,
		EventType: eventType,
		RoomID:    roomID,
	}
	f.mu.Lock()
	f.events = append([]models.SystemEvent{ev}, f.events...)
	if len(f.events) > f.max {
		f.events = f.events[:f.max]
	}
	f.mu.Unlock()
	return ev
}

// Recent returns a copy of the feed, newest first.
func (f *EventFeed) Recent() []models.SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.SystemEvent, len(f.events))
	copy(out, f.events)
	return out
}
