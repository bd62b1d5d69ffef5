package presence

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"presenced/models"
)

func TestFeedNewestFirst(t *testing.T) {
	feed := NewEventFeed(50)
	now := time.Now()
	feed.Add("Alice joined general", models.EventJoin, "general", now)
	feed.Add("Alice left general", models.EventLeave, "general", now.Add(time.Second))

	events := feed.Recent()
	assert.Len(t, events, 2)
	assert.Equal(t, "Alice left general", events[0].Message)
	assert.Equal(t, "Alice joined general", events[1].Message)
}

func TestFeedEvictsOldestPastRetention(t *testing.T) {
	feed := NewEventFeed(50)
	now := time.Now()
	for i := 0; i < 60; i++ {
		feed.Add(fmt.Sprintf("event %d", i), models.EventSystem, "", now)
	}

	events := feed.Recent()
	assert.Len(t, events, 50)
	assert.Equal(t, "event 59", events[0].Message)
	assert.Equal(t, "event 10", events[49].Message)
}

func TestFeedEventIDsAreUnique(t *testing.T) {
	feed := NewEventFeed(10)
	a := feed.Add("one", models.EventSystem, "", time.Now())
	b := feed.Add("two", models.EventSystem, "", time.Now())
	assert.NotEqual(t, a.ID, b.ID)
}

func TestFeedRecentIsACopy(t *testing.T) {
	feed := NewEventFeed(10)
	feed.Add("one", models.EventSystem, "", time.Now())
	events := feed.Recent()
	events[0].Message = "tampered"
	assert.Equal(t, "one", feed.Recent()[0].Message)
}
