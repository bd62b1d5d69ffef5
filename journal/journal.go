package journal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"presenced/models"
)

const channel = "presence:events"

// Journal mirrors system events to a Redis pub/sub channel so external
// dashboards can tail the activity feed without holding a WebSocket. Purely
// additive: a publish failure is logged and nothing else.
type Journal struct {
	rdb *redis.Client
	log *logrus.Entry
}

func New(addr string) *Journal {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  500 * time.Millisecond,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	return &Journal{
		rdb: rdb,
		log: logrus.WithField("component", "journal"),
	}
}

// Publish sends one event. Called off the coordinator's goroutine, so a slow
// Redis only delays the journal, never presence itself.
func (j *Journal) Publish(ev models.SystemEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		j.log.WithError(err).Warn("event marshal failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := j.rdb.Publish(ctx, channel, data).Err(); err != nil {
		j.log.WithError(err).Warn("event publish failed")
	}
}

func (j *Journal) Close() error {
	return j.rdb.Close()
}
