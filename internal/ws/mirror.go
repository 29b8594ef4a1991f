package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// eventsChannel is the pub/sub channel mirrored events are published to.
const eventsChannel = "league_events"

// Mirror duplicates every hub event into Redis: a pub/sub publish for
// external consumers plus a dashboard:last:<type> key so a process that
// joins late can read current state. Optional; built only when REDIS_URL
// is set.
type Mirror struct {
	rdb  *redis.Client
	next Publisher
	log  *zap.Logger
}

// Publisher is the fan-out target the mirror wraps.
type Publisher interface {
	Publish(event string, data any)
}

// NewMirror wraps next so every event also lands in Redis.
func NewMirror(rdb *redis.Client, next Publisher, log *zap.Logger) *Mirror {
	return &Mirror{rdb: rdb, next: next, log: log.Named("mirror")}
}

// Publish forwards to the wrapped publisher and mirrors into Redis.
func (m *Mirror) Publish(eventType string, data any) {
	m.next.Publish(eventType, data)

	raw, err := json.Marshal(Event{
		Type: eventType,
		Data: mustMarshal(data),
		Time: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.rdb.Publish(ctx, eventsChannel, raw).Err(); err != nil {
		m.log.Warn("redis publish failed", zap.String("type", eventType), zap.Error(err))
		return
	}
	if err := m.rdb.Set(ctx, "dashboard:last:"+eventType, raw, 24*time.Hour).Err(); err != nil {
		m.log.Warn("redis snapshot failed", zap.String("type", eventType), zap.Error(err))
	}
}

func mustMarshal(data any) json.RawMessage {
	raw, err := json.Marshal(data)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return raw
}
