package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Bus is the event-bus collaborator every publish is mirrored to and every
// fully processed consumer batch republishes into.
type Bus interface {
	Publish(ctx context.Context, eventName string, payload map[string]any) error
}

// Subscriber receives in-process events.
type Subscriber func(eventName string, payload map[string]any)

// InProcess fans events out to registered subscribers synchronously.
type InProcess struct {
	mu   sync.RWMutex
	subs []Subscriber
}

func NewInProcess() *InProcess {
	return &InProcess{}
}

func (b *InProcess) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
}

func (b *InProcess) Publish(_ context.Context, eventName string, payload map[string]any) error {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()
	for _, s := range subs {
		s(eventName, payload)
	}
	return nil
}

// Redis publishes events as JSON on a redis pub/sub channel so sibling
// processes can observe them.
type Redis struct {
	rdb     *redis.Client
	channel string
}

func NewRedis(rdb *redis.Client, channel string) *Redis {
	if channel == "" {
		channel = "dionysus.events"
	}
	return &Redis{rdb: rdb, channel: channel}
}

func (b *Redis) Publish(ctx context.Context, eventName string, payload map[string]any) error {
	body, err := json.Marshal(map[string]any{"event": eventName, "payload": payload})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, body).Err()
}
