package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker fans events out to every instance through one pub/sub channel.
type RedisBroker struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisBroker(client *redis.Client, channel string, logger *zap.Logger) *RedisBroker {
	return &RedisBroker{client: client, channel: channel, logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, ev *Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe listens for events from all instances, including this one.
// The returned channel is closed when ctx is done or the subscription ends.
func (b *RedisBroker) Subscribe(ctx context.Context) <-chan *Event {
	pubsub := b.client.Subscribe(ctx, b.channel)
	out := make(chan *Event)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev := &Event{}
				if err := json.Unmarshal([]byte(msg.Payload), ev); err != nil {
					b.logger.Warn("dropping undecodable event", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
