package events

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"
)

// RedisStream appends events to a capped Redis stream so other processes can
// follow sales as they happen.
type RedisStream struct {
	Client redis.UniversalClient
	Stream string
	MaxLen int64
}

// Append implements EventStore.
func (s RedisStream) Append(ctx context.Context, event Event) error {
	stream := s.Stream
	if stream == "" {
		stream = "toko:events"
	}
	maxLen := s.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]any{
			"topic":        event.Topic,
			"aggregate_id": event.AggregateID,
			"event":        string(body),
		},
	}).Err()
}
