package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultStreamMaxLen caps a stream when no length is configured.
const DefaultStreamMaxLen = 10000

// RedisStreamSink appends envelopes to a Redis stream. Entries carry the
// envelope type, idempotency key and JSON body so consumers can filter
// without decoding.
type RedisStreamSink struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

// NewRedisStreamSink creates a sink writing to stream, trimmed approximately
// to maxLen entries.
func NewRedisStreamSink(client redis.Cmdable, stream string, maxLen int64) (*RedisStreamSink, error) {
	if client == nil {
		return nil, errors.New("redis stream sink: nil client")
	}
	if stream == "" {
		return nil, errors.New("redis stream sink: empty stream name")
	}
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}, nil
}

// Append implements EventSink.Append.
func (s *RedisStreamSink) Append(ctx context.Context, envelope Envelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", envelope.Type, err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":            envelope.Type,
			"idempotency_key": envelope.IdempotencyKey,
			"run_id":          envelope.RunID,
			"envelope":        body,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append event %s to stream %s: %w", envelope.Type, s.stream, err)
	}
	return nil
}
