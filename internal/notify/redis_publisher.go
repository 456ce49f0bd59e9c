// Package notify publishes engine progress events to external
// subscribers.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/petrijr/chatflow/pkg/api"
)

// DefaultChannelPrefix is prepended to the execution id to form the
// pub/sub channel of a run.
const DefaultChannelPrefix = "chatflow:events:"

// RedisPublisher is an api.Observer that publishes every event as JSON on
// the Redis channel <prefix><executionID>. Publishing is best effort:
// failures are logged and never reach the run.
type RedisPublisher struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// Ensure RedisPublisher implements api.Observer.
var _ api.Observer = (*RedisPublisher)(nil)

// NewRedisPublisher creates a publisher. An empty prefix means
// DefaultChannelPrefix.
func NewRedisPublisher(client *redis.Client, prefix string, logger *slog.Logger) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{
		client:  client,
		prefix:  prefix,
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

// Channel returns the channel events of executionID are published on.
func (p *RedisPublisher) Channel(executionID string) string {
	return p.prefix + executionID
}

func (p *RedisPublisher) OnNodeStarted(ctx context.Context, ev api.NodeEvent) {
	p.publish(ctx, api.Event{Type: api.EventNodeStarted, ExecutionID: ev.ExecutionID, Node: &ev})
}

func (p *RedisPublisher) OnNodeCompleted(ctx context.Context, ev api.NodeEvent) {
	p.publish(ctx, api.Event{Type: api.EventNodeCompleted, ExecutionID: ev.ExecutionID, Node: &ev})
}

func (p *RedisPublisher) OnNodeError(ctx context.Context, ev api.NodeEvent) {
	p.publish(ctx, api.Event{Type: api.EventNodeError, ExecutionID: ev.ExecutionID, Node: &ev})
}

func (p *RedisPublisher) OnExecutionCompleted(ctx context.Context, ev api.ExecutionEvent) {
	p.publish(ctx, api.Event{Type: api.EventExecutionCompleted, ExecutionID: ev.ExecutionID, Execution: &ev})
}

func (p *RedisPublisher) publish(ctx context.Context, ev api.Event) {
	payload, err := sonic.Marshal(&ev)
	if err != nil {
		p.logger.WarnContext(ctx, "event_encode_failed",
			slog.String("execution_id", ev.ExecutionID),
			slog.String("event_type", string(ev.Type)),
			slog.Any("error", err),
		)
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.client.Publish(pubCtx, p.Channel(ev.ExecutionID), payload).Err(); err != nil {
		p.logger.WarnContext(ctx, "event_publish_failed",
			slog.String("execution_id", ev.ExecutionID),
			slog.String("event_type", string(ev.Type)),
			slog.Any("error", err),
		)
	}
}

// Subscribe returns decoded events for executionID until ctx is done.
// The channel is closed when the subscription ends.
func (p *RedisPublisher) Subscribe(ctx context.Context, executionID string) (<-chan api.Event, error) {
	sub := p.client.Subscribe(ctx, p.Channel(executionID))
	// Wait for the subscription to be confirmed so no event is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan api.Event, 16)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev api.Event
				if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
					p.logger.WarnContext(ctx, "event_decode_failed", slog.Any("error", err))
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
	return out, nil
}
