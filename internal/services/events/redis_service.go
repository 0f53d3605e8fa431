package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/common"
	"github.com/ternarybob/drover/internal/interfaces"
)

// envelope is the wire form of an event on the Redis channel
type envelope struct {
	Origin  string               `json:"origin"`
	Type    interfaces.EventType `json:"type"`
	Payload json.RawMessage      `json:"payload"`
}

// RedisService delivers events to local subscribers and fans them out over a
// Redis pub/sub channel. Events from other processes are delivered locally
// with a json.RawMessage payload; a process never re-delivers its own events.
type RedisService struct {
	*Service
	rdb     *redis.Client
	channel string
	origin  string
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
	logger  arbor.ILogger
}

// NewRedisService subscribes to channel and starts the receive loop
func NewRedisService(ctx context.Context, rdb *redis.Client, channel string, logger arbor.ILogger) (*RedisService, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	pubsub := rdb.Subscribe(ctx, channel)
	// Wait for confirmation so publishes right after start are not lost
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s := &RedisService{
		Service: NewService(logger),
		rdb:     rdb,
		channel: channel,
		origin:  uuid.New().String(),
		pubsub:  pubsub,
		cancel:  cancel,
		logger:  logger,
	}

	common.SafeGo(logger, "events:redis-receive", func() {
		s.receive(loopCtx)
	})

	logger.Info().Str("channel", channel).Msg("Redis event bus subscribed")
	return s, nil
}

func (s *RedisService) receive(ctx context.Context) {
	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				s.logger.Warn().Err(err).Msg("Discarding malformed event from redis")
				continue
			}
			if env.Origin == s.origin {
				continue
			}
			_ = s.Service.Publish(ctx, interfaces.Event{Type: env.Type, Payload: env.Payload})
		}
	}
}

func (s *RedisService) fanOut(ctx context.Context, event interfaces.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	data, err := json.Marshal(envelope{Origin: s.origin, Type: event.Type, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.rdb.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event to redis: %w", err)
	}
	return nil
}

// Publish delivers locally and fans out to other processes.
// A Redis failure is logged and does not affect local delivery.
func (s *RedisService) Publish(ctx context.Context, event interfaces.Event) error {
	if err := s.Service.Publish(ctx, event); err != nil {
		return err
	}
	if err := s.fanOut(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("event_type", string(event.Type)).Msg("Event fan-out failed")
	}
	return nil
}

// PublishSync delivers locally and waits, then fans out
func (s *RedisService) PublishSync(ctx context.Context, event interfaces.Event) error {
	if err := s.Service.PublishSync(ctx, event); err != nil {
		return err
	}
	return s.fanOut(ctx, event)
}

// Close stops the receive loop and unsubscribes
func (s *RedisService) Close() error {
	s.cancel()
	err := s.pubsub.Close()
	s.Service.Close()
	return err
}
