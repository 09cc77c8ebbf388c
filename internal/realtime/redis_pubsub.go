package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	sessionPrefix = "session:"
	userPrefix    = "user:"
	publishTTL    = 5 * time.Second
)

// SessionTopic is the pub/sub channel carrying a session's events.
func SessionTopic(id uuid.UUID) string { return sessionPrefix + id.String() }

// UserTopic is the pub/sub channel carrying one user's notifications.
func UserTopic(id uuid.UUID) string { return userPrefix + id.String() }

// envelope is the message published to Redis for cross-instance broadcast.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

// RedisPubSub fans events out across replicas through Redis pub/sub.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger}
}

// Publish sends an already-encoded event on topic.
func (r *RedisPubSub) Publish(ctx context.Context, topic, event string, data []byte) error {
	body, err := json.Marshal(envelope{Event: event, Data: data, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTTL)
	defer cancel()
	if err := r.client.Publish(ctx, topic, body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishSessionEvent encodes payload and publishes it on the session topic.
func (r *RedisPubSub) PublishSessionEvent(ctx context.Context, sessionID uuid.UUID, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	return r.Publish(ctx, SessionTopic(sessionID), event, data)
}

// PublishUserEvent encodes payload and publishes it on the user topic.
func (r *RedisPubSub) PublishUserEvent(ctx context.Context, userID uuid.UUID, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	return r.Publish(ctx, UserTopic(userID), event, data)
}

// Subscribe calls handler for each event on topic until the returned cancel is called.
func (r *RedisPubSub) Subscribe(topic string, handler func(event string, data []byte)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, topic)
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var e envelope
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					r.logger.Debug("dropping malformed event", zap.String("topic", topic), zap.Error(err))
					continue
				}
				handler(e.Event, e.Data)
			}
		}
	}()
	return cancelCtx, nil
}
