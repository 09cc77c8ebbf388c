// Package realtime streams session events to websocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60
)

// Broker carries events between replicas.
type Broker interface {
	Publish(ctx context.Context, topic, event string, data []byte) error
	Subscribe(topic string, handler func(event string, data []byte)) (cancel func(), err error)
}

// Hub maintains topic -> set of connections. With a Broker every event is
// published once and delivered locally by the subscription, on every replica
// including this one. Without one it delivers to local clients only.
type Hub struct {
	topics map[string]map[string]*Client
	subs   map[string]func()
	mu     sync.RWMutex
	broker Broker
	logger *zap.Logger
}

// NewHub creates a hub. broker may be nil for a single instance.
func NewHub(broker Broker, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		topics: make(map[string]map[string]*Client),
		subs:   make(map[string]func()),
		broker: broker,
		logger: logger,
	}
}

// Register adds a client to each of its topics. A topic without a broker
// subscription is subscribed on every registration until one succeeds.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range c.topics {
		if h.topics[topic] == nil {
			h.topics[topic] = make(map[string]*Client)
		}
		h.topics[topic][c.ID] = c
		if h.broker == nil {
			continue
		}
		if _, ok := h.subs[topic]; ok {
			continue
		}
		topic := topic
		cancel, err := h.broker.Subscribe(topic, func(event string, data []byte) {
			h.deliver(topic, WSMessage{Event: event, Data: data})
		})
		if err != nil {
			h.logger.Warn("subscribe failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		h.subs[topic] = cancel
	}
	h.logger.Debug("client joined", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID.String()))
}

// Unregister removes a client, cancelling a topic's subscription when its last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range c.topics {
		m, ok := h.topics[topic]
		if !ok {
			continue
		}
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.topics, topic)
			if cancel, ok := h.subs[topic]; ok {
				cancel()
				delete(h.subs, topic)
			}
		}
	}
	h.logger.Debug("client left", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID.String()))
}

// PublishSessionEvent broadcasts an event to everyone watching the session.
func (h *Hub) PublishSessionEvent(ctx context.Context, sessionID uuid.UUID, event string, payload interface{}) error {
	return h.publish(ctx, SessionTopic(sessionID), event, payload)
}

// PublishUserEvent sends an event to every connection of one user.
func (h *Hub) PublishUserEvent(ctx context.Context, userID uuid.UUID, event string, payload interface{}) error {
	return h.publish(ctx, UserTopic(userID), event, payload)
}

func (h *Hub) publish(ctx context.Context, topic, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	if h.broker != nil {
		return h.broker.Publish(ctx, topic, event, data)
	}
	h.deliver(topic, WSMessage{Event: event, Data: data})
	return nil
}

// Watchers returns the number of local connections on topic.
func (h *Hub) Watchers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) deliver(topic string, msg WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.topics[topic] {
		select {
		case c.send <- msg:
		default:
			// slow consumer, drop
		}
	}
}
