package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/groupcare/backend/internal/apperr"
	"github.com/groupcare/backend/internal/models"
	"github.com/groupcare/backend/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // any origin; the token authenticates
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TokenValidator turns a bearer token into the acting user.
type TokenValidator func(token string) (models.Actor, error)

// Authorizer decides whether actor may watch sessionID.
type Authorizer func(ctx context.Context, actor models.Actor, sessionID uuid.UUID) error

// Client is a single WebSocket connection watching one session.
type Client struct {
	ID        string
	SessionID uuid.UUID
	UserID    uuid.UUID
	topics    []string
	hub       *Hub
	conn      *websocket.Conn
	send      chan WSMessage
	logger    *zap.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, sessionID, userID uuid.UUID, logger *zap.Logger) *Client {
	return &Client{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		UserID:    userID,
		topics:    []string{SessionTopic(sessionID), UserTopic(userID)},
		hub:       hub,
		conn:      conn,
		send:      make(chan WSMessage, 64),
		logger:    logger,
	}
}

// ServeWs handles GET /ws?session_id=&token=. The token goes in the query
// because browsers cannot set headers on a websocket upgrade.
func ServeWs(hub *Hub, validate TokenValidator, authorize Authorizer, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		sessionID, err := uuid.Parse(c.Query("session_id"))
		if err != nil {
			response.BadRequest(c, "session_id required")
			return
		}
		actor, err := validate(c.Query("token"))
		if err != nil {
			response.Unauthorized(c, "invalid token")
			return
		}
		if authorize != nil {
			if err := authorize(c.Request.Context(), actor, sessionID); err != nil {
				if apperr.KindOf(err) == apperr.KindInternal {
					logger.Error("authorize websocket failed", zap.Error(err))
				}
				response.Error(c, err)
				return
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := newClient(hub, conn, sessionID, actor.UserID, logger)
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

// readPump only services heartbeats; the stream is server to client.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		if msg.Event == "ping" {
			select {
			case c.send <- WSMessage{Event: "pong"}:
			default:
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
