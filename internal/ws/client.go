package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// SessionCallbacks is the seam between the socket layer and the chat
// core. Implemented outside this package so the hub never depends on
// the services it delivers for.
type SessionCallbacks interface {
	OnDisconnect(ctx context.Context, userID uuid.UUID, sessionID string)
	OnSubscribe(ctx context.Context, sessionID string, channelID uuid.UUID)
	OnUnsubscribe(ctx context.Context, sessionID string, channelID uuid.UUID)
	OnTypingStart(ctx context.Context, tenantID, channelID, userID uuid.UUID)
	OnTypingStop(ctx context.Context, channelID, userID uuid.UUID)
	OnHeartbeat(ctx context.Context, userID uuid.UUID)
}

// inboundFrame is what clients send upstream.
type inboundFrame struct {
	Type      string    `json:"type"`
	ChannelID uuid.UUID `json:"channel_id,omitempty"`
}

const (
	framePing        = "ping"
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameTypingStart = "typing.start"
	frameTypingStop  = "typing.stop"
)

// Client is one socket session.
type Client struct {
	sessionID string
	hub       *Hub
	conn      *websocket.Conn

	userID   uuid.UUID
	tenantID uuid.UUID

	send chan []byte

	callbacks SessionCallbacks

	connectedAt time.Time
	logger      *zap.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, userID, tenantID uuid.UUID, callbacks SessionCallbacks, logger *zap.Logger) *Client {
	return &Client{
		sessionID:   uuid.NewString(),
		hub:         hub,
		conn:        conn,
		userID:      userID,
		tenantID:    tenantID,
		send:        make(chan []byte, sendBufferSize),
		callbacks:   callbacks,
		connectedAt: time.Now(),
		logger:      logger.Named("client"),
	}
}

func (c *Client) SessionID() string  { return c.sessionID }
func (c *Client) UserID() uuid.UUID  { return c.userID }
func (c *Client) ConnectedFor() time.Duration {
	return time.Since(c.connectedAt)
}

// ReadPump consumes inbound frames until the connection dies. Runs on
// its own goroutine per client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
		c.callbacks.OnDisconnect(context.Background(), c.userID, c.sessionID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure,
			) {
				c.logger.Warn("unexpected close",
					zap.String("session_id", c.sessionID), zap.Error(err))
			}
			return
		}
		if messageType == websocket.TextMessage {
			c.handleFrame(message)
		}
	}
}

// WritePump flushes the outbound buffer and keeps the connection alive
// with pings. Runs on its own goroutine per client.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("write failed",
					zap.String("session_id", c.sessionID), zap.Error(err))
				return
			}

			// Drain whatever queued while we were writing.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(message []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.logger.Warn("invalid frame",
			zap.String("session_id", c.sessionID), zap.Error(err))
		return
	}

	ctx := context.Background()
	switch frame.Type {
	case framePing:
		c.callbacks.OnHeartbeat(ctx, c.userID)
	case frameSubscribe:
		if frame.ChannelID != uuid.Nil {
			c.callbacks.OnSubscribe(ctx, c.sessionID, frame.ChannelID)
		}
	case frameUnsubscribe:
		if frame.ChannelID != uuid.Nil {
			c.callbacks.OnUnsubscribe(ctx, c.sessionID, frame.ChannelID)
		}
	case frameTypingStart:
		if frame.ChannelID != uuid.Nil {
			c.callbacks.OnTypingStart(ctx, c.tenantID, frame.ChannelID, c.userID)
		}
	case frameTypingStop:
		if frame.ChannelID != uuid.Nil {
			c.callbacks.OnTypingStop(ctx, frame.ChannelID, c.userID)
		}
	default:
		c.logger.Warn("unknown frame type",
			zap.String("type", frame.Type),
			zap.String("session_id", c.sessionID))
	}
}
