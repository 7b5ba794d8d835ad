// Package websocket is the real-time transport for push channels: each
// connected client subscribes to one named channel and receives every
// generated payload in publication order.
package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mockforge/mockforge/internal/infrastructure/push"
	"github.com/mockforge/mockforge/pkg/safego"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Mock-server use case: clients connect from arbitrary local tools.
		return true
	},
}

// frame is the wire envelope for one pushed payload.
type frame struct {
	Channel   string          `json:"channel"`
	Batch     int64           `json:"batch"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Client is one connected websocket subscriber.
type Client struct {
	id      string
	channel string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	logger  *zap.Logger
}

// Compile-time interface check: Client feeds the push engine's fan-out.
var _ push.Subscriber = (*Client)(nil)

// ID implements push.Subscriber.
func (c *Client) ID() string { return c.id }

// Send implements push.Subscriber. A full send buffer means the client has
// stopped draining; the error tells the engine to drop it.
func (c *Client) Send(payload []byte, batch int64) error {
	data, err := json.Marshal(frame{
		Channel:   c.channel,
		Batch:     batch,
		Data:      json.RawMessage(payload),
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSlowConsumer
	}
}

var errSlowConsumer = &slowConsumerError{}

type slowConsumerError struct{}

func (*slowConsumerError) Error() string { return "subscriber send buffer full" }

// Hub upgrades connections and wires clients into the push engine.
type Hub struct {
	engine *push.Engine
	logger *zap.Logger
}

// NewHub creates the websocket hub.
func NewHub(engine *push.Engine, logger *zap.Logger) *Hub {
	return &Hub{
		engine: engine,
		logger: logger.With(zap.String("component", "ws-hub")),
	}
}

// ServeChannel upgrades the request and subscribes the client to the named
// channel until it disconnects.
func (h *Hub) ServeChannel(w http.ResponseWriter, r *http.Request, channel string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	client := &Client{
		id:      id,
		channel: channel,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		hub:     h,
		logger:  h.logger.With(zap.String("client_id", id)),
	}

	if err := h.engine.Subscribe(channel, client); err != nil {
		h.logger.Warn("Subscribe failed", zap.String("channel", channel), zap.Error(err))
		conn.Close()
		return
	}
	h.logger.Info("Client subscribed",
		zap.String("channel", channel),
		zap.String("client_id", client.id),
	)

	safego.Go(h.logger, "ws-write-"+client.id, client.writePump)
	safego.Go(h.logger, "ws-read-"+client.id, client.readPump)
}

// readPump drains inbound frames (only control traffic is expected) and
// detects disconnects.
func (c *Client) readPump() {
	defer c.teardown()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump flushes queued payloads and keeps the connection alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.teardown()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) teardown() {
	c.hub.engine.Unsubscribe(c.channel, c.id)
	c.conn.Close()
}
