package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"goride-sos/internal/models"
	"goride-sos/pkg/logger"

	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Client is one websocket connection. A single connection can join any
// number of emergency topics; every topic's messages funnel into the one
// send channel, so the peer consumes a single ordered stream.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	logger *logger.Logger

	UserID primitive.ObjectID

	mu   sync.Mutex
	subs map[primitive.ObjectID]*Subscription
}

func NewClient(hub *Hub, conn *websocket.Conn, userID primitive.ObjectID, log *logger.Logger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		logger: log,
		UserID: userID,
		subs:   make(map[primitive.ObjectID]*Subscription),
	}
}

// Run starts the read and write pumps and blocks until the connection
// drops. All joined subscriptions are closed on every exit path.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.closeAllSubscriptions()
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Warn("WebSocket read error")
			}
			return
		}

		c.handleInbound(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleInbound(raw []byte) {
	var inbound Inbound
	if err := json.Unmarshal(raw, &inbound); err != nil {
		c.logger.WithError(err).Warn("Discarding malformed websocket message")
		return
	}

	emergencyID, err := primitive.ObjectIDFromHex(inbound.EmergencyID)
	if err != nil {
		c.sendError(inbound.EmergencyID, "INVALID_EMERGENCY_ID")
		return
	}

	switch inbound.Action {
	case "join":
		c.join(emergencyID)
	case "leave":
		c.leave(emergencyID)
	default:
		c.logger.Warnf("Unknown websocket action: %s", inbound.Action)
	}
}

func (c *Client) join(emergencyID primitive.ObjectID) {
	c.mu.Lock()
	if _, already := c.subs[emergencyID]; already {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := c.hub.Subscribe(ctx, emergencyID, c.UserID)
	if err != nil {
		switch err {
		case models.ErrEmergencyNotFound:
			c.sendError(emergencyID.Hex(), "EMERGENCY_NOT_FOUND")
		case models.ErrEmergencyClosed:
			c.sendError(emergencyID.Hex(), "EMERGENCY_CLOSED")
		default:
			c.logger.WithError(err).WithEmergencyID(emergencyID).Error("Subscribe failed")
			c.sendError(emergencyID.Hex(), "SUBSCRIBE_FAILED")
		}
		return
	}

	c.mu.Lock()
	c.subs[emergencyID] = sub
	c.mu.Unlock()

	go c.forward(sub)
}

func (c *Client) leave(emergencyID primitive.ObjectID) {
	c.mu.Lock()
	sub, ok := c.subs[emergencyID]
	if ok {
		delete(c.subs, emergencyID)
	}
	c.mu.Unlock()

	if ok {
		sub.Close()
	}
}

// forward drains one subscription into the connection's send channel until
// the topic closes or the connection drops.
func (c *Client) forward(sub *Subscription) {
	for msg := range sub.C {
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}

		select {
		case c.send <- data:
		case <-c.done:
			return
		}

		if msg.Type == MessageTopicClosed {
			c.leave(sub.EmergencyID)
		}
	}
}

func (c *Client) closeAllSubscriptions() {
	c.mu.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subs = make(map[primitive.ObjectID]*Subscription)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (c *Client) sendError(emergencyID, code string) {
	data, _ := json.Marshal(map[string]string{
		"type":         "error",
		"emergency_id": emergencyID,
		"code":         code,
	})

	select {
	case c.send <- data:
	case <-c.done:
	}
}
