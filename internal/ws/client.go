// Package ws is the realtime event router: one long-lived duplex channel
// per connected client, multiplexing chat and call-signaling events.
package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/casalink/support-chat/internal/auth"
	"github.com/casalink/support-chat/internal/model"
	"github.com/casalink/support-chat/pkg/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxFrame   = 64 * 1024
)

// Client is one live transport session. It is unauthenticated until the
// token exchange succeeds; before that it may only send authenticate.
type Client struct {
	ID string

	hub       *Hub
	router    *Router
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// Set once by hub.bind under the hub lock on successful
	// authentication; immutable afterwards.
	identity      auth.Identity
	authenticated bool
}

func newClient(hub *Hub, router *Router, conn *websocket.Conn, id string, queueSize int) *Client {
	return &Client{
		ID:     id,
		hub:    hub,
		router: router,
		conn:   conn,
		send:   make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
}

// Send queues an event for delivery. Sending to a client that is already
// torn down is a silent drop: fan-out paths snapshot clients before
// delivering and may race a disconnect. A client whose queue is full is
// considered dead and torn down rather than allowed to block fan-out.
func (c *Client) Send(event model.Event) {
	raw, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case <-c.done:
	case c.send <- raw:
		metrics.RecordEvent(event.Name, "out")
	default:
		go c.close()
	}
}

func (c *Client) readPump() {
	defer c.close()
	c.conn.SetReadLimit(maxFrame)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var event model.Event
		if err := json.Unmarshal(raw, &event); err != nil || event.Name == "" {
			c.Send(model.NewEvent(model.EventError,
				model.ErrorPayload{Code: "bad_frame", Message: "malformed event"}))
			continue
		}
		c.router.Dispatch(c, event)
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
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case raw := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
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

// close tears the connection down once. The send channel is never closed;
// Send observes done and drops instead, so a fan-out racing the teardown
// cannot panic.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.hub.remove(c) {
			c.router.handleClose(c)
		}
	})
	_ = c.conn.Close()
}
