package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/matchpilot/matchpilot/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	// Per-connection RPC budget. A polling UI sits far below this;
	// over-budget requests get a rate_limited response, not a dispatch.
	rpcPerSecond = 20
	rpcBurst     = 40
)

// Client is one WebSocket connection. Outbound frames go through a
// buffered channel drained by a single writer goroutine so concurrent
// responses and bus events never interleave writes on the conn.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server

	send      chan interface{}
	limiter   *rate.Limiter
	closeOnce sync.Once
	closed    chan struct{}

	mu     sync.RWMutex
	authed bool
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, server *Server) *Client {
	return &Client{
		id:      uuid.NewString(),
		conn:    conn,
		server:  server,
		send:    make(chan interface{}, 64),
		limiter: rate.NewLimiter(rpcPerSecond, rpcBurst),
		closed:  make(chan struct{}),
	}
}

// ID returns the connection identifier used for bus subscriptions.
func (c *Client) ID() string { return c.id }

// Authed reports whether the client has completed the connect handshake.
// Always true when the gateway has no token configured.
func (c *Client) Authed() bool {
	if !c.server.authRequired() {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authed
}

func (c *Client) setAuthed() {
	c.mu.Lock()
	c.authed = true
	c.mu.Unlock()
}

// SendResponse queues a response frame. Drops the frame if the client is
// gone or its buffer is full.
func (c *Client) SendResponse(res *protocol.ResponseFrame) {
	c.enqueue(res)
}

// SendEvent queues an event frame.
func (c *Client) SendEvent(event protocol.EventFrame) {
	c.enqueue(&event)
}

func (c *Client) enqueue(frame interface{}) {
	select {
	case <-c.closed:
	case c.send <- frame:
	default:
		slog.Warn("client send buffer full, dropping frame", "id", c.id)
	}
}

// Close tears down the connection. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// Run services the connection until it drops or ctx is done.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "id", c.id, "error", err)
			}
			return
		}

		frameType, err := protocol.ParseFrameType(data)
		if err != nil || frameType != protocol.FrameTypeRequest {
			slog.Debug("ignoring non-request frame", "id", c.id)
			continue
		}

		var req protocol.RequestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			slog.Debug("malformed request frame", "id", c.id, "error", err)
			continue
		}

		if !c.limiter.Allow() {
			c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrCodeRateLimited, "request rate exceeded"))
			continue
		}

		c.server.router.Dispatch(ctx, c, &req)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				slog.Debug("websocket write error", "id", c.id, "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
