package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/agentcore/internal/tools"
	"github.com/nextlevelbuilder/agentcore/pkg/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one connected WebSocket peer: a human operator's UI, a CLI,
// or (per the Owner-Firewall) a channel adapter acting on the owner's
// behalf. Every inbound frame is dispatched through the server's
// MethodRouter; every outbound push goes through SendEvent.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server

	clientID string // derived from the first authenticated connect frame
	role     tools.SenderRole

	writeMu sync.Mutex
	closed  chan struct{}
}

// NewClient wraps conn for use by the gateway server.
func NewClient(conn *websocket.Conn, server *Server) *Client {
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: server,
		closed: make(chan struct{}),
	}
}

// Run drives the read loop until the connection closes or ctx is done.
// Blocks the calling goroutine (the HTTP handler's connection goroutine).
func (c *Client) Run(ctx context.Context) {
	go c.pingLoop()

	c.conn.SetReadLimit(1 << 20) // 1MB
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var req protocol.RequestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			c.sendResponse(protocol.NewErrorResponse("", 400, "malformed request frame"))
			continue
		}

		resp := c.server.router.Dispatch(ctx, c, req)
		c.sendResponse(resp)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Client) sendResponse(resp protocol.ResponseFrame) {
	c.writeJSON(resp)
}

// SendEvent pushes a server-initiated event frame to this client.
func (c *Client) SendEvent(event protocol.EventFrame) {
	c.writeJSON(event)
}

func (c *Client) writeJSON(v interface{}) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		slog.Debug("gateway: write failed", "client", c.id, "error", err)
	}
}

// Close shuts down the connection and signals the ping loop to stop.
func (c *Client) Close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	c.conn.Close()
}
