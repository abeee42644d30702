package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/claude-subagents/internal/async"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 90 * time.Second
)

// JobsMessage is the frame sent to WebSocket clients
type JobsMessage struct {
	Type string          `json:"type"`
	Jobs []async.JobInfo `json:"jobs"`
}

type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsClient) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	err := c.conn.WriteMessage(messageType, data)
	c.conn.SetWriteDeadline(time.Time{}) // Clear deadline
	return err
}

// WSHub streams the job list to WebSocket clients
type WSHub struct {
	upgrader websocket.Upgrader
	snapshot func() []async.JobInfo

	mu      sync.Mutex
	clients map[*wsClient]bool
}

// NewWSHub creates a hub; snapshot supplies the list sent on connect
func NewWSHub(snapshot func() []async.JobInfo) *WSHub {
	return &WSHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		snapshot: snapshot,
		clients:  make(map[*wsClient]bool),
	}
}

// HandleWebSocket upgrades the request and streams job lists until the
// client goes away
func (h *WSHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := &wsClient{conn: conn}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	if data, err := encodeJobs(h.snapshot()); err == nil {
		if err := client.write(websocket.TextMessage, data); err != nil {
			h.drop(client)
			return
		}
	}

	go h.readLoop(client)
}

// readLoop discards client frames; it exists to notice disconnects and pongs
func (h *WSHub) readLoop(c *wsClient) {
	defer h.drop(c)

	c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	}
}

// Broadcast sends the job list to every client
func (h *WSHub) Broadcast(jobs []async.JobInfo) {
	data, err := encodeJobs(jobs)
	if err != nil {
		return
	}
	for _, c := range h.all() {
		if err := c.write(websocket.TextMessage, data); err != nil {
			h.drop(c)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WSHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll disconnects every client
func (h *WSHub) CloseAll() {
	for _, c := range h.all() {
		_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		h.drop(c)
	}
}

func (h *WSHub) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range h.all() {
				if err := c.write(websocket.PingMessage, nil); err != nil {
					// the read loop handles cleanup
					c.conn.Close()
				}
			}
		}
	}
}

func (h *WSHub) all() []*wsClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		list = append(list, c)
	}
	return list
}

func (h *WSHub) drop(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.conn.Close()
}

func encodeJobs(jobs []async.JobInfo) ([]byte, error) {
	if jobs == nil {
		jobs = []async.JobInfo{}
	}
	return json.Marshal(JobsMessage{Type: "jobs", Jobs: jobs})
}
