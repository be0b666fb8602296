package watch

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/liveserve/liveserve/internal/logging"
)

// ReloadMessage is the only frame the server ever sends
const ReloadMessage = "reload"

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Time allowed for the close frame of a stopping server
	closeWait = 250 * time.Millisecond

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Client messages are discarded; keep them small
	maxMessageSize = 512

	// Pending frames per client before broadcasts to it are dropped
	sendBuffer = 8
)

// ClientConnection is one connected browser tab
type ClientConnection struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	open      atomic.Bool
	closeOnce sync.Once
	channel   *ReloadChannel
}

func newClientConnection(channel *ReloadChannel, conn *websocket.Conn) *ClientConnection {
	c := &ClientConnection{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		channel: channel,
	}
	c.open.Store(true)
	return c
}

// ID returns the connection identifier
func (c *ClientConnection) ID() string {
	return c.id
}

// IsOpen reports whether the connection can still receive frames
func (c *ClientConnection) IsOpen() bool {
	return c.open.Load()
}

// enqueue queues a frame without blocking; it reports whether the frame was accepted
func (c *ClientConnection) enqueue(msg []byte) bool {
	if !c.IsOpen() {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *ClientConnection) close() {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		close(c.done)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
			time.Now().Add(closeWait),
		)
		c.conn.Close()
	})
}

// writePump is the only goroutine writing data frames to the connection
func (c *ClientConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.channel.Unregister(c)
	}()

	for {
		select {
		case <-c.done:
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.channel.logger.Debug("write failed", zap.String("client", c.id), zap.Error(err))
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

// readPump drains and discards client frames so control frames are processed
func (c *ClientConnection) readPump() {
	defer c.channel.Unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.channel.logger.Debug("client error", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
	}
}

// ReloadChannel is the set of connected clients of one session
type ReloadChannel struct {
	mu       sync.RWMutex
	clients  map[*ClientConnection]struct{}
	closed   bool
	upgrader websocket.Upgrader
	logger   *zap.Logger
	origins  map[string]bool
}

// NewReloadChannel creates an empty channel. Upgrades are accepted from pages
// served by localhost, 127.0.0.1, ::1 and any extra allowed hosts.
func NewReloadChannel(logger *zap.Logger, allowedHosts ...string) *ReloadChannel {
	rc := &ReloadChannel{
		clients: make(map[*ClientConnection]struct{}),
		logger:  logging.OrNop(logger),
		origins: map[string]bool{
			"localhost": true,
			"127.0.0.1": true,
			"::1":       true,
		},
	}
	for _, host := range allowedHosts {
		if host != "" {
			rc.origins[strings.ToLower(host)] = true
		}
	}
	rc.upgrader = websocket.Upgrader{
		CheckOrigin:     rc.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return rc
}

func (rc *ReloadChannel) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Allow no origin (same-origin)
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return rc.origins[strings.ToLower(u.Hostname())]
}

// ServeHTTP upgrades the request and registers the new client
func (rc *ReloadChannel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := rc.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rc.logger.Warn("failed to upgrade connection", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	client := newClientConnection(rc, conn)
	if !rc.Register(client) {
		return
	}

	go client.writePump()
	go client.readPump()
}

// Register adds a client. It returns false, closing the client, once the channel is closed.
func (rc *ReloadChannel) Register(c *ClientConnection) bool {
	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		c.close()
		return false
	}
	rc.clients[c] = struct{}{}
	total := len(rc.clients)
	rc.mu.Unlock()

	rc.logger.Info("client connected", zap.String("client", c.id), zap.Int("total", total))
	return true
}

// Unregister removes and closes a client. Unknown or already removed clients are ignored.
func (rc *ReloadChannel) Unregister(c *ClientConnection) {
	rc.mu.Lock()
	_, ok := rc.clients[c]
	delete(rc.clients, c)
	total := len(rc.clients)
	rc.mu.Unlock()

	c.close()
	if ok {
		rc.logger.Info("client disconnected", zap.String("client", c.id), zap.Int("total", total))
	}
}

// Broadcast queues a reload frame for every open client and returns how many accepted it
func (rc *ReloadChannel) Broadcast() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	msg := []byte(ReloadMessage)
	sent := 0
	for c := range rc.clients {
		if c.enqueue(msg) {
			sent++
		}
	}
	rc.logger.Debug("reload broadcast", zap.Int("clients", sent))
	return sent
}

// ConnectionCount returns the number of active connections
func (rc *ReloadChannel) ConnectionCount() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.clients)
}

// Close closes every client and rejects new ones
func (rc *ReloadChannel) Close() {
	rc.mu.Lock()
	rc.closed = true
	clients := rc.clients
	rc.clients = make(map[*ClientConnection]struct{})
	rc.mu.Unlock()

	// A stalled peer costs at most one closeWait, not one per client
	var wg sync.WaitGroup
	for c := range clients {
		wg.Add(1)
		go func(c *ClientConnection) {
			defer wg.Done()
			c.close()
		}(c)
	}
	wg.Wait()
	if len(clients) > 0 {
		rc.logger.Info("closed client connections", zap.Int("count", len(clients)))
	}
}
