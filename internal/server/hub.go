package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	builderrors "github.com/conneroisu/assetpipe/internal/errors"
	"github.com/conneroisu/assetpipe/internal/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed for the peer to answer a ping.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// Message types sent to the browser.
const (
	MessageReload   = "reload"
	MessageCSS      = "css"
	MessageError    = "error"
	MessageResolved = "resolved"
)

// Message is one live reload notification.
type Message struct {
	Type      string                  `json:"type"`
	Paths     []string                `json:"paths,omitempty"`
	Task      string                  `json:"task,omitempty"`
	Error     *builderrors.BuildError `json:"error,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// Client represents a WebSocket client
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub tracks live reload clients and fans messages out to them.
type Hub struct {
	clients      map[*websocket.Conn]*Client
	clientsMutex sync.RWMutex
	broadcast    chan []byte
	register     chan *Client
	unregister   chan *websocket.Conn
	logger       logging.Logger
}

// NewHub creates a hub. Run must be called for messages to be delivered.
func NewHub(logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]*Client),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *websocket.Conn),
		logger:     logger,
	}
}

// ClientCount returns the number of connected browsers.
func (h *Hub) ClientCount() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Broadcast queues msg for every client. Messages are dropped when the
// queue is full rather than blocking a build.
func (h *Hub) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn(context.Background(), err, "failed to marshal message", "type", msg.Type)
		data = []byte(`{"type":"reload"}`)
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn(context.Background(), nil, "broadcast queue full, dropping message", "type", msg.Type)
	}
}

// Run delivers messages until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			if client == nil || client.conn == nil {
				continue
			}
			h.clientsMutex.Lock()
			h.clients[client.conn] = client
			clientCount := len(h.clients)
			h.clientsMutex.Unlock()
			h.logger.Debug(ctx, "client connected", "clients", clientCount)

		case conn := <-h.unregister:
			if conn == nil {
				continue
			}
			h.clientsMutex.Lock()
			if client, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				close(client.send)
				h.logger.Debug(ctx, "client disconnected", "clients", len(h.clients))
			}
			h.clientsMutex.Unlock()

		case message := <-h.broadcast:
			h.clientsMutex.RLock()
			var failedClients []*websocket.Conn
			for conn, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client's send channel is full, mark for removal
					failedClients = append(failedClients, conn)
				}
			}
			h.clientsMutex.RUnlock()

			// Clean up failed clients outside the read lock
			if len(failedClients) > 0 {
				h.clientsMutex.Lock()
				for _, conn := range failedClients {
					if client, ok := h.clients[conn]; ok {
						delete(h.clients, conn)
						close(client.send)
					}
				}
				h.clientsMutex.Unlock()
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()
	for conn, client := range h.clients {
		close(client.send)
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	h.clients = make(map[*websocket.Conn]*Client)
}

// serve upgrades the request and registers the client with the hub.
// The origin must already have passed checkOrigin.
func (h *Hub) serve(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// checkOrigin also admits localhost aliases of the bound address,
		// which the library's same-host check would refuse.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "websocket upgrade error")
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	// The client must be registered before readPump can unregister it.
	select {
	case h.register <- client:
	case <-ctx.Done():
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	go client.writePump(ctx)
	go client.readPump(ctx)
}

// readPump pumps messages from the websocket connection
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c.conn:
		case <-ctx.Done():
		}
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	// Set read limit
	c.conn.SetReadLimit(maxMessageSize)

	// Browsers never send; reading keeps control frames, pongs included,
	// flowing. Dead peers are detected by writePump's pings.
	for {
		_, _, err := c.conn.Read(ctx)
		if err != nil {
			// Check if it's a normal closure
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				c.hub.logger.Debug(ctx, "websocket read error", "error", err.Error())
			}
			return
		}
	}
}

// writePump pumps messages to the websocket connection
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.hub.logger.Debug(ctx, "websocket write error", "error", err.Error())
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pongWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// checkOrigin validates the request origin against the server's own
// address, its localhost aliases and the configured allowed origins.
func checkOrigin(r *http.Request, host string, port int, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Reject connections without origin header
		return false
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	// Only allow http/https
	if originURL.Scheme != "http" && originURL.Scheme != "https" {
		return false
	}

	p := strconv.Itoa(port)
	candidates := []string{
		net.JoinHostPort(host, p),
		net.JoinHostPort("localhost", p),
		net.JoinHostPort("127.0.0.1", p),
		net.JoinHostPort("::1", p),
	}
	for _, a := range allowed {
		if u, err := url.Parse(a); err == nil && u.Host != "" {
			candidates = append(candidates, u.Host)
		}
	}

	for _, c := range candidates {
		if strings.EqualFold(originURL.Host, c) {
			return true
		}
	}
	return false
}
