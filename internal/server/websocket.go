package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/villaretreat/imagepipe/internal/validation"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Default interval between pings. A ping that is not answered within
	// writeWait drops the client.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// Client is one connected gallery page.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *PreviewServer
}

// UpdateMessage is sent to the browser after artifacts change.
type UpdateMessage struct {
	Type      string    `json:"type"`
	Files     []string  `json:"files,omitempty"`
	Failed    int       `json:"failed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *PreviewServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(r) {
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	// origin was checked above against the request host
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Error(r.Context(), err, "WebSocket upgrade error")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, 16),
		server: s,
	}

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	go client.writePump()
	client.readPump()
}

// checkOrigin accepts same-host pages and local development origins.
func (s *PreviewServer) checkOrigin(r *http.Request) bool {
	if err := validation.ValidateOrigin(r.Header.Get("Origin"), r.Host); err != nil {
		s.logger.Warn(r.Context(), err, "Rejected WebSocket origin")
		return false
	}
	return true
}

func (s *PreviewServer) runHub(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.stop()
			s.closeClients()
			return
		case <-s.done:
			s.closeClients()
			return

		case client := <-s.register:
			s.clientsMutex.Lock()
			s.clients[client] = true
			count := len(s.clients)
			s.clientsMutex.Unlock()
			s.logger.Debug(ctx, "Client connected", "clients", count)

		case client := <-s.unregister:
			s.clientsMutex.Lock()
			if s.clients[client] {
				delete(s.clients, client)
				close(client.send)
			}
			count := len(s.clients)
			s.clientsMutex.Unlock()
			s.logger.Debug(ctx, "Client disconnected", "clients", count)

		case message := <-s.broadcast:
			s.clientsMutex.Lock()
			for client := range s.clients {
				select {
				case client.send <- message:
				default:
					// slow client, drop it
					delete(s.clients, client)
					close(client.send)
				}
			}
			s.clientsMutex.Unlock()
		}
	}
}

func (s *PreviewServer) closeClients() {
	s.clientsMutex.Lock()
	defer s.clientsMutex.Unlock()
	for client := range s.clients {
		delete(s.clients, client)
		close(client.send)
	}
}

// ClientCount returns the number of connected pages.
func (s *PreviewServer) ClientCount() int {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()
	return len(s.clients)
}

func (s *PreviewServer) broadcastMessage(msg UpdateMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error(context.Background(), err, "Failed to marshal message")
		data = []byte(`{"type":"reload"}`)
	}
	select {
	case s.broadcast <- data:
	case <-s.done:
	}
}

// readPump drains the connection until the peer goes away. Pages never
// send anything, so reads carry no deadline; writePump's pings detect dead
// peers and closing the connection ends the read.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.done:
		}
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := context.Background()
	for {
		_, _, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				c.server.logger.Debug(ctx, "WebSocket closed", "reason", err.Error())
			}
			return
		}
	}
}

// writePump forwards queued messages and keeps the connection alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.server.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := context.Background()
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
				c.server.logger.Warn(ctx, err, "WebSocket write error")
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
