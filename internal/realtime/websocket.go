package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"fieldservice/pkg/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	wsBufferSize   = 1024
)

// ClientMessage is what a websocket client sends. An empty WorkflowID
// joins or leaves the global feed.
type ClientMessage struct {
	Type       string `json:"type"`
	WorkflowID string `json:"workflowId,omitempty"`
}

// Ack confirms a join or leave.
type Ack struct {
	Type       string `json:"type"`
	WorkflowID string `json:"workflowId,omitempty"`
}

type Handler struct {
	Hub            *Hub
	AllowedOrigins []string
	Logger         *slog.Logger
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsBufferSize,
		WriteBufferSize: wsBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(h.AllowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", log.Error(err))
		return
	}

	c := &client{conn: conn, hub: h.Hub, sub: h.Hub.Subscribe(0), logger: logger}
	go c.run()
}

type client struct {
	conn   *websocket.Conn
	hub    *Hub
	sub    *Subscriber
	logger *slog.Logger
}

func (c *client) run() {
	defer func() {
		c.hub.Unsubscribe(c.sub)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	incoming := make(chan ClientMessage, 16)
	done := make(chan struct{})
	defer close(done)
	go c.readMessages(incoming, done)

	for {
		select {
		case msg, ok := <-incoming:
			if !ok {
				return
			}
			if !c.handle(msg) {
				return
			}

		case ev, ok := <-c.sub.Events():
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.write(ev) {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readMessages stops once the connection fails or done is closed.
func (c *client) readMessages(incoming chan<- ClientMessage, done <-chan struct{}) {
	defer close(incoming)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("invalid websocket message", log.Error(err))
			continue
		}
		select {
		case incoming <- msg:
		case <-done:
			return
		}
	}
}

func (c *client) handle(msg ClientMessage) bool {
	switch msg.Type {
	case "join":
		c.sub.Join(msg.WorkflowID)
		return c.write(Ack{Type: "joined", WorkflowID: msg.WorkflowID})
	case "leave":
		c.sub.Leave(msg.WorkflowID)
		return c.write(Ack{Type: "left", WorkflowID: msg.WorkflowID})
	default:
		return true
	}
}

func (c *client) write(v any) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		c.logger.Debug("websocket write failed", log.Error(err))
		return false
	}
	return true
}
