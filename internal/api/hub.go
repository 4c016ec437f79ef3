package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/inkfeed/inkfeed/internal/core"
)

// Event is the envelope pushed to websocket subscribers.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans orchestrator events out to connected websocket clients. It
// satisfies core.Notifier so the orchestrator stays unaware of HTTP.
type Hub struct {
	logger     *zap.Logger
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan Event
	mu         sync.RWMutex
	stopCh     chan struct{}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan Event, 256),
		stopCh:     make(chan struct{}),
	}
}

func (h *Hub) Start() {
	go h.run()
}

func (h *Hub) Stop() {
	close(h.stopCh)
}

// JobEvent implements core.Notifier.
func (h *Hub) JobEvent(event core.JobEvent, job *core.Job) {
	h.publish(Event{Type: string(event), Data: job})
}

// PrinterEvent implements core.Notifier.
func (h *Hub) PrinterEvent(connected bool) {
	h.publish(Event{Type: "printer_status", Data: gin.H{"connected": connected}})
}

func (h *Hub) publish(event Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("dropping websocket event, broadcast buffer full",
			zap.String("type", event.Type))
	}
}

func (h *Hub) run() {
	for {
		select {
		case <-h.stopCh:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				client.conn.Close()
			}
			h.clients = make(map[*wsClient]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal websocket event", zap.Error(err))
				continue
			}
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					go h.drop(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) drop(client *wsClient) {
	select {
	case h.unregister <- client:
	case <-h.stopCh:
	}
	client.conn.Close()
}

// HandleWS upgrades the request and attaches the client to the hub.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 64)}
	select {
	case h.register <- client:
	case <-h.stopCh:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

// pingInterval is a variable so tests can tighten it.
var pingInterval = 30 * time.Second

const writeWait = 10 * time.Second

// writePump is the sole writer on the connection. Pings are sent from here
// rather than the hub loop, gorilla/websocket allows only one concurrent
// writer per connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

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

// readPump discards inbound frames; the stream is push only. It exists to
// notice closed connections promptly.
func (c *wsClient) readPump(h *Hub) {
	defer func() {
		h.drop(c)
	}()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
