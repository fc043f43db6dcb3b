package monitor

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nixstate/sharedstate/internal/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMessage = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// change is the JSON frame pushed over /ws for every broadcast, mirroring
// the KEY SP HASH line the TCP protocol emits.
type change struct {
	Key  string `json:"key"`
	Hash string `json:"hash"`
}

// wsHub maintains the set of connected dashboard observers and fans a
// change out to all of them. Grounded on internal/web/hub.go's
// register/unregister/broadcast shape, adapted to a push-only feed: no
// message a client sends is ever acted on.
type wsHub struct {
	clients    map[*wsClient]bool
	broadcast  chan change
	register   chan *wsClient
	unregister chan *wsClient
	quit       chan struct{}
}

func newWSHub() *wsHub {
	return &wsHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan change, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		quit:       make(chan struct{}),
	}
}

func (h *wsHub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}

		case <-h.quit:
			return
		}
	}
}

func (h *wsHub) stop() {
	close(h.quit)
}

// publish parses a "KEY HASH\n" broadcast line and queues it for every
// connected observer. Wired as the registry's broadcast observer.
func (h *wsHub) publish(line string) {
	line = strings.TrimSuffix(line, "\n")
	idx := strings.IndexByte(line, ' ')
	if idx < 0 {
		return
	}
	c := change{Key: line[:idx], Hash: line[idx+1:]}
	select {
	case h.broadcast <- c:
	default:
		logger.Warn("monitor: dashboard broadcast channel full, dropping update")
	}
}

func (h *wsHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("monitor: websocket upgrade failed: %v", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan change, 16)}
	h.register <- c

	go c.readPump(h)
	go c.writePump()
}

// wsClient is one dashboard observer's connection.
type wsClient struct {
	conn *websocket.Conn
	send chan change
}

// readPump keeps pong handling alive and notices when the peer goes away.
// It discards any application data received: /ws is a read-only feed and
// accepts no inbound updates, so there is only ever one path by which a
// key's value changes.
func (c *wsClient) readPump(h *wsHub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessage)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
