package notify

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/MichalRedm/distributed-library-system/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts invalidations to every connected websocket subscriber. A
// client whose send buffer is full is dropped rather than blocking the
// broadcast loop.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan model.Invalidation

	mu      sync.Mutex
	clients map[*client]bool

	log *slog.Logger
}

var _ Notifier = (*Hub)(nil)

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan model.Invalidation, 64),
		clients:    make(map[*client]bool),
		log:        log,
	}
}

func (h *Hub) Invalidate(ev model.Invalidation) {
	select {
	case h.broadcast <- ev:
	default:
		h.log.Warn("invalidation hub backlog full, dropping event",
			"entity_kind", ev.Kind, "entity_id", ev.ID)
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.drop(c)

		case ev := <-h.broadcast:
			payload, err := json.Marshal(ev)
			if err != nil {
				h.log.Error("marshal invalidation", "err", err)
				continue
			}
			h.mu.Lock()
			targets := make([]*client, 0, len(h.clients))
			for c := range h.clients {
				targets = append(targets, c)
			}
			h.mu.Unlock()
			for _, c := range targets {
				select {
				case c.send <- payload:
				default:
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ServeWS upgrades the request and streams invalidations until the client
// disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{conn: conn, send: make(chan []byte, 16)}
	h.register <- c

	go func() {
		defer conn.Close()
		for payload := range c.send {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.unregister <- c
				return
			}
		}
	}()

	// Reader loop only watches for the client closing.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.unregister <- c
				return
			}
		}
	}()
	return nil
}
