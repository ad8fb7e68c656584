package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	EventUpload      = "upload"
	EventIndexed     = "indexed"
	EventIndexFailed = "index_failed"
	EventDelete      = "delete"
)

type Event struct {
	Type    string        `json:"type"`
	ImageID string        `json:"image_id,omitempty"`
	Image   *GalleryImage `json:"image,omitempty"`
	Error   string        `json:"error,omitempty"`
}

type Client struct {
	user string
	send chan []byte
}

type message struct {
	user string
	data []byte
}

// Hub fans events out to the open event streams of a user.
type Hub struct {
	clients map[*Client]struct{}

	broadcast  chan message
	register   chan *Client
	unregister chan *Client

	ctx context.Context
}

func NewHub(ctx context.Context) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),

		broadcast:  make(chan message),
		register:   make(chan *Client),
		unregister: make(chan *Client),

		ctx: ctx,
	}
}

func (h *Hub) Run() {
	defer h.closeAll()

	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			for client := range h.clients {
				if client.user != msg.user {
					continue
				}

				select {
				case client.send <- msg.data:
				default:
					h.removeClient(client)
				}
			}
		}
	}
}

func (h *Hub) closeAll() {
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *Hub) removeClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) Broadcast(user string, event Event) {
	if h == nil {
		return
	}

	b, err := json.Marshal(event)
	if err != nil {
		log.WarningF("Failed to encode event: %v\n", err)

		return
	}

	select {
	case <-h.ctx.Done():
		return
	case h.broadcast <- message{user: user, data: b}:
	}
}

func (h *Hub) Handle(c *gin.Context) {
	user := currentUser(c)

	w := c.Writer

	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	w.WriteHeader(http.StatusOK)

	client := &Client{
		user: user.ID,
		send: make(chan []byte, 8),
	}

	select {
	case <-h.ctx.Done():
		return
	case h.register <- client:
	}

	defer func() {
		select {
		case <-h.ctx.Done():
		case h.unregister <- client:
		}
	}()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case msg, ok := <-client.send:
			if !ok {
				return
			}

			if err := h.writeSSE(w, rc, msg); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := h.writeSSE(w, rc, []byte("ping")); err != nil {
				return
			}
		}
	}
}

func (h *Hub) writeSSE(w gin.ResponseWriter, rc *http.ResponseController, data []byte) error {
	// not every writer supports deadlines (e.g. httptest recorders)
	_ = rc.SetWriteDeadline(time.Now().Add(5 * time.Second))

	_, err := w.Write(data)
	if err != nil {
		return err
	}

	_, err = w.Write([]byte("\n"))
	if err != nil {
		return err
	}

	w.Flush()

	return nil
}
