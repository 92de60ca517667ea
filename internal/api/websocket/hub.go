// Package websocket is the push side of the boundary: rather than make the
// menu-bar UI poll list_tasks/list_manager_status, a subscribed client
// receives a message every time a task or manager status changes.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jasoncavinder/helm/internal/models"
	"github.com/jasoncavinder/helm/internal/pkg/metrics"
)

// Message is the envelope every push carries. Type is one of
// "task_update" or "manager_status_update".
type Message struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub maintains active subscriber connections and fans a broadcast out to
// all of them, dropping a client whose send buffer is full rather than
// blocking the broadcaster.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(ctx context.Context) *Hub {
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		ctx:        hubCtx,
		cancel:     cancel,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			metrics.WebSocketConnectionsActive.Set(float64(len(h.clients)))
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			metrics.WebSocketConnectionsActive.Set(float64(len(h.clients)))
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// BroadcastTaskUpdate pushes a task's current state to every subscriber.
func (h *Hub) BroadcastTaskUpdate(task models.TaskRecord) error {
	return h.broadcastMessage(Message{Type: "task_update", Payload: task, Timestamp: time.Now()})
}

// BroadcastManagerStatusUpdate pushes a manager's current status.
func (h *Hub) BroadcastManagerStatusUpdate(status models.ManagerStatus) error {
	return h.broadcastMessage(Message{Type: "manager_status_update", Payload: status, Timestamp: time.Now()})
}

func (h *Hub) broadcastMessage(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
		return nil
	case <-h.ctx.Done():
		return h.ctx.Err()
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
