package handlers

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"jobsight/orchestrator/internal/models"
)

// Hub manages WebSocket connections for real-time detection updates.
// Clients subscribe by photo_id; completed responses are pushed to every
// subscriber of that photo.
type Hub struct {
	mu            sync.RWMutex
	clients       map[string]*wsClient
	subscriptions map[string]map[*wsClient]struct{}
	upgrader      websocket.Upgrader
}

type wsClient struct {
	conn     *websocket.Conn
	clientID string
	send     chan WSMessage
	photos   map[string]struct{}
}

type WSMessage struct {
	Type      string `json:"type"`
	PhotoID   string `json:"photo_id,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func NewHub() *Hub {
	return &Hub{
		clients:       make(map[string]*wsClient),
		subscriptions: make(map[string]map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = "client-" + uuid.NewString()
	}

	client := &wsClient{
		conn:     conn,
		clientID: clientID,
		send:     make(chan WSMessage, 256),
		photos:   make(map[string]struct{}),
	}

	h.mu.Lock()
	h.clients[clientID] = client
	h.mu.Unlock()
	log.Printf("WebSocket client connected: %s", clientID)

	go h.readPump(client)
	go h.writePump(client)

	client.send <- WSMessage{
		Type:      "WELCOME",
		ClientID:  clientID,
		Timestamp: time.Now().Unix(),
		Payload:   map[string]any{"message": "Connected to detection orchestrator"},
	}
}

func (h *Hub) readPump(client *wsClient) {
	defer func() {
		h.disconnect(client)
		client.conn.Close()
	}()

	client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := client.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for %s: %v", client.clientID, err)
			}
			return
		}

		switch msg.Type {
		case "PING":
			client.send <- WSMessage{Type: "PONG", ClientID: client.clientID, Timestamp: time.Now().Unix()}
		case "SUBSCRIBE":
			if msg.PhotoID != "" {
				h.subscribe(client, msg.PhotoID)
				client.send <- WSMessage{Type: "SUBSCRIBED", PhotoID: msg.PhotoID, Timestamp: time.Now().Unix()}
			}
		case "UNSUBSCRIBE":
			if msg.PhotoID != "" {
				h.unsubscribe(client, msg.PhotoID)
			}
		default:
			log.Printf("Unknown message type from %s: %s", client.clientID, msg.Type)
		}
	}
}

func (h *Hub) writePump(client *wsClient) {
	ticker := time.NewTicker(45 * time.Second)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) subscribe(client *wsClient, photoID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subscriptions[photoID] == nil {
		h.subscriptions[photoID] = make(map[*wsClient]struct{})
	}
	h.subscriptions[photoID][client] = struct{}{}
	client.photos[photoID] = struct{}{}
}

func (h *Hub) unsubscribe(client *wsClient, photoID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs := h.subscriptions[photoID]; subs != nil {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.subscriptions, photoID)
		}
	}
	delete(client.photos, photoID)
}

func (h *Hub) disconnect(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for photoID := range client.photos {
		if subs := h.subscriptions[photoID]; subs != nil {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.subscriptions, photoID)
			}
		}
	}
	delete(h.clients, client.clientID)
	log.Printf("WebSocket client disconnected: %s", client.clientID)
}

// BroadcastDetection pushes a completed response to every subscriber of its
// photo. Slow clients are skipped rather than blocking the dispatcher.
func (h *Hub) BroadcastDetection(resp models.DetectionResponse) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.subscriptions[resp.PhotoID] {
		select {
		case client.send <- WSMessage{
			Type:      "DETECTION_COMPLETED",
			PhotoID:   resp.PhotoID,
			ClientID:  client.clientID,
			Payload:   resp,
			Timestamp: time.Now().Unix(),
		}:
		default:
			log.Printf("Dropping detection update for slow client %s", client.clientID)
		}
	}
}

// Close tears all client connections down, used during shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for clientID, client := range h.clients {
		close(client.send)
		client.conn.Close()
		delete(h.clients, clientID)
	}
	h.subscriptions = make(map[string]map[*wsClient]struct{})
}
