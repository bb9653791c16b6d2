package websocket

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/staykey-io/staykey/internal/jobs"
	"github.com/staykey-io/staykey/internal/pin"
)

// Hub maintains the set of connected ops clients and broadcasts
// credential lifecycle events to them.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[*Client]bool),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("📡 Ops client connected: %s", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Printf("📴 Ops client disconnected: %s", client.ID)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Buffer full or client dead; drop for this client
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends a message to every connected client
func (h *Hub) Broadcast(message interface{}) {
	jsonMsg, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling message: %v", err)
		return
	}
	select {
	case h.broadcast <- jsonMsg:
	default:
		log.Println("⚠️ Broadcast buffer full, dropping message")
	}
}

// pinMessage is the one-time delivery of a freshly issued code. The
// plaintext lives only in this message and in the QR image derived from
// it; it is never written to storage.
type pinMessage struct {
	Type         string    `json:"type"`
	CredentialID string    `json:"credentialId"`
	BookingID    string    `json:"bookingId"`
	LockID       string    `json:"lockId"`
	Code         string    `json:"code"`
	QRPng        string    `json:"qrPng,omitempty"` // base64 PNG
	ValidFrom    time.Time `json:"validFrom"`
	ValidTo      time.Time `json:"validTo"`
}

// DeliverPin implements the job processors' delivery hook: push the
// issued code (with a scannable QR) to connected ops clients.
func (h *Hub) DeliverPin(issued jobs.IssuedPin) {
	msg := pinMessage{
		Type:         "PIN_ISSUED",
		CredentialID: issued.CredentialID,
		BookingID:    issued.BookingID,
		LockID:       issued.LockID,
		Code:         issued.Code,
		ValidFrom:    issued.ValidFrom,
		ValidTo:      issued.ValidTo,
	}
	if png, err := pin.QR(issued.Code, 256); err == nil {
		msg.QRPng = base64.StdEncoding.EncodeToString(png)
	} else {
		log.Printf("⚠️ QR render failed for credential %s: %v", issued.CredentialID, err)
	}
	h.Broadcast(msg)
}
