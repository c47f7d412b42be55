package websocket

import (
	"encoding/json"
	"log"

	"orator-go/internal/events"
)

// Hub maintains the set of connected push clients and fans committed
// document changes out to the clients subscribed to them.
type Hub struct {
	// Registered clients, one connection per UID; a new connection for the
	// same UID replaces the old one.
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client

	// Committed document changes to fan out.
	changes chan events.ChangeEvent
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		changes:    make(chan events.ChangeEvent, 256),
	}
}

// DeliverChange hands a committed change to the hub for fan-out. The send
// is non-blocking so the change-stream consumer never stalls on a slow hub;
// a dropped event is recovered by the client's next read of the document.
func (h *Hub) DeliverChange(evt events.ChangeEvent) {
	select {
	case h.changes <- evt:
	default:
		log.Printf("warning: hub change channel full, dropping event for %s/%s", evt.Collection, evt.DocID)
	}
}

// Run starts the hub loop. It owns the clients map; all access goes through
// the hub's channels.
func (h *Hub) Run() {
	log.Println("WebSocket hub run loop started.")
	for {
		select {
		case client := <-h.register:
			if existing, ok := h.clients[client.UserID]; ok {
				log.Printf("user %s reconnected, replacing previous connection", client.UserID)
				close(existing.send)
			}
			h.clients[client.UserID] = client
			log.Printf("client registered: %s", client.UserID)

		case client := <-h.unregister:
			// Only remove the client if it is still the stored connection;
			// a reconnect may already have replaced it.
			if stored, ok := h.clients[client.UserID]; ok && stored == client {
				delete(h.clients, client.UserID)
				close(client.send)
				log.Printf("client unregistered: %s", client.UserID)
			}

		case evt := <-h.changes:
			h.fanOut(evt)
		}
	}
}

func (h *Hub) fanOut(evt events.ChangeEvent) {
	var payload []byte
	for uid, client := range h.clients {
		if !client.subscribedTo(evt.Collection, evt.DocID) {
			continue
		}
		if payload == nil {
			raw, err := json.Marshal(evt)
			if err != nil {
				log.Printf("error: failed to marshal change event for %s/%s: %v", evt.Collection, evt.DocID, err)
				return
			}
			msg := events.PushMessage{
				Type:       events.DocumentChangeType,
				Collection: evt.Collection,
				DocID:      evt.DocID,
				Payload:    raw,
			}
			payload, err = json.Marshal(msg)
			if err != nil {
				log.Printf("error: failed to marshal push message for %s/%s: %v", evt.Collection, evt.DocID, err)
				return
			}
		}
		select {
		case client.send <- payload:
		default:
			// Slow consumer: drop the connection, the client reconnects and
			// re-reads current state.
			log.Printf("warning: send buffer full for %s, removing client", uid)
			close(client.send)
			delete(h.clients, uid)
		}
	}
}
