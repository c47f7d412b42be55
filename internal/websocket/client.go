package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"orator-go/internal/config"
	"orator-go/internal/events"
)

// watchKey identifies one subscription: a single document, or a whole
// collection when DocID is empty.
type watchKey struct {
	Collection string
	DocID      string
}

// Client is the middleman between one websocket connection and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	// Authenticated UID for this connection.
	UserID string

	// Subscriptions are mutated by readPump and read by the hub loop.
	mu      sync.Mutex
	watches map[watchKey]bool
}

// subscribedTo reports whether this client watches the given document,
// either directly or via a collection-wide subscription.
func (c *Client) subscribedTo(collection, docID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watches[watchKey{Collection: collection, DocID: docID}] ||
		c.watches[watchKey{Collection: collection}]
}

// readPump consumes subscribe/unsubscribe requests from the connection.
func (c *Client) readPump(wsCfg config.WebSocketConfig) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(int64(wsCfg.MaxMessageSizeBytes))
	c.conn.SetReadDeadline(time.Now().Add(time.Duration(wsCfg.PongWaitSeconds) * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(time.Duration(wsCfg.PongWaitSeconds) * time.Second))
		return nil
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error (client %s): %v", c.UserID, err)
			}
			break
		}
		if messageType != websocket.TextMessage {
			log.Printf("warning: client %s sent non-text message type %d", c.UserID, messageType)
			continue
		}

		var msg events.PushMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("error: failed to unmarshal message from client %s: %v", c.UserID, err)
			continue
		}

		switch msg.Type {
		case events.SubscribeType:
			if msg.Collection == "" {
				log.Printf("warning: client %s subscribe without collection", c.UserID)
				continue
			}
			c.mu.Lock()
			c.watches[watchKey{Collection: msg.Collection, DocID: msg.DocID}] = true
			c.mu.Unlock()
		case events.UnsubscribeType:
			c.mu.Lock()
			delete(c.watches, watchKey{Collection: msg.Collection, DocID: msg.DocID})
			c.mu.Unlock()
		default:
			log.Printf("warning: client %s sent unexpected message type %q", c.UserID, msg.Type)
		}
	}
}

// writePump pushes queued messages to the connection and keeps it alive
// with pings.
func (c *Client) writePump(wsCfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(wsCfg.PingPeriodSeconds) * time.Second)
	newline := []byte("\n")
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(time.Duration(wsCfg.WriteWaitSeconds) * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain whatever else is queued into the same frame.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(newline)
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(time.Duration(wsCfg.WriteWaitSeconds) * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWsPerConnection upgrades the request and runs the client's pumps.
// The connection starts with a subscription to the user's own profile, so
// friend-set changes arrive without an explicit subscribe.
func ServeWsPerConnection(hub *Hub, userID string, w http.ResponseWriter, r *http.Request, wsCfg config.WebSocketConfig) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  int(wsCfg.MaxMessageSizeBytes),
		WriteBufferSize: int(wsCfg.MaxMessageSizeBytes),
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("ServeWsPerConnection - upgrade failed:", err)
		return
	}
	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		UserID: userID,
		watches: map[watchKey]bool{
			{Collection: events.CollectionUserProfiles, DocID: userID}: true,
		},
	}
	client.hub.register <- client

	go client.writePump(wsCfg)
	go client.readPump(wsCfg)

	log.Printf("client connected: %s", userID)
}
