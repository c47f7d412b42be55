package events

import "encoding/json"

// PushMessageType defines the type of a message exchanged over the sync
// server's WebSocket connection.
type PushMessageType string

const (
	// DocumentChangeType carries a ChangeEvent to the client.
	DocumentChangeType PushMessageType = "documentChange"
	// SubscribeType is sent by the client to start watching a battle.
	SubscribeType PushMessageType = "subscribe"
	// UnsubscribeType is sent by the client to stop watching a battle.
	UnsubscribeType PushMessageType = "unsubscribe"
)

// PushMessage is the envelope for all sync server WebSocket traffic.
// For subscribe/unsubscribe, Collection and DocID name the watched
// document; for documentChange, Payload holds the serialized ChangeEvent.
type PushMessage struct {
	Type       PushMessageType `json:"type"`
	Collection string          `json:"collection,omitempty"`
	DocID      string          `json:"docId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}
