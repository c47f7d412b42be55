package events

import (
	"encoding/json"
	"time"
)

// Well-known collections of the document store.
const (
	CollectionAccounts     = "accounts"
	CollectionUserProfiles = "userProfiles"
	CollectionBattles      = "battles"
)

// ChangeKind distinguishes document writes from deletions.
type ChangeKind string

const (
	ChangeKindSet    ChangeKind = "set"
	ChangeKindDelete ChangeKind = "delete"
)

// ChangeEvent describes one committed change of one document. Every commit
// produces exactly one event per touched document, but a listener may see
// the same event more than once (local dispatch plus the Kafka stream), so
// consumers must apply events idempotently, keyed by Version.
type ChangeEvent struct {
	Collection string     `json:"collection"`
	DocID      string     `json:"docId"`
	Kind       ChangeKind `json:"kind"`
	// Version is the document version after the commit. Versions are
	// strictly increasing per document; deletes carry the version of the
	// removed document.
	Version    int64           `json:"version"`
	Data       json.RawMessage `json:"data,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}
