package docstore

import (
	"context"
	"errors"

	"orator-go/internal/events"
)

var (
	// ErrNotFound is returned when the referenced document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrConflict signals that a concurrent writer committed between this
	// transaction's reads and its commit. RunTransaction retries on it; it
	// escapes only wrapped in ErrUnavailable once the attempt budget is
	// exhausted.
	ErrConflict = errors.New("document version conflict")
	// ErrUnavailable is returned for transient store failures (network,
	// conflict exhaustion). The whole operation is safe to retry.
	ErrUnavailable = errors.New("document store unavailable")
)

// Ref identifies a single document.
type Ref struct {
	Collection string
	ID         string
}

// Doc is a raw stored document together with its version.
type Doc struct {
	Ref     Ref
	Version int64
	Data    []byte
}

// Txn is the view of the store inside one transaction. Reads observe the
// committed state at the time of the call and record the observed version;
// the commit verifies every recorded version and applies all queued writes
// atomically, or fails the attempt with ErrConflict.
type Txn interface {
	// Get unmarshals the document into out and records its version for
	// commit-time verification. Returns ErrNotFound (and records absence)
	// when the document does not exist.
	Get(ref Ref, out interface{}) error
	// Set queues a full-document write.
	Set(ref Ref, doc interface{}) error
	// Update queues a top-level field merge into the document.
	Update(ref Ref, fields map[string]interface{}) error
	// Delete queues removal of the document.
	Delete(ref Ref)
}

// ChangeHandler receives committed change events for a subscription.
type ChangeHandler func(evt events.ChangeEvent)

// ErrorHandler receives asynchronous subscription failures, e.g. when the
// subscriber cannot keep up with the stream.
type ErrorHandler func(err error)

// Subscription is a live listener registration. Release stops delivery;
// it is safe to call more than once.
type Subscription interface {
	Release()
}

// Store is the replicated document store contract: per-document reads and
// writes, optimistic multi-document transactions with transparent retry,
// and push subscriptions delivering every committed change.
type Store interface {
	Get(ctx context.Context, ref Ref, out interface{}) error
	Set(ctx context.Context, ref Ref, doc interface{}) error
	Update(ctx context.Context, ref Ref, fields map[string]interface{}) error
	Delete(ctx context.Context, ref Ref) error

	// RunTransaction executes fn against a transactional view and commits
	// its writes atomically. On a version conflict the whole fn is re-run;
	// fn must therefore be side-effect-free apart from its Txn calls.
	RunTransaction(ctx context.Context, fn func(tx Txn) error) error

	// List returns all documents of a collection.
	List(ctx context.Context, collection string) ([]Doc, error)

	// Listen subscribes to every committed change of one document.
	Listen(ref Ref, onChange ChangeHandler, onError ErrorHandler) Subscription
	// ListenCollection subscribes to every committed change in a
	// collection; filtering is the subscriber's concern.
	ListenCollection(collection string, onChange ChangeHandler, onError ErrorHandler) Subscription
}
