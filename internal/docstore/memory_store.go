package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"orator-go/internal/events"
)

// MemoryStore is an in-process Store with the same optimistic-transaction
// and listener semantics as the gorm-backed store. It backs tests and
// single-binary setups that do not need a shared database.
type MemoryStore struct {
	mu       sync.Mutex
	docs     map[Ref]*memoryDoc
	notifier *Notifier

	maxAttempts int

	// beforeCommit, when set, runs between a transaction attempt's reads
	// and its commit while the store lock is released. Tests use it to
	// interleave a conflicting writer deterministically.
	beforeCommit func()
}

type memoryDoc struct {
	version int64
	data    []byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(maxAttempts int) *MemoryStore {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &MemoryStore{
		docs:        make(map[Ref]*memoryDoc),
		notifier:    NewNotifier(),
		maxAttempts: maxAttempts,
	}
}

// SetBeforeCommitHook installs fn to run between each transaction
// attempt's function and its commit.
func (s *MemoryStore) SetBeforeCommitHook(fn func()) {
	s.beforeCommit = fn
}

type memoryTxn struct {
	store  *MemoryStore
	reads  map[Ref]int64
	writes []pendingWrite
}

func (t *memoryTxn) Get(ref Ref, out interface{}) error {
	t.store.mu.Lock()
	doc, ok := t.store.docs[ref]
	if !ok {
		t.store.mu.Unlock()
		t.reads[ref] = 0
		return ErrNotFound
	}
	version, data := doc.version, doc.data
	t.store.mu.Unlock()

	t.reads[ref] = version
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal document %s/%s: %w", ref.Collection, ref.ID, err)
	}
	return nil
}

func (t *memoryTxn) Set(ref Ref, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document %s/%s: %w", ref.Collection, ref.ID, err)
	}
	t.writes = append(t.writes, pendingWrite{ref: ref, kind: writeSet, data: data})
	return nil
}

func (t *memoryTxn) Update(ref Ref, fields map[string]interface{}) error {
	t.writes = append(t.writes, pendingWrite{ref: ref, kind: writeUpdate, fields: fields})
	return nil
}

func (t *memoryTxn) Delete(ref Ref) {
	t.writes = append(t.writes, pendingWrite{ref: ref, kind: writeDelete})
}

// RunTransaction executes fn optimistically, retrying on version conflicts
// up to the configured attempt budget before reporting ErrUnavailable.
func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(tx Txn) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		txn := &memoryTxn{store: s, reads: make(map[Ref]int64)}
		if err := fn(txn); err != nil {
			return err
		}

		if s.beforeCommit != nil {
			s.beforeCommit()
		}

		committed, err := s.commit(txn)
		if err == nil {
			for _, evt := range committed {
				s.notifier.Dispatch(evt)
			}
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: retries exhausted: %v", ErrUnavailable, lastErr)
}

func (s *MemoryStore) commit(txn *memoryTxn) ([]events.ChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Verify every recorded read before touching anything: the commit is
	// all-or-nothing.
	for ref, readVersion := range txn.reads {
		current := int64(0)
		if doc, ok := s.docs[ref]; ok {
			current = doc.version
		}
		if current != readVersion {
			return nil, ErrConflict
		}
	}

	// Stage all writes first so a failing one leaves the store untouched.
	now := time.Now().UTC()
	staged := make(map[Ref]*memoryDoc)
	deleted := make(map[Ref]bool)
	current := func(ref Ref) *memoryDoc {
		if deleted[ref] {
			return nil
		}
		if doc, ok := staged[ref]; ok {
			return doc
		}
		return s.docs[ref]
	}

	var committed []events.ChangeEvent
	for _, w := range txn.writes {
		existing := current(w.ref)
		switch w.kind {
		case writeSet:
			version := int64(1)
			if existing != nil {
				version = existing.version + 1
			}
			staged[w.ref] = &memoryDoc{version: version, data: w.data}
			delete(deleted, w.ref)
			committed = append(committed, changeEvent(w.ref, events.ChangeKindSet, version, w.data, now))
		case writeUpdate:
			if existing == nil {
				return nil, fmt.Errorf("update %s/%s: %w", w.ref.Collection, w.ref.ID, ErrNotFound)
			}
			merged, err := mergeFields(existing.data, w.fields)
			if err != nil {
				return nil, err
			}
			staged[w.ref] = &memoryDoc{version: existing.version + 1, data: merged}
			committed = append(committed, changeEvent(w.ref, events.ChangeKindSet, existing.version+1, merged, now))
		case writeDelete:
			if existing == nil {
				continue
			}
			delete(staged, w.ref)
			deleted[w.ref] = true
			committed = append(committed, changeEvent(w.ref, events.ChangeKindDelete, existing.version, nil, now))
		}
	}

	for ref, doc := range staged {
		s.docs[ref] = doc
	}
	for ref := range deleted {
		delete(s.docs, ref)
	}
	return committed, nil
}

// Get reads the current committed state of one document.
func (s *MemoryStore) Get(ctx context.Context, ref Ref, out interface{}) error {
	s.mu.Lock()
	doc, ok := s.docs[ref]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	data := doc.data
	s.mu.Unlock()
	return json.Unmarshal(data, out)
}

// Set writes a full document (create or replace).
func (s *MemoryStore) Set(ctx context.Context, ref Ref, doc interface{}) error {
	return s.RunTransaction(ctx, func(tx Txn) error {
		return tx.Set(ref, doc)
	})
}

// Update merges top-level fields into an existing document.
func (s *MemoryStore) Update(ctx context.Context, ref Ref, fields map[string]interface{}) error {
	return s.RunTransaction(ctx, func(tx Txn) error {
		return tx.Update(ref, fields)
	})
}

// Delete removes a document. Deleting an absent document is a no-op.
func (s *MemoryStore) Delete(ctx context.Context, ref Ref) error {
	return s.RunTransaction(ctx, func(tx Txn) error {
		tx.Delete(ref)
		return nil
	})
}

// List returns all documents of a collection.
func (s *MemoryStore) List(ctx context.Context, collection string) ([]Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var docs []Doc
	for ref, doc := range s.docs {
		if ref.Collection != collection {
			continue
		}
		data := make([]byte, len(doc.data))
		copy(data, doc.data)
		docs = append(docs, Doc{Ref: ref, Version: doc.version, Data: data})
	}
	return docs, nil
}

// Listen subscribes to committed changes of one document.
func (s *MemoryStore) Listen(ref Ref, onChange ChangeHandler, onError ErrorHandler) Subscription {
	return s.notifier.Subscribe(ref, onChange, onError)
}

// ListenCollection subscribes to committed changes of a whole collection.
func (s *MemoryStore) ListenCollection(collection string, onChange ChangeHandler, onError ErrorHandler) Subscription {
	return s.notifier.SubscribeCollection(collection, onChange, onError)
}
