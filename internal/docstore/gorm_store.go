package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"orator-go/internal/events"
)

// Document is the single table behind the gorm-backed store: one row per
// stored document, with a version column for optimistic concurrency.
type Document struct {
	Collection string    `gorm:"primaryKey;type:varchar(64)"`
	DocID      string    `gorm:"primaryKey;type:varchar(128);column:doc_id"`
	Data       []byte    `gorm:"type:jsonb;not null"`
	Version    int64     `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

// TableName specifies the table name for the Document model.
func (Document) TableName() string {
	return "documents"
}

// ChangePublisher replicates committed change events to other processes.
// The Kafka producer implements it; a nil publisher keeps changes local.
type ChangePublisher interface {
	PublishChange(ctx context.Context, evt events.ChangeEvent) error
}

// GormStore implements Store on a relational database through gorm.
// Transactions are optimistic: reads record the observed document version
// and the commit re-verifies every recorded version inside one SQL
// transaction, retrying the whole function on conflict.
type GormStore struct {
	db          *gorm.DB
	notifier    *Notifier
	publisher   ChangePublisher
	maxAttempts int
}

// NewGormStore creates a gorm-backed document store. publisher may be nil
// when no cross-process replication is wanted (e.g. single-binary setups).
func NewGormStore(db *gorm.DB, notifier *Notifier, publisher ChangePublisher, maxAttempts int) *GormStore {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &GormStore{db: db, notifier: notifier, publisher: publisher, maxAttempts: maxAttempts}
}

type writeKind int

const (
	writeSet writeKind = iota
	writeUpdate
	writeDelete
)

type pendingWrite struct {
	ref    Ref
	kind   writeKind
	data   []byte                 // writeSet
	fields map[string]interface{} // writeUpdate
}

// gormTxn buffers reads and writes for one transaction attempt.
type gormTxn struct {
	ctx   context.Context
	db    *gorm.DB
	reads map[Ref]int64 // observed version; 0 means observed absent
	order []pendingWrite
}

func (t *gormTxn) Get(ref Ref, out interface{}) error {
	var row Document
	err := t.db.WithContext(t.ctx).
		First(&row, "collection = ? AND doc_id = ?", ref.Collection, ref.ID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			t.reads[ref] = 0
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	t.reads[ref] = row.Version
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(row.Data, out); err != nil {
		return fmt.Errorf("unmarshal document %s/%s: %w", ref.Collection, ref.ID, err)
	}
	return nil
}

func (t *gormTxn) Set(ref Ref, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document %s/%s: %w", ref.Collection, ref.ID, err)
	}
	t.order = append(t.order, pendingWrite{ref: ref, kind: writeSet, data: data})
	return nil
}

func (t *gormTxn) Update(ref Ref, fields map[string]interface{}) error {
	t.order = append(t.order, pendingWrite{ref: ref, kind: writeUpdate, fields: fields})
	return nil
}

func (t *gormTxn) Delete(ref Ref) {
	t.order = append(t.order, pendingWrite{ref: ref, kind: writeDelete})
}

// RunTransaction executes fn optimistically, retrying on version conflicts
// up to the configured attempt budget before reporting ErrUnavailable.
func (s *GormStore) RunTransaction(ctx context.Context, fn func(tx Txn) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		txn := &gormTxn{ctx: ctx, db: s.db, reads: make(map[Ref]int64)}
		if err := fn(txn); err != nil {
			return err
		}

		committed, err := s.commit(ctx, txn)
		if err == nil {
			s.broadcast(ctx, committed)
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		lastErr = err
		log.Printf("GormStore: transaction conflict on attempt %d/%d, retrying", attempt, s.maxAttempts)
	}
	return fmt.Errorf("%w: retries exhausted: %v", ErrUnavailable, lastErr)
}

// commit applies the buffered writes inside one SQL transaction, verifying
// every version recorded by the attempt's reads.
func (s *GormStore) commit(ctx context.Context, txn *gormTxn) ([]events.ChangeEvent, error) {
	var committed []events.ChangeEvent

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, w := range txn.order {
			var row Document
			err := tx.First(&row, "collection = ? AND doc_id = ?", w.ref.Collection, w.ref.ID).Error
			exists := err == nil
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if readVersion, read := txn.reads[w.ref]; read {
				current := int64(0)
				if exists {
					current = row.Version
				}
				if current != readVersion {
					return ErrConflict
				}
			}

			switch w.kind {
			case writeSet:
				next := Document{
					Collection: w.ref.Collection,
					DocID:      w.ref.ID,
					Data:       w.data,
					Version:    row.Version + 1,
					UpdatedAt:  now,
				}
				if exists {
					res := tx.Model(&Document{}).
						Where("collection = ? AND doc_id = ? AND version = ?", w.ref.Collection, w.ref.ID, row.Version).
						Updates(map[string]interface{}{"data": next.Data, "version": next.Version, "updated_at": now})
					if res.Error != nil {
						return res.Error
					}
					if res.RowsAffected == 0 {
						return ErrConflict
					}
				} else {
					if err := tx.Create(&next).Error; err != nil {
						if errors.Is(err, gorm.ErrDuplicatedKey) {
							return ErrConflict
						}
						return err
					}
				}
				committed = append(committed, changeEvent(w.ref, events.ChangeKindSet, next.Version, next.Data, now))

			case writeUpdate:
				if !exists {
					return fmt.Errorf("update %s/%s: %w", w.ref.Collection, w.ref.ID, ErrNotFound)
				}
				merged, err := mergeFields(row.Data, w.fields)
				if err != nil {
					return err
				}
				res := tx.Model(&Document{}).
					Where("collection = ? AND doc_id = ? AND version = ?", w.ref.Collection, w.ref.ID, row.Version).
					Updates(map[string]interface{}{"data": merged, "version": row.Version + 1, "updated_at": now})
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected == 0 {
					return ErrConflict
				}
				committed = append(committed, changeEvent(w.ref, events.ChangeKindSet, row.Version+1, merged, now))

			case writeDelete:
				if !exists {
					continue
				}
				res := tx.Where("collection = ? AND doc_id = ? AND version = ?", w.ref.Collection, w.ref.ID, row.Version).
					Delete(&Document{})
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected == 0 {
					return ErrConflict
				}
				committed = append(committed, changeEvent(w.ref, events.ChangeKindDelete, row.Version, nil, now))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// broadcast delivers committed events locally and replicates them through
// the publisher. Publish failures are logged, never surfaced: the commit
// already happened and the local dispatch has gone out.
func (s *GormStore) broadcast(ctx context.Context, committed []events.ChangeEvent) {
	for _, evt := range committed {
		if s.notifier != nil {
			s.notifier.Dispatch(evt)
		}
		if s.publisher != nil {
			if err := s.publisher.PublishChange(ctx, evt); err != nil {
				log.Printf("GormStore: failed to publish change %s/%s v%d: %v",
					evt.Collection, evt.DocID, evt.Version, err)
			}
		}
	}
}

func changeEvent(ref Ref, kind events.ChangeKind, version int64, data []byte, at time.Time) events.ChangeEvent {
	return events.ChangeEvent{
		Collection: ref.Collection,
		DocID:      ref.ID,
		Kind:       kind,
		Version:    version,
		Data:       data,
		OccurredAt: at,
	}
}

func mergeFields(data []byte, fields map[string]interface{}) ([]byte, error) {
	doc := make(map[string]interface{})
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("merge fields: %w", err)
		}
	}
	for k, v := range fields {
		doc[k] = v
	}
	return json.Marshal(doc)
}

// Get reads the current committed state of one document.
func (s *GormStore) Get(ctx context.Context, ref Ref, out interface{}) error {
	var row Document
	err := s.db.WithContext(ctx).
		First(&row, "collection = ? AND doc_id = ?", ref.Collection, ref.ID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := json.Unmarshal(row.Data, out); err != nil {
		return fmt.Errorf("unmarshal document %s/%s: %w", ref.Collection, ref.ID, err)
	}
	return nil
}

// Set writes a full document (create or replace).
func (s *GormStore) Set(ctx context.Context, ref Ref, doc interface{}) error {
	return s.RunTransaction(ctx, func(tx Txn) error {
		return tx.Set(ref, doc)
	})
}

// Update merges top-level fields into an existing document.
func (s *GormStore) Update(ctx context.Context, ref Ref, fields map[string]interface{}) error {
	return s.RunTransaction(ctx, func(tx Txn) error {
		return tx.Update(ref, fields)
	})
}

// Delete removes a document. Deleting an absent document is a no-op.
func (s *GormStore) Delete(ctx context.Context, ref Ref) error {
	return s.RunTransaction(ctx, func(tx Txn) error {
		tx.Delete(ref)
		return nil
	})
}

// List returns all documents of a collection.
func (s *GormStore) List(ctx context.Context, collection string) ([]Doc, error) {
	var rows []Document
	if err := s.db.WithContext(ctx).Where("collection = ?", collection).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	docs := make([]Doc, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, Doc{
			Ref:     Ref{Collection: row.Collection, ID: row.DocID},
			Version: row.Version,
			Data:    row.Data,
		})
	}
	return docs, nil
}

// Listen subscribes to committed changes of one document.
func (s *GormStore) Listen(ref Ref, onChange ChangeHandler, onError ErrorHandler) Subscription {
	return s.notifier.Subscribe(ref, onChange, onError)
}

// ListenCollection subscribes to committed changes of a whole collection.
func (s *GormStore) ListenCollection(collection string, onChange ChangeHandler, onError ErrorHandler) Subscription {
	return s.notifier.SubscribeCollection(collection, onChange, onError)
}
