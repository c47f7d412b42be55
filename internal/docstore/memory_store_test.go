package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"orator-go/internal/events"
)

type counterDoc struct {
	Value int    `json:"value"`
	Label string `json:"label,omitempty"`
}

func testRef(id string) Ref {
	return Ref{Collection: "counters", ID: id}
}

func TestSetAndGet(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()

	if err := store.Set(ctx, testRef("a"), counterDoc{Value: 7}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got counterDoc
	if err := store.Get(ctx, testRef("a"), &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Value != 7 {
		t.Errorf("got value %d, want 7", got.Value)
	}

	if err := store.Get(ctx, testRef("missing"), &got); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing: got %v, want ErrNotFound", err)
	}
}

func TestUpdateMergesTopLevelFields(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()

	if err := store.Set(ctx, testRef("a"), counterDoc{Value: 1, Label: "original"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Update(ctx, testRef("a"), map[string]interface{}{"value": 2}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	var got counterDoc
	if err := store.Get(ctx, testRef("a"), &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Value != 2 {
		t.Errorf("got value %d, want 2", got.Value)
	}
	if got.Label != "original" {
		t.Errorf("untouched field changed: got label %q, want %q", got.Label, "original")
	}
}

func TestUpdateMissingDocument(t *testing.T) {
	store := NewMemoryStore(3)
	err := store.Update(context.Background(), testRef("missing"), map[string]interface{}{"value": 1})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestTransactionRetriesOnConflict(t *testing.T) {
	store := NewMemoryStore(5)
	ctx := context.Background()

	if err := store.Set(ctx, testRef("a"), counterDoc{Value: 0}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// A conflicting writer slips in between the first attempt's read and
	// its commit; the transaction must re-run and still apply its increment
	// on top of the interleaved write.
	interfered := false
	store.SetBeforeCommitHook(func() {
		if interfered {
			return
		}
		interfered = true
		store.SetBeforeCommitHook(nil)
		if err := store.Update(ctx, testRef("a"), map[string]interface{}{"value": 100}); err != nil {
			t.Errorf("interleaved update: %v", err)
		}
	})

	attempts := 0
	err := store.RunTransaction(ctx, func(tx Txn) error {
		attempts++
		var doc counterDoc
		if err := tx.Get(testRef("a"), &doc); err != nil {
			return err
		}
		return tx.Update(testRef("a"), map[string]interface{}{"value": doc.Value + 1})
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}
	if attempts != 2 {
		t.Errorf("got %d attempts, want 2", attempts)
	}

	var got counterDoc
	if err := store.Get(ctx, testRef("a"), &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Value != 101 {
		t.Errorf("got value %d, want 101", got.Value)
	}
}

func TestTransactionExhaustionReportsUnavailable(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()

	if err := store.Set(ctx, testRef("a"), counterDoc{Value: 0}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// Interfere before every commit so no attempt can win.
	store.SetBeforeCommitHook(func() {
		store.mu.Lock()
		store.docs[testRef("a")].version++
		store.mu.Unlock()
	})

	err := store.RunTransaction(ctx, func(tx Txn) error {
		var doc counterDoc
		if err := tx.Get(testRef("a"), &doc); err != nil {
			return err
		}
		return tx.Update(testRef("a"), map[string]interface{}{"value": doc.Value + 1})
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("got %v, want ErrUnavailable", err)
	}
}

func TestTransactionFnErrorNotRetried(t *testing.T) {
	store := NewMemoryStore(5)
	ctx := context.Background()

	sentinel := errors.New("precondition failed")
	attempts := 0
	err := store.RunTransaction(ctx, func(tx Txn) error {
		attempts++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("got %v, want the fn's own error", err)
	}
	if attempts != 1 {
		t.Errorf("got %d attempts, want 1: fn errors must not be retried", attempts)
	}
}

func TestTransactionCommitIsAtomic(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()

	if err := store.Set(ctx, testRef("a"), counterDoc{Value: 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// The second write targets a missing document, so the whole commit must
	// fail and the first write must not stick.
	err := store.RunTransaction(ctx, func(tx Txn) error {
		if err := tx.Update(testRef("a"), map[string]interface{}{"value": 99}); err != nil {
			return err
		}
		return tx.Update(testRef("missing"), map[string]interface{}{"value": 1})
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}

	var got counterDoc
	if err := store.Get(ctx, testRef("a"), &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Value != 1 {
		t.Errorf("partial commit applied: got value %d, want 1", got.Value)
	}
}

func TestVersionsIncreasePerDocument(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.Set(ctx, testRef("a"), counterDoc{Value: i}); err != nil {
			t.Fatalf("Set %d: %v", i, err)
		}
	}

	docs, err := store.List(ctx, "counters")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1", len(docs))
	}
	if docs[0].Version != 3 {
		t.Errorf("got version %d, want 3", docs[0].Version)
	}
}

func collectEvents(t *testing.T, ch <-chan events.ChangeEvent, n int) []events.ChangeEvent {
	t.Helper()
	var out []events.ChangeEvent
	for len(out) < n {
		select {
		case evt := <-ch:
			out = append(out, evt)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", len(out)+1, n)
		}
	}
	return out
}

func TestListenDeliversCommittedChangesInOrder(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()

	received := make(chan events.ChangeEvent, 16)
	sub := store.Listen(testRef("a"), func(evt events.ChangeEvent) {
		received <- evt
	}, nil)
	defer sub.Release()

	if err := store.Set(ctx, testRef("a"), counterDoc{Value: 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Update(ctx, testRef("a"), map[string]interface{}{"value": 2}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := store.Delete(ctx, testRef("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got := collectEvents(t, received, 3)
	if got[0].Version != 1 || got[1].Version != 2 {
		t.Errorf("got versions %d,%d, want 1,2", got[0].Version, got[1].Version)
	}
	if got[0].Kind != events.ChangeKindSet || got[2].Kind != events.ChangeKindDelete {
		t.Errorf("got kinds %s,%s, want set,delete", got[0].Kind, got[2].Kind)
	}
}

func TestListenCollectionSeesAllDocuments(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()

	received := make(chan events.ChangeEvent, 16)
	sub := store.ListenCollection("counters", func(evt events.ChangeEvent) {
		received <- evt
	}, nil)
	defer sub.Release()

	if err := store.Set(ctx, testRef("a"), counterDoc{Value: 1}); err != nil {
		t.Fatalf("Set a: %v", err)
	}
	if err := store.Set(ctx, testRef("b"), counterDoc{Value: 2}); err != nil {
		t.Fatalf("Set b: %v", err)
	}

	got := collectEvents(t, received, 2)
	ids := map[string]bool{got[0].DocID: true, got[1].DocID: true}
	if !ids["a"] || !ids["b"] {
		t.Errorf("got doc ids %v, want a and b", ids)
	}
}

func TestReleasedSubscriptionStopsDelivery(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()

	received := make(chan events.ChangeEvent, 16)
	sub := store.Listen(testRef("a"), func(evt events.ChangeEvent) {
		received <- evt
	}, nil)

	if err := store.Set(ctx, testRef("a"), counterDoc{Value: 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	collectEvents(t, received, 1)

	sub.Release()
	sub.Release() // releasing twice is allowed

	if err := store.Set(ctx, testRef("a"), counterDoc{Value: 2}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	select {
	case evt := <-received:
		t.Errorf("received event after release: %+v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNotifierToleratesDuplicateDispatch(t *testing.T) {
	notifier := NewNotifier()

	received := make(chan events.ChangeEvent, 16)
	sub := notifier.Subscribe(testRef("a"), func(evt events.ChangeEvent) {
		received <- evt
	}, nil)
	defer sub.Release()

	evt := events.ChangeEvent{
		Collection: "counters",
		DocID:      "a",
		Kind:       events.ChangeKindSet,
		Version:    1,
	}
	// The same committed change can arrive twice: once from the local
	// dispatch, once replayed off the replication stream. The notifier
	// passes both through; dedup is the consumer's job.
	notifier.Dispatch(evt)
	notifier.Dispatch(evt)

	got := collectEvents(t, received, 2)
	if got[0].Version != got[1].Version {
		t.Errorf("duplicate delivery mangled versions: %d vs %d", got[0].Version, got[1].Version)
	}
}
