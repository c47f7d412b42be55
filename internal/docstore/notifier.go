package docstore

import (
	"errors"
	"log"
	"sync"

	"orator-go/internal/events"
)

// ErrSubscriberLagging is delivered to a subscription's ErrorHandler when
// its buffer overflows and events had to be dropped.
var ErrSubscriberLagging = errors.New("subscriber lagging, change events dropped")

// subscriptionBuffer bounds the per-subscription delivery queue.
const subscriptionBuffer = 64

// Notifier is the change-notification registry shared by the store
// implementations. Dispatch fans a committed change out to every matching
// subscription. Each subscription drains its own buffered queue in a
// dedicated goroutine, so delivery is ordered per subscription and a slow
// consumer never blocks the committing writer.
//
// The same event may reach Dispatch more than once (a local commit and the
// replicated change stream); the notifier forwards duplicates unchanged and
// leaves idempotent application to the handlers, which key on Version.
type Notifier struct {
	mu     sync.RWMutex
	byDoc  map[Ref][]*subscription
	byColl map[string][]*subscription
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		byDoc:  make(map[Ref][]*subscription),
		byColl: make(map[string][]*subscription),
	}
}

type subscription struct {
	notifier *Notifier
	ref      Ref    // zero when collection-scoped
	coll     string // set when collection-scoped
	onChange ChangeHandler
	onError  ErrorHandler

	queue    chan events.ChangeEvent
	done     chan struct{}
	releases sync.Once
}

// Subscribe registers a listener for one document.
func (n *Notifier) Subscribe(ref Ref, onChange ChangeHandler, onError ErrorHandler) Subscription {
	sub := n.newSubscription(onChange, onError)
	sub.ref = ref
	n.mu.Lock()
	n.byDoc[ref] = append(n.byDoc[ref], sub)
	n.mu.Unlock()
	return sub
}

// SubscribeCollection registers a listener for a whole collection.
func (n *Notifier) SubscribeCollection(collection string, onChange ChangeHandler, onError ErrorHandler) Subscription {
	sub := n.newSubscription(onChange, onError)
	sub.coll = collection
	n.mu.Lock()
	n.byColl[collection] = append(n.byColl[collection], sub)
	n.mu.Unlock()
	return sub
}

func (n *Notifier) newSubscription(onChange ChangeHandler, onError ErrorHandler) *subscription {
	sub := &subscription{
		notifier: n,
		onChange: onChange,
		onError:  onError,
		queue:    make(chan events.ChangeEvent, subscriptionBuffer),
		done:     make(chan struct{}),
	}
	go sub.pump()
	return sub
}

// Dispatch delivers a committed change to all matching subscriptions.
func (n *Notifier) Dispatch(evt events.ChangeEvent) {
	ref := Ref{Collection: evt.Collection, ID: evt.DocID}

	n.mu.RLock()
	subs := make([]*subscription, 0, len(n.byDoc[ref])+len(n.byColl[evt.Collection]))
	subs = append(subs, n.byDoc[ref]...)
	subs = append(subs, n.byColl[evt.Collection]...)
	n.mu.RUnlock()

	for _, sub := range subs {
		select {
		case <-sub.done:
		case sub.queue <- evt:
		default:
			log.Printf("Notifier: subscription queue full for %s/%s, dropping event version %d",
				evt.Collection, evt.DocID, evt.Version)
			if sub.onError != nil {
				go sub.onError(ErrSubscriberLagging)
			}
		}
	}
}

func (s *subscription) pump() {
	for {
		select {
		case evt := <-s.queue:
			s.onChange(evt)
		case <-s.done:
			return
		}
	}
}

// Release removes the subscription from the registry and stops delivery.
func (s *subscription) Release() {
	s.releases.Do(func() {
		n := s.notifier
		n.mu.Lock()
		if s.coll != "" {
			n.byColl[s.coll] = removeSub(n.byColl[s.coll], s)
		} else {
			n.byDoc[s.ref] = removeSub(n.byDoc[s.ref], s)
		}
		n.mu.Unlock()
		// The queue itself is never closed; the pump exits via done and
		// unconsumed events are dropped.
		close(s.done)
	})
}

func removeSub(subs []*subscription, target *subscription) []*subscription {
	for i, sub := range subs {
		if sub == target {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}
