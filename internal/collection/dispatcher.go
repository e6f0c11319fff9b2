package collection

import (
	"context"
	"sync"
)

// Dispatcher fans change messages out to registered subscribers. Delivery is
// at-least-once for every subscriber registered at the moment of publish;
// subscribers registered afterwards never see that message. Each subscriber
// owns an unbounded FIFO drained by its own pump goroutine, so publishers
// never block and per-document commit order is preserved.
type Dispatcher[T any] struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber[T]
	nextID      int64
}

type subscriber[T any] struct {
	id    int64
	docID string // empty subscribes to the whole collection

	mu    sync.Mutex
	queue []Message[T]
	wake  chan struct{}
	done  chan struct{}
	out   chan Message[T]
	once  sync.Once
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher[T any]() *Dispatcher[T] {
	return &Dispatcher[T]{subscribers: make(map[int64]*subscriber[T])}
}

// Subscribe registers a listener and returns its stream plus a cancel
// function. Cancelling (or the context ending) closes the stream; a closed
// subscription never receives further messages.
func (d *Dispatcher[T]) Subscribe(ctx context.Context, documentID string) (<-chan Message[T], func()) {
	sub := &subscriber[T]{
		docID: documentID,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		out:   make(chan Message[T]),
	}

	d.mu.Lock()
	d.nextID++
	sub.id = d.nextID
	d.subscribers[sub.id] = sub
	d.mu.Unlock()

	cancel := func() {
		sub.once.Do(func() {
			d.mu.Lock()
			delete(d.subscribers, sub.id)
			d.mu.Unlock()
			close(sub.done)
		})
	}
	go sub.pump()
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return sub.out, cancel
}

// Publish enqueues the message for every current subscriber whose scope
// matches. Callers serialize publishes per document to keep commit order.
func (d *Dispatcher[T]) Publish(message Message[T]) {
	d.mu.RLock()
	targets := make([]*subscriber[T], 0, len(d.subscribers))
	for _, sub := range d.subscribers {
		targets = append(targets, sub)
	}
	d.mu.RUnlock()

	for _, sub := range targets {
		delivery, ok := narrow(message, sub.docID)
		if !ok {
			continue
		}
		sub.mu.Lock()
		sub.queue = append(sub.queue, delivery)
		sub.mu.Unlock()
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
}

// narrow scopes a message to a single-document subscription.
func narrow[T any](message Message[T], documentID string) (Message[T], bool) {
	if documentID == "" {
		return message, true
	}
	for _, doc := range message.Docs {
		if doc.ID == documentID {
			return Message[T]{Type: message.Type, Col: message.Col, Docs: []Document[T]{doc}}, true
		}
	}
	return Message[T]{}, false
}

func (s *subscriber[T]) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		pending := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, message := range pending {
			select {
			case s.out <- message:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}
