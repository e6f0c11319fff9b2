package collection

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestDispatcherDeliversToAllSubscribers(t *testing.T) {
	dispatcher := NewDispatcher[widget]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, cleanupFirst := dispatcher.Subscribe(ctx, "")
	defer cleanupFirst()
	second, cleanupSecond := dispatcher.Subscribe(ctx, "")
	defer cleanupSecond()

	dispatcher.Publish(Message[widget]{
		Type: EventCreate,
		Col:  "widgets",
		Docs: []Document[widget]{{ID: "w-1"}},
	})

	for index, stream := range []<-chan Message[widget]{first, second} {
		select {
		case message := <-stream:
			if message.Type != EventCreate || message.Docs[0].ID != "w-1" {
				t.Fatalf("subscriber %d received wrong message: %#v", index, message)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d received nothing", index)
		}
	}
}

func TestDispatcherPreservesPublishOrderWithoutBlocking(t *testing.T) {
	dispatcher := NewDispatcher[widget]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "")
	defer cleanup()

	// Publish a burst before the subscriber reads anything; the dispatcher
	// must neither drop nor reorder.
	const burst = 100
	for step := 0; step < burst; step++ {
		dispatcher.Publish(Message[widget]{
			Type: EventUpdate,
			Col:  "widgets",
			Docs: []Document[widget]{{ID: fmt.Sprintf("w-%d", step)}},
		})
	}

	for step := 0; step < burst; step++ {
		select {
		case message := <-stream:
			expected := fmt.Sprintf("w-%d", step)
			if message.Docs[0].ID != expected {
				t.Fatalf("expected %s at position %d, got %s", expected, step, message.Docs[0].ID)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing message at position %d", step)
		}
	}
}

func TestDispatcherScopesToDocument(t *testing.T) {
	dispatcher := NewDispatcher[widget]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "w-2")
	defer cleanup()

	dispatcher.Publish(Message[widget]{Type: EventUpdate, Col: "widgets", Docs: []Document[widget]{{ID: "w-1"}}})
	dispatcher.Publish(Message[widget]{Type: EventUpdate, Col: "widgets", Docs: []Document[widget]{{ID: "w-1"}, {ID: "w-2"}}})

	select {
	case message := <-stream:
		if len(message.Docs) != 1 || message.Docs[0].ID != "w-2" {
			t.Fatalf("expected message narrowed to w-2, got %#v", message.Docs)
		}
	case <-time.After(time.Second):
		t.Fatal("expected scoped message within deadline")
	}

	select {
	case message := <-stream:
		t.Fatalf("unexpected extra message: %#v", message)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatcherContextCancelClosesStream(t *testing.T) {
	dispatcher := NewDispatcher[widget]()
	ctx, cancel := context.WithCancel(context.Background())

	stream, cleanup := dispatcher.Subscribe(ctx, "")
	defer cleanup()
	cancel()

	select {
	case _, ok := <-stream:
		if ok {
			t.Fatal("expected closed stream, received message")
		}
	case <-time.After(time.Second):
		t.Fatal("expected stream to close after context cancel")
	}

	// Publishing after cancellation must not panic or deliver.
	dispatcher.Publish(Message[widget]{Type: EventCreate, Col: "widgets", Docs: []Document[widget]{{ID: "w-9"}}})
}
