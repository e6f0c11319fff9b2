package collection

import (
	"context"
	"encoding/json"
)

// EventType classifies a change message.
type EventType string

const (
	EventCreate EventType = "CREATE"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Message is a typed change notification published after a committed
// mutation. Per-document messages preserve commit order; there is no
// ordering guarantee across documents.
type Message[T any] struct {
	Type EventType     `json:"type"`
	Col  string        `json:"col"`
	Docs []Document[T] `json:"doc"`
}

// RawEvent is the wire form of a Message, used by the subscription channel
// and client mirrors that do not know the schema type.
type RawEvent struct {
	Type EventType         `json:"type"`
	Col  string            `json:"col"`
	Docs []json.RawMessage `json:"doc"`
}

// Source is the schema-erased subscription surface a reference exposes to
// the transport layer. An empty documentID subscribes to the whole
// collection.
type Source interface {
	Name() string
	SubscribeRaw(ctx context.Context, callerID, documentID string) (<-chan RawEvent, func(), error)
}
