package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// RESTCollection is the schema-erased CRUD surface consumed by the HTTP
// layer. Payloads cross it as raw JSON; validation against the schema type
// happens inside the reference.
type RESTCollection interface {
	Name() string
	AddRaw(ctx context.Context, authorID string, body []byte) (json.RawMessage, error)
	GetRaw(ctx context.Context, callerID, id string) (json.RawMessage, error)
	ListRaw(ctx context.Context, callerID string) ([]json.RawMessage, error)
	QueryRaw(ctx context.Context, callerID, field, value string) ([]json.RawMessage, error)
	UpdateRaw(ctx context.Context, authorID, id string, body []byte) (json.RawMessage, error)
	DeleteRaw(ctx context.Context, authorID, id string) error
}

// AddRaw implements RESTCollection.
func (r *Reference[T]) AddRaw(ctx context.Context, authorID string, body []byte) (json.RawMessage, error) {
	patch, err := ParsePatch(body)
	if err != nil {
		return nil, err
	}
	doc, err := r.Add(ctx, authorID, patch)
	if err != nil {
		return nil, err
	}
	return marshalDoc(*doc)
}

// GetRaw implements RESTCollection.
func (r *Reference[T]) GetRaw(ctx context.Context, callerID, id string) (json.RawMessage, error) {
	doc, err := r.Get(ctx, callerID, id)
	if err != nil {
		return nil, err
	}
	return marshalDoc(*doc)
}

// ListRaw implements RESTCollection.
func (r *Reference[T]) ListRaw(ctx context.Context, callerID string) ([]json.RawMessage, error) {
	docs, err := r.GetAll(ctx, callerID)
	if err != nil {
		return nil, err
	}
	return marshalDocs(docs)
}

// QueryRaw implements RESTCollection. The value arrives as a route
// parameter, so it is matched as a JSON string.
func (r *Reference[T]) QueryRaw(ctx context.Context, callerID, field, value string) ([]json.RawMessage, error) {
	docs, err := r.Query(ctx, callerID, field, value)
	if err != nil {
		return nil, err
	}
	return marshalDocs(docs)
}

// UpdateRaw implements RESTCollection.
func (r *Reference[T]) UpdateRaw(ctx context.Context, authorID, id string, body []byte) (json.RawMessage, error) {
	patch, err := ParsePatch(body)
	if err != nil {
		return nil, err
	}
	doc, err := r.Update(ctx, authorID, id, patch)
	if err != nil {
		return nil, err
	}
	return marshalDoc(*doc)
}

// DeleteRaw implements RESTCollection.
func (r *Reference[T]) DeleteRaw(ctx context.Context, authorID, id string) error {
	return r.Delete(ctx, authorID, id)
}

// SubscribeRaw implements Source by converting the typed stream to wire
// events. The converter goroutine exits when the typed stream closes or the
// subscription is cancelled with a send still in flight, so a consumer that
// stops reading never strands it.
func (r *Reference[T]) SubscribeRaw(ctx context.Context, callerID, documentID string) (<-chan RawEvent, func(), error) {
	var (
		stream <-chan Message[T]
		cancel func()
		err    error
	)
	if documentID == "" {
		stream, cancel, err = r.SubscribeAll(ctx, callerID)
	} else {
		stream, cancel, err = r.SubscribeDoc(ctx, callerID, documentID)
	}
	if err != nil {
		return nil, nil, err
	}

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() { close(done) })
		cancel()
	}

	out := make(chan RawEvent)
	go func() {
		defer close(out)
		for message := range stream {
			docs, err := marshalDocs(message.Docs)
			if err != nil {
				r.logger.Warn("event encoding failed, message skipped",
					zap.String("collection", r.name),
					zap.String("type", string(message.Type)),
					zap.Error(err))
				continue
			}
			select {
			case out <- RawEvent{Type: message.Type, Col: message.Col, Docs: docs}:
			case <-done:
				return
			}
		}
	}()
	return out, stop, nil
}

func marshalDoc[T any](doc Document[T]) (json.RawMessage, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return raw, nil
}

func marshalDocs[T any](docs []Document[T]) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		raw, err := marshalDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}
