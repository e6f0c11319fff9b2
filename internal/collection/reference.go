package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	errMissingName  = errors.New("collection name is required")
	errMissingStore = errors.New("document store is required")
	noOpLogger      = zap.NewNop()
)

// KV is the narrow store surface a reference needs. Satisfied by
// store.Store; redeclared here so the sync core has no dependency on a
// concrete adapter.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	ScanKeys(ctx context.Context, prefix string) ([]string, error)
	Clear(ctx context.Context, prefix string) error
}

// Config describes the dependencies of a collection reference.
type Config[T any] struct {
	// Name is the collection name, used for routes and event envelopes.
	Name string
	// Template is the default payload partial writes are merged over.
	Template T
	// Store holds the documents. Keys are Prefix:NAME:id.
	Store KV
	// Prefix is the key-space prefix shared by all collections of one server.
	Prefix string
	// IndexedFields lists data fields kept in the secondary index.
	IndexedFields []string
	// Guard authorizes every operation. May be attached later via SetGuard,
	// before the reference serves traffic.
	Guard  Guard
	Logger *zap.Logger
	Clock  func() time.Time
	NewID  func() string
}

// Reference is the typed CRUD and subscription surface over one collection
// of documents. A single mutex serializes mutations, which yields the
// per-document publish ordering guarantee. Concurrent updates to the same
// document are merged last-write-wins at field granularity; that overwrite
// is logged, not surfaced.
type Reference[T any] struct {
	name     string
	path     string
	template T
	store    KV
	logger   *zap.Logger
	clock    func() time.Time
	newID    func() string

	mu         sync.Mutex
	guard      Guard
	ttl        time.Duration
	index      *Index
	dispatcher *Dispatcher[T]
}

// New constructs a collection reference.
func New[T any](cfg Config[T]) (*Reference[T], error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, errMissingName
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Reference[T]{
		name:       name,
		path:       fmt.Sprintf("%s:%s", cfg.Prefix, strings.ToUpper(name)),
		template:   cfg.Template,
		store:      cfg.Store,
		logger:     logger,
		clock:      clock,
		newID:      newID,
		guard:      cfg.Guard,
		index:      NewIndex(cfg.IndexedFields),
		dispatcher: NewDispatcher[T](),
	}, nil
}

// Name returns the collection name.
func (r *Reference[T]) Name() string {
	return r.name
}

// SetGuard attaches the authorization guard. Intended for the startup phase,
// after the collections backing the guard itself exist.
func (r *Reference[T]) SetGuard(guard Guard) {
	r.mu.Lock()
	r.guard = guard
	r.mu.Unlock()
}

// Initialize prepares the collection for use: optionally wipes the
// namespace (ephemeral collections), establishes the TTL applied to every
// future write, and rebuilds the secondary index from the store.
func (r *Reference[T]) Initialize(ctx context.Context, clearOnStart bool, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ttl = ttl
	if clearOnStart {
		if err := r.store.Clear(ctx, r.path+":"); err != nil {
			return err
		}
	}
	r.index.Reset()
	docs, err := r.loadAll(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		r.indexDocument(doc, true)
	}
	r.logger.Info("collection initialized",
		zap.String("collection", r.name),
		zap.Int("documents", len(docs)),
		zap.Duration("ttl", ttl))
	return nil
}

// Add merges partial data over the collection template and persists a fresh
// document under a generated ID. Publishes a CREATE message after commit.
func (r *Reference[T]) Add(ctx context.Context, authorID string, patch FieldPatch) (*Document[T], error) {
	return r.AddWithID(ctx, authorID, "", patch)
}

// AddWithID is Add with a caller-chosen document ID. An empty id falls back
// to the generator. Used for documents whose identity is external, such as
// user records keyed by their account subject. A caller-chosen id already in
// use fails with ErrConflict; ids are never reassigned.
func (r *Reference[T]) AddWithID(ctx context.Context, authorID, id string, patch FieldPatch) (*Document[T], error) {
	if err := r.allow(ctx, authorID, ActionCreate, id); err != nil {
		return nil, err
	}
	data, err := applyPatch(r.template, patch)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		id = r.newID()
	} else if _, exists, err := r.store.Get(ctx, r.key(id)); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: %s/%s", ErrConflict, r.name, id)
	}
	now := r.clock().UnixMilli()
	doc := Document[T]{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: authorID,
		UpdatedBy: authorID,
		Data:      data,
	}
	if err := r.persist(ctx, doc); err != nil {
		return nil, err
	}
	r.indexDocument(doc, true)
	r.dispatcher.Publish(Message[T]{Type: EventCreate, Col: r.name, Docs: []Document[T]{doc}})
	return &doc, nil
}

// Get returns one document or ErrNotFound.
func (r *Reference[T]) Get(ctx context.Context, callerID, id string) (*Document[T], error) {
	if err := r.allow(ctx, callerID, ActionRead, id); err != nil {
		return nil, err
	}
	doc, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetAll returns every document the caller may read, in creation order.
func (r *Reference[T]) GetAll(ctx context.Context, callerID string) ([]Document[T], error) {
	if err := r.allow(ctx, callerID, ActionRead, ""); err != nil {
		return nil, err
	}
	docs, err := r.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	visible := r.filterVisible(ctx, callerID, docs)
	sortDocuments(visible)
	return visible, nil
}

// Query returns the documents whose field equals value. Indexed fields use
// the secondary index; others fall back to a full namespace scan, which is
// slower but not an error.
func (r *Reference[T]) Query(ctx context.Context, callerID, field string, value any) ([]Document[T], error) {
	if err := r.allow(ctx, callerID, ActionRead, ""); err != nil {
		return nil, err
	}
	encoded, err := encodeFieldValue(value)
	if err != nil {
		return nil, err
	}

	var docs []Document[T]
	if r.index.Tracks(field) {
		for _, id := range r.index.Lookup(field, encoded) {
			doc, err := r.load(ctx, id)
			if errors.Is(err, ErrNotFound) {
				// Expired between lookup and load; the index catches up on
				// the next committed mutation.
				continue
			}
			if err != nil {
				return nil, err
			}
			docs = append(docs, *doc)
		}
	} else {
		all, err := r.loadAll(ctx)
		if err != nil {
			return nil, err
		}
		for _, doc := range all {
			fields, err := dataFields(doc.Data)
			if err != nil {
				return nil, err
			}
			if raw, ok := fields[field]; ok && string(raw) == encoded {
				docs = append(docs, doc)
			}
		}
	}

	visible := r.filterVisible(ctx, callerID, docs)
	sortDocuments(visible)
	return visible, nil
}

// Update merges the patch over the current payload, bumps the update
// metadata, re-indexes changed fields and publishes an UPDATE message. The
// merge is last-write-wins over whatever the store currently holds.
func (r *Reference[T]) Update(ctx context.Context, authorID, id string, patch FieldPatch) (*Document[T], error) {
	if err := r.allow(ctx, authorID, ActionUpdate, id); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	current, err := r.load(ctx, id)
	if err != nil {
		// Ephemeral documents may expire between a read and this update.
		return nil, err
	}
	merged, err := applyPatch(current.Data, patch)
	if err != nil {
		return nil, err
	}

	updated := *current
	updated.Data = merged
	updated.UpdatedBy = authorID
	now := r.clock().UnixMilli()
	if now < updated.UpdatedAt {
		now = updated.UpdatedAt
	}
	updated.UpdatedAt = now

	if err := r.persist(ctx, updated); err != nil {
		return nil, err
	}
	r.reindexDocument(*current, updated)
	r.logger.Debug("last-write-wins merge applied",
		zap.String("collection", r.name),
		zap.String("document", id),
		zap.Int("fields", len(patch)))
	r.dispatcher.Publish(Message[T]{Type: EventUpdate, Col: r.name, Docs: []Document[T]{updated}})
	return &updated, nil
}

// Delete removes the document from store and index, then publishes a DELETE
// message carrying the removed document.
func (r *Reference[T]) Delete(ctx context.Context, authorID, id string) error {
	if err := r.allow(ctx, authorID, ActionDelete, id); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	existed, err := r.store.Delete(ctx, r.key(id))
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, r.name, id)
	}
	r.indexDocument(*doc, false)
	r.dispatcher.Publish(Message[T]{Type: EventDelete, Col: r.name, Docs: []Document[T]{*doc}})
	return nil
}

// SubscribeAll registers a listener for every change in the collection.
func (r *Reference[T]) SubscribeAll(ctx context.Context, callerID string) (<-chan Message[T], func(), error) {
	if err := r.allow(ctx, callerID, ActionSubscribe, ""); err != nil {
		return nil, nil, err
	}
	stream, cancel := r.dispatcher.Subscribe(ctx, "")
	return stream, cancel, nil
}

// SubscribeDoc registers a listener scoped to one document's changes.
func (r *Reference[T]) SubscribeDoc(ctx context.Context, callerID, id string) (<-chan Message[T], func(), error) {
	if err := r.allow(ctx, callerID, ActionSubscribe, id); err != nil {
		return nil, nil, err
	}
	stream, cancel := r.dispatcher.Subscribe(ctx, id)
	return stream, cancel, nil
}

func (r *Reference[T]) allow(ctx context.Context, userID string, action Action, documentID string) error {
	r.mu.Lock()
	guard := r.guard
	r.mu.Unlock()
	if guard == nil {
		return nil
	}
	if guard.Allow(ctx, userID, action, r.name, documentID) {
		return nil
	}
	return fmt.Errorf("%w: %s %s %s", ErrForbidden, userID, action, r.name)
}

func (r *Reference[T]) filterVisible(ctx context.Context, callerID string, docs []Document[T]) []Document[T] {
	r.mu.Lock()
	guard := r.guard
	r.mu.Unlock()
	visible := make([]Document[T], 0, len(docs))
	for _, doc := range docs {
		if guard != nil && !guard.Allow(ctx, callerID, ActionRead, r.name, doc.ID) {
			continue
		}
		visible = append(visible, doc)
	}
	return visible
}

func (r *Reference[T]) key(id string) string {
	return r.path + ":" + id
}

func (r *Reference[T]) persist(ctx context.Context, doc Document[T]) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return r.store.Set(ctx, r.key(doc.ID), raw, r.ttl)
}

func (r *Reference[T]) load(ctx context.Context, id string) (*Document[T], error) {
	raw, ok, err := r.store.Get(ctx, r.key(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, r.name, id)
	}
	var doc Document[T]
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return &doc, nil
}

func (r *Reference[T]) loadAll(ctx context.Context) ([]Document[T], error) {
	keys, err := r.store.ScanKeys(ctx, r.path+":")
	if err != nil {
		return nil, err
	}
	docs := make([]Document[T], 0, len(keys))
	for _, key := range keys {
		raw, ok, err := r.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var doc Document[T]
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// indexDocument adds (add=true) or removes every indexed field of doc.
func (r *Reference[T]) indexDocument(doc Document[T], add bool) {
	fields, err := dataFields(doc.Data)
	if err != nil {
		r.logger.Warn("index extraction failed",
			zap.String("collection", r.name),
			zap.String("document", doc.ID),
			zap.Error(err))
		return
	}
	for field, raw := range fields {
		if !r.index.Tracks(field) {
			continue
		}
		if add {
			r.index.Add(field, string(raw), doc.ID)
		} else {
			r.index.Remove(field, string(raw), doc.ID)
		}
	}
}

// reindexDocument moves the id between value sets for each indexed field
// that changed; per-field the move is atomic under the index lock.
func (r *Reference[T]) reindexDocument(before, after Document[T]) {
	oldFields, errOld := dataFields(before.Data)
	newFields, errNew := dataFields(after.Data)
	if errOld != nil || errNew != nil {
		r.logger.Warn("reindex extraction failed",
			zap.String("collection", r.name),
			zap.String("document", after.ID))
		return
	}
	for field, newRaw := range newFields {
		if !r.index.Tracks(field) {
			continue
		}
		oldRaw, had := oldFields[field]
		if had && string(oldRaw) == string(newRaw) {
			continue
		}
		if had {
			r.index.Remove(field, string(oldRaw), after.ID)
		}
		r.index.Add(field, string(newRaw), after.ID)
	}
}
