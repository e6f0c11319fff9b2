// Package mirror keeps a client-side replica of one server collection. The
// replica is seeded with an HTTP snapshot, then converges by applying the
// change messages streamed over the websocket channel. Local CRUD calls go
// to the HTTP API and land in the replica via their echoed messages.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/canvaslab/boardsync/internal/collection"
)

var (
	errMissingBaseURL    = errors.New("mirror: base url required")
	errMissingCollection = errors.New("mirror: collection name required")
	// ErrNotSubscribed is returned by Unsubscribe without a live socket.
	ErrNotSubscribed = errors.New("mirror: not subscribed")
)

// Config describes one mirror instance.
type Config struct {
	// BaseURL is the server origin, e.g. "http://localhost:3333".
	BaseURL string
	// Collection is the collection route name, e.g. "boards".
	Collection string
	// Token authenticates both the HTTP calls and the socket handshake.
	Token      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Mirror is a local replica of one collection.
type Mirror[T any] struct {
	baseURL    string
	collection string
	token      string
	client     *http.Client
	logger     *zap.Logger

	mu   sync.RWMutex
	docs map[string]collection.Document[T]
	err  error

	connMu sync.Mutex
	conn   *websocket.Conn
}

func New[T any](cfg Config) (*Mirror[T], error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errMissingBaseURL
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, errMissingCollection
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror[T]{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		collection: cfg.Collection,
		token:      cfg.Token,
		client:     client,
		logger:     logger,
		docs:       map[string]collection.Document[T]{},
	}, nil
}

// Subscribe snapshots the collection and starts applying streamed changes.
// There is no automatic retry: a broken socket surfaces through Err and the
// caller decides whether to subscribe again.
func (m *Mirror[T]) Subscribe(ctx context.Context) error {
	docs, err := m.snapshot(ctx)
	if err != nil {
		m.setError(err)
		return err
	}

	wsURL := websocketURL(m.baseURL) + "/api/ws?token=" + m.token
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		m.setError(err)
		return err
	}
	frame := map[string]string{
		"id":     "mirror-" + m.collection,
		"route":  "/api/" + m.collection,
		"method": "SUB",
	}
	if err := conn.WriteJSON(frame); err != nil {
		conn.Close()
		m.setError(err)
		return err
	}

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	m.mu.Lock()
	m.docs = make(map[string]collection.Document[T], len(docs))
	for _, doc := range docs {
		m.docs[doc.ID] = doc
	}
	m.mu.Unlock()

	go m.readLoop(conn)
	return nil
}

// Unsubscribe tears the socket down. The replica keeps its last state.
func (m *Mirror[T]) Unsubscribe() error {
	m.connMu.Lock()
	conn := m.conn
	m.conn = nil
	m.connMu.Unlock()
	if conn == nil {
		return ErrNotSubscribed
	}
	return conn.Close()
}

// Get returns one replicated document.
func (m *Mirror[T]) Get(id string) (collection.Document[T], bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	return doc, ok
}

// All returns every replicated document.
func (m *Mirror[T]) All() []collection.Document[T] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]collection.Document[T], 0, len(m.docs))
	for _, doc := range m.docs {
		out = append(out, doc)
	}
	return out
}

// Err reports the last transport failure, if any.
func (m *Mirror[T]) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// ClearError resets the failure state.
func (m *Mirror[T]) ClearError() {
	m.mu.Lock()
	m.err = nil
	m.mu.Unlock()
}

// Create sends a partial document to the server. The replica converges when
// the echoed CREATE message arrives.
func (m *Mirror[T]) Create(ctx context.Context, data any) error {
	_, err := m.request(ctx, http.MethodPost, m.collectionURL(), data)
	return err
}

// Update sends a partial document for an existing id.
func (m *Mirror[T]) Update(ctx context.Context, id string, data any) error {
	_, err := m.request(ctx, http.MethodPut, m.collectionURL()+"/"+id, data)
	return err
}

// Delete removes a document on the server.
func (m *Mirror[T]) Delete(ctx context.Context, id string) error {
	_, err := m.request(ctx, http.MethodDelete, m.collectionURL()+"/"+id, nil)
	return err
}

func (m *Mirror[T]) snapshot(ctx context.Context) ([]collection.Document[T], error) {
	payload, err := m.request(ctx, http.MethodGet, m.collectionURL(), nil)
	if err != nil {
		return nil, err
	}
	var docs []collection.Document[T]
	if err := json.Unmarshal(payload, &docs); err != nil {
		return nil, fmt.Errorf("mirror: decoding snapshot: %w", err)
	}
	return docs, nil
}

func (m *Mirror[T]) readLoop(conn *websocket.Conn) {
	for {
		var frame struct {
			Event   collection.RawEvent `json:"event"`
			Success *bool               `json:"success"`
			Message string              `json:"message"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			m.connMu.Lock()
			active := m.conn == conn
			m.connMu.Unlock()
			if active {
				// The server went away; an explicit Unsubscribe is silent.
				m.setError(err)
			}
			return
		}
		// Rejection frames share the socket with events; a denied
		// subscription must not masquerade as a quiet one.
		if frame.Success != nil && !*frame.Success {
			m.setError(fmt.Errorf("mirror: subscription rejected: %s", frame.Message))
			continue
		}
		m.apply(frame.Event)
	}
}

func (m *Mirror[T]) apply(event collection.RawEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, raw := range event.Docs {
		var doc collection.Document[T]
		if err := json.Unmarshal(raw, &doc); err != nil {
			m.logger.Warn("mirror skipped undecodable document",
				zap.String("collection", m.collection),
				zap.Error(err))
			continue
		}
		switch event.Type {
		case collection.EventCreate, collection.EventUpdate:
			m.docs[doc.ID] = doc
		case collection.EventDelete:
			delete(m.docs, doc.ID)
		}
	}
}

func (m *Mirror[T]) request(ctx context.Context, method, url string, data any) (json.RawMessage, error) {
	var body io.Reader
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	request, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Authorization", "Bearer "+m.token)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := m.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("mirror: decoding response: %w", err)
	}
	if response.StatusCode != http.StatusOK || !envelope.Success {
		return nil, fmt.Errorf("mirror: %s %s failed with status %d: %s", method, url, response.StatusCode, envelope.Message)
	}
	return envelope.Data, nil
}

func (m *Mirror[T]) collectionURL() string {
	return m.baseURL + "/api/" + m.collection
}

func (m *Mirror[T]) setError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func websocketURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}
