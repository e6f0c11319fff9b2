package server

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/canvaslab/boardsync/internal/collection"
)

// Client frame verbs.
const (
	subscribeMethod   = "SUB"
	unsubscribeMethod = "UNSUB"
)

// subscribeFrame is what clients send over the socket. Route addresses a
// collection ("/api/boards") or a single document ("/api/boards/<id>").
type subscribeFrame struct {
	ID     string `json:"id"`
	Route  string `json:"route"`
	Method string `json:"method"`
}

// eventFrame wraps one change notification for the wire.
type eventFrame struct {
	ID    string              `json:"id"`
	Event collection.RawEvent `json:"event"`
}

// errorFrame reports a rejected frame without closing the socket.
type errorFrame struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type subscriptionHub struct {
	sources  map[string]collection.Source
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func newSubscriptionHub(sources map[string]collection.Source, logger *zap.Logger) *subscriptionHub {
	return &subscriptionHub{
		sources: sources,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The bearer token authorizes the handshake; origin is not
			// an authentication boundary here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// socketSession is the per-connection state: one write lock and the cancel
// functions of every live subscription, keyed by the client-chosen frame id.
type socketSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	cancels map[string]func()
}

func (s *socketSession) send(payload any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

func (s *socketSession) register(id string, cancel func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cancels[id]; exists {
		return false
	}
	s.cancels[id] = cancel
	return true
}

func (s *socketSession) unregister(id string) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel := s.cancels[id]
	delete(s.cancels, id)
	return cancel
}

func (s *socketSession) close() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = map[string]func(){}
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	s.conn.Close()
}

func (h *httpHandler) handleSubscriptions(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	conn, err := h.subscriptions.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.subscriptions.serve(c.Request.Context(), conn, userID)
}

func (hub *subscriptionHub) serve(ctx context.Context, conn *websocket.Conn, userID string) {
	session := &socketSession{conn: conn, cancels: map[string]func(){}}
	defer session.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		var frame subscribeFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				hub.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		hub.handleFrame(ctx, session, userID, frame)
	}
}

func (hub *subscriptionHub) handleFrame(ctx context.Context, session *socketSession, userID string, frame subscribeFrame) {
	switch strings.ToUpper(strings.TrimSpace(frame.Method)) {
	case subscribeMethod:
		hub.subscribe(ctx, session, userID, frame)
	case unsubscribeMethod:
		if cancel := session.unregister(frame.ID); cancel != nil {
			cancel()
		}
	default:
		session.send(errorFrame{ID: frame.ID, Message: "unknown method"})
	}
}

func (hub *subscriptionHub) subscribe(ctx context.Context, session *socketSession, userID string, frame subscribeFrame) {
	collectionName, documentID, ok := parseSubscriptionRoute(frame.Route)
	if !ok {
		session.send(errorFrame{ID: frame.ID, Message: "unknown route"})
		return
	}
	source, ok := hub.sources[collectionName]
	if !ok {
		session.send(errorFrame{ID: frame.ID, Message: "unknown collection"})
		return
	}

	stream, cancel, err := source.SubscribeRaw(ctx, userID, documentID)
	if err != nil {
		hub.logger.Debug("subscription rejected",
			zap.String("user", userID),
			zap.String("collection", collectionName),
			zap.Error(err))
		session.send(errorFrame{ID: frame.ID, Message: "forbidden"})
		return
	}
	if !session.register(frame.ID, cancel) {
		cancel()
		session.send(errorFrame{ID: frame.ID, Message: "duplicate subscription id"})
		return
	}

	go func() {
		for event := range stream {
			if err := session.send(eventFrame{ID: frame.ID, Event: event}); err != nil {
				if stop := session.unregister(frame.ID); stop != nil {
					stop()
				}
				return
			}
		}
	}()
}

// parseSubscriptionRoute accepts "/api/<collection>" and
// "/api/<collection>/<id>", with or without the /api prefix.
func parseSubscriptionRoute(route string) (collectionName, documentID string, ok bool) {
	trimmed := strings.Trim(strings.TrimSpace(route), "/")
	trimmed = strings.TrimPrefix(trimmed, "api/")
	if trimmed == "" {
		return "", "", false
	}
	parts := strings.Split(trimmed, "/")
	switch len(parts) {
	case 1:
		return parts[0], "", true
	case 2:
		return parts[0], parts[1], true
	default:
		return "", "", false
	}
}
