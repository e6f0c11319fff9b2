package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/canvaslab/boardsync/internal/auth"
	"github.com/canvaslab/boardsync/internal/authz"
	"github.com/canvaslab/boardsync/internal/schema"
	"github.com/canvaslab/boardsync/internal/server"
	"github.com/canvaslab/boardsync/internal/store"
)

const (
	integrationSecret = "integration-secret"
	integrationUserID = "user-abc"
	jsonContentType   = "application/json"
)

type stack struct {
	server *httptest.Server
	tokens *auth.Tokens
}

// newStack wires the whole service over a shared in-memory SQLite store,
// the same composition as cmd/boardsync-api.
func newStack(testContext *testing.T, presenceTTL time.Duration) *stack {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	kv, err := store.OpenSQLite(store.SQLiteConfig{
		Path:   "file:integration_" + testContext.Name() + "?mode=memory&cache=shared",
		Logger: zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to open sqlite store: %v", err)
	}
	testContext.Cleanup(func() { kv.Close() })

	catalog, err := schema.NewCatalog(schema.CatalogConfig{
		Store:       kv,
		Prefix:      "integration:DB",
		Logger:      zap.NewNop(),
		PresenceTTL: presenceTTL,
	})
	if err != nil {
		testContext.Fatalf("failed to build catalog: %v", err)
	}
	if err := catalog.Load(context.Background()); err != nil {
		testContext.Fatalf("failed to load catalog: %v", err)
	}

	gate, err := authz.NewGate(authz.GateConfig{Directory: catalog})
	if err != nil {
		testContext.Fatalf("failed to build gate: %v", err)
	}
	catalog.UseGuard(gate)

	tokens, err := auth.NewTokens(auth.TokensConfig{
		SigningSecret: []byte(integrationSecret),
		Issuer:        "boardsync",
		Audience:      "boardsync-api",
	})
	if err != nil {
		testContext.Fatalf("failed to build tokens: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Catalog:       catalog,
		Authenticator: tokens,
		Logger:        zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	testContext.Cleanup(testServer.Close)
	return &stack{server: testServer, tokens: tokens}
}

func (s *stack) call(testContext *testing.T, method, path, userID string, body any) (int, json.RawMessage) {
	testContext.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			testContext.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	request, err := http.NewRequest(method, s.server.URL+path, reader)
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", jsonContentType)
	if userID != "" {
		signed, _, err := s.tokens.Issue(userID)
		if err != nil {
			testContext.Fatalf("failed to issue token: %v", err)
		}
		request.Header.Set("Authorization", "Bearer "+signed)
	}

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil {
		testContext.Fatalf("failed to decode response: %v", err)
	}
	return response.StatusCode, envelope.Data
}

func idOf(testContext *testing.T, data json.RawMessage) string {
	testContext.Helper()
	var doc struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		testContext.Fatalf("failed to decode document: %v", err)
	}
	return doc.ID
}

func TestRoomBoardAppSyncFlow(testContext *testing.T) {
	stack := newStack(testContext, time.Minute)

	// Unauthenticated requests never reach a collection.
	if status, _ := stack.call(testContext, http.MethodGet, "/api/rooms", "", nil); status != http.StatusUnauthorized {
		testContext.Fatalf("expected 401 without credentials, got %d", status)
	}

	if status, _ := stack.call(testContext, http.MethodPost, "/api/users", integrationUserID, map[string]any{
		"name":  "Integration User",
		"email": "integration@example.com",
	}); status != http.StatusOK {
		testContext.Fatalf("failed to register user: %d", status)
	}

	status, data := stack.call(testContext, http.MethodPost, "/api/rooms", integrationUserID, map[string]any{
		"name": "Integration Room",
	})
	if status != http.StatusOK {
		testContext.Fatalf("failed to create room: %d", status)
	}
	roomID := idOf(testContext, data)

	status, data = stack.call(testContext, http.MethodPost, "/api/boards", integrationUserID, map[string]any{
		"name":   "Integration Board",
		"roomId": roomID,
	})
	if status != http.StatusOK {
		testContext.Fatalf("failed to create board: %d", status)
	}
	boardID := idOf(testContext, data)

	// The subscription channel streams the app placed on the board.
	signed, _, err := stack.tokens.Issue(integrationUserID)
	if err != nil {
		testContext.Fatalf("failed to issue token: %v", err)
	}
	wsURL := "ws" + strings.TrimPrefix(stack.server.URL, "http") + "/api/ws?token=" + signed
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		testContext.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(map[string]string{"id": "apps-sub", "route": "/api/apps", "method": "SUB"}); err != nil {
		testContext.Fatalf("failed to subscribe: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	status, data = stack.call(testContext, http.MethodPost, "/api/apps", integrationUserID, map[string]any{
		"title":   "Stickie",
		"type":    "Stickie",
		"roomId":  roomID,
		"boardId": boardID,
	})
	if status != http.StatusOK {
		testContext.Fatalf("failed to create app: %d", status)
	}
	appID := idOf(testContext, data)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		ID    string `json:"id"`
		Event struct {
			Type string            `json:"type"`
			Col  string            `json:"col"`
			Docs []json.RawMessage `json:"doc"`
		} `json:"event"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		testContext.Fatalf("failed to read event frame: %v", err)
	}
	if frame.ID != "apps-sub" || frame.Event.Type != "CREATE" || frame.Event.Col != "apps" {
		testContext.Fatalf("unexpected event frame: %+v", frame)
	}
	if len(frame.Event.Docs) != 1 || idOf(testContext, frame.Event.Docs[0]) != appID {
		testContext.Fatalf("expected the created app in the event")
	}

	// Query route resolves by indexed field.
	status, data = stack.call(testContext, http.MethodGet, "/api/apps/boardId/"+boardID, integrationUserID, nil)
	if status != http.StatusOK {
		testContext.Fatalf("failed to query apps: %d", status)
	}
	var apps []json.RawMessage
	if err := json.Unmarshal(data, &apps); err != nil {
		testContext.Fatalf("failed to decode app list: %v", err)
	}
	if len(apps) != 1 || idOf(testContext, apps[0]) != appID {
		testContext.Fatalf("expected the created app in the query result")
	}

	// Deleting the board cascades to its apps.
	if status, _ := stack.call(testContext, http.MethodDelete, "/api/boards/"+boardID, integrationUserID, nil); status != http.StatusOK {
		testContext.Fatalf("failed to delete board: %d", status)
	}
	if status, _ := stack.call(testContext, http.MethodGet, "/api/apps/"+appID, integrationUserID, nil); status != http.StatusNotFound {
		testContext.Fatalf("expected cascade-deleted app to 404, got %d", status)
	}
}

func TestPresenceExpiresWithoutRefresh(testContext *testing.T) {
	stack := newStack(testContext, 300*time.Millisecond)

	if status, _ := stack.call(testContext, http.MethodPost, "/api/users", integrationUserID, map[string]any{
		"name": "Presence User",
	}); status != http.StatusOK {
		testContext.Fatalf("failed to register user: %d", status)
	}

	status, data := stack.call(testContext, http.MethodPost, "/api/presence", integrationUserID, map[string]any{
		"userId": integrationUserID,
	})
	if status != http.StatusOK {
		testContext.Fatalf("failed to create presence: %d", status)
	}
	presenceID := idOf(testContext, data)

	if status, _ = stack.call(testContext, http.MethodGet, "/api/presence/"+presenceID, integrationUserID, nil); status != http.StatusOK {
		testContext.Fatalf("expected live presence, got %d", status)
	}

	// A refresh inside the window re-arms the full TTL.
	time.Sleep(200 * time.Millisecond)
	if status, _ = stack.call(testContext, http.MethodPut, "/api/presence/"+presenceID, integrationUserID, map[string]any{
		"status": "online",
	}); status != http.StatusOK {
		testContext.Fatalf("failed to refresh presence: %d", status)
	}
	time.Sleep(200 * time.Millisecond)
	if status, _ = stack.call(testContext, http.MethodGet, "/api/presence/"+presenceID, integrationUserID, nil); status != http.StatusOK {
		testContext.Fatalf("expected refreshed presence to survive, got %d", status)
	}

	// Without refresh the document disappears.
	time.Sleep(400 * time.Millisecond)
	if status, _ = stack.call(testContext, http.MethodGet, "/api/presence/"+presenceID, integrationUserID, nil); status != http.StatusNotFound {
		testContext.Fatalf("expected expired presence to 404, got %d", status)
	}
}
