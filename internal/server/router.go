// Package server exposes the sync core over HTTP: CRUD routes per
// collection, the websocket subscription channel and the kernel reverse
// proxy.
package server

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/canvaslab/boardsync/internal/collection"
	"github.com/canvaslab/boardsync/internal/schema"
)

const userIDContextKey = "boardsync_user_id"

var (
	errMissingCatalog       = errors.New("server: collection catalog required")
	errMissingAuthenticator = errors.New("server: request authenticator required")
)

// Authenticator resolves the caller's identity from a request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// Dependencies carries everything the HTTP handler needs. Construction is
// explicit; there are no package-level singletons.
type Dependencies struct {
	Catalog       *schema.Catalog
	Authenticator Authenticator
	// KernelURL enables the /api/kernels proxy when non-empty.
	KernelURL string
	Logger    *zap.Logger
}

// queryRoutes lists the per-field lookup routes each collection exposes,
// e.g. GET /api/boards/roomId/:value.
var queryRoutes = map[string][]string{
	schema.CollectionBoards:      {"roomId"},
	schema.CollectionApps:        {"boardId", "roomId"},
	schema.CollectionPresence:    {"boardId"},
	schema.CollectionRoomMembers: {"roomId"},
}

// NewHTTPHandler builds the gin handler for the whole API surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Catalog == nil {
		return nil, errMissingCatalog
	}
	if deps.Authenticator == nil {
		return nil, errMissingAuthenticator
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		catalog:       deps.Catalog,
		authenticator: deps.Authenticator,
		subscriptions: newSubscriptionHub(deps.Catalog.Sources(), logger),
		logger:        logger,
	}

	api := router.Group("/api")
	api.Use(handler.authorizeRequest)

	for _, rest := range deps.Catalog.REST() {
		registerCollection(api, handler, rest)
	}
	api.GET("/ws", handler.handleSubscriptions)

	if deps.KernelURL != "" {
		kernelURL, err := url.Parse(deps.KernelURL)
		if err != nil {
			return nil, err
		}
		proxy := newKernelProxy(kernelURL, logger)
		api.Any("/kernels/*path", gin.WrapH(proxy))
	}

	return router, nil
}

type httpHandler struct {
	catalog       *schema.Catalog
	authenticator Authenticator
	subscriptions *subscriptionHub
	logger        *zap.Logger
}

// registerCollection wires the uniform CRUD surface for one collection.
// Rooms and boards override create/delete to run their side effects
// (membership document, cascades); users override create so the document is
// keyed by the account subject.
func registerCollection(api *gin.RouterGroup, handler *httpHandler, rest collection.RESTCollection) {
	name := rest.Name()
	base := "/" + name

	switch name {
	case schema.CollectionUsers:
		api.POST(base, handler.handleCreateUser)
	case schema.CollectionRooms:
		api.POST(base, handler.handleCreateRoom)
	default:
		api.POST(base, handler.createHandler(rest))
	}

	api.GET(base, handler.listHandler(rest))
	api.GET(base+"/:id", handler.getHandler(rest))
	api.PUT(base+"/:id", handler.updateHandler(rest))

	switch name {
	case schema.CollectionRooms:
		api.DELETE(base+"/:id", handler.handleDeleteRoom)
	case schema.CollectionBoards:
		api.DELETE(base+"/:id", handler.handleDeleteBoard)
	default:
		api.DELETE(base+"/:id", handler.deleteHandler(rest))
	}

	for _, field := range queryRoutes[name] {
		api.GET(base+"/"+field+"/:value", handler.queryHandler(rest, field))
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	subject, err := h.authenticator.Authenticate(c.Request)
	if err != nil {
		h.logger.Debug("request authentication failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) createHandler(rest collection.RESTCollection) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			respondError(c, h.logger, rest.Name(), collection.ErrValidation)
			return
		}
		doc, err := rest.AddRaw(c.Request.Context(), c.GetString(userIDContextKey), body)
		if err != nil {
			respondError(c, h.logger, rest.Name(), err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": doc})
	}
}

func (h *httpHandler) listHandler(rest collection.RESTCollection) gin.HandlerFunc {
	return func(c *gin.Context) {
		docs, err := rest.ListRaw(c.Request.Context(), c.GetString(userIDContextKey))
		if err != nil {
			respondError(c, h.logger, rest.Name(), err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": docs})
	}
}

func (h *httpHandler) getHandler(rest collection.RESTCollection) gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := rest.GetRaw(c.Request.Context(), c.GetString(userIDContextKey), c.Param("id"))
		if err != nil {
			respondError(c, h.logger, rest.Name(), err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": doc})
	}
}

func (h *httpHandler) queryHandler(rest collection.RESTCollection, field string) gin.HandlerFunc {
	return func(c *gin.Context) {
		docs, err := rest.QueryRaw(c.Request.Context(), c.GetString(userIDContextKey), field, c.Param("value"))
		if err != nil {
			respondError(c, h.logger, rest.Name(), err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": docs})
	}
}

func (h *httpHandler) updateHandler(rest collection.RESTCollection) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			respondError(c, h.logger, rest.Name(), collection.ErrValidation)
			return
		}
		doc, err := rest.UpdateRaw(c.Request.Context(), c.GetString(userIDContextKey), c.Param("id"), body)
		if err != nil {
			respondError(c, h.logger, rest.Name(), err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": doc})
	}
}

func (h *httpHandler) deleteHandler(rest collection.RESTCollection) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := rest.DeleteRaw(c.Request.Context(), c.GetString(userIDContextKey), c.Param("id")); err != nil {
			respondError(c, h.logger, rest.Name(), err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func (h *httpHandler) handleCreateUser(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	patch, err := parseBody(c)
	if err != nil {
		respondError(c, h.logger, schema.CollectionUsers, err)
		return
	}
	doc, err := h.catalog.EnsureUser(c.Request.Context(), userID, patch)
	if err != nil {
		respondError(c, h.logger, schema.CollectionUsers, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": doc})
}

func (h *httpHandler) handleCreateRoom(c *gin.Context) {
	patch, err := parseBody(c)
	if err != nil {
		respondError(c, h.logger, schema.CollectionRooms, err)
		return
	}
	doc, err := h.catalog.CreateRoom(c.Request.Context(), c.GetString(userIDContextKey), patch)
	if err != nil {
		respondError(c, h.logger, schema.CollectionRooms, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": doc})
}

func (h *httpHandler) handleDeleteRoom(c *gin.Context) {
	err := h.catalog.DeleteRoom(c.Request.Context(), c.GetString(userIDContextKey), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, schema.CollectionRooms, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleDeleteBoard(c *gin.Context) {
	err := h.catalog.DeleteBoard(c.Request.Context(), c.GetString(userIDContextKey), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, schema.CollectionBoards, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func parseBody(c *gin.Context) (collection.FieldPatch, error) {
	body, err := c.GetRawData()
	if err != nil {
		return nil, collection.ErrValidation
	}
	return collection.ParsePatch(body)
}

// respondError maps collection errors to HTTP statuses without leaking
// store internals into response bodies.
func respondError(c *gin.Context, logger *zap.Logger, collectionName string, err error) {
	switch {
	case errors.Is(err, collection.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request"})
	case errors.Is(err, collection.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "not found"})
	case errors.Is(err, collection.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "forbidden"})
	case errors.Is(err, collection.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": "already exists"})
	default:
		logger.Error("collection operation failed",
			zap.String("collection", collectionName),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal error"})
	}
}
