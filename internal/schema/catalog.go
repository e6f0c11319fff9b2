package schema

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/canvaslab/boardsync/internal/collection"
)

// ServerIdentity is the authorship recorded for writes originating inside
// the server process (seeding, cascades). The gate always allows it.
const ServerIdentity = "NODE_SERVER"

const (
	defaultPresenceTTL = 60 * time.Second
	defaultMessageTTL  = 60 * time.Second
)

var errMissingStore = errors.New("schema: document store is required")

// CatalogConfig describes the dependencies of the collection catalog.
type CatalogConfig struct {
	Store collection.KV
	// Prefix is the key-space prefix, typically "<server name>:DB".
	Prefix      string
	Logger      *zap.Logger
	Clock       func() time.Time
	PresenceTTL time.Duration
	MessageTTL  time.Duration
}

// Catalog constructs and owns the typed collection references. It is built
// once at startup and handed by reference to the HTTP and subscription
// layers; there are no package-level singletons.
type Catalog struct {
	Apps        *collection.Reference[App]
	Boards      *collection.Reference[Board]
	Rooms       *collection.Reference[Room]
	Users       *collection.Reference[User]
	Presence    *collection.Reference[Presence]
	Messages    *collection.Reference[Message]
	Assets      *collection.Reference[Asset]
	Plugins     *collection.Reference[Plugin]
	RoomMembers *collection.Reference[RoomMembers]

	logger      *zap.Logger
	presenceTTL time.Duration
	messageTTL  time.Duration
}

// NewCatalog builds every collection reference over the shared store.
func NewCatalog(cfg CatalogConfig) (*Catalog, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	presenceTTL := cfg.PresenceTTL
	if presenceTTL <= 0 {
		presenceTTL = defaultPresenceTTL
	}
	messageTTL := cfg.MessageTTL
	if messageTTL <= 0 {
		messageTTL = defaultMessageTTL
	}

	c := &Catalog{
		logger:      logger,
		presenceTTL: presenceTTL,
		messageTTL:  messageTTL,
	}

	var err error
	if c.Apps, err = collection.New(refConfig(cfg, CollectionApps, []string{"roomId", "boardId", "type"}, App{})); err != nil {
		return nil, err
	}
	if c.Boards, err = collection.New(refConfig(cfg, CollectionBoards, []string{"roomId", "ownerId"}, Board{})); err != nil {
		return nil, err
	}
	if c.Rooms, err = collection.New(refConfig(cfg, CollectionRooms, []string{"ownerId"}, Room{})); err != nil {
		return nil, err
	}
	if c.Users, err = collection.New(refConfig(cfg, CollectionUsers, []string{"email"}, User{UserRole: UserRoleUser, UserType: "client"})); err != nil {
		return nil, err
	}
	if c.Presence, err = collection.New(refConfig(cfg, CollectionPresence, []string{"roomId", "boardId", "userId"}, Presence{Status: "online"})); err != nil {
		return nil, err
	}
	if c.Messages, err = collection.New(refConfig(cfg, CollectionMessages, nil, Message{})); err != nil {
		return nil, err
	}
	if c.Assets, err = collection.New(refConfig(cfg, CollectionAssets, []string{"room", "owner"}, Asset{})); err != nil {
		return nil, err
	}
	if c.Plugins, err = collection.New(refConfig(cfg, CollectionPlugins, []string{"ownerId"}, Plugin{})); err != nil {
		return nil, err
	}
	if c.RoomMembers, err = collection.New(refConfig(cfg, CollectionRoomMembers, []string{"roomId"}, RoomMembers{Members: []Member{}})); err != nil {
		return nil, err
	}
	return c, nil
}

func refConfig[T any](cfg CatalogConfig, name string, indexed []string, template T) collection.Config[T] {
	return collection.Config[T]{
		Name:          name,
		Template:      template,
		Store:         cfg.Store,
		Prefix:        cfg.Prefix,
		IndexedFields: indexed,
		Logger:        cfg.Logger,
		Clock:         cfg.Clock,
	}
}

// UseGuard attaches the authorization gate to every collection. Called once
// at startup, after the gate has been constructed over this catalog.
func (c *Catalog) UseGuard(guard collection.Guard) {
	c.Apps.SetGuard(guard)
	c.Boards.SetGuard(guard)
	c.Rooms.SetGuard(guard)
	c.Users.SetGuard(guard)
	c.Presence.SetGuard(guard)
	c.Messages.SetGuard(guard)
	c.Assets.SetGuard(guard)
	c.Plugins.SetGuard(guard)
	c.RoomMembers.SetGuard(guard)
}

// REST exposes every collection's schema-erased CRUD surface for route
// registration.
func (c *Catalog) REST() []collection.RESTCollection {
	return []collection.RESTCollection{
		c.Apps, c.Boards, c.Rooms, c.Users, c.Presence,
		c.Messages, c.Assets, c.Plugins, c.RoomMembers,
	}
}

// Sources exposes the subscription surfaces keyed by collection name.
func (c *Catalog) Sources() map[string]collection.Source {
	return map[string]collection.Source{
		CollectionApps:        c.Apps,
		CollectionBoards:      c.Boards,
		CollectionRooms:       c.Rooms,
		CollectionUsers:       c.Users,
		CollectionPresence:    c.Presence,
		CollectionMessages:    c.Messages,
		CollectionAssets:      c.Assets,
		CollectionPlugins:     c.Plugins,
		CollectionRoomMembers: c.RoomMembers,
	}
}

// Load initializes every collection and seeds the default room and board.
// Presence and Messages are ephemeral: wiped on startup, TTL on every write.
func (c *Catalog) Load(ctx context.Context) error {
	type initStep struct {
		name string
		run  func() error
	}
	steps := []initStep{
		{CollectionApps, func() error { return c.Apps.Initialize(ctx, false, 0) }},
		{CollectionBoards, func() error { return c.Boards.Initialize(ctx, false, 0) }},
		{CollectionRooms, func() error { return c.Rooms.Initialize(ctx, false, 0) }},
		{CollectionUsers, func() error { return c.Users.Initialize(ctx, false, 0) }},
		{CollectionAssets, func() error { return c.Assets.Initialize(ctx, false, 0) }},
		{CollectionMessages, func() error { return c.Messages.Initialize(ctx, true, c.messageTTL) }},
		{CollectionPresence, func() error { return c.Presence.Initialize(ctx, true, c.presenceTTL) }},
		{CollectionPlugins, func() error { return c.Plugins.Initialize(ctx, false, 0) }},
		{CollectionRoomMembers, func() error { return c.RoomMembers.Initialize(ctx, false, 0) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return fmt.Errorf("schema: initializing %s: %w", step.name, err)
		}
	}
	return c.seed(ctx)
}

// seed guarantees the builtin room/board exist and that every room carries
// a membership document naming its creator as owner.
func (c *Catalog) seed(ctx context.Context) error {
	rooms, err := c.Rooms.GetAll(ctx, ServerIdentity)
	if err != nil {
		return err
	}

	if len(rooms) == 0 {
		room, err := addValue(ctx, c.Rooms, Room{
			Name:        "Main Room",
			Description: "Builtin default room",
			Color:       "green",
			OwnerID:     "-",
			IsListed:    true,
		})
		if err != nil {
			return err
		}
		c.logger.Info("default room seeded", zap.String("room", room.ID))
		board, err := addValue(ctx, c.Boards, Board{
			Name:        "Main Board",
			Description: "Builtin default board",
			Color:       "green",
			RoomID:      room.ID,
			OwnerID:     "-",
		})
		if err != nil {
			return err
		}
		c.logger.Info("default board seeded", zap.String("board", board.ID))
		rooms = append(rooms, *room)
	} else {
		c.logger.Info("rooms loaded from store", zap.Int("count", len(rooms)))
	}

	for _, room := range rooms {
		members, err := c.RoomMembers.Query(ctx, ServerIdentity, "roomId", room.ID)
		if err != nil {
			return err
		}
		if len(members) > 0 {
			continue
		}
		_, err = addValue(ctx, c.RoomMembers, RoomMembers{
			RoomID:  room.ID,
			Members: []Member{{UserID: room.CreatedBy, Role: RoomRoleOwner}},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// CreateRoom adds the room and its membership document, making the creator
// the room owner.
func (c *Catalog) CreateRoom(ctx context.Context, authorID string, patch collection.FieldPatch) (*collection.Document[Room], error) {
	room, err := c.Rooms.Add(ctx, authorID, patch)
	if err != nil {
		return nil, err
	}
	_, err = addValue(ctx, c.RoomMembers, RoomMembers{
		RoomID:  room.ID,
		Members: []Member{{UserID: authorID, Role: RoomRoleOwner}},
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// EnsureUser returns the user document keyed by the account subject,
// creating it on first sight. User documents share their ID with the auth
// subject so role lookups need no extra mapping.
func (c *Catalog) EnsureUser(ctx context.Context, userID string, patch collection.FieldPatch) (*collection.Document[User], error) {
	if doc, err := c.Users.Get(ctx, ServerIdentity, userID); err == nil {
		return doc, nil
	} else if !errors.Is(err, collection.ErrNotFound) {
		return nil, err
	}
	doc, err := c.Users.AddWithID(ctx, userID, userID, patch)
	if errors.Is(err, collection.ErrConflict) {
		// Lost a create race for the same subject; the winner's document serves.
		return c.Users.Get(ctx, ServerIdentity, userID)
	}
	return doc, err
}

// DeleteBoard removes the board after authorization, then cascades to the
// apps placed on it. Cascaded deletes run under the server identity.
func (c *Catalog) DeleteBoard(ctx context.Context, callerID, boardID string) error {
	if err := c.Boards.Delete(ctx, callerID, boardID); err != nil {
		return err
	}
	apps, err := c.Apps.Query(ctx, ServerIdentity, "boardId", boardID)
	if err != nil {
		return err
	}
	for _, app := range apps {
		if err := c.Apps.Delete(ctx, ServerIdentity, app.ID); err != nil && !errors.Is(err, collection.ErrNotFound) {
			return err
		}
	}
	return nil
}

// DeleteRoom removes the room after authorization, then cascades to its
// boards (and their apps) and its membership document.
func (c *Catalog) DeleteRoom(ctx context.Context, callerID, roomID string) error {
	if err := c.Rooms.Delete(ctx, callerID, roomID); err != nil {
		return err
	}
	boards, err := c.Boards.Query(ctx, ServerIdentity, "roomId", roomID)
	if err != nil {
		return err
	}
	for _, board := range boards {
		if err := c.DeleteBoard(ctx, ServerIdentity, board.ID); err != nil && !errors.Is(err, collection.ErrNotFound) {
			return err
		}
	}
	members, err := c.RoomMembers.Query(ctx, ServerIdentity, "roomId", roomID)
	if err != nil {
		return err
	}
	for _, doc := range members {
		if err := c.RoomMembers.Delete(ctx, ServerIdentity, doc.ID); err != nil && !errors.Is(err, collection.ErrNotFound) {
			return err
		}
	}
	return nil
}

func addValue[T any](ctx context.Context, ref *collection.Reference[T], value T) (*collection.Document[T], error) {
	patch, err := collection.Patch(value)
	if err != nil {
		return nil, err
	}
	return ref.Add(ctx, ServerIdentity, patch)
}
