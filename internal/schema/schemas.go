// Package schema declares the statically-typed payloads of every collection
// and the catalog that wires them over one document store. Each collection's
// zero-value-plus-template struct is the shape partial writes are validated
// against at the store boundary.
package schema

// Collection names, used for key spaces, routes and event envelopes.
const (
	CollectionApps        = "apps"
	CollectionBoards      = "boards"
	CollectionRooms       = "rooms"
	CollectionUsers       = "users"
	CollectionPresence    = "presence"
	CollectionMessages    = "messages"
	CollectionAssets      = "assets"
	CollectionPlugins     = "plugins"
	CollectionRoomMembers = "roommembers"
)

// Global user roles carried on the user document.
const (
	UserRoleAdmin = "admin"
	UserRoleUser  = "user"
	UserRoleGuest = "guest"
)

// Room-scoped membership roles.
const (
	RoomRoleOwner  = "owner"
	RoomRoleMember = "member"
)

// Position is a 3D board coordinate; z orders overlapping apps.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Size is the extent of an app or viewport.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Depth  float64 `json:"depth"`
}

// Viewport is the region of a board a user currently sees.
type Viewport struct {
	Position Position `json:"position"`
	Size     Size     `json:"size"`
}

// ExecuteInfo carries a pending remote-execution request on a board.
type ExecuteInfo struct {
	ExecuteFunc string         `json:"executeFunc"`
	Params      map[string]any `json:"params"`
}

// Room owns boards. Rooms are the unit of membership and authorization.
type Room struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
	OwnerID     string `json:"ownerId"`
	IsPrivate   bool   `json:"isPrivate"`
	PrivatePin  string `json:"privatePin"`
	IsListed    bool   `json:"isListed"`
}

// Board is a shared canvas inside a room.
type Board struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Color       string      `json:"color"`
	RoomID      string      `json:"roomId"`
	OwnerID     string      `json:"ownerId"`
	IsPrivate   bool        `json:"isPrivate"`
	PrivatePin  string      `json:"privatePin"`
	ExecuteInfo ExecuteInfo `json:"executeInfo"`
}

// App is one typed application instance placed on a board. State is the
// app-specific payload; the sync core treats it as opaque JSON.
type App struct {
	Title    string         `json:"title"`
	RoomID   string         `json:"roomId"`
	BoardID  string         `json:"boardId"`
	Type     string         `json:"type"`
	Position Position       `json:"position"`
	Size     Size           `json:"size"`
	Rotation Position       `json:"rotation"`
	Raised   bool           `json:"raised"`
	Dragging bool           `json:"dragging"`
	State    map[string]any `json:"state"`
}

// User is an account document. UserRole feeds the authorization gate.
type User struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Color          string `json:"color"`
	UserRole       string `json:"userRole"`
	UserType       string `json:"userType"`
	ProfilePicture string `json:"profilePicture"`
}

// Presence is the ephemeral per-session record of a user's live position.
// Documents expire automatically when not refreshed within the TTL window.
type Presence struct {
	UserID   string   `json:"userId"`
	Status   string   `json:"status"`
	RoomID   string   `json:"roomId"`
	BoardID  string   `json:"boardId"`
	Cursor   Position `json:"cursor"`
	Viewport Viewport `json:"viewport"`
}

// Message is a transient broadcast; the collection carries a short TTL.
type Message struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

// Asset is the metadata document for an uploaded file. File bytes live
// outside the sync core.
type Asset struct {
	File             string `json:"file"`
	OwnerID          string `json:"owner"`
	RoomID           string `json:"room"`
	OriginalFilename string `json:"originalfilename"`
	Path             string `json:"path"`
	DateCreated      int64  `json:"dateCreated"`
	Size             int64  `json:"size"`
	MimeType         string `json:"mimetype"`
}

// Plugin is a registered external application bundle.
type Plugin struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	OwnerID     string `json:"ownerId"`
	OwnerName   string `json:"ownerName"`
	DateCreated int64  `json:"dateCreated"`
}

// Member is one userId/role pair inside a room's membership document.
type Member struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// RoomMembers enumerates the members of one room. Exactly one document
// exists per room for the room's lifetime.
type RoomMembers struct {
	RoomID  string   `json:"roomId"`
	Members []Member `json:"members"`
}
