// Package authz implements the policy gate consulted by every collection
// operation. The gate owns no state of its own: it reads roles, memberships
// and document scope through a Directory and evaluates a rule table.
package authz

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/canvaslab/boardsync/internal/collection"
	"github.com/canvaslab/boardsync/internal/schema"
)

var errMissingDirectory = errors.New("authz: directory is required")

// Directory is the read-only view of accounts, memberships and document
// scope the gate consults while evaluating a request. Implemented by the
// collection catalog.
type Directory interface {
	// UserRole reports the caller's global role, or false for unknown users.
	UserRole(ctx context.Context, userID string) (string, bool)
	// RoomRole reports the caller's role inside a room, or false for
	// non-members.
	RoomRole(ctx context.Context, roomID, userID string) (string, bool)
	// RoomOf resolves the room a document belongs to, or false when the
	// collection has no room scope.
	RoomOf(ctx context.Context, collectionName, documentID string) (string, bool)
	// OwnerOf reports the authoring user of a document.
	OwnerOf(ctx context.Context, collectionName, documentID string) (string, bool)
}

// Rule grants an action when every listed condition holds. Rules are
// evaluated in order; the first one whose scope and conditions match wins.
type Rule struct {
	// Collection scopes the rule; empty matches every collection.
	Collection string
	// Actions scopes the rule; nil matches every action.
	Actions []collection.Action
	// Roles lists the global roles the rule applies to; nil matches any
	// authenticated role.
	Roles []string
	// RequireMembership demands the caller belong to the document's room.
	RequireMembership bool
	// RequireOwner demands the caller authored the document or owns its room.
	RequireOwner bool
	// SelfOnly demands the document id equal the caller's id.
	SelfOnly bool
}

// Policy is an ordered rule table. Anything no rule grants is denied.
type Policy []Rule

// DefaultPolicy encodes the stock behavior: admins are unrestricted, every
// authenticated account may read and subscribe, writes require the "user"
// role and room membership, destructive operations require authorship or
// room ownership. Guests get presence and their own account document only.
func DefaultPolicy() Policy {
	writes := []collection.Action{collection.ActionCreate, collection.ActionUpdate, collection.ActionDelete}
	return Policy{
		{Roles: []string{schema.UserRoleAdmin}},
		{Actions: []collection.Action{collection.ActionRead, collection.ActionSubscribe}},

		// Any account maintains its own user document and presence record.
		{Collection: schema.CollectionUsers, Actions: []collection.Action{collection.ActionUpdate, collection.ActionDelete}, SelfOnly: true},
		{Collection: schema.CollectionPresence, Actions: []collection.Action{collection.ActionCreate}},
		{Collection: schema.CollectionPresence, Actions: []collection.Action{collection.ActionUpdate, collection.ActionDelete}, RequireOwner: true},

		// Full accounts create top-level resources freely.
		{Collection: schema.CollectionRooms, Actions: []collection.Action{collection.ActionCreate}, Roles: []string{schema.UserRoleUser}},
		{Collection: schema.CollectionBoards, Actions: []collection.Action{collection.ActionCreate}, Roles: []string{schema.UserRoleUser}},
		{Collection: schema.CollectionApps, Actions: []collection.Action{collection.ActionCreate}, Roles: []string{schema.UserRoleUser}},
		{Collection: schema.CollectionAssets, Actions: []collection.Action{collection.ActionCreate}, Roles: []string{schema.UserRoleUser}},
		{Collection: schema.CollectionPlugins, Actions: []collection.Action{collection.ActionCreate}, Roles: []string{schema.UserRoleUser}},
		{Collection: schema.CollectionMessages, Actions: writes, Roles: []string{schema.UserRoleUser}},

		// Mutations inside a room require membership; removal additionally
		// requires authorship or room ownership.
		{Collection: schema.CollectionRooms, Actions: []collection.Action{collection.ActionUpdate, collection.ActionDelete}, Roles: []string{schema.UserRoleUser}, RequireOwner: true},
		{Collection: schema.CollectionRoomMembers, Actions: writes, Roles: []string{schema.UserRoleUser}, RequireOwner: true},
		{Collection: schema.CollectionBoards, Actions: []collection.Action{collection.ActionUpdate}, Roles: []string{schema.UserRoleUser}, RequireMembership: true},
		{Collection: schema.CollectionApps, Actions: []collection.Action{collection.ActionUpdate}, Roles: []string{schema.UserRoleUser}, RequireMembership: true},
		{Collection: schema.CollectionBoards, Actions: []collection.Action{collection.ActionDelete}, Roles: []string{schema.UserRoleUser}, RequireOwner: true},
		{Collection: schema.CollectionApps, Actions: []collection.Action{collection.ActionDelete}, Roles: []string{schema.UserRoleUser}, RequireOwner: true},
		{Collection: schema.CollectionAssets, Actions: []collection.Action{collection.ActionUpdate, collection.ActionDelete}, Roles: []string{schema.UserRoleUser}, RequireOwner: true},
		{Collection: schema.CollectionPlugins, Actions: []collection.Action{collection.ActionUpdate, collection.ActionDelete}, Roles: []string{schema.UserRoleUser}, RequireOwner: true},
	}
}

// GateConfig describes the dependencies of the gate.
type GateConfig struct {
	Directory Directory
	// ServerID is the process identity; it bypasses every rule.
	ServerID string
	// Policy defaults to DefaultPolicy when nil.
	Policy Policy
	Logger *zap.Logger
}

// Gate implements collection.Guard over a Directory and a Policy.
type Gate struct {
	directory Directory
	serverID  string
	policy    Policy
	logger    *zap.Logger
}

func NewGate(cfg GateConfig) (*Gate, error) {
	if cfg.Directory == nil {
		return nil, errMissingDirectory
	}
	serverID := cfg.ServerID
	if serverID == "" {
		serverID = schema.ServerIdentity
	}
	policy := cfg.Policy
	if policy == nil {
		policy = DefaultPolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{directory: cfg.Directory, serverID: serverID, policy: policy, logger: logger}, nil
}

// Allow evaluates the policy for one operation. Unknown accounts may only
// bootstrap their own user document; everything else needs a matching rule.
func (g *Gate) Allow(ctx context.Context, userID string, action collection.Action, collectionName, documentID string) bool {
	if userID == g.serverID {
		return true
	}
	if userID == "" {
		return false
	}

	role, known := g.directory.UserRole(ctx, userID)
	if !known {
		allowed := collectionName == schema.CollectionUsers &&
			action == collection.ActionCreate &&
			documentID == userID
		if !allowed {
			g.logger.Debug("denied unknown account",
				zap.String("user", userID),
				zap.String("collection", collectionName),
				zap.String("action", string(action)))
		}
		return allowed
	}

	for _, rule := range g.policy {
		if !rule.matches(role, action, collectionName) {
			continue
		}
		if g.satisfied(ctx, rule, userID, collectionName, documentID) {
			return true
		}
	}
	g.logger.Debug("denied by policy",
		zap.String("user", userID),
		zap.String("role", role),
		zap.String("collection", collectionName),
		zap.String("action", string(action)),
		zap.String("document", documentID))
	return false
}

func (r Rule) matches(role string, action collection.Action, collectionName string) bool {
	if r.Collection != "" && r.Collection != collectionName {
		return false
	}
	if r.Actions != nil && !containsAction(r.Actions, action) {
		return false
	}
	if r.Roles != nil && !containsString(r.Roles, role) {
		return false
	}
	return true
}

func (g *Gate) satisfied(ctx context.Context, rule Rule, userID, collectionName, documentID string) bool {
	if rule.SelfOnly && documentID != userID {
		return false
	}
	if rule.RequireMembership && !g.isMember(ctx, userID, collectionName, documentID) {
		return false
	}
	if rule.RequireOwner && !g.isOwner(ctx, userID, collectionName, documentID) {
		return false
	}
	return true
}

func (g *Gate) isMember(ctx context.Context, userID, collectionName, documentID string) bool {
	roomID, scoped := g.directory.RoomOf(ctx, collectionName, documentID)
	if !scoped {
		return false
	}
	_, member := g.directory.RoomRole(ctx, roomID, userID)
	return member
}

// isOwner holds for the document's author and for the owner of its room.
func (g *Gate) isOwner(ctx context.Context, userID, collectionName, documentID string) bool {
	if author, ok := g.directory.OwnerOf(ctx, collectionName, documentID); ok && author == userID {
		return true
	}
	if roomID, scoped := g.directory.RoomOf(ctx, collectionName, documentID); scoped {
		if role, ok := g.directory.RoomRole(ctx, roomID, userID); ok && role == schema.RoomRoleOwner {
			return true
		}
	}
	return false
}

func containsAction(actions []collection.Action, action collection.Action) bool {
	for _, candidate := range actions {
		if candidate == action {
			return true
		}
	}
	return false
}

func containsString(values []string, value string) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}
	return false
}
