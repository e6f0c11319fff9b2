package schema

import (
	"context"
	"encoding/json"

	"github.com/canvaslab/boardsync/internal/collection"
)

// UserRole reports the global role of a user, or false when the user
// document does not exist. Lookups run under the server identity so the
// gate can consult them while evaluating someone else's request.
func (c *Catalog) UserRole(ctx context.Context, userID string) (string, bool) {
	doc, err := c.Users.Get(ctx, ServerIdentity, userID)
	if err != nil {
		return "", false
	}
	return doc.Data.UserRole, true
}

// RoomRole reports the caller's role inside a room, or false when the user
// is not a member.
func (c *Catalog) RoomRole(ctx context.Context, roomID, userID string) (string, bool) {
	docs, err := c.RoomMembers.Query(ctx, ServerIdentity, "roomId", roomID)
	if err != nil {
		return "", false
	}
	for _, doc := range docs {
		for _, member := range doc.Data.Members {
			if member.UserID == userID {
				return member.Role, true
			}
		}
	}
	return "", false
}

// RoomOf resolves the room a document belongs to. Rooms resolve to
// themselves; collections without room scope report false.
func (c *Catalog) RoomOf(ctx context.Context, collectionName, documentID string) (string, bool) {
	switch collectionName {
	case CollectionRooms:
		return documentID, true
	case CollectionBoards:
		if doc, err := c.Boards.Get(ctx, ServerIdentity, documentID); err == nil {
			return doc.Data.RoomID, true
		}
	case CollectionApps:
		if doc, err := c.Apps.Get(ctx, ServerIdentity, documentID); err == nil {
			return doc.Data.RoomID, true
		}
	case CollectionPresence:
		if doc, err := c.Presence.Get(ctx, ServerIdentity, documentID); err == nil {
			return doc.Data.RoomID, true
		}
	case CollectionAssets:
		if doc, err := c.Assets.Get(ctx, ServerIdentity, documentID); err == nil {
			return doc.Data.RoomID, true
		}
	case CollectionRoomMembers:
		if doc, err := c.RoomMembers.Get(ctx, ServerIdentity, documentID); err == nil {
			return doc.Data.RoomID, true
		}
	}
	return "", false
}

// OwnerOf reports the authoring user of a document in any collection, or
// false when the document does not exist.
func (c *Catalog) OwnerOf(ctx context.Context, collectionName, documentID string) (string, bool) {
	var target collection.RESTCollection
	for _, rest := range c.REST() {
		if rest.Name() == collectionName {
			target = rest
			break
		}
	}
	if target == nil {
		return "", false
	}
	raw, err := target.GetRaw(ctx, ServerIdentity, documentID)
	if err != nil {
		return "", false
	}
	var envelope struct {
		CreatedBy string `json:"_createdBy"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", false
	}
	return envelope.CreatedBy, true
}
