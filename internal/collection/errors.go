package collection

import (
	"context"
	"errors"
)

var (
	// ErrValidation indicates a write carried malformed or unknown fields.
	// Nothing is persisted when it is returned.
	ErrValidation = errors.New("collection: validation failed")
	// ErrNotFound indicates the target document id does not exist.
	ErrNotFound = errors.New("collection: document not found")
	// ErrForbidden indicates the authorization guard denied the operation
	// before any side effect.
	ErrForbidden = errors.New("collection: operation forbidden")
	// ErrConflict indicates a caller-chosen document id is already in use.
	ErrConflict = errors.New("collection: document id already exists")
)

// Action names the operation classes checked against the guard.
type Action string

const (
	ActionCreate    Action = "create"
	ActionRead      Action = "read"
	ActionUpdate    Action = "update"
	ActionDelete    Action = "delete"
	ActionSubscribe Action = "subscribe"
)

// Guard decides whether an identity may perform an action on a collection,
// optionally scoped to one document. It is consulted before every operation;
// a false result aborts with ErrForbidden and no side effects.
type Guard interface {
	Allow(ctx context.Context, userID string, action Action, collectionName, documentID string) bool
}
