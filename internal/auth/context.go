package auth

import (
	"context"
	"errors"
)

// Identity is the authenticated principal of a request. WorkspaceID scopes
// every campaign read and write; handlers must never trust a workspace id
// from the request body or URL over this one.
type Identity struct {
	UserID      string
	WorkspaceID string
	Role        string
}

type identityKey struct{}

var ErrNoIdentity = errors.New("auth: no identity in context")

func WithIdentity(ctx context.Context, userID, workspaceID, role string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{
		UserID:      userID,
		WorkspaceID: workspaceID,
		Role:        role,
	})
}

// FromContext returns the request identity, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func UserID(ctx context.Context) (string, error) {
	id, ok := FromContext(ctx)
	if !ok || id.UserID == "" {
		return "", ErrNoIdentity
	}
	return id.UserID, nil
}

func WorkspaceID(ctx context.Context) (string, error) {
	id, ok := FromContext(ctx)
	if !ok || id.WorkspaceID == "" {
		return "", ErrNoIdentity
	}
	return id.WorkspaceID, nil
}

func Role(ctx context.Context) (string, error) {
	id, ok := FromContext(ctx)
	if !ok || id.Role == "" {
		return "", ErrNoIdentity
	}
	return id.Role, nil
}
