// Package auth carries the signed-in user through request contexts and
// validates bearer tokens on the HTTP surface. Clinical writes require a
// user; reads of already-synced records do not.
package auth

import (
	"context"
	"errors"
)

// ErrUnauthenticated marks an operation that needs a signed-in user and
// found none in the context.
var ErrUnauthenticated = errors.New("no authenticated user")

// User is the identity attached to clinical writes.
type User struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Roles []string `json:"roles,omitempty"`
}

type contextKey string

const userKey contextKey = "user"

// WithUser returns a context carrying the user.
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the signed-in user or ErrUnauthenticated.
func UserFromContext(ctx context.Context) (User, error) {
	user, ok := ctx.Value(userKey).(User)
	if !ok || user.ID == "" {
		return User{}, ErrUnauthenticated
	}
	return user, nil
}
