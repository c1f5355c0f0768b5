package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

// UserLocalsKey is where RouteGate stores the resolved user in router locals
const UserLocalsKey = "user"

var userCtxKey = &contextKey{"user"}

type contextKey struct {
	name string
}

// WithContext sets the User in the given context
func WithContext(r context.Context, user *User) context.Context {
	return context.WithValue(r, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok && raw != nil
}

// GetRouterUser extracts the user RouteGate stored in the router context
func GetRouterUser(ctx router.Context, key string) (*User, bool) {
	if key == "" {
		key = UserLocalsKey
	}
	raw := ctx.Locals(key)
	if raw == nil {
		return nil, false
	}
	user, ok := raw.(*User)
	return user, ok && user != nil
}

// Can checks a requirement against the user carried by ctx.
// Use CanFromRouter for router-based contexts.
func Can(ctx context.Context, policy *Policy, req Requirement) bool {
	user, ok := FromContext(ctx)
	if !ok || policy == nil {
		return false
	}
	return policy.IsAuthorized(user, req)
}

// CanFromRouter checks a requirement against the user in router locals
func CanFromRouter(ctx router.Context, policy *Policy, req Requirement) bool {
	user, ok := GetRouterUser(ctx, "")
	if !ok || policy == nil {
		return false
	}
	return policy.IsAuthorized(user, req)
}
