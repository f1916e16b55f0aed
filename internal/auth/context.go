package auth

import "context"

// User identifies the authenticated GUI client for a request.
type User struct {
	Sub        string
	ClientName string
}

type userContextKey struct{}

// WithUser stores the authenticated user on a context.
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFrom returns the authenticated user for a context, if any.
func UserFrom(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userContextKey{}).(User)
	return user, ok
}
