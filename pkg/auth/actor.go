package auth

import "context"

// Actor is the authenticated identity attached to every gateway request.
type Actor struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
}

type contextKey string

const actorContextKey contextKey = "pressgate.actor"

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, a)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	v := ctx.Value(actorContextKey)
	if v == nil {
		return Actor{}, false
	}
	a, ok := v.(Actor)
	return a, ok
}
