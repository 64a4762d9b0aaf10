package identity

import "context"

type contextKey string

const actorKey contextKey = "identity_actor"

// Actor is the authenticated caller attached to a request context.
type Actor struct {
	UserID   int64
	Username string
	Roles    []string
}

// HasAnyRole reports whether the actor holds at least one of the given roles.
func (a Actor) HasAnyRole(roles ...string) bool {
	for _, want := range roles {
		for _, have := range a.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// IsPrivileged reports whether the actor may override period locks and act on
// customers owned by other users.
func (a Actor) IsPrivileged() bool {
	return a.HasAnyRole(RoleAdmin, RoleChiefAccountant)
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}
