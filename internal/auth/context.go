package auth

import (
	"context"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
)

// Actor is the authenticated identity behind a request.
type Actor struct {
	AccountID string      `json:"account_id"`
	Username  string      `json:"username"`
	Role      models.Role `json:"role"`
	TokenID   string      `json:"-"`
}

type actorKey struct{}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}

// ActorOf builds the actor for an account outside of a request.
func ActorOf(account models.Account) Actor {
	return Actor{AccountID: account.AccountID, Username: account.Username, Role: account.Role}
}
