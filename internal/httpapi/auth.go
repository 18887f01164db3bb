package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/auth"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

// authenticate resolves the bearer token into an actor. The account is
// reloaded on every request so role and status changes apply immediately.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		actor, _, err := h.resolveActor(r.Context(), token)
		if err != nil {
			writeFailure(w, err)
			return
		}
		markAccount(w, actor.AccountID)
		next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), actor)))
	})
}

func (h *Handler) resolveActor(ctx context.Context, token string) (auth.Actor, *auth.Claims, error) {
	claims, err := h.tokens.Parse(token)
	if err != nil {
		return auth.Actor{}, nil, err
	}
	revoked, err := h.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return auth.Actor{}, nil, fmt.Errorf("revocation lookup: %w", err)
	}
	if revoked {
		return auth.Actor{}, nil, auth.ErrInvalidToken
	}
	account, err := h.accounts.GetAccount(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return auth.Actor{}, nil, auth.ErrInvalidToken
		}
		return auth.Actor{}, nil, err
	}
	if account.Status != models.AccountActive {
		return auth.Actor{}, nil, auth.ErrAccountDisabled
	}
	actor := auth.ActorOf(account)
	actor.TokenID = claims.ID
	return actor, claims, nil
}

func actorFrom(w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return auth.Actor{}, false
	}
	return actor, true
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}
