package auth

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret!")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret!", hash)
	assert.True(t, CheckPassword(hash, "s3cret!"))
	assert.False(t, CheckPassword(hash, "wrong"))
}

func TestTokenIssueAndParse(t *testing.T) {
	issuer := NewTokenIssuer("secret", "ev-maintenance", time.Hour)
	account := models.Account{AccountID: "acc-1", Username: "tech", Role: models.RoleTechnician}

	token, claims, err := issuer.Issue(account)
	require.NoError(t, err)
	require.NotEmpty(t, claims.ID)

	parsed, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", parsed.AccountID)
	assert.Equal(t, models.RoleTechnician, parsed.Role)
	assert.Equal(t, claims.ID, parsed.ID)
}

func TestTokenRejectsForeignSecretAndExpiry(t *testing.T) {
	issuer := NewTokenIssuer("secret", "ev-maintenance", time.Hour)
	other := NewTokenIssuer("other", "ev-maintenance", time.Hour)
	account := models.Account{AccountID: "acc-1", Role: models.RoleCustomer}

	token, _, err := other.Issue(account)
	require.NoError(t, err)
	_, err = issuer.Parse(token)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	expired := NewTokenIssuer("secret", "ev-maintenance", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err = expired.Issue(account)
	require.NoError(t, err)
	_, err = issuer.Parse(token)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestActorContext(t *testing.T) {
	_, ok := ActorFrom(context.Background())
	assert.False(t, ok)

	ctx := WithActor(context.Background(), Actor{AccountID: "a", Role: models.RoleStaff})
	actor, ok := ActorFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, models.RoleStaff, actor.Role)
}

func TestMemoryRevoker(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRevoker()
	revoked, err := r.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, r.Revoke(ctx, "jti-1", time.Now().Add(time.Minute)))
	revoked, err = r.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	require.NoError(t, r.Revoke(ctx, "jti-2", time.Now().Add(-time.Minute)))
	revoked, err = r.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRedisRevoker(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	r := NewRedisRevoker(client)
	r.prefix = "evm:test:" + time.Now().Format("150405.000000") + ":"
	require.NoError(t, r.Revoke(ctx, "jti", time.Now().Add(time.Minute)))
	revoked, err := r.IsRevoked(ctx, "jti")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = r.IsRevoked(ctx, "other")
	require.NoError(t, err)
	assert.False(t, revoked)
}
