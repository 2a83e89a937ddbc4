// AngelaMos | 2026
// cache_test.go

package token

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundvault/auth-backend/internal/config"
	"github.com/soundvault/auth-backend/internal/core"
)

type fakeCacheStore struct {
	tokens     map[string]*AccessToken
	findCalls  int
	expiredIDs []string
}

func newFakeCacheStore() *fakeCacheStore {
	return &fakeCacheStore{tokens: map[string]*AccessToken{}}
}

func (f *fakeCacheStore) FindAccessToken(
	_ context.Context,
	id string,
) (*AccessToken, error) {
	f.findCalls++
	tok, ok := f.tokens[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return tok, nil
}

func (f *fakeCacheStore) DeleteExpired(_ context.Context) ([]string, error) {
	return f.expiredIDs, nil
}

func newTestCache(t *testing.T, store cacheStore) *Cache {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close() //nolint:errcheck // test teardown
	})

	return NewCache(store, core.NewRedisKV(client), config.TokenCacheConfig{
		Enabled: true,
		Prefix:  "token:v1:",
	}, testLogger())
}

func TestFindTokenVerifiesSecret(t *testing.T) {
	store := newFakeCacheStore()
	store.tokens["tok-1"] = &AccessToken{
		ID:         "tok-1",
		UserID:     "user-1",
		SecretHash: core.HashToken("s3cret"),
	}
	cache := newTestCache(t, store)

	tok, err := cache.FindToken(context.Background(), "tok-1|s3cret")
	require.NoError(t, err)
	assert.Equal(t, "user-1", tok.UserID)

	_, err = cache.FindToken(context.Background(), "tok-1|wrong")
	assert.ErrorIs(t, err, core.ErrTokenInvalid)

	_, err = cache.FindToken(context.Background(), "no-separator")
	assert.ErrorIs(t, err, core.ErrTokenInvalid)
}

func TestFindTokenSecretMismatchDoesNotPoisonCache(t *testing.T) {
	store := newFakeCacheStore()
	store.tokens["tok-1"] = &AccessToken{
		ID:         "tok-1",
		SecretHash: core.HashToken("s3cret"),
	}
	cache := newTestCache(t, store)

	_, err := cache.FindToken(context.Background(), "tok-1|wrong")
	require.ErrorIs(t, err, core.ErrTokenInvalid)

	// A bad guess against a real token must not block the real client.
	tok, err := cache.FindToken(context.Background(), "tok-1|s3cret")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.ID)
}

func TestGetByIDPopulatesOnMiss(t *testing.T) {
	store := newFakeCacheStore()
	store.tokens["tok-1"] = &AccessToken{ID: "tok-1", UserID: "user-1"}
	cache := newTestCache(t, store)

	for range 3 {
		tok, err := cache.GetByID(context.Background(), "tok-1")
		require.NoError(t, err)
		assert.Equal(t, "user-1", tok.UserID)
	}

	assert.Equal(t, 1, store.findCalls)
}

func TestGetByIDCachesNegativeResult(t *testing.T) {
	store := newFakeCacheStore()
	cache := newTestCache(t, store)

	for range 3 {
		_, err := cache.GetByID(context.Background(), "ghost")
		assert.ErrorIs(t, err, core.ErrNotFound)
	}

	assert.Equal(t, 1, store.findCalls)
}

func TestInvalidateForcesReload(t *testing.T) {
	store := newFakeCacheStore()
	store.tokens["tok-1"] = &AccessToken{ID: "tok-1"}
	cache := newTestCache(t, store)

	_, err := cache.GetByID(context.Background(), "tok-1")
	require.NoError(t, err)

	require.NoError(t, cache.Invalidate(context.Background(), "tok-1"))

	store.tokens["tok-1"].Revoked = true
	tok, err := cache.GetByID(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.True(t, tok.Revoked)
	assert.Equal(t, 2, store.findCalls)
}

func TestStoreTokenWritesThrough(t *testing.T) {
	store := newFakeCacheStore()
	cache := newTestCache(t, store)

	err := cache.StoreToken(context.Background(), &AccessToken{
		ID:     "tok-1",
		UserID: "user-1",
	})
	require.NoError(t, err)

	// Served from cache: the store never sees the read.
	tok, err := cache.GetByID(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", tok.UserID)
	assert.Equal(t, 0, store.findCalls)
}

func TestPruneExpiredDropsCacheEntries(t *testing.T) {
	store := newFakeCacheStore()
	store.tokens["tok-1"] = &AccessToken{ID: "tok-1"}
	cache := newTestCache(t, store)

	_, err := cache.GetByID(context.Background(), "tok-1")
	require.NoError(t, err)

	store.expiredIDs = []string{"tok-1"}
	delete(store.tokens, "tok-1")

	pruned, err := cache.PruneExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-1"}, pruned)

	_, err = cache.GetByID(context.Background(), "tok-1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, 2, store.findCalls)
}

func TestCacheDisabledPassesThrough(t *testing.T) {
	store := newFakeCacheStore()
	store.tokens["tok-1"] = &AccessToken{ID: "tok-1"}

	cache := NewCache(store, nil, config.TokenCacheConfig{Enabled: false},
		testLogger())

	for range 2 {
		_, err := cache.GetByID(context.Background(), "tok-1")
		require.NoError(t, err)
	}

	assert.Equal(t, 2, store.findCalls)
}
