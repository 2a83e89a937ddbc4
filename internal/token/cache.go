// AngelaMos | 2026
// cache.go

package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/soundvault/auth-backend/internal/config"
	"github.com/soundvault/auth-backend/internal/core"
)

type cacheStore interface {
	FindAccessToken(ctx context.Context, id string) (*AccessToken, error)
	DeleteExpired(ctx context.Context) ([]string, error)
}

// cachedEntry is the projection stored in the KV layer. Miss marks a token
// id that does not exist, so repeated probes for unknown ids stay cheap.
type cachedEntry struct {
	Token *AccessToken `json:"token,omitempty"`
	Miss  bool         `json:"miss,omitempty"`
}

// Cache is a write-through cache over the access-token store. It is never
// a source of truth: every entry is re-derivable from the store, and every
// mutation of the underlying row must invalidate or overwrite the entry.
type Cache struct {
	store  cacheStore
	kv     core.KV
	cfg    config.TokenCacheConfig
	logger *slog.Logger
}

func NewCache(
	store cacheStore,
	kv core.KV,
	cfg config.TokenCacheConfig,
	logger *slog.Logger,
) *Cache {
	return &Cache{
		store:  store,
		kv:     kv,
		cfg:    cfg,
		logger: logger,
	}
}

// FindToken resolves a presented "id|secret" credential. The secret is
// verified with a constant-time comparison against the stored hash on every
// call, cached or not.
func (c *Cache) FindToken(
	ctx context.Context,
	presented string,
) (*AccessToken, error) {
	id, secret, found := strings.Cut(presented, "|")
	if !found || id == "" || secret == "" {
		return nil, fmt.Errorf("find token: %w", core.ErrTokenInvalid)
	}

	tok, err := c.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !core.CompareTokenHash(tok.SecretHash, secret) {
		return nil, fmt.Errorf("find token: secret mismatch: %w", core.ErrTokenInvalid)
	}

	return tok, nil
}

// GetByID performs a get-or-populate read by token identifier. Two
// concurrent misses may both load and write; the overwrite is idempotent,
// so no locking is needed here.
func (c *Cache) GetByID(ctx context.Context, id string) (*AccessToken, error) {
	if !c.cfg.Enabled {
		return c.store.FindAccessToken(ctx, id)
	}

	key := c.key(id)

	if raw, err := c.kv.Get(ctx, key); err == nil {
		var entry cachedEntry
		if jsonErr := json.Unmarshal(raw, &entry); jsonErr == nil {
			if entry.Miss {
				return nil, fmt.Errorf("get token %s: %w", id, core.ErrNotFound)
			}
			if entry.Token != nil {
				return entry.Token, nil
			}
		}
	} else if !errors.Is(err, core.ErrKVMiss) {
		c.logger.Warn("token cache read failed", "token_id", id, "error", err)
	}

	tok, err := c.store.FindAccessToken(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		c.put(ctx, key, cachedEntry{Miss: true})
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	c.put(ctx, key, cachedEntry{Token: tok})
	return tok, nil
}

// StoreToken writes through on token creation or update.
func (c *Cache) StoreToken(ctx context.Context, tok *AccessToken) error {
	if !c.cfg.Enabled {
		return nil
	}

	raw, err := json.Marshal(cachedEntry{Token: tok})
	if err != nil {
		return fmt.Errorf("encode cached token: %w", err)
	}

	return c.kv.Put(ctx, c.key(tok.ID), raw, c.cfg.TTL)
}

// Invalidate removes cache entries after the underlying rows changed.
func (c *Cache) Invalidate(ctx context.Context, ids ...string) error {
	if !c.cfg.Enabled || len(ids) == 0 {
		return nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}

	return c.kv.Delete(ctx, keys...)
}

// PruneExpired deletes expired token rows and drops their cache entries.
// The pruned ids are returned so dependent state keyed by token id can be
// purged alongside.
func (c *Cache) PruneExpired(ctx context.Context) ([]string, error) {
	ids, err := c.store.DeleteExpired(ctx)
	if err != nil {
		return nil, fmt.Errorf("prune expired tokens: %w", err)
	}

	if err := c.Invalidate(ctx, ids...); err != nil {
		c.logger.Warn("failed to invalidate pruned tokens", "error", err)
	}

	return ids, nil
}

func (c *Cache) put(ctx context.Context, key string, entry cachedEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.kv.Put(ctx, key, raw, c.cfg.TTL); err != nil {
		c.logger.Warn("token cache write failed", "key", key, "error", err)
	}
}

func (c *Cache) key(id string) string {
	return c.cfg.Prefix + id
}
