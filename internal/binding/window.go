// AngelaMos | 2026
// window.go

package binding

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	windowKeyPrefix    = "binding:ipwin:"
	userAgentKeyPrefix = "binding:ipua:"
)

// Window tracks which IPs presented a token within the concurrency window.
// Entries live in a sorted set with the last-seen unix timestamp as score,
// so trimming and counting are single server-side mutations rather than a
// read-filter-write cycle that races under concurrent requests.
type Window struct {
	client *redis.Client
	window time.Duration
}

func NewWindow(client *redis.Client, window time.Duration) *Window {
	return &Window{client: client, window: window}
}

// OtherActiveIPs returns the distinct IPs other than currentIP seen inside
// the window, trimming stale entries first.
func (w *Window) OtherActiveIPs(
	ctx context.Context,
	tokenID, currentIP string,
) ([]string, error) {
	key := windowKeyPrefix + tokenID
	cutoff := time.Now().Add(-w.window).UnixMilli()

	pipe := w.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	members := pipe.ZRange(ctx, key, 0, -1)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read ip window %s: %w", tokenID, err)
	}

	ips := make([]string, 0, len(members.Val()))
	for _, ip := range members.Val() {
		if ip != currentIP {
			ips = append(ips, ip)
		}
	}

	return ips, nil
}

// Track records the current IP and user agent for the token with a TTL
// equal to the concurrency window.
func (w *Window) Track(
	ctx context.Context,
	tokenID, ip, userAgent string,
) error {
	key := windowKeyPrefix + tokenID
	uaKey := userAgentKeyPrefix + tokenID
	now := time.Now()

	pipe := w.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: ip,
	})
	pipe.HSet(ctx, uaKey, ip, userAgent)
	pipe.Expire(ctx, key, w.window)
	pipe.Expire(ctx, uaKey, w.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("track ip usage %s: %w", tokenID, err)
	}

	return nil
}

// Clear removes tracking state for the given tokens, typically after a
// mass revocation.
func (w *Window) Clear(ctx context.Context, tokenIDs ...string) error {
	if len(tokenIDs) == 0 {
		return nil
	}

	keys := make([]string, 0, len(tokenIDs)*2)
	for _, id := range tokenIDs {
		keys = append(keys, windowKeyPrefix+id, userAgentKeyPrefix+id)
	}

	if err := w.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clear ip windows: %w", err)
	}

	return nil
}

// CleanupExpired trims every tracked window and drops keys that emptied
// out. TTLs already bound staleness; this is periodic housekeeping for
// tokens that stopped being presented mid-window.
func (w *Window) CleanupExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-w.window).UnixMilli()
	cleaned := 0

	var cursor uint64
	for {
		keys, next, err := w.client.Scan(
			ctx,
			cursor,
			windowKeyPrefix+"*",
			100,
		).Result()
		if err != nil {
			return cleaned, fmt.Errorf("scan ip windows: %w", err)
		}

		for _, key := range keys {
			if err := w.client.ZRemRangeByScore(
				ctx,
				key,
				"-inf",
				strconv.FormatInt(cutoff, 10),
			).Err(); err != nil {
				continue
			}

			card, err := w.client.ZCard(ctx, key).Result()
			if err != nil || card > 0 {
				continue
			}

			tokenID := key[len(windowKeyPrefix):]
			if err := w.client.Del(
				ctx,
				key,
				userAgentKeyPrefix+tokenID,
			).Err(); err == nil {
				cleaned++
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return cleaned, nil
}

// TrackedTokens reports how many tokens currently have window state.
func (w *Window) TrackedTokens(ctx context.Context) (int, error) {
	count := 0

	var cursor uint64
	for {
		keys, next, err := w.client.Scan(
			ctx,
			cursor,
			windowKeyPrefix+"*",
			100,
		).Result()
		if err != nil {
			return 0, fmt.Errorf("scan ip windows: %w", err)
		}

		count += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return count, nil
}
