// AngelaMos | 2026
// window_test.go

package binding

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWindow(t *testing.T, span time.Duration) *Window {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close() //nolint:errcheck // test teardown
	})

	return NewWindow(client, span)
}

func TestWindowTracksOtherIPs(t *testing.T) {
	w := newTestWindow(t, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, w.Track(ctx, "tok-1", "1.1.1.1", "agent-a"))
	require.NoError(t, w.Track(ctx, "tok-1", "2.2.2.2", "agent-b"))

	others, err := w.OtherActiveIPs(ctx, "tok-1", "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, []string{"2.2.2.2"}, others)
}

func TestWindowSameIPNotCounted(t *testing.T) {
	w := newTestWindow(t, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, w.Track(ctx, "tok-1", "1.1.1.1", "agent-a"))
	require.NoError(t, w.Track(ctx, "tok-1", "1.1.1.1", "agent-a"))

	others, err := w.OtherActiveIPs(ctx, "tok-1", "1.1.1.1")
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestWindowIsolatesTokens(t *testing.T) {
	w := newTestWindow(t, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, w.Track(ctx, "tok-1", "1.1.1.1", "agent-a"))
	require.NoError(t, w.Track(ctx, "tok-2", "2.2.2.2", "agent-b"))

	others, err := w.OtherActiveIPs(ctx, "tok-1", "3.3.3.3")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.1.1"}, others)
}

func TestWindowTrimsStaleEntries(t *testing.T) {
	w := newTestWindow(t, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, w.Track(ctx, "tok-1", "1.1.1.1", "agent-a"))
	time.Sleep(40 * time.Millisecond)

	others, err := w.OtherActiveIPs(ctx, "tok-1", "2.2.2.2")
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestWindowClear(t *testing.T) {
	w := newTestWindow(t, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, w.Track(ctx, "tok-1", "1.1.1.1", "agent-a"))
	require.NoError(t, w.Track(ctx, "tok-2", "2.2.2.2", "agent-b"))

	require.NoError(t, w.Clear(ctx, "tok-1", "tok-2"))

	count, err := w.TrackedTokens(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestWindowCleanupExpired(t *testing.T) {
	w := newTestWindow(t, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, w.Track(ctx, "tok-1", "1.1.1.1", "agent-a"))
	require.NoError(t, w.Track(ctx, "tok-2", "2.2.2.2", "agent-b"))
	time.Sleep(40 * time.Millisecond)

	cleaned, err := w.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cleaned)

	count, err := w.TrackedTokens(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTrackedTokens(t *testing.T) {
	w := newTestWindow(t, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, w.Track(ctx, "tok-1", "1.1.1.1", "agent-a"))
	require.NoError(t, w.Track(ctx, "tok-2", "2.2.2.2", "agent-b"))

	count, err := w.TrackedTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
