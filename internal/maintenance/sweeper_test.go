// AngelaMos | 2026
// sweeper_test.go

package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakePruner struct {
	ids []string
	err error
}

func (f *fakePruner) PruneExpired(_ context.Context) ([]string, error) {
	return f.ids, f.err
}

type fakePurger struct {
	deleted [][]string
}

func (f *fakePurger) DeleteByTokenIDs(
	_ context.Context,
	tokenIDs []string,
) error {
	f.deleted = append(f.deleted, tokenIDs)
	return nil
}

type fakeTrimmer struct {
	cleared []string
	trimmed int
}

func (f *fakeTrimmer) Clear(_ context.Context, tokenIDs ...string) error {
	f.cleared = append(f.cleared, tokenIDs...)
	return nil
}

func (f *fakeTrimmer) CleanupExpired(_ context.Context) (int, error) {
	return f.trimmed, nil
}

func TestSweepPurgesBindingMetadataForPrunedTokens(t *testing.T) {
	pruner := &fakePruner{ids: []string{"tok-1", "tok-2"}}
	purger := &fakePurger{}
	trimmer := &fakeTrimmer{trimmed: 3}

	sweeper := NewSweeper(pruner, purger, trimmer, slog.New(slog.DiscardHandler))
	sweeper.Sweep(context.Background())

	assert.Equal(t, [][]string{{"tok-1", "tok-2"}}, purger.deleted,
		"every pruned token id loses its metadata row in the same pass")
	assert.Equal(t, []string{"tok-1", "tok-2"}, trimmer.cleared)
}

func TestSweepSkipsPurgeWhenNothingPruned(t *testing.T) {
	pruner := &fakePruner{}
	purger := &fakePurger{}
	trimmer := &fakeTrimmer{}

	sweeper := NewSweeper(pruner, purger, trimmer, slog.New(slog.DiscardHandler))
	sweeper.Sweep(context.Background())

	assert.Empty(t, purger.deleted)
	assert.Empty(t, trimmer.cleared)
}

func TestSweepContinuesPastPruneError(t *testing.T) {
	pruner := &fakePruner{err: errors.New("db down")}
	purger := &fakePurger{}
	trimmer := &fakeTrimmer{trimmed: 1}

	sweeper := NewSweeper(pruner, purger, trimmer, slog.New(slog.DiscardHandler))
	sweeper.Sweep(context.Background())

	assert.Empty(t, purger.deleted)
}
