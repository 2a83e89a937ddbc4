// AngelaMos | 2026
// sweeper.go

package maintenance

import (
	"context"
	"log/slog"
	"time"
)

type tokenPruner interface {
	PruneExpired(ctx context.Context) ([]string, error)
}

type metadataPurger interface {
	DeleteByTokenIDs(ctx context.Context, tokenIDs []string) error
}

type windowTrimmer interface {
	Clear(ctx context.Context, tokenIDs ...string) error
	CleanupExpired(ctx context.Context) (int, error)
}

// Sweeper runs the periodic cleanup pass. Binding metadata rows are 1:1
// with access tokens and have no database-level cascade, so every pruned
// token id must be purged from the metadata table and the tracking window
// in the same pass.
type Sweeper struct {
	tokens   tokenPruner
	metadata metadataPurger
	window   windowTrimmer
	logger   *slog.Logger
}

func NewSweeper(
	tokens tokenPruner,
	metadata metadataPurger,
	window windowTrimmer,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		tokens:   tokens,
		metadata: metadata,
		window:   window,
		logger:   logger,
	}
}

// Run sweeps on the given interval until the context is canceled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.Sweep(ctx)
	}
}

// Sweep performs one cleanup pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	pruned, err := s.tokens.PruneExpired(ctx)
	if err != nil {
		s.logger.Warn("token sweep failed", "error", err)
	}

	if len(pruned) > 0 {
		if err := s.metadata.DeleteByTokenIDs(ctx, pruned); err != nil {
			s.logger.Warn("binding metadata sweep failed", "error", err)
		}
		if err := s.window.Clear(ctx, pruned...); err != nil {
			s.logger.Warn("window clear failed", "error", err)
		}
	}

	trimmed, err := s.window.CleanupExpired(ctx)
	if err != nil {
		s.logger.Warn("window sweep failed", "error", err)
	}

	if len(pruned) > 0 || trimmed > 0 {
		s.logger.Info("maintenance sweep completed",
			"tokens_pruned", len(pruned),
			"windows_trimmed", trimmed,
		)
	}
}
