// AngelaMos | 2026
// chain.go

package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/soundvault/auth-backend/internal/core"
)

var (
	// ErrTokenReuse is the canonical theft-via-replay signal: a refresh
	// token presented a second time.
	ErrTokenReuse = errors.New("refresh token reuse detected")

	// ErrChainLink indicates chain linking could not be completed; no
	// partial writes survive it.
	ErrChainLink = errors.New("failed to link token chain")
)

type chainStore interface {
	FindRefreshToken(ctx context.Context, id string) (*RefreshToken, error)
	LinkChain(ctx context.Context, params LinkChainParams) error
	RevokeChain(ctx context.Context, chainID string) ([]string, error)
}

type invalidator interface {
	Invalidate(ctx context.Context, ids ...string) error
}

// Ledger maintains chain integrity across refresh-token rotation and
// punishes reuse by revoking the entire lineage.
type Ledger struct {
	store  chainStore
	cache  invalidator
	logger *slog.Logger
}

func NewLedger(store chainStore, cache invalidator, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// LinkTokens links an access/refresh pair into a chain. With a previous
// refresh token id the pair inherits that token's chain and the previous
// token is stamped used; without one a fresh chain id is minted.
func (l *Ledger) LinkTokens(
	ctx context.Context,
	accessTokenID, refreshTokenID string,
	previousRefreshID *string,
) error {
	chainID, err := l.chainIDFor(ctx, previousRefreshID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrChainLink, err)
	}

	err = l.store.LinkChain(ctx, LinkChainParams{
		AccessTokenID:     accessTokenID,
		RefreshTokenID:    refreshTokenID,
		ChainID:           chainID,
		PreviousRefreshID: previousRefreshID,
	})
	if err != nil {
		l.logger.Error("failed to link tokens in chain",
			"access_token_id", accessTokenID,
			"refresh_token_id", refreshTokenID,
			"chain_id", chainID,
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrChainLink, err)
	}

	return nil
}

// ValidateRefreshToken enforces the single-use invariant. Reuse revokes
// every token in the chain before the error surfaces; that revocation
// runs on a non-cancelable context because a half-revoked chain is worse
// than a slow response.
func (l *Ledger) ValidateRefreshToken(
	ctx context.Context,
	refreshToken *RefreshToken,
) error {
	if refreshToken.WasUsed() {
		l.logger.Warn("refresh token reuse detected, revoking chain",
			"refresh_token_id", refreshToken.ID,
			"chain_id", derefOr(refreshToken.ChainID, ""),
			"used_at", refreshToken.UsedAt,
		)

		if refreshToken.ChainID != nil {
			if err := l.RevokeChain(
				context.WithoutCancel(ctx),
				*refreshToken.ChainID,
			); err != nil {
				l.logger.Error("chain revocation after reuse failed",
					"chain_id", *refreshToken.ChainID,
					"error", err,
				)
			}
		}

		return ErrTokenReuse
	}

	if refreshToken.Revoked {
		return core.ErrTokenRevoked
	}

	return nil
}

// RevokeChain marks every access and refresh token in the chain revoked.
// Idempotent: re-running on an already revoked chain is a no-op.
func (l *Ledger) RevokeChain(ctx context.Context, chainID string) error {
	accessIDs, err := l.store.RevokeChain(ctx, chainID)
	if err != nil {
		return fmt.Errorf("revoke chain %s: %w", chainID, err)
	}

	if l.cache != nil {
		if err := l.cache.Invalidate(ctx, accessIDs...); err != nil {
			l.logger.Warn("failed to invalidate revoked chain tokens",
				"chain_id", chainID,
				"error", err,
			)
		}
	}

	l.logger.Info("token chain revoked",
		"chain_id", chainID,
		"access_tokens", len(accessIDs),
	)

	return nil
}

func (l *Ledger) chainIDFor(
	ctx context.Context,
	previousRefreshID *string,
) (string, error) {
	if previousRefreshID != nil {
		previous, err := l.store.FindRefreshToken(ctx, *previousRefreshID)
		if err == nil && previous.ChainID != nil {
			return *previous.ChainID, nil
		}
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return "", err
		}
	}

	return uuid.New().String(), nil
}

func derefOr(s *string, fallback string) string {
	if s != nil {
		return *s
	}
	return fallback
}
