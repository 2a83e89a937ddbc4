// AngelaMos | 2026
// repository.go

package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/soundvault/auth-backend/internal/core"
)

type LinkChainParams struct {
	AccessTokenID     string
	RefreshTokenID    string
	ChainID           string
	PreviousRefreshID *string
}

type Repository interface {
	FindAccessToken(ctx context.Context, id string) (*AccessToken, error)
	FindRefreshToken(ctx context.Context, id string) (*RefreshToken, error)
	TouchLastRefreshed(ctx context.Context, accessTokenID string) error
	SetSecretHash(ctx context.Context, accessTokenID, secretHash string) error
	LinkChain(ctx context.Context, params LinkChainParams) error
	RevokeChain(ctx context.Context, chainID string) ([]string, error)
	RevokeAllForUser(ctx context.Context, userID string) ([]string, error)
	RevokeToken(ctx context.Context, id string) error
	ListActiveForUser(ctx context.Context, userID string) ([]*AccessToken, error)
	DeleteExpired(ctx context.Context) ([]string, error)
}

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindAccessToken(
	ctx context.Context,
	id string,
) (*AccessToken, error) {
	query := `
		SELECT
			id, user_id, abilities, secret_hash, chain_id, revoked,
			last_refreshed_at, created_at, expires_at
		FROM access_tokens
		WHERE id = $1`

	var token AccessToken
	err := r.db.GetContext(ctx, &token, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find access token: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find access token: %w", err)
	}

	return &token, nil
}

func (r *repository) FindRefreshToken(
	ctx context.Context,
	id string,
) (*RefreshToken, error) {
	query := `
		SELECT
			id, user_id, chain_id, previous_refresh_token_id, used_at,
			revoked, created_at, expires_at
		FROM refresh_tokens
		WHERE id = $1`

	var token RefreshToken
	err := r.db.GetContext(ctx, &token, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find refresh token: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w", err)
	}

	return &token, nil
}

func (r *repository) TouchLastRefreshed(
	ctx context.Context,
	accessTokenID string,
) error {
	query := `
		UPDATE access_tokens
		SET last_refreshed_at = NOW()
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, accessTokenID); err != nil {
		return fmt.Errorf("touch last refreshed: %w", err)
	}

	return nil
}

func (r *repository) SetSecretHash(
	ctx context.Context,
	accessTokenID, secretHash string,
) error {
	query := `
		UPDATE access_tokens
		SET secret_hash = $2
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, accessTokenID, secretHash)
	if err != nil {
		return fmt.Errorf("set secret hash: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set secret hash: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("set secret hash: %w", core.ErrNotFound)
	}

	return nil
}

// LinkChain performs the three chain-linking writes in one transaction.
// A partially linked chain silently breaks reuse detection, so either all
// rows change or none do.
func (r *repository) LinkChain(
	ctx context.Context,
	params LinkChainParams,
) error {
	return core.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE access_tokens
			SET chain_id = $2
			WHERE id = $1`,
			params.AccessTokenID, params.ChainID,
		)
		if err != nil {
			return fmt.Errorf("link access token: %w", err)
		}
		if err := requireRow(result, "access token"); err != nil {
			return err
		}

		result, err = tx.ExecContext(ctx, `
			UPDATE refresh_tokens
			SET chain_id = $2, previous_refresh_token_id = $3
			WHERE id = $1`,
			params.RefreshTokenID, params.ChainID, params.PreviousRefreshID,
		)
		if err != nil {
			return fmt.Errorf("link refresh token: %w", err)
		}
		if err := requireRow(result, "refresh token"); err != nil {
			return err
		}

		if params.PreviousRefreshID != nil {
			_, err = tx.ExecContext(ctx, `
				UPDATE refresh_tokens
				SET used_at = NOW()
				WHERE id = $1`,
				*params.PreviousRefreshID,
			)
			if err != nil {
				return fmt.Errorf("mark previous refresh token used: %w", err)
			}
		}

		return nil
	})
}

func (r *repository) RevokeChain(
	ctx context.Context,
	chainID string,
) ([]string, error) {
	var accessIDs []string

	err := core.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &accessIDs, `
			UPDATE access_tokens
			SET revoked = true
			WHERE chain_id = $1
			RETURNING id`,
			chainID,
		); err != nil {
			return fmt.Errorf("revoke chain access tokens: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE refresh_tokens
			SET revoked = true
			WHERE chain_id = $1`,
			chainID,
		); err != nil {
			return fmt.Errorf("revoke chain refresh tokens: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return accessIDs, nil
}

func (r *repository) RevokeAllForUser(
	ctx context.Context,
	userID string,
) ([]string, error) {
	var accessIDs []string

	err := core.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &accessIDs, `
			UPDATE access_tokens
			SET revoked = true
			WHERE user_id = $1
			RETURNING id`,
			userID,
		); err != nil {
			return fmt.Errorf("revoke user access tokens: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE refresh_tokens
			SET revoked = true
			WHERE user_id = $1`,
			userID,
		); err != nil {
			return fmt.Errorf("revoke user refresh tokens: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return accessIDs, nil
}

func (r *repository) RevokeToken(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE access_tokens
		SET revoked = true
		WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("revoke token: %w", core.ErrNotFound)
	}

	return nil
}

func (r *repository) ListActiveForUser(
	ctx context.Context,
	userID string,
) ([]*AccessToken, error) {
	query := `
		SELECT
			id, user_id, abilities, secret_hash, chain_id, revoked,
			last_refreshed_at, created_at, expires_at
		FROM access_tokens
		WHERE user_id = $1
		  AND revoked = false
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at DESC`

	var tokens []*AccessToken
	if err := r.db.SelectContext(ctx, &tokens, query, userID); err != nil {
		return nil, fmt.Errorf("list active tokens: %w", err)
	}

	return tokens, nil
}

func (r *repository) DeleteExpired(ctx context.Context) ([]string, error) {
	var accessIDs []string

	err := core.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &accessIDs, `
			DELETE FROM access_tokens
			WHERE expires_at IS NOT NULL AND expires_at < $1
			RETURNING id`,
			time.Now(),
		); err != nil {
			return fmt.Errorf("delete expired access tokens: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM refresh_tokens
			WHERE expires_at IS NOT NULL AND expires_at < $1`,
			time.Now(),
		); err != nil {
			return fmt.Errorf("delete expired refresh tokens: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return accessIDs, nil
}

func requireRow(result sql.Result, entity string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("link %s: %w", entity, err)
	}
	if rows == 0 {
		return fmt.Errorf("link %s: %w", entity, core.ErrNotFound)
	}
	return nil
}
