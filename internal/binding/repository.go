// AngelaMos | 2026
// repository.go

package binding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/soundvault/auth-backend/internal/core"
)

type IPUpdate struct {
	IPAddress   string
	History     IPHistory
	ChangeCount int
	CountryCode *string
	City        *string
}

type Repository interface {
	Create(ctx context.Context, meta *Metadata) error
	FindByTokenID(ctx context.Context, tokenID string) (*Metadata, error)
	UpdateIPData(ctx context.Context, tokenID string, update IPUpdate) error
	SetGeoNotifiedAt(ctx context.Context, tokenID string, at time.Time) error
	DeleteByTokenIDs(ctx context.Context, tokenIDs []string) error
}

type repository struct {
	db core.DBTX
}

func NewRepository(db core.DBTX) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, meta *Metadata) error {
	query := `
		INSERT INTO token_binding_metadata (
			token_id, client_fingerprint, session_id, ip_address,
			ip_history, ip_change_count, country_code, city, user_agent
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		RETURNING created_at, updated_at`

	row := r.db.QueryRowxContext(ctx, query,
		meta.TokenID,
		meta.ClientFingerprint,
		meta.SessionID,
		meta.IPAddress,
		meta.IPHistory,
		meta.IPChangeCount,
		meta.CountryCode,
		meta.City,
		meta.UserAgent,
	)
	if err := row.Scan(&meta.CreatedAt, &meta.UpdatedAt); err != nil {
		return fmt.Errorf("create binding metadata: %w", err)
	}

	return nil
}

func (r *repository) FindByTokenID(
	ctx context.Context,
	tokenID string,
) (*Metadata, error) {
	query := `
		SELECT
			token_id, client_fingerprint, session_id, ip_address,
			ip_history, ip_change_count, country_code, city,
			last_geo_notified_at, user_agent, created_at, updated_at
		FROM token_binding_metadata
		WHERE token_id = $1`

	var meta Metadata
	err := r.db.GetContext(ctx, &meta, query, tokenID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find binding metadata: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find binding metadata: %w", err)
	}

	return &meta, nil
}

func (r *repository) UpdateIPData(
	ctx context.Context,
	tokenID string,
	update IPUpdate,
) error {
	query := `
		UPDATE token_binding_metadata
		SET ip_address = $2,
			ip_history = $3,
			ip_change_count = $4,
			country_code = $5,
			city = $6,
			updated_at = NOW()
		WHERE token_id = $1`

	result, err := r.db.ExecContext(ctx, query,
		tokenID,
		update.IPAddress,
		update.History,
		update.ChangeCount,
		update.CountryCode,
		update.City,
	)
	if err != nil {
		return fmt.Errorf("update binding ip data: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update binding ip data: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update binding ip data: %w", core.ErrNotFound)
	}

	return nil
}

func (r *repository) SetGeoNotifiedAt(
	ctx context.Context,
	tokenID string,
	at time.Time,
) error {
	query := `
		UPDATE token_binding_metadata
		SET last_geo_notified_at = $2
		WHERE token_id = $1`

	if _, err := r.db.ExecContext(ctx, query, tokenID, at); err != nil {
		return fmt.Errorf("set geo notified at: %w", err)
	}

	return nil
}

func (r *repository) DeleteByTokenIDs(
	ctx context.Context,
	tokenIDs []string,
) error {
	if len(tokenIDs) == 0 {
		return nil
	}

	query := `
		DELETE FROM token_binding_metadata
		WHERE token_id = ANY($1)`

	if _, err := r.db.ExecContext(ctx, query, tokenIDs); err != nil {
		return fmt.Errorf("delete binding metadata: %w", err)
	}

	return nil
}
