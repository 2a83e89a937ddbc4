// AngelaMos | 2026
// entity.go

package token

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ScopeList is stored as a JSONB column.
type ScopeList []string

func (s ScopeList) Value() (driver.Value, error) {
	if s == nil {
		s = ScopeList{}
	}
	return json.Marshal(s)
}

func (s *ScopeList) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	case nil:
		*s = nil
		return nil
	default:
		return fmt.Errorf("scan scope list: unsupported type %T", src)
	}
}

// AccessToken is the server-side record of an issued access token, keyed by
// the token's jti. Rows are written by the authorization engine at issuance
// and are never deleted while live, only marked revoked or pruned after
// expiry.
type AccessToken struct {
	ID              string     `db:"id"`
	UserID          string     `db:"user_id"`
	Abilities       ScopeList  `db:"abilities"`
	SecretHash      string     `db:"secret_hash"`
	ChainID         *string    `db:"chain_id"`
	Revoked         bool       `db:"revoked"`
	LastRefreshedAt *time.Time `db:"last_refreshed_at"`
	CreatedAt       time.Time  `db:"created_at"`
	ExpiresAt       *time.Time `db:"expires_at"`
}

func (t *AccessToken) IsExpired() bool {
	return t.ExpiresAt != nil && time.Now().After(*t.ExpiresAt)
}

func (t *AccessToken) IsValid() bool {
	return !t.Revoked && !t.IsExpired()
}

// RefreshToken is single-use: once UsedAt is set, any further presentation
// is a reuse event and the whole chain is revoked.
type RefreshToken struct {
	ID         string     `db:"id"`
	UserID     string     `db:"user_id"`
	ChainID    *string    `db:"chain_id"`
	PreviousID *string    `db:"previous_refresh_token_id"`
	UsedAt     *time.Time `db:"used_at"`
	Revoked    bool       `db:"revoked"`
	CreatedAt  time.Time  `db:"created_at"`
	ExpiresAt  *time.Time `db:"expires_at"`
}

func (t *RefreshToken) WasUsed() bool {
	return t.UsedAt != nil
}

func (t *RefreshToken) IsExpired() bool {
	return t.ExpiresAt != nil && time.Now().After(*t.ExpiresAt)
}
