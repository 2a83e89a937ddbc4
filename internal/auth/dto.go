// AngelaMos | 2026
// dto.go

package auth

import (
	"time"
)

type CreateTokenRequest struct {
	UserID string   `json:"user_id" validate:"required,max=64"`
	Scopes []string `json:"scopes"  validate:"dive,max=64"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	OpaqueToken  string `json:"opaque_token,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type SessionInfo struct {
	ID              string     `json:"id"`
	IPAddress       string     `json:"ip_address"`
	Country         string     `json:"country,omitempty"`
	City            string     `json:"city,omitempty"`
	UserAgent       string     `json:"user_agent"`
	CreatedAt       time.Time  `json:"created_at"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`
	Current         bool       `json:"current"`
}

type SessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

func newTokenResponse(set *TokenSet) TokenResponse {
	return TokenResponse{
		AccessToken:  set.AccessToken,
		RefreshToken: set.RefreshToken,
		OpaqueToken:  set.OpaqueToken,
		SessionID:    set.SessionID,
		TokenType:    set.TokenType,
		ExpiresIn:    set.ExpiresIn,
	}
}

func newSessionInfo(session Session) SessionInfo {
	return SessionInfo{
		ID:              session.TokenID,
		IPAddress:       session.IPAddress,
		Country:         session.Country,
		City:            session.City,
		UserAgent:       session.UserAgent,
		CreatedAt:       session.CreatedAt,
		LastRefreshedAt: session.LastRefreshedAt,
		Current:         session.Current,
	}
}
