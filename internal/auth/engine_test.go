// AngelaMos | 2026
// engine_test.go

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundvault/auth-backend/internal/config"
)

func engineConfig() config.OAuthConfig {
	return config.OAuthConfig{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
	}
}

func TestInProcessEngineIssuesPreAuthenticatedGrant(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/oauth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())

		assert.Equal(t, GrantPreAuthenticated, r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret-1", r.PostForm.Get("client_secret"))
		assert.Equal(t, "user-1", r.PostForm.Get("user_id"))
		assert.Equal(t, "read write", r.PostForm.Get("scope"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(GrantResponse{
			AccessToken:  "header.payload.sig",
			RefreshToken: "opaque",
			TokenType:    "Bearer",
			ExpiresIn:    3600,
		})
	})

	engine := NewInProcessEngine(handler, engineConfig())

	resp, err := engine.Issue(context.Background(), GrantRequest{
		GrantType: GrantPreAuthenticated,
		UserID:    "user-1",
		Scope:     "read write",
	})
	require.NoError(t, err)

	assert.Equal(t, "header.payload.sig", resp.AccessToken)
	assert.Equal(t, "opaque", resp.RefreshToken)
	assert.EqualValues(t, 3600, resp.ExpiresIn)
}

func TestInProcessEngineSendsRefreshGrantForm(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, GrantRefreshToken, r.PostForm.Get("grant_type"))
		assert.Equal(t, "opaque-refresh", r.PostForm.Get("refresh_token"))
		assert.Empty(t, r.PostForm.Get("user_id"))

		_ = json.NewEncoder(w).Encode(GrantResponse{
			AccessToken: "header.payload.sig",
		})
	})

	engine := NewInProcessEngine(handler, engineConfig())

	_, err := engine.Issue(context.Background(), GrantRequest{
		GrantType:    GrantRefreshToken,
		RefreshToken: "opaque-refresh",
	})
	require.NoError(t, err)
}

func TestInProcessEngineRejectsNonSuccessStatus(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	})

	engine := NewInProcessEngine(handler, engineConfig())

	_, err := engine.Issue(context.Background(), GrantRequest{
		GrantType: GrantPreAuthenticated,
		UserID:    "user-1",
	})
	assert.ErrorIs(t, err, ErrGrantRejected)
}

func TestInProcessEngineRejectsEmptyAccessToken(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(GrantResponse{})
	})

	engine := NewInProcessEngine(handler, engineConfig())

	_, err := engine.Issue(context.Background(), GrantRequest{
		GrantType: GrantPreAuthenticated,
		UserID:    "user-1",
	})
	assert.ErrorIs(t, err, ErrGrantRejected)
}

func TestInProcessEngineUnsupportedGrantType(t *testing.T) {
	engine := NewInProcessEngine(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}),
		engineConfig(),
	)

	_, err := engine.Issue(context.Background(), GrantRequest{
		GrantType: "client_credentials",
	})
	require.Error(t, err)
}
