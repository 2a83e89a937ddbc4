// AngelaMos | 2026
// engine.go

package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/soundvault/auth-backend/internal/config"
)

const (
	GrantPreAuthenticated = "pre_authenticated"
	GrantRefreshToken     = "refresh_token"
)

// ErrGrantRejected means the authorization engine refused the grant
// request with a non-2xx response.
var ErrGrantRejected = errors.New("authorization engine rejected grant")

// GrantRequest is the protocol-level grant sent to the authorization
// engine. Exactly one of UserID (pre-authenticated) or RefreshToken
// (refresh) is set, depending on GrantType.
type GrantRequest struct {
	GrantType    string
	UserID       string
	RefreshToken string
	Scope        string
}

// GrantResponse is the engine's token payload. AccessToken is a signed
// dot-delimited structure; RefreshToken, when present, is opaque.
type GrantResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// AuthorizationEngine mints token sets. The engine itself (key material,
// grant validation, token signing) lives outside this service.
type AuthorizationEngine interface {
	Issue(ctx context.Context, grant GrantRequest) (*GrantResponse, error)
}

// InProcessEngine drives an engine mounted as an http.Handler in the same
// process through a synthetic request/response pair, avoiding a loopback
// network hop.
type InProcessEngine struct {
	handler http.Handler
	cfg     config.OAuthConfig
}

func NewInProcessEngine(
	handler http.Handler,
	cfg config.OAuthConfig,
) *InProcessEngine {
	return &InProcessEngine{handler: handler, cfg: cfg}
}

func (e *InProcessEngine) Issue(
	ctx context.Context,
	grant GrantRequest,
) (*GrantResponse, error) {
	if e.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RequestTimeout)
		defer cancel()
	}

	form := url.Values{
		"grant_type":    {grant.GrantType},
		"client_id":     {e.cfg.ClientID},
		"client_secret": {e.cfg.ClientSecret},
		"scope":         {grant.Scope},
	}
	switch grant.GrantType {
	case GrantPreAuthenticated:
		form.Set("user_id", grant.UserID)
	case GrantRefreshToken:
		form.Set("refresh_token", grant.RefreshToken)
	default:
		return nil, fmt.Errorf("unsupported grant type %q", grant.GrantType)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		"/oauth/token",
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("build grant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	rec := &responseBuffer{status: http.StatusOK, header: http.Header{}}
	e.handler.ServeHTTP(rec, req)

	if rec.status < 200 || rec.status >= 300 {
		return nil, fmt.Errorf(
			"%w: status %d",
			ErrGrantRejected, rec.status,
		)
	}

	var resp GrantResponse
	if err := json.Unmarshal(rec.body.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode grant response: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access_token", ErrGrantRejected)
	}

	return &resp, nil
}

// responseBuffer captures the engine's response without a socket.
type responseBuffer struct {
	status int
	header http.Header
	body   bytes.Buffer
}

func (r *responseBuffer) Header() http.Header {
	return r.header
}

func (r *responseBuffer) Write(p []byte) (int, error) {
	return r.body.Write(p)
}

func (r *responseBuffer) WriteHeader(status int) {
	r.status = status
}
