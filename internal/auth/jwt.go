// AngelaMos | 2026
// jwt.go

package auth

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/soundvault/auth-backend/internal/config"
	"github.com/soundvault/auth-backend/internal/core"
	"github.com/soundvault/auth-backend/internal/middleware"
)

// Verifier checks access-token signatures against the authorization
// engine's public key. This service never signs; only the engine holds
// the private key.
type Verifier struct {
	publicKey jwk.Key
	algorithm jwa.SignatureAlgorithm
	config    config.JWTConfig
}

func NewVerifier(cfg config.JWTConfig) (*Verifier, error) {
	publicKeyPEM, err := os.ReadFile(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}

	publicKey, err := jwk.ParseKey(publicKeyPEM, jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	return NewVerifierWithKey(publicKey, cfg)
}

func NewVerifierWithKey(
	publicKey jwk.Key,
	cfg config.JWTConfig,
) (*Verifier, error) {
	algorithm, err := algorithmFor(publicKey)
	if err != nil {
		return nil, err
	}

	return &Verifier{
		publicKey: publicKey,
		algorithm: algorithm,
		config:    cfg,
	}, nil
}

func algorithmFor(key jwk.Key) (jwa.SignatureAlgorithm, error) {
	switch key.KeyType() {
	case jwa.EC():
		return jwa.ES256(), nil
	case jwa.RSA():
		return jwa.RS256(), nil
	default:
		return jwa.SignatureAlgorithm{}, fmt.Errorf(
			"unsupported key type %s", key.KeyType(),
		)
	}
}

func (v *Verifier) VerifyAccessToken(
	ctx context.Context,
	tokenString string,
) (*middleware.AccessTokenClaims, error) {
	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKey(v.algorithm, v.publicKey),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.config.Issuer),
		jwt.WithAudience(v.config.Audience),
	)
	if err != nil {
		if isTokenExpiredError(err) {
			return nil, fmt.Errorf("verify token: %w", core.ErrTokenExpired)
		}
		return nil, fmt.Errorf("verify token: %w", core.ErrTokenInvalid)
	}

	tokenID, ok := token.JwtID()
	if !ok || tokenID == "" {
		return nil, fmt.Errorf(
			"verify token: missing jti: %w",
			core.ErrTokenInvalid,
		)
	}

	subject, ok := token.Subject()
	if !ok || subject == "" {
		return nil, fmt.Errorf(
			"verify token: missing subject: %w",
			core.ErrTokenInvalid,
		)
	}

	var scopes []string
	var rawScopes []any
	//nolint:errcheck // scopes claim is optional
	_ = token.Get("scopes", &rawScopes)
	for _, scope := range rawScopes {
		if s, isString := scope.(string); isString {
			scopes = append(scopes, s)
		}
	}

	return &middleware.AccessTokenClaims{
		TokenID: tokenID,
		UserID:  subject,
		Scopes:  scopes,
	}, nil
}

func isTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "exp") &&
		strings.Contains(errStr, "not satisfied")
}
