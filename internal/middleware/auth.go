// AngelaMos | 2026
// auth.go

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/soundvault/auth-backend/internal/binding"
	"github.com/soundvault/auth-backend/internal/core"
	"github.com/soundvault/auth-backend/internal/token"
)

const (
	UserIDKey  contextKey = "user_id"
	TokenIDKey contextKey = "token_id"
	ScopesKey  contextKey = "token_scopes"
	ClaimsKey  contextKey = "jwt_claims"
)

// HeaderAuthAction tells the client what the failed check expects of it.
const HeaderAuthAction = "X-Auth-Action"

type TokenVerifier interface {
	VerifyAccessToken(
		ctx context.Context,
		token string,
	) (*AccessTokenClaims, error)
}

type AccessTokenClaims struct {
	TokenID string
	UserID  string
	Scopes  []string
}

type TokenLookup interface {
	GetByID(ctx context.Context, id string) (*token.AccessToken, error)
	FindToken(ctx context.Context, presented string) (*token.AccessToken, error)
}

type BindingValidator interface {
	Validate(
		ctx context.Context,
		tok *token.AccessToken,
		req core.RequestContext,
	) (binding.Outcome, error)
}

// Authenticator resolves the bearer credential, checks the token record's
// validity, and runs binding validation before the request reaches
// application logic. Two bearer forms are accepted: a signed access token
// verified by signature, and an opaque "id|secret" credential verified
// against the stored secret hash.
func Authenticator(
	verifier TokenVerifier,
	tokens TokenLookup,
	guard BindingValidator,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer := ExtractToken(r)
			if bearer == "" {
				core.JSONError(
					w,
					core.UnauthorizedError("missing authorization token"),
				)
				return
			}

			var (
				claims *AccessTokenClaims
				tok    *token.AccessToken
				err    error
			)

			if strings.Contains(bearer, "|") {
				tok, err = tokens.FindToken(r.Context(), bearer)
				if err != nil {
					if errors.Is(err, core.ErrNotFound) ||
						errors.Is(err, core.ErrTokenInvalid) {
						core.JSONError(w, core.TokenInvalidError())
						return
					}
					core.InternalServerError(w, err)
					return
				}
				claims = &AccessTokenClaims{
					TokenID: tok.ID,
					UserID:  tok.UserID,
					Scopes:  tok.Abilities,
				}
			} else {
				claims, err = verifier.VerifyAccessToken(r.Context(), bearer)
				if err != nil {
					handleAuthError(w, err)
					return
				}

				tok, err = tokens.GetByID(r.Context(), claims.TokenID)
				if err != nil {
					if errors.Is(err, core.ErrNotFound) {
						core.JSONError(w, core.TokenInvalidError())
						return
					}
					core.InternalServerError(w, err)
					return
				}
			}

			if tok.Revoked {
				core.JSONError(w, core.TokenRevokedError())
				return
			}
			if tok.IsExpired() {
				core.JSONError(w, core.TokenExpiredError())
				return
			}

			outcome, err := guard.Validate(
				r.Context(),
				tok,
				core.RequestContextFromHTTP(r),
			)
			if err != nil {
				core.InternalServerError(w, err)
				return
			}
			if !outcome.Valid() {
				handleBindingOutcome(w, outcome)
				return
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, TokenIDKey, claims.TokenID)
			ctx = context.WithValue(ctx, ScopesKey, claims.Scopes)
			ctx = context.WithValue(ctx, ClaimsKey, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetUserID(r.Context()) == "" {
				core.JSONError(
					w,
					core.UnauthorizedError("authentication required"),
				)
				return
			}

			if !HasScope(r.Context(), scope) {
				core.JSONError(
					w,
					core.ForbiddenError("insufficient token scope"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func ExtractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

func handleAuthError(w http.ResponseWriter, err error) {
	if core.IsAppError(err) {
		core.JSONError(w, err)
		return
	}

	switch {
	case errors.Is(err, core.ErrTokenExpired):
		core.JSONError(w, core.TokenExpiredError())
	case errors.Is(err, core.ErrTokenRevoked):
		core.JSONError(w, core.TokenRevokedError())
	default:
		core.JSONError(w, core.TokenInvalidError())
	}
}

// handleBindingOutcome denies without leaking which check tripped. The
// action header is the only client-visible detail beyond "reauthenticate".
func handleBindingOutcome(w http.ResponseWriter, outcome binding.Outcome) {
	if outcome.Action != "" {
		w.Header().Set(HeaderAuthAction, string(outcome.Action))
	}

	if outcome.Status == binding.StatusSecurityBreach {
		core.JSONError(w, core.NewAppError(
			core.ErrUnauthorized,
			"reauthentication required",
			http.StatusUnauthorized,
			"REAUTHENTICATION_REQUIRED",
		))
		return
	}

	core.JSONError(w, core.NewAppError(
		core.ErrUnauthorized,
		"token binding validation failed",
		http.StatusUnauthorized,
		"BINDING_FAILED",
	))
}

func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDKey).(string); ok {
		return id
	}
	return ""
}

func GetTokenID(ctx context.Context) string {
	if id, ok := ctx.Value(TokenIDKey).(string); ok {
		return id
	}
	return ""
}

func GetScopes(ctx context.Context) []string {
	if scopes, ok := ctx.Value(ScopesKey).([]string); ok {
		return scopes
	}
	return nil
}

func GetClaims(ctx context.Context) *AccessTokenClaims {
	if claims, ok := ctx.Value(ClaimsKey).(*AccessTokenClaims); ok {
		return claims
	}
	return nil
}

func HasScope(ctx context.Context, scope string) bool {
	for _, s := range GetScopes(ctx) {
		if s == scope || s == "*" {
			return true
		}
	}
	return false
}

func IsAuthenticated(ctx context.Context) bool {
	return GetUserID(ctx) != ""
}
