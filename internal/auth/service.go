// AngelaMos | 2026
// service.go

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/soundvault/auth-backend/internal/binding"
	"github.com/soundvault/auth-backend/internal/config"
	"github.com/soundvault/auth-backend/internal/core"
	"github.com/soundvault/auth-backend/internal/token"
)

// ErrTokenCreation means the engine issued a token this service cannot
// locate in the store. Issuance must always be traceable.
var ErrTokenCreation = errors.New("issued token could not be located")

// TokenSet is what a successful mint or rotation hands back to the client.
// OpaqueToken is the "id|secret" credential for clients that cannot carry
// the signed access token; SessionID is set only at initial issuance.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	OpaqueToken  string
	SessionID    string
	TokenType    string
	ExpiresIn    int64
}

// Session is one active token presented as a device session.
type Session struct {
	TokenID         string
	IPAddress       string
	Country         string
	City            string
	UserAgent       string
	CreatedAt       time.Time
	LastRefreshedAt *time.Time
	Current         bool
}

type chainLedger interface {
	LinkTokens(
		ctx context.Context,
		accessTokenID, refreshTokenID string,
		previousRefreshID *string,
	) error
	ValidateRefreshToken(ctx context.Context, refreshToken *token.RefreshToken) error
	RevokeChain(ctx context.Context, chainID string) error
}

type bindingGuard interface {
	CreateMetadata(ctx context.Context, tokenID string, req core.RequestContext) error
	RevokeAllUserTokens(ctx context.Context, userID, reason string) error
}

type tokenCache interface {
	StoreToken(ctx context.Context, tok *token.AccessToken) error
	Invalidate(ctx context.Context, ids ...string) error
}

type refreshExtractor interface {
	ExtractRefreshTokenID(refreshToken string) (string, error)
}

// Service orchestrates issuance: it drives the authorization engine, traces
// the tokens it hands back, links chains, and records binding metadata.
// It is the only entry point callers use to mint or rotate a token set.
type Service struct {
	engine AuthorizationEngine
	codec  refreshExtractor
	store  token.Repository
	meta   binding.Repository
	cache  tokenCache
	ledger chainLedger
	guard  bindingGuard
	cfg    config.OAuthConfig
	logger *slog.Logger
}

func NewService(
	engine AuthorizationEngine,
	codec refreshExtractor,
	store token.Repository,
	meta binding.Repository,
	cache tokenCache,
	ledger chainLedger,
	guard bindingGuard,
	cfg config.OAuthConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		engine: engine,
		codec:  codec,
		store:  store,
		meta:   meta,
		cache:  cache,
		ledger: ledger,
		guard:  guard,
		cfg:    cfg,
		logger: logger,
	}
}

// CreateTokenSet mints a fresh token set for an already-authenticated
// principal, starts a new chain when a refresh token was issued, and binds
// the access token to the requesting client.
func (s *Service) CreateTokenSet(
	ctx context.Context,
	req core.RequestContext,
	userID string,
	scopes []string,
) (*TokenSet, error) {
	grant, err := s.engine.Issue(ctx, GrantRequest{
		GrantType: GrantPreAuthenticated,
		UserID:    userID,
		Scope:     strings.Join(scopes, " "),
	})
	if err != nil {
		return nil, fmt.Errorf("issue token set: %w", err)
	}

	accessID, err := ExtractAccessTokenID(grant.AccessToken)
	if err != nil {
		return nil, err
	}

	// The issuance must be locatable before any chain state is written
	// against it.
	if err := s.ensureIssued(ctx, accessID); err != nil {
		return nil, err
	}

	if grant.RefreshToken != "" {
		refreshID, extractErr := s.codec.ExtractRefreshTokenID(grant.RefreshToken)
		if extractErr != nil {
			return nil, extractErr
		}

		if linkErr := s.ledger.LinkTokens(ctx, accessID, refreshID, nil); linkErr != nil {
			return nil, linkErr
		}
	}

	tok, err := s.traceToken(ctx, accessID)
	if err != nil {
		return nil, err
	}

	opaque, err := s.mintOpaqueCredential(ctx, tok)
	if err != nil {
		return nil, err
	}

	if req.SessionID == "" {
		sessionID, genErr := core.GenerateSessionID()
		if genErr != nil {
			return nil, genErr
		}
		req.SessionID = sessionID
	}

	if err := s.guard.CreateMetadata(ctx, accessID, req); err != nil {
		return nil, fmt.Errorf("create binding metadata: %w", err)
	}

	s.logger.Info("token set created",
		"user_id", userID,
		"token_id", accessID,
		"has_refresh", grant.RefreshToken != "",
		"ip", req.IP,
	)

	return &TokenSet{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		OpaqueToken:  opaque,
		SessionID:    req.SessionID,
		TokenType:    grant.TokenType,
		ExpiresIn:    grant.ExpiresIn,
	}, nil
}

// Refresh rotates a token set. Reuse and revocation failures from the
// chain ledger propagate unmodified; they are the two fatal outcomes.
// Binding is not re-validated here, only on resource-access requests.
func (s *Service) Refresh(
	ctx context.Context,
	req core.RequestContext,
	refreshToken string,
) (*TokenSet, error) {
	previousID, err := s.codec.ExtractRefreshTokenID(refreshToken)
	if err != nil {
		return nil, err
	}

	previous, err := s.store.FindRefreshToken(ctx, previousID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("refresh token: %w", core.ErrTokenInvalid)
	}
	if err != nil {
		return nil, err
	}

	if previous.IsExpired() {
		return nil, fmt.Errorf("refresh token: %w", core.ErrTokenExpired)
	}

	if err := s.ledger.ValidateRefreshToken(ctx, previous); err != nil {
		return nil, err
	}

	grant, err := s.engine.Issue(ctx, GrantRequest{
		GrantType:    GrantRefreshToken,
		RefreshToken: refreshToken,
		Scope:        s.cfg.RefreshScopes,
	})
	if err != nil {
		return nil, fmt.Errorf("refresh grant: %w", err)
	}

	accessID, err := ExtractAccessTokenID(grant.AccessToken)
	if err != nil {
		return nil, err
	}

	if grant.RefreshToken == "" {
		return nil, fmt.Errorf("%w: refresh grant returned no refresh token",
			ErrTokenCreation)
	}

	refreshID, err := s.codec.ExtractRefreshTokenID(grant.RefreshToken)
	if err != nil {
		return nil, err
	}

	if err := s.ensureIssued(ctx, accessID); err != nil {
		return nil, err
	}

	if err := s.ledger.LinkTokens(ctx, accessID, refreshID, &previousID); err != nil {
		return nil, err
	}

	if err := s.store.TouchLastRefreshed(ctx, accessID); err != nil {
		s.logger.Warn("failed to stamp last refresh",
			"token_id", accessID,
			"error", err,
		)
	}

	tok, err := s.traceToken(ctx, accessID)
	if err != nil {
		return nil, err
	}

	opaque, err := s.mintOpaqueCredential(ctx, tok)
	if err != nil {
		return nil, err
	}

	s.logger.Info("token set rotated",
		"user_id", previous.UserID,
		"token_id", accessID,
		"previous_refresh_id", previousID,
	)

	return &TokenSet{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		OpaqueToken:  opaque,
		TokenType:    grant.TokenType,
		ExpiresIn:    grant.ExpiresIn,
	}, nil
}

// LogoutAll revokes every token the principal holds.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	return s.guard.RevokeAllUserTokens(ctx, userID, "logout_all")
}

// Sessions lists the principal's active tokens with their bound client
// context, flagged with which one is making this request.
func (s *Service) Sessions(
	ctx context.Context,
	userID, currentTokenID string,
) ([]Session, error) {
	tokens, err := s.store.ListActiveForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	sessions := make([]Session, 0, len(tokens))
	for _, tok := range tokens {
		session := Session{
			TokenID:         tok.ID,
			CreatedAt:       tok.CreatedAt,
			LastRefreshedAt: tok.LastRefreshedAt,
			Current:         tok.ID == currentTokenID,
		}

		meta, metaErr := s.meta.FindByTokenID(ctx, tok.ID)
		if metaErr == nil {
			session.IPAddress = meta.IPAddress
			session.UserAgent = meta.UserAgent
			if meta.CountryCode != nil {
				session.Country = *meta.CountryCode
			}
			if meta.City != nil {
				session.City = *meta.City
			}
		} else if !errors.Is(metaErr, core.ErrNotFound) {
			return nil, metaErr
		}

		sessions = append(sessions, session)
	}

	return sessions, nil
}

// RevokeSession revokes one of the principal's tokens. Chained tokens take
// their whole lineage down with them.
func (s *Service) RevokeSession(
	ctx context.Context,
	userID, tokenID string,
) error {
	tok, err := s.store.FindAccessToken(ctx, tokenID)
	if errors.Is(err, core.ErrNotFound) {
		return core.NotFoundError("session")
	}
	if err != nil {
		return err
	}

	if tok.UserID != userID {
		return core.ForbiddenError("session belongs to another user")
	}

	if tok.ChainID != nil {
		if err := s.ledger.RevokeChain(ctx, *tok.ChainID); err != nil {
			return err
		}
	} else {
		if err := s.store.RevokeToken(ctx, tokenID); err != nil {
			return err
		}
		if err := s.cache.Invalidate(ctx, tokenID); err != nil {
			s.logger.Warn("failed to invalidate revoked session",
				"token_id", tokenID,
				"error", err,
			)
		}
	}

	s.logger.Info("session revoked",
		"user_id", userID,
		"token_id", tokenID,
	)

	return nil
}

// ensureIssued confirms the engine's issuance landed in the store. It runs
// before chain linking so an untraceable token surfaces as a creation
// failure, not a chain-link failure.
func (s *Service) ensureIssued(ctx context.Context, accessID string) error {
	_, err := s.store.FindAccessToken(ctx, accessID)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("%w: access token %s", ErrTokenCreation, accessID)
	}
	return err
}

// mintOpaqueCredential attaches a random secret to the issued token row so
// clients that cannot carry a signed bearer present "id|secret" instead.
// The plaintext secret exists only in the returned credential.
func (s *Service) mintOpaqueCredential(
	ctx context.Context,
	tok *token.AccessToken,
) (string, error) {
	secret, err := core.GenerateTokenSecret()
	if err != nil {
		return "", err
	}

	hash := core.HashToken(secret)
	if err := s.store.SetSecretHash(ctx, tok.ID, hash); err != nil {
		return "", fmt.Errorf("attach token secret: %w", err)
	}

	tok.SecretHash = hash
	if err := s.cache.StoreToken(ctx, tok); err != nil {
		s.logger.Warn("failed to refresh cached token secret",
			"token_id", tok.ID,
			"error", err,
		)
	}

	return tok.ID + "|" + secret, nil
}

// traceToken verifies the engine's issuance landed in the store and writes
// the row through the cache.
func (s *Service) traceToken(
	ctx context.Context,
	accessID string,
) (*token.AccessToken, error) {
	tok, err := s.store.FindAccessToken(ctx, accessID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: access token %s", ErrTokenCreation, accessID)
	}
	if err != nil {
		return nil, err
	}

	if err := s.cache.StoreToken(ctx, tok); err != nil {
		s.logger.Warn("failed to cache issued token",
			"token_id", accessID,
			"error", err,
		)
	}

	return tok, nil
}
