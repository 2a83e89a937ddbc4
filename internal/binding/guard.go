// AngelaMos | 2026
// guard.go

package binding

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/soundvault/auth-backend/internal/config"
	"github.com/soundvault/auth-backend/internal/core"
	"github.com/soundvault/auth-backend/internal/geo"
	"github.com/soundvault/auth-backend/internal/token"
)

type Status uint8

const (
	StatusOK Status = iota
	StatusBindingFailure
	StatusSecurityBreach
)

type Reason string

const (
	ReasonConcurrentIPUsage    Reason = "concurrent_ip_usage"
	ReasonConcurrentIPUnknown  Reason = "concurrent_ip_unavailable"
	ReasonFingerprintMismatch  Reason = "fingerprint_mismatch"
	ReasonSessionMismatch      Reason = "session_mismatch"
	ReasonRapidIPChanges       Reason = "rapid_ip_changes"
	ReasonSuspiciousGeoJump    Reason = "suspicious_geo_jump"
	ReasonMaxIPChangesExceeded Reason = "max_ip_changes_exceeded"
)

type Action string

const (
	ActionNone            Action = ""
	ActionLogout          Action = "logout"
	ActionRevokeAllTokens Action = "revoke_all_tokens"
)

// Outcome is the tagged result of a binding validation. Encoding the
// three branches as data instead of error types forces callers to handle
// every one.
type Outcome struct {
	Status Status
	Reason Reason
	Action Action
}

func (o Outcome) Valid() bool {
	return o.Status == StatusOK
}

func ok() Outcome {
	return Outcome{Status: StatusOK}
}

func bindingFailure(reason Reason, action Action) Outcome {
	return Outcome{Status: StatusBindingFailure, Reason: reason, Action: action}
}

func securityBreach(reason Reason, action Action) Outcome {
	return Outcome{Status: StatusSecurityBreach, Reason: reason, Action: action}
}

type trackingWindow interface {
	OtherActiveIPs(ctx context.Context, tokenID, currentIP string) ([]string, error)
	Track(ctx context.Context, tokenID, ip, userAgent string) error
	Clear(ctx context.Context, tokenIDs ...string) error
}

type locator interface {
	Resolve(ctx context.Context, ip string) geo.Location
}

type tokenRevoker interface {
	RevokeAllForUser(ctx context.Context, userID string) ([]string, error)
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, ids ...string) error
}

// Guard validates that a presented token is being used by the client and
// network context it was bound to at issuance, and detects concurrent
// theft across IPs.
type Guard struct {
	meta     Repository
	window   trackingWindow
	geo      locator
	notifier Notifier
	tokens   tokenRevoker
	cache    cacheInvalidator
	cfg      config.TokenBindingConfig
	logger   *slog.Logger
}

func NewGuard(
	meta Repository,
	window trackingWindow,
	geoResolver locator,
	notifier Notifier,
	tokens tokenRevoker,
	cache cacheInvalidator,
	cfg config.TokenBindingConfig,
	logger *slog.Logger,
) *Guard {
	return &Guard{
		meta:     meta,
		window:   window,
		geo:      geoResolver,
		notifier: notifier,
		tokens:   tokens,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
	}
}

// CreateMetadata records the binding context at issuance time.
func (g *Guard) CreateMetadata(
	ctx context.Context,
	tokenID string,
	req core.RequestContext,
) error {
	location := g.geo.Resolve(ctx, req.IP)

	meta := &Metadata{
		TokenID:           tokenID,
		ClientFingerprint: req.Fingerprint,
		SessionID:         req.SessionID,
		IPAddress:         req.IP,
		IPHistory: IPHistory{{
			IP:        req.IP,
			Timestamp: time.Now(),
			Location:  location,
		}},
		IPChangeCount: 0,
		CountryCode:   optional(location.CountryCode),
		City:          optional(location.City),
		UserAgent:     req.UserAgent,
	}

	return g.meta.Create(ctx, meta)
}

// Validate runs the binding checks in strict order, short-circuiting on
// the first failure: concurrent-IP, fingerprint, session, IP change
// heuristics, then window tracking.
func (g *Guard) Validate(
	ctx context.Context,
	tok *token.AccessToken,
	req core.RequestContext,
) (Outcome, error) {
	meta, err := g.meta.FindByTokenID(ctx, tok.ID)
	if errors.Is(err, core.ErrNotFound) {
		// Tokens without binding metadata (third-party integrations)
		// are not subject to binding checks.
		return ok(), nil
	}
	if err != nil {
		return Outcome{}, err
	}
	if meta.ClientFingerprint == "" {
		return ok(), nil
	}

	if outcome := g.checkConcurrentIPUsage(ctx, tok, req); !outcome.Valid() {
		return outcome, nil
	}

	if meta.ClientFingerprint != req.Fingerprint {
		g.logger.Warn("token fingerprint mismatch",
			"user_id", tok.UserID,
			"token_id", tok.ID,
			"stored_fingerprint", truncate(meta.ClientFingerprint),
			"current_fingerprint", truncate(req.Fingerprint),
		)
		return bindingFailure(ReasonFingerprintMismatch, ActionNone), nil
	}

	if meta.SessionID != req.SessionID {
		g.logger.Warn("token session id mismatch",
			"user_id", tok.UserID,
			"token_id", tok.ID,
			"has_stored_session", meta.SessionID != "",
			"has_current_session", req.SessionID != "",
		)
		return bindingFailure(ReasonSessionMismatch, ActionNone), nil
	}

	if outcome, err := g.validateIPAddress(ctx, tok, meta, req); err != nil {
		return Outcome{}, err
	} else if !outcome.Valid() {
		return outcome, nil
	}

	if err := g.window.Track(ctx, tok.ID, req.IP, req.UserAgent); err != nil {
		g.logger.Warn("failed to track ip usage",
			"token_id", tok.ID,
			"error", err,
		)
	}

	return ok(), nil
}

func (g *Guard) checkConcurrentIPUsage(
	ctx context.Context,
	tok *token.AccessToken,
	req core.RequestContext,
) Outcome {
	otherIPs, err := g.window.OtherActiveIPs(ctx, tok.ID, req.IP)
	if err != nil {
		g.logger.Warn("concurrent ip window unavailable",
			"token_id", tok.ID,
			"fail_closed", g.cfg.ConcurrentIPFailClosed,
			"error", err,
		)
		if g.cfg.ConcurrentIPFailClosed {
			return bindingFailure(ReasonConcurrentIPUnknown, ActionNone)
		}
		return ok()
	}

	if len(otherIPs) < g.cfg.MaxConcurrentIPs {
		return ok()
	}

	g.logger.Error("SECURITY BREACH: concurrent ip usage detected",
		"user_id", tok.UserID,
		"token_id", tok.ID,
		"current_ip", req.IP,
		"concurrent_ips", otherIPs,
		"window", g.cfg.ConcurrentIPWindow,
		"user_agent", req.UserAgent,
	)

	if err := g.notifier.NotifyConcurrentAccess(
		ctx,
		tok.UserID,
		req.IP,
		otherIPs,
		req.UserAgent,
	); err != nil {
		g.logger.Error("failed to send concurrent access notification",
			"user_id", tok.UserID,
			"error", err,
		)
	}

	// The same credentials are compromised everywhere, not just this
	// chain. Revocation must finish even if the request is canceled.
	if err := g.RevokeAllUserTokens(
		context.WithoutCancel(ctx),
		tok.UserID,
		string(ReasonConcurrentIPUsage),
	); err != nil {
		g.logger.Error("failed to revoke user tokens",
			"user_id", tok.UserID,
			"error", err,
		)
	}

	return securityBreach(ReasonConcurrentIPUsage, ActionRevokeAllTokens)
}

func (g *Guard) validateIPAddress(
	ctx context.Context,
	tok *token.AccessToken,
	meta *Metadata,
	req core.RequestContext,
) (Outcome, error) {
	if meta.IPAddress == req.IP {
		return ok(), nil
	}

	if g.isRapidIPChange(meta) {
		g.logger.Warn("SECURITY: rapid ip changes detected",
			"token_id", meta.TokenID,
			"current_ip", req.IP,
			"previous_ip", meta.IPAddress,
			"since_last_change", time.Since(meta.UpdatedAt),
		)
		return bindingFailure(ReasonRapidIPChanges, ActionLogout), nil
	}

	location := g.geo.Resolve(ctx, req.IP)

	if g.isSuspiciousGeoJump(meta, location) {
		g.logger.Warn("SECURITY: suspicious geographic jump detected",
			"token_id", meta.TokenID,
			"from_country", derefOr(meta.CountryCode),
			"to_country", location.CountryCode,
			"from_ip", meta.IPAddress,
			"to_ip", req.IP,
		)
		return bindingFailure(ReasonSuspiciousGeoJump, ActionLogout), nil
	}

	if meta.IPChangeCount >= g.cfg.MaxIPChanges {
		g.logger.Warn("token exceeded maximum ip changes",
			"token_id", meta.TokenID,
			"ip_changes", meta.IPChangeCount,
			"current_ip", req.IP,
			"stored_ip", meta.IPAddress,
			"max_allowed", g.cfg.MaxIPChanges,
		)
		return bindingFailure(ReasonMaxIPChangesExceeded, ActionLogout), nil
	}

	if g.shouldNotifyGeoChange(meta, location) {
		g.sendGeoChangeNotification(ctx, tok, meta, location, req)
	}

	if err := g.updateIPData(ctx, meta, location, req); err != nil {
		return Outcome{}, err
	}

	return ok(), nil
}

func (g *Guard) isRapidIPChange(meta *Metadata) bool {
	if meta.UpdatedAt.IsZero() {
		return false
	}
	return time.Since(meta.UpdatedAt) < g.cfg.MinIPChangeInterval
}

// isSuspiciousGeoJump flags any country change inside the configured
// window. Deliberately coarse: no distance or travel-speed computation.
func (g *Guard) isSuspiciousGeoJump(meta *Metadata, location geo.Location) bool {
	if meta.CountryCode == nil || *meta.CountryCode == "" {
		return false
	}
	if meta.UpdatedAt.IsZero() || location.CountryCode == "" {
		return false
	}
	if *meta.CountryCode == location.CountryCode {
		return false
	}
	return time.Since(meta.UpdatedAt) < g.cfg.SuspiciousJumpWindow
}

func (g *Guard) shouldNotifyGeoChange(
	meta *Metadata,
	location geo.Location,
) bool {
	if location.IsPrivate {
		return false
	}

	if !geo.HasCountryChanged(derefOr(meta.CountryCode), location.CountryCode) {
		return false
	}

	if meta.LastGeoNotifiedAt != nil {
		cooldownEnd := meta.LastGeoNotifiedAt.Add(g.cfg.GeoNotifyCooldown)
		if time.Now().Before(cooldownEnd) {
			return false
		}
	}

	return true
}

func (g *Guard) sendGeoChangeNotification(
	ctx context.Context,
	tok *token.AccessToken,
	meta *Metadata,
	location geo.Location,
	req core.RequestContext,
) {
	if err := g.notifier.NotifyLocationChange(
		ctx,
		tok.UserID,
		req.IP,
		location,
		req.UserAgent,
	); err != nil {
		g.logger.Error("failed to send geo change notification",
			"token_id", meta.TokenID,
			"error", err,
		)
		return
	}

	now := time.Now()
	if err := g.meta.SetGeoNotifiedAt(ctx, meta.TokenID, now); err != nil {
		g.logger.Warn("failed to stamp geo notification time",
			"token_id", meta.TokenID,
			"error", err,
		)
	}

	g.logger.Info("geo change notification sent",
		"user_id", tok.UserID,
		"token_id", meta.TokenID,
		"old_country", derefOr(meta.CountryCode),
		"new_country", location.CountryCode,
		"ip", req.IP,
	)
}

func (g *Guard) updateIPData(
	ctx context.Context,
	meta *Metadata,
	location geo.Location,
	req core.RequestContext,
) error {
	history := meta.IPHistory.Append(IPHistoryEntry{
		IP:        req.IP,
		Timestamp: time.Now(),
		Location:  location,
		UserAgent: req.UserAgent,
	}, g.cfg.IPHistoryLimit)

	update := IPUpdate{
		IPAddress:   req.IP,
		History:     history,
		ChangeCount: meta.IPChangeCount + 1,
		CountryCode: optional(location.CountryCode),
		City:        optional(location.City),
	}

	if err := g.meta.UpdateIPData(ctx, meta.TokenID, update); err != nil {
		return err
	}

	g.logger.Info("token ip data updated",
		"token_id", meta.TokenID,
		"new_ip", req.IP,
		"ip_change_count", update.ChangeCount,
		"country", location.CountryCode,
	)

	return nil
}

// RevokeAllUserTokens revokes every token the principal owns and clears
// their cache and tracking state. Safe to re-run: overlapping detections
// may trigger it repeatedly.
func (g *Guard) RevokeAllUserTokens(
	ctx context.Context,
	userID, reason string,
) error {
	accessIDs, err := g.tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		return err
	}

	if err := g.cache.Invalidate(ctx, accessIDs...); err != nil {
		g.logger.Warn("failed to invalidate revoked tokens",
			"user_id", userID,
			"error", err,
		)
	}

	if err := g.window.Clear(ctx, accessIDs...); err != nil {
		g.logger.Warn("failed to clear ip windows",
			"user_id", userID,
			"error", err,
		)
	}

	g.logger.Error("SECURITY: all user tokens revoked",
		"user_id", userID,
		"reason", reason,
		"tokens_revoked", len(accessIDs),
	)

	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefOr(s *string) string {
	if s != nil {
		return *s
	}
	return ""
}

// truncate shortens fingerprints for log output.
func truncate(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:12]
}
