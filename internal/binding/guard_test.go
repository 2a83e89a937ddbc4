// AngelaMos | 2026
// guard_test.go

package binding

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundvault/auth-backend/internal/config"
	"github.com/soundvault/auth-backend/internal/core"
	"github.com/soundvault/auth-backend/internal/geo"
	"github.com/soundvault/auth-backend/internal/token"
)

type fakeMetaRepo struct {
	metadata    map[string]*Metadata
	updates     []IPUpdate
	geoStamped  []string
	deletedIDs  []string
	createCalls []*Metadata
}

func newFakeMetaRepo() *fakeMetaRepo {
	return &fakeMetaRepo{metadata: map[string]*Metadata{}}
}

func (f *fakeMetaRepo) Create(_ context.Context, meta *Metadata) error {
	f.createCalls = append(f.createCalls, meta)
	f.metadata[meta.TokenID] = meta
	return nil
}

func (f *fakeMetaRepo) FindByTokenID(
	_ context.Context,
	tokenID string,
) (*Metadata, error) {
	meta, ok := f.metadata[tokenID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return meta, nil
}

func (f *fakeMetaRepo) UpdateIPData(
	_ context.Context,
	tokenID string,
	update IPUpdate,
) error {
	f.updates = append(f.updates, update)
	if meta, ok := f.metadata[tokenID]; ok {
		meta.IPAddress = update.IPAddress
		meta.IPHistory = update.History
		meta.IPChangeCount = update.ChangeCount
		meta.CountryCode = update.CountryCode
		meta.City = update.City
		meta.UpdatedAt = time.Now()
	}
	return nil
}

func (f *fakeMetaRepo) SetGeoNotifiedAt(
	_ context.Context,
	tokenID string,
	at time.Time,
) error {
	f.geoStamped = append(f.geoStamped, tokenID)
	if meta, ok := f.metadata[tokenID]; ok {
		meta.LastGeoNotifiedAt = &at
	}
	return nil
}

func (f *fakeMetaRepo) DeleteByTokenIDs(
	_ context.Context,
	tokenIDs []string,
) error {
	f.deletedIDs = append(f.deletedIDs, tokenIDs...)
	return nil
}

type fakeWindow struct {
	otherIPs []string
	readErr  error
	tracked  []string
	cleared  []string
}

func (f *fakeWindow) OtherActiveIPs(
	_ context.Context,
	_, _ string,
) ([]string, error) {
	return f.otherIPs, f.readErr
}

func (f *fakeWindow) Track(_ context.Context, _, ip, _ string) error {
	f.tracked = append(f.tracked, ip)
	return nil
}

func (f *fakeWindow) Clear(_ context.Context, tokenIDs ...string) error {
	f.cleared = append(f.cleared, tokenIDs...)
	return nil
}

type fakeLocator struct {
	locations map[string]geo.Location
}

func (f *fakeLocator) Resolve(_ context.Context, ip string) geo.Location {
	if loc, ok := f.locations[ip]; ok {
		return loc
	}
	return geo.Location{Status: "fail"}
}

type fakeGuardNotifier struct {
	concurrentCalls int
	locationCalls   int
}

func (f *fakeGuardNotifier) NotifyConcurrentAccess(
	_ context.Context,
	_, _ string,
	_ []string,
	_ string,
) error {
	f.concurrentCalls++
	return nil
}

func (f *fakeGuardNotifier) NotifyLocationChange(
	_ context.Context,
	_, _ string,
	_ geo.Location,
	_ string,
) error {
	f.locationCalls++
	return nil
}

type fakeRevoker struct {
	revokedUsers []string
	accessIDs    []string
}

func (f *fakeRevoker) RevokeAllForUser(
	_ context.Context,
	userID string,
) ([]string, error) {
	f.revokedUsers = append(f.revokedUsers, userID)
	return f.accessIDs, nil
}

type fakeCacheInv struct {
	invalidated []string
}

func (f *fakeCacheInv) Invalidate(_ context.Context, ids ...string) error {
	f.invalidated = append(f.invalidated, ids...)
	return nil
}

type guardFixture struct {
	guard    *Guard
	meta     *fakeMetaRepo
	window   *fakeWindow
	locator  *fakeLocator
	notifier *fakeGuardNotifier
	revoker  *fakeRevoker
	cache    *fakeCacheInv
}

func newGuardFixture() *guardFixture {
	return newGuardFixtureWithConfig(config.TokenBindingConfig{
		ConcurrentIPWindow:   300 * time.Second,
		MaxConcurrentIPs:     1,
		MaxIPChanges:         10,
		MinIPChangeInterval:  5 * time.Minute,
		SuspiciousJumpWindow: 2 * time.Hour,
		GeoNotifyCooldown:    time.Hour,
		IPHistoryLimit:       10,
	})
}

func newGuardFixtureWithConfig(cfg config.TokenBindingConfig) *guardFixture {
	f := &guardFixture{
		meta:     newFakeMetaRepo(),
		window:   &fakeWindow{},
		locator:  &fakeLocator{locations: map[string]geo.Location{}},
		notifier: &fakeGuardNotifier{},
		revoker:  &fakeRevoker{},
		cache:    &fakeCacheInv{},
	}

	f.guard = NewGuard(
		f.meta,
		f.window,
		f.locator,
		f.notifier,
		f.revoker,
		f.cache,
		cfg,
		slog.New(slog.DiscardHandler),
	)

	return f
}

func (f *guardFixture) withMetadata(updatedAgo time.Duration) *Metadata {
	country := "US"
	meta := &Metadata{
		TokenID:           "tok-1",
		ClientFingerprint: "fp-1",
		SessionID:         "sess-1",
		IPAddress:         "1.1.1.1",
		IPHistory:         IPHistory{{IP: "1.1.1.1"}},
		CountryCode:       &country,
		UpdatedAt:         time.Now().Add(-updatedAgo),
	}
	f.meta.metadata["tok-1"] = meta
	return meta
}

func boundToken() *token.AccessToken {
	return &token.AccessToken{ID: "tok-1", UserID: "user-1"}
}

func boundRequest() core.RequestContext {
	return core.RequestContext{
		IP:          "1.1.1.1",
		UserAgent:   "agent-a",
		SessionID:   "sess-1",
		Fingerprint: "fp-1",
	}
}

func TestValidateSkipsTokensWithoutMetadata(t *testing.T) {
	f := newGuardFixture()

	outcome, err := f.guard.Validate(
		context.Background(),
		boundToken(),
		boundRequest(),
	)

	require.NoError(t, err)
	assert.True(t, outcome.Valid())
	assert.Empty(t, f.window.tracked)
}

func TestValidateSkipsEmptyFingerprintBinding(t *testing.T) {
	f := newGuardFixture()
	meta := f.withMetadata(time.Hour)
	meta.ClientFingerprint = ""

	outcome, err := f.guard.Validate(
		context.Background(),
		boundToken(),
		boundRequest(),
	)

	require.NoError(t, err)
	assert.True(t, outcome.Valid())
}

func TestValidateHappyPathTracksIP(t *testing.T) {
	f := newGuardFixture()
	f.withMetadata(time.Hour)

	outcome, err := f.guard.Validate(
		context.Background(),
		boundToken(),
		boundRequest(),
	)

	require.NoError(t, err)
	assert.True(t, outcome.Valid())
	assert.Equal(t, []string{"1.1.1.1"}, f.window.tracked)
	assert.Empty(t, f.meta.updates)
}

func TestValidateConcurrentIPUsageIsBreach(t *testing.T) {
	f := newGuardFixture()
	f.withMetadata(time.Hour)
	f.window.otherIPs = []string{"9.9.9.9"}
	f.revoker.accessIDs = []string{"tok-1", "tok-2"}

	outcome, err := f.guard.Validate(
		context.Background(),
		boundToken(),
		boundRequest(),
	)

	require.NoError(t, err)
	assert.Equal(t, StatusSecurityBreach, outcome.Status)
	assert.Equal(t, ReasonConcurrentIPUsage, outcome.Reason)
	assert.Equal(t, ActionRevokeAllTokens, outcome.Action)

	assert.Equal(t, []string{"user-1"}, f.revoker.revokedUsers)
	assert.Equal(t, 1, f.notifier.concurrentCalls)
	assert.ElementsMatch(t, []string{"tok-1", "tok-2"}, f.cache.invalidated)
	assert.ElementsMatch(t, []string{"tok-1", "tok-2"}, f.window.cleared)
}

func TestValidateConcurrentCheckFailsOpenOnWindowError(t *testing.T) {
	f := newGuardFixture()
	f.withMetadata(time.Hour)
	f.window.readErr = errors.New("redis down")

	outcome, err := f.guard.Validate(
		context.Background(),
		boundToken(),
		boundRequest(),
	)

	require.NoError(t, err)
	assert.True(t, outcome.Valid())
	assert.Empty(t, f.revoker.revokedUsers)
}

func TestValidateConcurrentCheckFailsClosedWhenConfigured(t *testing.T) {
	f := newGuardFixtureWithConfig(config.TokenBindingConfig{
		ConcurrentIPWindow:     300 * time.Second,
		MaxConcurrentIPs:       1,
		ConcurrentIPFailClosed: true,
		MaxIPChanges:           10,
		MinIPChangeInterval:    5 * time.Minute,
		SuspiciousJumpWindow:   2 * time.Hour,
		GeoNotifyCooldown:      time.Hour,
		IPHistoryLimit:         10,
	})
	f.withMetadata(time.Hour)
	f.window.readErr = errors.New("redis down")

	outcome, err := f.guard.Validate(
		context.Background(),
		boundToken(),
		boundRequest(),
	)

	require.NoError(t, err)
	assert.False(t, outcome.Valid())
	assert.Equal(t, StatusBindingFailure, outcome.Status)
	assert.Equal(t, ReasonConcurrentIPUnknown, outcome.Reason)
	assert.Empty(t, f.revoker.revokedUsers, "an unreadable window denies, never revokes")
}

func TestValidateFingerprintMismatch(t *testing.T) {
	f := newGuardFixture()
	f.withMetadata(time.Hour)

	req := boundRequest()
	req.Fingerprint = "fp-other"

	outcome, err := f.guard.Validate(context.Background(), boundToken(), req)

	require.NoError(t, err)
	assert.Equal(t, StatusBindingFailure, outcome.Status)
	assert.Equal(t, ReasonFingerprintMismatch, outcome.Reason)
	assert.Equal(t, ActionNone, outcome.Action)
	assert.Empty(t, f.revoker.revokedUsers)
}

func TestValidateSessionMismatch(t *testing.T) {
	f := newGuardFixture()
	f.withMetadata(time.Hour)

	req := boundRequest()
	req.SessionID = "sess-other"

	outcome, err := f.guard.Validate(context.Background(), boundToken(), req)

	require.NoError(t, err)
	assert.Equal(t, StatusBindingFailure, outcome.Status)
	assert.Equal(t, ReasonSessionMismatch, outcome.Reason)
}

func TestValidateRapidIPChange(t *testing.T) {
	f := newGuardFixture()
	f.withMetadata(time.Minute)

	req := boundRequest()
	req.IP = "2.2.2.2"

	outcome, err := f.guard.Validate(context.Background(), boundToken(), req)

	require.NoError(t, err)
	assert.Equal(t, StatusBindingFailure, outcome.Status)
	assert.Equal(t, ReasonRapidIPChanges, outcome.Reason)
	assert.Equal(t, ActionLogout, outcome.Action)
}

func TestValidateSuspiciousGeoJump(t *testing.T) {
	f := newGuardFixture()
	f.withMetadata(30 * time.Minute)
	f.locator.locations["2.2.2.2"] = geo.Location{
		Status:      "success",
		CountryCode: "DE",
		Country:     "Germany",
	}

	req := boundRequest()
	req.IP = "2.2.2.2"

	outcome, err := f.guard.Validate(context.Background(), boundToken(), req)

	require.NoError(t, err)
	assert.Equal(t, StatusBindingFailure, outcome.Status)
	assert.Equal(t, ReasonSuspiciousGeoJump, outcome.Reason)
	assert.Equal(t, ActionLogout, outcome.Action)
}

func TestValidateMaxIPChangesExceeded(t *testing.T) {
	f := newGuardFixture()
	meta := f.withMetadata(3 * time.Hour)
	meta.IPChangeCount = 10
	f.locator.locations["2.2.2.2"] = geo.Location{
		Status:      "success",
		CountryCode: "US",
	}

	req := boundRequest()
	req.IP = "2.2.2.2"

	outcome, err := f.guard.Validate(context.Background(), boundToken(), req)

	require.NoError(t, err)
	assert.Equal(t, StatusBindingFailure, outcome.Status)
	assert.Equal(t, ReasonMaxIPChangesExceeded, outcome.Reason)
	assert.Equal(t, ActionLogout, outcome.Action)
}

func TestValidateAcceptedIPChangeUpdatesBinding(t *testing.T) {
	f := newGuardFixture()
	meta := f.withMetadata(3 * time.Hour)
	meta.IPChangeCount = 2
	f.locator.locations["2.2.2.2"] = geo.Location{
		Status:      "success",
		CountryCode: "DE",
		Country:     "Germany",
		City:        "Berlin",
	}

	req := boundRequest()
	req.IP = "2.2.2.2"

	outcome, err := f.guard.Validate(context.Background(), boundToken(), req)

	require.NoError(t, err)
	assert.True(t, outcome.Valid())

	require.Len(t, f.meta.updates, 1)
	update := f.meta.updates[0]
	assert.Equal(t, "2.2.2.2", update.IPAddress)
	assert.Equal(t, 3, update.ChangeCount)
	assert.Len(t, update.History, 2)
	require.NotNil(t, update.CountryCode)
	assert.Equal(t, "DE", *update.CountryCode)

	assert.Equal(t, 1, f.notifier.locationCalls)
	assert.Equal(t, []string{"tok-1"}, f.meta.geoStamped)
	assert.Equal(t, []string{"2.2.2.2"}, f.window.tracked)
}

func TestValidateGeoNotificationHonorsCooldown(t *testing.T) {
	f := newGuardFixture()
	meta := f.withMetadata(3 * time.Hour)
	recently := time.Now().Add(-10 * time.Minute)
	meta.LastGeoNotifiedAt = &recently
	f.locator.locations["2.2.2.2"] = geo.Location{
		Status:      "success",
		CountryCode: "DE",
	}

	req := boundRequest()
	req.IP = "2.2.2.2"

	outcome, err := f.guard.Validate(context.Background(), boundToken(), req)

	require.NoError(t, err)
	assert.True(t, outcome.Valid())
	assert.Zero(t, f.notifier.locationCalls)
	assert.Len(t, f.meta.updates, 1)
}

func TestValidateNoGeoNotificationForPrivateIP(t *testing.T) {
	f := newGuardFixture()
	f.withMetadata(3 * time.Hour)
	f.locator.locations["10.0.0.5"] = geo.Location{
		Status:      "success",
		CountryCode: "LOCAL",
		IsPrivate:   true,
	}

	req := boundRequest()
	req.IP = "10.0.0.5"

	outcome, err := f.guard.Validate(context.Background(), boundToken(), req)

	require.NoError(t, err)
	assert.True(t, outcome.Valid())
	assert.Zero(t, f.notifier.locationCalls)
}

func TestCreateMetadataBindsRequestContext(t *testing.T) {
	f := newGuardFixture()
	f.locator.locations["1.1.1.1"] = geo.Location{
		Status:      "success",
		CountryCode: "US",
		City:        "Chicago",
	}

	err := f.guard.CreateMetadata(context.Background(), "tok-1", boundRequest())
	require.NoError(t, err)

	require.Len(t, f.meta.createCalls, 1)
	meta := f.meta.createCalls[0]
	assert.Equal(t, "tok-1", meta.TokenID)
	assert.Equal(t, "fp-1", meta.ClientFingerprint)
	assert.Equal(t, "sess-1", meta.SessionID)
	assert.Equal(t, "1.1.1.1", meta.IPAddress)
	require.NotNil(t, meta.CountryCode)
	assert.Equal(t, "US", *meta.CountryCode)
	require.Len(t, meta.IPHistory, 1)
	assert.Zero(t, meta.IPChangeCount)
}

func TestRevokeAllUserTokensClearsState(t *testing.T) {
	f := newGuardFixture()
	f.revoker.accessIDs = []string{"tok-1", "tok-2"}

	err := f.guard.RevokeAllUserTokens(
		context.Background(),
		"user-1",
		"logout_all",
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"user-1"}, f.revoker.revokedUsers)
	assert.ElementsMatch(t, []string{"tok-1", "tok-2"}, f.cache.invalidated)
	assert.ElementsMatch(t, []string{"tok-1", "tok-2"}, f.window.cleared)
}

func TestIPHistoryAppendEvictsOldest(t *testing.T) {
	var history IPHistory
	for i := range 12 {
		history = history.Append(IPHistoryEntry{
			IP: string(rune('a' + i)),
		}, 10)
	}

	require.Len(t, history, 10)
	assert.Equal(t, "c", history[0].IP)
	assert.Equal(t, "m", history[9].IP)
}
