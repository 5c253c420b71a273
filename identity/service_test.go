package identity_test

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	portal "github.com/goliatone/go-portal"
	"github.com/goliatone/go-portal/identity"
	"github.com/goliatone/go-portal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	db     *bun.DB
	svc    *identity.Service
	mailer *identity.MemoryMailer
	bus    *identity.MemoryBus
	clock  *testClock
}

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()
	ctx := context.Background()

	client, err := storage.Open(ctx, storage.Config{
		Driver: storage.DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	}, storage.WithMigrations(portal.GetMigrationsFS()))
	require.NoError(t, err)
	t.Cleanup(func() { client.DB().Close() })

	require.NoError(t, client.Migrate(ctx))

	return client.DB()
}

func newFixture(t *testing.T, mutate ...func(*identity.Config)) *fixture {
	t.Helper()

	f := &fixture{
		db:     setupTestDB(t),
		mailer: &identity.MemoryMailer{},
		bus:    identity.NewMemoryBus(),
		clock:  newTestClock(),
	}

	cfg := identity.Config{
		SigningKey: []byte("test-signing-key"),
		SessionTTL: time.Hour,
		BcryptCost: 4,
		SiteURL:    "http://localhost:8080/",
	}
	for _, m := range mutate {
		m(&cfg)
	}

	svc, err := identity.NewService(f.db, cfg,
		identity.WithMailer(f.mailer),
		identity.WithBus(f.bus),
		identity.WithClock(f.clock.Now),
	)
	require.NoError(t, err)
	f.svc = svc

	return f
}

func (f *fixture) lastLinkToken(t *testing.T) string {
	t.Helper()
	msg, ok := f.mailer.Last()
	require.True(t, ok, "expected a mail to be sent")
	return path.Base(msg.Link)
}

// registerConfirmed signs up and confirms an account
func (f *fixture) registerConfirmed(t *testing.T, email, password string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.svc.SignUp(ctx, email, password))
	require.NoError(t, f.svc.ConfirmEmail(ctx, f.lastLinkToken(t)))
}

func TestNewServiceRequiresSigningKey(t *testing.T) {
	db := setupTestDB(t)
	_, err := identity.NewService(db, identity.Config{})
	require.Error(t, err)
	assert.True(t, goerrors.IsValidation(err))
}

func TestSignUpMailsConfirmationLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SignUp(ctx, "Ana@Example.com", "secret1"))

	msg, ok := f.mailer.Last()
	require.True(t, ok)
	assert.Equal(t, "ana@example.com", msg.To)
	assert.True(t, strings.HasPrefix(msg.Link, "http://localhost:8080/confirm/"), msg.Link)

	_, err := f.svc.SignIn(ctx, "dev-1", "ana@example.com", "secret1")
	require.Error(t, err)
	assert.Equal(t, portal.KindEmailNotConfirmed, portal.KindOf(err))

	require.NoError(t, f.svc.ConfirmEmail(ctx, f.lastLinkToken(t)))

	session, err := f.svc.SignIn(ctx, "dev-1", "ana@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", session.Principal.Email)
	assert.NotEmpty(t, session.AccessToken)
	assert.Equal(t, f.clock.Now().Add(time.Hour), session.ExpiresAt)
}

func TestSignUpAutoConfirm(t *testing.T) {
	f := newFixture(t, func(c *identity.Config) { c.AutoConfirm = true })
	ctx := context.Background()

	require.NoError(t, f.svc.SignUp(ctx, "auto@example.com", "secret1"))
	assert.Empty(t, f.mailer.Sent())

	_, err := f.svc.SignIn(ctx, "dev-1", "auto@example.com", "secret1")
	require.NoError(t, err)
}

func TestSignUpDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SignUp(ctx, "dup@example.com", "secret1"))
	err := f.svc.SignUp(ctx, " DUP@example.com ", "secret2")
	require.Error(t, err)
	assert.Equal(t, portal.KindEmailAlreadyRegistered, portal.KindOf(err))
}

func TestConfirmEmailLinkErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.ConfirmEmail(ctx, "not-a-token")
	require.Error(t, err)
	assert.True(t, goerrors.IsNotFound(err))

	err = f.svc.ConfirmEmail(ctx, uuid.NewString())
	require.Error(t, err)
	assert.True(t, goerrors.IsNotFound(err))

	require.NoError(t, f.svc.SignUp(ctx, "link@example.com", "secret1"))
	token := f.lastLinkToken(t)
	require.NoError(t, f.svc.ConfirmEmail(ctx, token))

	err = f.svc.ConfirmEmail(ctx, token)
	require.Error(t, err)
	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, goerrors.TextCodeTokenAlreadyUsed, richErr.TextCode)
}

func TestSignInWrongPasswordTracksAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerConfirmed(t, "try@example.com", "secret1")

	for i := 0; i < identity.MaxLoginAttempts; i++ {
		_, err := f.svc.SignIn(ctx, "dev-1", "try@example.com", "wrong-password")
		require.Error(t, err)
		assert.Equal(t, portal.KindInvalidCredentials, portal.KindOf(err))
	}

	user, err := f.svc.Repositories().Users().GetByEmail(ctx, "try@example.com")
	require.NoError(t, err)
	assert.Equal(t, identity.MaxLoginAttempts, user.LoginAttempts)

	_, err = f.svc.SignIn(ctx, "dev-1", "try@example.com", "secret1")
	require.Error(t, err)
	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, goerrors.TextCodeTooManyAttempts, richErr.Metadata["reason"])

	f.clock.Advance(identity.CoolDownPeriod + time.Minute)

	_, err = f.svc.SignIn(ctx, "dev-1", "try@example.com", "secret1")
	require.NoError(t, err)

	user, err = f.svc.Repositories().Users().GetByEmail(ctx, "try@example.com")
	require.NoError(t, err)
	assert.Zero(t, user.LoginAttempts)
	assert.NotNil(t, user.LastSignInAt)
}

func TestSignInUnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SignIn(context.Background(), "dev-1", "ghost@example.com", "secret1")
	require.Error(t, err)
	assert.Equal(t, portal.KindInvalidCredentials, portal.KindOf(err))
}

func TestResolveSessionAndSignOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerConfirmed(t, "out@example.com", "secret1")

	session, err := f.svc.SignIn(ctx, "dev-1", "out@example.com", "secret1")
	require.NoError(t, err)

	resolved, claims, err := f.svc.ResolveSession(ctx, session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, session.Principal, resolved.Principal)
	assert.Equal(t, session.Principal.ID, claims.Subject)

	require.NoError(t, f.svc.SignOut(ctx, session.AccessToken, "dev-1"))

	_, _, err = f.svc.ResolveSession(ctx, session.AccessToken)
	require.Error(t, err)
	assert.True(t, goerrors.IsAuth(err))

	// second sign out of the same token is not an error
	require.NoError(t, f.svc.SignOut(ctx, session.AccessToken, "dev-1"))
	require.NoError(t, f.svc.SignOut(ctx, "garbage", "dev-1"))
}

func TestResolveSessionExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerConfirmed(t, "exp@example.com", "secret1")

	session, err := f.svc.SignIn(ctx, "dev-1", "exp@example.com", "secret1")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)

	_, _, err = f.svc.ResolveSession(ctx, session.AccessToken)
	require.Error(t, err)
	assert.Equal(t, portal.KindUnauthenticated, portal.KindOf(err))
}

func TestRefreshKeepsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerConfirmed(t, "ref@example.com", "secret1")

	session, err := f.svc.SignIn(ctx, "dev-1", "ref@example.com", "secret1")
	require.NoError(t, err)

	f.clock.Advance(50 * time.Minute)

	next, err := f.svc.Refresh(ctx, session.AccessToken)
	require.NoError(t, err)
	assert.NotEqual(t, session.AccessToken, next.AccessToken)
	assert.True(t, next.ExpiresAt.After(session.ExpiresAt))

	_, oldClaims, err := f.svc.ResolveSession(ctx, session.AccessToken)
	require.NoError(t, err)
	_, newClaims, err := f.svc.ResolveSession(ctx, next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, oldClaims.SessionID, newClaims.SessionID)
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerConfirmed(t, "reset@example.com", "secret1")
	sent := len(f.mailer.Sent())

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "nobody@example.com", ""))
	assert.Len(t, f.mailer.Sent(), sent)

	session, err := f.svc.SignIn(ctx, "dev-1", "reset@example.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "reset@example.com", "https://portal.test/reset-password"))
	msg, ok := f.mailer.Last()
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(msg.Link, "https://portal.test/reset-password/"), msg.Link)
	token := path.Base(msg.Link)

	require.NoError(t, f.svc.FinalizePasswordReset(ctx, token, "brand-new"))

	_, _, err = f.svc.ResolveSession(ctx, session.AccessToken)
	require.Error(t, err, "existing sessions are revoked")

	_, err = f.svc.SignIn(ctx, "dev-1", "reset@example.com", "secret1")
	require.Error(t, err)

	_, err = f.svc.SignIn(ctx, "dev-1", "reset@example.com", "brand-new")
	require.NoError(t, err)

	err = f.svc.FinalizePasswordReset(ctx, token, "another-one")
	require.Error(t, err)
	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, goerrors.TextCodeTokenAlreadyUsed, richErr.TextCode)
}

func TestPasswordResetLinkExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerConfirmed(t, "late@example.com", "secret1")

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "late@example.com", ""))
	token := f.lastLinkToken(t)

	f.clock.Advance(identity.ResetLinkTTL + time.Minute)

	err := f.svc.FinalizePasswordReset(ctx, token, "brand-new")
	require.Error(t, err)
	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, goerrors.TextCodeVerificationExpired, richErr.TextCode)
}

func TestUpdatePasswordChecksCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerConfirmed(t, "chg@example.com", "secret1")

	session, err := f.svc.SignIn(ctx, "dev-1", "chg@example.com", "secret1")
	require.NoError(t, err)
	userID := uuid.MustParse(session.Principal.ID)

	err = f.svc.UpdatePassword(ctx, userID, "nope", "secret2")
	require.Error(t, err)
	assert.Equal(t, portal.KindInvalidCredentials, portal.KindOf(err))

	require.NoError(t, f.svc.UpdatePassword(ctx, userID, "secret1", "secret2"))

	_, err = f.svc.SignIn(ctx, "dev-2", "chg@example.com", "secret2")
	require.NoError(t, err)
}

func TestGetProfileAndSetAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerConfirmed(t, "boss@example.com", "secret1")

	profile, err := f.svc.GetProfile(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, profile)

	profile, err = f.svc.GetProfile(ctx, "not-a-uuid")
	require.NoError(t, err)
	assert.Nil(t, profile)

	session, err := f.svc.SignIn(ctx, "dev-1", "boss@example.com", "secret1")
	require.NoError(t, err)

	profile, err = f.svc.GetProfile(ctx, session.Principal.ID)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.False(t, profile.IsAdmin)

	require.NoError(t, f.svc.SetAdmin(ctx, "boss@example.com", true))

	profile, err = f.svc.GetProfile(ctx, session.Principal.ID)
	require.NoError(t, err)
	assert.True(t, profile.IsAdmin)

	err = f.svc.SetAdmin(ctx, "ghost@example.com", true)
	require.Error(t, err)
	assert.True(t, goerrors.IsNotFound(err))
}
