package portal_test

import (
	"context"
	"errors"
	"testing"
	"time"

	portal "github.com/goliatone/go-portal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderStartsLoading(t *testing.T) {
	p := portal.NewProvider(newStubBackend(), portal.WithProviderLogger(&recordingLogger{}))
	defer p.Close()

	snap := p.Snapshot()
	assert.True(t, snap.Loading)
	assert.Equal(t, portal.StateUninitialized, snap.State)
	assert.Nil(t, snap.Principal)
	assert.False(t, snap.IsAdministrator())
}

func TestBootstrapWithoutSession(t *testing.T) {
	backend := newStubBackend()
	p := startProvider(t, backend)

	snap := waitFor(t, p, settled)

	assert.False(t, snap.Loading)
	assert.Equal(t, portal.StateUnauthenticated, snap.State)
	assert.Nil(t, snap.Principal)
	assert.False(t, snap.IsAdministrator())

	decision := portal.Decide(portal.GuardStandard, snap, "/dashboard/services")
	assert.Equal(t, portal.OutcomeRedirect, decision.Outcome)
	assert.Equal(t, portal.PathLogin, decision.Redirect)
	assert.Equal(t, "/dashboard/services", decision.From)
}

func TestBootstrapWithAdminSession(t *testing.T) {
	backend := newStubBackend()
	backend.session = session("u1", "admin@example.com")
	backend.profiles["u1"] = &portal.Profile{ID: "u1", IsAdmin: true}

	p := startProvider(t, backend)

	snap := waitFor(t, p, func(s portal.Snapshot) bool {
		return settled(s) && s.Admin == portal.AdminGranted
	})

	require.NotNil(t, snap.Principal)
	assert.Equal(t, "u1", snap.Principal.ID)
	assert.True(t, snap.IsAdministrator())
	assert.Equal(t, portal.OutcomeRender, portal.Decide(portal.GuardAdmin, snap, "/admin/support-tickets").Outcome)
	assert.Equal(t, portal.OutcomeRender, portal.Decide(portal.GuardStandard, snap, "/dashboard").Outcome)
}

func TestLoadingClearsOnceAcrossOperations(t *testing.T) {
	backend := newStubBackend()
	backend.signInSession = session("u1", "a@b.com")
	p := startProvider(t, backend)

	first := waitFor(t, p, settled)
	require.False(t, first.Loading)

	require.NoError(t, p.SignIn(context.Background(), "a@b.com", "secret1"))
	assert.False(t, p.Snapshot().Loading)

	require.NoError(t, p.SignOut(context.Background()))
	assert.False(t, p.Snapshot().Loading)
	assert.Equal(t, 1, backend.Calls("GetSession"))
}

func TestBootstrapTimeoutSettlesUnauthenticated(t *testing.T) {
	backend := newStubBackend()
	backend.blockSession = true

	p := startProvider(t, backend, portal.WithBootstrapTimeout(50*time.Millisecond))

	snap := waitFor(t, p, settled)
	assert.False(t, snap.Loading)
	assert.Nil(t, snap.Principal)
}

func TestBootstrapErrorSettlesUnauthenticated(t *testing.T) {
	backend := newStubBackend()
	backend.sessionErr = errors.New("connection refused")

	p := startProvider(t, backend)

	snap := waitFor(t, p, settled)
	assert.Equal(t, portal.StateUnauthenticated, snap.State)
	assert.Nil(t, snap.Principal)
}

func TestSignInRejectsShortPasswordBeforeBackend(t *testing.T) {
	backend := newStubBackend()
	fb := &feedback{}
	p := startProvider(t, backend, portal.WithProviderNotifier(fb))
	before := waitFor(t, p, settled)

	err := p.SignIn(context.Background(), "a@b.com", "short")
	require.Error(t, err)

	assert.Equal(t, portal.KindInvalidCredentialsFormat, portal.KindOf(err))
	assert.Zero(t, backend.Calls("SignIn"))
	assert.Equal(t, before.Version, p.Snapshot().Version)

	notes := fb.Notes()
	require.Len(t, notes, 1)
	assert.Equal(t, "Erro ao fazer login", notes[0].Title)
	assert.True(t, notes[0].IsError())
}

func TestSignInNonAdministrator(t *testing.T) {
	backend := newStubBackend()
	backend.signInSession = session("u2", "user@example.com")
	backend.profiles["u2"] = &portal.Profile{ID: "u2", IsAdmin: false}

	fb := &feedback{}
	activity := &activityLog{}
	p := startProvider(t, backend, portal.WithProviderActivitySink(activity))
	waitFor(t, p, settled)

	ctx := portal.WithNavigator(portal.WithNotifier(context.Background(), fb), fb)
	require.NoError(t, p.SignIn(ctx, "user@example.com", "secret1"))

	assert.Equal(t, []string{portal.PathDashboard}, fb.Paths())
	notes := fb.Notes()
	require.Len(t, notes, 1)
	assert.Equal(t, "Login realizado com sucesso!", notes[0].Title)
	assert.False(t, notes[0].IsError())

	snap := waitFor(t, p, settled)
	require.NotNil(t, snap.Principal)
	assert.Equal(t, "u2", snap.Principal.ID)
	assert.False(t, snap.IsAdministrator())

	decision := portal.Decide(portal.GuardAdmin, snap, "/dashboard/billing")
	assert.Equal(t, portal.OutcomeRedirect, decision.Outcome)
	assert.Equal(t, portal.PathDashboard, decision.Redirect)

	assert.Contains(t, activity.Types(), portal.ActivityEventLoginSuccess)
}

func TestSignInBackendFailureIsClassified(t *testing.T) {
	backend := newStubBackend()
	backend.signInErr = portal.NewError(portal.KindInvalidCredentials, "Invalid login credentials")

	fb := &feedback{}
	activity := &activityLog{}
	p := startProvider(t, backend, portal.WithProviderNotifier(fb), portal.WithProviderActivitySink(activity))
	waitFor(t, p, settled)

	err := p.SignIn(context.Background(), "a@b.com", "secret1")
	require.Error(t, err)
	assert.Equal(t, portal.KindInvalidCredentials, portal.KindOf(err))

	notes := fb.Notes()
	require.Len(t, notes, 1)
	assert.Equal(t, "Invalid login credentials", notes[0].Description)
	assert.Nil(t, p.Snapshot().Principal)
	assert.Contains(t, activity.Types(), portal.ActivityEventLoginFailure)
}

func TestSignInWithoutSessionIsUnauthenticated(t *testing.T) {
	backend := newStubBackend()
	p := startProvider(t, backend)
	waitFor(t, p, settled)

	err := p.SignIn(context.Background(), "a@b.com", "secret1")
	require.Error(t, err)
	assert.Equal(t, portal.KindUnauthenticated, portal.KindOf(err))
}

func TestRemoteSignOutClearsPrincipal(t *testing.T) {
	backend := newStubBackend()
	backend.session = session("u1", "admin@example.com")
	backend.profiles["u1"] = &portal.Profile{ID: "u1", IsAdmin: true}

	p := startProvider(t, backend)
	waitFor(t, p, func(s portal.Snapshot) bool { return s.IsAdministrator() })

	backend.events <- portal.SessionEvent{Kind: portal.EventSignedOut}

	snap := waitFor(t, p, func(s portal.Snapshot) bool { return s.Principal == nil })
	assert.False(t, snap.IsAdministrator())
	assert.Equal(t, portal.StateUnauthenticated, snap.State)

	decision := portal.Decide(portal.GuardAdmin, snap, "/admin/support-tickets")
	assert.Equal(t, portal.OutcomeRedirect, decision.Outcome)
	assert.Equal(t, portal.PathLogin, decision.Redirect)
}

func TestSignOutTwiceIsIdempotent(t *testing.T) {
	backend := newStubBackend()
	backend.session = session("u1", "a@b.com")

	fb := &feedback{}
	p := startProvider(t, backend, portal.WithProviderNotifier(fb), portal.WithProviderNavigator(fb))
	waitFor(t, p, func(s portal.Snapshot) bool { return s.Principal != nil })

	for i := 0; i < 2; i++ {
		require.NoError(t, p.SignOut(context.Background()))
		snap := p.Snapshot()
		assert.Nil(t, snap.Principal)

		decision := portal.Decide(portal.GuardAdmin, snap, "/admin/support-tickets")
		assert.Equal(t, portal.PathLogin, decision.Redirect)
	}

	for _, n := range fb.Notes() {
		assert.False(t, n.IsError(), n.Title)
	}
	assert.Equal(t, []string{portal.PathLogin, portal.PathLogin}, fb.Paths())
}

func TestSignOutFailureKeepsSession(t *testing.T) {
	backend := newStubBackend()
	backend.session = session("u1", "a@b.com")
	backend.signOutErr = errors.New("backend unavailable")

	fb := &feedback{}
	p := startProvider(t, backend, portal.WithProviderNotifier(fb))
	waitFor(t, p, func(s portal.Snapshot) bool { return s.Principal != nil })

	require.Error(t, p.SignOut(context.Background()))
	assert.NotNil(t, p.Snapshot().Principal)

	notes := fb.Notes()
	require.Len(t, notes, 1)
	assert.Equal(t, "Erro ao fazer logout", notes[0].Title)
}

func TestAdminResolutionDegradesToDenied(t *testing.T) {
	cases := map[string]func(b *stubBackend){
		"missing profile": func(b *stubBackend) {},
		"not admin": func(b *stubBackend) {
			b.profiles["u1"] = &portal.Profile{ID: "u1"}
		},
		"lookup failure": func(b *stubBackend) {
			b.profileErr = errors.New("profiles table locked")
		},
		"lookup panic": func(b *stubBackend) {
			b.panicOn = "u1"
		},
	}

	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			backend := newStubBackend()
			backend.session = session("u1", "a@b.com")
			setup(backend)

			p := startProvider(t, backend)
			snap := waitFor(t, p, func(s portal.Snapshot) bool {
				return s.Principal != nil && s.AdminSettled()
			})

			assert.Equal(t, portal.AdminDenied, snap.Admin)
			assert.False(t, snap.IsAdministrator())

			decision := portal.Decide(portal.GuardAdmin, snap, "/admin/support-tickets")
			assert.Equal(t, portal.OutcomeRedirect, decision.Outcome)
			assert.Equal(t, portal.PathDashboard, decision.Redirect)
		})
	}
}

func TestStaleAdminResolutionIsDiscarded(t *testing.T) {
	backend := newStubBackend()
	backend.session = session("u1", "first@example.com")
	backend.profiles["u1"] = &portal.Profile{ID: "u1", IsAdmin: true}
	backend.profiles["u2"] = &portal.Profile{ID: "u2", IsAdmin: false}
	gate := make(chan struct{})
	backend.gates["u1"] = gate

	logger := &recordingLogger{}
	p := startProvider(t, backend, portal.WithProviderLogger(logger))
	waitFor(t, p, func(s portal.Snapshot) bool { return s.Principal != nil })

	backend.events <- portal.SessionEvent{Kind: portal.EventSignedIn, Session: session("u2", "second@example.com")}
	snap := waitFor(t, p, func(s portal.Snapshot) bool {
		return s.Principal != nil && s.Principal.ID == "u2" && s.AdminSettled()
	})
	assert.Equal(t, portal.AdminDenied, snap.Admin)

	close(gate)
	require.Eventually(t, func() bool {
		return logger.Contains("DBG discarding stale admin resolution")
	}, settleTimeout, 10*time.Millisecond)

	final := p.Snapshot()
	assert.Equal(t, "u2", final.Principal.ID)
	assert.False(t, final.IsAdministrator())
}

func TestRefreshKeepsAdministratorFlag(t *testing.T) {
	backend := newStubBackend()
	backend.session = session("u1", "a@b.com")
	backend.profiles["u1"] = &portal.Profile{ID: "u1", IsAdmin: true}

	p := startProvider(t, backend)
	waitFor(t, p, func(s portal.Snapshot) bool { return s.IsAdministrator() })

	refreshed := session("u1", "a@b.com")
	refreshed.AccessToken = "token-u1-refreshed"
	backend.events <- portal.SessionEvent{Kind: portal.EventTokenRefreshed, Session: refreshed}

	snap := waitFor(t, p, func(s portal.Snapshot) bool {
		return s.Session != nil && s.Session.AccessToken == "token-u1-refreshed"
	})
	assert.Equal(t, portal.AdminGranted, snap.Admin)
}

func TestResetPasswordUsesSiteURL(t *testing.T) {
	backend := newStubBackend()
	fb := &feedback{}
	p := startProvider(t, backend, portal.WithSiteURL("https://portal.example.com"), portal.WithProviderNotifier(fb))
	waitFor(t, p, settled)

	require.NoError(t, p.ResetPassword(context.Background(), "a@b.com"))
	assert.Equal(t, "https://portal.example.com"+portal.PathResetPassword, backend.resetURL)

	notes := fb.Notes()
	require.Len(t, notes, 1)
	assert.Equal(t, "Link de redefinição enviado!", notes[0].Title)

	err := p.ResetPassword(context.Background(), "not-an-email")
	require.Error(t, err)
	assert.Equal(t, 1, backend.Calls("RequestPasswordReset"))
}

func TestSignUpDoesNotApplySession(t *testing.T) {
	backend := newStubBackend()
	fb := &feedback{}
	p := startProvider(t, backend, portal.WithProviderNotifier(fb))
	waitFor(t, p, settled)

	require.NoError(t, p.SignUp(context.Background(), "new@example.com", "secret1"))
	assert.Nil(t, p.Snapshot().Principal)
	assert.Equal(t, "Conta criada com sucesso!", fb.Notes()[0].Title)
}

func TestChangePasswordRequiresPrincipal(t *testing.T) {
	backend := newStubBackend()
	p := startProvider(t, backend)
	waitFor(t, p, settled)

	err := p.ChangePassword(context.Background(), "secret1", "secret2")
	require.Error(t, err)
	assert.Equal(t, portal.KindUnauthenticated, portal.KindOf(err))
	assert.Zero(t, backend.Calls("UpdatePassword"))
}

func TestChangePasswordValidatesNewPassword(t *testing.T) {
	backend := newStubBackend()
	backend.session = session("u1", "a@b.com")
	p := startProvider(t, backend)
	waitFor(t, p, func(s portal.Snapshot) bool { return s.Principal != nil })

	require.Error(t, p.ChangePassword(context.Background(), "secret1", "123"))
	assert.Zero(t, backend.Calls("UpdatePassword"))

	require.NoError(t, p.ChangePassword(context.Background(), "secret1", "secret2"))
	assert.Equal(t, 1, backend.Calls("UpdatePassword"))
}

func TestOperationsBeforeStart(t *testing.T) {
	p := portal.NewProvider(newStubBackend(), portal.WithProviderLogger(&recordingLogger{}))
	defer p.Close()

	err := p.SignIn(context.Background(), "a@b.com", "secret1")
	assert.Equal(t, portal.ErrProviderNotStarted, err)
}

func TestCloseIsIdempotentAndTerminal(t *testing.T) {
	p := portal.NewProvider(newStubBackend(), portal.WithProviderLogger(&recordingLogger{}))
	require.NoError(t, p.Start(context.Background()))
	waitFor(t, p, settled)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.Equal(t, portal.StateClosed, p.Snapshot().State)
	assert.Equal(t, portal.ErrProviderClosed, p.SignOut(context.Background()))
	assert.Equal(t, portal.ErrProviderClosed, p.Start(context.Background()))

	_, err := p.WaitFor(context.Background(), func(s portal.Snapshot) bool { return s.Principal != nil })
	assert.Equal(t, portal.ErrProviderClosed, err)
}
