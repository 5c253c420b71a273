package portal_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	portal "github.com/goliatone/go-portal"
	"github.com/stretchr/testify/require"
)

const settleTimeout = 2 * time.Second

type stubBackend struct {
	mu sync.Mutex

	session      *portal.Session
	sessionErr   error
	blockSession bool

	profiles   map[string]*portal.Profile
	profileErr error
	panicOn    string
	gates      map[string]chan struct{}

	signInSession *portal.Session
	signInErr     error
	signOutErr    error
	resetURL      string

	events chan portal.SessionEvent
	calls  map[string]int
}

func newStubBackend() *stubBackend {
	return &stubBackend{
		profiles: make(map[string]*portal.Profile),
		gates:    make(map[string]chan struct{}),
		events:   make(chan portal.SessionEvent),
		calls:    make(map[string]int),
	}
}

func (b *stubBackend) called(op string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[op]++
}

func (b *stubBackend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

func (b *stubBackend) GetProfile(ctx context.Context, id string) (*portal.Profile, error) {
	b.called("GetProfile")

	b.mu.Lock()
	gate := b.gates[id]
	profile := b.profiles[id]
	err := b.profileErr
	panicOn := b.panicOn
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if panicOn == id {
		panic("profile store exploded")
	}

	if err != nil {
		return nil, err
	}
	return profile, nil
}

func (b *stubBackend) GetSession(ctx context.Context) (*portal.Session, error) {
	b.called("GetSession")

	b.mu.Lock()
	block := b.blockSession
	session := b.session
	err := b.sessionErr
	b.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return session, err
}

func (b *stubBackend) Subscribe(context.Context) (portal.Subscription, error) {
	b.called("Subscribe")
	return &stubSubscription{events: b.events}, nil
}

func (b *stubBackend) SignUp(context.Context, string, string) error {
	b.called("SignUp")
	return nil
}

func (b *stubBackend) SignIn(context.Context, string, string) (*portal.Session, error) {
	b.called("SignIn")
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.signInSession, b.signInErr
}

func (b *stubBackend) SignOut(context.Context) error {
	b.called("SignOut")
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.signOutErr
}

func (b *stubBackend) RequestPasswordReset(_ context.Context, _, returnURL string) error {
	b.called("RequestPasswordReset")
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetURL = returnURL
	return nil
}

func (b *stubBackend) UpdatePassword(context.Context, string, string) error {
	b.called("UpdatePassword")
	return nil
}

type stubSubscription struct {
	events chan portal.SessionEvent
}

func (s *stubSubscription) Events() <-chan portal.SessionEvent { return s.events }

func (s *stubSubscription) Unsubscribe() {}

// refreshingBackend also implements portal.Refresher
type refreshingBackend struct {
	*stubBackend
	thresholds chan time.Duration
}

func (b *refreshingBackend) RefreshIfNeeded(_ context.Context, threshold time.Duration) (bool, error) {
	b.thresholds <- threshold
	return true, nil
}

type feedback struct {
	mu    sync.Mutex
	notes []portal.Notification
	paths []string
}

func (f *feedback) Notify(_ context.Context, n portal.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, n)
}

func (f *feedback) Navigate(_ context.Context, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
}

func (f *feedback) Notes() []portal.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]portal.Notification(nil), f.notes...)
}

func (f *feedback) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

type activityLog struct {
	mu     sync.Mutex
	events []portal.ActivityEvent
}

func (a *activityLog) Record(_ context.Context, event portal.ActivityEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *activityLog) Types() []portal.ActivityEventType {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]portal.ActivityEventType, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.EventType)
	}
	return out
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) log(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf("%s %s", level, msg))
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.log("DBG", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.log("INF", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.log("WRN", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.log("ERR", msg) }

func (l *recordingLogger) Contains(line string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, got := range l.lines {
		if got == line {
			return true
		}
	}
	return false
}

func session(id, email string) *portal.Session {
	now := time.Now()
	return &portal.Session{
		AccessToken: "token-" + id,
		Principal:   portal.Principal{ID: id, Email: email},
		IssuedAt:    now,
		ExpiresAt:   now.Add(time.Hour),
	}
}

func startProvider(t *testing.T, backend portal.Backend, opts ...portal.ProviderOption) *portal.Provider {
	t.Helper()
	opts = append([]portal.ProviderOption{portal.WithProviderLogger(&recordingLogger{})}, opts...)
	p := portal.NewProvider(backend, opts...)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { p.Close() })
	return p
}

func waitFor(t *testing.T, p *portal.Provider, pred func(portal.Snapshot) bool) portal.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	snap, err := p.WaitFor(ctx, pred)
	require.NoError(t, err)
	return snap
}

func settled(s portal.Snapshot) bool {
	return !s.Loading && s.AdminSettled()
}
