package portal

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
)

const (
	DefaultBootstrapTimeout = 5 * time.Second
	DefaultAdminTimeout     = 5 * time.Second
	MinPasswordLength       = 6
)

// Navigation targets used by provider operations
const (
	PathDashboard     = "/dashboard"
	PathLogin         = "/login"
	PathResetPassword = "/reset-password"
)

// ProviderOption customizes provider construction.
type ProviderOption func(*Provider)

// WithProviderLogger overrides the provider logger
func WithProviderLogger(logger Logger) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithProviderNotifier sets the default notifier
func WithProviderNotifier(n Notifier) ProviderOption {
	return func(p *Provider) {
		if n != nil {
			p.notifier = n
		}
	}
}

// WithProviderNavigator sets the default navigator
func WithProviderNavigator(nav Navigator) ProviderOption {
	return func(p *Provider) {
		if nav != nil {
			p.navigator = nav
		}
	}
}

// WithProviderActivitySink sets the ActivitySink used to publish session events.
func WithProviderActivitySink(sink ActivitySink) ProviderOption {
	return func(p *Provider) {
		p.activity = normalizeActivitySink(sink)
	}
}

// WithBootstrapTimeout bounds the initial session query. A query that
// does not answer in time resolves to the unauthenticated state.
func WithBootstrapTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) {
		if d > 0 {
			p.bootstrapTimeout = d
		}
	}
}

// WithAdminTimeout bounds each admin privilege lookup.
func WithAdminTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) {
		if d > 0 {
			p.adminTimeout = d
		}
	}
}

// WithSiteURL sets the public base URL used to build password reset links.
func WithSiteURL(url string) ProviderOption {
	return func(p *Provider) {
		p.siteURL = strings.TrimRight(url, "/")
	}
}

// WithDeviceID tags activity events with the device the provider serves.
func WithDeviceID(id string) ProviderOption {
	return func(p *Provider) {
		p.deviceID = id
	}
}

// WithProviderClock injects a custom clock (useful for tests).
func WithProviderClock(clock func() time.Time) ProviderOption {
	return func(p *Provider) {
		if clock != nil {
			p.now = clock
		}
	}
}

// Provider owns the session state of one device. All state changes are
// applied by a single loop goroutine; readers observe immutable snapshots.
type Provider struct {
	backend          Backend
	logger           Logger
	notifier         Notifier
	navigator        Navigator
	activity         ActivitySink
	deviceID         string
	siteURL          string
	bootstrapTimeout time.Duration
	adminTimeout     time.Duration
	now              func() time.Time

	snapshot atomic.Pointer[Snapshot]
	mu       sync.Mutex
	changed  chan struct{}

	mutations    chan mutation
	adminResults chan adminResult

	ctx      context.Context
	cancel   context.CancelFunc
	lifeMu   sync.Mutex
	started  atomic.Bool
	closed   bool
	done     chan struct{}
	lastSeen atomic.Int64
}

type mutation struct {
	apply func(st *loopState)
	done  chan struct{}
}

type adminResult struct {
	principalID string
	generation  uint64
	granted     bool
}

// NewProvider returns a provider for the given backend. Call Start to run
// the initialization protocol.
func NewProvider(backend Backend, opts ...ProviderOption) *Provider {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Provider{
		backend:          backend,
		logger:           defLogger{},
		notifier:         noopNotifier{},
		navigator:        noopNavigator{},
		activity:         noopActivitySink{},
		bootstrapTimeout: DefaultBootstrapTimeout,
		adminTimeout:     DefaultAdminTimeout,
		now:              time.Now,
		changed:          make(chan struct{}),
		mutations:        make(chan mutation),
		adminResults:     make(chan adminResult, 8),
		ctx:              ctx,
		cancel:           cancel,
		done:             make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	p.snapshot.Store(&Snapshot{
		State:     StateUninitialized,
		Loading:   true,
		Admin:     AdminDenied,
		UpdatedAt: p.now(),
	})
	p.Touch()

	return p
}

// Start runs the initialization protocol in the background. Calling Start
// more than once has no effect.
func (p *Provider) Start(ctx context.Context) error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	if p.closed {
		return ErrProviderClosed
	}
	if p.started.Load() {
		return nil
	}

	st := &loopState{
		state:   StateUninitialized,
		loading: true,
		admin:   AdminDenied,
	}
	p.transition(st, StateLoading)
	p.publish(st)
	p.started.Store(true)
	go p.run(st)

	return nil
}

// Close unsubscribes from the backend, stops the loop and discards any
// admin resolution still in flight. It is safe to call more than once.
func (p *Provider) Close() error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	p.cancel()
	if p.started.Load() {
		<-p.done
	}

	prev := p.Snapshot()
	p.publish(&loopState{
		state:   StateClosed,
		admin:   AdminDenied,
		version: prev.Version,
	})
	p.logger.Debug("session provider closed", "device", p.deviceID)
	return nil
}

// Done is closed once Close has been called
func (p *Provider) Done() <-chan struct{} {
	return p.ctx.Done()
}

// Snapshot returns the latest published state
func (p *Provider) Snapshot() Snapshot {
	return *p.snapshot.Load()
}

// Changed returns a channel that is closed on the next published change.
func (p *Provider) Changed() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changed
}

// WaitFor blocks until a published snapshot satisfies the predicate, the
// provider closes, or the context ends. The last observed snapshot is
// always returned.
func (p *Provider) WaitFor(ctx context.Context, predicate func(Snapshot) bool) (Snapshot, error) {
	for {
		ch := p.Changed()
		snap := p.Snapshot()
		if predicate == nil || predicate(snap) {
			return snap, nil
		}
		if snap.State == StateClosed {
			return snap, ErrProviderClosed
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// DeviceID returns the device the provider serves
func (p *Provider) DeviceID() string {
	return p.deviceID
}

// Backend returns the backend the provider drives
func (p *Provider) Backend() Backend {
	return p.backend
}

// Touch records activity on the provider, used by the hub to reap idle ones.
func (p *Provider) Touch() {
	p.lastSeen.Store(p.now().UnixNano())
}

// LastSeen returns the time of the last recorded activity
func (p *Provider) LastSeen() time.Time {
	return time.Unix(0, p.lastSeen.Load())
}

// SignUp registers a new account. The account must be confirmed by email
// before it can sign in, so no session is applied.
func (p *Provider) SignUp(ctx context.Context, email, password string) error {
	if err := p.ready(); err != nil {
		return err
	}

	if err := ValidateCredentials(email, password); err != nil {
		p.notifyError(ctx, "Erro ao criar conta", err)
		return err
	}

	if err := p.backend.SignUp(ctx, email, password); err != nil {
		richErr := classifyError("sign_up", err)
		p.record(ctx, ActivityEventSignUpFailure, "", map[string]any{
			"email": email,
			"kind":  KindOf(richErr).String(),
		})
		p.notifyError(ctx, "Erro ao criar conta", richErr)
		return richErr
	}

	p.record(ctx, ActivityEventSignUp, "", map[string]any{"email": email})
	p.notify(ctx, Notification{
		Title:       "Conta criada com sucesso!",
		Description: "Verifique seu e-mail para confirmar seu registro.",
		Variant:     VariantDefault,
	})
	return nil
}

// SignIn authenticates against the backend and applies the resulting
// session before navigating to the dashboard.
func (p *Provider) SignIn(ctx context.Context, email, password string) error {
	if err := p.ready(); err != nil {
		return err
	}

	if err := ValidateCredentials(email, password); err != nil {
		p.notifyError(ctx, "Erro ao fazer login", err)
		return err
	}

	session, err := p.backend.SignIn(ctx, email, password)
	if err == nil && (session == nil || session.Principal.ID == "") {
		err = NewError(KindUnauthenticated, "backend returned no session")
	}

	if err != nil {
		richErr := classifyError("sign_in", err)
		p.record(ctx, ActivityEventLoginFailure, "", map[string]any{
			"email": email,
			"kind":  KindOf(richErr).String(),
		})
		p.notifyError(ctx, "Erro ao fazer login", richErr)
		return richErr
	}

	if err := p.submit(ctx, func(st *loopState) {
		p.applySession(st, session)
	}); err != nil {
		return err
	}

	p.record(ctx, ActivityEventLoginSuccess, session.Principal.ID, nil)
	p.notify(ctx, Notification{
		Title:   "Login realizado com sucesso!",
		Variant: VariantDefault,
	})
	p.navigate(ctx, PathDashboard)
	return nil
}

// SignOut invalidates the session at the backend. Local state is only
// cleared once the backend confirms.
func (p *Provider) SignOut(ctx context.Context) error {
	if err := p.ready(); err != nil {
		return err
	}

	principalID := ""
	if snap := p.Snapshot(); snap.Principal != nil {
		principalID = snap.Principal.ID
	}

	if err := p.backend.SignOut(ctx); err != nil {
		richErr := classifyError("sign_out", err)
		p.record(ctx, ActivityEventLogoutFailure, principalID, map[string]any{
			"kind": KindOf(richErr).String(),
		})
		p.notify(ctx, Notification{
			Title:       "Erro ao fazer logout",
			Description: "Ocorreu um erro ao encerrar sua sessão.",
			Variant:     VariantDestructive,
		})
		return richErr
	}

	if err := p.submit(ctx, func(st *loopState) {
		p.applySession(st, nil)
	}); err != nil {
		return err
	}

	p.record(ctx, ActivityEventLogout, principalID, nil)
	p.navigate(ctx, PathLogin)
	p.notify(ctx, Notification{
		Title:   "Logout realizado com sucesso!",
		Variant: VariantDefault,
	})
	return nil
}

// ResetPassword asks the backend to mail a reset link that resolves back
// into the reset confirmation page of this application.
func (p *Provider) ResetPassword(ctx context.Context, email string) error {
	if err := p.ready(); err != nil {
		return err
	}

	if err := ValidateEmail(email); err != nil {
		p.notifyError(ctx, "Erro ao redefinir senha", err)
		return err
	}

	returnURL := p.siteURL + PathResetPassword
	if err := p.backend.RequestPasswordReset(ctx, email, returnURL); err != nil {
		richErr := classifyError("reset_password", err)
		p.notifyError(ctx, "Erro ao redefinir senha", richErr)
		return richErr
	}

	p.record(ctx, ActivityEventPasswordResetRequest, "", map[string]any{"email": email})
	p.notify(ctx, Notification{
		Title:       "Link de redefinição enviado!",
		Description: "Verifique seu e-mail para redefinir sua senha.",
		Variant:     VariantDefault,
	})
	return nil
}

// ChangePassword updates the password of the signed in principal.
func (p *Provider) ChangePassword(ctx context.Context, current, next string) error {
	if err := p.ready(); err != nil {
		return err
	}

	snap := p.Snapshot()
	if snap.Principal == nil {
		err := NewError(KindUnauthenticated, "no active session")
		p.notifyError(ctx, "Erro ao alterar senha", err)
		return err
	}

	if err := ValidatePasswordChange(current, next); err != nil {
		p.notifyError(ctx, "Erro ao alterar senha", err)
		return err
	}

	if err := p.backend.UpdatePassword(ctx, current, next); err != nil {
		richErr := classifyError("change_password", err)
		p.record(ctx, ActivityEventPasswordChangeFailure, snap.Principal.ID, map[string]any{
			"kind": KindOf(richErr).String(),
		})
		p.notifyError(ctx, "Erro ao alterar senha", richErr)
		return richErr
	}

	p.record(ctx, ActivityEventPasswordChanged, snap.Principal.ID, nil)
	p.notify(ctx, Notification{
		Title:       "Senha alterada",
		Description: "A sua palavra-passe foi atualizada com sucesso.",
		Variant:     VariantDefault,
	})
	return nil
}

func (p *Provider) ready() error {
	if p.ctx.Err() != nil {
		return ErrProviderClosed
	}
	if !p.started.Load() {
		return ErrProviderNotStarted
	}
	p.Touch()
	return nil
}

func (p *Provider) run(st *loopState) {
	defer close(p.done)

	ctx := p.ctx

	var events <-chan SessionEvent
	sub, err := p.backend.Subscribe(ctx)
	if err != nil {
		p.logger.Warn("session change subscription failed", "device", p.deviceID, "error", err)
	} else if sub != nil {
		defer sub.Unsubscribe()
		events = sub.Events()
	}

	session := p.bootstrap(ctx)
	if ctx.Err() != nil {
		return
	}

	p.applySession(st, session)
	p.publish(st)

	restored := ""
	if session != nil {
		restored = session.Principal.ID
	}
	p.record(ctx, ActivityEventSessionRestored, restored, map[string]any{
		"authenticated": session != nil,
	})

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				p.logger.Debug("session change stream closed", "device", p.deviceID)
				events = nil
				continue
			}
			p.applySession(st, ev.Session)
			p.publish(st)
			p.record(ctx, ActivityEventSessionChanged, principalIDOf(ev.Session), map[string]any{
				"kind": string(ev.Kind),
			})
		case m := <-p.mutations:
			m.apply(st)
			p.publish(st)
			close(m.done)
		case res := <-p.adminResults:
			if p.applyAdmin(st, res) {
				p.publish(st)
			}
		}
	}
}

func (p *Provider) bootstrap(ctx context.Context) *Session {
	ctx, cancel := context.WithTimeout(ctx, p.bootstrapTimeout)
	defer cancel()

	type result struct {
		session *Session
		err     error
	}

	out := make(chan result, 1)
	go func() {
		session, err := p.backend.GetSession(ctx)
		out <- result{session: session, err: err}
	}()

	select {
	case res := <-out:
		if res.err != nil {
			p.logger.Warn("session bootstrap failed", "device", p.deviceID, "kind", Classify(res.err).String(), "error", res.err)
			return nil
		}
		if res.session == nil || res.session.Principal.ID == "" {
			return nil
		}
		return res.session
	case <-ctx.Done():
		p.logger.Warn("session bootstrap timed out", "device", p.deviceID, "timeout", p.bootstrapTimeout.String())
		return nil
	}
}

// applySession replaces the principal and schedules the admin lookup. It
// must only be called from the loop goroutine.
func (p *Provider) applySession(st *loopState, session *Session) {
	st.loading = false

	if session == nil || session.Principal.ID == "" {
		p.transition(st, StateUnauthenticated)
		st.session = nil
		st.principal = nil
		st.admin = AdminDenied
		st.adminGen++
		return
	}

	prev := st.principal
	s := *session
	principal := s.Principal

	p.transition(st, StateAuthenticated)
	st.session = &s
	st.principal = &principal

	if prev == nil || prev.ID != principal.ID {
		st.admin = AdminPending
	}

	st.adminGen++
	p.resolveAdmin(principal.ID, st.adminGen)
}

func (p *Provider) resolveAdmin(principalID string, generation uint64) {
	ctx := p.ctx
	go func() {
		lookupCtx, cancel := context.WithTimeout(ctx, p.adminTimeout)
		defer cancel()

		granted := ResolveAdminPrivilege(lookupCtx, p.backend, principalID, p.logger)

		select {
		case p.adminResults <- adminResult{principalID: principalID, generation: generation, granted: granted}:
		case <-ctx.Done():
		}
	}()
}

// applyAdmin applies a lookup result only when it belongs to the current
// principal and is the latest lookup started.
func (p *Provider) applyAdmin(st *loopState, res adminResult) bool {
	if st.principal == nil || st.principal.ID != res.principalID || st.adminGen != res.generation {
		p.logger.Debug("discarding stale admin resolution", "principal", res.principalID, "generation", res.generation)
		return false
	}

	next := AdminDenied
	if res.granted {
		next = AdminGranted
	}

	p.record(p.ctx, ActivityEventAdminResolved, res.principalID, map[string]any{
		"granted": res.granted,
	})

	if st.admin == next {
		return false
	}
	st.admin = next
	return true
}

func (p *Provider) transition(st *loopState, to AuthState) {
	if err := checkTransition(st.state, to); err != nil {
		p.logger.Error("auth state transition rejected", "from", st.state, "to", to, "error", err)
		return
	}
	st.state = to
}

func (p *Provider) publish(st *loopState) {
	st.version++
	p.snapshot.Store(st.snapshot(p.now()))

	p.mu.Lock()
	close(p.changed)
	p.changed = make(chan struct{})
	p.mu.Unlock()
}

func (p *Provider) submit(ctx context.Context, apply func(st *loopState)) error {
	m := mutation{apply: apply, done: make(chan struct{})}

	select {
	case p.mutations <- m:
	case <-p.ctx.Done():
		return ErrProviderClosed
	case <-ctx.Done():
		return WrapError(ctx.Err(), KindNetwork, "operation cancelled")
	}

	select {
	case <-m.done:
		return nil
	case <-p.done:
		return ErrProviderClosed
	}
}

func (p *Provider) notify(ctx context.Context, n Notification) {
	if override, ok := NotifierFromContext(ctx); ok {
		override.Notify(ctx, n)
		return
	}
	p.notifier.Notify(ctx, n)
}

func (p *Provider) notifyError(ctx context.Context, title string, err error) {
	p.notify(ctx, Notification{
		Title:       title,
		Description: ErrorMessage(err),
		Variant:     VariantDestructive,
	})
}

func (p *Provider) navigate(ctx context.Context, path string) {
	if override, ok := NavigatorFromContext(ctx); ok {
		override.Navigate(ctx, path)
		return
	}
	p.navigator.Navigate(ctx, path)
}

func (p *Provider) record(ctx context.Context, eventType ActivityEventType, principalID string, metadata map[string]any) {
	event := ActivityEvent{
		EventType:   eventType,
		DeviceID:    p.deviceID,
		PrincipalID: principalID,
		Metadata:    metadata,
		OccurredAt:  p.now(),
	}
	if err := normalizeActivitySink(p.activity).Record(ctx, event); err != nil {
		p.logger.Warn("activity sink record error", "event", eventType, "error", err)
	}
}

func principalIDOf(s *Session) string {
	if s == nil {
		return ""
	}
	return s.Principal.ID
}

// ValidateEmail checks that the address is syntactically valid
func ValidateEmail(email string) error {
	if verr := goerrors.ValidateWithOzzo(func() error {
		return validation.Errors{
			"email": validation.Validate(email, validation.Required, is.EmailFormat),
		}.Filter()
	}, "invalid email address"); verr != nil {
		return verr.WithCode(goerrors.CodeBadRequest).WithTextCode(TextCodeInvalidCredentialsFormat)
	}
	return nil
}

// ValidateCredentials checks the email format and the minimum password
// length before any backend call is made.
func ValidateCredentials(email, password string) error {
	if verr := goerrors.ValidateWithOzzo(func() error {
		return validation.Errors{
			"email":    validation.Validate(email, validation.Required, is.EmailFormat),
			"password": validation.Validate(password, validation.Required, validation.RuneLength(MinPasswordLength, 0)),
		}.Filter()
	}, "invalid credentials format"); verr != nil {
		return verr.WithCode(goerrors.CodeBadRequest).WithTextCode(TextCodeInvalidCredentialsFormat)
	}
	return nil
}

// ValidatePasswordChange checks both passwords of a change request
func ValidatePasswordChange(current, next string) error {
	if verr := goerrors.ValidateWithOzzo(func() error {
		return validation.Errors{
			"current_password": validation.Validate(current, validation.Required),
			"password":         validation.Validate(next, validation.Required, validation.RuneLength(MinPasswordLength, 0)),
		}.Filter()
	}, "invalid password"); verr != nil {
		return verr.WithCode(goerrors.CodeBadRequest).WithTextCode(TextCodeValidation)
	}
	return nil
}
