package portal

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// LocalsDeviceKey is the router locals key holding the request device ID
const LocalsDeviceKey = "device_id"

// Template locals exposed to views rendered behind a guard
const (
	TemplateUserKey       = "current_user"
	TemplateAdminKey      = "is_admin"
	TemplateNavigationKey = "navigation"
)

// HTTPConfig holds the cookie names and wait windows of the HTTP layer
type HTTPConfig struct {
	DeviceCookie   string
	SessionCookie  string
	RedirectCookie string
	CookieSecure   bool
	DeviceTTL      time.Duration
	RedirectTTL    time.Duration
	// LoadingWait bounds how long a guard blocks for bootstrap to finish
	// before rendering the loading view.
	LoadingWait time.Duration
	// AdminWait bounds how long the admin guard blocks for privilege
	// resolution to settle.
	AdminWait   time.Duration
	LoadingView string
}

// DefaultHTTPConfig returns the configuration used when none is provided
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		DeviceCookie:   "portal_device",
		SessionCookie:  "portal_session",
		RedirectCookie: "portal_redirect",
		CookieSecure:   true,
		DeviceTTL:      365 * 24 * time.Hour,
		RedirectTTL:    5 * time.Minute,
		LoadingWait:    2 * time.Second,
		AdminWait:      2 * time.Second,
		LoadingView:    "loading",
	}
}

func (c HTTPConfig) withDefaults() HTTPConfig {
	def := DefaultHTTPConfig()
	if c.DeviceCookie == "" {
		c.DeviceCookie = def.DeviceCookie
	}
	if c.SessionCookie == "" {
		c.SessionCookie = def.SessionCookie
	}
	if c.RedirectCookie == "" {
		c.RedirectCookie = def.RedirectCookie
	}
	if c.DeviceTTL <= 0 {
		c.DeviceTTL = def.DeviceTTL
	}
	if c.RedirectTTL <= 0 {
		c.RedirectTTL = def.RedirectTTL
	}
	if c.LoadingView == "" {
		c.LoadingView = def.LoadingView
	}
	return c
}

// RouteGuard binds the session hub to the router: it attaches device
// providers to requests and guards protected routes.
type RouteGuard struct {
	hub              *Hub
	cfg              HTTPConfig
	now              func() time.Time
	Logger           Logger
	AuthErrorHandler func(c router.Context, err error) error
	ErrorHandler     func(c router.Context, err error) error
}

// NewRouteGuard returns a guard serving providers from the hub
func NewRouteGuard(hub *Hub, cfg HTTPConfig) *RouteGuard {
	g := &RouteGuard{
		hub:    hub,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		Logger: defLogger{},
	}

	g.ErrorHandler = g.defaultErrHandler
	g.AuthErrorHandler = g.defaultAuthErrHandler

	return g
}

// Config returns the effective HTTP configuration
func (g *RouteGuard) Config() HTTPConfig {
	return g.cfg
}

// SessionMiddleware assigns the device cookie, attaches the device provider
// to requests that already carried a device cookie and mirrors the
// provider's session token into the session cookie once the handler
// returns. A first visit only gets a device ID; its provider is acquired
// when a guarded route or an auth handler calls Attach.
func (g *RouteGuard) SessionMiddleware() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			token := ctx.Cookies(g.cfg.SessionCookie)

			_, returning := g.presentedDevice(ctx)
			g.device(ctx)

			if returning {
				if _, err := g.Attach(ctx); err != nil {
					return g.ErrorHandler(ctx, err)
				}
			}

			err := next(ctx)
			if p, ok := GetRouterProvider(ctx); ok {
				g.syncSessionCookie(ctx, p.Snapshot(), token)
			}
			return err
		}
	}
}

// Attach returns the provider bound to the request, acquiring the device
// provider when the request has none yet. The provider travels in the
// request context only.
func (g *RouteGuard) Attach(ctx router.Context) (*Provider, error) {
	if p, ok := GetRouterProvider(ctx); ok {
		return p, nil
	}

	p, err := g.hub.Acquire(ctx.Context(), g.device(ctx), ctx.Cookies(g.cfg.SessionCookie))
	if err != nil {
		return nil, err
	}

	ctx.SetContext(WithProvider(ctx.Context(), p))
	return p, nil
}

// Protect returns the middleware enforcing the given guard kind
func (g *RouteGuard) Protect(kind GuardKind) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			p, err := g.Attach(ctx)
			if err != nil {
				return g.ErrorHandler(ctx, err)
			}
			p.Touch()

			snap := g.settle(ctx.Context(), p, kind)
			decision := Decide(kind, snap, ctx.OriginalURL())

			g.Logger.Debug("route guard decision",
				"guard", kind.String(),
				"outcome", decision.Outcome.String(),
				"path", ctx.Path(),
			)

			switch decision.Outcome {
			case OutcomeWait:
				ctx.SetHeader("Refresh", "1")
				return ctx.Render(g.cfg.LoadingView, router.ViewContext{
					"requested": ctx.OriginalURL(),
				})
			case OutcomeRedirect:
				if decision.Redirect == PathLogin {
					return g.AuthErrorHandler(ctx, NewError(KindUnauthenticated, "authentication required").
						WithMetadata(map[string]any{"from": decision.From}))
				}
				return ctx.Redirect(decision.Redirect, RedirectStatus(ctx.Method()))
			}

			ctx.Locals(TemplateUserKey, snap.Principal)
			ctx.Locals(TemplateAdminKey, snap.IsAdministrator())
			ctx.Locals(TemplateNavigationKey, NavigationModel(snap.IsAdministrator(), ctx.Path()))

			return next(ctx)
		}
	}
}

// settle waits for the provider to leave the loading state and, for the
// admin guard, for privilege resolution to finish. Both waits are bounded;
// the guard decides on whatever snapshot is current when they end.
func (g *RouteGuard) settle(ctx context.Context, p *Provider, kind GuardKind) Snapshot {
	snap := p.Snapshot()

	if snap.Loading && g.cfg.LoadingWait > 0 {
		snap = g.wait(ctx, p, g.cfg.LoadingWait, func(s Snapshot) bool {
			return !s.Loading
		})
	}

	if kind == GuardAdmin && !snap.Loading && !snap.AdminSettled() && g.cfg.AdminWait > 0 {
		snap = g.wait(ctx, p, g.cfg.AdminWait, func(s Snapshot) bool {
			return s.AdminSettled()
		})
	}

	return snap
}

func (g *RouteGuard) wait(ctx context.Context, p *Provider, d time.Duration, pred func(Snapshot) bool) Snapshot {
	wctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	snap, err := p.WaitFor(wctx, pred)
	if err != nil {
		g.Logger.Debug("route guard wait ended", "error", err)
	}
	return snap
}

func (g *RouteGuard) presentedDevice(ctx router.Context) (string, bool) {
	deviceID := ctx.Cookies(g.cfg.DeviceCookie)
	if _, err := uuid.Parse(deviceID); err != nil {
		return "", false
	}
	return deviceID, true
}

// device returns the request's device ID, assigning a new device cookie on
// first visit. The ID is kept in locals for the CSRF binding.
func (g *RouteGuard) device(ctx router.Context) string {
	if id, ok := ctx.Locals(LocalsDeviceKey).(string); ok && id != "" {
		return id
	}
	id := g.deviceID(ctx)
	ctx.Locals(LocalsDeviceKey, id)
	return id
}

func (g *RouteGuard) deviceID(ctx router.Context) string {
	if deviceID, ok := g.presentedDevice(ctx); ok {
		return deviceID
	}

	deviceID := uuid.NewString()
	ctx.Cookie(&router.Cookie{
		Name:     g.cfg.DeviceCookie,
		Value:    deviceID,
		Expires:  g.now().Add(g.cfg.DeviceTTL),
		HTTPOnly: true,
		Secure:   g.cfg.CookieSecure,
		SameSite: "Lax",
	})
	return deviceID
}

// syncSessionCookie keeps the session cookie in step with the provider. The
// cookie only transports the token between requests; the provider owns it.
func (g *RouteGuard) syncSessionCookie(ctx router.Context, snap Snapshot, presented string) {
	if snap.Session != nil && snap.Session.AccessToken != "" {
		if snap.Session.AccessToken != presented {
			g.setCookie(ctx, g.cfg.SessionCookie, snap.Session.AccessToken, snap.Session.ExpiresAt)
		}
		return
	}

	if !snap.Loading && snap.Principal == nil && presented != "" {
		g.cookieDel(ctx, g.cfg.SessionCookie)
	}
}

// SetRedirect remembers the requested URL so sign-in can return to it
func (g *RouteGuard) SetRedirect(ctx router.Context) {
	g.Logger.Info("setting redirect cookie", "key", g.cfg.RedirectCookie, "path", ctx.OriginalURL())
	g.setCookie(ctx, g.cfg.RedirectCookie, ctx.OriginalURL(), g.now().Add(g.cfg.RedirectTTL))
}

// GetRedirect consumes the redirect cookie. It returns def when the cookie
// is missing or does not hold a local path.
func (g *RouteGuard) GetRedirect(ctx router.Context, def string) string {
	r := ctx.Cookies(g.cfg.RedirectCookie)
	if r == "" {
		return def
	}
	g.cookieDel(ctx, g.cfg.RedirectCookie)
	if !IsLocalPath(r) {
		return def
	}
	return r
}

// ClearSession removes the session cookie
func (g *RouteGuard) ClearSession(ctx router.Context) {
	g.cookieDel(ctx, g.cfg.SessionCookie)
}

func (g *RouteGuard) setCookie(ctx router.Context, name, value string, expires time.Time) {
	ctx.Cookie(&router.Cookie{
		Name:     name,
		Value:    value,
		Expires:  expires,
		HTTPOnly: true,
		Secure:   g.cfg.CookieSecure,
		SameSite: "Lax",
	})
}

func (g *RouteGuard) cookieDel(ctx router.Context, name string) {
	ctx.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Expires:  g.now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   g.cfg.CookieSecure,
		SameSite: "Lax",
	})
}

func (g *RouteGuard) defaultAuthErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryAuth, "An unexpected authentication error").
			WithCode(errors.CodeUnauthorized)
	}

	g.Logger.Info("authentication required, redirecting to login",
		"error", richErr.Message,
		"text_code", richErr.TextCode,
		"path", c.OriginalURL(),
	)

	g.SetRedirect(c)

	return c.Redirect(PathLogin, RedirectStatus(c.Method()))
}

func (g *RouteGuard) defaultErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	g.Logger.Error("request error",
		"error", richErr.Message,
		"category", richErr.Category,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	switch richErr.Category {
	case errors.CategoryAuth, errors.CategoryAuthz:
		return g.AuthErrorHandler(c, richErr)
	default:
		return renderError(c, richErr)
	}
}

func renderError(c router.Context, richErr *errors.Error) error {
	code := richErr.Code
	if code == 0 {
		code = errors.CodeInternal
	}
	return c.Status(code).Render("errors/500", router.ViewContext{
		"error": richErr,
	})
}

// RedirectStatus returns 302 for GET requests and 303 for everything else
// so that form posts are followed by a GET.
func RedirectStatus(method string) int {
	if strings.EqualFold(method, string(router.GET)) {
		return http.StatusFound
	}
	return http.StatusSeeOther
}

// IsLocalPath reports whether target is a path on this site
func IsLocalPath(target string) bool {
	if target == "" || target[0] != '/' {
		return false
	}
	if len(target) > 1 && (target[1] == '/' || target[1] == '\\') {
		return false
	}
	return !strings.ContainsAny(target, "\r\n")
}

// RequestFeedback collects the notifications and navigation produced by
// provider operations during one request so the controller can turn them
// into flash messages and redirects.
type RequestFeedback struct {
	mu            sync.Mutex
	notifications []Notification
	location      string
}

// Bind returns a context routing provider feedback into f
func (f *RequestFeedback) Bind(ctx context.Context) context.Context {
	return WithNavigator(WithNotifier(ctx, f), f)
}

func (f *RequestFeedback) Notify(_ context.Context, n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, n)
}

func (f *RequestFeedback) Navigate(_ context.Context, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.location = path
}

// Notifications returns the collected notifications in order
func (f *RequestFeedback) Notifications() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.notifications...)
}

// Last returns the latest notification
func (f *RequestFeedback) Last() (Notification, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.notifications) == 0 {
		return Notification{}, false
	}
	return f.notifications[len(f.notifications)-1], true
}

// Location returns the last navigation target, empty when none
func (f *RequestFeedback) Location() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.location
}

// ViewContext maps the last notification onto the flash keys used by views
func (f *RequestFeedback) ViewContext() router.ViewContext {
	n, ok := f.Last()
	if !ok {
		return router.ViewContext{}
	}
	vc := router.ViewContext{
		"system_message": n.Title,
		"notification":   n,
	}
	if n.IsError() {
		vc["error_message"] = n.Description
	} else {
		vc["success_message"] = n.Description
	}
	return vc
}
