package portal

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Logger is the structured logger used across the portal packages.
// Arguments after the message are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Principal is the authenticated user identity associated with a session
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is a backend issued proof of authentication
type Session struct {
	AccessToken string    `json:"-"`
	Principal   Principal `json:"principal"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiration time.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Profile is the side record keyed by principal ID that carries the
// administrator flag.
type Profile struct {
	ID      string `json:"id"`
	IsAdmin bool   `json:"is_admin"`
}

// SessionEventKind enumerates session change notifications
type SessionEventKind string

const (
	EventSignedIn       SessionEventKind = "signed_in"
	EventSignedOut      SessionEventKind = "signed_out"
	EventTokenRefreshed SessionEventKind = "token_refreshed"
	EventUserUpdated    SessionEventKind = "user_updated"
)

// SessionEvent is a session change notification emitted by the backend.
// Session is nil when the notification reports that no principal remains.
type SessionEvent struct {
	Kind    SessionEventKind
	Session *Session
}

// Subscription is a scoped handle over a stream of session events.
type Subscription interface {
	Events() <-chan SessionEvent
	Unsubscribe()
}

// ProfileLookup fetches the profile record for a principal.
// A missing record is reported as nil, nil.
type ProfileLookup interface {
	GetProfile(ctx context.Context, id string) (*Profile, error)
}

// Backend is the identity backend consumed by the Provider.
// The Provider is the only component that calls it.
type Backend interface {
	ProfileLookup
	GetSession(ctx context.Context) (*Session, error)
	Subscribe(ctx context.Context) (Subscription, error)
	SignUp(ctx context.Context, email, password string) error
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	RequestPasswordReset(ctx context.Context, email, returnURL string) error
	UpdatePassword(ctx context.Context, current, next string) error
}

// Refresher is implemented by backends that can renew their session
// token before it expires.
type Refresher interface {
	RefreshIfNeeded(ctx context.Context, threshold time.Duration) (bool, error)
}

// NotificationVariant is the visual variant of a notification
type NotificationVariant string

const (
	VariantDefault     NotificationVariant = "default"
	VariantDestructive NotificationVariant = "destructive"
)

// Notification is a user facing message
type Notification struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Variant     NotificationVariant `json:"variant"`
}

// IsError reports whether the notification reports a failure
func (n Notification) IsError() bool {
	return n.Variant == VariantDestructive
}

// Notifier delivers notifications to the user
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(ctx context.Context, n Notification)

func (f NotifierFunc) Notify(ctx context.Context, n Notification) {
	if f != nil {
		f(ctx, n)
	}
}

// Navigator performs navigation side effects
type Navigator interface {
	Navigate(ctx context.Context, path string)
}

// NavigatorFunc adapts a function to the Navigator interface
type NavigatorFunc func(ctx context.Context, path string)

func (f NavigatorFunc) Navigate(ctx context.Context, path string) {
	if f != nil {
		f(ctx, path)
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notification) {}

type noopNavigator struct{}

func (noopNavigator) Navigate(context.Context, string) {}

type defLogger struct{}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Print("[DBG] PORTAL " + format(msg, args...))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Print("[INF] PORTAL " + format(msg, args...))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Print("[WRN] PORTAL " + format(msg, args...))
}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Print("[ERR] PORTAL " + format(msg, args...))
}

func format(msg string, args ...any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	b.WriteString("\n")
	return b.String()
}
