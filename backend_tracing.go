package portal

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/goliatone/go-portal"

// TracedBackend wraps a Backend and records a span for every call.
type TracedBackend struct {
	next   Backend
	tracer trace.Tracer
}

// TracedBackendOption configures the TracedBackend.
type TracedBackendOption func(*TracedBackend)

// WithTracer allows injecting a custom OpenTelemetry tracer.
func WithTracer(t trace.Tracer) TracedBackendOption {
	return func(b *TracedBackend) {
		if t != nil {
			b.tracer = t
		}
	}
}

// NewTracedBackend decorates next. By default it uses the global tracer provider.
func NewTracedBackend(next Backend, opts ...TracedBackendOption) *TracedBackend {
	b := &TracedBackend{next: next}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.tracer == nil {
		b.tracer = otel.Tracer(tracerName)
	}
	return b
}

// Unwrap returns the decorated backend
func (b *TracedBackend) Unwrap() Backend {
	return b.next
}

func (b *TracedBackend) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("portal.operation", op))
	return b.tracer.Start(ctx, "portal.backend."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("portal.error_kind", Classify(err).String()))
	}
	span.End()
}

func (b *TracedBackend) GetSession(ctx context.Context) (*Session, error) {
	ctx, span := b.start(ctx, "get_session")
	session, err := b.next.GetSession(ctx)
	span.SetAttributes(attribute.Bool("portal.session_present", session != nil))
	endSpan(span, err)
	return session, err
}

func (b *TracedBackend) Subscribe(ctx context.Context) (Subscription, error) {
	ctx, span := b.start(ctx, "subscribe")
	sub, err := b.next.Subscribe(ctx)
	endSpan(span, err)
	return sub, err
}

func (b *TracedBackend) SignUp(ctx context.Context, email, password string) error {
	ctx, span := b.start(ctx, "sign_up")
	err := b.next.SignUp(ctx, email, password)
	endSpan(span, err)
	return err
}

func (b *TracedBackend) SignIn(ctx context.Context, email, password string) (*Session, error) {
	ctx, span := b.start(ctx, "sign_in")
	session, err := b.next.SignIn(ctx, email, password)
	if session != nil {
		span.SetAttributes(attribute.String("portal.principal_id", session.Principal.ID))
	}
	endSpan(span, err)
	return session, err
}

func (b *TracedBackend) SignOut(ctx context.Context) error {
	ctx, span := b.start(ctx, "sign_out")
	err := b.next.SignOut(ctx)
	endSpan(span, err)
	return err
}

func (b *TracedBackend) RequestPasswordReset(ctx context.Context, email, returnURL string) error {
	ctx, span := b.start(ctx, "request_password_reset", attribute.String("portal.return_url", returnURL))
	err := b.next.RequestPasswordReset(ctx, email, returnURL)
	endSpan(span, err)
	return err
}

func (b *TracedBackend) UpdatePassword(ctx context.Context, current, next string) error {
	ctx, span := b.start(ctx, "update_password")
	err := b.next.UpdatePassword(ctx, current, next)
	endSpan(span, err)
	return err
}

func (b *TracedBackend) GetProfile(ctx context.Context, id string) (*Profile, error) {
	ctx, span := b.start(ctx, "get_profile", attribute.String("portal.principal_id", id))
	profile, err := b.next.GetProfile(ctx, id)
	span.SetAttributes(attribute.Bool("portal.is_admin", profile != nil && profile.IsAdmin))
	endSpan(span, err)
	return profile, err
}

// RefreshIfNeeded forwards to the decorated backend when it can refresh.
func (b *TracedBackend) RefreshIfNeeded(ctx context.Context, threshold time.Duration) (bool, error) {
	refresher, ok := b.next.(Refresher)
	if !ok {
		return false, nil
	}
	ctx, span := b.start(ctx, "refresh")
	refreshed, err := refresher.RefreshIfNeeded(ctx, threshold)
	span.SetAttributes(attribute.Bool("portal.refreshed", refreshed))
	endSpan(span, err)
	return refreshed, err
}

var (
	_ Backend   = (*TracedBackend)(nil)
	_ Refresher = (*TracedBackend)(nil)
)
