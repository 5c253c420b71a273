package portal

import (
	"context"

	"github.com/goliatone/go-router"
)

var notifierCtxKey = &contextKey{"notifier"}
var navigatorCtxKey = &contextKey{"navigator"}
var providerCtxKey = &contextKey{"provider"}

type contextKey struct {
	name string
}

// WithNotifier overrides the notifier used by provider operations
// invoked with the returned context.
func WithNotifier(ctx context.Context, n Notifier) context.Context {
	return context.WithValue(ctx, notifierCtxKey, n)
}

// NotifierFromContext finds the notifier override in the context.
func NotifierFromContext(ctx context.Context) (Notifier, bool) {
	raw, ok := ctx.Value(notifierCtxKey).(Notifier)
	return raw, ok && raw != nil
}

// WithNavigator overrides the navigator used by provider operations
// invoked with the returned context.
func WithNavigator(ctx context.Context, nav Navigator) context.Context {
	return context.WithValue(ctx, navigatorCtxKey, nav)
}

// NavigatorFromContext finds the navigator override in the context.
func NavigatorFromContext(ctx context.Context) (Navigator, bool) {
	raw, ok := ctx.Value(navigatorCtxKey).(Navigator)
	return raw, ok && raw != nil
}

// WithProvider sets the Provider in the given context
func WithProvider(ctx context.Context, p *Provider) context.Context {
	return context.WithValue(ctx, providerCtxKey, p)
}

// ProviderFromContext finds the provider from the context.
func ProviderFromContext(ctx context.Context) (*Provider, bool) {
	raw, ok := ctx.Value(providerCtxKey).(*Provider)
	return raw, ok && raw != nil
}

// GetRouterProvider extracts the provider attached to the request context
// by the route guard.
func GetRouterProvider(ctx router.Context) (*Provider, bool) {
	return ProviderFromContext(ctx.Context())
}
