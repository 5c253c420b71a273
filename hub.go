package portal

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	DefaultIdleTTL          = 30 * time.Minute
	DefaultSweepInterval    = 30 * time.Second
	DefaultRefreshThreshold = 5 * time.Minute
)

// BackendFactory builds the backend for a device. Token is the access token
// the device presented, empty when it has none.
type BackendFactory func(ctx context.Context, deviceID, token string) (Backend, error)

// HubObserver is notified whenever the number of live providers changes
type HubObserver interface {
	ProvidersActive(n int)
}

// HubOption customizes hub construction.
type HubOption func(*Hub)

// WithHubLogger overrides the hub logger
func WithHubLogger(logger Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHubProviderOptions sets options applied to every provider the hub creates
func WithHubProviderOptions(opts ...ProviderOption) HubOption {
	return func(h *Hub) {
		h.providerOpts = append(h.providerOpts, opts...)
	}
}

// WithIdleTTL sets how long a provider may stay unused before it is reaped
func WithIdleTTL(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.idleTTL = d
		}
	}
}

// WithSweepInterval sets how often Run reaps and refreshes providers
func WithSweepInterval(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.sweepInterval = d
		}
	}
}

// WithRefreshThreshold sets how close to expiry a session token must be
// before the hub asks the backend to refresh it.
func WithRefreshThreshold(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.refreshThreshold = d
		}
	}
}

// WithHubObserver registers an observer for the live provider count
func WithHubObserver(o HubObserver) HubOption {
	return func(h *Hub) {
		h.observer = o
	}
}

// WithMaxProviders caps the number of live providers. When the cap is
// reached the least recently seen provider is closed to make room. Zero
// disables the cap.
func WithMaxProviders(n int) HubOption {
	return func(h *Hub) {
		if n >= 0 {
			h.maxProviders = n
		}
	}
}

// WithHubClock injects a custom clock (useful for tests).
func WithHubClock(clock func() time.Time) HubOption {
	return func(h *Hub) {
		if clock != nil {
			h.now = clock
		}
	}
}

// Hub keeps one provider per device
type Hub struct {
	factory          BackendFactory
	providerOpts     []ProviderOption
	idleTTL          time.Duration
	sweepInterval    time.Duration
	refreshThreshold time.Duration
	maxProviders     int
	observer         HubObserver
	logger           Logger
	now              func() time.Time

	mu        sync.Mutex
	providers map[string]*Provider
	closed    bool
}

// NewHub returns a hub creating backends through factory
func NewHub(factory BackendFactory, opts ...HubOption) *Hub {
	h := &Hub{
		factory:          factory,
		idleTTL:          DefaultIdleTTL,
		sweepInterval:    DefaultSweepInterval,
		refreshThreshold: DefaultRefreshThreshold,
		logger:           defLogger{},
		now:              time.Now,
		providers:        make(map[string]*Provider),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	return h
}

// Acquire returns the running provider for the device, creating and
// starting one when none exists.
func (h *Hub) Acquire(ctx context.Context, deviceID, token string) (*Provider, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, NewError(KindValidation, "device id is required")
	}

	var evicted *Provider
	defer func() {
		if evicted != nil {
			evicted.Close()
		}
	}()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrProviderClosed
	}

	if p, ok := h.providers[deviceID]; ok {
		if p.Snapshot().State != StateClosed {
			p.Touch()
			return p, nil
		}
		delete(h.providers, deviceID)
	}

	backend, err := h.factory(ctx, deviceID, token)
	if err != nil {
		return nil, WrapError(err, Classify(err), "failed to create session backend")
	}

	opts := append([]ProviderOption{}, h.providerOpts...)
	opts = append(opts, WithDeviceID(deviceID), WithProviderLogger(h.logger), WithProviderClock(h.now))
	p := NewProvider(backend, opts...)
	if err := p.Start(ctx); err != nil {
		return nil, err
	}

	if h.maxProviders > 0 && len(h.providers) >= h.maxProviders {
		evicted = h.evictOldest()
	}

	h.providers[deviceID] = p
	h.observe()
	h.logger.Debug("session provider created", "device", deviceID)

	return p, nil
}

// evictOldest forgets the least recently seen provider. Callers hold mu and
// close the returned provider once it is released.
func (h *Hub) evictOldest() *Provider {
	var (
		oldestID string
		oldest   *Provider
	)
	for id, p := range h.providers {
		if oldest == nil || p.LastSeen().Before(oldest.LastSeen()) {
			oldestID, oldest = id, p
		}
	}
	if oldest == nil {
		return nil
	}
	delete(h.providers, oldestID)
	h.logger.Warn("session provider limit reached, evicting least recently seen",
		"device", oldestID,
		"limit", h.maxProviders,
	)
	return oldest
}

// Get returns the provider for the device if one is running
func (h *Hub) Get(deviceID string) (*Provider, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.providers[deviceID]
	return p, ok
}

// Release closes and forgets the provider of a device
func (h *Hub) Release(deviceID string) {
	h.mu.Lock()
	p, ok := h.providers[deviceID]
	if ok {
		delete(h.providers, deviceID)
		h.observe()
	}
	h.mu.Unlock()

	if ok {
		p.Close()
	}
}

// Len returns the number of live providers
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.providers)
}

// Run reaps idle providers and refreshes tokens close to expiry until the
// context ends.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.Sweep(ctx)
		}
	}
}

// Sweep runs one reap and refresh pass
func (h *Hub) Sweep(ctx context.Context) {
	now := h.now()

	var idle, live []*Provider

	h.mu.Lock()
	for id, p := range h.providers {
		if now.Sub(p.LastSeen()) > h.idleTTL {
			idle = append(idle, p)
			delete(h.providers, id)
			continue
		}
		live = append(live, p)
	}
	if len(idle) > 0 {
		h.observe()
	}
	h.mu.Unlock()

	for _, p := range idle {
		h.logger.Debug("reaping idle session provider", "device", p.DeviceID())
		p.Close()
	}

	for _, p := range live {
		refresher, ok := p.Backend().(Refresher)
		if !ok || !p.Snapshot().Authenticated() {
			continue
		}
		if _, err := refresher.RefreshIfNeeded(ctx, h.refreshThreshold); err != nil {
			h.logger.Warn("session refresh failed", "device", p.DeviceID(), "error", err)
		}
	}
}

// Close closes every provider. Acquire fails afterwards.
func (h *Hub) Close() error {
	h.mu.Lock()
	providers := h.providers
	h.providers = make(map[string]*Provider)
	h.closed = true
	h.observe()
	h.mu.Unlock()

	for _, p := range providers {
		p.Close()
	}
	return nil
}

func (h *Hub) observe() {
	if h.observer != nil {
		h.observer.ProvidersActive(len(h.providers))
	}
}
