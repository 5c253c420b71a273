package identity

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	portal "github.com/goliatone/go-portal"
	"github.com/google/uuid"
)

// Client is the per device view of the identity service. It holds the
// device's access token and implements portal.Backend.
type Client struct {
	svc      *Service
	deviceID string

	mu      sync.Mutex
	token   string
	session *portal.Session
	subs    map[*clientSub]struct{}
}

var (
	_ portal.Backend   = (*Client)(nil)
	_ portal.Refresher = (*Client)(nil)
)

// Client returns a backend for the device, seeded with the token it
// presented.
func (s *Service) Client(deviceID, token string) *Client {
	return &Client{
		svc:      s,
		deviceID: deviceID,
		token:    token,
		subs:     make(map[*clientSub]struct{}),
	}
}

// BackendFactory adapts the service to a portal.BackendFactory
func (s *Service) BackendFactory() portal.BackendFactory {
	return func(_ context.Context, deviceID, token string) (portal.Backend, error) {
		return s.Client(deviceID, token), nil
	}
}

// Token returns the current access token
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) GetSession(ctx context.Context) (*portal.Session, error) {
	token := c.Token()
	if token == "" {
		return nil, nil
	}

	session, _, err := c.svc.ResolveSession(ctx, token)
	if err != nil {
		if goerrors.IsAuth(err) {
			c.clear(token)
			return nil, nil
		}
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != token {
		// signed out while the session was being resolved
		return nil, nil
	}
	c.session = session
	return session, nil
}

func (c *Client) GetProfile(ctx context.Context, id string) (*portal.Profile, error) {
	return c.svc.GetProfile(ctx, id)
}

func (c *Client) SignUp(ctx context.Context, email, password string) error {
	return c.svc.SignUp(ctx, email, password)
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*portal.Session, error) {
	session, err := c.svc.SignIn(ctx, c.deviceID, email, password)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	previous := c.token
	c.token = session.AccessToken
	c.session = session
	c.mu.Unlock()

	if previous != "" && previous != session.AccessToken {
		if err := c.svc.SignOut(ctx, previous, c.deviceID); err != nil {
			c.svc.logger.Warn("failed to revoke replaced session", "device", c.deviceID, "error", err)
		}
	}

	return session, nil
}

// SignOut revokes the device session. Without a token it is a no-op and
// an already revoked session counts as signed out.
func (c *Client) SignOut(ctx context.Context) error {
	token := c.Token()
	if token == "" {
		return nil
	}

	if err := c.svc.SignOut(ctx, token, c.deviceID); err != nil {
		return err
	}

	c.clear(token)
	return nil
}

func (c *Client) RequestPasswordReset(ctx context.Context, email, returnURL string) error {
	return c.svc.RequestPasswordReset(ctx, email, returnURL)
}

func (c *Client) UpdatePassword(ctx context.Context, current, next string) error {
	token := c.Token()
	if token == "" {
		return portal.NewError(portal.KindUnauthenticated, "no active session")
	}

	_, claims, err := c.svc.ResolveSession(ctx, token)
	if err != nil {
		return err
	}

	userID, _ := claims.UserID()
	return c.svc.UpdatePassword(ctx, userID, current, next)
}

// RefreshIfNeeded renews the token once it is within threshold of its
// expiry and reports the new session to subscribers.
func (c *Client) RefreshIfNeeded(ctx context.Context, threshold time.Duration) (bool, error) {
	c.mu.Lock()
	token := c.token
	session := c.session
	c.mu.Unlock()

	if token == "" {
		return false, nil
	}

	if session != nil && session.ExpiresAt.Sub(c.svc.now()) > threshold {
		return false, nil
	}

	next, err := c.svc.Refresh(ctx, token)
	if err != nil {
		if goerrors.IsAuth(err) {
			c.clear(token)
			c.emit(portal.SessionEvent{Kind: portal.EventSignedOut})
			return false, nil
		}
		return false, err
	}

	c.mu.Lock()
	if c.token != token {
		c.mu.Unlock()
		return false, nil
	}
	c.token = next.AccessToken
	c.session = next
	c.mu.Unlock()

	c.emit(portal.SessionEvent{Kind: portal.EventTokenRefreshed, Session: next})
	return true, nil
}

// Subscribe relays bus events that concern this device's session. When the
// bus disconnects the subscription, the client subscribes again and
// reports the current session so no change is lost.
func (c *Client) Subscribe(ctx context.Context) (portal.Subscription, error) {
	busSub, err := c.svc.bus.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	sub := &clientSub{
		ch:   make(chan portal.SessionEvent, DefaultBusBuffer),
		done: make(chan struct{}),
		bus:  busSub,
	}
	sub.cancel = func() {
		c.mu.Lock()
		delete(c.subs, sub)
		c.mu.Unlock()
		sub.closeBus()
	}

	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()

	go c.relay(ctx, sub)

	return sub, nil
}

func (c *Client) relay(ctx context.Context, sub *clientSub) {
	events := sub.events()
	for {
		select {
		case <-sub.done:
			return
		case evt, ok := <-events:
			if ok {
				if out, ok := c.translate(evt); ok {
					sub.deliver(out)
				}
				continue
			}

			c.svc.logger.Warn("identity bus disconnected client", "device", c.deviceID)
			if !c.resubscribe(ctx, sub) {
				return
			}
			events = sub.events()
			c.resync(ctx, sub)
		}
	}
}

func (c *Client) resubscribe(ctx context.Context, sub *clientSub) bool {
	backoff := 100 * time.Millisecond
	for {
		next, err := c.svc.bus.Subscribe(ctx)
		if err == nil {
			if !sub.swapBus(next) {
				next.Close()
				return false
			}
			return true
		}

		c.svc.logger.Error("identity bus resubscribe failed", "device", c.deviceID, "error", err)
		select {
		case <-sub.done:
			return false
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

// resync reports the session as the backend sees it now, covering any
// event published while the bus subscription was down.
func (c *Client) resync(ctx context.Context, sub *clientSub) {
	token := c.Token()
	if token == "" {
		return
	}

	session, _, err := c.svc.ResolveSession(ctx, token)
	if err != nil {
		if goerrors.IsAuth(err) {
			c.clear(token)
			sub.deliver(portal.SessionEvent{Kind: portal.EventSignedOut})
			return
		}
		c.svc.logger.Warn("session resync failed", "device", c.deviceID, "error", err)
		return
	}

	c.mu.Lock()
	if c.token != token {
		c.mu.Unlock()
		return
	}
	c.session = session
	c.mu.Unlock()

	s := *session
	sub.deliver(portal.SessionEvent{Kind: portal.EventUserUpdated, Session: &s})
}

// translate maps a bus event onto a session event for this device. The
// owner is read from the token so events arriving before the session is
// resolved still apply.
func (c *Client) translate(evt Event) (portal.SessionEvent, bool) {
	c.mu.Lock()
	token := c.token
	session := c.session
	c.mu.Unlock()

	if token == "" {
		return portal.SessionEvent{}, false
	}

	userID, sid := c.owner(token)
	if userID == "" || userID != evt.UserID {
		return portal.SessionEvent{}, false
	}

	switch evt.Kind {
	case portal.EventSignedOut:
		if evt.Origin != "" && evt.Origin == c.deviceID {
			return portal.SessionEvent{}, false
		}
		if evt.SessionID != "" && evt.SessionID != sid {
			return portal.SessionEvent{}, false
		}
		c.clear(token)
		return portal.SessionEvent{Kind: portal.EventSignedOut}, true
	case portal.EventUserUpdated:
		if session == nil {
			// bootstrap has not resolved the session yet and will read
			// the updated user
			return portal.SessionEvent{}, false
		}
		s := *session
		return portal.SessionEvent{Kind: portal.EventUserUpdated, Session: &s}, true
	default:
		return portal.SessionEvent{}, false
	}
}

// owner returns the user and session IDs carried by token
func (c *Client) owner(token string) (string, string) {
	claims, err := c.svc.tokens.Validate(token)
	if err != nil {
		return "", ""
	}
	userID, err := claims.UserID()
	if err != nil || userID == uuid.Nil {
		return "", ""
	}
	sid, err := claims.SID()
	if err != nil || sid == uuid.Nil {
		return userID.String(), ""
	}
	return userID.String(), sid.String()
}

func (c *Client) clear(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
		c.session = nil
	}
}

func (c *Client) emit(evt portal.SessionEvent) {
	c.mu.Lock()
	subs := make([]*clientSub, 0, len(c.subs))
	for sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(evt)
	}
}

type clientSub struct {
	ch     chan portal.SessionEvent
	done   chan struct{}
	once   sync.Once
	cancel func()

	busMu  sync.Mutex
	bus    BusSubscription
	closed bool
}

func (s *clientSub) events() <-chan Event {
	s.busMu.Lock()
	defer s.busMu.Unlock()
	return s.bus.Events()
}

// swapBus installs a new bus subscription. It reports false once the
// subscription was cancelled.
func (s *clientSub) swapBus(next BusSubscription) bool {
	s.busMu.Lock()
	defer s.busMu.Unlock()
	if s.closed {
		return false
	}
	prev := s.bus
	s.bus = next
	if prev != nil {
		prev.Close()
	}
	return true
}

func (s *clientSub) closeBus() {
	s.busMu.Lock()
	defer s.busMu.Unlock()
	s.closed = true
	if s.bus != nil {
		s.bus.Close()
	}
}

func (s *clientSub) Events() <-chan portal.SessionEvent {
	return s.ch
}

func (s *clientSub) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		if s.cancel != nil {
			s.cancel()
		}
	})
}

func (s *clientSub) deliver(evt portal.SessionEvent) {
	select {
	case <-s.done:
	case s.ch <- evt:
	}
}
