package redisbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-portal/identity"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel identity events travel on
const DefaultChannel = "portal:session-events"

// Bus publishes identity events over Redis pub/sub so every portal
// instance sees sign outs and role changes made on another one.
type Bus struct {
	client  redis.UniversalClient
	channel string
	buffer  int
	timeout time.Duration
	logger  identity.Logger
}

var _ identity.Bus = (*Bus)(nil)

type Option func(*Bus)

func WithChannel(channel string) Option {
	return func(b *Bus) {
		if channel != "" {
			b.channel = channel
		}
	}
}

// WithBuffer sets the per subscription event buffer
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n >= 0 {
			b.buffer = n
		}
	}
}

// WithDeliveryTimeout sets how long a subscription waits on a full buffer
// before it disconnects
func WithDeliveryTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.timeout = d
		}
	}
}

func WithLogger(l identity.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

func New(client redis.UniversalClient, opts ...Option) *Bus {
	b := &Bus{
		client:  client,
		channel: DefaultChannel,
		buffer:  identity.DefaultBusBuffer,
		timeout: identity.DefaultDeliveryTimeout,
		logger:  nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Connect parses a redis:// URL and pings the server
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid redis URL")
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "redis ping failed")
	}
	return client, nil
}

func (b *Bus) Publish(ctx context.Context, evt identity.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode identity event")
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to publish identity event").
			WithMetadata(map[string]any{"channel": b.channel})
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed before returning
// so no event published afterwards is missed.
func (b *Bus) Subscribe(ctx context.Context) (identity.BusSubscription, error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to subscribe to identity events").
			WithMetadata(map[string]any{"channel": b.channel})
	}

	sub := &subscription{
		ps:   ps,
		ch:   make(chan identity.Event, b.buffer),
		done: make(chan struct{}),
	}

	go sub.pump(b.logger, b.timeout)

	return sub, nil
}

type subscription struct {
	ps   *redis.PubSub
	ch   chan identity.Event
	done chan struct{}
	once sync.Once
}

// pump forwards pub/sub messages until the subscription closes. A consumer
// that leaves the buffer full past timeout is disconnected: the Redis
// subscription is closed and so is Events.
func (s *subscription) pump(logger identity.Logger, timeout time.Duration) {
	defer close(s.ch)

	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-s.ps.Channel():
			if !ok {
				return
			}

			var evt identity.Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				logger.Warn("dropping malformed identity event", "channel", msg.Channel, "error", err)
				continue
			}

			if !s.forward(evt, timeout) {
				logger.Error("redis bus disconnected slow subscriber",
					"kind", evt.Kind,
					"user_id", evt.UserID,
					"timeout", timeout.String(),
				)
				s.Close()
				return
			}
		}
	}
}

func (s *subscription) forward(evt identity.Event, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.ch <- evt:
		return true
	case <-s.done:
		return true
	case <-timer.C:
		return false
	}
}

func (s *subscription) Events() <-chan identity.Event {
	return s.ch
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
