package identity

import (
	"context"
	"sync"
	"time"

	portal "github.com/goliatone/go-portal"
)

// Event is a session change broadcast to every client of a user.
// SessionID is empty when the event targets all sessions of the user.
type Event struct {
	Kind       portal.SessionEventKind `json:"kind"`
	UserID     string                  `json:"user_id"`
	SessionID  string                  `json:"session_id,omitempty"`
	Origin     string                  `json:"origin,omitempty"`
	OccurredAt time.Time               `json:"occurred_at"`
}

// Bus fans identity events out to subscribers, possibly across processes
type Bus interface {
	Publish(ctx context.Context, evt Event) error
	Subscribe(ctx context.Context) (BusSubscription, error)
}

// BusSubscription delivers events until closed
type BusSubscription interface {
	Events() <-chan Event
	Close() error
}

// DefaultBusBuffer is the per subscriber buffer of MemoryBus
const DefaultBusBuffer = 16

// DefaultDeliveryTimeout bounds how long a bus waits on a full subscriber
// before disconnecting it
const DefaultDeliveryTimeout = 5 * time.Second

// MemoryBus is an in process Bus. Publish blocks while a subscriber's
// buffer is full. A subscriber that stays full past the delivery timeout is
// disconnected: its Events channel is closed and it must subscribe again.
type MemoryBus struct {
	mu      sync.RWMutex
	subs    map[*memorySub]struct{}
	buffer  int
	timeout time.Duration
	logger  Logger
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:    make(map[*memorySub]struct{}),
		buffer:  DefaultBusBuffer,
		timeout: DefaultDeliveryTimeout,
		logger:  defLogger{},
	}
}

func (b *MemoryBus) WithLogger(l Logger) *MemoryBus {
	if l != nil {
		b.logger = l
	}
	return b
}

// WithBuffer sets the buffer size of subscriptions created afterwards
func (b *MemoryBus) WithBuffer(n int) *MemoryBus {
	if n >= 0 {
		b.buffer = n
	}
	return b
}

// WithDeliveryTimeout sets how long Publish waits on a full subscriber
func (b *MemoryBus) WithDeliveryTimeout(d time.Duration) *MemoryBus {
	if d > 0 {
		b.timeout = d
	}
	return b
}

func (b *MemoryBus) Publish(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	subs := make([]*memorySub, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.send(ctx, evt, b.timeout); err != nil {
			return err
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context) (BusSubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &memorySub{
		bus:  b,
		ch:   make(chan Event, b.buffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub, nil
}

// Subscribers returns the number of open subscriptions
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *MemoryBus) remove(sub *memorySub) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

type memorySub struct {
	bus      *MemoryBus
	ch       chan Event
	done     chan struct{}
	doneOnce sync.Once

	// mu serializes sends with closing ch
	mu     sync.Mutex
	closed bool
}

func (s *memorySub) Events() <-chan Event {
	return s.ch
}

func (s *memorySub) send(ctx context.Context, evt Event, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.ch <- evt:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		s.bus.logger.Error("memory bus disconnected slow subscriber",
			"kind", evt.Kind,
			"user_id", evt.UserID,
			"timeout", timeout.String(),
		)
		s.signalDone()
		s.bus.remove(s)
		s.closeLocked()
		return nil
	}
}

func (s *memorySub) signalDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *memorySub) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *memorySub) Close() error {
	s.signalDone()
	s.bus.remove(s)

	s.mu.Lock()
	s.closeLocked()
	s.mu.Unlock()
	return nil
}
