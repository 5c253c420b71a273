//go:build integration

package redisbus_test

import (
	"context"
	"testing"
	"time"

	portal "github.com/goliatone/go-portal"
	"github.com/goliatone/go-portal/identity"
	"github.com/goliatone/go-portal/redisbus"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

type RedisBusSuite struct {
	suite.Suite
	container *tcredis.RedisContainer
	client    *redis.Client
}

func TestRedisBusSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisBusSuite))
}

func (s *RedisBusSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.container = container

	url, err := container.ConnectionString(ctx)
	s.Require().NoError(err)

	client, err := redisbus.Connect(ctx, url)
	s.Require().NoError(err)
	s.client = client
}

func (s *RedisBusSuite) TearDownSuite() {
	if s.client != nil {
		s.client.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *RedisBusSuite) TestEventsReachEveryInstance() {
	ctx := context.Background()
	channel := "test:" + uuid.NewString()

	publisher := redisbus.New(s.client, redisbus.WithChannel(channel))
	instanceA := redisbus.New(s.client, redisbus.WithChannel(channel))
	instanceB := redisbus.New(s.client, redisbus.WithChannel(channel))

	subA, err := instanceA.Subscribe(ctx)
	s.Require().NoError(err)
	defer subA.Close()

	subB, err := instanceB.Subscribe(ctx)
	s.Require().NoError(err)
	defer subB.Close()

	evt := identity.Event{
		Kind:       portal.EventSignedOut,
		UserID:     uuid.NewString(),
		SessionID:  uuid.NewString(),
		Origin:     "device-1",
		OccurredAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	s.Require().NoError(publisher.Publish(ctx, evt))

	for _, sub := range []identity.BusSubscription{subA, subB} {
		select {
		case got := <-sub.Events():
			s.Equal(evt.Kind, got.Kind)
			s.Equal(evt.UserID, got.UserID)
			s.Equal(evt.SessionID, got.SessionID)
			s.Equal(evt.Origin, got.Origin)
			s.True(evt.OccurredAt.Equal(got.OccurredAt))
		case <-time.After(5 * time.Second):
			s.Fail("timed out waiting for event")
		}
	}
}

func (s *RedisBusSuite) TestCloseEndsStream() {
	ctx := context.Background()
	bus := redisbus.New(s.client, redisbus.WithChannel("test:"+uuid.NewString()))

	sub, err := bus.Subscribe(ctx)
	s.Require().NoError(err)
	s.Require().NoError(sub.Close())
	s.Require().NoError(sub.Close())

	select {
	case _, ok := <-sub.Events():
		s.False(ok)
	case <-time.After(5 * time.Second):
		s.Fail("stream not closed")
	}
}

func (s *RedisBusSuite) TestStalledSubscriberIsDisconnected() {
	ctx := context.Background()
	channel := "test:" + uuid.NewString()

	publisher := redisbus.New(s.client, redisbus.WithChannel(channel))
	bus := redisbus.New(s.client,
		redisbus.WithChannel(channel),
		redisbus.WithBuffer(1),
		redisbus.WithDeliveryTimeout(50*time.Millisecond),
	)

	sub, err := bus.Subscribe(ctx)
	s.Require().NoError(err)
	defer sub.Close()

	for i := 0; i < 3; i++ {
		s.Require().NoError(publisher.Publish(ctx, identity.Event{Kind: portal.EventUserUpdated, UserID: "u1"}))
	}

	// leave the buffer full long enough for the delivery timeout to fire
	time.Sleep(300 * time.Millisecond)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
		case <-deadline:
			s.Fail("stalled subscription not disconnected")
			return
		}
	}
}
