package router

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"github.com/fluxcache/fluxcache/internal/domain"
)

func TestInProcessDialerDeliversInOrder(t *testing.T) {
	inbox := make(chan domain.Packet, 8)
	dest := domain.Destination{Domain: 1, Shard: 0}

	r := New(InProcessDialer(func(d domain.Destination) (chan<- domain.Packet, bool) {
		if d == dest {
			return inbox, true
		}
		return nil, false
	}))

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Send(dest, domain.Packet{Kind: domain.PacketMessage, Seq: uint64(i)}))
	}

	for i := 0; i < 3; i++ {
		select {
		case p := <-inbox:
			require.Equal(t, uint64(i), p.Seq)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for packet")
		}
	}
	require.True(t, r.Healthy(dest))
}

func TestSendToUnknownDestinationFails(t *testing.T) {
	r := New(InProcessDialer(func(domain.Destination) (chan<- domain.Packet, bool) { return nil, false }))
	r.backoffFactory = func() backoff.BackOff { return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 1) }

	err := r.Send(domain.Destination{Domain: 99}, domain.Packet{})
	require.Error(t, err)
}

func TestWaitHealthyTimesOut(t *testing.T) {
	r := New(InProcessDialer(func(domain.Destination) (chan<- domain.Packet, bool) { return nil, false }))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.WaitHealthy(ctx, domain.Destination{Domain: 1})
	require.Error(t, err)
}
