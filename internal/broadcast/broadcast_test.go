package broadcast_test

import (
	"testing"

	"github.com/jrsteele09/helpdesk-session/internal/broadcast"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_DeliversToAll(t *testing.T) {
	b := broadcast.New[bool]()
	a, cancelA := b.Subscribe()
	defer cancelA()
	c, cancelC := b.Subscribe()
	defer cancelC()

	b.Publish(true)
	require.True(t, <-a)
	require.True(t, <-c)
	require.Equal(t, 2, b.Subscribers())
}

func TestBroadcaster_CoalescesUnread(t *testing.T) {
	b := broadcast.New[int]()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(1)
	b.Publish(2)
	b.Publish(3)

	require.Equal(t, 3, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected extra value %d", v)
	default:
	}
}

func TestBroadcaster_QueuedKeepsOrder(t *testing.T) {
	b := broadcast.NewQueued[bool](2)
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(true)
	b.Publish(false)
	require.True(t, <-ch)
	require.False(t, <-ch)

	t.Run("oldest dropped when full", func(t *testing.T) {
		b.Publish(true)
		b.Publish(false)
		b.Publish(true)
		require.False(t, <-ch)
		require.True(t, <-ch)
	})
}

func TestBroadcaster_CancelAndClose(t *testing.T) {
	b := broadcast.New[string]()
	ch, cancel := b.Subscribe()
	cancel()
	cancel()

	_, open := <-ch
	require.False(t, open)
	require.Equal(t, 0, b.Subscribers())

	other, _ := b.Subscribe()
	b.Close()
	_, open = <-other
	require.False(t, open)

	b.Publish("dropped")
	late, _ := b.Subscribe()
	_, open = <-late
	require.False(t, open)
}
