package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_DeliversInOrder(t *testing.T) {
	b := NewBroadcaster(4)
	sub := b.Subscribe()
	defer sub.Close()

	b.Publish([]byte("a"))
	b.Publish([]byte("b"))

	assert.Equal(t, "a", string(<-sub.C()))
	assert.Equal(t, "b", string(<-sub.C()))
}

func TestBroadcaster_LaggedSubscriberIsDropped(t *testing.T) {
	b := NewBroadcaster(2)
	slow := b.Subscribe()
	fast := b.Subscribe()

	b.Publish([]byte("1"))
	b.Publish([]byte("2"))
	<-fast.C()
	<-fast.C()
	b.Publish([]byte("3"))

	// The slow subscriber keeps what it buffered, then sees the channel close.
	var got []string
	for msg := range slow.C() {
		got = append(got, string(msg))
	}
	assert.Equal(t, []string{"1", "2"}, got)
	assert.ErrorIs(t, slow.Err(), ErrLagged)

	assert.Equal(t, "3", string(<-fast.C()))
	assert.NoError(t, fast.Err())
	assert.Equal(t, 1, b.Len())
}

func TestBroadcaster_CloseEndsSubscriptions(t *testing.T) {
	b := NewBroadcaster(2)
	sub := b.Subscribe()

	b.Close()
	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.NoError(t, sub.Err())

	late := b.Subscribe()
	_, ok = <-late.C()
	assert.False(t, ok)

	// Publishing after close is a no-op.
	b.Publish([]byte("x"))
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	b := NewBroadcaster(1)
	sub := b.Subscribe()

	sub.Close()
	sub.Close()
	require.Equal(t, 0, b.Len())

	b.Publish([]byte("x"))
	_, ok := <-sub.C()
	assert.False(t, ok)
}
