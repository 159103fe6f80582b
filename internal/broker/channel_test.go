package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ChannelPublic, TypeOf("chat-room"))
	assert.Equal(t, ChannelPrivate, TypeOf("private-x"))
	assert.Equal(t, ChannelPresence, TypeOf("presence-room"))
	// Prefix must be exact; these are public.
	assert.Equal(t, ChannelPublic, TypeOf("privateish"))
	assert.Equal(t, ChannelPublic, TypeOf("my-private-x"))
}

func TestChannelTypeRequiresAuth(t *testing.T) {
	assert.False(t, ChannelPublic.RequiresAuth())
	assert.True(t, ChannelPrivate.RequiresAuth())
	assert.True(t, ChannelPresence.RequiresAuth())
}

func TestNewChannelDispatchesOnPrefix(t *testing.T) {
	pub := NewChannel("chat-room")
	assert.Equal(t, ChannelPublic, pub.Type())
	_, isPresence := pub.(PresenceChannel)
	assert.False(t, isPresence)

	priv := NewChannel("private-x")
	assert.Equal(t, ChannelPrivate, priv.Type())

	pres := NewChannel("presence-room")
	assert.Equal(t, ChannelPresence, pres.Type())
	_, isPresence = pres.(PresenceChannel)
	assert.True(t, isPresence)
}

func TestChannelSubscribeUnsubscribeCount(t *testing.T) {
	ch := NewChannel("chat-room")
	a, _ := newTestConnection(t)
	b, _ := newTestConnection(t)

	require.NoError(t, ch.Subscribe(a))
	require.NoError(t, ch.Subscribe(b))
	assert.Equal(t, 2, ch.Count())
	assert.Len(t, ch.Subscribers(), ch.Count())
	assert.ElementsMatch(t, []string{a.SocketID(), b.SocketID()}, ch.Subscribers())

	// Re-subscribing the same connection is not a duplicate.
	require.NoError(t, ch.Subscribe(a))
	assert.Equal(t, 2, ch.Count())

	require.NoError(t, ch.Unsubscribe(a.SocketID()))
	assert.Equal(t, 1, ch.Count())
	assert.ElementsMatch(t, []string{b.SocketID()}, ch.Subscribers())

	// Unsubscribing an unknown socket is a no-op.
	require.NoError(t, ch.Unsubscribe("0.0"))
	assert.Equal(t, 1, ch.Count())
}

func TestChannelBroadcastDeliversToEverySubscriberOnce(t *testing.T) {
	ch := NewChannel("chat-room")
	conns := make([]*Connection, 3)
	fts := make([]*fakeTransport, 3)
	for i := range conns {
		conns[i], fts[i] = newTestConnection(t)
		require.NoError(t, ch.Subscribe(conns[i]))
	}

	ch.Broadcast([]byte("hello"))

	for i, ft := range fts {
		require.Eventually(t, func() bool {
			return len(ft.Writes()) == 1
		}, time.Second, 5*time.Millisecond, "subscriber %d", i)
		assert.Equal(t, []byte("hello"), ft.Writes()[0])
	}
}

func TestChannelBroadcastExceptSkipsSender(t *testing.T) {
	ch := NewChannel("private-x")
	sender, senderFT := newTestConnection(t)
	other, otherFT := newTestConnection(t)
	require.NoError(t, ch.Subscribe(sender))
	require.NoError(t, ch.Subscribe(other))

	ch.BroadcastExcept([]byte("typing"), sender.SocketID())

	require.Eventually(t, func() bool {
		return len(otherFT.Writes()) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, senderFT.Writes())
}

func TestChannelBroadcastToEmptyChannel(t *testing.T) {
	ch := NewChannel("chat-room")
	ch.Broadcast([]byte("into the void"))
	assert.Equal(t, 0, ch.Count())
}

func TestChannelSendTo(t *testing.T) {
	ch := NewChannel("chat-room")
	conn, ft := newTestConnection(t)
	require.NoError(t, ch.Subscribe(conn))

	require.NoError(t, ch.SendTo(conn.SocketID(), []byte("direct")))
	require.Eventually(t, func() bool {
		return len(ft.Writes()) == 1
	}, time.Second, 5*time.Millisecond)

	err := ch.SendTo("0.0", []byte("nobody"))
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}
