package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendQueueFIFO(t *testing.T) {
	q := newSendQueue()

	assert.True(t, q.push([]byte("a")))
	assert.True(t, q.push([]byte("b")))
	assert.True(t, q.push([]byte("c")))

	msgs, closed, _ := q.drain()
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, msgs)
	assert.False(t, closed)

	msgs, _, _ = q.drain()
	assert.Empty(t, msgs)
}

func TestSendQueueSingleTokenCoversManyPushes(t *testing.T) {
	q := newSendQueue()
	for i := 0; i < 10; i++ {
		q.push([]byte{byte(i)})
	}

	<-q.wait()
	msgs, _, _ := q.drain()
	assert.Len(t, msgs, 10)

	// The single token was consumed; no stale wakeups remain.
	select {
	case <-q.wait():
		t.Fatal("unexpected wakeup with empty queue")
	default:
	}
}

func TestSendQueueClose(t *testing.T) {
	q := newSendQueue()
	q.push([]byte("pending"))
	q.close("shutting down")

	assert.False(t, q.push([]byte("late")))

	msgs, closed, reason := q.drain()
	require.True(t, closed)
	assert.Equal(t, "shutting down", reason)
	assert.Equal(t, [][]byte{[]byte("pending")}, msgs)
}

func TestSendQueueCloseKeepsFirstReason(t *testing.T) {
	q := newSendQueue()
	q.close("first")
	q.close("second")

	_, closed, reason := q.drain()
	assert.True(t, closed)
	assert.Equal(t, "first", reason)
}
