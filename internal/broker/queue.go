package broker

import "sync"

// sendQueue is the unbounded outbound FIFO of a connection. Producers are the
// broadcast paths of any number of channels; the sole consumer is the
// connection writer goroutine. Enqueue never blocks, which is what keeps a
// slow client from stalling a broadcast to everyone else.
type sendQueue struct {
	mu     sync.Mutex
	buf    [][]byte
	closed bool
	reason string

	// notify carries at most one token; drain picks up everything buffered
	// since the last wake, so a single token is enough.
	notify chan struct{}
}

func newSendQueue() *sendQueue {
	return &sendQueue{notify: make(chan struct{}, 1)}
}

// push appends one message. Returns false when the sink is closed.
func (q *sendQueue) push(msg []byte) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.buf = append(q.buf, msg)
	q.mu.Unlock()
	q.wake()
	return true
}

// close marks the sink closed. Messages already buffered are still drained by
// the writer before it emits the close frame carrying reason.
func (q *sendQueue) close(reason string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.reason = reason
	q.mu.Unlock()
	q.wake()
}

// drain takes everything buffered. closed reports whether the sink was closed
// at the time of the call; once closed and drained the writer must exit.
func (q *sendQueue) drain() (msgs [][]byte, closed bool, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs = q.buf
	q.buf = nil
	return msgs, q.closed, q.reason
}

func (q *sendQueue) wait() <-chan struct{} { return q.notify }

func (q *sendQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
