package broker

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/pusherd/internal/metrics"
	"github.com/adred-codev/pusherd/internal/transport"
)

// Send keepalive pings with this period. The peer is never disconnected for
// missing pongs; activity_timeout is advisory.
const pingPeriod = 25 * time.Second

// socketIDMax bounds each half of a socket id, matching the id format
// "<u64>.<u64>" clients already parse.
const socketIDMax uint64 = 10_000_000_000

// NewSocketID returns a fresh "<u64>.<u64>" socket id.
func NewSocketID() string {
	return fmt.Sprintf("%d.%d", uint64(rand.Int63n(int64(socketIDMax+1))), uint64(rand.Int63n(int64(socketIDMax+1))))
}

// Transport is the framed full-duplex stream a connection owns. The concrete
// implementation lives in internal/transport; tests substitute fakes.
type Transport interface {
	ReadEvent() (transport.Event, error)
	WriteText(p []byte) error
	WritePing() error
	WriteClose(reason string) error
	Close() error
}

// PresenceUser is the identity a connection announces on a presence channel.
type PresenceUser struct {
	UserID   string          `json:"user_id"`
	UserInfo json.RawMessage `json:"user_info,omitempty"`
}

// Connection is one subscriber session: a socket id, the exclusively-owned
// transport, the set of channel names it is subscribed to, an optional
// presence identity, and the outbound queue.
//
// Exactly one writer goroutine drains the queue, so the frame order on the
// wire equals the enqueue order, and concurrent broadcasts from different
// channels interleave at whole-message granularity.
type Connection struct {
	socketID string
	tr       Transport
	logger   zerolog.Logger

	mu       sync.Mutex
	channels map[string]struct{}
	user     *PresenceUser

	queue *sendQueue
	done  chan struct{}
}

// NewConnection wires a connection around an accepted transport and starts
// its writer goroutine.
func NewConnection(socketID string, tr Transport, logger zerolog.Logger) *Connection {
	c := &Connection{
		socketID: socketID,
		tr:       tr,
		logger:   logger.With().Str("socket_id", socketID).Logger(),
		channels: make(map[string]struct{}),
		queue:    newSendQueue(),
		done:     make(chan struct{}),
	}
	go c.writePump()
	return c
}

// SocketID never changes for the lifetime of the connection.
func (c *Connection) SocketID() string { return c.socketID }

// Send enqueues one outbound message. It never blocks on the transport. A
// closed sink means the connection is terminating; the message is dropped
// and logged.
func (c *Connection) Send(msg []byte) {
	if !c.queue.push(msg) {
		c.logger.Debug().Msg("Send on closed connection, message dropped")
	}
}

// Subscribe records a channel name in the connection's subscribed set. The
// protocol engine pairs this with the matching channel registry update.
func (c *Connection) Subscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channel] = struct{}{}
}

// Unsubscribe removes a channel name from the subscribed set.
func (c *Connection) Unsubscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channel)
}

// IsSubscribed reports membership in the subscribed set.
func (c *Connection) IsSubscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

// SubscribedChannels returns a copy of the subscribed set.
func (c *Connection) SubscribedChannels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.channels))
	for name := range c.channels {
		names = append(names, name)
	}
	return names
}

// SetPresence tags the connection with its announced presence identity.
func (c *Connection) SetPresence(user PresenceUser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := user
	c.user = &u
}

// ClearPresence drops the presence tag.
func (c *Connection) ClearPresence() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = nil
}

// Presence returns the announced identity, if any.
func (c *Connection) Presence() (PresenceUser, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return PresenceUser{}, false
	}
	return *c.user, true
}

// Recv yields the next transport event. A returned error terminates the
// session.
func (c *Connection) Recv() (transport.Event, error) {
	return c.tr.ReadEvent()
}

// Close marks the outbound sink closed; the writer flushes what is buffered,
// emits a close frame carrying reason, and tears the transport down. Safe to
// call more than once.
func (c *Connection) Close(reason string) {
	c.queue.close(reason)
}

// Done is closed once the writer goroutine has exited.
func (c *Connection) Done() <-chan struct{} { return c.done }

// writePump is the single consumer of the outbound queue. A transport write
// failure is logged and draining continues; the read side surfaces the
// definitive error and drives teardown.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.tr.Close()
		close(c.done)
	}()

	for {
		select {
		case <-c.queue.wait():
			msgs, closed, reason := c.queue.drain()
			for _, msg := range msgs {
				if err := c.tr.WriteText(msg); err != nil {
					c.logger.Debug().Err(err).Msg("Transport write failed")
					continue
				}
				metrics.MessagesSent.Inc()
				metrics.BytesSent.Add(float64(len(msg)))
			}
			if closed {
				if err := c.tr.WriteClose(reason); err != nil {
					c.logger.Debug().Err(err).Msg("Close frame write failed")
				}
				return
			}

		case <-ticker.C:
			if err := c.tr.WritePing(); err != nil {
				c.logger.Debug().Err(err).Msg("Keepalive ping failed")
			}
		}
	}
}
