package broker

import (
	"strings"
	"sync"

	"github.com/adred-codev/pusherd/internal/metrics"
)

// Channel name prefixes. The type of a channel is a pure function of its
// name; a channel can never change type.
const (
	PrivatePrefix  = "private-"
	PresencePrefix = "presence-"
)

// ChannelType is the flavor of a channel.
type ChannelType int

const (
	ChannelPublic ChannelType = iota
	ChannelPrivate
	ChannelPresence
)

func (t ChannelType) String() string {
	switch t {
	case ChannelPrivate:
		return "private"
	case ChannelPresence:
		return "presence"
	}
	return "public"
}

// RequiresAuth reports whether subscribing needs a signature.
func (t ChannelType) RequiresAuth() bool {
	return t == ChannelPrivate || t == ChannelPresence
}

// TypeOf derives the channel type from a name.
func TypeOf(name string) ChannelType {
	switch {
	case strings.HasPrefix(name, PresencePrefix):
		return ChannelPresence
	case strings.HasPrefix(name, PrivatePrefix):
		return ChannelPrivate
	}
	return ChannelPublic
}

// Channel is a named fan-out group. A socket id appears at most once in the
// subscriber set; Count always equals the cardinality of Subscribers.
type Channel interface {
	Name() string
	Type() ChannelType

	Subscribers() []string
	Subscribe(c *Connection) error
	Unsubscribe(socketID string) error
	Broadcast(msg []byte)
	// BroadcastExcept fans out to every subscriber but one; used for
	// member_added announcements and client event rebroadcasts, where the
	// originator must not hear its own event.
	BroadcastExcept(msg []byte, exceptSocketID string)
	SendTo(socketID string, msg []byte) error
	Count() int
}

// NewChannel builds the variant dictated by the name prefix.
func NewChannel(name string) Channel {
	if TypeOf(name) == ChannelPresence {
		return newPresenceChannel(name)
	}
	return &plainChannel{
		name: name,
		typ:  TypeOf(name),
		subs: make(map[string]*Connection),
	}
}

// plainChannel backs both public and private channels. The mechanics are
// identical; private subscribe authorization is enforced upstream by the
// protocol engine, never re-verified here.
type plainChannel struct {
	name string
	typ  ChannelType

	mu   sync.RWMutex
	subs map[string]*Connection
}

func (ch *plainChannel) Name() string      { return ch.name }
func (ch *plainChannel) Type() ChannelType { return ch.typ }

func (ch *plainChannel) Subscribers() []string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	ids := make([]string, 0, len(ch.subs))
	for id := range ch.subs {
		ids = append(ids, id)
	}
	return ids
}

func (ch *plainChannel) Subscribe(c *Connection) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.subs[c.SocketID()] = c
	return nil
}

func (ch *plainChannel) Unsubscribe(socketID string) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	delete(ch.subs, socketID)
	return nil
}

// Broadcast snapshots the subscriber set under the read lock, releases it,
// then enqueues. The write lock is never held across per-recipient enqueues,
// so a subscribe or unsubscribe racing a broadcast may or may not be covered
// by it; every subscriber present throughout sees the message exactly once.
func (ch *plainChannel) Broadcast(msg []byte) {
	ch.BroadcastExcept(msg, "")
}

func (ch *plainChannel) BroadcastExcept(msg []byte, exceptSocketID string) {
	ch.mu.RLock()
	recipients := make([]*Connection, 0, len(ch.subs))
	for id, c := range ch.subs {
		if id == exceptSocketID {
			continue
		}
		recipients = append(recipients, c)
	}
	ch.mu.RUnlock()

	for _, c := range recipients {
		c.Send(msg)
	}
	metrics.BroadcastsTotal.WithLabelValues(ch.typ.String()).Inc()
}

func (ch *plainChannel) SendTo(socketID string, msg []byte) error {
	ch.mu.RLock()
	c, ok := ch.subs[socketID]
	ch.mu.RUnlock()
	if !ok {
		return NewError(KindNotFound, "socket %s is not subscribed to %s", socketID, ch.name)
	}
	c.Send(msg)
	return nil
}

func (ch *plainChannel) Count() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.subs)
}
