package broker

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/adred-codev/pusherd/internal/metrics"
)

// PresenceChannel extends Channel with membership identity tracking. Each
// subscriber carries exactly one (user_id, user_info) pair scoped to this
// channel; two connections may announce the same user_id and are counted
// independently.
type PresenceChannel interface {
	Channel

	// AddPresenceUser registers an identity for a socket id. Idempotent by
	// socket id; a second call replaces the prior identity.
	AddPresenceUser(c *Connection, user PresenceUser) error
	RemovePresenceUser(socketID string)
	// Member returns the identity announced by a socket id, if any.
	Member(socketID string) (PresenceUser, bool)
	PresenceUsers() []PresenceUser
	// PresenceData is the wire summary for subscription_succeeded.
	PresenceData() PresenceSummary
}

// PresenceSummary is the {count, ids, hash} block of a presence
// subscription_succeeded reply.
type PresenceSummary struct {
	Count int                        `json:"count"`
	IDs   []string                   `json:"ids"`
	Hash  map[string]json.RawMessage `json:"hash"`
}

type presenceEntry struct {
	conn *Connection
	user PresenceUser
}

type presenceChannel struct {
	name string

	mu      sync.RWMutex
	subs    map[string]*Connection
	members map[string]presenceEntry
}

func newPresenceChannel(name string) *presenceChannel {
	return &presenceChannel{
		name:    name,
		subs:    make(map[string]*Connection),
		members: make(map[string]presenceEntry),
	}
}

func (ch *presenceChannel) Name() string      { return ch.name }
func (ch *presenceChannel) Type() ChannelType { return ChannelPresence }

func (ch *presenceChannel) Subscribers() []string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	ids := make([]string, 0, len(ch.subs))
	for id := range ch.subs {
		ids = append(ids, id)
	}
	return ids
}

// Subscribe requires a previously registered presence identity; joining a
// presence channel anonymously is a protocol error.
func (ch *presenceChannel) Subscribe(c *Connection) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if _, ok := ch.members[c.SocketID()]; !ok {
		return NewError(KindChannelError, "presence subscribe for %s without identity on %s", c.SocketID(), ch.name)
	}
	ch.subs[c.SocketID()] = c
	return nil
}

func (ch *presenceChannel) Unsubscribe(socketID string) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	delete(ch.subs, socketID)
	delete(ch.members, socketID)
	return nil
}

func (ch *presenceChannel) Broadcast(msg []byte) {
	ch.BroadcastExcept(msg, "")
}

func (ch *presenceChannel) BroadcastExcept(msg []byte, exceptSocketID string) {
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
	metrics.BroadcastsTotal.WithLabelValues(ChannelPresence.String()).Inc()
}

func (ch *presenceChannel) SendTo(socketID string, msg []byte) error {
	ch.mu.RLock()
	c, ok := ch.subs[socketID]
	ch.mu.RUnlock()
	if !ok {
		return NewError(KindNotFound, "socket %s is not subscribed to %s", socketID, ch.name)
	}
	c.Send(msg)
	return nil
}

func (ch *presenceChannel) Count() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.subs)
}

func (ch *presenceChannel) AddPresenceUser(c *Connection, user PresenceUser) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.members[c.SocketID()] = presenceEntry{conn: c, user: user}
	return nil
}

func (ch *presenceChannel) RemovePresenceUser(socketID string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	delete(ch.members, socketID)
}

func (ch *presenceChannel) Member(socketID string) (PresenceUser, bool) {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	entry, ok := ch.members[socketID]
	if !ok {
		return PresenceUser{}, false
	}
	return entry.user, true
}

func (ch *presenceChannel) PresenceUsers() []PresenceUser {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	users := make([]PresenceUser, 0, len(ch.members))
	for _, entry := range ch.members {
		users = append(users, entry.user)
	}
	return users
}

func (ch *presenceChannel) PresenceData() PresenceSummary {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	summary := PresenceSummary{
		IDs:  make([]string, 0, len(ch.members)),
		Hash: make(map[string]json.RawMessage, len(ch.members)),
	}
	// Only subscribed members count; an identity registered mid-subscribe is
	// not visible until the subscribe lands.
	for id := range ch.subs {
		entry, ok := ch.members[id]
		if !ok {
			continue
		}
		summary.Count++
		summary.IDs = append(summary.IDs, entry.user.UserID)
		info := entry.user.UserInfo
		if len(info) == 0 {
			info = json.RawMessage(`null`)
		}
		summary.Hash[entry.user.UserID] = info
	}
	sort.Strings(summary.IDs)
	return summary
}
