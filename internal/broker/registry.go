package broker

import "sync"

// ChannelRegistry is the per-application name → channel map. Lookups run
// under the read lock so broadcasts from many goroutines proceed in
// parallel; only create and remove take the write lock.
type ChannelRegistry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{channels: make(map[string]Channel)}
}

// GetOrCreate returns the existing channel or lazily creates one of the type
// dictated by the name prefix. A type mismatch is impossible: both the
// existing and the requested type derive from the same name.
func (r *ChannelRegistry) GetOrCreate(name string) Channel {
	r.mu.RLock()
	ch, ok := r.channels[name]
	r.mu.RUnlock()
	if ok {
		return ch
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[name]; ok {
		return ch
	}
	ch = NewChannel(name)
	r.channels[name] = ch
	return ch
}

// Get returns the channel, if present.
func (r *ChannelRegistry) Get(name string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// Remove evicts a channel from the map. Subscriber references held elsewhere
// stay valid until the last holder drops them; in-flight broadcasts are
// unaffected.
func (r *ChannelRegistry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, name)
}

// Exists reports whether a channel is registered.
func (r *ChannelRegistry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[name]
	return ok
}

// Len returns the number of registered channels.
func (r *ChannelRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// ConnectionRegistry is the per-application socket-id → connection map.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{conns: make(map[string]*Connection)}
}

func (r *ConnectionRegistry) Add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.SocketID()] = c
}

func (r *ConnectionRegistry) Remove(socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, socketID)
}

func (r *ConnectionRegistry) Get(socketID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[socketID]
	return c, ok
}

// All returns a snapshot of every live connection.
func (r *ConnectionRegistry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
