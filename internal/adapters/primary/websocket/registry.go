package websocket

import (
	"hash/fnv"
	"sync"
)

const registryShards = 32

// Registry is the authoritative index of open connections on this node:
// connection id to client, and user id to that user's connection ids.
// Both indexes are sharded so lookups on unrelated keys never contend.
type Registry struct {
	conns [registryShards]connShard
	users [registryShards]userShard
}

type connShard struct {
	mu    sync.RWMutex
	items map[string]*Client
}

type userShard struct {
	mu    sync.RWMutex
	items map[string]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.conns {
		r.conns[i].items = make(map[string]*Client)
		r.users[i].items = make(map[string]map[string]struct{})
	}
	return r
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % registryShards
}

// Register indexes c by its connection id and user. Registering the same
// connection id twice replaces the entry without double counting.
func (r *Registry) Register(c *Client) {
	cs := &r.conns[shardFor(c.id)]
	cs.mu.Lock()
	cs.items[c.id] = c
	cs.mu.Unlock()

	us := &r.users[shardFor(c.identity.UserID)]
	us.mu.Lock()
	set, ok := us.items[c.identity.UserID]
	if !ok {
		set = make(map[string]struct{})
		us.items[c.identity.UserID] = set
	}
	set[c.id] = struct{}{}
	us.mu.Unlock()
}

// Unregister removes connID. It reports whether the connection was known.
func (r *Registry) Unregister(connID, userID string) bool {
	cs := &r.conns[shardFor(connID)]
	cs.mu.Lock()
	_, existed := cs.items[connID]
	delete(cs.items, connID)
	cs.mu.Unlock()

	us := &r.users[shardFor(userID)]
	us.mu.Lock()
	if set, ok := us.items[userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(us.items, userID)
		}
	}
	us.mu.Unlock()

	return existed
}

// Get returns the client registered under connID.
func (r *Registry) Get(connID string) (*Client, bool) {
	cs := &r.conns[shardFor(connID)]
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	c, ok := cs.items[connID]
	return c, ok
}

// ForUser returns every open connection of userID.
func (r *Registry) ForUser(userID string) []*Client {
	us := &r.users[shardFor(userID)]
	us.mu.RLock()
	ids := make([]string, 0, len(us.items[userID]))
	for id := range us.items[userID] {
		ids = append(ids, id)
	}
	us.mu.RUnlock()

	clients := make([]*Client, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.Get(id); ok {
			clients = append(clients, c)
		}
	}
	return clients
}

// CountForUser returns how many connections userID has open.
func (r *Registry) CountForUser(userID string) int {
	us := &r.users[shardFor(userID)]
	us.mu.RLock()
	defer us.mu.RUnlock()
	return len(us.items[userID])
}

// IsConnected reports whether userID has at least one open connection.
func (r *Registry) IsConnected(userID string) bool {
	return r.CountForUser(userID) > 0
}

// TotalConnections counts every open connection.
func (r *Registry) TotalConnections() int {
	total := 0
	for i := range r.conns {
		cs := &r.conns[i]
		cs.mu.RLock()
		total += len(cs.items)
		cs.mu.RUnlock()
	}
	return total
}

// UniqueUserCount counts users with at least one open connection.
func (r *Registry) UniqueUserCount() int {
	total := 0
	for i := range r.users {
		us := &r.users[i]
		us.mu.RLock()
		total += len(us.items)
		us.mu.RUnlock()
	}
	return total
}

// Each calls fn for every registered client. fn runs without shard locks
// held and may call back into the registry.
func (r *Registry) Each(fn func(*Client)) {
	for _, c := range r.All() {
		fn(c)
	}
}

// All returns a snapshot of every registered client.
func (r *Registry) All() []*Client {
	var clients []*Client
	for i := range r.conns {
		cs := &r.conns[i]
		cs.mu.RLock()
		for _, c := range cs.items {
			clients = append(clients, c)
		}
		cs.mu.RUnlock()
	}
	return clients
}
