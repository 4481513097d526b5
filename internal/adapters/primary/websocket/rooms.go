package websocket

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/lorrc/notify-gateway/internal/core/domain"
)

// Rooms maps topics to the connection ids that joined them. It holds ids
// only; the Registry owns the connections. Topics exist while they have
// at least one member.
type Rooms struct {
	shards [registryShards]roomShard
}

type roomShard struct {
	mu     sync.RWMutex
	topics map[domain.Topic]map[string]struct{}
}

// NewRooms creates an empty topic index.
func NewRooms() *Rooms {
	r := &Rooms{}
	for i := range r.shards {
		r.shards[i].topics = make(map[domain.Topic]map[string]struct{})
	}
	return r
}

func (r *Rooms) shard(topic domain.Topic) *roomShard {
	return &r.shards[shardFor(string(topic))]
}

// Join adds connID to topic, creating the topic on first use. It reports
// whether the membership is new.
func (r *Rooms) Join(connID string, topic domain.Topic) bool {
	s := r.shard(topic)
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.topics[topic]
	if !ok {
		members = make(map[string]struct{})
		s.topics[topic] = members
	}
	if _, exists := members[connID]; exists {
		return false
	}
	members[connID] = struct{}{}
	return true
}

// Leave removes connID from topic. Leaving a topic the connection is not a
// member of does nothing. Empty topics are discarded.
func (r *Rooms) Leave(connID string, topic domain.Topic) bool {
	s := r.shard(topic)
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.topics[topic]
	if !ok {
		return false
	}
	if _, exists := members[connID]; !exists {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(s.topics, topic)
	}
	return true
}

// MembersOf returns the connection ids currently joined to topic.
func (r *Rooms) MembersOf(topic domain.Topic) []string {
	s := r.shard(topic)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Keys(s.topics[topic])
}

// MembersOfAny returns the union of members of topics, each id once.
func (r *Rooms) MembersOfAny(topics []domain.Topic) []string {
	if len(topics) == 1 {
		return r.MembersOf(topics[0])
	}
	seen := make(map[string]struct{})
	for _, topic := range topics {
		for _, id := range r.MembersOf(topic) {
			seen[id] = struct{}{}
		}
	}
	return lo.Keys(seen)
}

// Count returns the number of members of topic.
func (r *Rooms) Count(topic domain.Topic) int {
	s := r.shard(topic)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.topics[topic])
}

// AllTopicNames lists every live topic, sorted.
func (r *Rooms) AllTopicNames() []domain.Topic {
	var names []domain.Topic
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		names = append(names, lo.Keys(s.topics)...)
		s.mu.RUnlock()
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Stats returns the membership count of every live topic, sorted by name.
func (r *Rooms) Stats() []domain.TopicStats {
	var stats []domain.TopicStats
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for topic, members := range s.topics {
			stats = append(stats, domain.TopicStats{Topic: topic, Members: len(members)})
		}
		s.mu.RUnlock()
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Topic < stats[j].Topic })
	return stats
}
