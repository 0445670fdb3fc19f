package room

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Registry maps room identifiers to rooms. Rooms are created lazily and are
// removed only by Sweep, according to the registry's EvictionPolicy.
type Registry interface {
	// GetOrCreate returns the room for roomID, creating it in PhaseWaiting if absent
	GetOrCreate(roomID string, now time.Time) *Room
	// Get returns the room for roomID without creating it
	Get(roomID string) *Room
	// Rooms returns every room ordered by identifier
	Rooms() []*Room
	// Sweep evicts rooms the policy selects and returns their identifiers
	Sweep(now time.Time, live func(roomID string) int) []string
}

// EvictionPolicy decides whether an idle room may be dropped from the registry
type EvictionPolicy interface {
	ShouldEvict(r *Room, liveConnections int, now time.Time) bool
}

// NeverEvict keeps every room for the lifetime of the process
type NeverEvict struct{}

func (NeverEvict) ShouldEvict(*Room, int, time.Time) bool { return false }

// IdleEvict drops rooms that have no live connections, no running contest and
// no activity for TTL
type IdleEvict struct {
	TTL time.Duration
}

func (p IdleEvict) ShouldEvict(r *Room, liveConnections int, now time.Time) bool {
	if p.TTL <= 0 || liveConnections > 0 || r.HasLiveTimers() {
		return false
	}
	if r.Phase != PhaseWaiting && r.Phase != PhaseContestEnded {
		return false
	}
	return now.Sub(r.LastActivity) >= p.TTL
}

// MemoryRegistry is the in-process Registry
type MemoryRegistry struct {
	rooms    map[string]*Room
	mu       sync.RWMutex
	capacity int
	policy   EvictionPolicy
}

// NewMemoryRegistry creates a registry whose rooms hold at most capacity participants.
// A nil policy means NeverEvict.
func NewMemoryRegistry(capacity int, policy EvictionPolicy) *MemoryRegistry {
	if policy == nil {
		policy = NeverEvict{}
	}
	return &MemoryRegistry{
		rooms:    make(map[string]*Room),
		capacity: capacity,
		policy:   policy,
	}
}

func (m *MemoryRegistry) GetOrCreate(roomID string, now time.Time) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, exists := m.rooms[roomID]; exists {
		return r
	}

	r := NewRoom(roomID, m.capacity, now)
	m.rooms[roomID] = r

	log.Info().
		Str("room_id", roomID).
		Int("capacity", m.capacity).
		Int("total_rooms", len(m.rooms)).
		Msg("room created")

	return r
}

func (m *MemoryRegistry) Get(roomID string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[roomID]
}

func (m *MemoryRegistry) Rooms() []*Room {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms
}

func (m *MemoryRegistry) Sweep(now time.Time, live func(roomID string) int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var evicted []string
	for id, r := range m.rooms {
		if m.policy.ShouldEvict(r, live(id), now) {
			delete(m.rooms, id)
			evicted = append(evicted, id)
		}
	}

	if len(evicted) > 0 {
		sort.Strings(evicted)
		log.Info().
			Strs("room_ids", evicted).
			Int("remaining_rooms", len(m.rooms)).
			Msg("evicted idle rooms")
	}

	return evicted
}
