package game

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrRoomExists = errors.New("room already exists")

// RoomStore owns the room table. The store's own mutex protects the table;
// mutations of an individual room's contents additionally require that room's
// lock from the LockRegistry.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	now   func() time.Time
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*Room),
		now:   time.Now,
	}
}

// Create inserts a fresh room in the waiting phase and returns a copy.
func (s *RoomStore) Create(id string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rooms[id] != nil {
		return nil, ErrRoomExists
	}
	r := s.newRoom(id)
	s.rooms[id] = r
	log.Info().Str("room", id).Msg("room created")
	return r.snapshot(), nil
}

// Delete removes the room and reports whether it existed.
func (s *RoomStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rooms[id] == nil {
		return false
	}
	delete(s.rooms, id)
	log.Info().Str("room", id).Msg("room deleted")
	return true
}

func (s *RoomStore) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[id] != nil
}

// EnsureExists creates the room if absent. Idempotent; backs the
// join-creates-room path.
func (s *RoomStore) EnsureExists(id string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rooms[id]
	if r == nil {
		r = s.newRoom(id)
		s.rooms[id] = r
		log.Info().Str("room", id).Msg("room auto-created")
	}
	return r
}

// Get returns the live room record. Callers must hold the room's lock for the
// duration of any read-modify-write on the returned pointer.
func (s *RoomStore) Get(id string) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.rooms[id]
	return r, r != nil
}

func (s *RoomStore) RoomIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Touch bumps the room's last-activity timestamp.
func (s *RoomStore) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.rooms[id]; r != nil {
		r.LastActivity = s.now()
	}
}

// SweepInactive deletes every room idle longer than maxAge and returns the
// removed ids. Only the table mutex is held: a room old enough to sweep has
// no in-flight operations by definition.
func (s *RoomStore) SweepInactive(maxAge time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-maxAge)
	var removed []string
	for id, r := range s.rooms {
		if r.LastActivity.Before(cutoff) {
			delete(s.rooms, id)
			removed = append(removed, id)
			log.Info().Str("room", id).Time("lastActivity", r.LastActivity).Msg("swept inactive room")
		}
	}
	return removed
}

func (s *RoomStore) newRoom(id string) *Room {
	now := s.now()
	return &Room{
		ID:           id,
		Players:      make(map[string]*Player),
		State:        newGameState(),
		CreatedAt:    now,
		LastActivity: now,
	}
}
