package game

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrNameTaken = errors.New("name already taken by a connected player")
	ErrRoomFull  = errors.New("room is full")
)

// PlayerManager handles joins, disconnects and reconnections inside a room.
// All mutating operations run under the room's lock.
type PlayerManager struct {
	store *RoomStore
	locks *LockRegistry
	dedup *Deduper
	cfg   Settings
}

func NewPlayerManager(store *RoomStore, locks *LockRegistry, dedup *Deduper, cfg Settings) *PlayerManager {
	return &PlayerManager{store: store, locks: locks, dedup: dedup, cfg: cfg}
}

// AddPlayer joins a player into the room, auto-creating the room if needed.
// A disconnected player with the same name is reconnected instead: the
// existing record keeps its id and score and adopts the new connection
// handle. Returns a copy of the resulting player.
func (pm *PlayerManager) AddPlayer(roomID, name, connID string) (Player, error) {
	key := fmt.Sprintf("addPlayer:%s:%s:%s", roomID, name, connID)
	if pm.dedup.IsDuplicate(key) {
		// Retry of a join the transport redelivered; hand back the record the
		// first delivery produced, if we can find it.
		if p, ok := pm.findByNameConn(roomID, name, connID); ok {
			log.Debug().Str("room", roomID).Str("name", name).Msg("duplicate join collapsed")
			return p, nil
		}
	}

	var out Player
	err := pm.locks.WithRoomLock(roomID, func() error {
		room := pm.store.EnsureExists(roomID)

		for _, p := range room.Players {
			if p.Connected && p.Name == name {
				return ErrNameTaken
			}
		}

		// Reconnection path: a disconnected player with this name resumes
		// their existing record.
		for _, p := range room.Players {
			if !p.Connected && p.Name == name {
				p.ConnID = connID
				p.Connected = true
				out = *p
				log.Info().Str("room", roomID).Str("player", p.ID).Str("name", name).Msg("player reconnected")
				return nil
			}
		}

		if len(room.Players) >= pm.cfg.MaxPlayers {
			return ErrRoomFull
		}

		p := &Player{
			ID:        uuid.NewString(),
			Name:      name,
			Connected: true,
			ConnID:    connID,
		}
		room.Players[p.ID] = p
		out = *p
		log.Info().Str("room", roomID).Str("player", p.ID).Str("name", name).Msg("player joined")
		return nil
	})
	if err != nil {
		return Player{}, err
	}
	pm.store.Touch(roomID)
	return out, nil
}

// DisconnectPlayer marks the player disconnected, keeping the record and its
// score. Idempotent: disconnecting twice is a no-op success. Returns false
// only when the room or player is unknown.
func (pm *PlayerManager) DisconnectPlayer(roomID, playerID string) bool {
	found := false
	_ = pm.locks.WithRoomLock(roomID, func() error {
		room, ok := pm.store.Get(roomID)
		if !ok {
			return nil
		}
		p := room.Players[playerID]
		if p == nil {
			return nil
		}
		p.Connected = false
		p.ConnID = ""
		found = true
		log.Info().Str("room", roomID).Str("player", playerID).Msg("player disconnected")
		return nil
	})
	return found
}

// RemovePlayer deletes the player record entirely. When the last record
// (connected or not) goes, the room goes with it.
func (pm *PlayerManager) RemovePlayer(roomID, playerID string) bool {
	found := false
	emptied := false
	_ = pm.locks.WithRoomLock(roomID, func() error {
		room, ok := pm.store.Get(roomID)
		if !ok {
			return nil
		}
		if room.Players[playerID] == nil {
			return nil
		}
		delete(room.Players, playerID)
		found = true
		emptied = len(room.Players) == 0
		log.Info().Str("room", roomID).Str("player", playerID).Msg("player removed")
		return nil
	})
	if emptied {
		pm.store.Delete(roomID)
		pm.locks.Cleanup(roomID)
	}
	return found
}

func (pm *PlayerManager) ConnectedPlayers(roomID string) []Player {
	return pm.playerSnapshot(roomID, true)
}

func (pm *PlayerManager) AllPlayers(roomID string) []Player {
	return pm.playerSnapshot(roomID, false)
}

// IsRoomEmpty reports whether no player is currently connected. Disconnected
// records do not occupy the room for matchmaking purposes.
func (pm *PlayerManager) IsRoomEmpty(roomID string) bool {
	return len(pm.ConnectedPlayers(roomID)) == 0
}

// SetScore sets the player's absolute score.
func (pm *PlayerManager) SetScore(roomID, playerID string, score int) bool {
	found := false
	_ = pm.locks.WithRoomLock(roomID, func() error {
		room, ok := pm.store.Get(roomID)
		if !ok {
			return nil
		}
		if p := room.Players[playerID]; p != nil {
			p.Score = score
			found = true
		}
		return nil
	})
	return found
}

// applyDeltasLocked adds round deltas to player scores. Caller holds the room
// lock.
func (pm *PlayerManager) applyDeltasLocked(room *Room, deltas map[string]int) {
	for playerID, delta := range deltas {
		if p := room.Players[playerID]; p != nil {
			p.Score += delta
		}
	}
}

func connectedCountLocked(room *Room) int {
	n := 0
	for _, p := range room.Players {
		if p.Connected {
			n++
		}
	}
	return n
}

func (pm *PlayerManager) playerSnapshot(roomID string, connectedOnly bool) []Player {
	var out []Player
	_ = pm.locks.WithRoomLock(roomID, func() error {
		room, ok := pm.store.Get(roomID)
		if !ok {
			return nil
		}
		out = make([]Player, 0, len(room.Players))
		for _, p := range room.Players {
			if connectedOnly && !p.Connected {
				continue
			}
			out = append(out, *p)
		}
		return nil
	})
	return out
}

func (pm *PlayerManager) findByNameConn(roomID, name, connID string) (Player, bool) {
	var out Player
	found := false
	_ = pm.locks.WithRoomLock(roomID, func() error {
		room, ok := pm.store.Get(roomID)
		if !ok {
			return nil
		}
		for _, p := range room.Players {
			if p.Name == name && p.ConnID == connID {
				out = *p
				found = true
				return nil
			}
		}
		return nil
	})
	return out, found
}
