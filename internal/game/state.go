package game

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// StateKeeper validates and commits game-state transitions. The state value
// is always replaced wholesale so no concurrent reader can ever observe a
// half-applied transition.
type StateKeeper struct {
	store *RoomStore
	locks *LockRegistry
}

func NewStateKeeper(store *RoomStore, locks *LockRegistry) *StateKeeper {
	return &StateKeeper{store: store, locks: locks}
}

// Snapshot returns a deep copy of the room, safe to read without any lock.
func (sk *StateKeeper) Snapshot(roomID string) (*Room, bool) {
	var out *Room
	_ = sk.locks.WithRoomLock(roomID, func() error {
		if room, ok := sk.store.Get(roomID); ok {
			out = room.snapshot()
		}
		return nil
	})
	return out, out != nil
}

// ApplyGameState commits next as the room's state if the transition is legal
// and the result is consistent. Invalid transitions are an expected outcome
// (stale client retries) and come back as false, not an error.
func (sk *StateKeeper) ApplyGameState(roomID string, next GameState) bool {
	ok := false
	_ = sk.locks.WithRoomLock(roomID, func() error {
		room, found := sk.store.Get(roomID)
		if !found {
			return nil
		}
		ok = sk.applyLocked(room, next)
		return nil
	})
	return ok
}

// UpdateActivity bumps the room's last-activity timestamp.
func (sk *StateKeeper) UpdateActivity(roomID string) {
	sk.store.Touch(roomID)
}

// applyLocked is the single commit point for every transition. Caller holds
// the room lock.
func (sk *StateKeeper) applyLocked(room *Room, next GameState) bool {
	if err := validateGameState(next); err != nil {
		log.Warn().Str("room", room.ID).Err(err).Msg("rejected game state")
		return false
	}
	if !room.State.Phase.CanTransitionTo(next.Phase) {
		log.Warn().
			Str("room", room.ID).
			Str("from", room.State.Phase.String()).
			Str("to", next.Phase.String()).
			Msg("rejected phase transition")
		return false
	}

	prev := room.State
	room.State = next
	if err := validateRoomConsistency(room); err != nil {
		room.State = prev
		log.Warn().Str("room", room.ID).Err(err).Msg("room inconsistent after update, rolled back")
		return false
	}
	// Touch goes through the store so LastActivity is always guarded by the
	// table mutex, which is all SweepInactive holds.
	sk.store.Touch(room.ID)
	return true
}

func validateGameState(gs GameState) error {
	if !gs.Phase.Valid() {
		return fmt.Errorf("unknown phase %q", gs.Phase)
	}
	if gs.Round < 0 {
		return fmt.Errorf("negative round %d", gs.Round)
	}
	if gs.Responses == nil {
		return fmt.Errorf("responses missing")
	}
	if gs.Guesses == nil {
		return fmt.Errorf("guesses missing")
	}
	if gs.Phase != PhaseWaiting && gs.Round > 0 && gs.Prompt == nil {
		return fmt.Errorf("prompt missing in phase %s", gs.Phase)
	}
	return nil
}

func validateRoomConsistency(room *Room) error {
	if room.ID == "" {
		return fmt.Errorf("room id missing")
	}
	if room.Players == nil {
		return fmt.Errorf("player table missing")
	}
	for id, p := range room.Players {
		if p == nil || p.ID != id {
			return fmt.Errorf("player record %q does not match its key", id)
		}
	}
	for playerID, idx := range room.State.Guesses {
		if idx < 0 || idx >= len(room.State.Responses) {
			return fmt.Errorf("guess by %q out of range", playerID)
		}
	}
	return nil
}
