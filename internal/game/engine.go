package game

import (
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrWrongPhase       = errors.New("action not allowed in current phase")
	ErrPlayerNotInRoom  = errors.New("player not in room or not connected")
	ErrAlreadyResponded = errors.New("player already responded this round")
	ErrAlreadyGuessed   = errors.New("player already guessed this round")
	ErrGuessOutOfRange  = errors.New("guess index out of range")
)

// Transition describes one committed phase change, reported back to callers
// so broadcasts happen after the room lock is released.
type Transition struct {
	RoomID string
	From   Phase
	To     Phase
	Round  int
}

// Engine drives a room through the round lifecycle. Every mutating method
// acquires the room lock once and commits through StateKeeper.applyLocked
// exactly once per logical transition.
type Engine struct {
	store   *RoomStore
	locks   *LockRegistry
	players *PlayerManager
	state   *StateKeeper
	cfg     Settings
	now     func() time.Time
}

func NewEngine(store *RoomStore, locks *LockRegistry, players *PlayerManager, state *StateKeeper, cfg Settings) *Engine {
	return &Engine{
		store:   store,
		locks:   locks,
		players: players,
		state:   state,
		cfg:     cfg,
		now:     time.Now,
	}
}

// StartRound begins a new round with the given prompt. Only legal from
// waiting or results; anything else is reported as false, not an error.
func (e *Engine) StartRound(roomID string, prompt PromptPayload) bool {
	started := false
	_ = e.locks.WithRoomLock(roomID, func() error {
		room, ok := e.store.Get(roomID)
		if !ok {
			return nil
		}
		if room.State.Phase != PhaseWaiting && room.State.Phase != PhaseResults {
			return nil
		}
		next := GameState{
			Phase:         PhaseResponding,
			Round:         room.State.Round + 1,
			Prompt:        &prompt,
			Responses:     []Response{},
			Guesses:       make(map[string]int),
			PhaseStart:    e.now(),
			PhaseDuration: e.cfg.RespondingSeconds,
		}
		started = e.state.applyLocked(room, next)
		return nil
	})
	if started {
		log.Info().Str("room", roomID).Str("prompt", prompt.ID).Msg("round started")
	}
	return started
}

// SubmitResponse records a player's response. When every connected player has
// responded the room advances to guessing immediately; the returned
// Transition is non-nil in that case.
func (e *Engine) SubmitResponse(roomID, playerID, text string) (*Transition, error) {
	var tr *Transition
	err := e.locks.WithRoomLock(roomID, func() error {
		room, ok := e.store.Get(roomID)
		if !ok {
			return ErrPlayerNotInRoom
		}
		if room.State.Phase != PhaseResponding {
			return ErrWrongPhase
		}
		p := room.Players[playerID]
		if p == nil || !p.Connected {
			return ErrPlayerNotInRoom
		}
		for _, r := range room.State.Responses {
			if r.AuthorID == playerID {
				return ErrAlreadyResponded
			}
		}

		next := room.State.clone()
		next.Responses = append(next.Responses, Response{
			Text:     strings.TrimSpace(text),
			AuthorID: playerID,
		})
		if !e.state.applyLocked(room, next) {
			return ErrWrongPhase
		}

		// All connected players in: no reason to wait out the timer.
		if len(room.State.Responses) >= connectedCountLocked(room) {
			tr = e.advanceToGuessingLocked(room)
		}
		return nil
	})
	return tr, err
}

// SubmitGuess records a player's guess by response index. When every
// connected player has guessed the room advances to results immediately.
func (e *Engine) SubmitGuess(roomID, playerID string, responseIndex int) (*Transition, error) {
	var tr *Transition
	err := e.locks.WithRoomLock(roomID, func() error {
		room, ok := e.store.Get(roomID)
		if !ok {
			return ErrPlayerNotInRoom
		}
		if room.State.Phase != PhaseGuessing {
			return ErrWrongPhase
		}
		p := room.Players[playerID]
		if p == nil || !p.Connected {
			return ErrPlayerNotInRoom
		}
		if _, guessed := room.State.Guesses[playerID]; guessed {
			return ErrAlreadyGuessed
		}
		if responseIndex < 0 || responseIndex >= len(room.State.Responses) {
			return ErrGuessOutOfRange
		}

		next := room.State.clone()
		next.Guesses[playerID] = responseIndex
		if !e.state.applyLocked(room, next) {
			return ErrWrongPhase
		}

		if len(room.State.Guesses) >= connectedCountLocked(room) {
			tr = e.advanceToResultsLocked(room)
		}
		return nil
	})
	return tr, err
}

// AdvancePhase moves the room to its next phase: responding to guessing,
// guessing to results, results to waiting. In waiting it is a no-op awaiting
// the next round. Callers that depend on a condition observed outside the
// room lock must use AdvanceIfExpired or AdvanceIfAllActed instead.
func (e *Engine) AdvancePhase(roomID string) (Transition, bool) {
	var tr *Transition
	_ = e.locks.WithRoomLock(roomID, func() error {
		room, ok := e.store.Get(roomID)
		if !ok {
			return nil
		}
		tr = e.advanceLocked(room)
		return nil
	})
	if tr == nil {
		return Transition{}, false
	}
	return *tr, true
}

func (e *Engine) advanceLocked(room *Room) *Transition {
	switch room.State.Phase {
	case PhaseResponding:
		return e.advanceToGuessingLocked(room)
	case PhaseGuessing:
		return e.advanceToResultsLocked(room)
	case PhaseResults:
		return e.advanceToWaitingLocked(room)
	}
	// Waiting has nothing to advance; a new round starts on demand.
	return nil
}

// AdvanceIfExpired advances the phase only when its deadline has passed,
// with the expiry re-checked under the room lock. A player action that lands
// between the scheduler's tick and this call restarts the timer, and the
// re-check then finds a fresh phase and leaves it alone.
func (e *Engine) AdvanceIfExpired(roomID string) (Transition, bool) {
	var tr *Transition
	_ = e.locks.WithRoomLock(roomID, func() error {
		room, ok := e.store.Get(roomID)
		if !ok {
			return nil
		}
		if !e.phaseExpiredLocked(room.State) {
			return nil
		}
		tr = e.advanceLocked(room)
		return nil
	})
	if tr == nil {
		return Transition{}, false
	}
	return *tr, true
}

// AdvanceIfAllActed advances a responding or guessing phase once every
// still-connected player has completed the phase's action. The counts are
// taken under the room lock, so a concurrent join or submission cannot slip
// between the check and the advance.
func (e *Engine) AdvanceIfAllActed(roomID string) (Transition, bool) {
	var tr *Transition
	_ = e.locks.WithRoomLock(roomID, func() error {
		room, ok := e.store.Get(roomID)
		if !ok {
			return nil
		}
		connected := connectedCountLocked(room)
		if connected == 0 {
			return nil
		}
		acted := 0
		switch room.State.Phase {
		case PhaseResponding:
			for _, r := range room.State.Responses {
				if r.IsMachine {
					continue
				}
				if p := room.Players[r.AuthorID]; p != nil && p.Connected {
					acted++
				}
			}
		case PhaseGuessing:
			for guesserID := range room.State.Guesses {
				if p := room.Players[guesserID]; p != nil && p.Connected {
					acted++
				}
			}
		default:
			return nil
		}
		if acted >= connected {
			tr = e.advanceLocked(room)
		}
		return nil
	})
	if tr == nil {
		return Transition{}, false
	}
	return *tr, true
}

// PauseIfBelowMinimum resets an in-round room to waiting when too few
// players remain connected, with the count re-taken under the room lock.
func (e *Engine) PauseIfBelowMinimum(roomID string) (Transition, bool) {
	var tr *Transition
	_ = e.locks.WithRoomLock(roomID, func() error {
		room, ok := e.store.Get(roomID)
		if !ok || room.State.Phase == PhaseWaiting {
			return nil
		}
		if connectedCountLocked(room) >= e.cfg.MinPlayers {
			return nil
		}
		tr = e.advanceToWaitingLocked(room)
		return nil
	})
	if tr == nil {
		return Transition{}, false
	}
	return *tr, true
}

// ForceWaiting resets the room to waiting regardless of phase, clearing the
// round in progress. Used when too few players remain to continue.
func (e *Engine) ForceWaiting(roomID string) (Transition, bool) {
	var tr *Transition
	_ = e.locks.WithRoomLock(roomID, func() error {
		room, ok := e.store.Get(roomID)
		if !ok {
			return nil
		}
		if room.State.Phase == PhaseWaiting {
			return nil
		}
		tr = e.advanceToWaitingLocked(room)
		return nil
	})
	if tr == nil {
		return Transition{}, false
	}
	return *tr, true
}

// IsPhaseExpired reports whether the current phase has outlived its duration.
// An untimed phase never expires.
func (e *Engine) IsPhaseExpired(roomID string) bool {
	expired := false
	_ = e.locks.WithRoomLock(roomID, func() error {
		room, ok := e.store.Get(roomID)
		if !ok {
			return nil
		}
		expired = e.phaseExpiredLocked(room.State)
		return nil
	})
	return expired
}

// phaseExpiredLocked compares the clock against the deadline itself rather
// than whole remaining seconds, so a phase with a fraction of a second left
// is not expired yet.
func (e *Engine) phaseExpiredLocked(st GameState) bool {
	if st.PhaseDuration <= 0 || st.PhaseStart.IsZero() {
		return false
	}
	deadline := st.PhaseStart.Add(time.Duration(st.PhaseDuration) * time.Second)
	return !e.now().Before(deadline)
}

// TimeRemaining returns the seconds left in the current phase and whether the
// phase is timed at all.
func (e *Engine) TimeRemaining(roomID string) (int, bool) {
	var remaining int
	timed := false
	_ = e.locks.WithRoomLock(roomID, func() error {
		room, ok := e.store.Get(roomID)
		if !ok {
			return nil
		}
		st := room.State
		if st.PhaseDuration <= 0 || st.PhaseStart.IsZero() {
			return nil
		}
		timed = true
		deadline := st.PhaseStart.Add(time.Duration(st.PhaseDuration) * time.Second)
		remaining = int(deadline.Sub(e.now()).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		return nil
	})
	return remaining, timed
}

// CanStartRound reports whether a new round may begin, with a human-readable
// reason when it may not.
func (e *Engine) CanStartRound(roomID string) (bool, string) {
	allowed := false
	reason := "room not found"
	_ = e.locks.WithRoomLock(roomID, func() error {
		room, ok := e.store.Get(roomID)
		if !ok {
			return nil
		}
		if room.State.Phase != PhaseWaiting && room.State.Phase != PhaseResults {
			reason = "a round is already in progress"
			return nil
		}
		connected := connectedCountLocked(room)
		if connected < e.cfg.MinPlayers {
			reason = "not enough players connected"
			return nil
		}
		allowed = true
		reason = ""
		return nil
	})
	return allowed, reason
}

// advanceToGuessingLocked mixes the machine response in, shuffles, and opens
// the guessing phase. Caller holds the room lock.
func (e *Engine) advanceToGuessingLocked(room *Room) *Transition {
	from := room.State.Phase

	next := room.State.clone()
	machineText := ""
	if next.Prompt != nil {
		machineText = next.Prompt.MachineText
	}
	next.Responses = append(next.Responses, Response{
		Text:      machineText,
		IsMachine: true,
	})
	// Uniform permutation anonymizes authorship by position.
	rand.Shuffle(len(next.Responses), func(i, j int) {
		next.Responses[i], next.Responses[j] = next.Responses[j], next.Responses[i]
	})
	next.Phase = PhaseGuessing
	next.Guesses = make(map[string]int)
	next.PhaseStart = e.now()
	next.PhaseDuration = e.cfg.GuessingSeconds

	if !e.state.applyLocked(room, next) {
		return nil
	}
	return &Transition{RoomID: room.ID, From: from, To: PhaseGuessing, Round: next.Round}
}

// advanceToResultsLocked scores the round and opens the results phase.
// Caller holds the room lock.
func (e *Engine) advanceToResultsLocked(room *Room) *Transition {
	from := room.State.Phase

	deltas := ComputeRoundDeltas(room.State.Responses, room.State.Guesses)

	next := room.State.clone()
	next.Phase = PhaseResults
	next.PhaseStart = e.now()
	next.PhaseDuration = e.cfg.ResultsSeconds

	if !e.state.applyLocked(room, next) {
		return nil
	}
	e.players.applyDeltasLocked(room, deltas)
	return &Transition{RoomID: room.ID, From: from, To: PhaseResults, Round: next.Round}
}

// advanceToWaitingLocked is the terminal reset point of every round. Caller
// holds the room lock.
func (e *Engine) advanceToWaitingLocked(room *Room) *Transition {
	from := room.State.Phase

	next := GameState{
		Phase:     PhaseWaiting,
		Round:     room.State.Round,
		Responses: []Response{},
		Guesses:   make(map[string]int),
	}
	if !e.state.applyLocked(room, next) {
		return nil
	}
	return &Transition{RoomID: room.ID, From: from, To: PhaseWaiting, Round: next.Round}
}
