package game

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Broadcaster receives outbound notifications, invoked strictly after the
// room lock is released and carrying only already-computed primitives.
type Broadcaster interface {
	PhaseChanged(roomID string, phase Phase, round int)
	CountdownUpdate(roomID string, phase Phase, remaining, duration int)
	TimeWarning(roomID string, phase Phase, remaining int)
	RoundEnded(roomID string, round int)
	GamePaused(roomID string, reason string)
}

// warningThresholds are the remaining-seconds marks that trigger a one-shot
// warning per phase.
var warningThresholds = []int{30, 10}

// Scheduler is the single background loop that drives timed phase advances,
// countdown notifications and the inactivity sweep. Every room mutation goes
// through the Engine and therefore the same per-room locks as player
// actions, so manual and automatic advancement never race.
type Scheduler struct {
	engine    *Engine
	store     *RoomStore
	locks     *LockRegistry
	broadcast Broadcaster
	cfg       Settings

	mu            sync.Mutex
	lastCountdown map[string]time.Time
	warned        map[string]map[int]bool
	lastPhase     map[string]Phase

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stop      chan struct{}
	done      chan struct{}
	ticks     int
	now       func() time.Time
}

func NewScheduler(engine *Engine, store *RoomStore, locks *LockRegistry, broadcast Broadcaster, cfg Settings) *Scheduler {
	return &Scheduler{
		engine:        engine,
		store:         store,
		locks:         locks,
		broadcast:     broadcast,
		cfg:           cfg,
		lastCountdown: make(map[string]time.Time),
		warned:        make(map[string]map[int]bool),
		lastPhase:     make(map[string]Phase),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		now:           time.Now,
	}
}

func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.started = true
		go s.run()
		log.Info().Dur("tick", s.cfg.TickInterval).Msg("auto-flow scheduler started")
	})
}

// Stop is idempotent and joins the loop with a bounded wait.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if !s.started {
			return
		}
		select {
		case <-s.done:
		case <-time.After(5 * time.Second):
			log.Error().Msg("scheduler did not stop in time")
		}
		log.Info().Msg("auto-flow scheduler stopped")
	})
}

func (s *Scheduler) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick processes every room once, then runs the sweep on its coarser
// cadence. An explicit tick counter decides the sweep, not wall-clock
// arithmetic, so a delayed tick cannot skip it.
func (s *Scheduler) tick() {
	for _, roomID := range s.store.RoomIDs() {
		s.checkRoom(roomID)
	}

	s.ticks++
	sweepEvery := int(time.Minute / s.cfg.TickInterval)
	if sweepEvery < 1 {
		sweepEvery = 1
	}
	if s.ticks >= sweepEvery {
		s.ticks = 0
		maxAge := time.Duration(s.cfg.MaxInactiveMinutes) * time.Minute
		if removed := s.store.SweepInactive(maxAge); len(removed) > 0 {
			for _, id := range removed {
				s.locks.Cleanup(id)
				s.forget(id)
			}
			log.Info().Int("removed", len(removed)).Msg("inactive room sweep")
		}
	}
}

// checkRoom handles one room's timeout and countdown work. Any panic is
// contained here so a single bad room cannot starve the loop.
func (s *Scheduler) checkRoom(roomID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("room", roomID).Interface("panic", r).Msg("room check failed")
		}
	}()

	if tr, ok := s.engine.AdvanceIfExpired(roomID); ok {
		s.resetCountdown(roomID, tr.To)
		s.broadcast.PhaseChanged(tr.RoomID, tr.To, tr.Round)
		if tr.To == PhaseResults {
			s.broadcast.RoundEnded(tr.RoomID, tr.Round)
		}
		log.Info().
			Str("room", roomID).
			Str("from", tr.From.String()).
			Str("to", tr.To.String()).
			Msg("phase timeout advanced")
		return
	}

	s.maybeCountdown(roomID)
}

// NotifyTransition lets request-handler-driven transitions (all-responded,
// all-guessed) reset this room's countdown tracking so warnings for the old
// phase are not replayed into the new one.
func (s *Scheduler) NotifyTransition(tr Transition) {
	s.resetCountdown(tr.RoomID, tr.To)
}

// OnPlayerDisconnect is invoked by the connection layer after a disconnect.
// Too few remaining players pauses the game; otherwise, if everyone left has
// already acted, the phase advances without waiting for the next tick. Both
// conditions are evaluated inside the engine under the room lock.
func (s *Scheduler) OnPlayerDisconnect(roomID, playerID string) {
	if tr, ok := s.engine.PauseIfBelowMinimum(roomID); ok {
		s.resetCountdown(roomID, tr.To)
		s.broadcast.PhaseChanged(tr.RoomID, tr.To, tr.Round)
		s.broadcast.GamePaused(roomID, "not enough players connected")
		log.Info().Str("room", roomID).Str("player", playerID).Msg("game paused")
		return
	}

	if tr, ok := s.engine.AdvanceIfAllActed(roomID); ok {
		s.resetCountdown(roomID, tr.To)
		s.broadcast.PhaseChanged(tr.RoomID, tr.To, tr.Round)
		if tr.To == PhaseResults {
			s.broadcast.RoundEnded(tr.RoomID, tr.Round)
		}
		log.Info().Str("room", roomID).Str("to", tr.To.String()).Msg("advanced early after disconnect")
	}
}

func (s *Scheduler) maybeCountdown(roomID string) {
	remaining, timed := s.engine.TimeRemaining(roomID)
	if !timed {
		return
	}
	snap, ok := s.engine.state.Snapshot(roomID)
	if !ok {
		return
	}
	phase := snap.State.Phase
	if phase != PhaseResponding && phase != PhaseGuessing {
		return
	}

	s.mu.Lock()
	if s.lastPhase[roomID] != phase {
		s.lastPhase[roomID] = phase
		s.lastCountdown[roomID] = time.Time{}
		s.warned[roomID] = make(map[int]bool)
	}
	countdownDue := s.now().Sub(s.lastCountdown[roomID]) >= s.cfg.CountdownInterval
	if countdownDue {
		s.lastCountdown[roomID] = s.now()
	}
	var warnAt int
	for _, threshold := range warningThresholds {
		if remaining <= threshold && !s.warned[roomID][threshold] {
			s.warned[roomID][threshold] = true
			warnAt = threshold
			break
		}
	}
	s.mu.Unlock()

	if countdownDue {
		s.broadcast.CountdownUpdate(roomID, phase, remaining, snap.State.PhaseDuration)
	}
	if warnAt > 0 {
		s.broadcast.TimeWarning(roomID, phase, remaining)
	}
}

// forget drops the tracking state of a deleted room.
func (s *Scheduler) forget(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lastPhase, roomID)
	delete(s.lastCountdown, roomID)
	delete(s.warned, roomID)
}

func (s *Scheduler) resetCountdown(roomID string, phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPhase[roomID] = phase
	s.lastCountdown[roomID] = time.Time{}
	s.warned[roomID] = make(map[int]bool)
}

// String implements fmt.Stringer for logging convenience.
func (t Transition) String() string {
	return fmt.Sprintf("%s: %s -> %s (round %d)", t.RoomID, t.From, t.To, t.Round)
}
