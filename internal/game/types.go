package game

import (
	"time"
)

type Phase string

const (
	PhaseWaiting    Phase = "waiting"
	PhaseResponding Phase = "responding"
	PhaseGuessing   Phase = "guessing"
	PhaseResults    Phase = "results"
)

func (p Phase) String() string {
	return string(p)
}

func (p Phase) Valid() bool {
	switch p {
	case PhaseWaiting, PhaseResponding, PhaseGuessing, PhaseResults:
		return true
	}
	return false
}

// phaseTransitions is the full transition table. Self-loops allow a phase to
// be re-committed to record incremental progress (e.g. a new response landing
// while still in responding).
var phaseTransitions = map[Phase][]Phase{
	PhaseWaiting:    {PhaseWaiting, PhaseResponding},
	PhaseResponding: {PhaseResponding, PhaseGuessing, PhaseWaiting},
	PhaseGuessing:   {PhaseGuessing, PhaseResults, PhaseResponding, PhaseWaiting},
	PhaseResults:    {PhaseWaiting, PhaseResponding},
}

func (p Phase) CanTransitionTo(next Phase) bool {
	for _, allowed := range phaseTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Player struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Score     int    `json:"score"`
	Connected bool   `json:"connected"`
	// ConnID is an opaque handle owned by the transport layer.
	ConnID string `json:"-"`
}

// Response is one entry players can guess at during the guessing phase.
// AuthorID is empty when the response is machine-generated.
type Response struct {
	Text      string `json:"text"`
	AuthorID  string `json:"authorId,omitempty"`
	IsMachine bool   `json:"isMachine"`
}

// PromptPayload carries a round's prompt together with the reference
// machine-generated text. MachineText never leaves the engine before the
// guessing phase begins.
type PromptPayload struct {
	ID          string `json:"id"`
	Text        string `json:"prompt"`
	Model       string `json:"model"`
	MachineText string `json:"-"`
}

// GameState is replaced wholesale on every phase transition, never mutated
// field by field, so a transition is atomic under one critical section.
type GameState struct {
	Phase     Phase          `json:"phase"`
	Round     int            `json:"round"`
	Prompt    *PromptPayload `json:"prompt,omitempty"`
	Responses []Response     `json:"responses"`
	Guesses   map[string]int `json:"guesses"`
	// PhaseStart is zero and PhaseDuration is 0 when the phase is untimed.
	PhaseStart    time.Time `json:"phaseStart"`
	PhaseDuration int       `json:"phaseDuration"` // seconds
}

func newGameState() GameState {
	return GameState{
		Phase:     PhaseWaiting,
		Responses: []Response{},
		Guesses:   make(map[string]int),
	}
}

func (gs GameState) clone() GameState {
	out := gs
	out.Responses = make([]Response, len(gs.Responses))
	copy(out.Responses, gs.Responses)
	out.Guesses = make(map[string]int, len(gs.Guesses))
	for id, idx := range gs.Guesses {
		out.Guesses[id] = idx
	}
	if gs.Prompt != nil {
		p := *gs.Prompt
		out.Prompt = &p
	}
	return out
}

type Room struct {
	ID           string             `json:"id"`
	Players      map[string]*Player `json:"players"`
	State        GameState          `json:"state"`
	CreatedAt    time.Time          `json:"createdAt"`
	LastActivity time.Time          `json:"lastActivity"`
}

// snapshot deep-copies the room so callers can read it without the room lock.
func (r *Room) snapshot() *Room {
	out := &Room{
		ID:           r.ID,
		Players:      make(map[string]*Player, len(r.Players)),
		State:        r.State.clone(),
		CreatedAt:    r.CreatedAt,
		LastActivity: r.LastActivity,
	}
	for id, p := range r.Players {
		cp := *p
		out.Players[id] = &cp
	}
	return out
}

// Settings are the engine's recognized tuning knobs. The zero value is not
// usable; start from DefaultSettings.
type Settings struct {
	RespondingSeconds  int
	GuessingSeconds    int
	ResultsSeconds     int
	MaxPlayers         int
	MinPlayers         int
	MaxInactiveMinutes int
	TickInterval       time.Duration
	CountdownInterval  time.Duration
	DedupWindow        time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		RespondingSeconds:  120,
		GuessingSeconds:    60,
		ResultsSeconds:     30,
		MaxPlayers:         8,
		MinPlayers:         2,
		MaxInactiveMinutes: 60,
		TickInterval:       time.Second,
		CountdownInterval:  10 * time.Second,
		DedupWindow:        time.Second,
	}
}
