package game

import (
	"errors"
	"sort"
	"testing"
	"time"
)

type testRig struct {
	store   *RoomStore
	locks   *LockRegistry
	players *PlayerManager
	state   *StateKeeper
	engine  *Engine
	clock   time.Time
}

func newTestRig() *testRig {
	cfg := DefaultSettings()
	cfg.RespondingSeconds = 30
	cfg.GuessingSeconds = 20
	cfg.ResultsSeconds = 10
	cfg.DedupWindow = 10 * time.Millisecond

	rig := &testRig{clock: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	rig.store = NewRoomStore()
	rig.locks = NewLockRegistry()
	rig.players = NewPlayerManager(rig.store, rig.locks, NewDeduper(cfg.DedupWindow), cfg)
	rig.state = NewStateKeeper(rig.store, rig.locks)
	rig.engine = NewEngine(rig.store, rig.locks, rig.players, rig.state, cfg)

	rig.store.now = func() time.Time { return rig.clock }
	rig.engine.now = func() time.Time { return rig.clock }
	return rig
}

func (rig *testRig) advance(d time.Duration) {
	rig.clock = rig.clock.Add(d)
}

func (rig *testRig) join(roomID, name string) Player {
	p, err := rig.players.AddPlayer(roomID, name, "conn-"+name)
	if err != nil {
		panic(err)
	}
	return p
}

func testPrompt() PromptPayload {
	return PromptPayload{ID: "p1", Text: "Why is the sky blue?", Model: "test-model", MachineText: "Rayleigh scattering."}
}

func TestStartRoundOnlyFromWaitingOrResults(t *testing.T) {
	rig := newTestRig()
	rig.join("room1", "Alice")
	rig.join("room1", "Bob")

	if !rig.engine.StartRound("room1", testPrompt()) {
		t.Fatal("round should start from waiting")
	}
	if rig.engine.StartRound("room1", testPrompt()) {
		t.Fatal("round must not start while responding")
	}
	if rig.engine.StartRound("missing", testPrompt()) {
		t.Fatal("round must not start in a missing room")
	}

	snap, _ := rig.state.Snapshot("room1")
	if snap.State.Phase != PhaseResponding {
		t.Fatalf("expected responding, got %s", snap.State.Phase)
	}
	if snap.State.Round != 1 {
		t.Fatalf("expected round 1, got %d", snap.State.Round)
	}
	if snap.State.PhaseDuration != 30 {
		t.Fatalf("expected responding duration 30, got %d", snap.State.PhaseDuration)
	}
}

func TestSubmitResponseGating(t *testing.T) {
	rig := newTestRig()
	alice := rig.join("room1", "Alice")
	rig.join("room1", "Bob")

	if _, err := rig.engine.SubmitResponse("room1", alice.ID, "early"); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("submitting before the round should fail with ErrWrongPhase, got %v", err)
	}

	rig.engine.StartRound("room1", testPrompt())

	if _, err := rig.engine.SubmitResponse("room1", "ghost", "hi"); !errors.Is(err, ErrPlayerNotInRoom) {
		t.Fatalf("unknown player should fail, got %v", err)
	}
	if _, err := rig.engine.SubmitResponse("room1", alice.ID, "  my answer  "); err != nil {
		t.Fatalf("first submission should succeed: %v", err)
	}
	if _, err := rig.engine.SubmitResponse("room1", alice.ID, "again"); !errors.Is(err, ErrAlreadyResponded) {
		t.Fatalf("second submission should fail, got %v", err)
	}

	snap, _ := rig.state.Snapshot("room1")
	if len(snap.State.Responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(snap.State.Responses))
	}
	if snap.State.Responses[0].Text != "my answer" {
		t.Fatalf("text should be trimmed, got %q", snap.State.Responses[0].Text)
	}
}

func TestAllRespondedAdvancesToGuessing(t *testing.T) {
	rig := newTestRig()
	alice := rig.join("room1", "Alice")
	bob := rig.join("room1", "Bob")
	rig.engine.StartRound("room1", testPrompt())

	tr, err := rig.engine.SubmitResponse("room1", alice.ID, "a")
	if err != nil || tr != nil {
		t.Fatalf("first submission should not advance, tr=%v err=%v", tr, err)
	}
	tr, err = rig.engine.SubmitResponse("room1", bob.ID, "b")
	if err != nil {
		t.Fatalf("second submission should succeed: %v", err)
	}
	if tr == nil || tr.To != PhaseGuessing {
		t.Fatalf("last submission should advance to guessing, got %v", tr)
	}

	snap, _ := rig.state.Snapshot("room1")
	if snap.State.Phase != PhaseGuessing {
		t.Fatalf("expected guessing, got %s", snap.State.Phase)
	}
	if snap.State.PhaseDuration != 20 {
		t.Fatalf("guessing timer should be reset to 20, got %d", snap.State.PhaseDuration)
	}

	machines := 0
	texts := []string{}
	for _, r := range snap.State.Responses {
		if r.IsMachine {
			machines++
			if r.Text != "Rayleigh scattering." {
				t.Fatalf("machine text mismatch: %q", r.Text)
			}
		}
		texts = append(texts, r.Text)
	}
	if machines != 1 {
		t.Fatalf("exactly one machine response expected, got %d", machines)
	}
	sort.Strings(texts)
	want := []string{"Rayleigh scattering.", "a", "b"}
	for i := range want {
		if texts[i] != want[i] {
			t.Fatalf("shuffle must preserve the response multiset, got %v", texts)
		}
	}
}

func TestSubmitGuessGatingAndAutoResults(t *testing.T) {
	rig := newTestRig()
	alice := rig.join("room1", "Alice")
	bob := rig.join("room1", "Bob")
	rig.engine.StartRound("room1", testPrompt())
	rig.engine.SubmitResponse("room1", alice.ID, "a")
	rig.engine.SubmitResponse("room1", bob.ID, "b")

	snap, _ := rig.state.Snapshot("room1")
	machineIdx, aliceIdx := -1, -1
	for i, r := range snap.State.Responses {
		if r.IsMachine {
			machineIdx = i
		}
		if r.AuthorID == alice.ID {
			aliceIdx = i
		}
	}

	if _, err := rig.engine.SubmitGuess("room1", alice.ID, 99); !errors.Is(err, ErrGuessOutOfRange) {
		t.Fatalf("out-of-range guess should fail, got %v", err)
	}
	// Alice picks her own response; earns nothing either way.
	if _, err := rig.engine.SubmitGuess("room1", alice.ID, aliceIdx); err != nil {
		t.Fatalf("guess should succeed: %v", err)
	}
	if _, err := rig.engine.SubmitGuess("room1", alice.ID, machineIdx); !errors.Is(err, ErrAlreadyGuessed) {
		t.Fatalf("second guess should fail, got %v", err)
	}
	tr, err := rig.engine.SubmitGuess("room1", bob.ID, machineIdx)
	if err != nil {
		t.Fatalf("bob's guess should succeed: %v", err)
	}
	if tr == nil || tr.To != PhaseResults {
		t.Fatalf("last guess should advance to results, got %v", tr)
	}

	// Bob found the machine: +1.
	found := false
	for _, p := range rig.players.AllPlayers("room1") {
		if p.ID == bob.ID {
			found = true
			if p.Score != 1 {
				t.Fatalf("bob should have 1 point, got %d", p.Score)
			}
		}
	}
	if !found {
		t.Fatal("bob disappeared")
	}
}

func TestAdvancePhaseWalk(t *testing.T) {
	rig := newTestRig()
	rig.join("room1", "Alice")
	rig.join("room1", "Bob")
	rig.engine.StartRound("room1", testPrompt())

	tr, ok := rig.engine.AdvancePhase("room1")
	if !ok || tr.To != PhaseGuessing {
		t.Fatalf("responding should advance to guessing, got %v %v", tr, ok)
	}
	tr, ok = rig.engine.AdvancePhase("room1")
	if !ok || tr.To != PhaseResults {
		t.Fatalf("guessing should advance to results, got %v %v", tr, ok)
	}
	tr, ok = rig.engine.AdvancePhase("room1")
	if !ok || tr.To != PhaseWaiting {
		t.Fatalf("results should advance to waiting, got %v %v", tr, ok)
	}
	if _, ok = rig.engine.AdvancePhase("room1"); ok {
		t.Fatal("waiting should be a no-op")
	}

	snap, _ := rig.state.Snapshot("room1")
	if snap.State.Prompt != nil || len(snap.State.Responses) != 0 || len(snap.State.Guesses) != 0 {
		t.Fatal("waiting must clear prompt, responses and guesses")
	}
	if snap.State.PhaseDuration != 0 {
		t.Fatal("waiting must be untimed")
	}
	if snap.State.Round != 1 {
		t.Fatalf("round number must survive the reset, got %d", snap.State.Round)
	}
}

func TestPhaseExpiry(t *testing.T) {
	rig := newTestRig()
	rig.join("room1", "Alice")
	rig.join("room1", "Bob")

	if rig.engine.IsPhaseExpired("room1") {
		t.Fatal("waiting never expires")
	}
	if _, timed := rig.engine.TimeRemaining("room1"); timed {
		t.Fatal("waiting is untimed")
	}

	rig.engine.StartRound("room1", testPrompt())
	remaining, timed := rig.engine.TimeRemaining("room1")
	if !timed || remaining != 30 {
		t.Fatalf("expected 30s remaining, got %d (timed=%v)", remaining, timed)
	}
	rig.advance(31 * time.Second)
	if !rig.engine.IsPhaseExpired("room1") {
		t.Fatal("phase should be expired past its duration")
	}
	remaining, _ = rig.engine.TimeRemaining("room1")
	if remaining != 0 {
		t.Fatalf("remaining clamps at 0, got %d", remaining)
	}
}

func TestAdvanceIfExpiredHonorsDeadline(t *testing.T) {
	rig := newTestRig()
	rig.join("room1", "Alice")
	rig.join("room1", "Bob")
	rig.engine.StartRound("room1", testPrompt())

	if _, ok := rig.engine.AdvanceIfExpired("room1"); ok {
		t.Fatal("a running phase must not be advanced")
	}
	rig.advance(30 * time.Second)
	tr, ok := rig.engine.AdvanceIfExpired("room1")
	if !ok || tr.To != PhaseGuessing {
		t.Fatalf("expired responding should advance to guessing, got %v %v", tr, ok)
	}
	if _, ok := rig.engine.AdvanceIfExpired("room1"); ok {
		t.Fatal("the fresh guessing timer must not be expired")
	}
}

func TestStaleExpiryDoesNotSkipGuessing(t *testing.T) {
	rig := newTestRig()
	alice := rig.join("room1", "Alice")
	bob := rig.join("room1", "Bob")
	rig.engine.StartRound("room1", testPrompt())

	if _, err := rig.engine.SubmitResponse("room1", alice.ID, "first"); err != nil {
		t.Fatal(err)
	}
	rig.advance(31 * time.Second)
	if !rig.engine.IsPhaseExpired("room1") {
		t.Fatal("responding should read as expired")
	}

	// The last response lands after that observation and moves the room to
	// guessing with a restarted timer.
	tr, err := rig.engine.SubmitResponse("room1", bob.ID, "second")
	if err != nil || tr == nil || tr.To != PhaseGuessing {
		t.Fatalf("expected advance to guessing, got %v %v", tr, err)
	}

	if _, ok := rig.engine.AdvanceIfExpired("room1"); ok {
		t.Fatal("a stale expiry observation must not advance the fresh phase")
	}
	snap, _ := rig.state.Snapshot("room1")
	if snap.State.Phase != PhaseGuessing {
		t.Fatalf("guessing was skipped, phase is %s", snap.State.Phase)
	}
}

func TestSubSecondRemainderIsNotExpired(t *testing.T) {
	rig := newTestRig()
	rig.join("room1", "Alice")
	rig.join("room1", "Bob")
	rig.engine.StartRound("room1", testPrompt())

	rig.advance(29*time.Second + 500*time.Millisecond)
	if rig.engine.IsPhaseExpired("room1") {
		t.Fatal("phase reported expired with 500ms remaining")
	}
	rig.advance(500 * time.Millisecond)
	if !rig.engine.IsPhaseExpired("room1") {
		t.Fatal("phase must be expired at its deadline")
	}
}

func TestAdvanceIfAllActedRevalidates(t *testing.T) {
	rig := newTestRig()
	alice := rig.join("room1", "Alice")
	bob := rig.join("room1", "Bob")
	rig.engine.StartRound("room1", testPrompt())

	if _, ok := rig.engine.AdvanceIfAllActed("room1"); ok {
		t.Fatal("nobody has responded yet")
	}
	if _, err := rig.engine.SubmitResponse("room1", alice.ID, "only one"); err != nil {
		t.Fatal(err)
	}
	if _, ok := rig.engine.AdvanceIfAllActed("room1"); ok {
		t.Fatal("bob is still connected and has not responded")
	}
	rig.players.DisconnectPlayer("room1", bob.ID)
	tr, ok := rig.engine.AdvanceIfAllActed("room1")
	if !ok || tr.To != PhaseGuessing {
		t.Fatalf("every connected player has responded, got %v %v", tr, ok)
	}
}

func TestPauseIfBelowMinimumRevalidates(t *testing.T) {
	rig := newTestRig()
	rig.join("room1", "Alice")
	bob := rig.join("room1", "Bob")

	if _, ok := rig.engine.PauseIfBelowMinimum("room1"); ok {
		t.Fatal("waiting rooms are never paused")
	}
	rig.engine.StartRound("room1", testPrompt())
	if _, ok := rig.engine.PauseIfBelowMinimum("room1"); ok {
		t.Fatal("enough players are connected")
	}
	rig.players.DisconnectPlayer("room1", bob.ID)
	tr, ok := rig.engine.PauseIfBelowMinimum("room1")
	if !ok || tr.To != PhaseWaiting {
		t.Fatalf("expected a reset to waiting, got %v %v", tr, ok)
	}
}

func TestCanStartRound(t *testing.T) {
	rig := newTestRig()

	if ok, reason := rig.engine.CanStartRound("missing"); ok || reason == "" {
		t.Fatal("missing room should not be startable")
	}

	rig.join("room1", "Alice")
	if ok, reason := rig.engine.CanStartRound("room1"); ok || reason == "" {
		t.Fatal("one player is below the minimum")
	}

	rig.join("room1", "Bob")
	if ok, reason := rig.engine.CanStartRound("room1"); !ok || reason != "" {
		t.Fatalf("two players should be startable, got %q", reason)
	}

	rig.engine.StartRound("room1", testPrompt())
	if ok, _ := rig.engine.CanStartRound("room1"); ok {
		t.Fatal("in-progress round blocks a new start")
	}
}

func TestForceWaiting(t *testing.T) {
	rig := newTestRig()
	rig.join("room1", "Alice")
	rig.join("room1", "Bob")
	rig.engine.StartRound("room1", testPrompt())

	tr, ok := rig.engine.ForceWaiting("room1")
	if !ok || tr.To != PhaseWaiting {
		t.Fatalf("force waiting should reset, got %v %v", tr, ok)
	}
	if _, ok := rig.engine.ForceWaiting("room1"); ok {
		t.Fatal("already waiting is a no-op")
	}
}
