package game

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestPlayerManager() (*PlayerManager, *RoomStore) {
	cfg := DefaultSettings()
	cfg.MaxPlayers = 4
	cfg.DedupWindow = 10 * time.Millisecond
	store := NewRoomStore()
	locks := NewLockRegistry()
	return NewPlayerManager(store, locks, NewDeduper(cfg.DedupWindow), cfg), store
}

func TestAddPlayerAutoCreatesRoom(t *testing.T) {
	pm, store := newTestPlayerManager()
	p, err := pm.AddPlayer("room1", "Alice", "conn-a")
	if err != nil {
		t.Fatalf("join should succeed: %v", err)
	}
	if p.ID == "" {
		t.Fatal("player id should be assigned")
	}
	if p.Score != 0 {
		t.Fatalf("new player score should be 0, got %d", p.Score)
	}
	if !p.Connected {
		t.Fatal("new player should be connected")
	}
	if !store.Exists("room1") {
		t.Fatal("room should have been auto-created")
	}
}

func TestAddPlayerNameTaken(t *testing.T) {
	pm, _ := newTestPlayerManager()
	pm.AddPlayer("room1", "Alice", "conn-a")
	_, err := pm.AddPlayer("room1", "Alice", "conn-b")
	if !errors.Is(err, ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}
}

func TestAddPlayerRoomFull(t *testing.T) {
	pm, _ := newTestPlayerManager()
	for i := 0; i < 4; i++ {
		if _, err := pm.AddPlayer("room1", fmt.Sprintf("p%d", i), fmt.Sprintf("c%d", i)); err != nil {
			t.Fatalf("join %d should succeed: %v", i, err)
		}
	}
	_, err := pm.AddPlayer("room1", "overflow", "c9")
	if !errors.Is(err, ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
	if got := len(pm.AllPlayers("room1")); got != 4 {
		t.Fatalf("rejected join must not mutate player count, got %d", got)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	pm, _ := newTestPlayerManager()
	p, _ := pm.AddPlayer("room1", "Alice", "conn-a")

	if !pm.DisconnectPlayer("room1", p.ID) {
		t.Fatal("first disconnect should succeed")
	}
	if !pm.DisconnectPlayer("room1", p.ID) {
		t.Fatal("second disconnect should be a no-op success")
	}
	players := pm.AllPlayers("room1")
	if len(players) != 1 {
		t.Fatalf("disconnect must not remove the record, got %d players", len(players))
	}
	if players[0].Connected {
		t.Fatal("player should be marked disconnected")
	}
	if pm.DisconnectPlayer("room1", "nope") {
		t.Fatal("unknown player should report false")
	}
	if pm.DisconnectPlayer("nope", p.ID) {
		t.Fatal("unknown room should report false")
	}
}

func TestReconnectionKeepsScoreAndID(t *testing.T) {
	pm, _ := newTestPlayerManager()
	p, _ := pm.AddPlayer("room1", "Alice", "conn-a")
	pm.SetScore("room1", p.ID, 7)
	pm.DisconnectPlayer("room1", p.ID)

	back, err := pm.AddPlayer("room1", "Alice", "conn-b")
	if err != nil {
		t.Fatalf("reconnection should succeed: %v", err)
	}
	if back.ID != p.ID {
		t.Fatal("reconnection must reuse the existing player id")
	}
	if back.Score != 7 {
		t.Fatalf("reconnection must keep the score, got %d", back.Score)
	}
	if !back.Connected {
		t.Fatal("reconnected player should be connected")
	}
	if got := len(pm.AllPlayers("room1")); got != 1 {
		t.Fatalf("reconnection must not create a new record, got %d", got)
	}
}

func TestRemoveLastPlayerDeletesRoom(t *testing.T) {
	pm, store := newTestPlayerManager()
	a, _ := pm.AddPlayer("room1", "Alice", "conn-a")
	b, _ := pm.AddPlayer("room1", "Bob", "conn-b")

	pm.DisconnectPlayer("room1", b.ID)
	if !pm.RemovePlayer("room1", a.ID) {
		t.Fatal("remove should succeed")
	}
	if !store.Exists("room1") {
		t.Fatal("room should survive while a disconnected record remains")
	}
	if !pm.RemovePlayer("room1", b.ID) {
		t.Fatal("remove of disconnected player should succeed")
	}
	if store.Exists("room1") {
		t.Fatal("room should be deleted with its last record")
	}
}

func TestIsRoomEmpty(t *testing.T) {
	pm, _ := newTestPlayerManager()
	p, _ := pm.AddPlayer("room1", "Alice", "conn-a")
	if pm.IsRoomEmpty("room1") {
		t.Fatal("room with a connected player is not empty")
	}
	pm.DisconnectPlayer("room1", p.ID)
	if !pm.IsRoomEmpty("room1") {
		t.Fatal("room with only disconnected records counts as empty")
	}
}

func TestDuplicateJoinCollapsed(t *testing.T) {
	pm, _ := newTestPlayerManager()
	p1, err := pm.AddPlayer("room1", "Alice", "conn-a")
	if err != nil {
		t.Fatalf("join should succeed: %v", err)
	}
	// Same key inside the dedup window: the retry gets the existing record.
	p2, err := pm.AddPlayer("room1", "Alice", "conn-a")
	if err != nil {
		t.Fatalf("retried join should be collapsed, got %v", err)
	}
	if p1.ID != p2.ID {
		t.Fatal("retry should return the same player record")
	}
	if got := len(pm.AllPlayers("room1")); got != 1 {
		t.Fatalf("retry must not create a second record, got %d", got)
	}
}

func TestConcurrentJoinsDistinctNames(t *testing.T) {
	pm, _ := newTestPlayerManager()
	pm.cfg.MaxPlayers = 100

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := pm.AddPlayer("room1", fmt.Sprintf("player-%d", i), fmt.Sprintf("conn-%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent join failed: %v", err)
		}
	}

	players := pm.AllPlayers("room1")
	if len(players) != n {
		t.Fatalf("expected %d players, got %d", n, len(players))
	}
	ids := make(map[string]bool, n)
	for _, p := range players {
		if ids[p.ID] {
			t.Fatalf("duplicate player id %s", p.ID)
		}
		ids[p.ID] = true
	}
}
