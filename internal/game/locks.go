package game

import (
	"sync"
	"time"
)

// LockRegistry hands out one mutex per room so unrelated rooms never contend.
// The registry owns every lock object; rooms reference theirs by id only.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[string]*sync.Mutex)}
}

// LockFor returns the room's mutex, creating it on first request.
func (lr *LockRegistry) LockFor(roomID string) *sync.Mutex {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	m := lr.locks[roomID]
	if m == nil {
		m = &sync.Mutex{}
		lr.locks[roomID] = m
	}
	return m
}

// WithRoomLock runs fn while holding the room's mutex. The deferred unlock
// releases on every exit path, including panics. Mutexes here are not
// reentrant: fn must not call back into anything that re-acquires the same
// room's lock.
func (lr *LockRegistry) WithRoomLock(roomID string, fn func() error) error {
	m := lr.LockFor(roomID)
	m.Lock()
	defer m.Unlock()
	return fn()
}

// Cleanup drops a room's mutex entry after the room itself is deleted. A late
// request for the same id simply gets a fresh mutex.
func (lr *LockRegistry) Cleanup(roomID string) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	delete(lr.locks, roomID)
}

// Deduper collapses duplicate network retries arriving within a short window.
// It is best-effort only: callers must tolerate a missed duplicate.
type Deduper struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

func NewDeduper(window time.Duration) *Deduper {
	return &Deduper{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// IsDuplicate reports whether key was seen within the window, recording it
// otherwise. Entries older than the window are evicted lazily on each call.
func (d *Deduper) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, at := range d.seen {
		if now.Sub(at) > d.window {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = now
	return false
}
