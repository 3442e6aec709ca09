package game

import (
	"testing"
	"time"
)

func TestLockForReturnsSameMutex(t *testing.T) {
	lr := NewLockRegistry()
	m1 := lr.LockFor("room1")
	m2 := lr.LockFor("room1")
	if m1 != m2 {
		t.Fatal("same room should get the same mutex")
	}
	if lr.LockFor("room2") == m1 {
		t.Fatal("different rooms should get different mutexes")
	}
}

func TestWithRoomLockReleasesOnPanic(t *testing.T) {
	lr := NewLockRegistry()
	func() {
		defer func() { _ = recover() }()
		_ = lr.WithRoomLock("room1", func() error {
			panic("boom")
		})
	}()
	// If the panic left the mutex held, this would block forever.
	done := make(chan struct{})
	go func() {
		_ = lr.WithRoomLock("room1", func() error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock was not released after panic")
	}
}

func TestCleanupDropsEntry(t *testing.T) {
	lr := NewLockRegistry()
	m1 := lr.LockFor("room1")
	lr.Cleanup("room1")
	if lr.LockFor("room1") == m1 {
		t.Fatal("cleanup should drop the old mutex entry")
	}
}

func TestDeduperWindow(t *testing.T) {
	d := NewDeduper(10 * time.Millisecond)
	now := time.Now()
	d.now = func() time.Time { return now }

	if d.IsDuplicate("key1") {
		t.Fatal("first sighting should not be a duplicate")
	}
	if !d.IsDuplicate("key1") {
		t.Fatal("second sighting inside the window should be a duplicate")
	}
	if d.IsDuplicate("key2") {
		t.Fatal("different key should not be a duplicate")
	}

	now = now.Add(20 * time.Millisecond)
	if d.IsDuplicate("key1") {
		t.Fatal("sighting after the window should not be a duplicate")
	}
}
