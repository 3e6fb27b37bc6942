package usecase

import (
	"slices"
	"sync"
)

// roomLocks hands out one mutex per room id. Entries are dropped once nobody holds or waits on them.
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{
		locks: make(map[string]*roomLock),
	}
}

// Lock - blocks until the room is free and returns the matching unlock.
func (that *roomLocks) Lock(roomID string) func() {
	that.mu.Lock()
	lock, ok := that.locks[roomID]
	if !ok {
		lock = &roomLock{}
		that.locks[roomID] = lock
	}
	lock.refs++
	that.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		that.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(that.locks, roomID)
		}
		that.mu.Unlock()
	}
}

// LockAll - locks several rooms in id order so two callers never wait on each other. Empty ids are skipped.
func (that *roomLocks) LockAll(roomIDs ...string) func() {
	ids := make([]string, 0, len(roomIDs))
	for _, id := range roomIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}

	slices.Sort(ids)
	ids = slices.Compact(ids)

	unlocks := make([]func(), 0, len(ids))
	for _, id := range ids {
		unlocks = append(unlocks, that.Lock(id))
	}

	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

func (that *roomLocks) size() int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return len(that.locks)
}
