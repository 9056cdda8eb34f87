package application

import "sync"

// EventLocks hands out one mutex per event so allocation for an event runs
// one check-then-insert at a time inside this process.
type EventLocks struct {
	mu    sync.Mutex
	locks map[string]*eventLock
}

type eventLock struct {
	mu      sync.Mutex
	holders int
}

// NewEventLocks returns an empty lock table.
func NewEventLocks() *EventLocks {
	return &EventLocks{locks: make(map[string]*eventLock)}
}

// Lock blocks until the event's lock is held and returns the release function.
func (l *EventLocks) Lock(eventID string) func() {
	l.mu.Lock()
	lock, ok := l.locks[eventID]
	if !ok {
		lock = &eventLock{}
		l.locks[eventID] = lock
	}
	lock.holders++
	l.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.holders--
		if lock.holders == 0 {
			delete(l.locks, eventID)
		}
		l.mu.Unlock()
	}
}

func defaultLocks(locks *EventLocks) *EventLocks {
	if locks == nil {
		return NewEventLocks()
	}
	return locks
}
