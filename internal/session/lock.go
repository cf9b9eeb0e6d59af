package session

import "sync"

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Locker serializes work per user. Entries are reference counted and dropped when unused.
type Locker struct {
	mu    sync.Mutex
	locks map[int64]*lockEntry
}

// NewLocker constructs an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[int64]*lockEntry)}
}

// Lock blocks until the user's lock is held and returns the release function.
func (l *Locker) Lock(userID int64) (unlock func()) {
	entry := l.acquire(userID)
	entry.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()
			l.release(userID)
		})
	}
}

func (l *Locker) acquire(userID int64) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[userID]
	if !ok {
		entry = &lockEntry{}
		l.locks[userID] = entry
	}
	entry.refs++
	return entry
}

func (l *Locker) release(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[userID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, userID)
	}
}

func (l *Locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
