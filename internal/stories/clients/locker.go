package clients

import "sync"

// locker hands out one mutex per server. Mutations of a server run one at a
// time; the classic panels only take whole-inbound rewrites.
type locker struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newLocker() *locker {
	return &locker{locks: make(map[int64]*sync.Mutex)}
}

func (l *locker) lock(serverID int64) func() {
	l.mu.Lock()
	m, ok := l.locks[serverID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[serverID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
