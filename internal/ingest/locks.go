package ingest

import "sync"

// agentLocks hands out one mutex per agent id. Entries are dropped when
// no goroutine holds or waits on them.
type agentLocks struct {
	mu    sync.Mutex
	locks map[int64]*agentLock
}

type agentLock struct {
	mu   sync.Mutex
	refs int
}

func (l *agentLocks) lock(agentID int64) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[int64]*agentLock)
	}
	al, ok := l.locks[agentID]
	if !ok {
		al = &agentLock{}
		l.locks[agentID] = al
	}
	al.refs++
	l.mu.Unlock()

	al.mu.Lock()
	return func() {
		al.mu.Unlock()

		l.mu.Lock()
		al.refs--
		if al.refs == 0 {
			delete(l.locks, agentID)
		}
		l.mu.Unlock()
	}
}

func (l *agentLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
