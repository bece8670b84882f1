package telemetry

import (
	"sync"
	"time"
)

// Latest keeps the most recently published snapshot.
type Latest struct {
	mu   sync.RWMutex
	snap Snapshot
	ok   bool
}

func NewLatest() *Latest {
	return &Latest{}
}

func (l *Latest) Set(s Snapshot) {
	l.mu.Lock()
	l.snap = s
	l.ok = true
	l.mu.Unlock()
}

func (l *Latest) Get() (Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap, l.ok
}

// Age is how long ago the latest snapshot was received. It is zero when
// nothing has been received yet.
func (l *Latest) Age(now time.Time) time.Duration {
	s, ok := l.Get()
	if !ok {
		return 0
	}
	return s.AgeAt(now)
}

// Stale reports whether there is no snapshot or the latest one is older
// than maxAge. A zero maxAge never marks a present snapshot stale.
func (l *Latest) Stale(now time.Time, maxAge time.Duration) bool {
	s, ok := l.Get()
	if !ok {
		return true
	}
	return s.StaleAt(now, maxAge)
}
