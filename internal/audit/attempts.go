package audit

import (
	"sync"
	"time"
)

// AttemptTracker counts failed authentications per card and calendar day.
// A count only grows within a day and is cleared by a successful
// authentication. It never blocks a card on its own.
type AttemptTracker struct {
	mu     sync.Mutex
	counts map[string]dayCount
	now    func() time.Time
}

type dayCount struct {
	day string
	n   int
}

func NewAttemptTracker() *AttemptTracker {
	return &AttemptTracker{counts: make(map[string]dayCount), now: time.Now}
}

func (a *AttemptTracker) today() string {
	return a.now().Format("2006-01-02")
}

// Fail records a failure for key and returns today's count.
func (a *AttemptTracker) Fail(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	today := a.today()
	c := a.counts[key]
	if c.day != today {
		c = dayCount{day: today}
	}
	c.n++
	a.counts[key] = c
	return c.n
}

// Reset clears key after a successful authentication.
func (a *AttemptTracker) Reset(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.counts, key)
}

// Count returns today's failures for key.
func (a *AttemptTracker) Count(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.counts[key]
	if c.day != a.today() {
		return 0
	}
	return c.n
}
