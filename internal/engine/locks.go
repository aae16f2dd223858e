package engine

import (
	"context"
	"sync"
	"time"
)

// requestLocks serializes transitions on a single validation request within
// this process. The lock scope covers "re-check state, transition, record
// flags" as one unit; notification dispatch happens outside it. Across
// processes, the optimistic state check in repo.SaveRequestState is the
// guard.
type requestLocks struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newRequestLocks() *requestLocks {
	return &requestLocks{held: make(map[string]chan struct{})}
}

// acquire obtains the lock for key, waiting at most wait. It returns false
// when the wait times out or ctx is cancelled; the caller skips the
// candidate and retries on a later run.
func (l *requestLocks) acquire(ctx context.Context, key string, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		l.mu.Lock()
		ch, taken := l.held[key]
		if !taken {
			l.held[key] = make(chan struct{})
			l.mu.Unlock()
			return true
		}
		l.mu.Unlock()
		select {
		case <-ch:
			// Holder released; contend again.
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func (l *requestLocks) release(key string) {
	l.mu.Lock()
	ch, taken := l.held[key]
	delete(l.held, key)
	l.mu.Unlock()
	if taken {
		close(ch)
	}
}
