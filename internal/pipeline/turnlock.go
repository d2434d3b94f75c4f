package pipeline

import (
	"errors"
	"sync"
)

// ErrBusy is returned when a turn arrives while another holds the lock.
var ErrBusy = errors.New("a turn is already in progress")

// turnLock admits one turn at a time. A turn arriving while another holds
// the lock is dropped, never queued.
type turnLock struct {
	mu sync.Mutex
}

// TryAcquire takes the lock only when free.
func (l *turnLock) TryAcquire() bool {
	return l.mu.TryLock()
}

// Release frees the lock.
func (l *turnLock) Release() {
	l.mu.Unlock()
}
