package pipeline

import (
	"sync"
	"testing"
)

func TestTurnLockTryAcquire(t *testing.T) {
	var l turnLock
	if !l.TryAcquire() {
		t.Fatal("free lock not acquired")
	}
	if l.TryAcquire() {
		t.Fatal("held lock acquired twice")
	}
	l.Release()
	if !l.TryAcquire() {
		t.Fatal("released lock not acquired")
	}
}

func TestTurnLockSingleWinner(t *testing.T) {
	var l turnLock

	const contenders = 8
	var start, done sync.WaitGroup
	start.Add(1)

	var mu sync.Mutex
	won := 0
	for i := 0; i < contenders; i++ {
		done.Add(1)
		go func() {
			defer done.Done()
			start.Wait()
			if l.TryAcquire() {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}

	start.Done()
	done.Wait()

	if won != 1 {
		t.Fatalf("%d contenders acquired the held lock, want 1", won)
	}
}
