package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ErrResourceExhausted marks setup failures whose cause looks like memory
// pressure on the shared accelerator. The message carries user guidance.
var ErrResourceExhausted = errors.New("close other resource consumers and try again")

// Arbiter guarantees that at most one capability holds runtime sessions at
// any observable instant, and that disposal of the previous resident always
// precedes initialization of the next.
type Arbiter struct {
	log    *slog.Logger
	notify Notify

	mu       sync.Mutex
	resident Handle
}

// NewArbiter creates an arbiter instance. All residency state lives here;
// nothing is process-global, so tests can run independent instances.
func NewArbiter(log *slog.Logger, notify Notify) *Arbiter {
	if log == nil {
		log = slog.Default()
	}
	return &Arbiter{log: log, notify: notify}
}

// Acquire returns a handle for the requested kind. A same-kind request with
// a valid resident returns it unchanged with zero disposal or setup cost.
// Otherwise the resident is disposed first (errors logged, never
// propagated), residency is cleared, and setup runs for the new kind.
func (a *Arbiter) Acquire(ctx context.Context, kind Kind, setup Setup) (Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.resident != nil && a.resident.Kind() == kind {
		return a.resident, nil
	}

	a.disposeResidentLocked()

	a.emit(kind, PhaseInitializing)

	handle, err := setup(ctx)
	if err != nil {
		if isAllocationFailure(err) {
			return nil, fmt.Errorf("initialize %s: %w: %w", kind, ErrResourceExhausted, err)
		}
		return nil, err
	}

	a.resident = handle
	a.emit(kind, PhaseReady)
	a.log.Info("capability resident", "kind", kind.String())

	return handle, nil
}

// Release disposes the current resident, if any. Used at teardown and by
// preload between warm-ups.
func (a *Arbiter) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disposeResidentLocked()
}

// Resident reports the kind currently holding sessions, or false when none.
func (a *Arbiter) Resident() (Kind, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resident == nil {
		return 0, false
	}
	return a.resident.Kind(), true
}

// disposeResidentLocked attempts disposal and always clears residency. A
// failed release must never block progress.
func (a *Arbiter) disposeResidentLocked() {
	if a.resident == nil {
		return
	}

	kind := a.resident.Kind()
	if err := a.resident.Dispose(); err != nil {
		a.log.Warn("capability disposal failed", "kind", kind.String(), "error", err.Error())
	}
	a.resident = nil
}

func (a *Arbiter) emit(kind Kind, phase Phase) {
	if a.notify != nil {
		a.notify(kind, phase)
	}
}

// allocationSignatures match the error text that ORT and the generation
// runtimes surface under memory pressure.
var allocationSignatures = []string{
	"out of memory",
	"out-of-memory",
	"bad alloc",
	"bad_alloc",
	"failed to allocate",
	"allocation failed",
	"cannot allocate",
	"cuda error 2",
	"ortallocator",
}

func isAllocationFailure(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, sig := range allocationSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
