package capability

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

type recordedEvent struct {
	op   string // "dispose" or "setup"
	kind Kind
}

type trackedHandle struct {
	kind     Kind
	log      *[]recordedEvent
	disposed int
	failWith error
}

func (h *trackedHandle) Kind() Kind { return h.kind }

func (h *trackedHandle) Dispose() error {
	h.disposed++
	*h.log = append(*h.log, recordedEvent{op: "dispose", kind: h.kind})
	return h.failWith
}

func setupFor(kind Kind, log *[]recordedEvent) Setup {
	return func(context.Context) (Handle, error) {
		*log = append(*log, recordedEvent{op: "setup", kind: kind})
		return &trackedHandle{kind: kind, log: log}, nil
	}
}

func TestAcquireSameKindFastPath(t *testing.T) {
	var events []recordedEvent
	arb := NewArbiter(slog.Default(), nil)

	first, err := arb.Acquire(context.Background(), KindSynthesis, setupFor(KindSynthesis, &events))
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	second, err := arb.Acquire(context.Background(), KindSynthesis, setupFor(KindSynthesis, &events))
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}

	if first != second {
		t.Fatal("same-kind acquire must return the resident handle unchanged")
	}

	// Exactly one setup, zero disposals.
	if len(events) != 1 || events[0].op != "setup" {
		t.Fatalf("events = %+v, want a single setup", events)
	}
}

func TestAcquireSwitchOverOrdering(t *testing.T) {
	var events []recordedEvent
	arb := NewArbiter(slog.Default(), nil)

	if _, err := arb.Acquire(context.Background(), KindTranscription, setupFor(KindTranscription, &events)); err != nil {
		t.Fatalf("Acquire(A): %v", err)
	}

	if _, err := arb.Acquire(context.Background(), KindGeneration, setupFor(KindGeneration, &events)); err != nil {
		t.Fatalf("Acquire(B): %v", err)
	}

	want := []recordedEvent{
		{op: "setup", kind: KindTranscription},
		{op: "dispose", kind: KindTranscription},
		{op: "setup", kind: KindGeneration},
	}
	if len(events) != len(want) {
		t.Fatalf("events = %+v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d = %+v, want %+v", i, events[i], want[i])
		}
	}

	kind, ok := arb.Resident()
	if !ok || kind != KindGeneration {
		t.Fatalf("resident = %v/%v, want generation", kind, ok)
	}
}

func TestAcquireDisposalFailureIsNonFatal(t *testing.T) {
	var events []recordedEvent
	arb := NewArbiter(slog.Default(), nil)

	broken := &trackedHandle{kind: KindTranscription, log: &events, failWith: errors.New("device wedged")}
	if _, err := arb.Acquire(context.Background(), KindTranscription, func(context.Context) (Handle, error) {
		return broken, nil
	}); err != nil {
		t.Fatalf("Acquire(A): %v", err)
	}

	handle, err := arb.Acquire(context.Background(), KindSynthesis, setupFor(KindSynthesis, &events))
	if err != nil {
		t.Fatalf("Acquire(B) after failed disposal: %v", err)
	}

	if handle.Kind() != KindSynthesis {
		t.Fatalf("handle kind = %v", handle.Kind())
	}

	if broken.disposed != 1 {
		t.Fatalf("disposal attempts = %d, want 1", broken.disposed)
	}
}

func TestAcquireClassifiesAllocationFailures(t *testing.T) {
	arb := NewArbiter(slog.Default(), nil)

	_, err := arb.Acquire(context.Background(), KindSynthesis, func(context.Context) (Handle, error) {
		return nil, errors.New("ort session: failed to allocate 2147483648 bytes")
	})

	if !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("err = %v, want ErrResourceExhausted", err)
	}

	// Residency stays clear after a failed setup.
	if _, ok := arb.Resident(); ok {
		t.Fatal("no capability may be resident after setup failure")
	}
}

func TestAcquirePassesThroughOtherFailures(t *testing.T) {
	arb := NewArbiter(slog.Default(), nil)

	wantErr := errors.New("manifest graph missing")
	_, err := arb.Acquire(context.Background(), KindSynthesis, func(context.Context) (Handle, error) {
		return nil, wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want original error", err)
	}
	if errors.Is(err, ErrResourceExhausted) {
		t.Fatal("unrelated failure must not classify as resource exhaustion")
	}
}

func TestAcquireNotifications(t *testing.T) {
	var phases []Phase
	arb := NewArbiter(slog.Default(), func(kind Kind, phase Phase) {
		if kind != KindGeneration {
			t.Fatalf("notify kind = %v", kind)
		}
		phases = append(phases, phase)
	})

	var events []recordedEvent
	if _, err := arb.Acquire(context.Background(), KindGeneration, setupFor(KindGeneration, &events)); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if len(phases) != 2 || phases[0] != PhaseInitializing || phases[1] != PhaseReady {
		t.Fatalf("phases = %v", phases)
	}
}

func TestReleaseDisposesResident(t *testing.T) {
	var events []recordedEvent
	arb := NewArbiter(slog.Default(), nil)

	if _, err := arb.Acquire(context.Background(), KindSynthesis, setupFor(KindSynthesis, &events)); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	arb.Release()

	if _, ok := arb.Resident(); ok {
		t.Fatal("resident should be cleared after Release")
	}

	if events[len(events)-1].op != "dispose" {
		t.Fatalf("events = %+v, want trailing dispose", events)
	}

	// Idempotent.
	arb.Release()
}
