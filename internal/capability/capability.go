// Package capability defines the three interchangeable inference
// capabilities and the arbiter that lets them share one accelerator.
package capability

import "context"

// Kind identifies one of the three inference capabilities.
type Kind int

const (
	KindTranscription Kind = iota
	KindGeneration
	KindSynthesis
)

func (k Kind) String() string {
	switch k {
	case KindTranscription:
		return "transcription"
	case KindGeneration:
		return "generation"
	case KindSynthesis:
		return "synthesis"
	default:
		return "unknown"
	}
}

// Handle owns all runtime sessions and auxiliary state for one capability
// kind. Every handle carries the same contract regardless of kind; the
// arbiter never inspects what is behind it.
type Handle interface {
	Kind() Kind

	// Dispose releases every owned session before returning. It must be
	// safe to call more than once.
	Dispose() error
}

// Setup constructs a new handle for a kind. Called by the arbiter after the
// previous resident has been disposed.
type Setup func(ctx context.Context) (Handle, error)

// Phase is the lifecycle stage announced around a capability switch.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Notify receives advisory lifecycle notifications. Notifications never gate
// correctness; a nil Notify is valid.
type Notify func(kind Kind, phase Phase)
