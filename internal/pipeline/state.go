// Package pipeline coordinates one spoken turn across the arbitrated
// capabilities: transcript, reply, speech, under a FIFO turn lock.
package pipeline

// State is the orchestrator's position within a turn.
type State int

const (
	// StateIdle means no turn is in flight.
	StateIdle State = iota
	// StateTranscribing means audio is being turned into text.
	StateTranscribing
	// StateGenerating means a reply is being produced.
	StateGenerating
	// StateSynthesizing means reply audio is being rendered.
	StateSynthesizing
	// StateError means the current turn failed; absorbing until Reset.
	StateError
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTranscribing:
		return "transcribing"
	case StateGenerating:
		return "generating"
	case StateSynthesizing:
		return "synthesizing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// validNext lists the allowed transitions. Error absorbs everything until a
// reset returns the machine to Idle.
var validNext = map[State][]State{
	StateIdle:         {StateTranscribing, StateGenerating, StateSynthesizing},
	StateTranscribing: {StateGenerating, StateError, StateIdle},
	StateGenerating:   {StateSynthesizing, StateError, StateIdle},
	StateSynthesizing: {StateIdle, StateError},
	StateError:        {StateIdle},
}

func canTransition(from, to State) bool {
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}
