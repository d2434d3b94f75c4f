package pipeline

import "testing"

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateIdle:         "idle",
		StateTranscribing: "transcribing",
		StateGenerating:   "generating",
		StateSynthesizing: "synthesizing",
		StateError:        "error",
		State(99):         "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestTransitions(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateIdle, StateTranscribing},
		{StateTranscribing, StateGenerating},
		{StateGenerating, StateSynthesizing},
		{StateSynthesizing, StateIdle},
		{StateTranscribing, StateError},
		{StateGenerating, StateError},
		{StateSynthesizing, StateError},
		{StateError, StateIdle},
	}
	for _, c := range allowed {
		if !canTransition(c.from, c.to) {
			t.Errorf("%v -> %v should be allowed", c.from, c.to)
		}
	}

	denied := []struct{ from, to State }{
		{StateIdle, StateError},
		{StateError, StateTranscribing},
		{StateSynthesizing, StateGenerating},
		{StateGenerating, StateTranscribing},
	}
	for _, c := range denied {
		if canTransition(c.from, c.to) {
			t.Errorf("%v -> %v should be denied", c.from, c.to)
		}
	}
}
