package pipeline

// EventType identifies a turn lifecycle event.
type EventType string

const (
	EventProgress   EventType = "progress"
	EventPartial    EventType = "partial"
	EventAudioChunk EventType = "audioChunk"
	EventComplete   EventType = "complete"
	EventError      EventType = "error"
)

// Event is one observable step of a turn. Samples are only set for
// audioChunk events and must not be retained by the consumer.
type Event struct {
	Type   EventType
	TurnID string
	State  State

	// Text carries the transcript on progress, the fragment on partial,
	// and the full reply on complete.
	Text string

	Samples    []float32
	SampleRate int

	Err error
}

// Emitter receives turn events. Emitters must not block.
type Emitter func(Event)
