// Package protocol defines the bus subjects and message shapes of the
// voice pipeline boundary.
package protocol

import "time"

// Command subjects. Each carries one JSON request.
const (
	SubjectTurn       = "morti.cmd.turn"
	SubjectTranscribe = "morti.cmd.transcribe"
	SubjectGenerate   = "morti.cmd.generate"
	SubjectSynthesize = "morti.cmd.synthesize"
	SubjectPreload    = "morti.cmd.preload"
	SubjectInterrupt  = "morti.cmd.interrupt"
	SubjectReset      = "morti.cmd.reset"
)

// Event subjects.
const (
	SubjectProgress   = "morti.evt.progress"
	SubjectPartial    = "morti.evt.partial"
	SubjectAudioChunk = "morti.evt.audio"
	SubjectComplete   = "morti.evt.complete"
	SubjectError      = "morti.evt.error"
)

// TurnRequest carries one utterance's audio into the pipeline. PCM is
// 16-bit little-endian mono at SampleRate.
type TurnRequest struct {
	SampleRate int    `json:"sample_rate"`
	PCM        []byte `json:"pcm"`
	Language   string `json:"language,omitempty"`
}

// TranscribeRequest runs the transcription stage alone. The transcript
// comes back on the complete event.
type TranscribeRequest struct {
	SampleRate int    `json:"sample_rate"`
	PCM        []byte `json:"pcm"`
	Language   string `json:"language,omitempty"`
}

// ConversationTurn is one prior exchange entry in a generate request.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest runs the generation stage alone. When History is set it
// replaces the conversation carried across turns before Text is answered.
type GenerateRequest struct {
	Text    string             `json:"text"`
	History []ConversationTurn `json:"history,omitempty"`
}

// SynthesizeRequest renders text to speech directly, skipping transcription
// and generation.
type SynthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// Progress announces a pipeline state change for a turn. Text carries the
// transcript once transcription finishes and the reply once generation does.
type Progress struct {
	TurnID    string    `json:"turn_id"`
	State     string    `json:"state"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Partial is one streamed reply fragment.
type Partial struct {
	TurnID string `json:"turn_id"`
	Text   string `json:"text"`
}

// AudioChunk is one finished audio segment as 16-bit little-endian PCM.
type AudioChunk struct {
	TurnID     string `json:"turn_id"`
	SampleRate int    `json:"sample_rate"`
	PCM        []byte `json:"pcm"`
}

// Complete marks the end of a turn. Text is the full reply, empty when the
// turn ended on no-speech or interruption before a reply existed.
type Complete struct {
	TurnID    string    `json:"turn_id"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Error reports a failed turn. Kind is one of "resource_exhausted",
// "no_speech", "empty_utterance" or "unclassified".
type Error struct {
	TurnID    string    `json:"turn_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
