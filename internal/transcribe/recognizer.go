// Package transcribe adapts an opaque speech recognizer into the capability
// contract and applies the trailing-noise transcript filter.
package transcribe

import (
	"context"
)

// Recognizer abstracts the pre-built transcription runtime. It receives mono
// float32 samples at the pipeline's fixed rate plus a language hint.
type Recognizer interface {
	Transcribe(ctx context.Context, samples []float32, language string) (string, error)
	Close() error
}

// MockRecognizer returns canned text; used in tests and model-less serving.
type MockRecognizer struct {
	Text string
	Err  error

	Calls    int
	Closed   int
	Language string
}

func (m *MockRecognizer) Transcribe(_ context.Context, _ []float32, language string) (string, error) {
	m.Calls++
	m.Language = language
	return m.Text, m.Err
}

func (m *MockRecognizer) Close() error {
	m.Closed++
	return nil
}
