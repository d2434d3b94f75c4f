package transcribe

import (
	"context"
	"errors"
	"sync"

	"github.com/lucahttp/morti/internal/capability"
)

// Handle owns one recognizer plus filter settings for the transcription
// capability.
type Handle struct {
	rec       Recognizer
	minLength int
	language  string

	disposeOnce sync.Once
	disposeErr  error
}

// NewHandle wraps a recognizer into a capability handle.
func NewHandle(rec Recognizer, language string, minLength int) (*Handle, error) {
	if rec == nil {
		return nil, errors.New("recognizer is required")
	}
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	return &Handle{rec: rec, minLength: minLength, language: language}, nil
}

func (h *Handle) Kind() capability.Kind {
	return capability.KindTranscription
}

// Dispose releases the recognizer's sessions. Safe to call more than once.
func (h *Handle) Dispose() error {
	h.disposeOnce.Do(func() {
		h.disposeErr = h.rec.Close()
	})
	return h.disposeErr
}

// Transcribe runs the recognizer and applies the noise filter. A language
// argument overrides the handle's configured hint for this call.
func (h *Handle) Transcribe(ctx context.Context, samples []float32, language string) (string, error) {
	if len(samples) == 0 {
		return "", ErrNoSpeech
	}

	lang := language
	if lang == "" {
		lang = h.language
	}

	raw, err := h.rec.Transcribe(ctx, samples, lang)
	if err != nil {
		return "", err
	}

	return Filter(raw, h.minLength)
}
