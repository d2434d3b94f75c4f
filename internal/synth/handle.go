package synth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lucahttp/morti/internal/capability"
	"github.com/lucahttp/morti/internal/voice"
)

// HandleOptions carry the per-handle synthesis defaults.
type HandleOptions struct {
	Voice       string
	Rate        float64
	RefineSteps int
	Language    string
}

// Handle owns the engine's sessions for the synthesis capability.
type Handle struct {
	engine *Engine
	voices *voice.Store
	opts   HandleOptions

	disposeOnce sync.Once
}

// NewHandle wraps an engine and voice store into a capability handle.
func NewHandle(engine *Engine, voices *voice.Store, opts HandleOptions) (*Handle, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if voices == nil {
		return nil, errors.New("voice store is required")
	}
	if opts.Voice == "" {
		return nil, errors.New("default voice is required")
	}
	return &Handle{engine: engine, voices: voices, opts: opts}, nil
}

func (h *Handle) Kind() capability.Kind {
	return capability.KindSynthesis
}

// Dispose releases the engine's sessions. Safe to call more than once.
func (h *Handle) Dispose() error {
	h.disposeOnce.Do(func() {
		h.engine.Close()
	})
	return nil
}

// Speak synthesizes text with the handle's defaults, streaming chunks
// through emit. voiceID empty means the configured default voice.
func (h *Handle) Speak(ctx context.Context, text, voiceID string, emit func(Chunk) error) (*Result, error) {
	if voiceID == "" {
		voiceID = h.opts.Voice
	}

	style, err := h.voices.Load(voiceID)
	if err != nil {
		return nil, fmt.Errorf("load voice %q: %w", voiceID, err)
	}

	return h.engine.Synthesize(ctx, Request{
		Text:        text,
		Language:    h.opts.Language,
		Rate:        h.opts.Rate,
		RefineSteps: h.opts.RefineSteps,
		Emit:        emit,
	}, style)
}
