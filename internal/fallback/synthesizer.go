// Package fallback renders speech through the pocket-tts CLI when no local
// model bundle is available.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	pockettts "github.com/cwbudde/go-call-pocket-tts"

	"github.com/lucahttp/morti/internal/audio"
	"github.com/lucahttp/morti/internal/synth"
)

// Options configure the subprocess synthesizer.
type Options struct {
	// ExecutablePath overrides the binary looked up on PATH.
	ExecutablePath string
	Voice          string
}

// Synthesizer renders speech by spawning the pocket-tts CLI. It satisfies
// the same Speak surface as the native engine handle so the orchestrator
// can use either.
type Synthesizer struct {
	client *pockettts.Client
	log    *slog.Logger
}

// New verifies the executable is present and returns a synthesizer.
func New(opts Options, log *slog.Logger) (*Synthesizer, error) {
	if err := pockettts.Preflight(opts.ExecutablePath); err != nil {
		return nil, fmt.Errorf("fallback synthesizer unavailable: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	client := pockettts.NewClient(pockettts.Options{
		ExecutablePath: opts.ExecutablePath,
		Voice:          opts.Voice,
		Quiet:          true,
		Concurrency:    1,
	})

	return &Synthesizer{client: client, log: log}, nil
}

// Speak renders text to a single chunk. voiceID is ignored; the subprocess
// voice is fixed at construction.
func (s *Synthesizer) Speak(ctx context.Context, text, voiceID string, emit func(synth.Chunk) error) (*synth.Result, error) {
	if text == "" {
		return nil, errors.New("empty text")
	}

	res, err := s.client.Generate(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("pocket-tts subprocess: %w", err)
	}

	samples, rate, err := audio.DecodeWAV(res.Data)
	if err != nil {
		return nil, fmt.Errorf("decode subprocess output: %w", err)
	}

	chunk := synth.Chunk{Samples: samples, SampleRate: rate}
	if emit != nil {
		if err := emit(chunk); err != nil {
			return nil, err
		}
	}

	s.log.Debug("fallback synthesis finished", "samples", len(samples), "rate", rate)

	return &synth.Result{Chunks: []synth.Chunk{chunk}}, nil
}
