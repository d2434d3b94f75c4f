package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/lucahttp/morti/internal/capability"
	"github.com/lucahttp/morti/internal/config"
	"github.com/lucahttp/morti/internal/fallback"
	"github.com/lucahttp/morti/internal/generate"
	"github.com/lucahttp/morti/internal/onnx"
	"github.com/lucahttp/morti/internal/pipeline"
	"github.com/lucahttp/morti/internal/synth"
	"github.com/lucahttp/morti/internal/textindex"
	"github.com/lucahttp/morti/internal/transcribe"
	"github.com/lucahttp/morti/internal/voice"
)

// ortSettings resolves the ONNX Runtime library once at startup.
func ortSettings(cfg config.Config) (onnx.Settings, error) {
	info, err := onnx.DetectRuntime(cfg.Runtime.ORTLibraryPath)
	if err != nil {
		return onnx.Settings{}, err
	}
	return onnx.Settings{
		LibraryPath: info.LibraryPath,
		APIVersion:  cfg.Runtime.ORTAPIVersion,
	}, nil
}

// buildSynthHandle opens the bundle sessions and assembles the synthesis
// capability handle.
func buildSynthHandle(cfg config.Config, settings onnx.Settings) (*synth.Handle, error) {
	params, err := synth.LoadParams(cfg.Paths.EngineParams)
	if err != nil {
		return nil, err
	}

	indexer, err := textindex.LoadTable(cfg.Paths.VocabTable)
	if err != nil {
		return nil, err
	}

	manifest, err := onnx.LoadManifest(cfg.Paths.BundleManifest)
	if err != nil {
		return nil, err
	}

	sessions, err := synth.OpenSessions(manifest, settings)
	if err != nil {
		return nil, err
	}

	engine, err := synth.NewEngine(params, indexer, sessions, slog.Default())
	if err != nil {
		sessions.Close()
		return nil, err
	}

	voices, err := voice.NewStore(cfg.Paths.VoicesDir)
	if err != nil {
		engine.Close()
		return nil, err
	}

	return synth.NewHandle(engine, voices, synth.HandleOptions{
		Voice:       cfg.Synth.Voice,
		Rate:        cfg.Synth.Rate,
		RefineSteps: cfg.Synth.RefineSteps,
	})
}

// fallbackSynthesizer builds the subprocess renderer when configured.
func fallbackSynthesizer(cfg config.Config) (*fallback.Synthesizer, error) {
	return fallback.New(fallback.Options{
		ExecutablePath: cfg.Synth.FallbackCLI,
		Voice:          cfg.Synth.Voice,
	}, slog.Default())
}

// capabilitySetups builds the three arbiter setup funcs from config. The
// interrupt flag is the one the orchestrator trips; the generation handle
// must share it or interrupts cannot stop a stream already in flight.
func capabilitySetups(cfg config.Config, settings onnx.Settings, interrupt *atomic.Bool) pipeline.Setups {
	var setups pipeline.Setups

	setups.Transcribe = func(ctx context.Context) (capability.Handle, error) {
		manifest, err := onnx.LoadManifest(cfg.Paths.BundleManifest)
		if err != nil {
			return nil, err
		}
		rec, err := newRecognizer(manifest, settings)
		if err != nil {
			return nil, err
		}
		return transcribe.NewHandle(rec, cfg.Transcribe.Language, cfg.Transcribe.MinLength)
	}

	setups.Generate = func(ctx context.Context) (capability.Handle, error) {
		gen := generate.NewOllamaGenerator(generate.OllamaOptions{
			Endpoint:    cfg.Generate.Endpoint,
			Model:       cfg.Generate.Model,
			Temperature: cfg.Generate.Temperature,
			MaxTokens:   cfg.Generate.MaxReplyTokens,
		})

		var counter generate.TokenCounter
		if cfg.Generate.TokenizerModel != "" {
			sp, err := generate.NewSentencePieceCounter(cfg.Generate.TokenizerModel)
			if err != nil {
				return nil, fmt.Errorf("tokenizer: %w", err)
			}
			counter = sp
		}

		return generate.NewHandle(gen, generate.Options{
			SystemPrompt:     cfg.Generate.SystemPrompt,
			MaxHistoryTokens: cfg.Generate.MaxHistoryTokens,
			Counter:          counter,
		}, interrupt)
	}

	setups.Synthesize = func(ctx context.Context) (capability.Handle, error) {
		return buildSynthHandle(cfg, settings)
	}

	return setups
}

// newRecognizer opens the recognizer graph when the bundle ships one and
// falls back to the mock recognizer otherwise, keeping model-less serving
// usable for generation and synthesis.
func newRecognizer(manifest *onnx.Manifest, settings onnx.Settings) (transcribe.Recognizer, error) {
	if _, ok := manifest.Session(onnx.GraphRecognizer); !ok {
		slog.Warn("bundle has no recognizer graph, transcription returns empty text")
		return &transcribe.MockRecognizer{}, nil
	}
	return transcribe.NewSessionRecognizer(manifest, settings, identityDecoder)
}

// identityDecoder maps token ids through the bundle's implicit byte-level
// vocabulary. Recognizer bundles that need a richer decoder ship their own
// table; none do today.
func identityDecoder(ids []int64) (string, error) {
	buf := make([]byte, 0, len(ids))
	for _, id := range ids {
		if id >= 0 && id < 256 {
			buf = append(buf, byte(id))
		}
	}
	return string(buf), nil
}
