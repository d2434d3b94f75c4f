package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lucahttp/morti/internal/audio"
	"github.com/lucahttp/morti/internal/capability"
	"github.com/lucahttp/morti/internal/generate"
	"github.com/lucahttp/morti/internal/pipeline"
	"github.com/lucahttp/morti/internal/protocol"
	"github.com/lucahttp/morti/internal/synth"
	"github.com/lucahttp/morti/internal/transcribe"
)

// Pipeline is the orchestrator surface the service drives.
type Pipeline interface {
	RunTurn(ctx context.Context, samples []float32, language string) error
	Transcribe(ctx context.Context, samples []float32, language string) (string, error)
	Generate(ctx context.Context, userText string, history []generate.Turn) (string, error)
	Say(ctx context.Context, text, voiceID string, emit func(synth.Chunk) error) (*synth.Result, error)
	Preload(ctx context.Context) error
	Interrupt()
	Reset()
}

// Service subscribes to the command subjects and drives the pipeline.
// Commands run one at a time on the subscription's delivery goroutine;
// concurrent turns are rejected by the pipeline's turn lock.
type Service struct {
	client *Client
	pipe   Pipeline
	log    *slog.Logger

	subs []*nats.Subscription
}

// NewService wires a connected client to a pipeline.
func NewService(client *Client, pipe Pipeline, log *slog.Logger) (*Service, error) {
	if client == nil {
		return nil, errors.New("bus client is required")
	}
	if pipe == nil {
		return nil, errors.New("pipeline is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{client: client, pipe: pipe, log: log}, nil
}

// Start registers the command subscriptions. Ctx bounds each command's
// execution, not the subscriptions themselves; call Stop to unsubscribe.
func (s *Service) Start(ctx context.Context) error {
	handlers := map[string]nats.MsgHandler{
		protocol.SubjectTurn:       func(m *nats.Msg) { s.handleTurn(ctx, m) },
		protocol.SubjectTranscribe: func(m *nats.Msg) { s.handleTranscribe(ctx, m) },
		protocol.SubjectGenerate:   func(m *nats.Msg) { s.handleGenerate(ctx, m) },
		protocol.SubjectSynthesize: func(m *nats.Msg) { s.handleSynthesize(ctx, m) },
		protocol.SubjectPreload:    func(m *nats.Msg) { s.handlePreload(ctx) },
		protocol.SubjectInterrupt:  func(m *nats.Msg) { s.pipe.Interrupt() },
		protocol.SubjectReset:      func(m *nats.Msg) { s.pipe.Reset() },
	}

	for subject, handler := range handlers {
		sub, err := s.client.Conn().Subscribe(subject, handler)
		if err != nil {
			s.Stop()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	s.log.Info("bus service started", slog.Int("subjects", len(s.subs)))
	return nil
}

// Stop drops all subscriptions.
func (s *Service) Stop() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *Service) handleTurn(ctx context.Context, m *nats.Msg) {
	var req protocol.TurnRequest
	if err := json.Unmarshal(m.Data, &req); err != nil {
		s.log.Warn("malformed turn request", "error", err)
		return
	}

	samples := audio.PCM16ToFloats(req.PCM)
	err := s.pipe.RunTurn(ctx, samples, req.Language)
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrBusy):
		s.log.Info("turn dropped, pipeline busy")
	case errors.Is(err, transcribe.ErrNoSpeech):
		s.log.Info("turn ended, no speech detected")
	case errors.Is(err, pipeline.ErrInterrupted):
		s.log.Info("turn interrupted")
	default:
		s.log.Error("turn failed", "error", err)
	}
}

func (s *Service) handleTranscribe(ctx context.Context, m *nats.Msg) {
	var req protocol.TranscribeRequest
	if err := json.Unmarshal(m.Data, &req); err != nil {
		s.log.Warn("malformed transcribe request", "error", err)
		return
	}

	_, err := s.pipe.Transcribe(ctx, audio.PCM16ToFloats(req.PCM), req.Language)
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrBusy):
		s.log.Info("transcribe dropped, pipeline busy")
	case errors.Is(err, transcribe.ErrNoSpeech):
		s.log.Info("transcribe ended, no speech detected")
	default:
		s.log.Error("transcribe failed", "error", err)
	}
}

func (s *Service) handleGenerate(ctx context.Context, m *nats.Msg) {
	var req protocol.GenerateRequest
	if err := json.Unmarshal(m.Data, &req); err != nil {
		s.log.Warn("malformed generate request", "error", err)
		return
	}

	var history []generate.Turn
	if req.History != nil {
		history = make([]generate.Turn, 0, len(req.History))
		for _, t := range req.History {
			history = append(history, generate.Turn{Role: t.Role, Content: t.Content})
		}
	}

	_, err := s.pipe.Generate(ctx, req.Text, history)
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrBusy):
		s.log.Info("generate dropped, pipeline busy")
	case errors.Is(err, pipeline.ErrInterrupted):
		s.log.Info("generate interrupted")
	default:
		s.log.Error("generate failed", "error", err)
	}
}

func (s *Service) handleSynthesize(ctx context.Context, m *nats.Msg) {
	var req protocol.SynthesizeRequest
	if err := json.Unmarshal(m.Data, &req); err != nil {
		s.log.Warn("malformed synthesize request", "error", err)
		return
	}

	_, err := s.pipe.Say(ctx, req.Text, req.Voice, nil)
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrBusy):
		s.log.Info("synthesize dropped, pipeline busy")
	case errors.Is(err, pipeline.ErrInterrupted):
		s.log.Info("synthesize interrupted")
	default:
		s.log.Error("synthesize failed", "error", err)
	}
}

func (s *Service) handlePreload(ctx context.Context) {
	err := s.pipe.Preload(ctx)
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrBusy):
		s.log.Info("preload dropped, pipeline busy")
	default:
		s.log.Error("preload failed", "error", err)
	}
}

// NewEmitter returns a pipeline emitter that publishes turn events on the
// bus. Publish failures are logged, never surfaced into the turn.
func NewEmitter(client *Client, log *slog.Logger) pipeline.Emitter {
	if log == nil {
		log = slog.Default()
	}
	publish := func(subject string, v any) {
		data, err := json.Marshal(v)
		if err != nil {
			log.Warn("marshal event", "subject", subject, "error", err)
			return
		}
		if err := client.Conn().Publish(subject, data); err != nil {
			log.Warn("publish event", "subject", subject, "error", err)
		}
	}

	return func(e pipeline.Event) {
		switch e.Type {
		case pipeline.EventProgress:
			publish(protocol.SubjectProgress, protocol.Progress{
				TurnID:    e.TurnID,
				State:     e.State.String(),
				Text:      e.Text,
				Timestamp: time.Now().UTC(),
			})
		case pipeline.EventPartial:
			publish(protocol.SubjectPartial, protocol.Partial{
				TurnID: e.TurnID,
				Text:   e.Text,
			})
		case pipeline.EventAudioChunk:
			publish(protocol.SubjectAudioChunk, protocol.AudioChunk{
				TurnID:     e.TurnID,
				SampleRate: e.SampleRate,
				PCM:        audio.FloatsToPCM16(e.Samples),
			})
		case pipeline.EventComplete:
			publish(protocol.SubjectComplete, protocol.Complete{
				TurnID:    e.TurnID,
				Text:      e.Text,
				Timestamp: time.Now().UTC(),
			})
		case pipeline.EventError:
			msg := ""
			if e.Err != nil {
				msg = e.Err.Error()
			}
			publish(protocol.SubjectError, protocol.Error{
				TurnID:    e.TurnID,
				Kind:      classifyError(e.Err),
				Message:   msg,
				Timestamp: time.Now().UTC(),
			})
		}
	}
}

// classifyError maps a turn failure onto the outbound error taxonomy.
func classifyError(err error) string {
	switch {
	case errors.Is(err, capability.ErrResourceExhausted):
		return "resource_exhausted"
	case errors.Is(err, transcribe.ErrNoSpeech):
		return "no_speech"
	case errors.Is(err, synth.ErrEmptyUtterance):
		return "empty_utterance"
	default:
		return "unclassified"
	}
}
