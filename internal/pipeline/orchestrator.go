package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/lucahttp/morti/internal/capability"
	"github.com/lucahttp/morti/internal/generate"
	"github.com/lucahttp/morti/internal/synth"
	"github.com/lucahttp/morti/internal/transcribe"
)

// ErrInterrupted marks a turn stopped by an out-of-band interrupt.
var ErrInterrupted = generate.ErrInterrupted

// Setups build the capability handles on demand. Each is invoked by the
// arbiter only when its capability is not already resident. The handles
// must additionally implement the matching stage interface below.
type Setups struct {
	Transcribe capability.Setup
	Generate   capability.Setup
	Synthesize capability.Setup
}

// Transcriber is the stage surface of a transcription handle.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, language string) (string, error)
}

// Replier is the stage surface of a generation handle.
type Replier interface {
	Reply(ctx context.Context, userText string, emit func(generate.Fragment) error) (string, error)
	Reset()
}

// Speaker is the stage surface of a synthesis handle.
type Speaker interface {
	Speak(ctx context.Context, text, voiceID string, emit func(synth.Chunk) error) (*synth.Result, error)
}

// pendingTurn is the per-turn working set. It lives only while the turn
// lock is held.
type pendingTurn struct {
	id         string
	transcript string
	reply      string
}

// Orchestrator drives one spoken turn at a time through transcription,
// generation and synthesis, acquiring each capability from the arbiter.
type Orchestrator struct {
	arbiter   *capability.Arbiter
	setups    Setups
	emit      Emitter
	log       *slog.Logger
	interrupt *atomic.Bool

	lock turnLock

	mu    sync.Mutex
	state State
	gen   Replier
}

// NewOrchestrator wires the arbiter and stage setups. emit may be nil.
// interrupt is shared with the generation handle so the flag trips streams
// already in flight; when nil a private flag is allocated.
func NewOrchestrator(arbiter *capability.Arbiter, setups Setups, emit Emitter, interrupt *atomic.Bool, log *slog.Logger) (*Orchestrator, error) {
	if arbiter == nil {
		return nil, errors.New("arbiter is required")
	}
	if setups.Transcribe == nil || setups.Generate == nil || setups.Synthesize == nil {
		return nil, errors.New("all three stage setups are required")
	}
	if emit == nil {
		emit = func(Event) {}
	}
	if interrupt == nil {
		interrupt = new(atomic.Bool)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		arbiter:   arbiter,
		setups:    setups,
		emit:      emit,
		interrupt: interrupt,
		log:       log,
		state:     StateIdle,
	}, nil
}

// State reports the orchestrator's current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !canTransition(o.state, to) {
		o.log.Warn("invalid state transition", "from", o.state.String(), "to", to.String())
		return
	}
	o.state = to
}

// RunTurn processes one utterance end to end. A second call while a turn
// holds the lock returns ErrBusy without any state transition. Stage
// failures leave the machine in Error, release the lock and surface the
// error; the next turn recovers to Idle. A no-speech transcript ends the
// turn cleanly with transcribe.ErrNoSpeech.
func (o *Orchestrator) RunTurn(ctx context.Context, samples []float32, language string) (err error) {
	if !o.lock.TryAcquire() {
		return ErrBusy
	}
	defer o.lock.Release()

	turn := &pendingTurn{id: uuid.NewString()}
	o.interrupt.Store(false)

	// A failed previous turn parks the machine in Error; a fresh turn
	// starts from Idle.
	o.recoverError()

	fail := func(stage string, cause error) error {
		return o.failStandalone(turn.id, stage, cause)
	}

	// Transcribe.
	o.transition(StateTranscribing)
	o.emit(Event{Type: EventProgress, TurnID: turn.id, State: StateTranscribing})

	th, err := o.acquireTranscriber(ctx)
	if err != nil {
		return fail("transcribe", err)
	}
	turn.transcript, err = th.Transcribe(ctx, samples, language)
	if errors.Is(err, transcribe.ErrNoSpeech) {
		o.transition(StateIdle)
		o.emit(Event{Type: EventComplete, TurnID: turn.id, State: StateIdle})
		return err
	}
	if err != nil {
		return fail("transcribe", err)
	}

	// Generate.
	o.transition(StateGenerating)
	o.emit(Event{Type: EventProgress, TurnID: turn.id, State: StateGenerating, Text: turn.transcript})

	gh, err := o.acquireGenerator(ctx)
	if err != nil {
		return fail("generate", err)
	}
	turn.reply, err = gh.Reply(ctx, turn.transcript, func(f generate.Fragment) error {
		o.emit(Event{Type: EventPartial, TurnID: turn.id, State: StateGenerating, Text: f.Content})
		return nil
	})
	if errors.Is(err, generate.ErrInterrupted) {
		o.transition(StateIdle)
		o.emit(Event{Type: EventComplete, TurnID: turn.id, State: StateIdle, Text: turn.reply})
		return ErrInterrupted
	}
	if err != nil {
		return fail("generate", err)
	}

	// Synthesize.
	o.transition(StateSynthesizing)
	o.emit(Event{Type: EventProgress, TurnID: turn.id, State: StateSynthesizing, Text: turn.reply})

	sh, err := o.acquireSynthesizer(ctx)
	if err != nil {
		return fail("synthesize", err)
	}
	_, err = sh.Speak(ctx, turn.reply, "", func(c synth.Chunk) error {
		if o.interrupt.Load() {
			return ErrInterrupted
		}
		o.emit(Event{Type: EventAudioChunk, TurnID: turn.id, State: StateSynthesizing, Samples: c.Samples, SampleRate: c.SampleRate})
		return nil
	})
	if errors.Is(err, ErrInterrupted) {
		o.transition(StateIdle)
		o.emit(Event{Type: EventComplete, TurnID: turn.id, State: StateIdle, Text: turn.reply})
		return ErrInterrupted
	}
	if err != nil {
		return fail("synthesize", err)
	}

	o.transition(StateIdle)
	o.emit(Event{Type: EventComplete, TurnID: turn.id, State: StateIdle, Text: turn.reply})
	return nil
}

// Transcribe runs the transcription stage alone, under the turn lock. The
// transcript comes back directly and on the turn's complete event.
func (o *Orchestrator) Transcribe(ctx context.Context, samples []float32, language string) (string, error) {
	if !o.lock.TryAcquire() {
		return "", ErrBusy
	}
	defer o.lock.Release()
	o.recoverError()

	id := uuid.NewString()
	o.transition(StateTranscribing)
	o.emit(Event{Type: EventProgress, TurnID: id, State: StateTranscribing})

	th, err := o.acquireTranscriber(ctx)
	if err != nil {
		return "", o.failStandalone(id, "transcribe", err)
	}
	text, err := th.Transcribe(ctx, samples, language)
	if errors.Is(err, transcribe.ErrNoSpeech) {
		o.transition(StateIdle)
		o.emit(Event{Type: EventComplete, TurnID: id, State: StateIdle})
		return "", err
	}
	if err != nil {
		return "", o.failStandalone(id, "transcribe", err)
	}

	o.transition(StateIdle)
	o.emit(Event{Type: EventComplete, TurnID: id, State: StateIdle, Text: text})
	return text, nil
}

// historySetter is implemented by generation handles whose carried
// conversation can be replaced wholesale.
type historySetter interface {
	SetHistory([]generate.Turn)
}

// Generate runs the generation stage alone, under the turn lock. A non-nil
// history replaces the conversation carried across turns before userText is
// answered. Fragments stream out as partial events.
func (o *Orchestrator) Generate(ctx context.Context, userText string, history []generate.Turn) (string, error) {
	if !o.lock.TryAcquire() {
		return "", ErrBusy
	}
	defer o.lock.Release()
	o.recoverError()
	o.interrupt.Store(false)

	id := uuid.NewString()
	o.transition(StateGenerating)
	o.emit(Event{Type: EventProgress, TurnID: id, State: StateGenerating, Text: userText})

	gh, err := o.acquireGenerator(ctx)
	if err != nil {
		return "", o.failStandalone(id, "generate", err)
	}
	if history != nil {
		if hs, ok := gh.(historySetter); ok {
			hs.SetHistory(history)
		}
	}
	reply, err := gh.Reply(ctx, userText, func(f generate.Fragment) error {
		o.emit(Event{Type: EventPartial, TurnID: id, State: StateGenerating, Text: f.Content})
		return nil
	})
	if errors.Is(err, generate.ErrInterrupted) {
		o.transition(StateIdle)
		o.emit(Event{Type: EventComplete, TurnID: id, State: StateIdle, Text: reply})
		return reply, ErrInterrupted
	}
	if err != nil {
		return reply, o.failStandalone(id, "generate", err)
	}

	o.transition(StateIdle)
	o.emit(Event{Type: EventComplete, TurnID: id, State: StateIdle, Text: reply})
	return reply, nil
}

// Say renders text to speech without the transcription and generation
// stages, still under the turn lock and the arbiter. Chunks go out as
// audioChunk events and, when emitChunk is non-nil, to the caller as well.
func (o *Orchestrator) Say(ctx context.Context, text, voiceID string, emitChunk func(synth.Chunk) error) (*synth.Result, error) {
	if !o.lock.TryAcquire() {
		return nil, ErrBusy
	}
	defer o.lock.Release()
	o.recoverError()
	o.interrupt.Store(false)

	id := uuid.NewString()
	o.transition(StateSynthesizing)
	o.emit(Event{Type: EventProgress, TurnID: id, State: StateSynthesizing, Text: text})

	sh, err := o.acquireSynthesizer(ctx)
	if err != nil {
		return nil, o.failStandalone(id, "synthesize", err)
	}
	res, err := sh.Speak(ctx, text, voiceID, func(c synth.Chunk) error {
		if o.interrupt.Load() {
			return ErrInterrupted
		}
		o.emit(Event{Type: EventAudioChunk, TurnID: id, State: StateSynthesizing, Samples: c.Samples, SampleRate: c.SampleRate})
		if emitChunk != nil {
			return emitChunk(c)
		}
		return nil
	})
	if errors.Is(err, ErrInterrupted) {
		o.transition(StateIdle)
		o.emit(Event{Type: EventComplete, TurnID: id, State: StateIdle, Text: text})
		return res, ErrInterrupted
	}
	if err != nil {
		return nil, o.failStandalone(id, "synthesize", err)
	}

	o.transition(StateIdle)
	o.emit(Event{Type: EventComplete, TurnID: id, State: StateIdle, Text: text})
	return res, nil
}

// recoverError moves an absorbed Error state back to Idle at the start of a
// fresh operation.
func (o *Orchestrator) recoverError() {
	o.mu.Lock()
	if o.state == StateError {
		o.state = StateIdle
	}
	o.mu.Unlock()
}

func (o *Orchestrator) failStandalone(turnID, stage string, cause error) error {
	o.transition(StateError)
	wrapped := fmt.Errorf("%s: %w", stage, cause)
	o.emit(Event{Type: EventError, TurnID: turnID, State: StateError, Err: wrapped})
	return wrapped
}

// Preload warms all three capabilities in pipeline order. The arbiter
// disposes each resident before the next setup runs, so at most one is
// resident at any point; transcription is loaded last ready for the first
// utterance. Preload holds the turn lock: warming while a turn is in
// flight would dispose the handle that turn is using, so a concurrent
// preload is dropped with ErrBusy like a concurrent turn.
func (o *Orchestrator) Preload(ctx context.Context) error {
	if !o.lock.TryAcquire() {
		return ErrBusy
	}
	defer o.lock.Release()

	if _, err := o.acquireGenerator(ctx); err != nil {
		return fmt.Errorf("preload generation: %w", err)
	}
	if _, err := o.acquireSynthesizer(ctx); err != nil {
		return fmt.Errorf("preload synthesis: %w", err)
	}
	if _, err := o.acquireTranscriber(ctx); err != nil {
		return fmt.Errorf("preload transcription: %w", err)
	}
	return nil
}

// Interrupt trips the shared flag; the active generation or synthesis
// stream stops before its next step.
func (o *Orchestrator) Interrupt() {
	o.interrupt.Store(true)
}

// Reset clears the interrupt flag, any carried generation history, and an
// absorbed Error state.
func (o *Orchestrator) Reset() {
	o.interrupt.Store(false)

	o.mu.Lock()
	gen := o.gen
	if o.state == StateError {
		o.state = StateIdle
	}
	o.mu.Unlock()

	if gen != nil {
		gen.Reset()
	}
}

func (o *Orchestrator) acquireTranscriber(ctx context.Context) (Transcriber, error) {
	h, err := o.arbiter.Acquire(ctx, capability.KindTranscription, o.setups.Transcribe)
	if err != nil {
		return nil, err
	}
	th, ok := h.(Transcriber)
	if !ok {
		return nil, fmt.Errorf("transcription setup returned %T", h)
	}
	return th, nil
}

func (o *Orchestrator) acquireGenerator(ctx context.Context) (Replier, error) {
	h, err := o.arbiter.Acquire(ctx, capability.KindGeneration, o.setups.Generate)
	if err != nil {
		return nil, err
	}
	gh, ok := h.(Replier)
	if !ok {
		return nil, fmt.Errorf("generation setup returned %T", h)
	}
	o.mu.Lock()
	o.gen = gh
	o.mu.Unlock()
	return gh, nil
}

func (o *Orchestrator) acquireSynthesizer(ctx context.Context) (Speaker, error) {
	h, err := o.arbiter.Acquire(ctx, capability.KindSynthesis, o.setups.Synthesize)
	if err != nil {
		return nil, err
	}
	sh, ok := h.(Speaker)
	if !ok {
		return nil, fmt.Errorf("synthesis setup returned %T", h)
	}
	return sh, nil
}
