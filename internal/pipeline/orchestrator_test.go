package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/lucahttp/morti/internal/capability"
	"github.com/lucahttp/morti/internal/generate"
	"github.com/lucahttp/morti/internal/synth"
	"github.com/lucahttp/morti/internal/transcribe"
)

type fakeTranscriber struct {
	kind     capability.Kind
	text     string
	err      error
	entered  chan struct{}
	release  chan struct{}
	disposed int
}

func (f *fakeTranscriber) Kind() capability.Kind { return f.kind }
func (f *fakeTranscriber) Dispose() error        { f.disposed++; return nil }

func (f *fakeTranscriber) Transcribe(ctx context.Context, samples []float32, language string) (string, error) {
	if f.entered != nil {
		close(f.entered)
		f.entered = nil
	}
	if f.release != nil {
		<-f.release
	}
	return f.text, f.err
}

type fakeReplier struct {
	reply     string
	err       error
	fragments []string
	resets    int
	history   []generate.Turn
}

func (f *fakeReplier) Kind() capability.Kind         { return capability.KindGeneration }
func (f *fakeReplier) Dispose() error                { return nil }
func (f *fakeReplier) Reset()                        { f.resets++ }
func (f *fakeReplier) SetHistory(ts []generate.Turn) { f.history = ts }

func (f *fakeReplier) Reply(ctx context.Context, userText string, emit func(generate.Fragment) error) (string, error) {
	for _, fr := range f.fragments {
		if emit != nil {
			if err := emit(generate.Fragment{Content: fr}); err != nil {
				return "", err
			}
		}
	}
	return f.reply, f.err
}

type fakeSpeaker struct {
	chunks int
	err    error
	voices []string
}

func (f *fakeSpeaker) Kind() capability.Kind { return capability.KindSynthesis }
func (f *fakeSpeaker) Dispose() error        { return nil }

func (f *fakeSpeaker) Speak(ctx context.Context, text, voiceID string, emit func(synth.Chunk) error) (*synth.Result, error) {
	f.voices = append(f.voices, voiceID)
	if f.err != nil {
		return nil, f.err
	}
	res := &synth.Result{}
	for i := 0; i < f.chunks; i++ {
		c := synth.Chunk{Samples: []float32{0.1, 0.2}, SampleRate: 24000}
		if emit != nil {
			if err := emit(c); err != nil {
				return nil, err
			}
		}
		res.Chunks = append(res.Chunks, c)
	}
	return res, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestOrchestrator(t *testing.T, tr *fakeTranscriber, re *fakeReplier, sp *fakeSpeaker, rec *eventRecorder) *Orchestrator {
	t.Helper()
	arb := capability.NewArbiter(quietLogger(), nil)
	o, err := NewOrchestrator(arb, Setups{
		Transcribe: func(context.Context) (capability.Handle, error) { return tr, nil },
		Generate:   func(context.Context) (capability.Handle, error) { return re, nil },
		Synthesize: func(context.Context) (capability.Handle, error) { return sp, nil },
	}, rec.emit, nil, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestRunTurnHappyPath(t *testing.T) {
	tr := &fakeTranscriber{kind: capability.KindTranscription, text: "turn on the lights"}
	re := &fakeReplier{reply: "done", fragments: []string{"do", "ne"}}
	sp := &fakeSpeaker{chunks: 1}
	rec := &eventRecorder{}
	o := newTestOrchestrator(t, tr, re, sp, rec)

	if err := o.RunTurn(context.Background(), []float32{0.1}, ""); err != nil {
		t.Fatal(err)
	}
	if got := o.State(); got != StateIdle {
		t.Fatalf("state after turn = %v", got)
	}

	if n := len(rec.ofType(EventProgress)); n != 3 {
		t.Fatalf("progress events = %d, want 3", n)
	}
	if n := len(rec.ofType(EventPartial)); n != 2 {
		t.Fatalf("partial events = %d, want 2", n)
	}
	if n := len(rec.ofType(EventAudioChunk)); n != 1 {
		t.Fatalf("audioChunk events = %d, want 1", n)
	}
	completes := rec.ofType(EventComplete)
	if len(completes) != 1 || completes[0].Text != "done" {
		t.Fatalf("complete events = %+v", completes)
	}
}

func TestRunTurnBusyDropsSecondTurn(t *testing.T) {
	tr := &fakeTranscriber{
		kind:    capability.KindTranscription,
		text:    "hello",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	re := &fakeReplier{reply: "hi"}
	sp := &fakeSpeaker{chunks: 1}
	rec := &eventRecorder{}
	o := newTestOrchestrator(t, tr, re, sp, rec)

	entered := tr.entered
	errc := make(chan error, 1)
	go func() {
		errc <- o.RunTurn(context.Background(), []float32{0.1}, "")
	}()
	<-entered

	if err := o.RunTurn(context.Background(), []float32{0.2}, ""); !errors.Is(err, ErrBusy) {
		t.Fatalf("second turn err = %v, want ErrBusy", err)
	}

	close(tr.release)
	if err := <-errc; err != nil {
		t.Fatal(err)
	}

	// The dropped turn must leave no trace: exactly one turn's worth of
	// transcribing transitions.
	var transcribing int
	for _, e := range rec.ofType(EventProgress) {
		if e.State == StateTranscribing {
			transcribing++
		}
	}
	if transcribing != 1 {
		t.Fatalf("transcribing transitions = %d, want 1", transcribing)
	}
}

func TestRunTurnNoSpeech(t *testing.T) {
	tr := &fakeTranscriber{kind: capability.KindTranscription, err: transcribe.ErrNoSpeech}
	re := &fakeReplier{}
	sp := &fakeSpeaker{}
	rec := &eventRecorder{}
	o := newTestOrchestrator(t, tr, re, sp, rec)

	err := o.RunTurn(context.Background(), []float32{0.1}, "")
	if !errors.Is(err, transcribe.ErrNoSpeech) {
		t.Fatalf("err = %v", err)
	}
	if got := o.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle after no-speech", got)
	}
	if n := len(rec.ofType(EventError)); n != 0 {
		t.Fatalf("no-speech produced %d error events", n)
	}
}

func TestRunTurnStageFailure(t *testing.T) {
	boom := errors.New("model exploded")
	tr := &fakeTranscriber{kind: capability.KindTranscription, text: "hello"}
	re := &fakeReplier{err: boom}
	sp := &fakeSpeaker{}
	rec := &eventRecorder{}
	o := newTestOrchestrator(t, tr, re, sp, rec)

	err := o.RunTurn(context.Background(), []float32{0.1}, "")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if got := o.State(); got != StateError {
		t.Fatalf("state = %v, want error", got)
	}
	if n := len(rec.ofType(EventError)); n != 1 {
		t.Fatalf("error events = %d", n)
	}

	// The lock is released and the next turn recovers.
	re.err = nil
	re.reply = "ok"
	sp.chunks = 1
	if err := o.RunTurn(context.Background(), []float32{0.1}, ""); err != nil {
		t.Fatal(err)
	}
	if got := o.State(); got != StateIdle {
		t.Fatalf("state after recovery = %v", got)
	}
}

func TestInterruptStopsSynthesis(t *testing.T) {
	tr := &fakeTranscriber{kind: capability.KindTranscription, text: "hello"}
	re := &fakeReplier{reply: "a long reply"}
	sp := &fakeSpeaker{chunks: 3}
	rec := &eventRecorder{}
	o := newTestOrchestrator(t, tr, re, sp, rec)

	// Trip the flag once synthesis starts; the chunk callback checks it
	// before each emission.
	done := false
	o.emit = func(e Event) {
		rec.emit(e)
		if e.Type == EventProgress && e.State == StateSynthesizing && !done {
			done = true
			o.Interrupt()
		}
	}

	err := o.RunTurn(context.Background(), []float32{0.1}, "")
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err = %v", err)
	}
	if n := len(rec.ofType(EventAudioChunk)); n != 0 {
		t.Fatalf("audio chunks after interrupt = %d", n)
	}
	if got := o.State(); got != StateIdle {
		t.Fatalf("state = %v", got)
	}
}

func TestPreloadWarmsAllThree(t *testing.T) {
	var phases []string
	arb := capability.NewArbiter(quietLogger(), func(kind capability.Kind, phase capability.Phase) {
		phases = append(phases, kind.String()+":"+phase.String())
	})

	tr := &fakeTranscriber{kind: capability.KindTranscription}
	re := &fakeReplier{}
	sp := &fakeSpeaker{}
	o, err := NewOrchestrator(arb, Setups{
		Transcribe: func(context.Context) (capability.Handle, error) { return tr, nil },
		Generate:   func(context.Context) (capability.Handle, error) { return re, nil },
		Synthesize: func(context.Context) (capability.Handle, error) { return sp, nil },
	}, nil, nil, quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	if err := o.Preload(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"generation:initializing", "generation:ready",
		"synthesis:initializing", "synthesis:ready",
		"transcription:initializing", "transcription:ready",
	}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v", phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("phases = %v, want %v", phases, want)
		}
	}

	// Transcription is resident last, ready for the first utterance.
	kind, ok := arb.Resident()
	if !ok || kind != capability.KindTranscription {
		t.Fatalf("resident = %v %v", kind, ok)
	}
}

func TestPreloadBusyWhileTurnInFlight(t *testing.T) {
	tr := &fakeTranscriber{
		kind:    capability.KindTranscription,
		text:    "hello",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	re := &fakeReplier{reply: "hi"}
	sp := &fakeSpeaker{chunks: 1}
	rec := &eventRecorder{}
	o := newTestOrchestrator(t, tr, re, sp, rec)

	entered := tr.entered
	errc := make(chan error, 1)
	go func() {
		errc <- o.RunTurn(context.Background(), []float32{0.1}, "")
	}()
	<-entered

	// Warming now would dispose the transcription handle while its
	// Transcribe call is still running.
	if err := o.Preload(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("preload during turn err = %v, want ErrBusy", err)
	}
	if tr.disposed != 0 {
		t.Fatalf("in-use transcription handle disposed %d times", tr.disposed)
	}

	close(tr.release)
	if err := <-errc; err != nil {
		t.Fatal(err)
	}

	if err := o.Preload(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestTranscribeStandalone(t *testing.T) {
	tr := &fakeTranscriber{kind: capability.KindTranscription, text: "play some jazz"}
	re := &fakeReplier{}
	sp := &fakeSpeaker{}
	rec := &eventRecorder{}
	o := newTestOrchestrator(t, tr, re, sp, rec)

	text, err := o.Transcribe(context.Background(), []float32{0.1}, "en")
	if err != nil {
		t.Fatal(err)
	}
	if text != "play some jazz" {
		t.Fatalf("transcript = %q", text)
	}
	completes := rec.ofType(EventComplete)
	if len(completes) != 1 || completes[0].Text != "play some jazz" {
		t.Fatalf("complete events = %+v", completes)
	}
	if got := o.State(); got != StateIdle {
		t.Fatalf("state = %v", got)
	}
}

func TestGenerateStandaloneReplacesHistory(t *testing.T) {
	tr := &fakeTranscriber{kind: capability.KindTranscription}
	re := &fakeReplier{reply: "sure", fragments: []string{"su", "re"}}
	sp := &fakeSpeaker{}
	rec := &eventRecorder{}
	o := newTestOrchestrator(t, tr, re, sp, rec)

	history := []generate.Turn{{Role: generate.RoleUser, Content: "hi"}}
	reply, err := o.Generate(context.Background(), "and now?", history)
	if err != nil {
		t.Fatal(err)
	}
	if reply != "sure" {
		t.Fatalf("reply = %q", reply)
	}
	if len(re.history) != 1 || re.history[0].Content != "hi" {
		t.Fatalf("injected history = %+v", re.history)
	}
	if n := len(rec.ofType(EventPartial)); n != 2 {
		t.Fatalf("partial events = %d", n)
	}
	if got := o.State(); got != StateIdle {
		t.Fatalf("state = %v", got)
	}
}

func TestSayEmitsAudioAndPassesVoice(t *testing.T) {
	tr := &fakeTranscriber{kind: capability.KindTranscription}
	re := &fakeReplier{}
	sp := &fakeSpeaker{chunks: 2}
	rec := &eventRecorder{}
	o := newTestOrchestrator(t, tr, re, sp, rec)

	res, err := o.Say(context.Background(), "hello", "M3", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Chunks) != 2 {
		t.Fatalf("result chunks = %d", len(res.Chunks))
	}
	if len(sp.voices) != 1 || sp.voices[0] != "M3" {
		t.Fatalf("voices = %v", sp.voices)
	}
	if n := len(rec.ofType(EventAudioChunk)); n != 2 {
		t.Fatalf("audioChunk events = %d", n)
	}
	if n := len(rec.ofType(EventComplete)); n != 1 {
		t.Fatalf("complete events = %d", n)
	}
}

func TestResetClearsGenerationHistory(t *testing.T) {
	tr := &fakeTranscriber{kind: capability.KindTranscription, text: "hello"}
	re := &fakeReplier{reply: "hi"}
	sp := &fakeSpeaker{chunks: 1}
	rec := &eventRecorder{}
	o := newTestOrchestrator(t, tr, re, sp, rec)

	if err := o.RunTurn(context.Background(), []float32{0.1}, ""); err != nil {
		t.Fatal(err)
	}
	o.Reset()
	if re.resets != 1 {
		t.Fatalf("generation resets = %d", re.resets)
	}
}
