package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/lucahttp/morti/internal/onnx"
	"github.com/lucahttp/morti/internal/textindex"
	"github.com/lucahttp/morti/internal/voice"
)

type fakeRunner struct {
	run    func(inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error)
	calls  int
	closed bool
}

func (f *fakeRunner) Run(_ context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
	f.calls++
	return f.run(inputs)
}

func (f *fakeRunner) Close() { f.closed = true }

func testParams() Params {
	return Params{SampleRate: 24000, ChunkSize: 512, CompressionFactor: 4}
}

func testStyle(t *testing.T) *voice.Style {
	t.Helper()

	dur, err := onnx.NewTensor(make([]float32, 8), []int64{1, 8})
	if err != nil {
		t.Fatalf("style duration tensor: %v", err)
	}
	enc, err := onnx.NewTensor(make([]float32, 8), []int64{1, 8})
	if err != nil {
		t.Fatalf("style encoding tensor: %v", err)
	}
	return &voice.Style{ID: "M3", Duration: dur, Encoding: enc}
}

func testEngineIndexer(t *testing.T) *textindex.Indexer {
	t.Helper()

	table := map[rune]int64{}
	next := int64(1)
	for _, r := range "<>xenhi.oathlrd! " {
		if _, ok := table[r]; ok {
			continue
		}
		table[r] = next
		next++
	}
	idx, err := textindex.NewIndexer(table)
	if err != nil {
		t.Fatalf("NewIndexer: %v", err)
	}
	return idx
}

type fakeBundle struct {
	duration *fakeRunner
	encoder  *fakeRunner
	refiner  *fakeRunner
	vocoder  *fakeRunner

	stepIndices []float32
}

// newFakeBundle wires fakes that mimic the real graph contracts: constant
// predicted duration, an embedding keyed to the text length, a refiner that
// replaces the latent, and a vocoder that overproduces half a chunk.
func newFakeBundle(t *testing.T, durationSeconds float32) *fakeBundle {
	t.Helper()

	b := &fakeBundle{}

	b.duration = &fakeRunner{run: func(inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
		for _, name := range []string{inputTextCodes, inputTextMask, inputStyleDuration} {
			if inputs[name] == nil {
				return nil, fmt.Errorf("duration predictor missing input %q", name)
			}
		}
		out, err := onnx.NewTensor([]float32{durationSeconds}, []int64{1})
		if err != nil {
			return nil, err
		}
		return map[string]*onnx.Tensor{outputDuration: out}, nil
	}}

	b.encoder = &fakeRunner{run: func(inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
		codes := inputs[inputTextCodes]
		if codes == nil || inputs[inputStyleEncoding] == nil {
			return nil, errors.New("encoder missing inputs")
		}
		textLen := codes.Shape()[1]
		emb, err := onnx.NewTensor(make([]float32, textLen*4), []int64{1, textLen, 4})
		if err != nil {
			return nil, err
		}
		return map[string]*onnx.Tensor{outputTextEmbedding: emb}, nil
	}}

	b.refiner = &fakeRunner{run: func(inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
		latent := inputs[inputLatent]
		if latent == nil || inputs[inputLatentMask] == nil || inputs[inputTextEmbedding] == nil {
			return nil, errors.New("refiner missing inputs")
		}

		stepIdx, err := onnx.ExtractFloat32(inputs[inputStepIndex])
		if err != nil {
			return nil, err
		}
		b.stepIndices = append(b.stepIndices, stepIdx[0])

		data, err := latent.Float32s()
		if err != nil {
			return nil, err
		}
		next := make([]float32, len(data))
		for i, v := range data {
			next[i] = v * 0.5
		}
		out, err := onnx.NewTensor(next, latent.Shape())
		if err != nil {
			return nil, err
		}
		return map[string]*onnx.Tensor{outputLatent: out}, nil
	}}

	b.vocoder = &fakeRunner{run: func(inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error) {
		latent := inputs[inputLatent]
		if latent == nil {
			return nil, errors.New("vocoder missing latent")
		}
		latentLen := latent.Shape()[2]
		n := latentLen*512 + 256 // trailing overproduction
		wave, err := onnx.NewTensor(make([]float32, n), []int64{1, n})
		if err != nil {
			return nil, err
		}
		return map[string]*onnx.Tensor{outputWaveform: wave}, nil
	}}

	return b
}

func (b *fakeBundle) sessions() Sessions {
	return Sessions{Duration: b.duration, Encoder: b.encoder, Refiner: b.refiner, Vocoder: b.vocoder}
}

func newTestEngine(t *testing.T, b *fakeBundle) *Engine {
	t.Helper()

	engine, err := NewEngine(testParams(), testEngineIndexer(t), b.sessions(), slog.Default())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func TestSynthesizeEndToEnd(t *testing.T) {
	bundle := newFakeBundle(t, 2.0)
	engine := newTestEngine(t, bundle)

	result, err := engine.Synthesize(context.Background(), Request{Text: "hi", Language: "en", Seed: 1}, testStyle(t))
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if len(result.Chunks) != 1 {
		t.Fatalf("chunks = %d, want exactly 1", len(result.Chunks))
	}

	// 2.0 s at 24 kHz, rate 1.0.
	if got := len(result.Chunks[0].Samples); got != 48000 {
		t.Fatalf("sample count = %d, want 48000", got)
	}

	if result.Chunks[0].SampleRate != 24000 {
		t.Fatalf("sample rate = %d", result.Chunks[0].SampleRate)
	}

	if len(bundle.stepIndices) != DefaultRefineSteps {
		t.Fatalf("refinement steps = %d, want %d", len(bundle.stepIndices), DefaultRefineSteps)
	}
	for i, idx := range bundle.stepIndices {
		if idx != float32(i) {
			t.Fatalf("step index %d = %v, want %d", i, idx, i)
		}
	}

	if bundle.duration.calls != 1 || bundle.encoder.calls != 1 || bundle.vocoder.calls != 1 {
		t.Fatalf("stage calls = %d/%d/%d, want 1/1/1",
			bundle.duration.calls, bundle.encoder.calls, bundle.vocoder.calls)
	}
}

func TestSynthesizeDurationScaling(t *testing.T) {
	for _, rate := range []float64{0.8, 1.0, 1.25} {
		bundle := newFakeBundle(t, 2.0)
		engine := newTestEngine(t, bundle)

		result, err := engine.Synthesize(context.Background(), Request{Text: "hi", Rate: rate, Seed: 1}, testStyle(t))
		if err != nil {
			t.Fatalf("Synthesize(rate=%v): %v", rate, err)
		}

		want := int(2.0*rate*24000 + 0.5)
		got := len(result.Chunks[0].Samples)
		if got < want-1 || got > want+1 {
			t.Fatalf("rate %v: sample count = %d, want %d ±1", rate, got, want)
		}
	}
}

func TestSynthesizeMultiSegment(t *testing.T) {
	bundle := newFakeBundle(t, 1.0)
	engine := newTestEngine(t, bundle)

	var emitted int
	req := Request{
		Text: "hi there. hello!",
		Seed: 1,
		Emit: func(c Chunk) error {
			emitted++
			return nil
		},
	}

	result, err := engine.Synthesize(context.Background(), req, testStyle(t))
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if len(result.Chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(result.Chunks))
	}

	if emitted != 2 {
		t.Fatalf("emitted = %d, want 2", emitted)
	}

	// Two segments of 1 s each.
	if result.Diagnostics.DurationSeconds != 2.0 {
		t.Fatalf("total duration = %v, want 2.0", result.Diagnostics.DurationSeconds)
	}
}

func TestSynthesizeEmptyUtteranceFatal(t *testing.T) {
	bundle := newFakeBundle(t, 1.0)
	engine := newTestEngine(t, bundle)

	_, err := engine.Synthesize(context.Background(), Request{Text: "🙂🙂"}, testStyle(t))
	if !errors.Is(err, ErrEmptyUtterance) {
		t.Fatalf("err = %v, want ErrEmptyUtterance", err)
	}

	if bundle.duration.calls != 0 {
		t.Fatal("no session may run for an empty utterance")
	}
}

func TestSynthesizeUnsupportedCharsAreDiagnostic(t *testing.T) {
	bundle := newFakeBundle(t, 1.0)
	engine := newTestEngine(t, bundle)

	// 'z' is not in the test vocabulary.
	result, err := engine.Synthesize(context.Background(), Request{Text: "hiz", Seed: 1}, testStyle(t))
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if len(result.Diagnostics.UnsupportedChars) != 1 || result.Diagnostics.UnsupportedChars[0] != 'z' {
		t.Fatalf("unsupported = %q", result.Diagnostics.UnsupportedChars)
	}
}

func TestSynthesizeEmitErrorAborts(t *testing.T) {
	bundle := newFakeBundle(t, 1.0)
	engine := newTestEngine(t, bundle)

	wantErr := errors.New("sink full")
	_, err := engine.Synthesize(context.Background(), Request{
		Text: "hi",
		Seed: 1,
		Emit: func(Chunk) error { return wantErr },
	}, testStyle(t))

	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want emit error", err)
	}
}

func TestSynthesizeClipsRunawayDuration(t *testing.T) {
	bundle := newFakeBundle(t, 120.0)
	engine := newTestEngine(t, bundle)

	result, err := engine.Synthesize(context.Background(), Request{Text: "hi", Seed: 1}, testStyle(t))
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if !result.Diagnostics.ClippedDuration {
		t.Fatal("expected clipped-duration diagnostic")
	}

	if got := len(result.Chunks[0].Samples); got != 30*24000 {
		t.Fatalf("clipped sample count = %d, want %d", got, 30*24000)
	}
}
