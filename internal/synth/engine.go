// Package synth converts finalized text plus a chosen voice into PCM audio
// through four strictly ordered stages: duration prediction, text encoding,
// iterative latent refinement, and vocoding.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/lucahttp/morti/internal/onnx"
	"github.com/lucahttp/morti/internal/textindex"
	"github.com/lucahttp/morti/internal/voice"
)

// Graph input/output names shared with the bundle exporter.
const (
	inputTextCodes     = "text_codes"
	inputTextMask      = "text_mask"
	inputStyleDuration = "style_duration"
	inputStyleEncoding = "style_encoding"
	inputTextEmbedding = "text_emb"
	inputLatent        = "latent"
	inputLatentMask    = "latent_mask"
	inputTotalSteps    = "total_steps"
	inputStepIndex     = "step_index"

	outputDuration      = "duration"
	outputTextEmbedding = "text_emb"
	outputLatent        = "latent"
	outputWaveform      = "waveform"
)

// DefaultRefineSteps is the fixed refinement schedule length unless the
// caller overrides it.
const DefaultRefineSteps = 10

// maxDurationSeconds caps a single segment; longer predictions are clipped
// and reported as a diagnostic.
const maxDurationSeconds = 30.0

// ErrEmptyUtterance is returned when input text encodes to zero length.
var ErrEmptyUtterance = textindex.ErrEmptyText

// Runner executes one serialized graph against named tensors. Satisfied by
// *onnx.Runner; tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error)
	Close()
}

// Sessions holds the four stage runners of one synthesis bundle.
type Sessions struct {
	Duration Runner
	Encoder  Runner
	Refiner  Runner
	Vocoder  Runner
}

// Close releases all stage runners. Safe on partially initialized bundles.
func (s Sessions) Close() {
	for _, r := range []Runner{s.Duration, s.Encoder, s.Refiner, s.Vocoder} {
		if r != nil {
			r.Close()
		}
	}
}

// Request describes one synthesis call.
type Request struct {
	Text     string
	Language string

	// Rate scales predicted duration: >1 slows speech, <1 speeds it.
	// Zero means 1.0.
	Rate float64

	// RefineSteps overrides the refinement schedule length. Zero means
	// DefaultRefineSteps.
	RefineSteps int

	// Seed fixes the noise source for reproducible output. Zero seeds
	// from the clock.
	Seed int64

	// Emit, when set, receives each finished chunk in synthesis order
	// before the call returns. An Emit error aborts the call.
	Emit func(Chunk) error
}

// Chunk is one finished audio segment. The engine keeps no reference to the
// sample buffer after emission.
type Chunk struct {
	Samples    []float32
	SampleRate int
}

// Diagnostics reports non-fatal conditions observed during a call.
type Diagnostics struct {
	UnsupportedChars []rune
	ClippedDuration  bool
	DurationSeconds  float64
}

// Result is the outcome of one synthesis call.
type Result struct {
	Chunks      []Chunk
	Diagnostics Diagnostics
}

// Engine orchestrates the four-stage pipeline over one bundle's sessions.
type Engine struct {
	params   Params
	indexer  *textindex.Indexer
	sessions Sessions
	log      *slog.Logger
}

// NewEngine validates params and wires the stage sessions.
func NewEngine(params Params, indexer *textindex.Indexer, sessions Sessions, log *slog.Logger) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("engine params: %w", err)
	}
	if indexer == nil {
		return nil, errors.New("indexer is required")
	}
	for name, r := range map[string]Runner{
		"duration": sessions.Duration,
		"encoder":  sessions.Encoder,
		"refiner":  sessions.Refiner,
		"vocoder":  sessions.Vocoder,
	} {
		if r == nil {
			return nil, fmt.Errorf("missing %s session", name)
		}
	}
	if log == nil {
		log = slog.Default()
	}

	return &Engine{params: params, indexer: indexer, sessions: sessions, log: log}, nil
}

// Params returns the bundle parameters the engine was built with.
func (e *Engine) Params() Params {
	return e.params
}

// Close releases the engine's sessions.
func (e *Engine) Close() {
	e.sessions.Close()
}

// Synthesize runs the full pipeline for one text string and voice style.
// Multi-sentence input synthesizes per segment, one chunk per segment, in
// order. Batch size is fixed at 1 per stage call.
func (e *Engine) Synthesize(ctx context.Context, req Request, style *voice.Style) (*Result, error) {
	if style == nil {
		return nil, errors.New("voice style is required")
	}

	normalized, err := textindex.Normalize(req.Text)
	if err != nil {
		return nil, err
	}

	rate := req.Rate
	if rate == 0 {
		rate = 1.0
	}
	if rate <= 0 {
		return nil, fmt.Errorf("rate factor %v must be positive", req.Rate)
	}

	steps := req.RefineSteps
	if steps == 0 {
		steps = DefaultRefineSteps
	}
	if steps < 1 {
		return nil, fmt.Errorf("refine steps %d must be >= 1", req.RefineSteps)
	}

	seed := req.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	segments := textindex.SplitSegments(normalized)
	if len(segments) == 0 {
		segments = []string{normalized}
	}

	result := &Result{}
	for i, segment := range segments {
		chunk, diag, err := e.synthesizeSegment(ctx, segment, req.Language, style, rate, steps, rng)
		if err != nil {
			return nil, fmt.Errorf("segment %d/%d: %w", i+1, len(segments), err)
		}

		result.Diagnostics.merge(diag)

		if req.Emit != nil {
			if err := req.Emit(chunk); err != nil {
				return nil, fmt.Errorf("emit segment %d/%d: %w", i+1, len(segments), err)
			}
		}
		result.Chunks = append(result.Chunks, chunk)
	}

	e.log.Debug("synthesis complete",
		"segments", len(segments),
		"duration_s", result.Diagnostics.DurationSeconds,
		"steps", steps,
	)

	return result, nil
}

func (e *Engine) synthesizeSegment(ctx context.Context, segment, language string, style *voice.Style, rate float64, steps int, rng *rand.Rand) (Chunk, Diagnostics, error) {
	var diag Diagnostics

	// Stage 1: indexing.
	tagged := textindex.WrapLanguage(segment, language)
	enc, err := e.indexer.Encode([]string{tagged})
	if err != nil {
		return Chunk{}, diag, err
	}
	diag.UnsupportedChars = enc.Unsupported

	codesData, codesShape := enc.FlatCodes()
	codes, err := onnx.NewTensor(codesData, codesShape)
	if err != nil {
		return Chunk{}, diag, fmt.Errorf("text codes: %w", err)
	}
	maskData, maskShape := enc.FlatMask()
	mask, err := onnx.NewTensor(maskData, maskShape)
	if err != nil {
		return Chunk{}, diag, fmt.Errorf("text mask: %w", err)
	}

	// Stage 2: duration prediction.
	seconds, err := e.predictDuration(ctx, codes, mask, style)
	if err != nil {
		return Chunk{}, diag, err
	}
	seconds *= rate
	if seconds > maxDurationSeconds {
		seconds = maxDurationSeconds
		diag.ClippedDuration = true
	}
	diag.DurationSeconds = seconds

	samples := int(math.Round(seconds * float64(e.params.SampleRate)))
	if samples < 1 {
		samples = 1
	}

	// Stage 3: text encoding.
	embedding, err := e.encodeText(ctx, codes, mask, style)
	if err != nil {
		return Chunk{}, diag, err
	}

	// Stage 4: iterative latent refinement.
	latentLen := (samples + e.params.ChunkSize - 1) / e.params.ChunkSize
	latent, err := e.refineLatent(ctx, refineInputs{
		embedding:  embedding,
		style:      style,
		textMask:   mask,
		latentLen:  latentLen,
		totalSteps: steps,
		rng:        rng,
	})
	if err != nil {
		return Chunk{}, diag, err
	}

	// Stage 5: vocoding.
	waveform, err := e.vocode(ctx, latent)
	if err != nil {
		return Chunk{}, diag, err
	}

	// The vocoder may overproduce trailing samples past the utterance.
	if len(waveform) > samples {
		waveform = waveform[:samples]
	}

	return Chunk{Samples: waveform, SampleRate: e.params.SampleRate}, diag, nil
}

func (e *Engine) predictDuration(ctx context.Context, codes, mask *onnx.Tensor, style *voice.Style) (float64, error) {
	outputs, err := e.sessions.Duration.Run(ctx, map[string]*onnx.Tensor{
		inputTextCodes:     codes,
		inputTextMask:      mask,
		inputStyleDuration: style.Duration,
	})
	if err != nil {
		return 0, fmt.Errorf("duration prediction: %w", err)
	}

	raw, err := onnx.ExtractFloat32(outputs[outputDuration])
	if err != nil {
		return 0, fmt.Errorf("duration output: %w", err)
	}
	if len(raw) == 0 {
		return 0, errors.New("duration output is empty")
	}

	seconds := float64(raw[0])
	if seconds <= 0 || math.IsNaN(seconds) {
		return 0, fmt.Errorf("predicted duration %v is not positive", seconds)
	}

	return seconds, nil
}

func (e *Engine) encodeText(ctx context.Context, codes, mask *onnx.Tensor, style *voice.Style) (*onnx.Tensor, error) {
	outputs, err := e.sessions.Encoder.Run(ctx, map[string]*onnx.Tensor{
		inputTextCodes:     codes,
		inputTextMask:      mask,
		inputStyleEncoding: style.Encoding,
	})
	if err != nil {
		return nil, fmt.Errorf("text encoding: %w", err)
	}

	embedding, ok := outputs[outputTextEmbedding]
	if !ok {
		return nil, fmt.Errorf("text encoder produced no %q output", outputTextEmbedding)
	}

	return embedding, nil
}

type refineInputs struct {
	embedding  *onnx.Tensor
	style      *voice.Style
	textMask   *onnx.Tensor
	latentLen  int
	totalSteps int
	rng        *rand.Rand
}

func (e *Engine) refineLatent(ctx context.Context, in refineInputs) (*onnx.Tensor, error) {
	channels := e.params.LatentChannels()

	latent, err := newLatentNoise(channels, in.latentLen, in.latentLen, in.rng)
	if err != nil {
		return nil, fmt.Errorf("latent init: %w", err)
	}

	latentMask, err := newLatentMask(in.latentLen, in.latentLen)
	if err != nil {
		return nil, fmt.Errorf("latent mask: %w", err)
	}

	totalSteps := onnx.NewScalarFloat32(float32(in.totalSteps))

	// Each step consumes the previous step's output; the schedule is fixed
	// and strictly sequential.
	for step := 0; step < in.totalSteps; step++ {
		outputs, err := e.sessions.Refiner.Run(ctx, map[string]*onnx.Tensor{
			inputLatent:        latent,
			inputTextEmbedding: in.embedding,
			inputStyleEncoding: in.style.Encoding,
			inputTextMask:      in.textMask,
			inputLatentMask:    latentMask,
			inputTotalSteps:    totalSteps,
			inputStepIndex:     onnx.NewScalarFloat32(float32(step)),
		})
		if err != nil {
			return nil, fmt.Errorf("refinement step %d: %w", step, err)
		}

		next, ok := outputs[outputLatent]
		if !ok {
			return nil, fmt.Errorf("refinement step %d produced no %q output", step, outputLatent)
		}
		latent = next
	}

	return latent, nil
}

func (e *Engine) vocode(ctx context.Context, latent *onnx.Tensor) ([]float32, error) {
	outputs, err := e.sessions.Vocoder.Run(ctx, map[string]*onnx.Tensor{
		inputLatent: latent,
	})
	if err != nil {
		return nil, fmt.Errorf("vocoding: %w", err)
	}

	waveform, err := onnx.ExtractFloat32(outputs[outputWaveform])
	if err != nil {
		return nil, fmt.Errorf("waveform output: %w", err)
	}

	return waveform, nil
}

func (d *Diagnostics) merge(other Diagnostics) {
	d.UnsupportedChars = append(d.UnsupportedChars, other.UnsupportedChars...)
	d.ClippedDuration = d.ClippedDuration || other.ClippedDuration
	d.DurationSeconds += other.DurationSeconds
}
