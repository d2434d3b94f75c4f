package transcribe

import (
	"context"
	"errors"
	"fmt"

	"github.com/lucahttp/morti/internal/onnx"
)

// TokenDecoder turns recognizer token ids into text. The concrete decoder
// ships with the recognizer bundle; this package never interprets ids.
type TokenDecoder func(ids []int64) (string, error)

// sessionRecognizer runs a serialized recognizer graph. It is the thin
// adapter over the pre-built runtime; the graph itself is opaque here.
type sessionRecognizer struct {
	runner *onnx.Runner
	decode TokenDecoder
}

// NewSessionRecognizer opens the recognizer graph from a bundle manifest.
func NewSessionRecognizer(manifest *onnx.Manifest, settings onnx.Settings, decode TokenDecoder) (Recognizer, error) {
	if decode == nil {
		return nil, errors.New("token decoder is required")
	}

	meta, err := manifest.RequireSession(onnx.GraphRecognizer)
	if err != nil {
		return nil, err
	}

	runner, err := onnx.NewRunner(meta, settings)
	if err != nil {
		return nil, fmt.Errorf("open recognizer: %w", err)
	}

	return &sessionRecognizer{runner: runner, decode: decode}, nil
}

func (r *sessionRecognizer) Transcribe(ctx context.Context, samples []float32, language string) (string, error) {
	audio, err := onnx.NewTensor(samples, []int64{1, int64(len(samples))})
	if err != nil {
		return "", fmt.Errorf("audio tensor: %w", err)
	}

	outputs, err := r.runner.Run(ctx, map[string]*onnx.Tensor{
		"audio": audio,
	})
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}

	ids, err := onnx.ExtractInt64(outputs["tokens"])
	if err != nil {
		return "", fmt.Errorf("recognizer tokens: %w", err)
	}

	text, err := r.decode(ids)
	if err != nil {
		return "", fmt.Errorf("decode tokens: %w", err)
	}

	return text, nil
}

func (r *sessionRecognizer) Close() error {
	if r.runner != nil {
		r.runner.Close()
		r.runner = nil
	}
	return nil
}
