package synth

import (
	"fmt"

	"github.com/lucahttp/morti/internal/onnx"
)

// OpenSessions creates ORT runners for the four synthesis graphs named in
// the bundle manifest. On any failure, already-opened runners are closed.
func OpenSessions(manifest *onnx.Manifest, settings onnx.Settings) (Sessions, error) {
	var sessions Sessions

	open := func(graph string, dst *Runner) error {
		meta, err := manifest.RequireSession(graph)
		if err != nil {
			return err
		}

		runner, err := onnx.NewRunner(meta, settings)
		if err != nil {
			return err
		}

		*dst = runner
		return nil
	}

	for _, stage := range []struct {
		graph string
		dst   *Runner
	}{
		{onnx.GraphDurationPredictor, &sessions.Duration},
		{onnx.GraphTextEncoder, &sessions.Encoder},
		{onnx.GraphLatentRefiner, &sessions.Refiner},
		{onnx.GraphVocoder, &sessions.Vocoder},
	} {
		if err := open(stage.graph, stage.dst); err != nil {
			sessions.Close()
			return Sessions{}, fmt.Errorf("open synthesis bundle: %w", err)
		}
	}

	return sessions, nil
}
