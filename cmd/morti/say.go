package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucahttp/morti/internal/audio"
	"github.com/lucahttp/morti/internal/config"
	"github.com/lucahttp/morti/internal/pipeline"
	"github.com/lucahttp/morti/internal/synth"
)

func newSayCmd() *cobra.Command {
	var text string
	var out string
	var voiceID string
	var normalize bool
	var dcBlock bool
	var fadeMS float64
	var stream bool

	cmd := &cobra.Command{
		Use:   "say",
		Short: "Synthesize text to a WAV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "" && len(args) > 0 {
				text = args[0]
			}
			if text == "" {
				return errors.New("no text given; pass an argument or --text")
			}

			speaker, cleanup, err := buildSpeaker(activeCfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if stream {
				w := &wavStreamWriter{
					path: out,
					shape: func(rate int) []audio.Hook {
						return shapingHooks(rate, dcBlock, normalize, fadeMS)
					},
				}
				_, err := speaker.Speak(cmd.Context(), text, voiceID, w.emit)
				if cerr := w.close(); cerr != nil && err == nil {
					err = cerr
				}
				if err != nil {
					return err
				}
				if w.samples == 0 {
					return errors.New("no audio produced")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "streamed %s (%d samples at %d Hz)\n", out, w.samples, w.rate)
				return nil
			}

			res, err := speaker.Speak(cmd.Context(), text, voiceID, nil)
			if err != nil {
				return err
			}
			if len(res.Chunks) == 0 {
				return errors.New("no audio produced")
			}

			rate := res.Chunks[0].SampleRate
			var samples []float32
			for _, c := range res.Chunks {
				samples = append(samples, c.Samples...)
			}
			samples = audio.ApplyHooks(samples, shapingHooks(rate, dcBlock, normalize, fadeMS)...)

			data, err := audio.EncodeWAV(samples, rate)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d samples at %d Hz)\n", out, len(samples), rate)
			return nil
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to synthesize")
	cmd.Flags().StringVar(&out, "out", "out.wav", "Output WAV path")
	cmd.Flags().StringVar(&voiceID, "voice", "", "Voice id (default from config)")
	cmd.Flags().BoolVar(&normalize, "normalize", false, "Peak-normalize the output")
	cmd.Flags().BoolVar(&dcBlock, "dc-block", false, "Remove DC offset")
	cmd.Flags().Float64Var(&fadeMS, "fade-ms", 0, "Fade in/out duration in milliseconds")
	cmd.Flags().BoolVar(&stream, "stream", false, "Write chunks as they are synthesized (unknown-length WAV header)")

	return cmd
}

// shapingHooks assembles the post-processing chain for one sample rate.
func shapingHooks(rate int, dcBlock, normalize bool, fadeMS float64) []audio.Hook {
	var hooks []audio.Hook
	if dcBlock {
		hooks = append(hooks, func(s []float32) []float32 { return audio.DCBlock(s, rate) })
	}
	if normalize {
		hooks = append(hooks, func(s []float32) []float32 { return audio.PeakNormalize(s, 0.95) })
	}
	if fadeMS > 0 {
		hooks = append(hooks,
			func(s []float32) []float32 { return audio.FadeIn(s, rate, fadeMS) },
			func(s []float32) []float32 { return audio.FadeOut(s, rate, fadeMS) },
		)
	}
	return hooks
}

// wavStreamWriter appends chunks to a WAV file as synthesis produces them.
// The header carries the streaming length markers since the total is
// unknown up front; shaping hooks apply per chunk.
type wavStreamWriter struct {
	path  string
	shape func(rate int) []audio.Hook

	f       *os.File
	rate    int
	samples int
}

func (w *wavStreamWriter) emit(c synth.Chunk) error {
	if w.f == nil {
		f, err := os.Create(w.path)
		if err != nil {
			return err
		}
		if _, err := audio.WriteWAVHeaderStreaming(f, c.SampleRate); err != nil {
			f.Close()
			return err
		}
		w.f = f
		w.rate = c.SampleRate
	}

	samples := c.Samples
	if w.shape != nil {
		samples = audio.ApplyHooks(samples, w.shape(w.rate)...)
	}
	n, err := audio.WritePCM16Samples(w.f, samples)
	w.samples += n / 2
	return err
}

func (w *wavStreamWriter) close() error {
	if w.f == nil {
		return nil
	}
	return w.f.Close()
}

// buildSpeaker prefers the native engine and falls back to the pocket-tts
// subprocess when the bundle cannot be opened.
func buildSpeaker(cfg config.Config) (pipeline.Speaker, func(), error) {
	settings, err := ortSettings(cfg)
	if err == nil {
		handle, herr := buildSynthHandle(cfg, settings)
		if herr == nil {
			return handle, func() { _ = handle.Dispose() }, nil
		}
		err = herr
	}

	fb, ferr := fallbackSynthesizer(cfg)
	if ferr != nil {
		return nil, nil, fmt.Errorf("native engine unavailable (%v) and fallback unavailable: %w", err, ferr)
	}
	return fb, func() {}, nil
}

var _ pipeline.Speaker = (*synth.Handle)(nil)
