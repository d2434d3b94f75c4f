package main

import (
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/lucahttp/morti/internal/onnx"
	"github.com/lucahttp/morti/internal/synth"
	"github.com/lucahttp/morti/internal/textindex"
	"github.com/lucahttp/morti/internal/voice"
)

const (
	passMark = "[ok]"
	failMark = "[!!]"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime and asset checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := activeCfg
			out := cmd.OutOrStdout()
			failures := 0

			info, err := onnx.DetectRuntime(cfg.Runtime.ORTLibraryPath)
			if err != nil {
				failures++
				fmt.Fprintf(out, "%s onnx runtime: %v\n", failMark, err)
			} else {
				fmt.Fprintf(out, "%s onnx runtime: %s (version %s)\n", passMark, info.LibraryPath, info.Version)
			}

			if manifest, err := onnx.LoadManifest(cfg.Paths.BundleManifest); err != nil {
				failures++
				fmt.Fprintf(out, "%s bundle manifest: %v\n", failMark, err)
			} else {
				fmt.Fprintf(out, "%s bundle manifest: %d graphs\n", passMark, len(manifest.Sessions()))
			}

			if params, err := synth.LoadParams(cfg.Paths.EngineParams); err != nil {
				failures++
				fmt.Fprintf(out, "%s engine params: %v\n", failMark, err)
			} else {
				fmt.Fprintf(out, "%s engine params: %d Hz, chunk %d, %d latent channels\n",
					passMark, params.SampleRate, params.ChunkSize, params.LatentChannels())
			}

			if _, err := textindex.LoadTable(cfg.Paths.VocabTable); err != nil {
				failures++
				fmt.Fprintf(out, "%s vocab table: %v\n", failMark, err)
			} else {
				fmt.Fprintf(out, "%s vocab table: %s\n", passMark, cfg.Paths.VocabTable)
			}

			if store, err := voice.NewStore(cfg.Paths.VoicesDir); err != nil {
				failures++
				fmt.Fprintf(out, "%s voices: %v\n", failMark, err)
			} else if ids, err := store.List(); err != nil {
				failures++
				fmt.Fprintf(out, "%s voices: %v\n", failMark, err)
			} else {
				fmt.Fprintf(out, "%s voices: %d available\n", passMark, len(ids))
			}

			exe := cfg.Synth.FallbackCLI
			if exe == "" {
				exe = "pocket-tts"
			}
			if _, err := exec.LookPath(exe); err != nil {
				fmt.Fprintf(out, "%s fallback cli: %q not found (optional)\n", passMark, exe)
			} else {
				fmt.Fprintf(out, "%s fallback cli: %s\n", passMark, exe)
			}

			if failures > 0 {
				return fmt.Errorf("%d check(s) failed", failures)
			}
			fmt.Fprintln(out, "all checks passed")
			return nil
		},
	}

	return cmd
}
