package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Synth.Voice != "M3" {
		t.Fatalf("default voice = %q, want M3", cfg.Synth.Voice)
	}

	if cfg.Synth.RefineSteps != 10 {
		t.Fatalf("default refine steps = %d, want 10", cfg.Synth.RefineSteps)
	}

	if cfg.Synth.Rate != 1.0 {
		t.Fatalf("default rate = %v, want 1.0", cfg.Synth.Rate)
	}

	if !cfg.Bus.Embedded {
		t.Fatal("embedded bus should default on")
	}
}

func TestLoadConfigFile(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "morti.yaml")

	content := `
log_level: debug
synth:
  voice: F1
  refine_steps: 4
paths:
  voices_dir: /opt/morti/voices
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(LoadOptions{ConfigFile: path, Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %q, want debug", cfg.LogLevel)
	}

	if cfg.Synth.Voice != "F1" {
		t.Fatalf("voice = %q, want F1", cfg.Synth.Voice)
	}

	if cfg.Synth.RefineSteps != 4 {
		t.Fatalf("refine steps = %d, want 4", cfg.Synth.RefineSteps)
	}

	if cfg.Paths.VoicesDir != "/opt/morti/voices" {
		t.Fatalf("voices dir = %q", cfg.Paths.VoicesDir)
	}

	// Values the file does not mention keep their defaults.
	if cfg.Generate.Model != "llama3.2:latest" {
		t.Fatalf("generate model lost default: %q", cfg.Generate.Model)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MORTI_SYNTH_VOICE", "M5")
	t.Setenv("MORTI_ORT_LIB", "/tmp/libonnxruntime.so")

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Synth.Voice != "M5" {
		t.Fatalf("voice = %q, want M5 from env", cfg.Synth.Voice)
	}

	if cfg.Runtime.ORTLibraryPath != "/tmp/libonnxruntime.so" {
		t.Fatalf("ort path = %q, want env value", cfg.Runtime.ORTLibraryPath)
	}
}

func TestLoadFlagOverride(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	RegisterFlags(cmd.Flags(), DefaultConfig())

	if err := cmd.Flags().Set("synth-rate", "1.25"); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	cfg, err := Load(LoadOptions{Cmd: cmd, Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Synth.Rate != 1.25 {
		t.Fatalf("rate = %v, want 1.25 from flag", cfg.Synth.Rate)
	}
}
