// Package testutil provides shared skip helpers for integration tests.
//
// Each helper calls t.Skip with a clear human-readable reason when the named
// prerequisite is absent, so integration tests remain runnable in partial
// environments without failing noisily.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/lucahttp/morti/internal/voice"
)

// RequirePocketTTS skips the test if the pocket-tts binary is not found in
// PATH or the path given by the MORTI_TTS_CLI_PATH environment variable.
func RequirePocketTTS(tb testing.TB) {
	tb.Helper()

	exe := os.Getenv("MORTI_TTS_CLI_PATH")
	if exe == "" {
		exe = "pocket-tts"
	}

	_, err := exec.LookPath(exe)
	if err != nil {
		tb.Skipf("pocket-tts binary not available (%q not in PATH); set MORTI_TTS_CLI_PATH to override", exe)
	}
}

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located. It checks (in order): the MORTI_ORT_LIB env var, then
// ORT_LIBRARY_PATH, then common system library paths.
func RequireONNXRuntime(tb testing.TB) {
	tb.Helper()

	for _, env := range []string{"MORTI_ORT_LIB", "ORT_LIBRARY_PATH"} {
		if p := os.Getenv(env); p != "" {
			_, err := os.Stat(p)
			if err == nil {
				return // found
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)
		}
	}
	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	}
	for _, p := range candidates {
		_, err := os.Stat(p)
		if err == nil {
			return // found
		}
	}

	tb.Skip("ONNX Runtime shared library not found; set MORTI_ORT_LIB or ORT_LIBRARY_PATH")
}

// RequireVoiceAsset skips the test if the voice identified by id cannot be
// loaded from the voices directory relative to the current working
// directory.
func RequireVoiceAsset(tb testing.TB, id string) {
	tb.Helper()

	store, err := voice.NewStore(filepath.Join("voices"))
	if err != nil {
		tb.Skipf("voices directory not available: %v", err)
		return
	}

	if _, err := store.Load(id); err != nil {
		tb.Skipf("voice %q not available: %v", id, err)
	}
}
