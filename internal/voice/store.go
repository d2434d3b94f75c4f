// Package voice loads per-speaker conditioning tensors from persisted assets.
package voice

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/lucahttp/morti/internal/onnx"
)

// ErrUnknownVoice is returned when no asset exists for a requested voice id.
var ErrUnknownVoice = errors.New("unknown voice")

// Tensor names expected in every voice asset.
const (
	TensorDuration = "style_duration"
	TensorEncoding = "style_encoding"
)

// Style is a named speaker's pre-computed embedding pair. Immutable once
// loaded; shared read-only across synthesis calls.
type Style struct {
	ID string

	// Duration conditions the duration predictor; Encoding conditions the
	// text encoder and every refinement step.
	Duration *onnx.Tensor
	Encoding *onnx.Tensor
}

// Store resolves voice ids to styles from a directory of JSON assets,
// caching each style after first load.
type Store struct {
	dir string

	mu     sync.Mutex
	loaded map[string]*Style
}

type voiceAsset struct {
	ID      string                 `json:"id"`
	Tensors map[string]assetTensor `json:"tensors"`
}

type assetTensor struct {
	DType string    `json:"dtype"`
	Shape []int64   `json:"shape"`
	Data  []float32 `json:"data"`
}

// NewStore opens a voice directory. The directory must exist; individual
// assets are validated lazily on first Load.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("voices directory is required")
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("voices directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("voices path %q is not a directory", dir)
	}

	return &Store{dir: dir, loaded: make(map[string]*Style)}, nil
}

// List returns the voice ids available in the store, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read voices directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)

	return ids, nil
}

// Load returns the style for a voice id, reading and validating its asset on
// first use.
func (s *Store) Load(id string) (*Style, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrUnknownVoice)
	}

	s.mu.Lock()
	cached, ok := s.loaded[id]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	path := filepath.Join(s.dir, id+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownVoice, id)
		}
		return nil, fmt.Errorf("read voice %q: %w", id, err)
	}

	var asset voiceAsset
	if err := json.Unmarshal(data, &asset); err != nil {
		return nil, fmt.Errorf("decode voice %q: %w", id, err)
	}

	if asset.ID != "" && asset.ID != id {
		return nil, fmt.Errorf("voice asset %q declares id %q", id, asset.ID)
	}

	duration, err := assetToTensor(asset, TensorDuration)
	if err != nil {
		return nil, fmt.Errorf("voice %q: %w", id, err)
	}

	encoding, err := assetToTensor(asset, TensorEncoding)
	if err != nil {
		return nil, fmt.Errorf("voice %q: %w", id, err)
	}

	style := &Style{ID: id, Duration: duration, Encoding: encoding}

	s.mu.Lock()
	s.loaded[id] = style
	s.mu.Unlock()

	return style, nil
}

func assetToTensor(asset voiceAsset, name string) (*onnx.Tensor, error) {
	raw, ok := asset.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("missing tensor %q", name)
	}

	if raw.DType != "" && raw.DType != string(onnx.DTypeFloat32) {
		return nil, fmt.Errorf("tensor %q has dtype %q, want float32", name, raw.DType)
	}

	if len(raw.Shape) == 0 {
		return nil, fmt.Errorf("tensor %q has no shape", name)
	}

	t, err := onnx.NewTensor(raw.Data, raw.Shape)
	if err != nil {
		return nil, fmt.Errorf("tensor %q: %w", name, err)
	}

	return t, nil
}
