package synth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Params describes the synthesis model bundle: output sample rate, samples
// per latent frame, and the compression factor relating frame size to latent
// channel count (channels = chunk_size / compression_factor).
type Params struct {
	SampleRate        int `json:"sample_rate"`
	ChunkSize         int `json:"chunk_size"`
	CompressionFactor int `json:"compression_factor"`
}

// LoadParams reads and validates the engine params JSON asset.
func LoadParams(path string) (Params, error) {
	if path == "" {
		return Params{}, errors.New("engine params path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("read engine params: %w", err)
	}

	var p Params
	if err := json.Unmarshal(data, &p); err != nil {
		return Params{}, fmt.Errorf("decode engine params: %w", err)
	}

	if err := p.Validate(); err != nil {
		return Params{}, err
	}

	return p, nil
}

func (p Params) Validate() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("sample_rate %d must be positive", p.SampleRate)
	}
	if p.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size %d must be positive", p.ChunkSize)
	}
	if p.CompressionFactor <= 0 {
		return fmt.Errorf("compression_factor %d must be positive", p.CompressionFactor)
	}
	if p.ChunkSize%p.CompressionFactor != 0 {
		return fmt.Errorf("chunk_size %d is not divisible by compression_factor %d", p.ChunkSize, p.CompressionFactor)
	}
	return nil
}

// LatentChannels returns the channel count of the latent buffer.
func (p Params) LatentChannels() int {
	return p.ChunkSize / p.CompressionFactor
}
