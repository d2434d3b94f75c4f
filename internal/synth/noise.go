package synth

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/lucahttp/morti/internal/onnx"
)

// newLatentNoise builds a [1, channels, paddedLen] latent buffer filled with
// independent standard-normal draws, with every position at or beyond
// trueLen zeroed. The refiner sees noise only where the latent mask is set.
func newLatentNoise(channels, paddedLen, trueLen int, rng *rand.Rand) (*onnx.Tensor, error) {
	if channels <= 0 || paddedLen <= 0 {
		return nil, fmt.Errorf("invalid latent shape [1 %d %d]", channels, paddedLen)
	}
	if trueLen < 0 || trueLen > paddedLen {
		return nil, fmt.Errorf("true latent length %d outside [0, %d]", trueLen, paddedLen)
	}

	data := make([]float32, channels*paddedLen)
	fillStandardNormal(data, rng)

	for c := 0; c < channels; c++ {
		row := data[c*paddedLen : (c+1)*paddedLen]
		for t := trueLen; t < paddedLen; t++ {
			row[t] = 0
		}
	}

	return onnx.NewTensor(data, []int64{1, int64(channels), int64(paddedLen)})
}

// newLatentMask builds a [1, 1, paddedLen] mask with ones below trueLen.
func newLatentMask(paddedLen, trueLen int) (*onnx.Tensor, error) {
	if trueLen < 0 || trueLen > paddedLen {
		return nil, fmt.Errorf("true latent length %d outside [0, %d]", trueLen, paddedLen)
	}

	mask, err := onnx.NewZeroTensor("float32", []any{1, 1, paddedLen})
	if err != nil {
		return nil, err
	}
	data, err := mask.Float32s()
	if err != nil {
		return nil, err
	}
	for t := 0; t < trueLen; t++ {
		data[t] = 1
	}

	return mask, nil
}

// fillStandardNormal fills dst with N(0,1) samples via the Box–Muller
// transform, two uniform draws per pair of outputs.
func fillStandardNormal(dst []float32, rng *rand.Rand) {
	for i := 0; i < len(dst); i += 2 {
		u1 := rng.Float64()
		for u1 == 0 {
			u1 = rng.Float64()
		}
		u2 := rng.Float64()

		r := math.Sqrt(-2 * math.Log(u1))
		theta := 2 * math.Pi * u2

		dst[i] = float32(r * math.Cos(theta))
		if i+1 < len(dst) {
			dst[i+1] = float32(r * math.Sin(theta))
		}
	}
}
