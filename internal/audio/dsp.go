package audio

import "math"

// Hook is an in-place sample transform applied before output.
type Hook func(samples []float32) []float32

// ApplyHooks runs samples through hooks in order.
func ApplyHooks(samples []float32, hooks ...Hook) []float32 {
	out := samples
	for _, hook := range hooks {
		out = hook(out)
	}
	return out
}

// PeakNormalize scales samples so the peak amplitude reaches target. A
// silent buffer is returned unchanged.
func PeakNormalize(samples []float32, target float32) []float32 {
	var peak float32
	for _, s := range samples {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return samples
	}
	gain := target / peak
	for i := range samples {
		samples[i] *= gain
	}
	return samples
}

// DCBlock removes DC offset with a single-pole high-pass filter.
func DCBlock(samples []float32, sampleRate int) []float32 {
	if len(samples) == 0 || sampleRate < 1 {
		return samples
	}

	// Pole placed for roughly 20 Hz cutoff.
	r := float32(1.0 - (2.0 * math.Pi * 20.0 / float64(sampleRate)))
	var prevIn, prevOut float32
	for i, s := range samples {
		out := s - prevIn + r*prevOut
		prevIn = s
		prevOut = out
		samples[i] = out
	}
	return samples
}

// FadeIn applies a linear ramp over the first ms milliseconds.
func FadeIn(samples []float32, sampleRate int, ms float64) []float32 {
	n := rampSamples(len(samples), sampleRate, ms)
	for i := 0; i < n; i++ {
		samples[i] *= float32(i) / float32(n)
	}
	return samples
}

// FadeOut applies a linear ramp over the last ms milliseconds.
func FadeOut(samples []float32, sampleRate int, ms float64) []float32 {
	n := rampSamples(len(samples), sampleRate, ms)
	for i := 0; i < n; i++ {
		samples[len(samples)-1-i] *= float32(i) / float32(n)
	}
	return samples
}

func rampSamples(total, sampleRate int, ms float64) int {
	if total == 0 || sampleRate < 1 || ms <= 0 {
		return 0
	}
	n := int(float64(sampleRate) * ms / 1000.0)
	if n > total {
		n = total
	}
	return n
}
