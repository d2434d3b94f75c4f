package audio

import (
	"encoding/binary"
	"io"
	"math"
)

// FloatsToPCM16 converts float32 samples to little-endian 16-bit signed
// PCM bytes. Samples are clamped to [-1, 1].
func FloatsToPCM16(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		clamped := math.Max(-1.0, math.Min(1.0, float64(s)))
		v := int16(clamped * 32767)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// PCM16ToFloats converts little-endian 16-bit signed PCM bytes to float32
// samples in [-1, 1]. A trailing odd byte is dropped.
func PCM16ToFloats(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(v) / 32767
	}
	return samples
}

// WriteWAVHeaderStreaming writes a 44-byte WAV header for streaming output
// where the total length is unknown. Both chunk sizes carry the 0xFFFFFFFF
// streaming marker. Format is mono 16-bit PCM at sampleRate.
func WriteWAVHeaderStreaming(w io.Writer, sampleRate int) (int, error) {
	byteRate := sampleRate * channels * bitDepth / 8
	blockAlign := channels * bitDepth / 8

	var hdr [44]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 0xFFFFFFFF)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], channels)
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], bitDepth)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], 0xFFFFFFFF)

	return w.Write(hdr[:])
}

// WritePCM16Samples encodes samples as little-endian 16-bit PCM and writes
// them to w.
func WritePCM16Samples(w io.Writer, samples []float32) (int, error) {
	return w.Write(FloatsToPCM16(samples))
}
