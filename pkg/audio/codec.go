// Package audio holds the audio primitives shared by the call pipeline: the
// PCM16 transport codec used on the real-time channel, format normalisation
// for speech recognition, a minimal RIFF/WAV container, and energy helpers.
//
// All functions are pure and safe for concurrent use.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedFrame is returned when PCM data is not aligned to whole 16-bit
// samples or a frame carries an unusable format.
var ErrMalformedFrame = errors.New("audio: malformed frame")

// EncodePCM16 converts float samples in [-1, 1] to 16-bit little-endian PCM.
// Out-of-range values are clamped.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// DecodePCM16 converts 16-bit little-endian PCM to float samples in [-1, 1).
func DecodePCM16(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrMalformedFrame, len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out, nil
}

// BytesToSamples reinterprets 16-bit little-endian PCM as int16 samples.
func BytesToSamples(pcm []byte) ([]int16, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrMalformedFrame, len(pcm))
	}
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out, nil
}

// SamplesToBytes serialises int16 samples as 16-bit little-endian PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodeBase64PCM16 decodes a base64 wire payload into int16 samples.
func DecodeBase64PCM16(s string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrMalformedFrame, err)
	}
	return BytesToSamples(raw)
}

// EncodeBase64 encodes b for the wire.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// RMS returns the root-mean-square energy of samples in PCM16 units
// (0 to 32768). Returns 0 for an empty slice.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Duration returns how long n mono samples last at rate Hz.
func Duration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

func floatToInt16(s float32) int16 {
	switch {
	case s >= 1:
		return math.MaxInt16
	case s <= -1:
		return math.MinInt16
	case s >= 0:
		return int16(s * math.MaxInt16)
	default:
		return int16(s * 32768)
	}
}
