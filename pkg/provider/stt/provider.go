// Package stt defines the Provider interface for Speech-to-Text backends.
//
// The call pipeline segments caller audio itself (see internal/segment), so
// every backend here is a batch recogniser: it receives one complete
// utterance and returns its text. Streaming APIs are out of the picture,
// which keeps each transcription an isolated, retryable request.
//
// Implementations must be safe for concurrent use; many calls transcribe at
// once.
package stt

import (
	"context"
	"time"

	"github.com/MrWong99/callintake/pkg/audio"
)

// Transcript is the recognition result for one utterance.
type Transcript struct {
	// Text is the recognised speech. Empty when nothing intelligible was
	// heard; that is a valid result, not an error.
	Text string

	// Language is the detected or requested language, when the backend
	// reports it.
	Language string

	// Confidence is the overall confidence in [0, 1]. Zero when unknown.
	Confidence float64

	// Latency is the wall-clock time the backend took.
	Latency time.Duration
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe recognises the speech in u. u.PCM is 16-bit little-endian
	// mono PCM at u.SampleRate.
	Transcribe(ctx context.Context, u audio.Utterance) (Transcript, error)
}
