// Package tts defines the Provider interface for Text-to-Speech backends.
//
// Dispatcher replies are short (one or two sentences), so a provider
// synthesises a whole reply in one call and returns a single PCM buffer.
// Playback on the caller side starts only after the reply arrives anyway;
// there is nothing to gain from streaming partial audio over the channel.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"time"

	"github.com/MrWong99/callintake/pkg/audio"
)

// Voice selects how a reply is spoken.
type Voice struct {
	// ID is the provider-specific voice identifier (speaker name, voice id,
	// or reference WAV path for XTTS). Empty selects the provider default.
	ID string

	// Language is a BCP-47 code. Empty selects the provider default.
	Language string

	// Speed is a playback rate multiplier. Zero means 1.0.
	Speed float64
}

// Audio is synthesised speech: 16-bit little-endian mono PCM.
type Audio struct {
	PCM        []byte
	SampleRate int
}

// Empty reports whether a carries no samples.
func (a Audio) Empty() bool { return len(a.PCM) == 0 }

// Duration returns the playback length.
func (a Audio) Duration() time.Duration {
	return audio.Duration(len(a.PCM)/2, a.SampleRate)
}

// WAV wraps the PCM in a WAV container for playback in a browser.
func (a Audio) WAV() []byte {
	return audio.EncodeWAV(a.PCM, a.SampleRate, 1)
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with voice. An empty text is an error.
	Synthesize(ctx context.Context, text string, voice Voice) (Audio, error)
}
