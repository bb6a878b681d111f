package resilience

import (
	"context"

	"github.com/MrWong99/callintake/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across several TTS
// backends. A secondary voice usually sounds different from the primary;
// for a dispatcher reply that is preferable to silence.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional TTS provider.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Group exposes the underlying group.
func (f *TTSFallback) Group() *FallbackGroup[tts.Provider] { return f.group }

// Synthesize renders text with the first healthy provider.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.Voice) (tts.Audio, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (tts.Audio, error) {
		return p.Synthesize(ctx, text, voice)
	})
}
