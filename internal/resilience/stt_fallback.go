package resilience

import (
	"context"

	"github.com/MrWong99/callintake/pkg/audio"
	"github.com/MrWong99/callintake/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across several STT
// backends.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional STT provider.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Group exposes the underlying group.
func (f *STTFallback) Group() *FallbackGroup[stt.Provider] { return f.group }

// Transcribe recognises u with the first healthy provider.
func (f *STTFallback) Transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, u)
	})
}
