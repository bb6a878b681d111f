// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Result: tts.Audio{PCM: pcm, SampleRate: 16000}}
//	out, _ := p.Synthesize(ctx, "Служба 102.", tts.Voice{})
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/callintake/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Ctx   context.Context
	Text  string
	Voice tts.Voice
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SynthesizeFunc, if set, computes the result and takes precedence over
	// Result and Err.
	SynthesizeFunc func(ctx context.Context, text string, voice tts.Voice) (tts.Audio, error)

	// Result is returned by Synthesize.
	Result tts.Audio

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// SynthesizeCalls records every call in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns the configured result.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (tts.Audio, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	fn, res, err := p.SynthesizeFunc, p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, voice)
	}
	return res, err
}

// Calls returns a snapshot of the recorded calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.SynthesizeCalls)
}

var _ tts.Provider = (*Provider)(nil)
