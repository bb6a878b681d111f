// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Result: stt.Transcript{Text: "у меня пожар"}}
//	t, _ := p.Transcribe(ctx, utterance)
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/callintake/pkg/audio"
	"github.com/MrWong99/callintake/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	Ctx       context.Context
	Utterance audio.Utterance
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// TranscribeFunc, if set, computes the result and takes precedence over
	// Result and Err.
	TranscribeFunc func(ctx context.Context, u audio.Utterance) (stt.Transcript, error)

	// Result is returned by Transcribe.
	Result stt.Transcript

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// TranscribeCalls records every call in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the configured result.
func (p *Provider) Transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Utterance: u})
	fn, res, err := p.TranscribeFunc, p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, u)
	}
	return res, err
}

// Calls returns a snapshot of the recorded calls. Thread-safe.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.TranscribeCalls)
}

var _ stt.Provider = (*Provider)(nil)
