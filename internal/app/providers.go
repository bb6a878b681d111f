package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/callintake/internal/resilience"
	"github.com/MrWong99/callintake/pkg/audio"
	"github.com/MrWong99/callintake/pkg/provider/llm"
	"github.com/MrWong99/callintake/pkg/provider/stt"
	"github.com/MrWong99/callintake/pkg/provider/tts"
	"github.com/MrWong99/callintake/pkg/provider/vad"
	"github.com/MrWong99/callintake/pkg/provider/vad/energy"
)

// ErrNotConfigured is returned by stand-ins for provider slots left empty.
var ErrNotConfigured = errors.New("app: provider not configured")

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM llm.Provider

	// AnalyzerLLM serves incident extraction. Nil shares LLM.
	AnalyzerLLM llm.Provider

	STT stt.Provider
	TTS tts.Provider
	VAD vad.Engine
}

// present reports which required slots are filled, for readiness.
func (p *Providers) present() map[string]bool {
	return map[string]bool{
		"llm": p.LLM != nil,
		"stt": p.STT != nil,
		"tts": p.TTS != nil,
	}
}

// withDefaults returns a copy with every empty slot replaced. Missing model
// backends become stand-ins that fail permanently, so every utterance takes
// its fallback path instead of crashing the pipeline.
func (p *Providers) withDefaults() Providers {
	out := *p
	if out.LLM == nil {
		out.LLM = unconfigured{slot: "llm"}
	}
	if out.AnalyzerLLM == nil {
		out.AnalyzerLLM = out.LLM
	}
	if out.STT == nil {
		out.STT = unconfigured{slot: "stt"}
	}
	if out.TTS == nil {
		out.TTS = unconfigured{slot: "tts"}
	}
	if out.VAD == nil {
		out.VAD = energy.New()
	}
	return out
}

type unconfigured struct{ slot string }

var (
	_ llm.Provider = unconfigured{}
	_ stt.Provider = unconfigured{}
	_ tts.Provider = unconfigured{}
)

func (u unconfigured) err() error {
	return resilience.Permanent(fmt.Errorf("%w: %s", ErrNotConfigured, u.slot))
}

func (u unconfigured) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, u.err()
}

func (u unconfigured) Transcribe(context.Context, audio.Utterance) (stt.Transcript, error) {
	return stt.Transcript{}, u.err()
}

func (u unconfigured) Synthesize(context.Context, string, tts.Voice) (tts.Audio, error) {
	return tts.Audio{}, u.err()
}
