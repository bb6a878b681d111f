package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/callintake/internal/app"
	"github.com/MrWong99/callintake/internal/config"
	"github.com/MrWong99/callintake/internal/resilience"
	"github.com/MrWong99/callintake/pkg/provider/llm"
	"github.com/MrWong99/callintake/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/callintake/pkg/provider/llm/openai"
	"github.com/MrWong99/callintake/pkg/provider/stt"
	"github.com/MrWong99/callintake/pkg/provider/stt/deepgram"
	googlestt "github.com/MrWong99/callintake/pkg/provider/stt/google"
	oastt "github.com/MrWong99/callintake/pkg/provider/stt/openai"
	"github.com/MrWong99/callintake/pkg/provider/stt/whisper"
	"github.com/MrWong99/callintake/pkg/provider/tts"
	"github.com/MrWong99/callintake/pkg/provider/tts/coqui"
	"github.com/MrWong99/callintake/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/callintake/pkg/provider/tts/openai"
	"github.com/MrWong99/callintake/pkg/provider/vad"
	"github.com/MrWong99/callintake/pkg/provider/vad/energy"
)

// googleDialTimeout bounds creating the Speech-to-Text gRPC client.
const googleDialTimeout = 30 * time.Second

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptionString("organization", ""); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if secs := entry.OptionInt("timeout_seconds", 0); secs > 0 {
			opts = append(opts, oallm.WithTimeout(time.Duration(secs)*time.Second))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile and
	// ollama go through any-llm. All take an optional key and base URL;
	// ollama is local and usually only needs the URL.
	for _, vendor := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "ollama",
	} {
		reg.RegisterLLM(vendor, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(vendor, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if entry.Model != "" {
			opts = append(opts, oastt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		if prompt := entry.OptionString("prompt", ""); prompt != "" {
			opts = append(opts, oastt.WithPrompt(prompt))
		}
		return oastt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// google authenticates with Application Default Credentials.
	reg.RegisterSTT("google", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []googlestt.Option
		if entry.Model != "" {
			opts = append(opts, googlestt.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, googlestt.WithLanguage(lang))
		}
		if alts := entry.OptionStrings("alternative_languages"); len(alts) > 0 {
			opts = append(opts, googlestt.WithAlternativeLanguages(alts...))
		}
		ctx, cancel := context.WithTimeout(context.Background(), googleDialTimeout)
		defer cancel()
		return googlestt.New(ctx, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.OptionString("api_mode", ""); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if rate := entry.OptionInt("output_sample_rate", 0); rate > 0 {
			opts = append(opts, coqui.WithOutputSampleRate(rate))
		}
		if secs := entry.OptionInt("timeout_seconds", 0); secs > 0 {
			opts = append(opts, coqui.WithTimeout(time.Duration(secs)*time.Second))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if outputFmt := entry.OptionString("output_format", ""); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if voice := entry.OptionString("voice_id", ""); voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if voice := entry.OptionString("voice", ""); voice != "" {
			opts = append(opts, oatts.WithVoice(voice))
		}
		if instr := entry.OptionString("instructions", ""); instr != "" {
			opts = append(opts, oatts.WithInstructions(instr))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// named pairs a created provider with its config name.
type named[T any] struct {
	name string
	p    T
}

// buildProviders instantiates all providers named in cfg using the registry.
// A slot with fallbacks becomes a failover group in config order. Providers
// holding connections are returned as closers.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, []io.Closer, error) {
	ps := &app.Providers{}
	var closers []io.Closer
	pc := cfg.Providers

	llms, err := createChain("llm", append([]config.ProviderEntry{pc.LLM}, pc.LLMFallbacks...), reg.CreateLLM, &closers)
	if err != nil {
		return nil, closers, err
	}
	if len(llms) > 0 {
		ps.LLM = llms[0].p
		if len(llms) > 1 {
			fb := resilience.NewLLMFallback(llms[0].p, llms[0].name, resilience.FallbackConfig{})
			for _, n := range llms[1:] {
				fb.AddFallback(n.name, n.p)
			}
			ps.LLM = fb
		}
	}

	analyzers, err := createChain("analyzer_llm", []config.ProviderEntry{pc.AnalyzerLLM}, reg.CreateLLM, &closers)
	if err != nil {
		return nil, closers, err
	}
	if len(analyzers) > 0 {
		ps.AnalyzerLLM = analyzers[0].p
	}

	stts, err := createChain("stt", append([]config.ProviderEntry{pc.STT}, pc.STTFallbacks...), reg.CreateSTT, &closers)
	if err != nil {
		return nil, closers, err
	}
	if len(stts) > 0 {
		ps.STT = stts[0].p
		if len(stts) > 1 {
			fb := resilience.NewSTTFallback(stts[0].p, stts[0].name, resilience.FallbackConfig{})
			for _, n := range stts[1:] {
				fb.AddFallback(n.name, n.p)
			}
			ps.STT = fb
		}
	}

	ttss, err := createChain("tts", append([]config.ProviderEntry{pc.TTS}, pc.TTSFallbacks...), reg.CreateTTS, &closers)
	if err != nil {
		return nil, closers, err
	}
	if len(ttss) > 0 {
		ps.TTS = ttss[0].p
		if len(ttss) > 1 {
			fb := resilience.NewTTSFallback(ttss[0].p, ttss[0].name, resilience.FallbackConfig{})
			for _, n := range ttss[1:] {
				fb.AddFallback(n.name, n.p)
			}
			ps.TTS = fb
		}
	}

	vads, err := createChain("vad", []config.ProviderEntry{pc.VAD}, reg.CreateVAD, &closers)
	if err != nil {
		return nil, closers, err
	}
	if len(vads) > 0 {
		ps.VAD = vads[0].p
	}

	return ps, closers, nil
}

// createChain builds every named entry in order. Entries with an empty name
// are skipped; unregistered names are logged and skipped.
func createChain[T any](kind string, entries []config.ProviderEntry, create func(config.ProviderEntry) (T, error), closers *[]io.Closer) ([]named[T], error) {
	var out []named[T]
	for _, entry := range entries {
		if entry.Name == "" {
			continue
		}
		p, err := create(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("provider not registered, skipping", "kind", kind, "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
		}
		if c, ok := any(p).(io.Closer); ok {
			*closers = append(*closers, c)
		}
		slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
		out = append(out, named[T]{name: entry.Name, p: p})
	}
	return out, nil
}
