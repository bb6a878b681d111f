package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/callintake/pkg/provider/llm"
	"github.com/MrWong99/callintake/pkg/provider/stt"
	"github.com/MrWong99/callintake/pkg/provider/tts"
	"github.com/MrWong99/callintake/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// Registry maps provider names to factories per provider kind. It is safe
// for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]Factory[llm.Provider]
	stt map[string]Factory[stt.Provider]
	tts map[string]Factory[tts.Provider]
	vad map[string]Factory[vad.Engine]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		llm: make(map[string]Factory[llm.Provider]),
		stt: make(map[string]Factory[stt.Provider]),
		tts: make(map[string]Factory[tts.Provider]),
		vad: make(map[string]Factory[vad.Engine]),
	}
}

// RegisterLLM registers an LLM factory, replacing any previous one.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) { register(r, r.llm, name, f) }

// RegisterSTT registers an STT factory.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) { register(r, r.stt, name, f) }

// RegisterTTS registers a TTS factory.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) { register(r, r.tts, name, f) }

// RegisterVAD registers a VAD engine factory.
func (r *Registry) RegisterVAD(name string, f Factory[vad.Engine]) { register(r, r.vad, name, f) }

// CreateLLM builds the LLM provider named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, "llm", entry)
}

// CreateSTT builds the STT provider named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(r, r.stt, "stt", entry)
}

// CreateTTS builds the TTS provider named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, r.tts, "tts", entry)
}

// CreateVAD builds the VAD engine named by entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	return create(r, r.vad, "vad", entry)
}

func register[T any](r *Registry, m map[string]Factory[T], name string, f Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m[name] = f
}

func create[T any](r *Registry, m map[string]Factory[T], kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	f, ok := m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return f(entry)
}

// OptionString returns entry.Options[key] as a string, or def.
func (e ProviderEntry) OptionString(key, def string) string {
	if v, ok := e.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// OptionInt returns entry.Options[key] as an int, or def. YAML integers
// decode as int; floats are truncated.
func (e ProviderEntry) OptionInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// OptionStrings returns entry.Options[key] as a string list, or nil.
func (e ProviderEntry) OptionStrings(key string) []string {
	switch v := e.Options[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}
