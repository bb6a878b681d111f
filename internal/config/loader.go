package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the built-in provider names per kind. [Validate]
// warns about names outside this list since a custom factory may still be
// registered under them.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"whisper", "openai", "deepgram", "google"},
	"tts": {"coqui", "elevenlabs", "openai"},
	"vad": {"energy"},
}

// envRef matches ${VAR} references.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces every ${VAR} in data with the value of the environment
// variable VAR. Unset variables expand to "". A bare $ is left alone so
// prompts may contain dollar signs.
func ExpandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads, expands, decodes, defaults and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r. Unknown keys are errors.
// An empty document yields a fully defaulted config.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(ExpandEnv(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every zero field that has a default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	setDefault(&s.ListenAddr, ":8080")
	setDefault(&s.LogLevel, LogInfo)
	setDefault(&s.LogFormat, LogFormatText)
	setDefault(&s.ShutdownTimeout, 30*time.Second)

	setDefault(&cfg.Providers.VAD.Name, "energy")

	p := &cfg.Pipeline
	setDefault(&p.TargetSampleRate, 16000)
	setDefault(&p.STTTimeout, 20*time.Second)
	setDefault(&p.TTSTimeout, 20*time.Second)
	setDefault(&p.AnalyzerTimeout, 15*time.Second)
	setDefault(&p.ResponderTimeout, 15*time.Second)
	setDefault(&p.MinTranscriptChars, 2)
	setDefault(&p.IdleTimeout, 60*time.Second)
	setDefault(&p.SweepInterval, 10*time.Second)
	setDefault(&p.QueueDepth, 8)
	setDefault(&p.FinalizeTimeout, 30*time.Second)

	sg := &cfg.Segmenter
	setDefault(&sg.CalibrationWindow, time.Second)
	setDefault(&sg.Margin, 200)
	setDefault(&sg.Floor, 300)
	setDefault(&sg.Window, 20*time.Millisecond)
	setDefault(&sg.SilenceGrace, 800*time.Millisecond)
	setDefault(&sg.MaxSpeech, 7*time.Second)
	setDefault(&sg.MinUtterance, 300*time.Millisecond)

	d := &cfg.Dispatcher
	setDefault(&d.HistoryLimit, 20)
	setDefault(&d.Temperature, 0.5)
	setDefault(&d.MaxTokens, 150)
	setDefault(&d.Voice.Language, "ru")
	setDefault(&d.Voice.Speed, 1.0)

	a := &cfg.Analyzer
	setDefault(&a.DefaultDistrict, "Заводской район")
	setDefault(&a.Temperature, 0.1)
	setDefault(&a.MaxTokens, 500)

	setDefault(&cfg.Registrar.ReferencePrefix, "102")
	setDefault(&cfg.Registrar.Timeout, 15*time.Second)

	e := &cfg.Events
	setDefault(&e.Backend, EventsLog)
	setDefault(&e.Kafka.Topic, "callintake.events")
	setDefault(&e.AMQP.Queue, "callintake.events")
}

func setDefault[T comparable](dst *T, v T) {
	var zero T
	if *dst == zero {
		*dst = v
	}
}

// Validate checks cfg for coherence and returns every problem joined.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		add("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		add("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat)
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		add("server.tls requires both cert_file and key_file")
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.AnalyzerLLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	for kind, list := range map[string][]ProviderEntry{
		"llm": cfg.Providers.LLMFallbacks,
		"stt": cfg.Providers.STTFallbacks,
		"tts": cfg.Providers.TTSFallbacks,
	} {
		for i, e := range list {
			if e.Name == "" {
				add("providers.%s_fallbacks[%d].name is required", kind, i)
			}
			validateProviderName(kind, e.Name)
		}
	}
	for kind, name := range map[string]string{
		"llm": cfg.Providers.LLM.Name,
		"stt": cfg.Providers.STT.Name,
		"tts": cfg.Providers.TTS.Name,
	} {
		if name == "" {
			slog.Warn("provider not configured; the stage will always use its fallback", "kind", kind)
		}
	}

	p := cfg.Pipeline
	if p.TargetSampleRate < 0 {
		add("pipeline.target_sample_rate must be positive, got %d", p.TargetSampleRate)
	}
	for name, d := range map[string]time.Duration{
		"stt_timeout":       p.STTTimeout,
		"tts_timeout":       p.TTSTimeout,
		"analyzer_timeout":  p.AnalyzerTimeout,
		"responder_timeout": p.ResponderTimeout,
		"idle_timeout":      p.IdleTimeout,
		"sweep_interval":    p.SweepInterval,
		"finalize_timeout":  p.FinalizeTimeout,
	} {
		if d < 0 {
			add("pipeline.%s must not be negative, got %s", name, d)
		}
	}
	if r := p.RetryBudget(); r < 0 || r > 1 {
		add("pipeline.retries must be 0 or 1, got %d", r)
	}
	if p.MinTranscriptChars < 0 {
		add("pipeline.min_transcript_chars must not be negative, got %d", p.MinTranscriptChars)
	}
	if p.QueueDepth < 0 {
		add("pipeline.queue_depth must not be negative, got %d", p.QueueDepth)
	}

	sg := cfg.Segmenter
	if sg.Margin < 0 || sg.Floor < 0 {
		add("segmenter.margin and segmenter.floor must not be negative")
	}
	if sg.MinUtterance > 0 && sg.MaxSpeech > 0 && sg.MinUtterance >= sg.MaxSpeech {
		add("segmenter.min_utterance %s must be shorter than max_speech %s", sg.MinUtterance, sg.MaxSpeech)
	}

	d := cfg.Dispatcher
	if d.Temperature < 0 || d.Temperature > 2 {
		add("dispatcher.temperature %.2f is out of range [0, 2]", d.Temperature)
	}
	if d.HistoryLimit < 0 {
		add("dispatcher.history_limit must not be negative, got %d", d.HistoryLimit)
	}
	if d.Voice.Speed != 0 && (d.Voice.Speed < 0.5 || d.Voice.Speed > 2.0) {
		add("dispatcher.voice.speed %.2f is out of range [0.5, 2.0]", d.Voice.Speed)
	}
	if a := cfg.Analyzer; a.Temperature < 0 || a.Temperature > 2 {
		add("analyzer.temperature %.2f is out of range [0, 2]", a.Temperature)
	}

	if prefix := cfg.Registrar.ReferencePrefix; len(prefix) >= 15 {
		add("registrar.reference_prefix %q must be shorter than 15 characters", prefix)
	} else {
		for _, r := range prefix {
			if r < '0' || r > '9' {
				add("registrar.reference_prefix %q must contain only digits", prefix)
				break
			}
		}
	}

	switch e := cfg.Events; e.Backend {
	case "", EventsLog:
	case EventsKafka:
		if len(e.Kafka.Brokers) == 0 {
			add("events.kafka.brokers is required when events.backend is kafka")
		}
	case EventsAMQP:
		if e.AMQP.URL == "" {
			add("events.amqp.url is required when events.backend is amqp")
		}
	default:
		add("events.backend %q is invalid; valid values: log, kafka, amqp", e.Backend)
	}

	return errors.Join(errs...)
}

func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidProviderNames[kind], name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a custom provider",
		"kind", kind,
		"name", name,
		"known", ValidProviderNames[kind],
	)
}
