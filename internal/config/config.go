// Package config provides the configuration schema, loader, provider
// registry and hot-reload watcher of the call intake server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Event publisher backends.
const (
	EventsLog   = "log"
	EventsKafka = "kafka"
	EventsAMQP  = "amqp"
)

// Config is the root configuration, loaded with [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Segmenter  SegmenterConfig  `yaml:"segmenter"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Analyzer   AnalyzerConfig   `yaml:"analyzer"`
	Cases      CasesConfig      `yaml:"cases"`
	Registrar  RegistrarConfig  `yaml:"registrar"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Events     EventsConfig     `yaml:"events"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address, e.g. ":8080".
	ListenAddr string    `yaml:"listen_addr"`
	LogLevel   LogLevel  `yaml:"log_level"`
	LogFormat  LogFormat `yaml:"log_format"`

	// ShutdownTimeout bounds the drain of open calls on exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AllowedOrigins lists browser origins accepted on /ws. Empty means
	// same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds PEM certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects a registered implementation for each external
// service. The *Fallbacks lists are tried in order when the primary fails or
// its circuit breaker is open.
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	// AnalyzerLLM serves incident analysis. Empty means reuse LLM.
	AnalyzerLLM ProviderEntry `yaml:"analyzer_llm"`
	STT         ProviderEntry `yaml:"stt"`
	TTS         ProviderEntry `yaml:"tts"`
	VAD         ProviderEntry `yaml:"vad"`

	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered implementation, e.g. "openai", "whisper".
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds implementation-specific values.
	Options map[string]any `yaml:"options"`
}

// PipelineConfig tunes per-utterance processing.
type PipelineConfig struct {
	// TargetSampleRate is the rate every inbound frame is converted to.
	TargetSampleRate int `yaml:"target_sample_rate"`

	STTTimeout       time.Duration `yaml:"stt_timeout"`
	TTSTimeout       time.Duration `yaml:"tts_timeout"`
	AnalyzerTimeout  time.Duration `yaml:"analyzer_timeout"`
	ResponderTimeout time.Duration `yaml:"responder_timeout"`

	// Retries is the retry budget per external call, 0 or 1. Nil means 1.
	Retries *int `yaml:"retries"`

	// MinTranscriptChars drops transcripts shorter than this many runes.
	MinTranscriptChars int `yaml:"min_transcript_chars"`

	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// QueueDepth bounds utterances waiting per session.
	QueueDepth int `yaml:"queue_depth"`

	FinalizeTimeout time.Duration `yaml:"finalize_timeout"`
}

// RetryBudget returns the configured retry count.
func (p PipelineConfig) RetryBudget() int {
	if p.Retries == nil {
		return 1
	}
	return *p.Retries
}

// SegmenterConfig tunes voice activity detection and utterance boundaries.
type SegmenterConfig struct {
	CalibrationWindow time.Duration `yaml:"calibration_window"`
	// Margin and Floor are PCM16 RMS units.
	Margin float64 `yaml:"margin"`
	Floor  float64 `yaml:"floor"`

	Window       time.Duration `yaml:"window"`
	SilenceGrace time.Duration `yaml:"silence_grace"`
	MaxSpeech    time.Duration `yaml:"max_speech"`
	MinUtterance time.Duration `yaml:"min_utterance"`
}

// DispatcherConfig configures the spoken responder.
type DispatcherConfig struct {
	// SystemPrompt replaces the built-in persona when set.
	SystemPrompt  string  `yaml:"system_prompt"`
	FallbackReply string  `yaml:"fallback_reply"`
	HistoryLimit  int     `yaml:"history_limit"`
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`

	Voice VoiceConfig `yaml:"voice"`
}

// VoiceConfig selects the synthesized voice.
type VoiceConfig struct {
	ID       string  `yaml:"id"`
	Language string  `yaml:"language"`
	Speed    float64 `yaml:"speed"`
}

// AnalyzerConfig configures incident extraction.
type AnalyzerConfig struct {
	// Prompt replaces the built-in analysis prompt when set.
	Prompt          string  `yaml:"prompt"`
	DefaultDistrict string  `yaml:"default_district"`
	Temperature     float64 `yaml:"temperature"`
	MaxTokens       int     `yaml:"max_tokens"`

	// Districts lists the canonical district names. Extracted districts are
	// matched against it phonetically; empty keeps them as heard.
	Districts []string `yaml:"districts"`
}

// CasesConfig selects the case store. An empty DSN keeps cases in memory.
type CasesConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

// RegistrarConfig configures external incident registration. An empty
// BaseURL disables it.
type RegistrarConfig struct {
	BaseURL             string        `yaml:"base_url"`
	OrganizationID      string        `yaml:"organization_id"`
	ClassificationCodes []string      `yaml:"classification_codes"`
	ReferencePrefix     string        `yaml:"reference_prefix"`
	Timeout             time.Duration `yaml:"timeout"`
}

// ArchiveConfig configures audio archiving. An empty Dir disables it.
type ArchiveConfig struct {
	Dir string `yaml:"dir"`
}

// EventsConfig selects the lifecycle event publisher.
type EventsConfig struct {
	// Backend is "log" (default), "kafka" or "amqp".
	Backend string      `yaml:"backend"`
	Kafka   KafkaConfig `yaml:"kafka"`
	AMQP    AMQPConfig  `yaml:"amqp"`
}

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// AMQPConfig configures the AMQP publisher.
type AMQPConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}
