package config_test

import (
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/callintake/internal/config"
)

func defaulted() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(defaulted(), defaulted())
	if d.Changed() || len(d.RestartRequired) != 0 {
		t.Errorf("Diff(same) = %+v, want empty", d)
	}
}

func TestDiff_HotFields(t *testing.T) {
	t.Parallel()

	old, new := defaulted(), defaulted()
	new.Server.LogLevel = config.LogDebug
	new.Dispatcher.FallbackReply = "Оставайтесь на линии."
	new.Pipeline.STTTimeout = 3 * time.Second

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v/%q, want true/debug", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.DispatcherChanged {
		t.Error("DispatcherChanged = false, want true")
	}
	if !d.PipelineChanged {
		t.Error("PipelineChanged = false, want true")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	old, new := defaulted(), defaulted()
	new.Server.ListenAddr = ":9999"
	new.Providers.STT.Name = "deepgram"
	new.Cases.PostgresDSN = "postgres://db/cases"

	d := config.Diff(old, new)
	for _, want := range []string{"server", "providers", "cases"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired = %v, missing %q", d.RestartRequired, want)
		}
	}
	if d.Changed() {
		t.Errorf("Changed() = true for cold-only changes")
	}
}

func TestLogLevel_Level(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.in.Level(); got != tt.want {
			t.Errorf("LogLevel(%q).Level() = %v, want %v", tt.in, got, tt.want)
		}
	}
}
