package config_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/callintake/internal/config"
	"github.com/MrWong99/callintake/pkg/audio"
	"github.com/MrWong99/callintake/pkg/provider/llm"
	llmmock "github.com/MrWong99/callintake/pkg/provider/llm/mock"
	"github.com/MrWong99/callintake/pkg/provider/stt"
	sttmock "github.com/MrWong99/callintake/pkg/provider/stt/mock"
	"github.com/MrWong99/callintake/pkg/provider/tts"
	ttsmock "github.com/MrWong99/callintake/pkg/provider/tts/mock"
	"github.com/MrWong99/callintake/pkg/provider/vad"
	"github.com/MrWong99/callintake/pkg/provider/vad/energy"
)

func TestRegistry_CreateRegistered(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	var gotEntry config.ProviderEntry
	r.RegisterLLM("fake", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return &llmmock.Provider{}, nil
	})
	r.RegisterSTT("fake", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{Result: stt.Transcript{Text: "алло"}}, nil
	})
	r.RegisterTTS("fake", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })
	r.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) { return energy.New(), nil })

	if _, err := r.CreateLLM(config.ProviderEntry{Name: "fake", Model: "m1"}); err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if gotEntry.Model != "m1" {
		t.Errorf("factory entry model = %q, want %q", gotEntry.Model, "m1")
	}

	s, err := r.CreateSTT(config.ProviderEntry{Name: "fake"})
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	tr, _ := s.Transcribe(context.Background(), audio.Utterance{})
	if tr.Text != "алло" {
		t.Errorf("Transcribe text = %q, want %q", tr.Text, "алло")
	}
	if _, err := r.CreateTTS(config.ProviderEntry{Name: "fake"}); err != nil {
		t.Errorf("CreateTTS: %v", err)
	}
	if _, err := r.CreateVAD(config.ProviderEntry{Name: "energy"}); err != nil {
		t.Errorf("CreateVAD: %v", err)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	_, err := r.CreateTTS(config.ProviderEntry{Name: "missing"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestProviderEntry_Options(t *testing.T) {
	t.Parallel()

	e := config.ProviderEntry{Options: map[string]any{
		"mode":  "xtts",
		"rate":  24000,
		"ratef": 22050.0,
		"langs": []any{"ru", "uk"},
	}}
	if got := e.OptionString("mode", "standard"); got != "xtts" {
		t.Errorf("OptionString(mode) = %q, want %q", got, "xtts")
	}
	if got := e.OptionString("missing", "standard"); got != "standard" {
		t.Errorf("OptionString(missing) = %q, want %q", got, "standard")
	}
	if got := e.OptionInt("rate", 0); got != 24000 {
		t.Errorf("OptionInt(rate) = %d, want 24000", got)
	}
	if got := e.OptionInt("ratef", 0); got != 22050 {
		t.Errorf("OptionInt(ratef) = %d, want 22050", got)
	}
	if got := e.OptionStrings("langs"); len(got) != 2 || got[1] != "uk" {
		t.Errorf("OptionStrings(langs) = %v, want [ru uk]", got)
	}
}
