// Package openai provides an STT provider backed by the OpenAI audio
// transcription endpoint (whisper-1, gpt-4o-transcribe, or any compatible
// server such as faster-whisper-server via WithBaseURL).
package openai

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/callintake/pkg/audio"
	"github.com/MrWong99/callintake/pkg/provider/stt"
)

const (
	defaultModel    = "whisper-1"
	defaultLanguage = "ru"
)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithModel sets the transcription model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the ISO-639-1 language hint. Empty lets the model detect.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithPrompt sets a vocabulary prompt that biases recognition, e.g. street
// names of the service area.
func WithPrompt(prompt string) Option {
	return func(p *Provider) { p.prompt = prompt }
}

// Provider implements stt.Provider.
type Provider struct {
	client   oai.Client
	model    string
	language string
	baseURL  string
	prompt   string
}

var _ stt.Provider = (*Provider)(nil)

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("stt/openai: apiKey must not be empty")
	}
	p := &Provider{model: defaultModel, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	start := time.Now()
	channels := u.Channels
	if channels <= 0 {
		channels = 1
	}
	wav := audio.EncodeWAV(u.PCM, u.SampleRate, channels)

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
		Model: oai.AudioModel(p.model),
	}
	if p.language != "" {
		params.Language = oai.String(p.language)
	}
	if p.prompt != "" {
		params.Prompt = oai.String(p.prompt)
	}

	res, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("stt/openai: transcribe: %w", err)
	}
	return stt.Transcript{
		Text:     strings.TrimSpace(res.Text),
		Language: p.language,
		Latency:  time.Since(start),
	}, nil
}
