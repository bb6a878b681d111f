// Package openai provides a TTS provider backed by the OpenAI speech
// endpoint. Audio is requested in the raw "pcm" format, which the API
// delivers as 24 kHz 16-bit little-endian mono.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/callintake/pkg/provider/tts"
)

const (
	defaultModel = "gpt-4o-mini-tts"
	defaultVoice = "alloy"

	// pcmSampleRate is fixed by the API for the pcm response format.
	pcmSampleRate = 24000
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithModel sets the speech model (e.g. "tts-1", "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithVoice sets the voice used when tts.Voice.ID is empty.
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// WithInstructions sets delivery instructions for models that accept them,
// e.g. "calm, clear, steady pace".
func WithInstructions(s string) Option {
	return func(p *Provider) { p.instructions = s }
}

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider implements tts.Provider.
type Provider struct {
	client       oai.Client
	model        string
	voice        string
	instructions string
	baseURL      string
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("tts/openai: apiKey must not be empty")
	}
	p := &Provider{model: defaultModel, voice: defaultVoice}
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

// Synthesize implements tts.Provider. Voice.Language is ignored; the model
// follows the language of the text.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (tts.Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.Audio{}, errors.New("tts/openai: text must not be empty")
	}
	v := voice.ID
	if v == "" {
		v = p.voice
	}

	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(v),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.Speed > 0 {
		params.Speed = oai.Float(voice.Speed)
	}
	if p.instructions != "" {
		params.Instructions = oai.String(p.instructions)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("tts/openai: speech: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("tts/openai: read audio: %w", err)
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	if len(pcm) == 0 {
		return tts.Audio{}, errors.New("tts/openai: empty audio response")
	}
	return tts.Audio{PCM: pcm, SampleRate: pcmSampleRate}, nil
}
