// Package google provides an STT provider backed by Google Cloud
// Speech-to-Text (v1 synchronous Recognize). Credentials come from the
// standard Application Default Credentials chain, usually the
// GOOGLE_APPLICATION_CREDENTIALS environment variable.
package google

import (
	"context"
	"fmt"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/MrWong99/callintake/pkg/audio"
	"github.com/MrWong99/callintake/pkg/provider/stt"
)

const defaultLanguage = "ru-RU"

// Recognizer is the subset of the Speech client used by Provider.
type Recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
	Close() error
}

type clientRecognizer struct {
	c *speech.Client
}

func (r clientRecognizer) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	return r.c.Recognize(ctx, req)
}

func (r clientRecognizer) Close() error { return r.c.Close() }

// Option is a functional option for Provider.
type Option func(*Provider)

// WithLanguage sets the BCP-47 recognition language. Defaults to "ru-RU".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithAlternativeLanguages adds up to three extra languages Google may pick
// from, e.g. "kk-KZ" for bilingual callers.
func WithAlternativeLanguages(langs ...string) Option {
	return func(p *Provider) { p.altLanguages = langs }
}

// WithModel selects a recognition model such as "phone_call" or "latest_short".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithRecognizer injects a Recognizer instead of dialling Google. Used in tests.
func WithRecognizer(r Recognizer) Option {
	return func(p *Provider) { p.rec = r }
}

// Provider implements stt.Provider using Google Cloud Speech-to-Text.
type Provider struct {
	rec          Recognizer
	language     string
	altLanguages []string
	model        string
}

var _ stt.Provider = (*Provider)(nil)

// New creates a Provider. Unless WithRecognizer is given it opens a gRPC
// client, which requires valid credentials.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	p := &Provider{language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	if p.rec == nil {
		c, err := speech.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("stt/google: create client: %w", err)
		}
		p.rec = clientRecognizer{c: c}
	}
	return p, nil
}

// Close releases the underlying gRPC connection.
func (p *Provider) Close() error {
	return p.rec.Close()
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	start := time.Now()
	resp, err := p.rec.Recognize(ctx, p.buildRequest(u))
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("stt/google: recognize: %w", err)
	}

	var (
		parts []string
		conf  float64
		n     int
		lang  = p.language
	)
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		parts = append(parts, strings.TrimSpace(alts[0].GetTranscript()))
		conf += float64(alts[0].GetConfidence())
		n++
		if l := r.GetLanguageCode(); l != "" {
			lang = l
		}
	}
	out := stt.Transcript{
		Text:     strings.Join(parts, " "),
		Language: lang,
		Latency:  time.Since(start),
	}
	if n > 0 {
		out.Confidence = conf / float64(n)
	}
	return out, nil
}

func (p *Provider) buildRequest(u audio.Utterance) *speechpb.RecognizeRequest {
	channels := u.Channels
	if channels <= 0 {
		channels = 1
	}
	return &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(u.SampleRate),
			AudioChannelCount:          int32(channels),
			LanguageCode:               p.language,
			AlternativeLanguageCodes:   p.altLanguages,
			EnableAutomaticPunctuation: true,
			Model:                      p.model,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: u.PCM},
		},
	}
}
