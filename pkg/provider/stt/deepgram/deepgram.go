// Package deepgram provides an STT provider backed by Deepgram's pre-recorded
// audio API (POST /v1/listen). Each utterance is sent as a WAV body and the
// best alternative of the first channel is returned.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/callintake/pkg/audio"
	"github.com/MrWong99/callintake/pkg/provider/stt"
)

const (
	defaultBaseURL  = "https://api.deepgram.com"
	defaultModel    = "nova-2"
	defaultLanguage = "ru"
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g. "nova-2", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithBaseURL overrides the API host, mainly for tests and on-prem installs.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by Deepgram.
type Provider struct {
	apiKey     string
	model      string
	language   string
	baseURL    string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("stt/deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// listenResponse is the subset of the pre-recorded response we read.
type listenResponse struct {
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, u audio.Utterance) (stt.Transcript, error) {
	start := time.Now()
	channels := u.Channels
	if channels <= 0 {
		channels = 1
	}

	q := url.Values{}
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	endpoint := p.baseURL + "/v1/listen?" + q.Encode()

	body := bytes.NewReader(audio.EncodeWAV(u.PCM, u.SampleRate, channels))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("stt/deepgram: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("stt/deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return stt.Transcript{}, fmt.Errorf("stt/deepgram: HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var lr listenResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return stt.Transcript{}, fmt.Errorf("stt/deepgram: decode response: %w", err)
	}

	out := stt.Transcript{Language: p.language, Latency: time.Since(start)}
	if len(lr.Results.Channels) > 0 {
		ch := lr.Results.Channels[0]
		if ch.DetectedLanguage != "" {
			out.Language = ch.DetectedLanguage
		}
		if len(ch.Alternatives) > 0 {
			out.Text = strings.TrimSpace(ch.Alternatives[0].Transcript)
			out.Confidence = ch.Alternatives[0].Confidence
		}
	}
	return out, nil
}
