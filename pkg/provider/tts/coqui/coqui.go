// Package coqui provides a TTS provider backed by a locally running Coqui TTS
// server. It implements the tts.Provider interface.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts with
//     URL query parameters.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is performed
//     via POST /tts_to_audio/ with a JSON body naming a reference speaker WAV.
//
// Both servers synthesise one request at a time and slow down sharply on long
// inputs, so a reply is split into sentences which are rendered concurrently
// (bounded by sentenceLookahead) and stitched back together in order.
//
// Typical usage:
//
//	p, err := coqui.New("http://localhost:5002",
//	    coqui.WithLanguage("ru"),
//	    coqui.WithOutputSampleRate(16000),
//	)
//	out, err := p.Synthesize(ctx, "Служба 102. Говорите.", tts.Voice{})
package coqui

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
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callintake/pkg/audio"
	"github.com/MrWong99/callintake/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// ---- constants ----

const (
	defaultLanguage = "ru"
	defaultTimeout  = 30 * time.Second
	ttsEndpoint     = "/tts_to_audio/"
	apiTTSEndpoint  = "/api/tts"

	// sentenceLookahead bounds the number of in-flight synthesis requests for
	// one reply.
	sentenceLookahead = 4
)

// ---- APIMode ----

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	// This is the default mode.
	APIModeStandard APIMode = "standard"
)

// ---- options ----

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the default language code sent to the TTS server.
// Defaults to "ru". A non-empty tts.Voice.Language takes precedence.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithOutputSampleRate resamples synthesised PCM to rate. When 0 (default)
// the model's native rate is kept.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		p.outputRate = rate
	}
}

// ---- Provider ----

// Provider implements tts.Provider backed by a Coqui TTS server.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
	outputRate int
}

// New creates a new Coqui Provider that targets the TTS server at serverURL
// (e.g., "http://localhost:5002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("tts/coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.apiMode {
	case APIModeStandard, APIModeXTTS:
	default:
		return nil, fmt.Errorf("tts/coqui: unknown api mode %q", p.apiMode)
	}
	return p, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// segment is the synthesised audio of one sentence.
type segment struct {
	samples []int16
	rate    int
}

// ---- Synthesize ----

// Synthesize renders text sentence by sentence and returns the concatenated
// mono PCM. Voice.Speed is not supported by either Coqui server and is
// ignored.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (tts.Audio, error) {
	// XTTS always needs a reference speaker; the standard server works
	// without one for single-speaker models.
	if voice.ID == "" && p.apiMode == APIModeXTTS {
		return tts.Audio{}, errors.New("tts/coqui: voice.ID must not be empty (required for XTTS mode)")
	}
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return tts.Audio{}, errors.New("tts/coqui: text must not be empty")
	}
	lang := voice.Language
	if lang == "" {
		lang = p.language
	}

	segments := make([]segment, len(sentences))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sentenceLookahead)
	for i, s := range sentences {
		g.Go(func() error {
			seg, err := p.synthesize(gctx, s, voice.ID, lang)
			if err != nil {
				return err
			}
			segments[i] = seg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return tts.Audio{}, err
	}

	rate := p.outputRate
	if rate == 0 {
		rate = segments[0].rate
	}
	var pcm []byte
	for _, seg := range segments {
		pcm = append(pcm, audio.SamplesToBytes(audio.Resample(seg.samples, seg.rate, rate))...)
	}
	return tts.Audio{PCM: pcm, SampleRate: rate}, nil
}

// synthesize dispatches to the implementation for the configured API mode.
func (p *Provider) synthesize(ctx context.Context, sentence, voiceID, lang string) (segment, error) {
	var req *http.Request
	var err error
	if p.apiMode == APIModeXTTS {
		req, err = p.xttsRequest(ctx, sentence, voiceID, lang)
	} else {
		req, err = p.standardRequest(ctx, sentence, voiceID, lang)
	}
	if err != nil {
		return segment{}, err
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return segment{}, fmt.Errorf("tts/coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return segment{}, fmt.Errorf("tts/coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return segment{}, fmt.Errorf("tts/coqui: read WAV response: %w", err)
	}
	return decodeWAV(wav)
}

// xttsRequest builds a POST /tts_to_audio/ call (XTTS v2 mode).
func (p *Provider) xttsRequest(ctx context.Context, sentence, voiceID, lang string) (*http.Request, error) {
	data, err := json.Marshal(ttsRequest{
		Text:       sentence,
		SpeakerWav: voiceID,
		Language:   lang,
	})
	if err != nil {
		return nil, fmt.Errorf("tts/coqui: marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("tts/coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// standardRequest builds a GET /api/tts call (standard server mode).
func (p *Provider) standardRequest(ctx context.Context, sentence, voiceID, lang string) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", sentence)
	if voiceID != "" {
		params.Set("speaker_id", voiceID)
	}
	if lang != "" {
		params.Set("language_id", lang)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("tts/coqui: create tts request: %w", err)
	}
	return req, nil
}

// ---- helpers ----

// decodeWAV extracts mono 16-bit samples from a WAV response, downmixing
// stereo output.
func decodeWAV(wav []byte) (segment, error) {
	info, pcm, err := audio.ParseWAV(wav)
	if err != nil {
		return segment{}, fmt.Errorf("tts/coqui: %w", err)
	}
	if info.BitsPerSample != 16 {
		return segment{}, fmt.Errorf("tts/coqui: unsupported bits per sample %d", info.BitsPerSample)
	}
	samples, err := audio.BytesToSamples(pcm)
	if err != nil {
		return segment{}, fmt.Errorf("tts/coqui: %w", err)
	}
	switch info.Channels {
	case 1:
	case 2:
		samples = audio.Downmix(samples)
	default:
		return segment{}, fmt.Errorf("tts/coqui: unsupported channel count %d", info.Channels)
	}
	return segment{samples: samples, rate: info.SampleRate}, nil
}

// splitSentences cuts text at sentence boundaries, dropping empty pieces.
func splitSentences(text string) []string {
	var out []string
	for {
		idx := findSentenceBoundary(text)
		if idx < 0 {
			break
		}
		if s := strings.TrimSpace(text[:idx+1]); s != "" {
			out = append(out, s)
		}
		text = text[idx+1:]
	}
	if s := strings.TrimSpace(text); s != "" {
		out = append(out, s)
	}
	return out
}

// findSentenceBoundary returns the index of the first '.', '!' or '?' that is
// followed by whitespace or the end of s, or -1.
func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}
