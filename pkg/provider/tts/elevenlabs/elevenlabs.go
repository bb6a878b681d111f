// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs stream-input WebSocket API. It implements the tts.Provider
// interface.
//
// The socket is opened per reply: the begin-of-input message authenticates
// and configures the stream, the reply text follows, and an empty flush
// message asks the server to render what it has. Audio chunks are collected
// until the server marks the stream final or closes the socket.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/callintake/pkg/provider/tts"
)

const (
	defaultBaseURL   = "wss://api.elevenlabs.io"
	wsPathFmt        = "/v1/text-to-speech/%s/stream-input"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format. Only "pcm_<rate>" formats
// are accepted, since the pipeline works on raw PCM.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithVoice sets the voice used when tts.Voice.ID is empty.
func WithVoice(id string) Option {
	return func(p *Provider) {
		p.defaultVoice = id
	}
}

// WithBaseURL overrides the WebSocket host (ws:// or wss://).
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	sampleRate   int
	defaultVoice string
	baseURL      string
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("tts/elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		baseURL:      defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	rate, err := pcmRate(p.outputFormat)
	if err != nil {
		return nil, err
	}
	p.sampleRate = rate
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent for a text fragment or the flush.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// audioResponse is the JSON message received from ElevenLabs.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// boiMessage is the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// Synthesize opens a stream-input socket, sends text and returns the
// collected PCM.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (tts.Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.Audio{}, errors.New("tts/elevenlabs: text must not be empty")
	}
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = p.defaultVoice
	}
	if voiceID == "" {
		return tts.Audio{}, errors.New("tts/elevenlabs: voice ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voiceID, voice.Language), nil)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("tts/elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 22)

	boi := boiMessage{
		Text: " ", // ElevenLabs requires a non-empty first text value
		VoiceSettings: &voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Speed:           voice.Speed,
		},
		XiAPIKey:     p.apiKey,
		OutputFormat: p.outputFormat,
	}
	// The server buffers text until it sees a trailing space.
	for _, msg := range []any{boi, textMessage{Text: text + " "}, textMessage{Text: ""}} {
		data, err := json.Marshal(msg)
		if err != nil {
			return tts.Audio{}, fmt.Errorf("tts/elevenlabs: marshal: %w", err)
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return tts.Audio{}, fmt.Errorf("tts/elevenlabs: write: %w", err)
		}
	}

	var pcm []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return tts.Audio{}, fmt.Errorf("tts/elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return tts.Audio{}, fmt.Errorf("tts/elevenlabs: server error: %s: %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return tts.Audio{}, fmt.Errorf("tts/elevenlabs: decode audio: %w", err)
			}
			pcm = append(pcm, chunk...)
		}
		if resp.IsFinal {
			break
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	if len(pcm) == 0 {
		return tts.Audio{}, errors.New("tts/elevenlabs: no audio received")
	}
	return tts.Audio{PCM: pcm, SampleRate: p.sampleRate}, nil
}

// streamURL constructs the WebSocket URL for a voice.
func (p *Provider) streamURL(voiceID, language string) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	if language != "" {
		q.Set("language_code", language)
	}
	return p.baseURL + fmt.Sprintf(wsPathFmt, url.PathEscape(voiceID)) + "?" + q.Encode()
}

// pcmRate extracts the sample rate from an output format like "pcm_16000".
func pcmRate(format string) (int, error) {
	rate, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("tts/elevenlabs: output format %q is not raw PCM", format)
	}
	n, err := strconv.Atoi(rate)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("tts/elevenlabs: invalid sample rate in output format %q", format)
	}
	return n, nil
}
