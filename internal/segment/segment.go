// Package segment turns a continuous stream of caller audio into discrete
// utterances.
//
// A [Segmenter] cuts incoming frames into fixed analysis windows, asks a VAD
// session to classify each window, and runs a small idle/speaking state
// machine over the results. All timing is measured in audio time (samples
// consumed), never wall-clock time, so results do not depend on how fast the
// transport delivers chunks.
//
// An utterance ends when silence has lasted for SilenceGrace, or when the
// speech span reaches MaxSpeech. Trailing silence is trimmed from the
// emitted buffer, and spans shorter than MinUtterance are discarded as noise.
package segment

import (
	"log/slog"
	"time"

	"github.com/MrWong99/callintake/pkg/audio"
	"github.com/MrWong99/callintake/pkg/provider/vad"
)

// Default timing parameters.
const (
	DefaultWindow       = 20 * time.Millisecond
	DefaultSilenceGrace = 800 * time.Millisecond
	DefaultMaxSpeech    = 7 * time.Second
	DefaultMinUtterance = 300 * time.Millisecond
)

// Config controls segmentation. Zero durations are replaced by defaults.
type Config struct {
	// SampleRate is the rate every pushed frame must have. Frames with a
	// different rate or more than one channel are dropped.
	SampleRate int

	// Window is the analysis window handed to the VAD.
	Window time.Duration

	SilenceGrace time.Duration
	MaxSpeech    time.Duration
	MinUtterance time.Duration
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.SilenceGrace <= 0 {
		c.SilenceGrace = DefaultSilenceGrace
	}
	if c.MaxSpeech <= 0 {
		c.MaxSpeech = DefaultMaxSpeech
	}
	if c.MinUtterance <= 0 {
		c.MinUtterance = DefaultMinUtterance
	}
	return c
}

// Option configures a [Segmenter].
type Option func(*Segmenter)

// WithLogger sets the logger used for dropped-frame warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Segmenter) { s.log = l }
}

// WithDiscardHook registers fn to be called with the length of every speech
// span dropped for being shorter than MinUtterance.
func WithDiscardHook(fn func(time.Duration)) Option {
	return func(s *Segmenter) { s.onDiscard = fn }
}

// Segmenter is the per-session voice activity state machine. It is not safe
// for concurrent use; the session manager drives it from a single goroutine
// per call.
type Segmenter struct {
	cfg       Config
	vad       vad.SessionHandle
	log       *slog.Logger
	onDiscard func(time.Duration)

	windowSamples int
	graceSamples  int
	maxSamples    int
	minSamples    int

	// pending holds samples not yet forming a complete analysis window.
	pending []int16

	// consumed counts every sample analysed since the session started.
	consumed int

	speaking bool
	// buf holds the current utterance starting at the first speech window.
	buf []int16
	// voiced is len(buf) at the end of the most recent speech window.
	voiced     int
	startAt    int
	silenceRun int

	warned bool
}

// New returns a Segmenter that classifies windows with v.
func New(cfg Config, v vad.SessionHandle, opts ...Option) *Segmenter {
	cfg = cfg.withDefaults()
	s := &Segmenter{cfg: cfg, vad: v, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.windowSamples = samplesFor(cfg.Window, cfg.SampleRate)
	if s.windowSamples < 1 {
		s.windowSamples = 1
	}
	s.graceSamples = samplesFor(cfg.SilenceGrace, cfg.SampleRate)
	s.maxSamples = samplesFor(cfg.MaxSpeech, cfg.SampleRate)
	s.minSamples = samplesFor(cfg.MinUtterance, cfg.SampleRate)
	return s
}

// Push feeds one mono frame at the configured sample rate and returns every
// utterance completed by it, in order. Frames in the wrong format are
// dropped with a single warning per segmenter.
func (s *Segmenter) Push(frame audio.Frame) []audio.Utterance {
	if frame.Channels != 1 || frame.SampleRate != s.cfg.SampleRate {
		s.warn("segment: dropping frame in unexpected format",
			"sample_rate", frame.SampleRate, "channels", frame.Channels,
			"want_sample_rate", s.cfg.SampleRate)
		return nil
	}

	var out []audio.Utterance
	s.pending = append(s.pending, frame.Samples...)
	for len(s.pending) >= s.windowSamples {
		window := s.pending[:s.windowSamples]
		if u, ok := s.step(window); ok {
			out = append(out, u)
		}
		s.pending = s.pending[s.windowSamples:]
	}
	// Compact so the backing array does not grow without bound.
	if len(s.pending) > 0 {
		s.pending = append([]int16(nil), s.pending...)
	} else {
		s.pending = nil
	}
	return out
}

// Flush ends the current speech span, if any, and returns it when it is long
// enough to be an utterance. Used when the call ends mid-sentence.
func (s *Segmenter) Flush() (audio.Utterance, bool) {
	if !s.speaking {
		return audio.Utterance{}, false
	}
	return s.finish()
}

// Speaking reports whether a speech span is in progress.
func (s *Segmenter) Speaking() bool { return s.speaking }

// Elapsed returns how much audio has been analysed.
func (s *Segmenter) Elapsed() time.Duration {
	return audio.Duration(s.consumed, s.cfg.SampleRate)
}

func (s *Segmenter) step(window []int16) (audio.Utterance, bool) {
	ev, err := s.vad.ProcessFrame(window)
	s.consumed += len(window)
	if err != nil {
		s.warn("segment: vad rejected frame", "err", err)
		ev.Type = vad.Silence
	}
	speech := ev.Type == vad.Speech

	if !s.speaking {
		if !speech {
			return audio.Utterance{}, false
		}
		s.speaking = true
		s.startAt = s.consumed - len(window)
		s.buf = append(s.buf[:0], window...)
		s.voiced = len(s.buf)
		s.silenceRun = 0
	} else {
		s.buf = append(s.buf, window...)
		if speech {
			s.voiced = len(s.buf)
			s.silenceRun = 0
		} else {
			s.silenceRun += len(window)
		}
	}

	switch {
	case s.silenceRun >= s.graceSamples:
		return s.finish()
	case len(s.buf) >= s.maxSamples:
		return s.finish()
	}
	return audio.Utterance{}, false
}

// finish closes the current span, trimming trailing silence, and returns to
// idle.
func (s *Segmenter) finish() (audio.Utterance, bool) {
	voiced := s.voiced
	if voiced > s.maxSamples {
		voiced = s.maxSamples
	}
	pcm := audio.SamplesToBytes(s.buf[:voiced])
	start := s.startAt

	s.speaking = false
	s.buf = s.buf[:0]
	s.voiced = 0
	s.silenceRun = 0

	if voiced < s.minSamples {
		if s.onDiscard != nil {
			s.onDiscard(audio.Duration(voiced, s.cfg.SampleRate))
		}
		s.log.Debug("segment: discarded short utterance",
			"duration", audio.Duration(voiced, s.cfg.SampleRate))
		return audio.Utterance{}, false
	}

	return audio.Utterance{
		PCM:        pcm,
		SampleRate: s.cfg.SampleRate,
		Channels:   1,
		Start:      audio.Duration(start, s.cfg.SampleRate),
		End:        audio.Duration(start+voiced, s.cfg.SampleRate),
	}, true
}

func (s *Segmenter) warn(msg string, args ...any) {
	if s.warned {
		return
	}
	s.warned = true
	s.log.Warn(msg, args...)
}

func samplesFor(d time.Duration, rate int) int {
	return int(int64(d) * int64(rate) / int64(time.Second))
}
