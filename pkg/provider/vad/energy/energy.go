// Package energy implements a calibrated RMS voice activity detector.
//
// Each session first listens to CalibrationWindow worth of audio to measure
// the ambient noise level, then classifies frames as speech when their RMS
// energy exceeds max(baseline + Margin, Floor). The floor guarantees that a
// perfectly silent line never triggers detection.
package energy

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/callintake/pkg/audio"
	"github.com/MrWong99/callintake/pkg/provider/vad"
)

// Default parameters in PCM16 RMS units.
const (
	DefaultCalibrationWindow = time.Second
	DefaultMargin            = 200
	DefaultFloor             = 300
)

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("vad/energy: session closed")

// Engine creates energy-based VAD sessions. The zero value is ready to use.
type Engine struct{}

var _ vad.Engine = (*Engine)(nil)

// New returns an energy Engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg, fills in defaults for zero Margin and Floor, and
// returns a new session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("vad/energy: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.CalibrationWindow < 0 {
		return nil, fmt.Errorf("vad/energy: calibration window must not be negative, got %s", cfg.CalibrationWindow)
	}
	if cfg.Margin < 0 || cfg.Floor < 0 {
		return nil, fmt.Errorf("vad/energy: margin and floor must not be negative")
	}
	if cfg.Margin == 0 {
		cfg.Margin = DefaultMargin
	}
	if cfg.Floor == 0 {
		cfg.Floor = DefaultFloor
	}
	s := &Session{cfg: cfg}
	s.calibrationSamples = int(int64(cfg.CalibrationWindow) * int64(cfg.SampleRate) / int64(time.Second))
	s.resetLocked()
	return s, nil
}

// Session is one calibrated detector. It is safe for concurrent use, although
// a pipeline normally drives it from a single goroutine.
type Session struct {
	mu  sync.Mutex
	cfg vad.Config

	calibrationSamples int

	seen      int
	sumSq     float64
	threshold float64
	closed    bool
}

var _ vad.SessionHandle = (*Session)(nil)

// ProcessFrame implements vad.SessionHandle.
func (s *Session) ProcessFrame(samples []int16) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, ErrClosed
	}

	rms := audio.RMS(samples)

	if s.threshold == 0 {
		for _, v := range samples {
			f := float64(v)
			s.sumSq += f * f
		}
		s.seen += len(samples)
		if s.seen < s.calibrationSamples {
			return vad.Event{Type: vad.Calibrating, Energy: rms}, nil
		}
		var baseline float64
		if s.seen > 0 {
			baseline = math.Sqrt(s.sumSq / float64(s.seen))
		}
		s.threshold = math.Max(baseline+s.cfg.Margin, s.cfg.Floor)
		return vad.Event{Type: vad.Calibrating, Energy: rms, Threshold: s.threshold}, nil
	}

	ev := vad.Event{Type: vad.Silence, Energy: rms, Threshold: s.threshold}
	if rms > s.threshold {
		ev.Type = vad.Speech
	}
	return ev, nil
}

// Threshold returns the detection threshold, or 0 while still calibrating.
func (s *Session) Threshold() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threshold
}

// Reset implements vad.SessionHandle.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Session) resetLocked() {
	s.seen = 0
	s.sumSq = 0
	s.threshold = 0
	if s.calibrationSamples == 0 {
		s.threshold = math.Max(s.cfg.Margin, s.cfg.Floor)
	}
}

// Close implements vad.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
