// Package mock provides test doubles for the vad package interfaces.
//
// Session classifies frames with ClassifyFunc when set, otherwise it returns
// EventResult for every frame. A typical segmenter test drives it by
// amplitude:
//
//	sess := &mock.Session{ClassifyFunc: mock.ByAmplitude(1000)}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/MrWong99/callintake/pkg/audio"
	"github.com/MrWong99/callintake/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

var _ vad.Engine = (*Engine)(nil)

// ByAmplitude returns a classifier that reports Speech when the frame RMS
// exceeds threshold and Silence otherwise. It never calibrates.
func ByAmplitude(threshold float64) func([]int16) vad.Event {
	return func(samples []int16) vad.Event {
		rms := audio.RMS(samples)
		ev := vad.Event{Type: vad.Silence, Energy: rms, Threshold: threshold}
		if rms > threshold {
			ev.Type = vad.Speech
		}
		return ev
	}
}

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// ClassifyFunc, if set, computes the event for each frame.
	ClassifyFunc func(samples []int16) vad.Event

	// EventResult is returned by every ProcessFrame call when ClassifyFunc is
	// nil.
	EventResult vad.Event

	// ProcessFrameErr, if non-nil, is returned by every ProcessFrame call.
	ProcessFrameErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// FrameCount is the number of frames passed to ProcessFrame.
	FrameCount int

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// ProcessFrame records the call and returns the classification.
func (s *Session) ProcessFrame(samples []int16) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FrameCount++
	if s.ProcessFrameErr != nil {
		return vad.Event{}, s.ProcessFrameErr
	}
	if s.ClassifyFunc != nil {
		return s.ClassifyFunc(samples), nil
	}
	return s.EventResult, nil
}

// Reset records the call by incrementing ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Closed reports whether Close was called at least once. Thread-safe.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount > 0
}

var _ vad.SessionHandle = (*Session)(nil)
