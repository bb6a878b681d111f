// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine classifies short frames of caller audio as speech or
// non-speech and surfaces that as a stateful, per-stream session. Each
// session keeps its own calibration so that concurrent calls with different
// microphones and background noise are judged independently.
//
// VAD is synchronous: ProcessFrame returns immediately with a classification,
// which makes it suitable for gating audio before it reaches STT. Timing
// decisions (grace periods, maximum utterance length) belong to the caller;
// see internal/segment.
//
// Engines must be safe for concurrent use across different sessions. A single
// SessionHandle is owned by one goroutine.
package vad

import "time"

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// ProcessFrame. Must be positive.
	SampleRate int

	// CalibrationWindow is how much audio the session observes to measure the
	// ambient noise floor before it starts classifying frames. Zero disables
	// calibration and uses max(Margin, Floor) as the threshold immediately.
	CalibrationWindow time.Duration

	// Margin is added to the measured baseline energy to form the detection
	// threshold. Expressed in the engine's energy unit (PCM16 RMS for the
	// energy engine).
	Margin float64

	// Floor is the minimum detection threshold regardless of calibration.
	// Must be positive so digital silence can never register as speech.
	Floor float64
}

// EventType classifies a single frame.
type EventType int

const (
	// Calibrating means the session is still measuring the noise baseline.
	// Callers must treat the frame as non-speech.
	Calibrating EventType = iota

	// Silence means the frame energy is at or below the threshold.
	Silence

	// Speech means the frame energy exceeds the threshold.
	Speech
)

// String returns a lower-case name suitable for logs.
func (t EventType) String() string {
	switch t {
	case Calibrating:
		return "calibrating"
	case Silence:
		return "silence"
	case Speech:
		return "speech"
	default:
		return "unknown"
	}
}

// Event is the classification of a single frame.
type Event struct {
	Type EventType

	// Energy is the measured frame energy.
	Energy float64

	// Threshold is the detection threshold in effect for this frame. Zero
	// while calibrating.
	Threshold float64
}

// SessionHandle represents an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame classifies one mono frame of PCM16 samples at the session's
	// sample rate. It must not block.
	ProcessFrame(samples []int16) (Event, error)

	// Reset discards the calibration and starts measuring again.
	Reset()

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a new VAD session. Returns an error if cfg is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
