package audio

import "time"

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Frame is one decoded chunk of caller audio as delivered by the transport.
// Samples are interleaved when Channels > 1.
type Frame struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.Channels <= 0 {
		return 0
	}
	return Duration(len(f.Samples)/f.Channels, f.SampleRate)
}

// Utterance is a contiguous span of caller audio judged to be one spoken
// turn. PCM holds 16-bit little-endian samples. Start and End are offsets
// from the beginning of the call's audio stream.
type Utterance struct {
	PCM        []byte
	SampleRate int
	Channels   int
	Start      time.Duration
	End        time.Duration
}

// Duration returns End - Start.
func (u Utterance) Duration() time.Duration {
	return u.End - u.Start
}
