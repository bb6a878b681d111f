package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Converter normalises caller frames to a target format: mono downmix first,
// then linear-interpolation resampling. It logs once per stream when the
// source format differs from the target. Create one per session.
type Converter struct {
	Target Format

	warnOnce sync.Once
}

// Convert returns frame in the target format. Frames whose format is
// unusable (non-positive rate, zero or more than two channels, or a sample
// count not divisible by the channel count) yield [ErrMalformedFrame].
func (c *Converter) Convert(frame Frame) (Frame, error) {
	if frame.SampleRate <= 0 {
		return Frame{}, fmt.Errorf("%w: sample rate %d", ErrMalformedFrame, frame.SampleRate)
	}
	if frame.Channels < 1 || frame.Channels > 2 {
		return Frame{}, fmt.Errorf("%w: %d channels", ErrMalformedFrame, frame.Channels)
	}
	if len(frame.Samples)%frame.Channels != 0 {
		return Frame{}, fmt.Errorf("%w: %d samples not divisible by %d channels",
			ErrMalformedFrame, len(frame.Samples), frame.Channels)
	}

	target := c.Target
	if target.Channels == 0 {
		target.Channels = 1
	}
	if target.SampleRate == 0 {
		target.SampleRate = frame.SampleRate
	}
	if frame.SampleRate == target.SampleRate && frame.Channels == target.Channels {
		return frame, nil
	}

	c.warnOnce.Do(func() {
		slog.Debug("audio: converting caller stream",
			"from_rate", frame.SampleRate, "from_channels", frame.Channels,
			"to_rate", target.SampleRate, "to_channels", target.Channels)
	})

	samples := frame.Samples
	if frame.Channels == 2 && target.Channels == 1 {
		samples = Downmix(samples)
	}
	samples = Resample(samples, frame.SampleRate, target.SampleRate)

	return Frame{Samples: samples, SampleRate: target.SampleRate, Channels: 1}, nil
}

// Downmix averages interleaved stereo pairs into mono. A trailing odd sample
// is dropped.
func Downmix(stereo []int16) []int16 {
	out := make([]int16, len(stereo)/2)
	for i := range out {
		out[i] = int16((int32(stereo[2*i]) + int32(stereo[2*i+1])) / 2)
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. The input is returned unchanged when the rates match or are
// invalid.
func Resample(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}
	out := make([]int16, n)
	ratio := float64(srcRate) / float64(dstRate)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		out[i] = int16(float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac)
	}
	return out
}

// Normalize converts a single frame to target. Streams should keep a
// [Converter] instead so the format notice is logged only once.
func Normalize(frame Frame, target Format) (Frame, error) {
	c := Converter{Target: target}
	return c.Convert(frame)
}
