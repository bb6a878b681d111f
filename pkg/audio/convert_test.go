package audio_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/callintake/pkg/audio"
)

func TestDownmix(t *testing.T) {
	t.Parallel()

	got := audio.Downmix([]int16{100, 300, -200, -400, 32767, 32767})
	want := []int16{200, -300, 32767}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResample_Halves(t *testing.T) {
	t.Parallel()

	in := make([]int16, 48000)
	got := audio.Resample(in, 48000, 16000)
	if len(got) != 16000 {
		t.Fatalf("len = %d, want 16000", len(got))
	}
}

func TestResample_Interpolates(t *testing.T) {
	t.Parallel()

	got := audio.Resample([]int16{0, 100}, 8000, 16000)
	want := []int16{0, 50, 100, 100}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResample_SameRateIsIdentity(t *testing.T) {
	t.Parallel()

	in := []int16{1, 2, 3}
	got := audio.Resample(in, 16000, 16000)
	if &got[0] != &in[0] {
		t.Error("expected the input slice to be returned unchanged")
	}
}

func TestConverter_Convert(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		frame     audio.Frame
		wantLen   int
		wantRate  int
		wantError bool
	}{
		{
			name:     "passthrough",
			frame:    audio.Frame{Samples: make([]int16, 160), SampleRate: 16000, Channels: 1},
			wantLen:  160,
			wantRate: 16000,
		},
		{
			name:     "stereo 48k to mono 16k",
			frame:    audio.Frame{Samples: make([]int16, 960), SampleRate: 48000, Channels: 2},
			wantLen:  160,
			wantRate: 16000,
		},
		{
			name:      "zero rate",
			frame:     audio.Frame{Samples: make([]int16, 10), SampleRate: 0, Channels: 1},
			wantError: true,
		},
		{
			name:      "too many channels",
			frame:     audio.Frame{Samples: make([]int16, 12), SampleRate: 16000, Channels: 6},
			wantError: true,
		},
		{
			name:      "misaligned stereo",
			frame:     audio.Frame{Samples: make([]int16, 11), SampleRate: 16000, Channels: 2},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &audio.Converter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
			got, err := c.Convert(tt.frame)
			if tt.wantError {
				if !errors.Is(err, audio.ErrMalformedFrame) {
					t.Fatalf("err = %v, want ErrMalformedFrame", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Convert: %v", err)
			}
			if len(got.Samples) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got.Samples), tt.wantLen)
			}
			if got.SampleRate != tt.wantRate {
				t.Errorf("SampleRate = %d, want %d", got.SampleRate, tt.wantRate)
			}
			if got.Channels != 1 {
				t.Errorf("Channels = %d, want 1", got.Channels)
			}
		})
	}
}
