package audio

import (
	"encoding/binary"
	"errors"
)

// WAVInfo describes the PCM payload of a parsed WAV container.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// EncodeWAV wraps 16-bit little-endian PCM in a canonical 44-byte RIFF/WAVE
// header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bits = 16
	buf := make([]byte, 44+len(pcm))

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*channels*bits/8))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(channels*bits/8))
	binary.LittleEndian.PutUint16(buf[34:36], bits)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

// ParseWAV walks the RIFF chunks of wav and returns the format together with
// the PCM payload. The fmt chunk may be larger than 16 bytes and chunks are
// word-aligned, so the data offset is not assumed to be 44.
func ParseWAV(wav []byte) (WAVInfo, []byte, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, nil, errors.New("audio: not a RIFF/WAVE container")
	}

	var (
		info     WAVInfo
		foundFmt bool
	)
	off := 12
	for off+8 <= len(wav) {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(wav) {
				return WAVInfo{}, nil, errors.New("audio: truncated fmt chunk")
			}
			info.Channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(wav[body+14 : body+16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return WAVInfo{}, nil, errors.New("audio: data chunk before fmt chunk")
			}
			end := body + size
			// Streaming encoders write 0 or 0xFFFFFFFF as the data size.
			if size == 0 || end > len(wav) || end < body {
				end = len(wav)
			}
			return info, wav[body:end], nil
		}

		off = body + size
		if size%2 != 0 {
			off++
		}
	}
	return WAVInfo{}, nil, errors.New("audio: missing data chunk")
}
