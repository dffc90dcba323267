// Package audio provides helpers for the 16-bit little-endian PCM that flows
// between TTS providers, the segment synthesizer and playback consumers.
package audio

import (
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of a PCM buffer.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "24000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Duration returns the playback length of a 16-bit mono PCM buffer.
func Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / 2
	return time.Duration(int64(samples) * int64(time.Second) / int64(sampleRate))
}

// Concat appends mono PCM buffers, resampling each to dstRate first.
// Buffers with an odd byte count are truncated to the last whole sample.
func Concat(dstRate int, parts []Buffer) []byte {
	var total int
	for _, p := range parts {
		total += len(p.PCM)
	}
	out := make([]byte, 0, total)
	for _, p := range parts {
		pcm := p.PCM[:len(p.PCM)&^1]
		out = append(out, ResampleMono16(pcm, p.SampleRate, dstRate)...)
	}
	return out
}

// Buffer is a mono PCM buffer with its sample rate.
type Buffer struct {
	PCM        []byte
	SampleRate int
}

// StereoToMono downmixes interleaved 16-bit stereo by averaging each frame.
// A trailing partial frame is dropped.
func StereoToMono(pcm []byte) []byte {
	out := make([]byte, len(pcm)/4*2)
	for i := range len(out) / 2 {
		l, r := int32(sample(pcm, 2*i)), int32(sample(pcm, 2*i+1))
		putSample(out, i, clamp16((l+r)/2))
	}
	return out
}

// ResampleMono16 converts 16-bit mono PCM from srcRate to dstRate by linear
// interpolation. Equal or invalid rates return pcm as is.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	n := len(pcm) / 2
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || n == 0 {
		return pcm
	}
	outN := int(int64(n) * int64(dstRate) / int64(srcRate))
	if outN == 0 {
		return nil
	}

	out := make([]byte, outN*2)
	step := float64(srcRate) / float64(dstRate)
	for i := range outN {
		pos := float64(i) * step
		j := int(pos)
		a := float64(sample(pcm, j))
		b := a
		if j+1 < n {
			b = float64(sample(pcm, j+1))
		}
		frac := pos - float64(j)
		putSample(out, i, clamp16(int32(a+(b-a)*frac)))
	}
	return out
}

// sample reads the i-th little-endian int16 of pcm.
func sample(pcm []byte, i int) int16 {
	return int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
}

func putSample(pcm []byte, i int, v int16) {
	pcm[2*i] = byte(v)
	pcm[2*i+1] = byte(uint16(v) >> 8)
}

func clamp16(v int32) int16 {
	return int16(max(-32768, min(32767, v)))
}

func formatString(rate, channels int) string {
	layout := "mono"
	switch {
	case channels == 2:
		layout = "stereo"
	case channels > 2:
		layout = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, layout)
}
