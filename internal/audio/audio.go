package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Buffer is a decoded audio clip. Data holds interleaved samples in [-1, 1].
// A Buffer is never modified after decoding, so voices may share it.
type Buffer struct {
	SampleRate int
	Channels   int
	Data       []float32
}

// Frames returns the number of sample frames (samples per channel).
func (b *Buffer) Frames() int {
	if b == nil || b.Channels == 0 {
		return 0
	}
	return len(b.Data) / b.Channels
}

// Duration returns the playback length at the buffer's own sample rate.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate == 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Stereo returns the left and right sample of frame i. Mono is duplicated,
// extra channels beyond the second are ignored.
func (b *Buffer) Stereo(i int) (float32, float32) {
	base := i * b.Channels
	if b.Channels == 1 {
		return b.Data[base], b.Data[base]
	}
	return b.Data[base], b.Data[base+1]
}
