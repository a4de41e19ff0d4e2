package audio

import "encoding/binary"

// Clip16 converts a mixed sample in [-1, 1] to int16, saturating out-of-range
// values instead of wrapping.
func Clip16(v float64) int16 {
	v *= 32767
	if v > 32767 {
		return 32767
	} else if v < -32768 {
		return -32768
	}
	return int16(v)
}

// MixInto converts an interleaved float accumulator into an int16 frame.
// Both slices must have the same length.
func MixInto(frame []int16, acc []float64) {
	for i := range frame {
		frame[i] = Clip16(acc[i])
	}
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
