package speaker

import (
	"github.com/satindergrewal/padloop/internal/audio"
	"github.com/satindergrewal/padloop/internal/stream"
)

// frameReader adapts a broadcaster listener to the io.Reader a sound card
// player pulls from. When no frame is queued it yields silence rather than
// blocking the device callback.
type frameReader struct {
	listener *stream.Listener
	pending  []byte
	silent   uint64 // bytes of silence emitted
}

func (r *frameReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.pending) == 0 {
			select {
			case frame := <-r.listener.C:
				r.pending = audio.SamplesToBytes(frame)
			default:
				clear(p[n:])
				r.silent += uint64(len(p) - n)
				return len(p), nil
			}
		}
		c := copy(p[n:], r.pending)
		r.pending = r.pending[c:]
		n += c
	}
	return n, nil
}
