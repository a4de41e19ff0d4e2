package audio

import (
	"context"
	"log"
	"sync"
	"time"
)

// FrameSource fills one interleaved 20ms frame with mixed audio.
type FrameSource interface {
	Render(frame []int16)
}

// Pipeline pulls frames from a FrameSource and outputs them at real-time rate.
type Pipeline struct {
	source  FrameSource
	frameCh chan []int16

	mu       sync.RWMutex
	rendered uint64
	dropped  uint64
	started  time.Time
}

// NewPipeline creates an audio pipeline rendering from src.
func NewPipeline(src FrameSource) *Pipeline {
	return &Pipeline{
		source:  src,
		frameCh: make(chan []int16, 100),
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (p *Pipeline) Frames() <-chan []int16 {
	return p.frameCh
}

// Status returns the number of rendered and dropped frames and the time
// since Run started.
func (p *Pipeline) Status() (rendered, dropped uint64, uptime time.Duration) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.started.IsZero() {
		uptime = time.Since(p.started)
	}
	return p.rendered, p.dropped, uptime
}

// Run starts the pipeline. Blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	p.mu.Lock()
	p.started = time.Now()
	p.mu.Unlock()

	log.Printf("Audio pipeline running (%d Hz, %d ch, %v frames)", SampleRate, Channels, FrameDuration)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame := make([]int16, FrameSamples)
		p.source.Render(frame)

		// Never block the clock on a stalled consumer
		select {
		case p.frameCh <- frame:
			p.count(false)
		case <-ctx.Done():
			return
		default:
			p.count(true)
		}
	}
}

func (p *Pipeline) count(dropped bool) {
	p.mu.Lock()
	if dropped {
		p.dropped++
	} else {
		p.rendered++
	}
	p.mu.Unlock()
}
