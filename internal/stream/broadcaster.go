// Package stream delivers the mixed pad output to remote listeners.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the listener queue length in frames, about 3s at 20ms.
const DefaultBuffer = 150

// Broadcaster fans out mixed PCM frames from the engine to N listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	published atomic.Uint64
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	C       chan []int16 // interleaved stereo 20ms frames
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// Done is closed once the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Dropped returns how many frames were skipped because the listener lagged.
func (l *Listener) Dropped() uint64 { return l.dropped.Load() }

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a listener with a queue of buffer frames, or
// DefaultBuffer when buffer is not positive.
func (b *Broadcaster) Subscribe(buffer int) *Listener {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	l := &Listener{
		C:    make(chan []int16, buffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop. It is safe to
// call more than once.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Published returns the number of frames fanned out so far.
func (b *Broadcaster) Published() uint64 { return b.published.Load() }

// Publish hands one frame to every listener. Slow listeners lose the frame
// rather than holding back the mix.
func (b *Broadcaster) Publish(frame []int16) {
	b.mu.RLock()
	for l := range b.listeners {
		select {
		case l.C <- frame:
		default:
			l.dropped.Add(1)
		}
	}
	b.mu.RUnlock()
	b.published.Add(1)
}

// Run publishes frames from source until ctx is cancelled or source closes.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.Publish(frame)
		}
	}
}
