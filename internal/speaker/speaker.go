// Package speaker plays the pad mix on the local sound card.
package speaker

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/satindergrewal/padloop/internal/audio"
	"github.com/satindergrewal/padloop/internal/stream"
)

// Speaker pulls frames from the broadcaster into an oto player.
type Speaker struct {
	broadcaster *stream.Broadcaster
	ctx         *oto.Context
	reader      *frameReader

	mu     sync.Mutex
	player *oto.Player
}

// New opens the default output device at the engine's format.
func New(b *stream.Broadcaster) (*Speaker, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   audio.SampleRate,
		ChannelCount: audio.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   2 * audio.FrameDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready
	return &Speaker{broadcaster: b, ctx: ctx}, nil
}

// Start subscribes to the mix and begins playback.
func (s *Speaker) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player != nil {
		return
	}
	// 100ms of queue, the device buffer adds the rest
	s.reader = &frameReader{listener: s.broadcaster.Subscribe(int(100 * time.Millisecond / audio.FrameDuration))}
	s.player = s.ctx.NewPlayer(s.reader)
	s.player.Play()
	log.Println("Local speaker output started")
}

// Close stops playback and releases the listener.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return nil
	}
	err := s.player.Close()
	s.broadcaster.Unsubscribe(s.reader.listener)
	s.player = nil
	log.Printf("Local speaker output stopped (%d frames dropped)", s.reader.listener.Dropped())
	return err
}
