package engine

import (
	"math"
	"sync"
	"time"

	"github.com/satindergrewal/padloop/internal/audio"
)

// VoiceID indexes the voice table. NoVoice means nothing was started.
type VoiceID uint64

const NoVoice VoiceID = 0

// generator adds its next block of interleaved stereo samples into acc and
// reports whether it has finished.
type generator interface {
	render(acc []float64, gain, rate float64, loop bool) bool
}

type voice struct {
	id      VoiceID
	padID   string
	kind    string
	started time.Time
	gain    float64
	loop    bool
	gen     generator
}

// VoiceInfo is a read-only view of a live voice.
type VoiceInfo struct {
	ID      VoiceID
	PadID   string
	Kind    string
	Started time.Time
	Gain    float64
	Loop    bool
}

type samplePlayer struct {
	buf *audio.Buffer
	pos float64 // in source frames
}

func (s *samplePlayer) render(acc []float64, gain, rate float64, loop bool) bool {
	frames := float64(s.buf.Frames())
	if frames == 0 {
		return true
	}
	step := rate * float64(s.buf.SampleRate) / audio.SampleRate
	for i := 0; i < len(acc)/audio.Channels; i++ {
		if s.pos >= frames {
			if !loop {
				return true
			}
			s.pos = math.Mod(s.pos, frames)
		}
		l, r := s.buf.Stereo(int(s.pos))
		acc[i*2] += float64(l) * gain
		acc[i*2+1] += float64(r) * gain
		s.pos += step
	}
	return !loop && s.pos >= frames
}

// Voices is the voice engine: it owns every live voice and mixes them into
// the output. Pads only hold VoiceIDs.
type Voices struct {
	clock Clock

	mu      sync.Mutex
	next    VoiceID
	created uint64
	active  map[VoiceID]*voice
	rate    float64
	acc     []float64
	onEnd   func(padID string, id VoiceID)
}

// NewVoices creates an empty voice table.
func NewVoices(clock Clock) *Voices {
	return &Voices{
		clock:  clock,
		active: make(map[VoiceID]*voice),
		rate:   1,
		acc:    make([]float64, audio.FrameSamples),
	}
}

// SetEndHandler registers the natural-end callback. It runs outside the
// voice lock and never fires for a voice that was stopped explicitly.
func (v *Voices) SetEndHandler(fn func(padID string, id VoiceID)) {
	v.mu.Lock()
	v.onEnd = fn
	v.mu.Unlock()
}

// Play starts a voice for the pad at its volume, or at *volume when given.
// Returns NoVoice for an empty pad.
func (v *Voices) Play(p *Pad, volume *float64) VoiceID {
	if p == nil || p.Empty() {
		return NoVoice
	}

	gain := p.Settings.Volume
	if volume != nil {
		gain = clamp01(*volume)
	}

	vc := &voice{
		padID:   p.ID,
		kind:    p.Kind(),
		started: v.clock.Now(),
		gain:    gain,
	}
	switch src := p.Source.(type) {
	case *SampleSource:
		vc.loop = p.Settings.Loop
		vc.gen = &samplePlayer{buf: src.Buffer}
	case *SynthSource:
		vc.gen = newSynthGroup(src)
	default:
		return NoVoice
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.next++
	v.created++
	vc.id = v.next
	v.active[vc.id] = vc
	return vc.id
}

// Stop halts a voice. Stopping a voice that already ended is a no-op.
func (v *Voices) Stop(id VoiceID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.active[id]; !ok {
		return false
	}
	delete(v.active, id)
	return true
}

// StopPad halts every live voice of a pad and returns how many it stopped.
func (v *Voices) StopPad(padID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for id, vc := range v.active {
		if vc.padID == padID {
			delete(v.active, id)
			n++
		}
	}
	return n
}

// StopAll halts every live voice.
func (v *Voices) StopAll() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := len(v.active)
	clear(v.active)
	return n
}

// SetGain changes a live voice's gain without interrupting it.
func (v *Voices) SetGain(id VoiceID, gain float64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	vc, ok := v.active[id]
	if ok {
		vc.gain = clamp01(gain)
	}
	return ok
}

// SetLoop changes a live sample voice's loop flag.
func (v *Voices) SetLoop(id VoiceID, loop bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	vc, ok := v.active[id]
	if ok && vc.kind == "sample" {
		vc.loop = loop
	}
	return ok
}

// Live reports whether a voice is still playing.
func (v *Voices) Live(id VoiceID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.active[id]
	return ok
}

// LiveCount returns the number of live voices owned by a pad.
func (v *Voices) LiveCount(padID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, vc := range v.active {
		if vc.padID == padID {
			n++
		}
	}
	return n
}

// Count returns the number of live voices.
func (v *Voices) Count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.active)
}

// Created returns the number of voices started since creation.
func (v *Voices) Created() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.created
}

// Info returns a view of a live voice.
func (v *Voices) Info(id VoiceID) (VoiceInfo, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	vc, ok := v.active[id]
	if !ok {
		return VoiceInfo{}, false
	}
	return VoiceInfo{
		ID:      vc.id,
		PadID:   vc.padID,
		Kind:    vc.kind,
		Started: vc.started,
		Gain:    vc.gain,
		Loop:    vc.loop,
	}, true
}

// SetRate sets the global playback-rate multiplier. It applies to sample
// playback speed and oscillator frequency alike, including live voices.
func (v *Voices) SetRate(rate float64) {
	v.mu.Lock()
	v.rate = rate
	v.mu.Unlock()
}

// Rate returns the global playback-rate multiplier.
func (v *Voices) Rate() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rate
}

// Render mixes every live voice into one interleaved frame. Voices that
// finish are removed and reported to the end handler after unlocking.
func (v *Voices) Render(frame []int16) {
	type ended struct {
		padID string
		id    VoiceID
	}
	var done []ended

	v.mu.Lock()
	if len(v.acc) != len(frame) {
		v.acc = make([]float64, len(frame))
	}
	clear(v.acc)
	for id, vc := range v.active {
		if vc.gen.render(v.acc, vc.gain, v.rate, vc.loop) {
			delete(v.active, id)
			done = append(done, ended{vc.padID, id})
		}
	}
	audio.MixInto(frame, v.acc)
	onEnd := v.onEnd
	v.mu.Unlock()

	if onEnd == nil {
		return
	}
	for _, d := range done {
		onEnd(d.padID, d.id)
	}
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
