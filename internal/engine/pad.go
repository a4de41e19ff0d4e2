package engine

import (
	"fmt"
	"time"

	"github.com/satindergrewal/padloop/internal/audio"
)

// Waveform selects the oscillator shape of a synth pad.
type Waveform string

const (
	Sine     Waveform = "sine"
	Square   Waveform = "square"
	Sawtooth Waveform = "sawtooth"
	Triangle Waveform = "triangle"
)

// Valid reports whether w is a known waveform.
func (w Waveform) Valid() bool {
	switch w {
	case Sine, Square, Sawtooth, Triangle:
		return true
	}
	return false
}

// Source is the sound payload of a pad: *SampleSource or *SynthSource.
// A nil Source marks an empty pad.
type Source interface {
	kind() string
}

// SampleSource plays a decoded buffer.
type SampleSource struct {
	Buffer   *audio.Buffer
	Filename string
}

func (*SampleSource) kind() string { return "sample" }

// SynthSource plays one oscillator per frequency. Arpeggio staggers the
// note starts by Stagger instead of starting them together.
type SynthSource struct {
	Frequencies []float64
	Waveform    Waveform
	Arpeggio    bool
	Stagger     time.Duration
}

func (*SynthSource) kind() string { return "synth" }

// Settings are the per-pad playback settings.
type Settings struct {
	Volume     float64 `json:"volume"`
	Loop       bool    `json:"loop"`
	Polyphonic bool    `json:"polyphonic"`
}

// SettingsUpdate is a partial Settings change; nil fields are left alone.
type SettingsUpdate struct {
	Volume     *float64 `json:"volume,omitempty"`
	Loop       *bool    `json:"loop,omitempty"`
	Polyphonic *bool    `json:"polyphonic,omitempty"`
}

// Pad is one keyed trigger slot.
type Pad struct {
	ID       string
	Name     string
	Key      string
	Color    string
	Settings Settings
	Source   Source

	index      int
	voice      VoiceID // back-reference into the voice table, not ownership
	generating bool
}

// Empty reports whether the pad has nothing to play.
func (p *Pad) Empty() bool {
	switch s := p.Source.(type) {
	case *SampleSource:
		return s.Buffer == nil || s.Buffer.Frames() == 0
	case *SynthSource:
		return len(s.Frequencies) == 0
	}
	return true
}

// Kind returns "sample", "synth" or "empty".
func (p *Pad) Kind() string {
	if p.Source == nil {
		return "empty"
	}
	return p.Source.kind()
}

// DefaultStagger is the arpeggio note spacing when a synth pad sets none.
const DefaultStagger = 150 * time.Millisecond

var (
	padKeys   = []string{"1", "2", "3", "4", "q", "w", "e", "r", "a", "s", "d", "f", "z", "x", "c", "v"}
	padColors = []string{"red", "orange", "amber", "yellow", "lime", "green", "teal", "cyan", "sky", "blue", "indigo", "violet", "purple", "fuchsia", "pink", "rose"}
)

// synthPresets occupy the last row of the default grid.
var synthPresets = map[int]struct {
	name   string
	source SynthSource
}{
	12: {"C Major", SynthSource{Frequencies: []float64{261.63, 329.63, 392.00}, Waveform: Sine}},
	13: {"A Minor", SynthSource{Frequencies: []float64{220.00, 261.63, 329.63}, Waveform: Triangle}},
	14: {"C Arp", SynthSource{Frequencies: []float64{261.63, 329.63, 392.00, 523.25}, Waveform: Square, Arpeggio: true, Stagger: DefaultStagger}},
	15: {"F Arp", SynthSource{Frequencies: []float64{174.61, 220.00, 261.63, 349.23}, Waveform: Sawtooth, Arpeggio: true, Stagger: DefaultStagger}},
}

func defaultName(index int) string {
	return fmt.Sprintf("Pad %d", index+1)
}

// DefaultPads builds the 4x4 grid: twelve empty sample slots followed by
// two chord pads and two arpeggio pads.
func DefaultPads() []*Pad {
	pads := make([]*Pad, len(padKeys))
	for i := range pads {
		p := &Pad{
			ID:       fmt.Sprintf("pad-%d", i+1),
			Name:     defaultName(i),
			Key:      padKeys[i],
			Color:    padColors[i],
			Settings: Settings{Volume: 0.8},
			index:    i,
		}
		if preset, ok := synthPresets[i]; ok {
			src := preset.source
			src.Frequencies = append([]float64(nil), preset.source.Frequencies...)
			p.Name = preset.name
			p.Source = &src
			p.Settings.Polyphonic = true
		}
		pads[i] = p
	}
	return pads
}
