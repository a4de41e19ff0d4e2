package engine

import (
	"math"
	"time"

	"github.com/satindergrewal/padloop/internal/audio"
)

// Envelope shape of every synth note: linear attack to the target volume,
// hold, then a linear release that reaches zero at the note's stop time.
const (
	NoteLength  = time.Second
	AttackTime  = 20 * time.Millisecond
	ReleaseTime = 200 * time.Millisecond
)

func toSamples(d time.Duration) int {
	return int(d * audio.SampleRate / time.Second)
}

// oscillate returns the waveform value at phase in [0, 1).
func oscillate(w Waveform, phase float64) float64 {
	switch w {
	case Square:
		if phase < 0.5 {
			return 1
		}
		return -1
	case Sawtooth:
		return 2*phase - 1
	case Triangle:
		if phase < 0.5 {
			return 4*phase - 1
		}
		return 3 - 4*phase
	default:
		return math.Sin(2 * math.Pi * phase)
	}
}

// envelope returns the gain multiplier for sample t of a note lasting length samples.
func envelope(t, length int) float64 {
	attack := toSamples(AttackTime)
	release := toSamples(ReleaseTime)
	if attack+release > length {
		attack, release = length/2, length-length/2
	}
	switch {
	case t < 0 || t >= length:
		return 0
	case t < attack:
		return float64(t) / float64(attack)
	case t >= length-release:
		return float64(length-t) / float64(release)
	}
	return 1
}

type note struct {
	freq   float64
	delay  int // samples after the group start
	length int
	phase  float64
}

// synthGroup is the oscillator set of one synth trigger. It renders as a
// single voice so stopping it stops every note.
type synthGroup struct {
	wave  Waveform
	notes []*note
	t     int // samples rendered since the group started
	end   int
}

func newSynthGroup(src *SynthSource) *synthGroup {
	g := &synthGroup{wave: src.Waveform}
	stagger := 0
	if src.Arpeggio {
		s := src.Stagger
		if s <= 0 {
			s = DefaultStagger
		}
		stagger = toSamples(s)
	}
	length := toSamples(NoteLength)
	for i, f := range src.Frequencies {
		n := &note{freq: f, delay: i * stagger, length: length}
		g.notes = append(g.notes, n)
		if n.delay+n.length > g.end {
			g.end = n.delay + n.length
		}
	}
	return g
}

func (g *synthGroup) render(acc []float64, gain, rate float64, _ bool) bool {
	frames := len(acc) / audio.Channels
	for i := 0; i < frames; i++ {
		t := g.t + i
		var sum float64
		for _, n := range g.notes {
			local := t - n.delay
			if local < 0 || local >= n.length {
				continue
			}
			sum += oscillate(g.wave, n.phase) * envelope(local, n.length)
			n.phase += n.freq * rate / audio.SampleRate
			n.phase -= math.Floor(n.phase)
		}
		acc[i*2] += sum * gain
		acc[i*2+1] += sum * gain
	}
	g.t += frames
	return g.t >= g.end
}
