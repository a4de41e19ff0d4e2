package engine

import (
	"math"
	"testing"

	"github.com/satindergrewal/padloop/internal/audio"
)

func samplePad(id string, frames int, loop bool) *Pad {
	return &Pad{
		ID:       id,
		Settings: Settings{Volume: 0.5, Loop: loop},
		Source:   &SampleSource{Buffer: testBuffer(frames)},
	}
}

func TestVoiceMixesAtGain(t *testing.T) {
	v := NewVoices(newManualClock())
	v.Play(samplePad("a", audio.SampleRate, false), nil)

	frame := make([]int16, audio.FrameSamples)
	v.Render(frame)
	want := audio.Clip16(0.25)
	if frame[0] != want || frame[len(frame)-1] != want {
		t.Errorf("Sample = %d, want %d", frame[0], want)
	}
}

func TestVoicePlayOverridesVolume(t *testing.T) {
	v := NewVoices(newManualClock())
	vol := 0.1
	id := v.Play(samplePad("a", audio.SampleRate, false), &vol)
	info, _ := v.Info(id)
	if info.Gain != 0.1 {
		t.Errorf("Gain = %v, want 0.1", info.Gain)
	}
}

func TestVoicePlayEmptyPad(t *testing.T) {
	v := NewVoices(newManualClock())
	if id := v.Play(&Pad{ID: "x"}, nil); id != NoVoice {
		t.Errorf("Play empty = %d, want NoVoice", id)
	}
	if v.Created() != 0 {
		t.Error("Empty play counted as created")
	}
}

func TestExplicitStopSuppressesEndCallback(t *testing.T) {
	v := NewVoices(newManualClock())
	var ended []VoiceID
	v.SetEndHandler(func(_ string, id VoiceID) { ended = append(ended, id) })

	stopped := v.Play(samplePad("a", audio.FrameSize, false), nil)
	if !v.Stop(stopped) {
		t.Fatal("Stop of a live voice should report true")
	}
	if v.Stop(stopped) {
		t.Error("Second Stop should be a no-op")
	}
	v.Render(make([]int16, audio.FrameSamples))
	if len(ended) != 0 {
		t.Fatalf("End callback fired for a stopped voice: %v", ended)
	}

	natural := v.Play(samplePad("a", audio.FrameSize, false), nil)
	v.Render(make([]int16, audio.FrameSamples))
	if len(ended) != 1 || ended[0] != natural {
		t.Errorf("Ended = %v, want [%d]", ended, natural)
	}
}

func TestLoopingVoiceWraps(t *testing.T) {
	v := NewVoices(newManualClock())
	id := v.Play(samplePad("a", audio.FrameSize/2, true), nil)
	for i := 0; i < 4; i++ {
		v.Render(make([]int16, audio.FrameSamples))
	}
	if !v.Live(id) {
		t.Error("Looping voice should never end on its own")
	}

	v.SetLoop(id, false)
	v.Render(make([]int16, audio.FrameSamples))
	if v.Live(id) {
		t.Error("Voice should end once looping is turned off")
	}
}

func TestRateScalesSampleSpeed(t *testing.T) {
	v := NewVoices(newManualClock())
	v.SetRate(2)
	id := v.Play(samplePad("a", 2*audio.FrameSize, false), nil)
	v.Render(make([]int16, audio.FrameSamples))
	if v.Live(id) {
		t.Error("Double-rate voice should consume two frames of source per output frame")
	}
}

func TestSynthVoiceSetLoopIgnored(t *testing.T) {
	v := NewVoices(newManualClock())
	p := &Pad{ID: "s", Settings: Settings{Volume: 1}, Source: &SynthSource{Frequencies: []float64{440}, Waveform: Sine}}
	id := v.Play(p, nil)
	v.SetLoop(id, true)
	if info, _ := v.Info(id); info.Loop || info.Kind != "synth" {
		t.Errorf("Synth voice info = %+v", info)
	}
}

func TestStopPadAndStopAll(t *testing.T) {
	v := NewVoices(newManualClock())
	v.Play(samplePad("a", audio.SampleRate, false), nil)
	v.Play(samplePad("a", audio.SampleRate, false), nil)
	v.Play(samplePad("b", audio.SampleRate, false), nil)

	if n := v.StopPad("a"); n != 2 {
		t.Errorf("StopPad = %d, want 2", n)
	}
	if n := v.StopAll(); n != 1 {
		t.Errorf("StopAll = %d, want 1", n)
	}
	if v.Count() != 0 || v.Created() != 3 {
		t.Errorf("Count=%d Created=%d", v.Count(), v.Created())
	}
}

func TestMixSaturates(t *testing.T) {
	v := NewVoices(newManualClock())
	for i := 0; i < 8; i++ {
		p := samplePad("a", audio.SampleRate, false)
		p.Settings.Volume = 1
		v.Play(p, nil)
	}
	frame := make([]int16, audio.FrameSamples)
	v.Render(frame)
	if frame[0] != math.MaxInt16 {
		t.Errorf("Sample = %d, want saturated %d", frame[0], math.MaxInt16)
	}
}

// --- Synth ---

func TestOscillators(t *testing.T) {
	tests := []struct {
		w     Waveform
		phase float64
		want  float64
	}{
		{Sine, 0.25, 1},
		{Square, 0.25, 1},
		{Square, 0.75, -1},
		{Sawtooth, 0, -1},
		{Sawtooth, 0.5, 0},
		{Triangle, 0, -1},
		{Triangle, 0.25, 0},
		{Triangle, 0.5, 1},
	}
	for _, tt := range tests {
		if got := oscillate(tt.w, tt.phase); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("oscillate(%s, %v) = %v, want %v", tt.w, tt.phase, got, tt.want)
		}
	}
}

func TestEnvelopeShape(t *testing.T) {
	length := toSamples(NoteLength)
	attack := toSamples(AttackTime)
	release := toSamples(ReleaseTime)

	if envelope(0, length) != 0 {
		t.Error("Envelope should start at zero")
	}
	if envelope(attack/2, length) != 0.5 {
		t.Errorf("Mid-attack = %v, want 0.5", envelope(attack/2, length))
	}
	if envelope(length/2, length) != 1 {
		t.Error("Envelope should hold at full level")
	}
	if got := envelope(length-release/2, length); got != 0.5 {
		t.Errorf("Mid-release = %v, want 0.5", got)
	}
	if envelope(length, length) != 0 || envelope(-1, length) != 0 {
		t.Error("Envelope should be silent outside the note")
	}
	for i := 0; i < length; i += 97 {
		if g := envelope(i, length); g < 0 || g > 1 {
			t.Fatalf("envelope(%d) = %v out of [0, 1]", i, g)
		}
	}
}

func TestSynthGroupChordAndArpeggio(t *testing.T) {
	chord := newSynthGroup(&SynthSource{Frequencies: []float64{261.63, 329.63, 392}, Waveform: Sine})
	for i, n := range chord.notes {
		if n.delay != 0 {
			t.Errorf("Chord note %d delay = %d, want 0", i, n.delay)
		}
	}
	if chord.end != toSamples(NoteLength) {
		t.Errorf("Chord end = %d, want %d", chord.end, toSamples(NoteLength))
	}

	arp := newSynthGroup(&SynthSource{Frequencies: []float64{1, 2, 3}, Waveform: Square, Arpeggio: true})
	step := toSamples(DefaultStagger)
	for i, n := range arp.notes {
		if n.delay != i*step {
			t.Errorf("Arp note %d delay = %d, want %d", i, n.delay, i*step)
		}
	}
	if want := 2*step + toSamples(NoteLength); arp.end != want {
		t.Errorf("Arp end = %d, want %d", arp.end, want)
	}
}

func TestSynthVoiceRendersAndEnds(t *testing.T) {
	v := NewVoices(newManualClock())
	p := &Pad{ID: "s", Settings: Settings{Volume: 0.5}, Source: &SynthSource{Frequencies: []float64{440}, Waveform: Square}}
	id := v.Play(p, nil)

	frames := toSamples(NoteLength) / audio.FrameSize
	var loud bool
	for i := 0; i < frames; i++ {
		frame := make([]int16, audio.FrameSamples)
		v.Render(frame)
		for _, s := range frame {
			if s != 0 {
				loud = true
			}
		}
		if i < frames-1 && !v.Live(id) {
			t.Fatalf("Synth voice ended early at frame %d", i)
		}
	}
	if !loud {
		t.Error("Synth voice rendered silence")
	}
	if v.Live(id) {
		t.Error("Synth voice should end after its note length")
	}
}
