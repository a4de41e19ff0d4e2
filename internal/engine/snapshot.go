package engine

// PadState is the render view of one pad.
type PadState struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Key        string  `json:"key"`
	Color      string  `json:"color"`
	Kind       string  `json:"kind"`
	HasBuffer  bool    `json:"hasBuffer"`
	HasSynth   bool    `json:"hasSynth"`
	Filename   string  `json:"filename,omitempty"`
	Active     bool    `json:"active"`
	Generating bool    `json:"generating"`
	Volume     float64 `json:"volume"`
	Loop       bool    `json:"loop"`
	Polyphonic bool    `json:"polyphonic"`
}

// RecordingState is the render view of the recorder.
type RecordingState struct {
	Active bool `json:"active"`
	Count  int  `json:"count"`
}

// PlaybackState is the render view of the loop player.
type PlaybackState struct {
	LoopID   string  `json:"loopId,omitempty"`
	Progress float64 `json:"progress"`
	Repeat   bool    `json:"repeat"`
	Policy   string  `json:"policy"`
}

// LoopState is the render view of a saved loop.
type LoopState struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Events         int    `json:"events"`
	DurationMillis int64  `json:"durationMillis"`
}

// Snapshot is everything a presentation layer needs to draw.
type Snapshot struct {
	Pads         []PadState     `json:"pads"`
	Selected     string         `json:"selected,omitempty"`
	Recording    RecordingState `json:"recording"`
	Playback     PlaybackState  `json:"playback"`
	Loops        []LoopState    `json:"loops"`
	PlaybackRate float64        `json:"playbackRate"`
	LiveVoices   int            `json:"liveVoices"`
}

// Snapshot returns a consistent read-only view of the engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Pads:     make([]PadState, len(e.pads)),
		Selected: e.selected,
		Recording: RecordingState{
			Active: e.rec.Recording(),
			Count:  e.rec.Count(),
		},
		Playback: PlaybackState{
			Progress: e.progressLocked(),
			Repeat:   e.player.repeat,
			Policy:   e.player.policy.String(),
		},
		Loops:        make([]LoopState, len(e.loops)),
		PlaybackRate: e.voices.Rate(),
		LiveVoices:   e.voices.Count(),
	}
	if e.player.sess != nil {
		s.Playback.LoopID = e.player.sess.loop.ID
	}

	for i, p := range e.pads {
		ps := PadState{
			ID:         p.ID,
			Name:       p.Name,
			Key:        p.Key,
			Color:      p.Color,
			Kind:       p.Kind(),
			Active:     e.voices.LiveCount(p.ID) > 0,
			Generating: p.generating,
			Volume:     p.Settings.Volume,
			Loop:       p.Settings.Loop,
			Polyphonic: p.Settings.Polyphonic,
		}
		switch src := p.Source.(type) {
		case *SampleSource:
			ps.HasBuffer = src.Buffer != nil
			ps.Filename = src.Filename
		case *SynthSource:
			ps.HasSynth = len(src.Frequencies) > 0
		}
		s.Pads[i] = ps
	}

	for i, l := range e.loops {
		s.Loops[i] = LoopState{
			ID:             l.ID,
			Name:           l.Name,
			Events:         len(l.Events),
			DurationMillis: l.Duration.Milliseconds(),
		}
	}
	return s
}
