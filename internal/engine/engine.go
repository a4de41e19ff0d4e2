package engine

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/satindergrewal/padloop/internal/audio"
)

// DefaultTrailingBuffer is added after the last recorded event so its
// voice has time to finish before the loop ends.
const DefaultTrailingBuffer = time.Second

// Options configures an Engine. Zero values pick the defaults.
type Options struct {
	Clock          Clock
	Pads           []*Pad
	TrailingBuffer time.Duration
	RepeatPolicy   RepeatPolicy
	PlaybackRate   float64
	Store          *LoopStore
}

// Engine is the sound source registry. It maps pads to voices and owns
// the loop recorder and player. All methods are safe for concurrent use.
type Engine struct {
	clock    Clock
	voices   *Voices
	trailing time.Duration
	store    *LoopStore
	updates  chan struct{}

	mu       sync.Mutex
	pads     []*Pad
	byID     map[string]*Pad
	selected string
	rec      Recorder
	player   player
	loops    []*Loop
	loopSeq  int
}

// New creates an engine. Saved loops are loaded from opts.Store when set.
func New(opts Options) (*Engine, error) {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Pads == nil {
		opts.Pads = DefaultPads()
	}
	if opts.TrailingBuffer <= 0 {
		opts.TrailingBuffer = DefaultTrailingBuffer
	}

	e := &Engine{
		clock:    opts.Clock,
		voices:   NewVoices(opts.Clock),
		trailing: opts.TrailingBuffer,
		store:    opts.Store,
		updates:  make(chan struct{}, 1),
		pads:     opts.Pads,
		byID:     make(map[string]*Pad, len(opts.Pads)),
		player:   player{policy: opts.RepeatPolicy},
	}
	for i, p := range opts.Pads {
		p.index = i
		e.byID[p.ID] = p
	}
	if opts.PlaybackRate > 0 {
		e.voices.SetRate(opts.PlaybackRate)
	}
	e.voices.SetEndHandler(e.voiceEnded)

	if opts.Store != nil {
		loops, err := opts.Store.Load()
		if err != nil {
			return nil, err
		}
		// Numbering continues past the saved count and the highest "Loop N".
		e.loopSeq = len(loops)
		for _, l := range loops {
			if l.repair(e.trailing) {
				log.Printf("Repaired saved loop %s (%q): duration now %v", l.ID, l.Name, l.Duration)
			}
			if n, ok := loopNumber(l.Name); ok && n > e.loopSeq {
				e.loopSeq = n
			}
		}
		e.loops = loops
		if len(loops) > 0 {
			log.Printf("Loaded %d saved loops from %s", len(loops), opts.Store.Path())
		}
	}
	return e, nil
}

// Voices exposes the voice engine.
func (e *Engine) Voices() *Voices { return e.voices }

// Render mixes the live voices into frame; Engine is an audio.FrameSource.
func (e *Engine) Render(frame []int16) { e.voices.Render(frame) }

// Updates delivers a signal after state changes. Signals coalesce, so a
// reader should take a fresh Snapshot on every receive.
func (e *Engine) Updates() <-chan struct{} { return e.updates }

func (e *Engine) notify() {
	select {
	case e.updates <- struct{}{}:
	default:
	}
}

func (e *Engine) pad(padID string) (*Pad, error) {
	p, ok := e.byID[padID]
	if !ok {
		log.Printf("Unknown pad %q", padID)
		return nil, fmt.Errorf("pad %s: %w", padID, ErrUnknownPad)
	}
	return p, nil
}

// Trigger plays a pad. Empty and unknown pads are no-ops reported as
// ErrPadEmpty and ErrUnknownPad. While recording, the trigger is captured.
func (e *Engine) Trigger(padID string) (VoiceID, error) {
	e.mu.Lock()
	id, err := e.triggerLocked(padID, true)
	e.mu.Unlock()
	if err == nil {
		e.notify()
	}
	return id, err
}

func (e *Engine) triggerLocked(padID string, record bool) (VoiceID, error) {
	p, err := e.pad(padID)
	if err != nil {
		return NoVoice, err
	}
	if p.Empty() {
		return NoVoice, fmt.Errorf("trigger %s: %w", padID, ErrPadEmpty)
	}

	if !p.Settings.Polyphonic {
		e.voices.StopPad(p.ID)
	}
	id := e.voices.Play(p, nil)
	if id == NoVoice {
		return NoVoice, fmt.Errorf("trigger %s: %w", padID, ErrPadEmpty)
	}
	p.voice = id

	if record && e.rec.Recording() {
		e.rec.Append(p.ID, e.clock.Now())
	}
	return id, nil
}

// voiceEnded clears the pad slot after a natural end, unless a newer
// voice already replaced it.
func (e *Engine) voiceEnded(padID string, id VoiceID) {
	e.mu.Lock()
	if p, ok := e.byID[padID]; ok && p.voice == id {
		p.voice = NoVoice
	}
	e.mu.Unlock()
	e.notify()
}

// Stop ends every live voice of a pad. Stopping a silent pad is a no-op.
func (e *Engine) Stop(padID string) error {
	e.mu.Lock()
	p, err := e.pad(padID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.voices.StopPad(p.ID)
	p.voice = NoVoice
	e.mu.Unlock()
	e.notify()
	return nil
}

// StopAll silences every pad and cancels loop playback.
func (e *Engine) StopAll() {
	e.mu.Lock()
	e.stopPlaybackLocked()
	e.voices.StopAll()
	for _, p := range e.pads {
		p.voice = NoVoice
	}
	e.mu.Unlock()
	e.notify()
}

// UpdateSettings merges a partial settings change. Volume and loop apply to
// the pad's live voice immediately; turning polyphony off stops it.
func (e *Engine) UpdateSettings(padID string, upd SettingsUpdate) (Settings, error) {
	e.mu.Lock()
	defer e.notify()
	defer e.mu.Unlock()

	p, err := e.pad(padID)
	if err != nil {
		return Settings{}, err
	}
	if upd.Volume != nil {
		p.Settings.Volume = clamp01(*upd.Volume)
		e.voices.SetGain(p.voice, p.Settings.Volume)
	}
	if upd.Loop != nil {
		p.Settings.Loop = *upd.Loop
		e.voices.SetLoop(p.voice, p.Settings.Loop)
	}
	if upd.Polyphonic != nil {
		p.Settings.Polyphonic = *upd.Polyphonic
		if !p.Settings.Polyphonic && e.voices.LiveCount(p.ID) > 0 {
			e.voices.StopPad(p.ID)
			p.voice = NoVoice
		}
	}
	return p.Settings, nil
}

// Load decodes audio bytes into a pad. Decoding happens outside the engine
// lock. On failure the pad keeps its previous buffer and the returned error
// wraps *audio.DecodeError.
func (e *Engine) Load(padID string, data []byte, filename string) error {
	e.mu.Lock()
	_, err := e.pad(padID)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	buf, err := audio.Decode(data)
	if err != nil {
		log.Printf("Load %s (%s) failed: %v", padID, filename, err)
		return fmt.Errorf("load %s: %w", padID, err)
	}
	return e.SetSample(padID, buf, filename)
}

// SetSample installs an already decoded buffer. The display name follows
// the file name, without its extension.
func (e *Engine) SetSample(padID string, buf *audio.Buffer, filename string) error {
	if buf == nil || buf.Frames() == 0 {
		return fmt.Errorf("set sample %s: %w", padID, ErrInvalid)
	}

	e.mu.Lock()
	p, err := e.pad(padID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	p.Source = &SampleSource{Buffer: buf, Filename: filename}
	if name := displayName(filename); name != "" {
		p.Name = name
	}
	p.generating = false
	e.mu.Unlock()

	log.Printf("Loaded %s into %s (%v, %d Hz, %d ch)", filename, padID, buf.Duration().Round(time.Millisecond), buf.SampleRate, buf.Channels)
	e.notify()
	return nil
}

// Sample returns the decoded buffer of a sample pad and its file name.
func (e *Engine) Sample(padID string) (*audio.Buffer, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.pad(padID)
	if err != nil {
		return nil, "", err
	}
	src, ok := p.Source.(*SampleSource)
	if !ok || src.Buffer == nil {
		return nil, "", fmt.Errorf("sample %s: %w", padID, ErrPadEmpty)
	}
	return src.Buffer, src.Filename, nil
}

func displayName(filename string) string {
	base := filepath.Base(filename)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// SetSynth turns a pad into a synth pad.
func (e *Engine) SetSynth(padID, name string, src SynthSource) error {
	if len(src.Frequencies) == 0 || !src.Waveform.Valid() {
		return fmt.Errorf("set synth %s: %w", padID, ErrInvalid)
	}
	for _, f := range src.Frequencies {
		if f <= 0 {
			return fmt.Errorf("set synth %s: frequency %v: %w", padID, f, ErrInvalid)
		}
	}

	e.mu.Lock()
	p, err := e.pad(padID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	src.Frequencies = append([]float64(nil), src.Frequencies...)
	p.Source = &src
	if name != "" {
		p.Name = name
	}
	e.mu.Unlock()
	e.notify()
	return nil
}

// Remove stops the pad, clears its payload and restores its default label.
func (e *Engine) Remove(padID string) error {
	e.mu.Lock()
	p, err := e.pad(padID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.voices.StopPad(p.ID)
	p.voice = NoVoice
	p.Source = nil
	p.Name = defaultName(p.index)
	p.generating = false
	e.mu.Unlock()
	e.notify()
	return nil
}

// SetGenerating marks a pad as waiting for a generated sound.
func (e *Engine) SetGenerating(padID string, generating bool) error {
	e.mu.Lock()
	p, err := e.pad(padID)
	if err == nil {
		p.generating = generating
	}
	e.mu.Unlock()
	if err == nil {
		e.notify()
	}
	return err
}

// PadForKey maps a key to a pad by exact, case-insensitive match.
func (e *Engine) PadForKey(key string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.pads {
		if strings.EqualFold(p.Key, key) {
			return p.ID, true
		}
	}
	return "", false
}

// PadAt returns the id of the pad at a grid position.
func (e *Engine) PadAt(index int) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.pads) {
		return "", false
	}
	return e.pads[index].ID, true
}

// HandleKey routes a key press. With a modifier held the pad is selected
// for settings, otherwise it is triggered.
func (e *Engine) HandleKey(key string, modifier bool) (string, VoiceID, error) {
	padID, ok := e.PadForKey(key)
	if !ok {
		return "", NoVoice, fmt.Errorf("key %q: %w", key, ErrUnknownPad)
	}
	if modifier {
		return padID, NoVoice, e.Select(padID)
	}
	id, err := e.Trigger(padID)
	return padID, id, err
}

// Select marks a pad as the one whose settings are displayed.
func (e *Engine) Select(padID string) error {
	e.mu.Lock()
	_, err := e.pad(padID)
	if err == nil {
		e.selected = padID
	}
	e.mu.Unlock()
	if err == nil {
		e.notify()
	}
	return err
}

// SetPlaybackRate sets the global rate multiplier applied to sample speed
// and synth pitch.
func (e *Engine) SetPlaybackRate(rate float64) error {
	if rate <= 0 || rate > 4 {
		return fmt.Errorf("playback rate %v: %w", rate, ErrInvalid)
	}
	e.voices.SetRate(rate)
	e.notify()
	return nil
}

// StartRecording begins capturing triggers. It is rejected while a loop plays.
func (e *Engine) StartRecording() error {
	e.mu.Lock()
	if e.player.playing() {
		e.mu.Unlock()
		return fmt.Errorf("start recording: %w", ErrPlaying)
	}
	e.rec.Start(e.clock.Now())
	e.mu.Unlock()

	log.Println("Recording started")
	e.notify()
	return nil
}

// RecordingResult describes a finalized recording.
type RecordingResult struct {
	Loop   Loop
	Events int
}

// StopRecording finalizes the recording into a new loop. A recording
// without events yields ErrEmptyRecording and creates nothing.
func (e *Engine) StopRecording() (RecordingResult, error) {
	e.mu.Lock()
	events := e.rec.Stop()
	if len(events) == 0 {
		e.mu.Unlock()
		log.Println("Recording stopped: no events captured")
		e.notify()
		return RecordingResult{}, ErrEmptyRecording
	}

	e.loopSeq++
	loop := &Loop{
		ID:        uuid.NewString(),
		Name:      fmt.Sprintf("Loop %d", e.loopSeq),
		Events:    events,
		Duration:  events[len(events)-1].Offset + e.trailing,
		CreatedAt: e.clock.Now(),
	}
	e.loops = append(e.loops, loop)
	e.persistLocked()
	res := RecordingResult{Loop: loop.clone(), Events: len(events)}
	e.mu.Unlock()

	log.Printf("Recording stopped: %s with %d events (%v)", loop.Name, len(events), loop.Duration)
	e.notify()
	return res, nil
}

func (e *Engine) persistLocked() {
	if e.store == nil {
		return
	}
	if err := e.store.Save(e.loops); err != nil {
		log.Printf("Saving loops failed: %v", err)
	}
}

func (e *Engine) loopIndex(id string) int {
	for i, l := range e.loops {
		if l.ID == id {
			return i
		}
	}
	return -1
}

// Loops returns copies of the saved loops in creation order.
func (e *Engine) Loops() []Loop {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Loop, len(e.loops))
	for i, l := range e.loops {
		out[i] = l.clone()
	}
	return out
}

// Loop returns a copy of one saved loop.
func (e *Engine) Loop(id string) (Loop, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i := e.loopIndex(id); i >= 0 {
		return e.loops[i].clone(), true
	}
	return Loop{}, false
}

// RenameLoop changes only the loop's name.
func (e *Engine) RenameLoop(id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("rename loop: empty name: %w", ErrInvalid)
	}

	e.mu.Lock()
	i := e.loopIndex(id)
	if i < 0 {
		e.mu.Unlock()
		log.Printf("Rename: unknown loop %q", id)
		return fmt.Errorf("loop %s: %w", id, ErrUnknownLoop)
	}
	e.loops[i].Name = name
	e.persistLocked()
	e.mu.Unlock()
	e.notify()
	return nil
}

// DeleteLoop removes a loop, stopping it first if it is playing.
func (e *Engine) DeleteLoop(id string) error {
	e.mu.Lock()
	i := e.loopIndex(id)
	if i < 0 {
		e.mu.Unlock()
		log.Printf("Delete: unknown loop %q", id)
		return fmt.Errorf("loop %s: %w", id, ErrUnknownLoop)
	}
	if s := e.player.sess; s != nil && s.loop.ID == id {
		e.stopPlaybackLocked()
	}
	e.loops = append(e.loops[:i], e.loops[i+1:]...)
	e.persistLocked()
	e.mu.Unlock()
	e.notify()
	return nil
}
