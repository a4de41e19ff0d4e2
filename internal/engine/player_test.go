package engine

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/satindergrewal/padloop/internal/audio"
)

// recordAB records pad-1 at 0ms and pad-2 at 500ms, giving a 1500ms loop
// with the default trailing buffer.
func recordAB(t *testing.T, e *Engine, clk *manualClock) Loop {
	t.Helper()
	mustSample(t, e, "pad-1", 2*audio.SampleRate)
	mustSample(t, e, "pad-2", 2*audio.SampleRate)

	if err := e.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	e.Trigger("pad-1")
	clk.Advance(500 * time.Millisecond)
	e.Trigger("pad-2")
	res, err := e.StopRecording()
	if err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	e.StopAll()
	return res.Loop
}

// --- Recorder ---

func TestRecordingOffsetsAreMonotonic(t *testing.T) {
	e, clk := newTestEngine(t, Options{})
	mustSample(t, e, "pad-1", audio.SampleRate)

	e.StartRecording()
	e.Trigger("pad-1")
	e.Trigger("pad-13")
	clk.Advance(100 * time.Millisecond)
	e.Trigger("pad-1")
	clk.Advance(150 * time.Millisecond)
	e.Trigger("pad-14")
	res, err := e.StopRecording()
	if err != nil {
		t.Fatal(err)
	}

	want := []time.Duration{0, 0, 100 * time.Millisecond, 250 * time.Millisecond}
	if len(res.Loop.Events) != len(want) {
		t.Fatalf("Events = %d, want %d", len(res.Loop.Events), len(want))
	}
	for i, ev := range res.Loop.Events {
		if ev.Offset != want[i] {
			t.Errorf("Event %d offset = %v, want %v", i, ev.Offset, want[i])
		}
	}
}

func TestRecorderClampsBackwardsClock(t *testing.T) {
	var r Recorder
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.Start(start)
	r.Append("a", start.Add(200*time.Millisecond))
	r.Append("b", start.Add(100*time.Millisecond))
	r.Append("c", start.Add(-time.Second))

	events := r.Stop()
	for i, ev := range events {
		if ev.Offset != 200*time.Millisecond {
			t.Errorf("Event %d offset = %v, want 200ms", i, ev.Offset)
		}
	}
	if r.Recording() || r.Count() != 0 {
		t.Error("Stop should reset the recorder")
	}
}

func TestFailedTriggersAreNotRecorded(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	e.StartRecording()
	e.Trigger("pad-1") // empty
	e.Trigger("pad-99")
	if n := e.Snapshot().Recording.Count; n != 0 {
		t.Errorf("Recorded %d events, want 0", n)
	}
}

func TestLoopDurationCoversLastEvent(t *testing.T) {
	e, clk := newTestEngine(t, Options{TrailingBuffer: 300 * time.Millisecond})
	e.StartRecording()
	clk.Advance(40 * time.Millisecond)
	e.Trigger("pad-13")
	clk.Advance(960 * time.Millisecond)
	e.Trigger("pad-15")
	res, _ := e.StopRecording()

	last := res.Loop.Events[len(res.Loop.Events)-1].Offset
	if res.Loop.Duration < last {
		t.Errorf("Duration %v shorter than last offset %v", res.Loop.Duration, last)
	}
	if res.Loop.Duration != time.Second+300*time.Millisecond {
		t.Errorf("Duration = %v, want 1.3s", res.Loop.Duration)
	}
	if res.Loop.Name != "Loop 1" || res.Loop.ID == "" {
		t.Errorf("Loop identity = %q %q", res.Loop.ID, res.Loop.Name)
	}
}

func TestEmptyRecordingCreatesNothing(t *testing.T) {
	e, clk := newTestEngine(t, Options{})
	recordAB(t, e, clk)

	e.StartRecording()
	clk.Advance(time.Second)
	if _, err := e.StopRecording(); !errors.Is(err, ErrEmptyRecording) {
		t.Errorf("StopRecording error = %v, want ErrEmptyRecording", err)
	}
	if n := len(e.Loops()); n != 1 {
		t.Errorf("Loops = %d, want 1", n)
	}
	if e.Snapshot().Recording.Active {
		t.Error("Recorder should be idle")
	}
}

func TestRecordingAndPlaybackExclude(t *testing.T) {
	e, clk := newTestEngine(t, Options{})
	loop := recordAB(t, e, clk)

	e.PlayLoop(loop.ID)
	if err := e.StartRecording(); !errors.Is(err, ErrPlaying) {
		t.Errorf("StartRecording while playing = %v, want ErrPlaying", err)
	}
	e.StopLoop()

	e.StartRecording()
	if err := e.PlayLoop(loop.ID); !errors.Is(err, ErrRecording) {
		t.Errorf("PlayLoop while recording = %v, want ErrRecording", err)
	}
}

// --- Loop management ---

func TestRenameLoopTouchesOnlyName(t *testing.T) {
	e, clk := newTestEngine(t, Options{})
	before := recordAB(t, e, clk)

	if err := e.RenameLoop(before.ID, "  Drums  "); err != nil {
		t.Fatal(err)
	}
	after, ok := e.Loop(before.ID)
	if !ok {
		t.Fatal("Loop vanished after rename")
	}
	if after.Name != "Drums" {
		t.Errorf("Name = %q, want Drums", after.Name)
	}
	if !reflect.DeepEqual(after.Events, before.Events) || after.Duration != before.Duration || !after.CreatedAt.Equal(before.CreatedAt) {
		t.Error("Rename changed more than the name")
	}

	if err := e.RenameLoop(before.ID, " "); !errors.Is(err, ErrInvalid) {
		t.Errorf("Empty rename error = %v, want ErrInvalid", err)
	}
	if err := e.RenameLoop("nope", "x"); !errors.Is(err, ErrUnknownLoop) {
		t.Errorf("Unknown rename error = %v, want ErrUnknownLoop", err)
	}
}

func TestDeletePlayingLoopStopsIt(t *testing.T) {
	e, clk := newTestEngine(t, Options{})
	loop := recordAB(t, e, clk)

	e.PlayLoop(loop.ID)
	clk.Advance(0)
	if err := e.DeleteLoop(loop.ID); err != nil {
		t.Fatal(err)
	}
	if _, playing := e.CurrentLoop(); playing {
		t.Error("Deleted loop still playing")
	}
	if clk.pending() != 0 {
		t.Errorf("Pending timers = %d, want 0", clk.pending())
	}
	if len(e.Loops()) != 0 {
		t.Error("Loop not deleted")
	}
}

func TestLoopsPersistAcrossEngines(t *testing.T) {
	store := NewLoopStore(filepath.Join(t.TempDir(), "state", "loops.json"))
	e, clk := newTestEngine(t, Options{Store: store})
	loop := recordAB(t, e, clk)
	e.RenameLoop(loop.ID, "Groove")

	reloaded, _ := newTestEngine(t, Options{Store: store})
	loops := reloaded.Loops()
	if len(loops) != 1 {
		t.Fatalf("Reloaded %d loops, want 1", len(loops))
	}
	got := loops[0]
	if got.ID != loop.ID || got.Name != "Groove" || got.Duration != loop.Duration {
		t.Errorf("Reloaded loop = %+v", got)
	}
	if !reflect.DeepEqual(got.Events, loop.Events) {
		t.Errorf("Events = %v, want %v", got.Events, loop.Events)
	}

	mustSample(t, reloaded, "pad-1", audio.SampleRate)
	reloaded.StartRecording()
	reloaded.Trigger("pad-1")
	res, _ := reloaded.StopRecording()
	if res.Loop.Name != "Loop 2" {
		t.Errorf("Next loop name = %q, want Loop 2", res.Loop.Name)
	}
}

func TestLoopStoreMissingFile(t *testing.T) {
	store := NewLoopStore(filepath.Join(t.TempDir(), "missing.json"))
	loops, err := store.Load()
	if err != nil || loops != nil {
		t.Errorf("Load missing = (%v, %v), want (nil, nil)", loops, err)
	}
}

func writeLoops(t *testing.T, body string) *LoopStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loops.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return NewLoopStore(path)
}

func TestLoopStoreDropsNullEntries(t *testing.T) {
	store := writeLoops(t, `[null, {"id":"a","name":"Keep","durationMillis":1500,
		"events":[{"padId":"pad-1","offsetMillis":0}]}, {"id":"b","name":"Hollow","durationMillis":900,"events":[]}]`)
	loops, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loops) != 1 || loops[0].ID != "a" {
		t.Fatalf("Loaded %+v, want only loop a", loops)
	}
}

func TestEngineSurvivesNullSavedLoop(t *testing.T) {
	store := writeLoops(t, `[null, {"id":"a","name":"Keep","durationMillis":1500,
		"events":[{"padId":"pad-1","offsetMillis":0}]}]`)
	e, _ := newTestEngine(t, Options{Store: store})

	if got := len(e.Loops()); got != 1 {
		t.Fatalf("Loops = %d, want 1", got)
	}
	if got := len(e.Snapshot().Loops); got != 1 {
		t.Errorf("Snapshot loops = %d, want 1", got)
	}
	if err := e.PlayLoop("missing"); !errors.Is(err, ErrUnknownLoop) {
		t.Errorf("PlayLoop(missing) = %v, want ErrUnknownLoop", err)
	}
}

func TestSavedLoopWithZeroDurationIsRepaired(t *testing.T) {
	store := writeLoops(t, `[{"id":"z","name":"Zero","durationMillis":0,
		"events":[{"padId":"pad-1","offsetMillis":0},{"padId":"pad-2","offsetMillis":500}]}]`)
	e, clk := newTestEngine(t, Options{Store: store})
	mustSample(t, e, "pad-1", audio.SampleRate)
	mustSample(t, e, "pad-2", audio.SampleRate)

	loop, ok := e.Loop("z")
	if !ok {
		t.Fatal("Loop z missing after load")
	}
	if loop.Duration != 1500*time.Millisecond {
		t.Fatalf("Duration = %v, want 1.5s", loop.Duration)
	}

	// Repeating a repaired loop advances one cycle at a time
	base := e.Voices().Created()
	e.ToggleRepeat()
	if err := e.PlayLoop("z"); err != nil {
		t.Fatalf("PlayLoop: %v", err)
	}
	clk.Advance(0)
	if got := e.Voices().Created() - base; got != 1 {
		t.Errorf("Triggers at start = %d, want 1", got)
	}
	if n := clk.pending(); n != 2 {
		t.Errorf("Pending timers = %d, want 2", n)
	}
	clk.Advance(1500 * time.Millisecond)
	if got := e.Voices().Created() - base; got != 3 {
		t.Errorf("Triggers after one cycle = %d, want 3", got)
	}
	e.StopAll()
}

func TestSavedLoopEndingBeforeLastEventIsRepaired(t *testing.T) {
	store := writeLoops(t, `[{"id":"s","name":"Short","durationMillis":100,
		"events":[{"padId":"pad-3","offsetMillis":800},{"padId":"pad-1","offsetMillis":200}]}]`)
	e, _ := newTestEngine(t, Options{Store: store, TrailingBuffer: 250 * time.Millisecond})

	loop, _ := e.Loop("s")
	if loop.Events[1].Offset != 800*time.Millisecond {
		t.Errorf("Second offset = %v, want clamped to 800ms", loop.Events[1].Offset)
	}
	if loop.Duration != 1050*time.Millisecond {
		t.Errorf("Duration = %v, want 1.05s", loop.Duration)
	}
}

func TestLoopNamesContinueAfterDelete(t *testing.T) {
	store := NewLoopStore(filepath.Join(t.TempDir(), "loops.json"))
	e, clk := newTestEngine(t, Options{Store: store})
	var first Loop
	for i := 0; i < 3; i++ {
		l := recordAB(t, e, clk)
		if i == 0 {
			first = l
		}
	}
	if err := e.DeleteLoop(first.ID); err != nil {
		t.Fatalf("DeleteLoop: %v", err)
	}

	reloaded, clk2 := newTestEngine(t, Options{Store: store})
	next := recordAB(t, reloaded, clk2)
	if next.Name != "Loop 4" {
		t.Errorf("Next loop name = %q, want Loop 4", next.Name)
	}
	seen := map[string]bool{}
	for _, l := range reloaded.Loops() {
		if seen[l.Name] {
			t.Errorf("Duplicate loop name %q", l.Name)
		}
		seen[l.Name] = true
	}
}

// --- Player ---

func TestReplayFidelity(t *testing.T) {
	e, clk := newTestEngine(t, Options{})
	loop := recordAB(t, e, clk)
	if loop.Duration != 1500*time.Millisecond {
		t.Fatalf("Duration = %v, want 1.5s", loop.Duration)
	}
	base := e.Voices().Created()

	if err := e.PlayLoop(loop.ID); err != nil {
		t.Fatal(err)
	}
	clk.Advance(0)
	if e.Voices().LiveCount("pad-1") != 1 || e.Voices().LiveCount("pad-2") != 0 {
		t.Fatal("Only pad-1 should sound at offset 0")
	}

	clk.Advance(499 * time.Millisecond)
	if e.Voices().LiveCount("pad-2") != 0 {
		t.Fatal("pad-2 fired early")
	}
	clk.Advance(time.Millisecond)
	if e.Voices().LiveCount("pad-2") != 1 {
		t.Fatal("pad-2 should fire at 500ms")
	}

	clk.Advance(999 * time.Millisecond)
	if _, playing := e.CurrentLoop(); !playing {
		t.Fatal("Loop ended before its duration")
	}
	clk.Advance(time.Millisecond)
	if _, playing := e.CurrentLoop(); playing {
		t.Fatal("Loop should stop at its duration")
	}

	clk.Advance(5 * time.Second)
	if got := e.Voices().Created() - base; got != 2 {
		t.Errorf("Triggers during playback = %d, want 2", got)
	}
	if clk.pending() != 0 {
		t.Errorf("Pending timers = %d, want 0", clk.pending())
	}
}

func TestPlaybackIsNotRecorded(t *testing.T) {
	e, clk := newTestEngine(t, Options{})
	loop := recordAB(t, e, clk)
	e.PlayLoop(loop.ID)
	clk.Advance(2 * time.Second)

	after, _ := e.Loop(loop.ID)
	if len(after.Events) != 2 || len(e.Loops()) != 1 {
		t.Error("Playback changed the saved loops")
	}
}

func TestRepeatReschedules(t *testing.T) {
	e, clk := newTestEngine(t, Options{})
	loop := recordAB(t, e, clk)
	base := e.Voices().Created()

	if !e.ToggleRepeat() {
		t.Fatal("ToggleRepeat should enable repeat")
	}
	e.PlayLoop(loop.ID)
	clk.Advance(1500 * time.Millisecond)
	// pad-1, pad-2, then pad-1 again at the start of cycle two
	if got := e.Voices().Created() - base; got != 3 {
		t.Errorf("Triggers after one cycle = %d, want 3", got)
	}

	// Disabling repeat lets the current cycle finish
	if e.ToggleRepeat() {
		t.Fatal("ToggleRepeat should disable repeat")
	}
	clk.Advance(1500 * time.Millisecond)
	if got := e.Voices().Created() - base; got != 4 {
		t.Errorf("Triggers after two cycles = %d, want 4", got)
	}
	if _, playing := e.CurrentLoop(); playing {
		t.Error("Loop should stop after the final cycle")
	}
}

func TestStopLoopCancelsPendingTriggers(t *testing.T) {
	e, clk := newTestEngine(t, Options{})
	loop := recordAB(t, e, clk)
	e.ToggleRepeat()
	e.PlayLoop(loop.ID)
	clk.Advance(100 * time.Millisecond)
	base := e.Voices().Created()

	e.StopLoop()
	if e.Voices().LiveCount("pad-1") != 0 {
		t.Error("StopLoop should silence the loop's pads")
	}
	if clk.pending() != 0 {
		t.Errorf("Pending timers = %d, want 0", clk.pending())
	}
	if e.Repeat() {
		t.Error("StopLoop should clear repeat")
	}

	clk.Advance(5 * time.Second)
	if e.Voices().Created() != base {
		t.Error("A cancelled trigger fired")
	}

	e.StopLoop()
}

func TestStopAllCancelsPlayback(t *testing.T) {
	e, clk := newTestEngine(t, Options{})
	loop := recordAB(t, e, clk)
	e.PlayLoop(loop.ID)
	clk.Advance(0)

	e.StopAll()
	if _, playing := e.CurrentLoop(); playing || clk.pending() != 0 {
		t.Error("StopAll should cancel loop playback")
	}
}

func TestSwitchingLoopsKeepsRepeat(t *testing.T) {
	e, clk := newTestEngine(t, Options{})
	first := recordAB(t, e, clk)
	second := recordAB(t, e, clk)

	e.ToggleRepeat()
	e.PlayLoop(first.ID)
	clk.Advance(0)
	if err := e.PlayLoop(second.ID); err != nil {
		t.Fatal(err)
	}
	id, _ := e.CurrentLoop()
	if id != second.ID || !e.Repeat() {
		t.Errorf("After switch: loop=%s repeat=%v", id, e.Repeat())
	}
	// Only the second session's timers remain
	if n := clk.pending(); n != 3 {
		t.Errorf("Pending timers = %d, want 3", n)
	}
}

func TestPlayUnknownLoop(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	if err := e.PlayLoop("missing"); !errors.Is(err, ErrUnknownLoop) {
		t.Errorf("PlayLoop error = %v, want ErrUnknownLoop", err)
	}
}

func TestToggleRepeatRestartPolicy(t *testing.T) {
	e, clk := newTestEngine(t, Options{RepeatPolicy: RepeatRestart})
	loop := recordAB(t, e, clk)
	base := e.Voices().Created()

	e.PlayLoop(loop.ID)
	clk.Advance(600 * time.Millisecond)
	e.ToggleRepeat()
	if p := e.Progress(); p != 0 {
		t.Errorf("Progress after restart = %v, want 0", p)
	}
	clk.Advance(0)
	if got := e.Voices().Created() - base; got != 3 {
		t.Errorf("Triggers after restart = %d, want 3", got)
	}
	e.StopLoop()
}

func TestToggleRepeatFinishPolicy(t *testing.T) {
	e, clk := newTestEngine(t, Options{RepeatPolicy: RepeatFinish})
	loop := recordAB(t, e, clk)
	base := e.Voices().Created()

	e.PlayLoop(loop.ID)
	clk.Advance(600 * time.Millisecond)
	e.ToggleRepeat()
	clk.Advance(0)
	if got := e.Voices().Created() - base; got != 2 {
		t.Errorf("Triggers after enabling repeat = %d, want 2", got)
	}
	clk.Advance(900 * time.Millisecond)
	if got := e.Voices().Created() - base; got != 3 {
		t.Errorf("Triggers after cycle end = %d, want 3", got)
	}
	if _, playing := e.CurrentLoop(); !playing {
		t.Error("Loop should keep repeating")
	}
	e.StopLoop()
}

func TestProgress(t *testing.T) {
	e, clk := newTestEngine(t, Options{})
	loop := recordAB(t, e, clk)
	if e.Progress() != 0 {
		t.Error("Progress should be zero when idle")
	}

	e.ToggleRepeat()
	e.PlayLoop(loop.ID)
	clk.Advance(750 * time.Millisecond)
	if p := e.Progress(); p != 0.5 {
		t.Errorf("Progress = %v, want 0.5", p)
	}
	clk.Advance(1125 * time.Millisecond)
	if p := e.Progress(); p != 0.25 {
		t.Errorf("Progress in second cycle = %v, want 0.25", p)
	}
	s := e.Snapshot().Playback
	if s.LoopID != loop.ID || !s.Repeat || s.Policy != "restart" {
		t.Errorf("Playback state = %+v", s)
	}
	e.StopLoop()
}

func TestParseRepeatPolicy(t *testing.T) {
	tests := map[string]RepeatPolicy{
		"finish":  RepeatFinish,
		" FINISH": RepeatFinish,
		"restart": RepeatRestart,
		"":        RepeatRestart,
		"bogus":   RepeatRestart,
	}
	for in, want := range tests {
		if got := ParseRepeatPolicy(in); got != want {
			t.Errorf("ParseRepeatPolicy(%q) = %v, want %v", in, got, want)
		}
	}
}
