package engine

import (
	"fmt"
	"log"
	"strings"
	"time"
)

// RepeatPolicy decides what enabling repeat does to a loop that is
// already playing.
type RepeatPolicy int

const (
	// RepeatRestart reschedules the loop from offset zero.
	RepeatRestart RepeatPolicy = iota
	// RepeatFinish lets the current cycle run; the flag is read at its end.
	RepeatFinish
)

// ParseRepeatPolicy maps "restart" and "finish"; anything else is restart.
func ParseRepeatPolicy(s string) RepeatPolicy {
	if strings.EqualFold(strings.TrimSpace(s), "finish") {
		return RepeatFinish
	}
	return RepeatRestart
}

func (p RepeatPolicy) String() string {
	if p == RepeatFinish {
		return "finish"
	}
	return "restart"
}

// session is one playback of a loop. Its timers are the pending event
// triggers of the current cycle plus the cycle-end timer.
type session struct {
	loop       *Loop
	cycle      int
	cycleStart time.Time
	timers     []Timer
}

func (s *session) cancel() {
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}

type player struct {
	policy RepeatPolicy
	repeat bool
	sess   *session
}

func (p *player) playing() bool { return p.sess != nil }

// PlayLoop replays a saved loop through the ordinary trigger path. Any
// loop already playing is stopped first; the repeat flag carries over.
func (e *Engine) PlayLoop(id string) error {
	e.mu.Lock()
	if e.rec.Recording() {
		e.mu.Unlock()
		return fmt.Errorf("play loop: %w", ErrRecording)
	}
	i := e.loopIndex(id)
	if i < 0 {
		e.mu.Unlock()
		log.Printf("Play: unknown loop %q", id)
		return fmt.Errorf("loop %s: %w", id, ErrUnknownLoop)
	}

	if e.player.sess != nil {
		repeat := e.player.repeat
		e.stopPlaybackLocked()
		e.player.repeat = repeat
	}

	loop := e.loops[i]
	if loop.Duration <= 0 || len(loop.Events) == 0 {
		e.mu.Unlock()
		return fmt.Errorf("loop %s has no playable length: %w", id, ErrInvalid)
	}
	sess := &session{loop: loop}
	e.player.sess = sess
	e.scheduleCycleLocked(sess)
	e.mu.Unlock()

	log.Printf("Playing %s (%d events, %v, repeat=%v)", loop.Name, len(loop.Events), loop.Duration, e.Repeat())
	e.notify()
	return nil
}

// scheduleCycleLocked arms one timer per event and one for the cycle end.
// Callbacks carry the session and cycle so a timer that fired while it
// was being cancelled does nothing.
func (e *Engine) scheduleCycleLocked(sess *session) {
	sess.cancel()
	sess.cycle++
	sess.cycleStart = e.clock.Now()
	cycle := sess.cycle

	for _, ev := range sess.loop.Events {
		padID := ev.PadID
		t := e.clock.AfterFunc(ev.Offset, func() { e.fireEvent(sess, cycle, padID) })
		sess.timers = append(sess.timers, t)
	}
	end := e.clock.AfterFunc(sess.loop.Duration, func() { e.cycleEnd(sess, cycle) })
	sess.timers = append(sess.timers, end)
}

func (e *Engine) current(sess *session, cycle int) bool {
	return e.player.sess == sess && sess.cycle == cycle
}

func (e *Engine) fireEvent(sess *session, cycle int, padID string) {
	e.mu.Lock()
	if !e.current(sess, cycle) {
		e.mu.Unlock()
		return
	}
	_, err := e.triggerLocked(padID, false)
	e.mu.Unlock()

	if err != nil {
		log.Printf("Loop %s: %v", sess.loop.Name, err)
		return
	}
	e.notify()
}

func (e *Engine) cycleEnd(sess *session, cycle int) {
	e.mu.Lock()
	if !e.current(sess, cycle) {
		e.mu.Unlock()
		return
	}
	if e.player.repeat {
		e.scheduleCycleLocked(sess)
	} else {
		sess.timers = nil
		e.player.sess = nil
		log.Printf("Loop %s finished", sess.loop.Name)
	}
	e.mu.Unlock()
	e.notify()
}

// StopLoop cancels pending triggers, stops the voices of every pad the
// loop references and clears the repeat flag. Voices started by hand on
// those pads during playback are stopped too.
func (e *Engine) StopLoop() {
	e.mu.Lock()
	e.stopPlaybackLocked()
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) stopPlaybackLocked() {
	e.player.repeat = false
	sess := e.player.sess
	if sess == nil {
		return
	}
	sess.cancel()
	for _, padID := range sess.loop.padIDs() {
		e.voices.StopPad(padID)
		if p, ok := e.byID[padID]; ok {
			p.voice = NoVoice
		}
	}
	e.player.sess = nil
	log.Printf("Loop %s stopped", sess.loop.Name)
}

// ToggleRepeat flips the repeat flag and returns the new value. Enabling
// it mid-playback restarts the cycle under RepeatRestart. Disabling it
// lets the current cycle finish.
func (e *Engine) ToggleRepeat() bool {
	e.mu.Lock()
	e.player.repeat = !e.player.repeat
	repeat := e.player.repeat
	if repeat && e.player.sess != nil && e.player.policy == RepeatRestart {
		e.scheduleCycleLocked(e.player.sess)
	}
	e.mu.Unlock()
	e.notify()
	return repeat
}

// Repeat returns the repeat flag.
func (e *Engine) Repeat() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.player.repeat
}

// CurrentLoop returns the id of the playing loop, if any.
func (e *Engine) CurrentLoop() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.player.sess == nil {
		return "", false
	}
	return e.player.sess.loop.ID, true
}

// Progress returns how far the current cycle is, as a fraction in [0, 1).
// It is zero when nothing plays.
func (e *Engine) Progress() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progressLocked()
}

func (e *Engine) progressLocked() float64 {
	sess := e.player.sess
	if sess == nil || sess.loop.Duration <= 0 {
		return 0
	}
	elapsed := e.clock.Now().Sub(sess.cycleStart)
	if elapsed < 0 {
		return 0
	}
	return float64(elapsed%sess.loop.Duration) / float64(sess.loop.Duration)
}
