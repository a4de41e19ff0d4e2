package engine

import (
	"encoding/json"
	"time"
)

// RecordedEvent is one captured trigger, offset from the recording start.
type RecordedEvent struct {
	PadID  string
	Offset time.Duration
}

type recordedEventJSON struct {
	PadID        string `json:"padId"`
	OffsetMillis int64  `json:"offsetMillis"`
}

func (e RecordedEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordedEventJSON{PadID: e.PadID, OffsetMillis: e.Offset.Milliseconds()})
}

func (e *RecordedEvent) UnmarshalJSON(data []byte) error {
	var raw recordedEventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.PadID = raw.PadID
	e.Offset = time.Duration(raw.OffsetMillis) * time.Millisecond
	return nil
}

// Recorder captures trigger offsets between Start and Stop.
type Recorder struct {
	recording bool
	origin    time.Time
	events    []RecordedEvent
}

// Start begins a recording at now, discarding anything captured before.
func (r *Recorder) Start(now time.Time) {
	r.recording = true
	r.origin = now
	r.events = nil
}

// Recording reports whether a recording is in progress.
func (r *Recorder) Recording() bool { return r.recording }

// Count returns the number of events captured so far.
func (r *Recorder) Count() int { return len(r.events) }

// Append captures a trigger. Offsets never decrease: ties and clock jitter
// keep call order.
func (r *Recorder) Append(padID string, now time.Time) {
	if !r.recording {
		return
	}
	off := now.Sub(r.origin)
	if off < 0 {
		off = 0
	}
	if n := len(r.events); n > 0 && off < r.events[n-1].Offset {
		off = r.events[n-1].Offset
	}
	r.events = append(r.events, RecordedEvent{PadID: padID, Offset: off})
}

// Stop ends the recording and returns the captured events.
func (r *Recorder) Stop() []RecordedEvent {
	events := r.events
	r.recording = false
	r.events = nil
	return events
}
