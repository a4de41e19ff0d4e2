package engine

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Loop is a saved, named, replayable sequence of timed pad triggers.
type Loop struct {
	ID        string
	Name      string
	Events    []RecordedEvent
	Duration  time.Duration
	CreatedAt time.Time
}

type loopJSON struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Events         []RecordedEvent `json:"events"`
	DurationMillis int64           `json:"durationMillis"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func (l Loop) MarshalJSON() ([]byte, error) {
	events := l.Events
	if events == nil {
		events = []RecordedEvent{}
	}
	return json.Marshal(loopJSON{
		ID:             l.ID,
		Name:           l.Name,
		Events:         events,
		DurationMillis: l.Duration.Milliseconds(),
		CreatedAt:      l.CreatedAt,
	})
}

func (l *Loop) UnmarshalJSON(data []byte) error {
	var raw loopJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = Loop{
		ID:        raw.ID,
		Name:      raw.Name,
		Events:    raw.Events,
		Duration:  time.Duration(raw.DurationMillis) * time.Millisecond,
		CreatedAt: raw.CreatedAt,
	}
	return nil
}

func (l *Loop) clone() Loop {
	c := *l
	c.Events = append([]RecordedEvent(nil), l.Events...)
	return c
}

// padIDs returns the distinct pads the loop triggers, in first-use order.
func (l *Loop) padIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, ev := range l.Events {
		if !seen[ev.PadID] {
			seen[ev.PadID] = true
			ids = append(ids, ev.PadID)
		}
	}
	return ids
}

// repair restores the loop invariants after loading from disk: an id, a
// name, offsets that never go backwards, and a duration that covers the
// last event. It reports whether anything changed.
func (l *Loop) repair(trailing time.Duration) bool {
	changed := false
	if l.ID == "" {
		l.ID = uuid.NewString()
		changed = true
	}
	if strings.TrimSpace(l.Name) == "" {
		l.Name = "Untitled"
		changed = true
	}
	var prev time.Duration
	for i := range l.Events {
		if l.Events[i].Offset < prev {
			l.Events[i].Offset = prev
			changed = true
		}
		prev = l.Events[i].Offset
	}
	if l.Duration <= 0 || l.Duration < prev {
		l.Duration = prev + trailing
		changed = true
	}
	return changed
}

// loopNumber extracts N from a default "Loop N" name.
func loopNumber(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "Loop ")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
