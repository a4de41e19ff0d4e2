package control

import (
	"fmt"
	"log"
	"strings"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver
)

// MIDIInput triggers pads from note-on messages. Note base plays the first
// pad, base+1 the second, and so on across the grid.
type MIDIInput struct {
	engine Engine
	base   uint8
	port   drivers.In
	stop   func()
}

// NewMIDIInput creates a MIDI input mapping notes from base upwards.
func NewMIDIInput(e Engine, base int) *MIDIInput {
	if base < 0 || base > 127 {
		base = 36
	}
	return &MIDIInput{engine: e, base: uint8(base)}
}

// Open listens on the first input port whose name contains name.
func (in *MIDIInput) Open(name string) error {
	var port drivers.In
	for _, p := range gomidi.GetInPorts() {
		if strings.Contains(strings.ToLower(p.String()), strings.ToLower(name)) {
			port = p
			break
		}
	}
	if port == nil {
		return fmt.Errorf("no MIDI input matching %q", name)
	}

	stop, err := gomidi.ListenTo(port, func(msg gomidi.Message, timestampms int32) {
		var channel, note, velocity uint8
		if msg.GetNoteOn(&channel, &note, &velocity) {
			in.handleNote(note, velocity)
		}
	})
	if err != nil {
		return fmt.Errorf("open MIDI input %s: %w", port, err)
	}
	in.port = port
	in.stop = stop
	log.Printf("MIDI input on %s (note %d = first pad)", port, in.base)
	return nil
}

// handleNote triggers the pad mapped to note. Note-on with zero velocity is
// a note-off and pads are one-shots, so it is ignored.
func (in *MIDIInput) handleNote(note, velocity uint8) {
	if velocity == 0 || note < in.base {
		return
	}
	padID, ok := in.engine.PadAt(int(note - in.base))
	if !ok {
		return
	}
	if _, err := in.engine.Trigger(padID); err != nil {
		log.Printf("MIDI note %d: %v", note, err)
	}
}

// Close stops listening.
func (in *MIDIInput) Close() error {
	if in.stop != nil {
		in.stop()
		in.stop = nil
	}
	return nil
}
