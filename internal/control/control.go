// Package control maps external controllers onto engine operations.
package control

import (
	"github.com/satindergrewal/padloop/internal/engine"
)

// Engine is the part of the pad engine a control surface drives.
type Engine interface {
	Trigger(padID string) (engine.VoiceID, error)
	Stop(padID string) error
	StopAll()
	PadAt(index int) (string, bool)
	StartRecording() error
	StopRecording() (engine.RecordingResult, error)
	Loops() []engine.Loop
	PlayLoop(id string) error
	StopLoop()
	ToggleRepeat() bool
}
