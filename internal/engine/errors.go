package engine

import "errors"

var (
	ErrUnknownPad     = errors.New("unknown pad")
	ErrUnknownLoop    = errors.New("unknown loop")
	ErrPadEmpty       = errors.New("pad is empty")
	ErrEmptyRecording = errors.New("empty recording")
	ErrPlaying        = errors.New("loop playback in progress")
	ErrRecording      = errors.New("recording in progress")
	ErrInvalid        = errors.New("invalid argument")
)
