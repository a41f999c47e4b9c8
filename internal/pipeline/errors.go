package pipeline

import "errors"

var (
	// ErrCancelled reports that the caller explicitly requested
	// cancellation, distinct from every failure kind.
	ErrCancelled = errors.New("conversion cancelled")

	// ErrEmptyOutput reports that encoding nominally succeeded but produced
	// zero bytes.
	ErrEmptyOutput = errors.New("encoding produced empty output")

	// ErrSource reports a decode or playback failure of the audio origin.
	ErrSource = errors.New("audio source failed")
)
