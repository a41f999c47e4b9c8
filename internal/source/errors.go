package source

import "errors"

var (
	// ErrUnknownFormat is returned when no decoder is registered for a file
	// extension and the FFmpeg fallback is unavailable.
	ErrUnknownFormat = errors.New("unknown audio format")

	// ErrEmptyAudio is returned when a file decodes to zero samples.
	ErrEmptyAudio = errors.New("decoded audio contains no samples")
)
