package source

import (
	"time"
)

// Buffer holds a fully decoded audio clip, mixed down to mono float32
// samples in [-1, 1].
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// Stream is a live, continuously updating audio origin such as a microphone
// capture or a tapped playback. Samples are delivered as mono float32 chunks
// in [-1, 1]. The channel is closed when the origin ends; Err reports why.
type Stream interface {
	// Samples returns the channel of incoming sample chunks.
	Samples() <-chan []float32

	// SampleRate of the stream in Hz.
	SampleRate() int

	// Err returns the terminal error after Samples is closed, or nil for a
	// clean end.
	Err() error

	// Close stops the stream and releases its resources.
	Close() error
}

// downmix averages interleaved multi-channel samples into mono.
func downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}
