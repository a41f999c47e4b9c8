package source

import (
	"sync"

	"github.com/gopxl/beep/v2"
)

// Tap wraps a beep streamer and mirrors its samples into a live Stream, so a
// playing track can drive the analyzer while normal playback continues
// unchanged.
type Tap struct {
	s          beep.Streamer
	sampleRate int
	out        chan []float32

	mu     sync.Mutex
	closed bool
}

// NewTap creates a tap over an existing streamer. The wrapped streamer keeps
// its behavior; every streamed block is also mixed to mono and forwarded to
// Samples.
func NewTap(s beep.Streamer, sampleRate int) *Tap {
	return &Tap{
		s:          s,
		sampleRate: sampleRate,
		out:        make(chan []float32, 16),
	}
}

// Stream implements beep.Streamer, passing through to the wrapped streamer.
func (t *Tap) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = t.s.Stream(samples)
	if n == 0 || !ok {
		if !ok {
			t.closeOut()
		}
		return n, ok
	}

	mono := make([]float32, n)
	for i := 0; i < n; i++ {
		mono[i] = float32((samples[i][0] + samples[i][1]) / 2)
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return n, ok
	}

	select {
	case t.out <- mono:
	default:
		// Visualization lagging behind playback; drop rather than glitch audio.
	}
	return n, ok
}

func (t *Tap) closeOut() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.out)
	}
}

func (t *Tap) Samples() <-chan []float32 { return t.out }

func (t *Tap) SampleRate() int { return t.sampleRate }

func (t *Tap) Err() error { return t.s.Err() }

// Close stops forwarding. The wrapped streamer is left untouched; its
// lifetime belongs to the playback engine.
func (t *Tap) Close() error {
	t.closeOut()
	return nil
}

// BufferStreamer adapts a fully decoded buffer to a beep streamer,
// duplicating the mono samples onto both playback channels. Wrap it in a Tap
// to drive analysis from the playing audio.
func BufferStreamer(buf *Buffer) beep.Streamer {
	return &bufferStreamer{samples: buf.Samples}
}

type bufferStreamer struct {
	samples []float32
	pos     int
}

func (b *bufferStreamer) Stream(out [][2]float64) (n int, ok bool) {
	if b.pos >= len(b.samples) {
		return 0, false
	}
	for n < len(out) && b.pos < len(b.samples) {
		v := float64(b.samples[b.pos])
		out[n][0], out[n][1] = v, v
		n++
		b.pos++
	}
	return n, true
}

func (b *bufferStreamer) Err() error { return nil }
