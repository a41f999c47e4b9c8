package source

import (
	"sync"
	"time"
)

// replayTick is the pacing grain of a Replay.
const replayTick = 100 * time.Millisecond

// Replay streams a decoded Buffer as if it were playing live: chunks are
// released at real-time rate until the buffer is exhausted. Offline
// conversion uses it to keep real audio flowing into the encode sink while
// the virtual-clock loop renders frames.
type Replay struct {
	buf *Buffer
	out chan []float32

	stop     chan struct{}
	finished chan struct{}

	once sync.Once
}

// NewReplay starts replaying buf at real-time rate.
func NewReplay(buf *Buffer) *Replay {
	r := &Replay{
		buf:      buf,
		out:      make(chan []float32, 4),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Replay) run() {
	defer close(r.out)

	chunk := int(float64(r.buf.SampleRate) * replayTick.Seconds())
	if chunk < 1 {
		chunk = 1
	}

	ticker := time.NewTicker(replayTick)
	defer ticker.Stop()

	for pos := 0; pos < len(r.buf.Samples); pos += chunk {
		end := pos + chunk
		if end > len(r.buf.Samples) {
			end = len(r.buf.Samples)
		}

		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}

		select {
		case r.out <- r.buf.Samples[pos:end]:
		case <-r.stop:
			return
		}
	}

	close(r.finished)
}

// Done is closed once every sample has been released, i.e. natural playback
// end. It never closes if the replay is stopped early.
func (r *Replay) Done() <-chan struct{} { return r.finished }

func (r *Replay) Samples() <-chan []float32 { return r.out }

func (r *Replay) SampleRate() int { return r.buf.SampleRate }

func (r *Replay) Err() error { return nil }

// Close stops the replay. Safe to call more than once.
func (r *Replay) Close() error {
	r.once.Do(func() { close(r.stop) })
	return nil
}
