package analyzer

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/cmplx"
	"sync"

	"github.com/noriah/catnip/dsp/window"
	"github.com/noriah/catnip/fft"

	"github.com/audiolibrelab/wavescope/internal/source"
)

const (
	minFFTSize = 32
	maxFFTSize = 32768

	// silenceLevel is the time-domain byte value for a zero sample.
	silenceLevel = 128

	// dbFloor/dbCeil bound the decibel range mapped onto [0,255].
	dbFloor = -100.0
	dbCeil  = 0.0

	// magnitudeFloor avoids log of zero for silent bins.
	magnitudeFloor = 1e-5
)

var (
	// ErrInvalidFFTSize is returned when the analysis window size is not a
	// power of two in [32, 32768].
	ErrInvalidFFTSize = errors.New("fft size must be a power of two in [32, 32768]")

	// ErrDestroyed is returned when binding a source to a destroyed analyzer.
	ErrDestroyed = errors.New("analyzer has been destroyed")
)

// Frame is one analysis window: unsigned-byte time-domain samples (128 =
// silence) and frequency bins scaled from [-100dB, 0dB] onto [0, 255].
// The backing arrays are reused on the next read; consumers must copy if
// they retain a frame across ticks.
type Frame struct {
	TimeDomain  []byte
	Frequency   []byte
	TimestampMs float64
	Width       int
	Height      int
	SampleRate  int
	WindowSize  int
}

// Analyzer derives per-frame time and frequency representations from either
// a bound live stream or an offline sample buffer. At most one live source
// binding is active at a time.
type Analyzer struct {
	fftSize int

	mu         sync.Mutex
	timeDomain []byte
	frequency  []byte
	ring       []float32
	sampleRate int

	origin     source.Stream
	stop       chan struct{}
	sourceDone chan error

	plan      *fft.Plan
	fftIn     []float64
	fftOut    []complex128
	destroyed bool
}

// New creates an analyzer. fftSize must be a power of two in [32, 32768];
// any other value is a hard precondition failure.
func New(fftSize int) (*Analyzer, error) {
	if fftSize < minFFTSize || fftSize > maxFFTSize || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidFFTSize, fftSize)
	}

	a := &Analyzer{
		fftSize:    fftSize,
		timeDomain: make([]byte, fftSize),
		frequency:  make([]byte, fftSize/2),
		ring:       make([]float32, fftSize),
		fftIn:  make([]float64, fftSize),
		fftOut: make([]complex128, fftSize/2+1),
	}
	fft.InitPlan(&a.plan, a.fftIn, a.fftOut)
	a.silenceLocked()
	return a, nil
}

// FFTSize returns the analysis window size.
func (a *Analyzer) FFTSize() int { return a.fftSize }

// ConnectLive binds a continuously updating origin. Any previous binding is
// torn down first, and buffers are silenced before the first real read.
func (a *Analyzer) ConnectLive(origin source.Stream) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return ErrDestroyed
	}
	if err := origin.Err(); err != nil {
		return fmt.Errorf("cannot bind failed origin: %w", err)
	}

	a.unbindLocked()
	a.silenceLocked()

	a.origin = origin
	a.sampleRate = origin.SampleRate()
	a.sourceDone = make(chan error, 1)
	a.stop = make(chan struct{})
	go a.consume(origin, a.stop, a.sourceDone)

	slog.Debug("live source bound", "rate", a.sampleRate, "window", a.fftSize)
	return nil
}

// SourceDone reports termination of the currently bound origin: it receives
// the origin's terminal error (nil for a clean end) once its sample channel
// closes. The channel is closed without a value when the binding is replaced
// or torn down, so watchers of a superseded binding do not linger.
func (a *Analyzer) SourceDone() <-chan error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sourceDone
}

// consume owns done: it is closed on every exit so no watcher outlives the
// binding.
func (a *Analyzer) consume(origin source.Stream, stop chan struct{}, done chan error) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case chunk, ok := <-origin.Samples():
			if !ok {
				done <- origin.Err()
				return
			}
			a.push(chunk)
		}
	}
}

// push slides chunk into the analysis ring, keeping the latest fftSize
// samples.
func (a *Analyzer) push(chunk []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(chunk) >= len(a.ring) {
		copy(a.ring, chunk[len(chunk)-len(a.ring):])
		return
	}

	keep := len(a.ring) - len(chunk)
	copy(a.ring, a.ring[len(chunk):])
	copy(a.ring[keep:], chunk)
}

// ReadFrame returns the current analysis window. With no source bound it
// returns a frame full of silence values rather than erroring, so renderers
// keep drawing through source changes.
func (a *Analyzer) ReadFrame() *Frame {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.origin == nil || a.destroyed {
		a.silenceLocked()
		return a.frameLocked()
	}

	for i, s := range a.ring {
		a.timeDomain[i] = levelByte(s)
		a.fftIn[i] = float64(s)
	}
	window.CosSum(0.25)(a.fftIn)
	a.plan.Execute()

	norm := 2.0 / float64(a.fftSize)
	for k := 0; k < a.fftSize/2; k++ {
		mag := cmplx.Abs(a.fftOut[k]) * norm
		a.frequency[k] = dbByte(20 * math.Log10(math.Max(mag, magnitudeFloor)))
	}

	return a.frameLocked()
}

func (a *Analyzer) frameLocked() *Frame {
	return &Frame{
		TimeDomain: a.timeDomain,
		Frequency:  a.frequency,
		SampleRate: a.sampleRate,
		WindowSize: a.fftSize,
	}
}

// Disconnect unbinds the live source and wipes buffers to silence. The
// origin itself is left open; its lifetime belongs to the caller.
// Safe to call repeatedly.
func (a *Analyzer) Disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unbindLocked()
	a.silenceLocked()
}

// Destroy releases analysis resources exactly once. Safe to call repeatedly.
func (a *Analyzer) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return
	}
	a.unbindLocked()
	a.silenceLocked()
	a.destroyed = true
}

func (a *Analyzer) unbindLocked() {
	if a.origin == nil {
		return
	}
	close(a.stop)
	a.origin = nil
	a.stop = nil
}

func (a *Analyzer) silenceLocked() {
	for i := range a.timeDomain {
		a.timeDomain[i] = silenceLevel
	}
	for i := range a.frequency {
		a.frequency[i] = 0
	}
	for i := range a.ring {
		a.ring[i] = 0
	}
}

// levelByte maps a [-1,1] sample onto [0,255] with 128 as silence.
func levelByte(s float32) byte {
	v := math.Round((float64(s) + 1) * 127.5)
	if v < 0 {
		v = 0
	} else if v > 255 {
		v = 255
	}
	return byte(v)
}

// dbByte linearly rescales [-100dB, 0dB] onto [0,255], clamped.
func dbByte(db float64) byte {
	v := math.Round((db - dbFloor) / (dbCeil - dbFloor) * 255)
	if v < 0 {
		v = 0
	} else if v > 255 {
		v = 255
	}
	return byte(v)
}
