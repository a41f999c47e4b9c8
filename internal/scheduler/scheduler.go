// Package scheduler decides when the pipeline produces a frame: per display
// refresh while visible, via a coarser polling timer while backgrounded, or
// against a deterministic virtual clock during offline conversion.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrInvalidFPS is returned when a frame rate is zero or negative.
var ErrInvalidFPS = errors.New("frame rate must be positive")

const (
	// defaultRefresh approximates one tick per display refresh.
	defaultRefresh = time.Second / 60

	// fallbackPoll is the polling grain while backgrounded. The elapsed-time
	// gate keeps the produced frame rate unaffected by the coarser grain.
	fallbackPoll = 16 * time.Millisecond
)

// TickFunc produces one frame.
type TickFunc func(now time.Time)

// Scheduler is an explicit two-state (Active/Backgrounded) frame driver.
// Ticks fire per driver interval; a frame is produced only when at least one
// frame period has elapsed since the last produced frame, decoupling ticks
// invoked from frames produced.
type Scheduler struct {
	frameInterval time.Duration
	refresh       time.Duration
	tick          TickFunc
	bound         func() bool

	mu      sync.Mutex
	running bool
	visible bool
	last    time.Time
	stop    chan struct{}
	done    chan struct{}
}

// New creates a scheduler producing frames at fps, which must be positive.
// bound reports whether a source is currently attached; while backgrounded
// the fallback driver runs only if bound() was true at the visibility
// transition.
func New(fps int, tick TickFunc, bound func() bool) (*Scheduler, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidFPS, fps)
	}
	if bound == nil {
		bound = func() bool { return true }
	}
	return &Scheduler{
		frameInterval: time.Second / time.Duration(fps),
		refresh:       defaultRefresh,
		tick:          tick,
		bound:         bound,
		visible:       true,
	}, nil
}

// Start begins display-driven scheduling. Returns immediately; ticking stops
// when Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.last = time.Time{}
	s.startDriverLocked(ctx, s.currentIntervalLocked())

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop halts the active driver. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.stopDriverLocked()
}

// SetVisible switches between the display driver and the backgrounded
// fallback. Transitions are idempotent and seamless: the elapsed-time gate
// is shared across drivers, so no frame is duplicated or skipped at the
// switch.
func (s *Scheduler) SetVisible(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visible == visible {
		return
	}
	s.visible = visible
	if !s.running {
		return
	}

	s.stopDriverLocked()
	// The lock was released while waiting out the old driver; re-read state
	// instead of trusting the argument, and leave any driver a concurrent
	// transition started in place.
	if !s.running || s.stop != nil {
		return
	}
	if !s.visible && !s.bound() {
		// Nothing to drive while hidden without a source; the display driver
		// resumes on the next SetVisible(true).
		slog.Debug("backgrounded with no source bound, fallback driver not started")
		return
	}
	s.startDriverLocked(context.Background(), s.currentIntervalLocked())
}

func (s *Scheduler) currentIntervalLocked() time.Duration {
	if s.visible {
		return s.refresh
	}
	return fallbackPoll
}

func (s *Scheduler) startDriverLocked(ctx context.Context, interval time.Duration) {
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop = stop
	s.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if s.gate(now) {
					s.tick(now)
				}
			}
		}
	}()
}

func (s *Scheduler) stopDriverLocked() {
	if s.stop == nil {
		return
	}
	// Swap the channels out before releasing the lock: a concurrent
	// transition entering while we wait for the driver to exit must not see
	// the already-closed channel, nor wipe a driver it started itself.
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	close(stop)
	s.mu.Unlock()
	<-done
	s.mu.Lock()
}

// gate applies the elapsed-time check shared by both drivers.
func (s *Scheduler) gate(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.last.IsZero() && now.Sub(s.last) < s.frameInterval {
		return false
	}
	s.last = now
	return true
}

// RunVirtual drives fn for totalFrames iterations against a virtual clock:
// frame i is due at i x (1s/fps) after the start, and the loop sleeps off
// any lead over real elapsed time, resynchronizing drift against real audio
// playback while keeping per-frame content deterministic. Cancellation is
// checked at the top of every iteration; frames run in strictly increasing
// index order.
func RunVirtual(ctx context.Context, totalFrames, fps int, fn func(frameIndex int) error) error {
	if fps <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidFPS, fps)
	}
	frameDur := time.Second / time.Duration(fps)
	start := time.Now()

	for i := 0; i < totalFrames; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(i); err != nil {
			return err
		}

		target := time.Duration(i+1) * frameDur
		if wait := target - time.Since(start); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil
}
