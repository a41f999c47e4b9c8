package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/wavescope/internal/analyzer"
	"github.com/audiolibrelab/wavescope/internal/render"
	"github.com/audiolibrelab/wavescope/internal/scheduler"
	"github.com/audiolibrelab/wavescope/internal/sink"
	"github.com/audiolibrelab/wavescope/internal/source"
)

// Mirror forwards per-frame analysis data and renderer changes to a
// secondary presentation surface. Implementations must never block; delivery
// is best-effort.
type Mirror interface {
	TrySend(f *analyzer.Frame)
	TryOptions(renderer string, opts render.Options)
}

// Session is the long-lived interactive variant of the pipeline: driven by
// microphone input or user-controlled playback, scheduled per display
// refresh while visible, and able to record repeatedly without reconnecting
// its source.
type Session struct {
	FPS      int
	Format   string
	Analyzer *analyzer.Analyzer
	Renderer render.Renderer
	Options  render.Options
	Surface  *render.Surface
	Sink     *sink.Session
	Mirror   Mirror

	mu        sync.Mutex
	sched     *scheduler.Scheduler
	origin    source.Stream
	tee       *source.Tee
	recBranch source.Stream
	startTime time.Time
	err       error
	started   bool
	closed    bool
}

// Start initializes the renderer and begins display-driven scheduling. The
// renderer is fully initialized before the first tick fires.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("session already started")
	}
	if s.closed {
		return fmt.Errorf("session is closed")
	}

	sched, err := scheduler.New(s.FPS, s.tick, s.hasOrigin)
	if err != nil {
		return err
	}
	if err := s.Renderer.Init(s.Surface, s.Options); err != nil {
		return fmt.Errorf("renderer init failed: %w", err)
	}

	s.startTime = time.Now()
	s.sched = sched
	s.sched.Start(ctx)
	s.started = true
	slog.Info("interactive session started", "fps", s.FPS)
	return nil
}

func (s *Session) hasOrigin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.origin != nil
}

// tick produces one frame: read analysis, draw, hand to the sink when
// recording, and mirror best-effort.
func (s *Session) tick(now time.Time) {
	f := s.Analyzer.ReadFrame()
	f.Width = s.Surface.Width()
	f.Height = s.Surface.Height()
	f.TimestampMs = float64(now.Sub(s.startTime)) / float64(time.Millisecond)

	s.Renderer.Draw(s.Surface, f)

	if s.Sink.State() == sink.StateEncoding {
		if err := s.Sink.WriteFrame(s.Surface.Bytes()); err != nil {
			s.fail(fmt.Errorf("frame encode failed: %w", err))
			return
		}
	}

	if s.Mirror != nil {
		s.Mirror.TrySend(f)
	}
}

// Connect binds a live audio origin, replacing any previous binding. The
// origin is fanned out through a tee so analysis and recording each get the
// full sample flow. An asynchronous origin failure cancels any in-flight
// capture and surfaces one terminal error via Err.
func (s *Session) Connect(origin source.Stream) error {
	tee := source.NewTee(origin)
	if err := s.Analyzer.ConnectLive(tee.Branch()); err != nil {
		tee.Close()
		return fmt.Errorf("%w: %v", ErrSource, err)
	}

	s.mu.Lock()
	if s.tee != nil {
		s.tee.Close()
	}
	s.origin = origin
	s.tee = tee
	s.mu.Unlock()

	done := s.Analyzer.SourceDone()
	go func() {
		err, ok := <-done
		if ok && err != nil {
			s.fail(fmt.Errorf("%w: %v", ErrSource, err))
		}
	}()
	return nil
}

// Disconnect unbinds the current origin; subsequent frames render silence
// until a new origin is connected.
func (s *Session) Disconnect() {
	s.Analyzer.Disconnect()
	s.mu.Lock()
	if s.tee != nil {
		s.tee.Close()
		s.tee = nil
	}
	s.origin = nil
	s.mu.Unlock()
}

// Record starts capturing the rendering surface, plus the bound origin's
// audio if one is present. The audio feed is its own tee branch, so the
// analyzer keeps its full sample flow during capture.
func (s *Session) Record() error {
	s.mu.Lock()
	var audio source.Stream
	if s.tee != nil {
		audio = s.tee.Branch()
	}
	s.mu.Unlock()

	opts := sink.Options{
		Width:  s.Surface.Width(),
		Height: s.Surface.Height(),
		FPS:    s.FPS,
		Format: s.Format,
	}
	if err := s.Sink.Start(opts, audio); err != nil {
		if audio != nil {
			audio.Close()
		}
		return err
	}

	s.mu.Lock()
	s.recBranch = audio
	s.mu.Unlock()
	return nil
}

// closeRecBranch detaches the recording's audio branch, if any.
func (s *Session) closeRecBranch() {
	s.mu.Lock()
	if s.recBranch != nil {
		s.recBranch.Close()
		s.recBranch = nil
	}
	s.mu.Unlock()
}

// Pause and Resume gate frame intake without ending the session.
func (s *Session) Pause() error  { return s.Sink.Pause() }
func (s *Session) Resume() error { return s.Sink.Resume() }

// StopRecording stops the encode session and returns the assembled output.
// The source stays bound so another recording can start immediately.
func (s *Session) StopRecording() (*sink.Output, error) {
	out, err := s.Sink.Stop()
	s.closeRecBranch()
	if err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, ErrEmptyOutput
	}
	return out, nil
}

// SetVisible switches the scheduler between display-driven and backgrounded
// fallback operation.
func (s *Session) SetVisible(visible bool) {
	s.mu.Lock()
	sched := s.sched
	s.mu.Unlock()
	if sched != nil {
		sched.SetVisible(visible)
	}
}

// SetRendererOptions applies a partial option update and mirrors it.
func (s *Session) SetRendererOptions(name string, opts render.Options) error {
	if err := s.Renderer.SetOptions(opts); err != nil {
		return err
	}
	if s.Mirror != nil {
		s.Mirror.TryOptions(name, opts)
	}
	return nil
}

// Err returns the session's terminal error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// fail records the first terminal error, cancels any in-flight capture, and
// unbinds the source.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return
	}
	s.err = err
	s.mu.Unlock()

	slog.Error("session failed", "error", err)
	if s.Sink.State() != sink.StateIdle {
		if cancelErr := s.Sink.Cancel(); cancelErr != nil {
			slog.Warn("capture cancel failed", "error", cancelErr)
		}
	}
	s.closeRecBranch()
	s.Disconnect()
}

// Close tears the session down: scheduler stopped, in-flight capture
// cancelled, analyzer and renderer destroyed exactly once. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sched := s.sched
	started := s.started
	s.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}
	if s.Sink.State() != sink.StateIdle {
		if err := s.Sink.Cancel(); err != nil {
			slog.Warn("capture cancel failed during close", "error", err)
		}
	}
	s.closeRecBranch()
	s.mu.Lock()
	if s.tee != nil {
		s.tee.Close()
		s.tee = nil
	}
	s.mu.Unlock()
	s.Analyzer.Destroy()
	if started {
		s.Renderer.Destroy()
	}
	slog.Info("interactive session closed")
}
