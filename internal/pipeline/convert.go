// Package pipeline wires an audio source, the analyzer, a renderer, the
// scheduler, and the encode sink together, for both bounded offline
// conversion jobs and long-lived interactive sessions.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/audiolibrelab/wavescope/internal/analyzer"
	"github.com/audiolibrelab/wavescope/internal/render"
	"github.com/audiolibrelab/wavescope/internal/scheduler"
	"github.com/audiolibrelab/wavescope/internal/sink"
	"github.com/audiolibrelab/wavescope/internal/source"
)

// endWaitMargin pads the wait for natural audio end past the expected
// remaining duration.
const endWaitMargin = 500 * time.Millisecond

// ProgressFunc receives a fractional progress value, invoked at most once
// per produced frame, monotonically non-decreasing, exactly 1.0 on success.
type ProgressFunc func(fraction float64)

// SaveFunc hands assembled output bytes plus a suggested filename to the
// surrounding shell.
type SaveFunc func(data []byte, mime, suggestedName string) error

// Converter is a one-shot offline conversion job factory: it turns complete
// audio files into rendered video without real-time playback constraints.
type Converter struct {
	FPS      int
	Format   string
	Analyzer *analyzer.Analyzer
	Renderer render.Renderer
	Options  render.Options
	Surface  *render.Surface
	Sink     *sink.Session
	Progress ProgressFunc

	mu           sync.Mutex
	lastProgress float64
}

// Convert decodes path entirely, then renders and encodes ceil(duration x
// fps) frames against a virtual clock. Cancellation via ctx is checked at
// every frame boundary and yields ErrCancelled; an encoder that produced
// zero bytes yields ErrEmptyOutput.
func (c *Converter) Convert(ctx context.Context, path string) (*sink.Output, error) {
	buf, err := source.DecodeFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSource, err)
	}

	duration := buf.Duration()
	totalFrames := int(math.Ceil(duration.Seconds() * float64(c.FPS)))
	if totalFrames <= 0 {
		return nil, fmt.Errorf("%w: zero-length audio", ErrSource)
	}
	// Frame count is fixed here and never recomputed mid-run.

	slog.Info("starting conversion", "input", path, "duration", duration,
		"fps", c.FPS, "frames", totalFrames)

	if err := c.Renderer.Init(c.Surface, c.Options); err != nil {
		return nil, fmt.Errorf("renderer init failed: %w", err)
	}
	defer c.Renderer.Destroy()

	c.mu.Lock()
	c.lastProgress = 0
	c.mu.Unlock()

	// Draw frame zero before capture starts so the first observed frame is
	// never blank.
	c.drawFrame(buf, 0)

	// Real audio must flow while frames are produced for the muxed tracks to
	// compose; the replay releases the decoded samples at playback rate.
	feed := source.NewReplay(buf)
	defer feed.Close()

	opts := sink.Options{
		Width:     c.Surface.Width(),
		Height:    c.Surface.Height(),
		FPS:       c.FPS,
		AudioRate: buf.SampleRate,
		Format:    c.Format,
	}
	if err := c.Sink.Start(opts, feed); err != nil {
		return nil, fmt.Errorf("failed to start encode session: %w", err)
	}

	loopStart := time.Now()
	err = scheduler.RunVirtual(ctx, totalFrames, c.FPS, func(i int) error {
		start := i * buf.SampleRate / c.FPS
		c.drawFrame(buf, start)
		if err := c.Sink.WriteFrame(c.Surface.Bytes()); err != nil {
			return fmt.Errorf("frame encode failed: %w", err)
		}
		c.report(float64(i+1) / float64(totalFrames))
		return nil
	})
	if err != nil {
		if cancelErr := c.Sink.Cancel(); cancelErr != nil {
			slog.Warn("encode session cancel failed", "error", cancelErr)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			slog.Info("conversion cancelled", "input", path)
			return nil, ErrCancelled
		}
		return nil, err
	}

	// Let the audio feed reach its natural end before stopping, or the tail
	// of the track is truncated. Bounded by the expected remaining duration.
	remaining := duration - time.Since(loopStart)
	if remaining < 0 {
		remaining = 0
	}
	select {
	case <-feed.Done():
	case <-time.After(remaining + endWaitMargin):
		slog.Warn("audio feed did not finish in time, stopping anyway")
	case <-ctx.Done():
		if cancelErr := c.Sink.Cancel(); cancelErr != nil {
			slog.Warn("encode session cancel failed", "error", cancelErr)
		}
		return nil, ErrCancelled
	}

	out, err := c.Sink.Stop()
	if err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, ErrEmptyOutput
	}

	slog.Info("conversion finished", "input", path, "bytes", len(out.Data), "mime", out.MIME)
	return out, nil
}

func (c *Converter) drawFrame(buf *source.Buffer, start int) {
	f := c.Analyzer.AnalyzeOffline(buf.Samples, start, buf.SampleRate)
	f.Width = c.Surface.Width()
	f.Height = c.Surface.Height()
	f.TimestampMs = float64(start) / float64(buf.SampleRate) * 1000
	c.Renderer.Draw(c.Surface, f)
}

// report enforces monotonically non-decreasing progress.
func (c *Converter) report(fraction float64) {
	if c.Progress == nil {
		return
	}
	c.mu.Lock()
	if fraction < c.lastProgress {
		fraction = c.lastProgress
	}
	c.lastProgress = fraction
	c.mu.Unlock()
	c.Progress(fraction)
}
