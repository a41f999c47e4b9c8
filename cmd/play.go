package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/wavescope/internal/analyzer"
	"github.com/audiolibrelab/wavescope/internal/pipeline"
	"github.com/audiolibrelab/wavescope/internal/render"
	"github.com/audiolibrelab/wavescope/internal/sink"
	"github.com/audiolibrelab/wavescope/internal/source"
)

var playRecord bool

var playCmd = &cobra.Command{
	Use:   "play [audio-file]",
	Short: "Play an audio file with a live visualization",
	Long: `Decode the audio file, play it through the speakers, and drive the
visualization from the samples as they play. With --record the playback is
also captured into a video file in the output directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		slog.Info("play command started", "file", path)

		buf, err := source.DecodeFile(path)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", path, err)
		}

		a, err := analyzer.New(cfg.Analysis.FFTSize)
		if err != nil {
			return err
		}

		r, err := render.New(cfg.Renderer.Name)
		if err != nil {
			return err
		}

		session := &pipeline.Session{
			FPS:      cfg.Video.FPS,
			Format:   cfg.Output.Format,
			Analyzer: a,
			Renderer: r,
			Options:  render.Options(cfg.Renderer.Options),
			Surface:  render.NewSurface(cfg.Video.Width, cfg.Video.Height),
			Sink:     sink.New(),
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := session.Start(ctx); err != nil {
			return err
		}
		defer session.Close()

		tap := source.NewTap(source.BufferStreamer(buf), buf.SampleRate)
		if err := session.Connect(tap); err != nil {
			return err
		}

		sr := beep.SampleRate(buf.SampleRate)
		if err := speaker.Init(sr, sr.N(100*time.Millisecond)); err != nil {
			return fmt.Errorf("failed to open audio output: %w", err)
		}
		defer speaker.Close()

		if playRecord {
			if err := session.Record(); err != nil {
				return fmt.Errorf("failed to start recording: %w", err)
			}
		}

		done := make(chan struct{})
		speaker.Play(beep.Seq(tap, beep.Callback(func() { close(done) })))

		slog.Info("playing...", "duration", buf.Duration().Round(time.Second))

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		select {
		case <-done:
			slog.Info("playback finished")
		case <-sigChan:
			slog.Info("playback interrupted")
			speaker.Clear()
			tap.Close()
		}

		if !playRecord {
			return nil
		}
		if err := session.Err(); err != nil {
			return err
		}

		out, err := session.StopRecording()
		if err != nil {
			return fmt.Errorf("failed to stop recording: %w", err)
		}

		ext := ".webm"
		if out.MIME == "video/x-matroska" {
			ext = ".mkv"
		}
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		outPath := filepath.Join(cfg.Output.Directory, cleanFileName(base)+ext)
		if err := saveOutput(out.Data, outPath); err != nil {
			return err
		}

		slog.Info("recording saved", "file", outPath, "bytes", len(out.Data))
		return nil
	},
}

func init() {
	playCmd.Flags().BoolVar(&playRecord, "record", false, "capture the playback as a video file")
}
